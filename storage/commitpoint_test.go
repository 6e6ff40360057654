package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tos-network/tosd/storage"
	"github.com/tos-network/tosd/storage/boltsnap"
	"github.com/tos-network/tosd/storage/leveldb"
)

func newTestCommitPoint(t *testing.T) (*leveldb.Engine, *storage.CommitPoint) {
	t.Helper()
	dir, err := os.MkdirTemp("", "tosd-commitpoint-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %+v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	engine, err := leveldb.Open(filepath.Join(dir, "kv"))
	if err != nil {
		t.Fatalf("leveldb.Open: %+v", err)
	}
	t.Cleanup(func() { engine.Close() })

	journal, err := boltsnap.Open(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("boltsnap.Open: %+v", err)
	}
	t.Cleanup(func() { journal.Close() })

	return engine, storage.NewCommitPoint(engine, journal)
}

func TestCommitPointRollbackRestoresPreImage(t *testing.T) {
	engine, cp := newTestCommitPoint(t)
	bucket := []byte("accounts")
	key := []byte("alice")

	if err := engine.SetLastTo(bucket, key, 1, []byte("before")); err != nil {
		t.Fatalf("SetLastTo: %+v", err)
	}

	if err := cp.Start(); err != nil {
		t.Fatalf("Start: %+v", err)
	}
	if err := cp.SetLastTo(bucket, key, 1, []byte("during-reorg")); err != nil {
		t.Fatalf("SetLastTo: %+v", err)
	}

	value, _, err := engine.GetAtMaxTopoheight(bucket, key, 1)
	if err != nil || string(value) != "during-reorg" {
		t.Fatalf("expected during-reorg before rollback, got %s err=%v", value, err)
	}

	if err := cp.End(false); err != nil {
		t.Fatalf("End(false): %+v", err)
	}

	value, _, err = engine.GetAtMaxTopoheight(bucket, key, 1)
	if err != nil || string(value) != "before" {
		t.Fatalf("expected pre-image restored, got %s err=%v", value, err)
	}
}

func TestCommitPointApplyKeepsWrites(t *testing.T) {
	engine, cp := newTestCommitPoint(t)
	bucket := []byte("accounts")
	key := []byte("bob")

	if err := cp.Start(); err != nil {
		t.Fatalf("Start: %+v", err)
	}
	if err := cp.SetLastTo(bucket, key, 1, []byte("new")); err != nil {
		t.Fatalf("SetLastTo: %+v", err)
	}
	if err := cp.End(true); err != nil {
		t.Fatalf("End(true): %+v", err)
	}

	value, _, err := engine.GetAtMaxTopoheight(bucket, key, 1)
	if err != nil || string(value) != "new" {
		t.Fatalf("expected new value kept, got %s err=%v", value, err)
	}
}

func TestCommitPointRollbackUndoesNewKey(t *testing.T) {
	engine, cp := newTestCommitPoint(t)
	bucket := []byte("accounts")
	key := []byte("dana")

	if err := cp.Start(); err != nil {
		t.Fatalf("Start: %+v", err)
	}
	if err := cp.SetLastTo(bucket, key, 1, []byte("only-during-reorg")); err != nil {
		t.Fatalf("SetLastTo: %+v", err)
	}
	if err := cp.End(false); err != nil {
		t.Fatalf("End(false): %+v", err)
	}

	has, err := engine.Has(bucket, key, 1)
	if err != nil {
		t.Fatalf("Has: %+v", err)
	}
	if has {
		t.Fatal("expected key introduced during the rolled-back commit point to be gone")
	}
}
