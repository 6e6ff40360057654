package leveldb_test

import (
	"os"
	"testing"

	"github.com/tos-network/tosd/storage"
	"github.com/tos-network/tosd/storage/leveldb"
)

func openTestEngine(t *testing.T) *leveldb.Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "tosd-storage-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %+v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	engine, err := leveldb.Open(dir)
	if err != nil {
		t.Fatalf("Open: %+v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestGetAtMaxTopoheightResolvesNewestVersionAtOrBelow(t *testing.T) {
	engine := openTestEngine(t)
	bucket := []byte("accounts")
	key := []byte("alice")

	if err := engine.SetLastTo(bucket, key, 10, []byte("v10")); err != nil {
		t.Fatalf("SetLastTo: %+v", err)
	}
	if err := engine.SetLastTo(bucket, key, 20, []byte("v20")); err != nil {
		t.Fatalf("SetLastTo: %+v", err)
	}

	value, foundAt, err := engine.GetAtMaxTopoheight(bucket, key, 15)
	if err != nil {
		t.Fatalf("GetAtMaxTopoheight: %+v", err)
	}
	if string(value) != "v10" || foundAt != 10 {
		t.Fatalf("expected v10@10, got %s@%d", value, foundAt)
	}

	value, foundAt, err = engine.GetAtMaxTopoheight(bucket, key, 25)
	if err != nil {
		t.Fatalf("GetAtMaxTopoheight: %+v", err)
	}
	if string(value) != "v20" || foundAt != 20 {
		t.Fatalf("expected v20@20, got %s@%d", value, foundAt)
	}

	_, _, err = engine.GetAtMaxTopoheight(bucket, key, 5)
	if err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound below the first version, got %v", err)
	}
}

func TestBatchCommitIsAtomic(t *testing.T) {
	engine := openTestEngine(t)
	bucket := []byte("balances")

	batch := engine.NewBatch()
	batch.SetLastTo(bucket, []byte("bob"), 1, []byte("100"))
	batch.SetLastTo(bucket, []byte("carol"), 1, []byte("200"))
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %+v", err)
	}

	value, _, err := engine.GetAtMaxTopoheight(bucket, []byte("bob"), 1)
	if err != nil || string(value) != "100" {
		t.Fatalf("expected bob=100, got %s err=%v", value, err)
	}
	value, _, err = engine.GetAtMaxTopoheight(bucket, []byte("carol"), 1)
	if err != nil || string(value) != "200" {
		t.Fatalf("expected carol=200, got %s err=%v", value, err)
	}
}

func TestIterateYieldsNewestVersionPerKey(t *testing.T) {
	engine := openTestEngine(t)
	bucket := []byte("nonces")

	engine.SetLastTo(bucket, []byte("a"), 1, []byte("1"))
	engine.SetLastTo(bucket, []byte("a"), 5, []byte("2"))
	engine.SetLastTo(bucket, []byte("b"), 3, []byte("7"))

	seen := map[string]string{}
	err := engine.Iterate(bucket, 10, func(key, value []byte) (bool, error) {
		seen[string(key)] = string(value)
		return true, nil
	})
	if err != nil {
		t.Fatalf("Iterate: %+v", err)
	}
	if seen["a"] != "2" || seen["b"] != "7" {
		t.Fatalf("unexpected iteration result: %#v", seen)
	}
}
