package ghostdag_test

import (
	"math/big"
	"testing"

	"github.com/tos-network/tosd/consensus/ghostdag"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/storage"
	"github.com/tos-network/tosd/storage/leveldb"
)

// fakeTopology is a hand-built DAG: callers add edges directly and
// IsAncestorOf walks parent edges, enough to exercise GHOSTDAG's merge-set
// and anticone logic without the full consensus.Store/reachability stack.
type fakeTopology struct {
	parents map[externalapi.DomainHash][]*externalapi.DomainHash
}

func newFakeTopology() *fakeTopology {
	return &fakeTopology{parents: make(map[externalapi.DomainHash][]*externalapi.DomainHash)}
}

func (f *fakeTopology) addBlock(hash *externalapi.DomainHash, parents ...*externalapi.DomainHash) {
	f.parents[*hash] = parents
}

func (f *fakeTopology) Parents(blockHash *externalapi.DomainHash) ([]*externalapi.DomainHash, error) {
	return f.parents[*blockHash], nil
}

func (f *fakeTopology) IsAncestorOf(blockHashA, blockHashB *externalapi.DomainHash) (bool, error) {
	if blockHashA.Equal(blockHashB) {
		return true, nil
	}
	visited := make(map[externalapi.DomainHash]bool)
	var stack []*externalapi.DomainHash
	stack = append(stack, f.parents[*blockHashB]...)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[*current] {
			continue
		}
		visited[*current] = true
		if current.Equal(blockHashA) {
			return true, nil
		}
		stack = append(stack, f.parents[*current]...)
	}
	return false, nil
}

func hash(b byte) *externalapi.DomainHash {
	var h externalapi.DomainHash
	h[0] = b
	return &h
}

func newTestStore(t *testing.T) *ghostdag.Store {
	t.Helper()
	dir := t.TempDir()
	engine, err := leveldb.Open(dir)
	if err != nil {
		t.Fatalf("leveldb.Open: %+v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return ghostdag.NewStore(engine)
}

func stageAndCommit(t *testing.T, engine storage.Engine, store *ghostdag.Store, hash *externalapi.DomainHash, data *ghostdag.BlockData) {
	t.Helper()
	batch := engine.NewBatch()
	store.Stage(batch, hash, data)
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %+v", err)
	}
}

// Builds a diamond: genesis -> {a, b} -> c (c merges both a and b).
func TestGHOSTDAGMergesDiamondParentsAsBlue(t *testing.T) {
	dir := t.TempDir()
	engine, err := leveldb.Open(dir)
	if err != nil {
		t.Fatalf("leveldb.Open: %+v", err)
	}
	defer engine.Close()
	store := ghostdag.NewStore(engine)

	topo := newFakeTopology()
	genesis := hash(0x01)
	a := hash(0x02)
	b := hash(0x03)
	c := hash(0x04)

	topo.addBlock(genesis)
	topo.addBlock(a, genesis)
	topo.addBlock(b, genesis)
	topo.addBlock(c, a, b)

	mgr := ghostdag.New(18, topo, store)

	stageAndCommit(t, engine, store, genesis, ghostdag.GenesisData())

	aData, err := mgr.GHOSTDAG([]*externalapi.DomainHash{genesis})
	if err != nil {
		t.Fatalf("GHOSTDAG(a): %+v", err)
	}
	stageAndCommit(t, engine, store, a, aData)

	bData, err := mgr.GHOSTDAG([]*externalapi.DomainHash{genesis})
	if err != nil {
		t.Fatalf("GHOSTDAG(b): %+v", err)
	}
	stageAndCommit(t, engine, store, b, bData)

	cData, err := mgr.GHOSTDAG([]*externalapi.DomainHash{a, b})
	if err != nil {
		t.Fatalf("GHOSTDAG(c): %+v", err)
	}

	if cData.SelectedParent == nil {
		t.Fatalf("c has no selected parent")
	}
	if !cData.SelectedParent.Equal(a) && !cData.SelectedParent.Equal(b) {
		t.Fatalf("c's selected parent = %s, want a or b", cData.SelectedParent)
	}

	if len(cData.MergeSetBlues) != 1 {
		t.Fatalf("c's blue merge set = %d, want 1 (the non-selected sibling)", len(cData.MergeSetBlues))
	}
	if len(cData.MergeSetReds) != 0 {
		t.Fatalf("c's red merge set = %d, want 0", len(cData.MergeSetReds))
	}
	if cData.BlueScore != 3 {
		t.Fatalf("c's blue score = %d, want 3 (selected parent's 1 + itself + merged sibling)", cData.BlueScore)
	}
}

func TestGHOSTDAGRejectsEmptyParents(t *testing.T) {
	store := newTestStore(t)
	mgr := ghostdag.New(18, newFakeTopology(), store)
	if _, err := mgr.GHOSTDAG(nil); err == nil {
		t.Fatalf("expected error for empty parents")
	}
}

func TestLessBreaksTiesByHash(t *testing.T) {
	dataA := &ghostdag.BlockData{BlueWork: bigZero()}
	dataB := &ghostdag.BlockData{BlueWork: bigZero()}
	a := hash(0x01)
	b := hash(0x02)
	if !ghostdag.Less(a, dataA, b, dataB) {
		t.Fatalf("expected a < b on equal blue work")
	}
	if ghostdag.Less(b, dataB, a, dataA) {
		t.Fatalf("expected b < a to be false")
	}
}

func bigZero() *big.Int { return big.NewInt(0) }
