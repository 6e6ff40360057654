package consensus_test

import (
	"testing"

	"github.com/tos-network/tosd/chainstate"
	"github.com/tos-network/tosd/consensus"
	"github.com/tos-network/tosd/consensus/ghostdag"
	"github.com/tos-network/tosd/crypto"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/storage/leveldb"
)

func newTestProcessor(t *testing.T) *consensus.Processor {
	t.Helper()
	dir := t.TempDir()
	engine, err := leveldb.Open(dir)
	if err != nil {
		t.Fatalf("leveldb.Open: %+v", err)
	}
	t.Cleanup(func() { engine.Close() })

	consensusStore := consensus.NewStore(engine)
	ghostdagStore := ghostdag.NewStore(engine)
	ghostdagMgr := ghostdag.New(ghostdag.DefaultK, consensusStore, ghostdagStore)

	chainStore := chainstate.NewStore(engine)
	cs := chainstate.New(chainStore, crypto.Ed25519Verifier{}, 1, 100)

	return consensus.New(consensusStore, ghostdagMgr, cs)
}

func genesisHeader() *externalapi.DomainBlockHeader {
	return &externalapi.DomainBlockHeader{
		Version:            1,
		TimeInMilliseconds: 1000,
	}
}

func childHeader(parent *externalapi.DomainHash, timeMillis int64) *externalapi.DomainBlockHeader {
	return &externalapi.DomainBlockHeader{
		Version:            1,
		ParentHashes:       []*externalapi.DomainHash{parent},
		TimeInMilliseconds: timeMillis,
	}
}

func TestProcessGenesisThenChildAssignsTopoheights(t *testing.T) {
	p := newTestProcessor(t)

	genesis := &externalapi.DomainBlock{Header: genesisHeader()}
	if err := p.ProcessGenesis(genesis); err != nil {
		t.Fatalf("ProcessGenesis: %+v", err)
	}

	genesisHash := consensus.HeaderHash(genesis.Header)
	child := &externalapi.DomainBlock{Header: childHeader(genesisHash, 2000)}
	if err := p.ProcessBlock(child); err != nil {
		t.Fatalf("ProcessBlock: %+v", err)
	}

	childHash := consensus.HeaderHash(child.Header)
	topoheight, err := p.Topoheight(childHash)
	if err != nil {
		t.Fatalf("Topoheight: %+v", err)
	}
	if topoheight != 1 {
		t.Fatalf("child topoheight = %d, want 1", topoheight)
	}
}

func TestProcessBlockRejectsUnknownParent(t *testing.T) {
	p := newTestProcessor(t)

	genesis := &externalapi.DomainBlock{Header: genesisHeader()}
	if err := p.ProcessGenesis(genesis); err != nil {
		t.Fatalf("ProcessGenesis: %+v", err)
	}

	var unknown externalapi.DomainHash
	unknown[0] = 0xff
	orphan := &externalapi.DomainBlock{Header: childHeader(&unknown, 2000)}
	if err := p.ProcessBlock(orphan); err == nil {
		t.Fatalf("expected ProcessBlock to reject an unknown parent")
	}
}

func TestProcessBlockRejectsStaleTimestamp(t *testing.T) {
	p := newTestProcessor(t)

	genesis := &externalapi.DomainBlock{Header: genesisHeader()}
	if err := p.ProcessGenesis(genesis); err != nil {
		t.Fatalf("ProcessGenesis: %+v", err)
	}

	genesisHash := consensus.HeaderHash(genesis.Header)
	stale := &externalapi.DomainBlock{Header: childHeader(genesisHash, 500)}
	if err := p.ProcessBlock(stale); err != consensus.ErrTimestampTooOld {
		t.Fatalf("ProcessBlock: got %v, want ErrTimestampTooOld", err)
	}
}
