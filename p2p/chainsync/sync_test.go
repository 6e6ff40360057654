package chainsync_test

import (
	"testing"

	"github.com/tos-network/tosd/chainstate"
	"github.com/tos-network/tosd/consensus"
	"github.com/tos-network/tosd/consensus/ghostdag"
	"github.com/tos-network/tosd/crypto"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/p2p/chainsync"
	"github.com/tos-network/tosd/storage/leveldb"
)

func newTestChain(t *testing.T) *consensus.Processor {
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
	return &externalapi.DomainBlockHeader{Version: 1, TimeInMilliseconds: 1000}
}

func childHeader(parent *externalapi.DomainHash, timeMillis int64) *externalapi.DomainBlockHeader {
	return &externalapi.DomainBlockHeader{
		Version:            1,
		ParentHashes:       []*externalapi.DomainHash{parent},
		TimeInMilliseconds: timeMillis,
	}
}

// fakePeer answers chainsync requests straight out of a remote
// consensus.Processor, standing in for the netadapter transport a real
// connection would use.
type fakePeer struct {
	remote *consensus.Processor
	syncer *chainsync.Syncer
}

func (p *fakePeer) RequestChain(req chainsync.ChainRequest) (*chainsync.ChainResponse, error) {
	return p.syncer.HandleChainRequest(req)
}

func (p *fakePeer) RequestBlock(hash *externalapi.DomainHash) (*externalapi.DomainBlock, error) {
	header, err := p.remote.Header(hash)
	if err != nil {
		return nil, err
	}
	return &externalapi.DomainBlock{Header: header}, nil
}

func (p *fakePeer) RequestBlockHeader(hash *externalapi.DomainHash) (*externalapi.DomainBlockHeader, error) {
	return p.remote.Header(hash)
}

func (p *fakePeer) RequestInventory() error { return nil }
func (p *fakePeer) Topoheight() uint64      { top, _, _ := p.remote.TopTopoheight(); return top }
func (p *fakePeer) String() string          { return "fake-peer" }

func buildChain(t *testing.T, proc *consensus.Processor, blocks int) []*externalapi.DomainHash {
	t.Helper()
	genesis := &externalapi.DomainBlock{Header: genesisHeader()}
	if err := proc.ProcessGenesis(genesis); err != nil {
		t.Fatalf("ProcessGenesis: %+v", err)
	}
	hashes := []*externalapi.DomainHash{consensus.HeaderHash(genesis.Header)}
	parent := hashes[0]
	for i := 0; i < blocks; i++ {
		header := childHeader(parent, 2000+int64(i)*1000)
		block := &externalapi.DomainBlock{Header: header}
		if err := proc.ProcessBlock(block); err != nil {
			t.Fatalf("ProcessBlock %d: %+v", i, err)
		}
		parent = consensus.HeaderHash(header)
		hashes = append(hashes, parent)
	}
	return hashes
}

func TestRequestSyncChainForFetchesMissingBlocks(t *testing.T) {
	remoteProc := newTestChain(t)
	remoteHashes := buildChain(t, remoteProc, 3)

	localProc := newTestChain(t)
	// Local only has genesis; it must fetch the 3 blocks beyond it.
	genesis := &externalapi.DomainBlock{Header: genesisHeader()}
	if err := localProc.ProcessGenesis(genesis); err != nil {
		t.Fatalf("ProcessGenesis: %+v", err)
	}

	remoteSyncer := chainsync.New(remoteProc)
	peer := &fakePeer{remote: remoteProc, syncer: remoteSyncer}

	localSyncer := chainsync.New(localProc)
	if err := localSyncer.RequestSyncChainFor(peer); err != nil {
		t.Fatalf("RequestSyncChainFor: %+v", err)
	}

	for _, hash := range remoteHashes {
		has, err := localProc.HasBlock(hash)
		if err != nil {
			t.Fatalf("HasBlock: %+v", err)
		}
		if !has {
			t.Fatalf("local chain is missing block %s after sync", hash)
		}
	}

	localTop, _, err := localProc.TopTopoheight()
	if err != nil {
		t.Fatalf("TopTopoheight: %+v", err)
	}
	if localTop != 3 {
		t.Fatalf("local top topoheight = %d, want 3", localTop)
	}
}

func TestRequestSyncChainForNoopWhenAlreadySynced(t *testing.T) {
	proc := newTestChain(t)
	buildChain(t, proc, 2)

	peerProc := newTestChain(t)
	buildChain(t, peerProc, 2)

	syncer := chainsync.New(proc)
	peerSyncer := chainsync.New(peerProc)
	peer := &fakePeer{remote: peerProc, syncer: peerSyncer}

	if err := syncer.RequestSyncChainFor(peer); err != nil {
		t.Fatalf("RequestSyncChainFor: %+v", err)
	}
}

func TestHandleChainRequestReportsNoCommonPointForUnknownIDs(t *testing.T) {
	proc := newTestChain(t)
	buildChain(t, proc, 1)
	syncer := chainsync.New(proc)

	var unknown externalapi.DomainHash
	unknown[0] = 0xff
	resp, err := syncer.HandleChainRequest(chainsync.ChainRequest{
		IDs:     []chainsync.BlockID{{Hash: &unknown, Topoheight: 0}},
		MaxSize: 16,
	})
	if err != nil {
		t.Fatalf("HandleChainRequest: %+v", err)
	}
	if resp.CommonPoint != nil {
		t.Fatalf("expected no common point, got %+v", resp.CommonPoint)
	}
}
