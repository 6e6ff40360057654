package consensus

import (
	"github.com/pkg/errors"

	"github.com/tos-network/tosd/chainstate"
	"github.com/tos-network/tosd/consensus/ghostdag"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/domain/consensus/utils/consensushashing"
)

// Processor orchestrates one block's apply: header validation, DAG
// attachment (parent/tip bookkeeping), GHOSTDAG scoring, and dispatch of
// its transactions into chainstate. It is the account-model analogue of
// the teacher's blockprocessor.validateAndInsertBlock, restructured
// around the storage package's batch-commit contract instead of a
// multi-store Stage/Commit(dbTx) sequence.
type Processor struct {
	store       *Store
	ghostdagMgr *ghostdag.Manager
	chainState  *chainstate.ChainState
}

// New constructs a Processor. ghostdagMgr and store must share the same
// underlying engine so a block's header/relations/topoheight and its
// GHOSTDAG data commit atomically.
func New(store *Store, ghostdagMgr *ghostdag.Manager, chainState *chainstate.ChainState) *Processor {
	return &Processor{store: store, ghostdagMgr: ghostdagMgr, chainState: chainState}
}

// HeaderHash returns a header's content hash, the key every store in this
// package and ghostdag.Store indexes blocks by.
func HeaderHash(header *externalapi.DomainBlockHeader) *externalapi.DomainHash {
	return consensushashing.HeaderHash(header)
}

func headerHash(header *externalapi.DomainBlockHeader) *externalapi.DomainHash {
	return HeaderHash(header)
}

// Topoheight returns the topoheight blockHash was assigned when processed.
func (p *Processor) Topoheight(blockHash *externalapi.DomainHash) (uint64, error) {
	return p.store.Topoheight(blockHash)
}

// HasBlock reports whether blockHash has already been processed.
func (p *Processor) HasBlock(blockHash *externalapi.DomainHash) (bool, error) {
	return p.store.HasHeader(blockHash)
}

// Header returns the stored header for blockHash.
func (p *Processor) Header(blockHash *externalapi.DomainHash) (*externalapi.DomainBlockHeader, error) {
	return p.store.Header(blockHash)
}

// SelectedTip returns the current selected tip, or nil if no block has
// been processed yet.
func (p *Processor) SelectedTip() (*externalapi.DomainHash, error) {
	return p.store.SelectedTip()
}

// Tips returns the current set of DAG tips.
func (p *Processor) Tips() ([]*externalapi.DomainHash, error) {
	return p.store.Tips()
}

// HashAtTopoheight returns the hash this chain had at topoheight, if any.
func (p *Processor) HashAtTopoheight(topoheight uint64) (*externalapi.DomainHash, bool, error) {
	return p.store.HashAtTopoheight(topoheight)
}

// TopTopoheight returns the topoheight of the most recently processed
// block, and false if no block has been processed yet.
func (p *Processor) TopTopoheight() (uint64, bool, error) {
	return p.store.TopTopoheight()
}

// ProcessGenesis stores header as the DAG's genesis: GHOSTDAG data of
// zero, topoheight zero, no parents, and applies its transactions (if
// any) at topoheight 0.
func (p *Processor) ProcessGenesis(block *externalapi.DomainBlock) error {
	header := block.Header
	if !header.IsGenesis() {
		return errors.New("consensus: ProcessGenesis called with a non-genesis header")
	}
	hash := headerHash(header)

	hasHeader, err := p.store.HasHeader(hash)
	if err != nil {
		return err
	}
	if hasHeader {
		return ErrDuplicateBlock
	}

	batch := p.store.engine.NewBatch()
	p.ghostdagMgr.Stage(batch, hash, ghostdag.GenesisData())
	p.store.StageHeader(batch, hash, header)
	p.store.StageRelations(batch, hash, nil)
	p.store.StageTopoheight(batch, hash, 0)
	// Seeds the topoheight cursor at 0 so the first call to NextTopoheight
	// (the first non-genesis block) returns 1, not a second 0.
	batch.SetLastTo(bucketTopoheight, keyTopoheightCursor, headerVersion, encodeUint64(0))
	p.store.StageTips(batch, nil, hash, nil)
	p.store.StageSelectedTip(batch, hash)

	if err := p.chainState.ApplyBlock(0, block.Transactions, batch); err != nil {
		return err
	}
	return batch.Commit()
}

// ProcessBlock validates header, computes its GHOSTDAG data, assigns it
// the next topoheight, and applies its transactions into chainstate. A
// block with a parent that has not been processed yet is rejected with
// ErrParentUnknown; p2p/chainsync defers such blocks during sync and
// retries them.
func (p *Processor) ProcessBlock(block *externalapi.DomainBlock) error {
	header := block.Header
	hash := headerHash(header)

	hasHeader, err := p.store.HasHeader(hash)
	if err != nil {
		return err
	}
	if hasHeader {
		return ErrDuplicateBlock
	}

	for _, parent := range header.ParentHashes {
		known, err := p.store.HasHeader(parent)
		if err != nil {
			return err
		}
		if !known {
			return errors.Wrapf(ErrParentUnknown, "parent %s", parent)
		}
	}

	if err := p.ValidateHeader(header); err != nil {
		return err
	}

	ghostdagData, err := p.ghostdagMgr.GHOSTDAG(header.ParentHashes)
	if err != nil {
		return errors.Wrap(err, "GHOSTDAG")
	}

	engine := p.store.engine
	batch := engine.NewBatch()

	topoheight, err := p.store.NextTopoheight(batch)
	if err != nil {
		return err
	}

	p.ghostdagMgr.Stage(batch, hash, ghostdagData)
	p.store.StageHeader(batch, hash, header)
	p.store.StageRelations(batch, hash, header.ParentHashes)
	p.store.StageTopoheight(batch, hash, topoheight)

	tips, err := p.store.Tips()
	if err != nil {
		return err
	}
	p.store.StageTips(batch, tips, hash, header.ParentHashes)

	currentSelectedTip, err := p.store.SelectedTip()
	if err != nil {
		return err
	}
	if currentSelectedTip == nil {
		p.store.StageSelectedTip(batch, hash)
	} else {
		currentSelectedTipData, found, err := p.ghostdagMgr.Get(currentSelectedTip)
		if err != nil {
			return err
		}
		if !found {
			return errors.Errorf("consensus: selected tip %s has no GHOSTDAG data", currentSelectedTip)
		}
		if ghostdag.Less(currentSelectedTip, currentSelectedTipData, hash, ghostdagData) {
			p.store.StageSelectedTip(batch, hash)
		}
	}

	if err := p.chainState.ApplyBlock(topoheight, block.Transactions, batch); err != nil {
		return err
	}
	return batch.Commit()
}
