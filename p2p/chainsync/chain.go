package chainsync

import "github.com/tos-network/tosd/domain/consensus/model/externalapi"

// ChainProvider is the local chain state a Syncer reads from and applies
// fetched blocks into. Satisfied by *consensus.Processor.
type ChainProvider interface {
	// SelectedTip returns the current selected tip, or nil before any
	// block has been processed.
	SelectedTip() (*externalapi.DomainHash, error)
	// Tips returns the current set of DAG tips, the alt-tip candidates
	// HandleChainRequest offers a nearly-synced peer.
	Tips() ([]*externalapi.DomainHash, error)
	// TopTopoheight returns the topoheight of the most recently
	// processed block, and false if none has been processed yet.
	TopTopoheight() (uint64, bool, error)
	// HashAtTopoheight returns the hash our chain has at topoheight.
	HashAtTopoheight(topoheight uint64) (*externalapi.DomainHash, bool, error)
	// HasBlock reports whether hash has already been processed.
	HasBlock(hash *externalapi.DomainHash) (bool, error)
	// ProcessBlock applies block, assigning it the next topoheight and
	// its GHOSTDAG data. Returns consensus.ErrParentUnknown if a parent
	// hasn't been processed yet, or consensus.ErrDuplicateBlock if
	// ProcessBlock has already been applied to block's hash.
	ProcessBlock(block *externalapi.DomainBlock) error
}
