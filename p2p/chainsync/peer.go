package chainsync

import "github.com/tos-network/tosd/domain/consensus/model/externalapi"

// Peer is the remote side of one sync round. No transport implementation
// of it is in this repository; sync_test.go's fakePeer implements it.
// This package depends only on the interface, so the sync algorithm is
// testable without a live connection.
type Peer interface {
	// RequestChain sends req and returns the peer's ChainResponse.
	RequestChain(req ChainRequest) (*ChainResponse, error)
	// RequestBlock fetches the full block (header + transactions) for hash.
	RequestBlock(hash *externalapi.DomainHash) (*externalapi.DomainBlock, error)
	// RequestBlockHeader fetches just the header for hash.
	RequestBlockHeader(hash *externalapi.DomainHash) (*externalapi.DomainBlockHeader, error)
	// RequestInventory asks the peer to (re)announce its current tips,
	// used when we've nearly caught up to it.
	RequestInventory() error
	// Topoheight is the peer's last-announced topoheight.
	Topoheight() uint64
	String() string
}
