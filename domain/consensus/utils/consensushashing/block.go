package consensushashing

import "github.com/tos-network/tosd/domain/consensus/model/externalapi"

// BlockHash returns a block's hash, which is its header's hash: the
// header's HashMerkleRoot already commits to the block's transactions.
func BlockHash(block *externalapi.DomainBlock) *externalapi.DomainHash {
	return HeaderHash(block.Header)
}
