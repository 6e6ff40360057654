package consensushashing

import (
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/util/hashing"
)

// headerDomainTag separates header hashes from every other use of
// H(...) in the daemon.
var headerDomainTag = []byte("TOS-HEADER-v1")

// HeaderHash returns a block header's content hash.
func HeaderHash(header *externalapi.DomainBlockHeader) *externalapi.DomainHash {
	parts := [][]byte{headerDomainTag, hashing.PutUint64(uint64(header.Version))}
	for _, parent := range header.ParentHashes {
		parts = append(parts, parent.ByteSlice())
	}
	parts = append(parts,
		header.HashMerkleRoot.ByteSlice(),
		header.AcceptedIDMerkleRoot.ByteSlice(),
		hashing.PutUint64(uint64(header.TimeInMilliseconds)),
		header.MinerPublicKey,
		header.VRFPublicKey,
		header.VRFOutput,
		header.VRFProof,
		hashing.PutUint64(header.Nonce),
	)
	return hashing.Keccak256(parts...)
}
