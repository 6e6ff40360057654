package hashing

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

// Keccak256 is the general-purpose content hash H(...) used across
// the daemon (block hashes, module hashes, verdict messages): it
// concatenates every part and hashes the result with Keccak-256.
func Keccak256(parts ...[]byte) *externalapi.DomainHash {
	h := sha3.NewLegacyKeccak256()
	for _, part := range parts {
		h.Write(part)
	}
	var hash externalapi.DomainHash
	copy(hash[:], h.Sum(nil))
	return &hash
}

// PutUint64 returns the little-endian encoding of v, for use as one
// part of a Keccak256 input.
func PutUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// PutUint32 returns the little-endian encoding of v, for use as one
// part of a Keccak256 input.
func PutUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}
