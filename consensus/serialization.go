package consensus

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

// No protobuf schema was retrieved for block headers (the teacher's
// DbBlockHeader was never generated into the pack — see DESIGN.md's
// Deletions entry for database/serialization), so headers use the same
// small fixed-layout binary encoding chainstate's, contract's, and
// ghostdag's own serialization files use.

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.New("consensus: invalid uint64 encoding")
	}
	return binary.LittleEndian.Uint64(b), nil
}

func encodeHashes(hashes []*externalapi.DomainHash) []byte {
	w := &writer{}
	w.putUint64(uint64(len(hashes)))
	for _, hash := range hashes {
		w.putBytes(hash.ByteSlice())
	}
	return w.buf
}

func decodeHashes(raw []byte) ([]*externalapi.DomainHash, error) {
	r := &byteReader{buf: raw}
	n, err := r.uint64()
	if err != nil {
		return nil, err
	}
	hashes := make([]*externalapi.DomainHash, n)
	for i := range hashes {
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		hash, err := hashFromBytes(b)
		if err != nil {
			return nil, err
		}
		hashes[i] = hash
	}
	return hashes, nil
}

func hashFromBytes(b []byte) (*externalapi.DomainHash, error) {
	if len(b) != externalapi.DomainHashSize {
		return nil, errors.Errorf("consensus: invalid hash length %d", len(b))
	}
	var hash externalapi.DomainHash
	copy(hash[:], b)
	return &hash, nil
}

func serializeHeader(h *externalapi.DomainBlockHeader) []byte {
	w := &writer{}
	w.putUint16(h.Version)
	w.putUint64(uint64(len(h.ParentHashes)))
	for _, parent := range h.ParentHashes {
		w.putBytes(parent.ByteSlice())
	}
	w.putBytes(hashBytesOrNil(h.HashMerkleRoot))
	w.putBytes(hashBytesOrNil(h.AcceptedIDMerkleRoot))
	w.putUint64(uint64(h.TimeInMilliseconds))
	w.putBytes(h.MinerPublicKey)
	w.putBytes(h.VRFPublicKey)
	w.putBytes(h.VRFOutput)
	w.putBytes(h.VRFProof)
	w.putUint64(h.Nonce)
	return w.buf
}

func deserializeHeader(raw []byte) (*externalapi.DomainBlockHeader, error) {
	r := &byteReader{buf: raw}
	h := &externalapi.DomainBlockHeader{}

	version, err := r.uint16()
	if err != nil {
		return nil, err
	}
	h.Version = version

	nParents, err := r.uint64()
	if err != nil {
		return nil, err
	}
	h.ParentHashes = make([]*externalapi.DomainHash, nParents)
	for i := range h.ParentHashes {
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		hash, err := hashFromBytes(b)
		if err != nil {
			return nil, err
		}
		h.ParentHashes[i] = hash
	}

	merkleRoot, err := r.bytes()
	if err != nil {
		return nil, err
	}
	h.HashMerkleRoot, err = hashFromBytesOrNil(merkleRoot)
	if err != nil {
		return nil, err
	}

	acceptedRoot, err := r.bytes()
	if err != nil {
		return nil, err
	}
	h.AcceptedIDMerkleRoot, err = hashFromBytesOrNil(acceptedRoot)
	if err != nil {
		return nil, err
	}

	timeMillis, err := r.uint64()
	if err != nil {
		return nil, err
	}
	h.TimeInMilliseconds = int64(timeMillis)

	if h.MinerPublicKey, err = r.bytes(); err != nil {
		return nil, err
	}
	if h.VRFPublicKey, err = r.bytes(); err != nil {
		return nil, err
	}
	if h.VRFOutput, err = r.bytes(); err != nil {
		return nil, err
	}
	if h.VRFProof, err = r.bytes(); err != nil {
		return nil, err
	}
	if h.Nonce, err = r.uint64(); err != nil {
		return nil, err
	}

	return h, nil
}

func hashBytesOrNil(hash *externalapi.DomainHash) []byte {
	if hash == nil {
		return nil
	}
	return hash.ByteSlice()
}

func hashFromBytesOrNil(b []byte) (*externalapi.DomainHash, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return hashFromBytes(b)
}

type writer struct {
	buf []byte
}

func (w *writer) putUint64(v uint64) {
	w.buf = append(w.buf, encodeUint64(v)...)
}

func (w *writer) putUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putBytes(b []byte) {
	w.putUint64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) uint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errors.New("consensus: unexpected end of buffer")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) uint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, errors.New("consensus: unexpected end of buffer")
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, errors.New("consensus: unexpected end of buffer")
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return out, nil
}
