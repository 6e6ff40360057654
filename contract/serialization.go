package contract

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// No protobuf schema was retrieved for NFT collection/token records
// either (nft.rs's NftCollection/Nft are Rust-native types), so they
// use the same small fixed-layout binary encoding chainstate's account
// records use, for the same reason.

type writer struct {
	buf []byte
}

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) putBytes(b []byte) {
	w.putUint64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) putString(s string) {
	w.putBytes([]byte(s))
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) uint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errors.New("contract: unexpected end of buffer")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) uint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, errors.New("contract: unexpected end of buffer")
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *byteReader) boolean() (bool, error) {
	if r.pos+1 > len(r.buf) {
		return false, errors.New("contract: unexpected end of buffer")
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *byteReader) bytes() ([]byte, error) {
	n, err := r.uint64()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, errors.New("contract: unexpected end of buffer")
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return out, nil
}

func (r *byteReader) str() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
