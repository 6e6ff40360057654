package ghostdag

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// No protobuf schema was retrieved for GHOSTDAG block data (the
// teacher's own DbBlockHeader/ghostdagdatastore protobuf types were
// never generated into the pack either), so it uses the same small
// fixed-layout binary encoding chainstate's and contract's own
// serialization.go files use.

type writer struct {
	buf []byte
}

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
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

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) uint64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errors.New("ghostdag: unexpected end of buffer")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *byteReader) boolean() (bool, error) {
	if r.pos+1 > len(r.buf) {
		return false, errors.New("ghostdag: unexpected end of buffer")
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
		return nil, errors.New("ghostdag: unexpected end of buffer")
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+int(n)]...)
	r.pos += int(n)
	return out, nil
}
