// Package boltsnap backs a storage.CommitPoint's undo journal with
// go.etcd.io/bbolt. Each Append is its own bbolt transaction writing one
// pre-image into a single journal bucket; storage.CommitPoint.End either
// clears that bucket (apply) or replays it and then clears it (rollback).
package boltsnap

import (
	"encoding/binary"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var journalBucket = []byte("commitpoint-journal")

// Journal records pre-images of versioned cells touched during a commit
// point so storage.CommitPoint can undo them without replaying the whole
// apply pipeline. p2p/chainsync does not rewind and does not use it.
type Journal struct {
	db *bolt.DB
}

// Entry is one recorded pre-image. Topoheight is the version the
// journaled write touched; Existed is false when the cell had no version
// at exactly that topoheight before the write.
type Entry struct {
	Bucket, Key []byte
	Topoheight  uint64
	Existed     bool
	OldValue    []byte
}

// Open creates or opens a bbolt-backed journal file.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening commit-point journal at %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func sequenceKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

// Append records one entry under the next sequence number in the
// journal. Entries replay in reverse sequence order on rollback so a
// cell touched twice in one commit point restores its original
// pre-image, not the intermediate one.
func (j *Journal) Append(seq uint64, entry *Entry) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(journalBucket)
		encoded := encodeEntry(entry)
		return b.Put(sequenceKey(seq), encoded)
	})
}

// Replay calls fn for every recorded entry in descending sequence order
// (most recent write first), matching the order writes must be undone in.
func (j *Journal) Replay(fn func(entry *Entry) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(journalBucket)
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear drops every recorded entry, called once a commit point is
// accepted and its pre-images are no longer needed.
func (j *Journal) Clear() error {
	return j.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(journalBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(journalBucket)
		return err
	})
}

func encodeEntry(e *Entry) []byte {
	buf := make([]byte, 0, len(e.Bucket)+len(e.Key)+len(e.OldValue)+32)
	buf = appendLenPrefixed(buf, e.Bucket)
	buf = appendLenPrefixed(buf, e.Key)
	var topoBytes [8]byte
	binary.BigEndian.PutUint64(topoBytes[:], e.Topoheight)
	buf = append(buf, topoBytes[:]...)
	if e.Existed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendLenPrefixed(buf, e.OldValue)
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(data)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, data...)
}

func decodeEntry(raw []byte) (*Entry, error) {
	r := &reader{data: raw}
	bucket, err := r.lenPrefixed()
	if err != nil {
		return nil, err
	}
	key, err := r.lenPrefixed()
	if err != nil {
		return nil, err
	}
	topoheight, err := r.uint64()
	if err != nil {
		return nil, err
	}
	existedByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	oldValue, err := r.lenPrefixed()
	if err != nil {
		return nil, err
	}
	return &Entry{
		Bucket:     bucket,
		Key:        key,
		Topoheight: topoheight,
		Existed:    existedByte == 1,
		OldValue:   oldValue,
	}, nil
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) lenPrefixed() ([]byte, error) {
	if r.pos+4 > len(r.data) {
		return nil, errors.New("boltsnap: truncated journal entry")
	}
	n := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	if r.pos+int(n) > len(r.data) {
		return nil, errors.New("boltsnap: truncated journal entry")
	}
	out := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *reader) uint64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, errors.New("boltsnap: truncated journal entry")
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos+1 > len(r.data) {
		return 0, errors.New("boltsnap: truncated journal entry")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}
