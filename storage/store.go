// Package storage implements the versioned key/value contract spec.md
// §4.2 names: every cell is written at a topoheight and reads resolve to
// the newest version at-or-below the height asked for, so a rewind never
// needs to touch cells that were never superseded.
package storage

import "github.com/pkg/errors"

// ErrNotFound is returned when a key has no version at or below the
// requested topoheight.
var ErrNotFound = errors.New("storage: key not found")

// TopoHeight is the chain-order height a versioned cell was written at.
type TopoHeight = uint64

// VersionedReader resolves versioned reads against a bucket-scoped key
// space. Concrete engines (leveldb) implement it directly; ChainState and
// the consensus stores read through it without caring which engine backs
// a given bucket.
type VersionedReader interface {
	// GetAtMaxTopoheight returns the value of the newest version of key
	// at or below topoheight, along with the topoheight it was written
	// at. Returns ErrNotFound if no such version exists.
	GetAtMaxTopoheight(bucket, key []byte, topoheight TopoHeight) (value []byte, foundAt TopoHeight, err error)
	// Has reports whether any version of key exists at or below topoheight.
	Has(bucket, key []byte, topoheight TopoHeight) (bool, error)
}

// VersionedWriter stages a new version of a cell. SetLastTo never
// overwrites an earlier version in place; it adds a new one so that
// GetAtMaxTopoheight against an older height keeps returning the old
// value (the "versioned" part of "versioned storage").
type VersionedWriter interface {
	SetLastTo(bucket, key []byte, topoheight TopoHeight, value []byte) error
	Delete(bucket, key []byte, topoheight TopoHeight) error
}

// Engine is the full contract a concrete storage backend provides.
type Engine interface {
	VersionedReader
	VersionedWriter
	// NewBatch returns a WriteBatch that stages SetLastTo/Delete calls
	// for one atomic commit.
	NewBatch() WriteBatch
	// Iterate walks every key in bucket whose newest version at or below
	// topoheight passes fn. Stops early if fn returns false.
	Iterate(bucket []byte, topoheight TopoHeight, fn func(key, value []byte) (keepGoing bool, err error)) error
	Close() error
}

// WriteBatch accumulates writes for one atomic commit, mirroring the
// teacher's per-store Stage/Commit(dbTx) pattern but across the whole
// versioned key space instead of one store's keys.
type WriteBatch interface {
	SetLastTo(bucket, key []byte, topoheight TopoHeight, value []byte)
	Delete(bucket, key []byte, topoheight TopoHeight)
	Commit() error
}
