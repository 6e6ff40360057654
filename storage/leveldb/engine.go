// Package leveldb is the concrete storage.Engine backing versioned
// storage, modeled on the teacher's blockheaderstore/pruningstore
// key-layout convention (bucket-prefixed keys over a single flat
// goleveldb keyspace) but generalized to carry a topoheight suffix so
// more than one version of a cell can live side by side.
package leveldb

import (
	"encoding/binary"
	"bytes"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tos-network/tosd/storage"
)

const separator = 0x00

// Engine is a storage.Engine backed by a single goleveldb database. Every
// versioned cell is stored as one goleveldb entry per (bucket, key,
// topoheight) triple; GetAtMaxTopoheight range-scans down from the
// requested height to find the newest surviving version.
type Engine struct {
	db *leveldb.DB
}

// Open creates or opens a goleveldb database at path.
func Open(path string) (*Engine, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb storage at %s", path)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func versionedKey(bucket, key []byte, topoheight storage.TopoHeight) []byte {
	buf := make([]byte, 0, len(bucket)+len(key)+10)
	buf = append(buf, bucket...)
	buf = append(buf, separator)
	buf = append(buf, key...)
	buf = append(buf, separator)
	var topoBytes [8]byte
	binary.BigEndian.PutUint64(topoBytes[:], topoheight)
	return append(buf, topoBytes[:]...)
}

func cellPrefix(bucket, key []byte) []byte {
	buf := make([]byte, 0, len(bucket)+len(key)+2)
	buf = append(buf, bucket...)
	buf = append(buf, separator)
	buf = append(buf, key...)
	buf = append(buf, separator)
	return buf
}

func (e *Engine) GetAtMaxTopoheight(bucket, key []byte, topoheight storage.TopoHeight) ([]byte, storage.TopoHeight, error) {
	prefix := cellPrefix(bucket, key)
	limit := versionedKey(bucket, key, topoheight+1)
	iter := e.db.NewIterator(&util.Range{Start: prefix, Limit: limit}, nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, 0, err
		}
		return nil, 0, storage.ErrNotFound
	}

	foundAt := binary.BigEndian.Uint64(iter.Key()[len(iter.Key())-8:])
	value := make([]byte, len(iter.Value()))
	copy(value, iter.Value())
	return value, foundAt, nil
}

func (e *Engine) Has(bucket, key []byte, topoheight storage.TopoHeight) (bool, error) {
	_, _, err := e.GetAtMaxTopoheight(bucket, key, topoheight)
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) SetLastTo(bucket, key []byte, topoheight storage.TopoHeight, value []byte) error {
	return e.db.Put(versionedKey(bucket, key, topoheight), value, nil)
}

func (e *Engine) Delete(bucket, key []byte, topoheight storage.TopoHeight) error {
	return e.db.Delete(versionedKey(bucket, key, topoheight), nil)
}

func (e *Engine) NewBatch() storage.WriteBatch {
	return &writeBatch{engine: e, batch: new(leveldb.Batch)}
}

// Iterate walks every distinct key in bucket, yielding the value of its
// newest version at or below topoheight. Versions are iterated in one
// forward pass; the latest version per key wins because keys sort with
// the topoheight suffix ascending.
func (e *Engine) Iterate(bucket []byte, topoheight storage.TopoHeight, fn func(key, value []byte) (bool, error)) error {
	prefix := append(append([]byte{}, bucket...), separator)
	iter := e.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var currentKey []byte
	var currentValue []byte
	var haveCurrent bool

	flush := func() (bool, error) {
		if !haveCurrent {
			return true, nil
		}
		keepGoing, err := fn(currentKey, currentValue)
		haveCurrent = false
		return keepGoing, err
	}

	for iter.Next() {
		rawKey := iter.Key()
		topoBytes := rawKey[len(rawKey)-8:]
		cellKey := rawKey[len(prefix) : len(rawKey)-9] // strip bucket prefix, trailing separator, and topoheight
		at := binary.BigEndian.Uint64(topoBytes)
		if at > topoheight {
			continue
		}

		if haveCurrent && !bytes.Equal(cellKey, currentKey) {
			keepGoing, err := flush()
			if err != nil {
				return err
			}
			if !keepGoing {
				return nil
			}
		}

		currentKey = append([]byte{}, cellKey...)
		currentValue = append([]byte{}, iter.Value()...)
		haveCurrent = true
	}
	if err := iter.Error(); err != nil {
		return err
	}
	if _, err := flush(); err != nil {
		return err
	}
	return nil
}

type writeBatch struct {
	engine *Engine
	batch  *leveldb.Batch
}

func (b *writeBatch) SetLastTo(bucket, key []byte, topoheight storage.TopoHeight, value []byte) {
	b.batch.Put(versionedKey(bucket, key, topoheight), value)
}

func (b *writeBatch) Delete(bucket, key []byte, topoheight storage.TopoHeight) {
	b.batch.Delete(versionedKey(bucket, key, topoheight))
}

func (b *writeBatch) Commit() error {
	return b.engine.db.Write(b.batch, nil)
}
