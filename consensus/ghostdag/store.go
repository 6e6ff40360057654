package ghostdag

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/storage"
)

var bucketGHOSTDAGData = []byte("consensus:ghostdag")

// blockDataVersion is the version every BlockData is written at. GHOSTDAG
// data is a permanent fact about a block, never superseded, so it never
// needs more than one version; storage's versioning is unused here.
const blockDataVersion storage.TopoHeight = 0

// Store persists BlockData in engine, following the same
// in-memory-stage-then-batch-commit shape chainstate.Store and the
// teacher's blockheaderstore use.
type Store struct {
	engine storage.Engine
}

// NewStore wraps engine as a GHOSTDAG data store.
func NewStore(engine storage.Engine) *Store {
	return &Store{engine: engine}
}

// Get returns the BlockData stored for blockHash, or found=false if none
// has been staged yet.
func (s *Store) Get(blockHash *externalapi.DomainHash) (*BlockData, bool, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketGHOSTDAGData, blockHash.ByteSlice(), blockDataVersion)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	data, err := deserializeBlockData(raw)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Stage writes data for blockHash into batch.
func (s *Store) Stage(batch storage.WriteBatch, blockHash *externalapi.DomainHash, data *BlockData) {
	batch.SetLastTo(bucketGHOSTDAGData, blockHash.ByteSlice(), blockDataVersion, serializeBlockData(data))
}

func serializeBlockData(data *BlockData) []byte {
	w := &writer{}
	if data.SelectedParent != nil {
		w.putBool(true)
		w.putBytes(data.SelectedParent.ByteSlice())
	} else {
		w.putBool(false)
	}
	w.putUint64(uint64(len(data.MergeSetBlues)))
	for _, hash := range data.MergeSetBlues {
		w.putBytes(hash.ByteSlice())
	}
	w.putUint64(uint64(len(data.MergeSetReds)))
	for _, hash := range data.MergeSetReds {
		w.putBytes(hash.ByteSlice())
	}
	w.putUint64(data.BlueScore)
	blueWork := data.BlueWork
	if blueWork == nil {
		blueWork = big.NewInt(0)
	}
	w.putBytes(blueWork.Bytes())
	return w.buf
}

func deserializeBlockData(raw []byte) (*BlockData, error) {
	r := &byteReader{buf: raw}
	data := &BlockData{}

	hasSelectedParent, err := r.boolean()
	if err != nil {
		return nil, err
	}
	if hasSelectedParent {
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		hash, err := hashFromBytes(b)
		if err != nil {
			return nil, err
		}
		data.SelectedParent = hash
	}

	nBlues, err := r.uint64()
	if err != nil {
		return nil, err
	}
	data.MergeSetBlues = make([]*externalapi.DomainHash, nBlues)
	for i := range data.MergeSetBlues {
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		hash, err := hashFromBytes(b)
		if err != nil {
			return nil, err
		}
		data.MergeSetBlues[i] = hash
	}

	nReds, err := r.uint64()
	if err != nil {
		return nil, err
	}
	data.MergeSetReds = make([]*externalapi.DomainHash, nReds)
	for i := range data.MergeSetReds {
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		hash, err := hashFromBytes(b)
		if err != nil {
			return nil, err
		}
		data.MergeSetReds[i] = hash
	}

	blueScore, err := r.uint64()
	if err != nil {
		return nil, err
	}
	data.BlueScore = blueScore

	blueWorkBytes, err := r.bytes()
	if err != nil {
		return nil, err
	}
	data.BlueWork = new(big.Int).SetBytes(blueWorkBytes)

	return data, nil
}

func hashFromBytes(b []byte) (*externalapi.DomainHash, error) {
	if len(b) != externalapi.DomainHashSize {
		return nil, errors.Errorf("ghostdag: invalid hash length %d", len(b))
	}
	var hash externalapi.DomainHash
	copy(hash[:], b)
	return &hash, nil
}
