// Package consensus owns header verification, DAG attachment, GHOSTDAG
// scoring (package consensus/ghostdag), and orchestration of applying one
// block's transactions into chainstate — spec.md §4.3/§4.4, SPEC_FULL.md
// §4.3. It is the account-model replacement for the teacher's
// domain/consensus/processes/{blockprocessor,blockvalidator,pruningmanager}
// trio, which predated the account-model rewrite and was never reconciled
// with it (see DESIGN.md's Deletions section).
package consensus

import (
	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/storage"
)

var (
	bucketHeaders        = []byte("consensus:header")
	bucketRelations      = []byte("consensus:relations")
	bucketTips           = []byte("consensus:tips")
	bucketTopoheight     = []byte("consensus:topoheight")
	bucketTopoheightHash = []byte("consensus:topoheight-hash")
	bucketSelectedTip    = []byte("consensus:selectedtip")
	keyTopoheightCursor  = []byte("cursor")
	keyTipsSet           = []byte("set")
	keySelectedTip       = []byte("hash")
)

// headerVersion every record below is written at, the same "permanent
// fact, no rewind needed" convention ghostdag.Store uses.
const headerVersion storage.TopoHeight = 0

// Store persists header/relation/tip bookkeeping for the DAG, and the
// monotonic topoheight counter blocks are assigned as they are processed.
type Store struct {
	engine storage.Engine
}

// NewStore wraps engine as a consensus store.
func NewStore(engine storage.Engine) *Store {
	return &Store{engine: engine}
}

// Header returns the header stored for blockHash.
func (s *Store) Header(blockHash *externalapi.DomainHash) (*externalapi.DomainBlockHeader, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketHeaders, blockHash.ByteSlice(), headerVersion)
	if err != nil {
		return nil, err
	}
	return deserializeHeader(raw)
}

// HasHeader reports whether blockHash's header has been stored.
func (s *Store) HasHeader(blockHash *externalapi.DomainHash) (bool, error) {
	return s.engine.Has(bucketHeaders, blockHash.ByteSlice(), headerVersion)
}

// StageHeader writes header for blockHash into batch.
func (s *Store) StageHeader(batch storage.WriteBatch, blockHash *externalapi.DomainHash, header *externalapi.DomainBlockHeader) {
	batch.SetLastTo(bucketHeaders, blockHash.ByteSlice(), headerVersion, serializeHeader(header))
}

// Topoheight returns the topoheight blockHash was assigned when processed.
func (s *Store) Topoheight(blockHash *externalapi.DomainHash) (uint64, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketTopoheight, blockHash.ByteSlice(), headerVersion)
	if err != nil {
		return 0, err
	}
	return decodeUint64(raw)
}

// StageTopoheight records topoheight for blockHash, and the reverse
// topoheight-to-hash mapping p2p/chainsync's locator building and chain
// request handling read from (spec.md §4.8 samples our chain by
// topoheight, so it needs "what hash did we have at topoheight N").
func (s *Store) StageTopoheight(batch storage.WriteBatch, blockHash *externalapi.DomainHash, topoheight uint64) {
	batch.SetLastTo(bucketTopoheight, blockHash.ByteSlice(), headerVersion, encodeUint64(topoheight))
	batch.SetLastTo(bucketTopoheightHash, encodeUint64(topoheight), headerVersion, blockHash.ByteSlice())
}

// HashAtTopoheight returns the hash recorded at topoheight, if any.
func (s *Store) HashAtTopoheight(topoheight uint64) (*externalapi.DomainHash, bool, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketTopoheightHash, encodeUint64(topoheight), headerVersion)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	hash, err := hashFromBytes(raw)
	if err != nil {
		return nil, false, err
	}
	return hash, true, nil
}

// TopTopoheight returns the topoheight cursor's current value, i.e. the
// topoheight the most recently processed block was assigned, or false if
// no block has been processed yet.
func (s *Store) TopTopoheight() (uint64, bool, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketTopoheight, keyTopoheightCursor, headerVersion)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	top, err := decodeUint64(raw)
	if err != nil {
		return 0, false, err
	}
	return top, true, nil
}

// NextTopoheight returns the topoheight the next processed block should
// be assigned, and the batch mutation that advances the cursor past it.
// Blocks are applied to chainstate in the order they are submitted for
// processing (the caller, e.g. p2p/chainsync, is responsible for
// submitting parents before children); GHOSTDAG's blue/red
// classification governs scoring and future pruning decisions, not this
// linear application order.
func (s *Store) NextTopoheight(batch storage.WriteBatch) (uint64, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketTopoheight, keyTopoheightCursor, headerVersion)
	var next uint64
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return 0, err
		}
		next = 0
	} else {
		cursor, err := decodeUint64(raw)
		if err != nil {
			return 0, err
		}
		next = cursor + 1
	}
	batch.SetLastTo(bucketTopoheight, keyTopoheightCursor, headerVersion, encodeUint64(next))
	return next, nil
}

// Parents returns the DAG parents recorded for blockHash.
func (s *Store) Parents(blockHash *externalapi.DomainHash) ([]*externalapi.DomainHash, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketRelations, blockHash.ByteSlice(), headerVersion)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeHashes(raw)
}

// StageRelations records parents as blockHash's DAG parents.
func (s *Store) StageRelations(batch storage.WriteBatch, blockHash *externalapi.DomainHash, parents []*externalapi.DomainHash) {
	batch.SetLastTo(bucketRelations, blockHash.ByteSlice(), headerVersion, encodeHashes(parents))
}

// IsAncestorOf reports whether blockHashA is an ancestor of blockHashB by
// walking parent edges. The DAG has no cycles, so a breadth-first walk
// bounded by a visited set terminates; a full interval-tree reachability index
// (spec.md §4.1) would make this O(1), but that package has not been
// built yet (see DESIGN.md), so this walks the parent graph directly.
func (s *Store) IsAncestorOf(blockHashA, blockHashB *externalapi.DomainHash) (bool, error) {
	if blockHashA.Equal(blockHashB) {
		return true, nil
	}
	visited := make(map[externalapi.DomainHash]bool)
	queue, err := s.Parents(blockHashB)
	if err != nil {
		return false, err
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[*current] {
			continue
		}
		visited[*current] = true
		if current.Equal(blockHashA) {
			return true, nil
		}
		parents, err := s.Parents(current)
		if err != nil {
			return false, err
		}
		queue = append(queue, parents...)
	}
	return false, nil
}

// Tips returns the current set of DAG tips (blocks with no known child).
func (s *Store) Tips() ([]*externalapi.DomainHash, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketTips, keyTipsSet, headerVersion)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeHashes(raw)
}

// StageTips replaces the tip set, dropping newBlock's parents (no longer
// tips) and adding newBlock.
func (s *Store) StageTips(batch storage.WriteBatch, tips []*externalapi.DomainHash, newBlock *externalapi.DomainHash, parents []*externalapi.DomainHash) {
	next := make([]*externalapi.DomainHash, 0, len(tips)+1)
	for _, tip := range tips {
		if isHashInSlice(tip, parents) {
			continue
		}
		next = append(next, tip)
	}
	next = append(next, newBlock)
	batch.SetLastTo(bucketTips, keyTipsSet, headerVersion, encodeHashes(next))
}

// SelectedTip returns the current selected tip (the head of the
// selected-parent chain with the greatest blue work), or nil if none has
// been recorded yet.
func (s *Store) SelectedTip() (*externalapi.DomainHash, error) {
	raw, _, err := s.engine.GetAtMaxTopoheight(bucketSelectedTip, keySelectedTip, headerVersion)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	hashes, err := decodeHashes(raw)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}
	return hashes[0], nil
}

// StageSelectedTip records tip as the new selected tip.
func (s *Store) StageSelectedTip(batch storage.WriteBatch, tip *externalapi.DomainHash) {
	batch.SetLastTo(bucketSelectedTip, keySelectedTip, headerVersion, encodeHashes([]*externalapi.DomainHash{tip}))
}

func isHashInSlice(hash *externalapi.DomainHash, hashes []*externalapi.DomainHash) bool {
	for _, candidate := range hashes {
		if candidate.Equal(hash) {
			return true
		}
	}
	return false
}
