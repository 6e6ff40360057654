// Package ghostdag implements GHOSTDAG block ordering and blue-score
// accounting, the mechanism the consensus package uses to pick a
// selected-parent chain and classify every other merged block as blue
// (counted, in-order) or red (ignored for scoring) — spec.md §4.3 /
// SPEC_FULL.md §4.3.
//
// Ground truth for the selected-parent comparison and merge-set
// computation is the teacher's ghostdagmanager/{compare.go,mergeset.go}:
// only those two files were ever retrieved into the pack, so the
// blue/red k-cluster classification and blue-score/blue-work
// accumulation below are original work following the published
// GHOSTDAG protocol those two fragments implement pieces of, not a
// line-for-line port (see DESIGN.md).
package ghostdag

import (
	"math/big"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/storage"
)

// BlockData is the per-block GHOSTDAG bookkeeping: its selected parent,
// the merge set split into blue and red members, and the accumulated
// blue score/work along the selected-parent chain.
type BlockData struct {
	SelectedParent *externalapi.DomainHash
	MergeSetBlues  []*externalapi.DomainHash
	MergeSetReds   []*externalapi.DomainHash
	BlueScore      uint64
	BlueWork       *big.Int
}

// IsBlue reports whether hash is this block's selected parent or a blue
// member of its merge set. BlockData does not record the block's own
// hash, so IsBlue reports false for it.
func (bd *BlockData) IsBlue(hash *externalapi.DomainHash) bool {
	if bd.SelectedParent != nil && bd.SelectedParent.Equal(hash) {
		return true
	}
	for _, blue := range bd.MergeSetBlues {
		if blue.Equal(hash) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of bd.
func (bd *BlockData) Clone() *BlockData {
	if bd == nil {
		return nil
	}
	clone := &BlockData{
		SelectedParent: bd.SelectedParent.Clone(),
		MergeSetBlues:  externalapi.CloneHashes(bd.MergeSetBlues),
		MergeSetReds:   externalapi.CloneHashes(bd.MergeSetReds),
		BlueScore:      bd.BlueScore,
	}
	if bd.BlueWork != nil {
		clone.BlueWork = new(big.Int).Set(bd.BlueWork)
	}
	return clone
}

// Topology is the narrow view of DAG structure GHOSTDAG needs: direct
// parents and an ancestor test. Satisfied by *consensus.Store.
type Topology interface {
	Parents(blockHash *externalapi.DomainHash) ([]*externalapi.DomainHash, error)
	IsAncestorOf(blockHashA, blockHashB *externalapi.DomainHash) (bool, error)
}

// DataStore persists BlockData keyed by block hash. Satisfied by the
// engine-backed *Store in this package.
type DataStore interface {
	Get(blockHash *externalapi.DomainHash) (*BlockData, bool, error)
	Stage(batch storage.WriteBatch, blockHash *externalapi.DomainHash, data *BlockData)
}
