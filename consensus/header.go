package consensus

import (
	"sort"

	"github.com/tos-network/tosd/contract"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

// MaxParents bounds how many DAG parents a single header may name.
// The teacher's dagconfig carried no explicit bound for this (GHOSTDAG
// itself is parameterized by k, not a parent-count cap); 10 is a
// conservative ceiling on merge-set size per block so a single block
// cannot force an unbounded GHOSTDAG computation.
const MaxParents = 10

// pastMedianTimeWindow is the number of blocks walked back along the
// first-listed parent to compute past median time, matching Bitcoin's
// and kaspa's 11-block median-time-past window. GHOSTDAG has not yet
// chosen a selected parent when a header is first validated, so the
// walk follows ParentHashes[0] as a stand-in for the selected-parent
// chain; see DESIGN.md for why this is an accepted approximation.
const pastMedianTimeWindow = 11

// ValidateHeader checks header in isolation and against its already-known
// parents (the caller has already confirmed every parent exists in
// store). It does not check GHOSTDAG/blue-work properties; that is
// Manager.GHOSTDAG's job once the header passes this validation.
func (p *Processor) ValidateHeader(header *externalapi.DomainBlockHeader) error {
	if header.IsGenesis() {
		return nil
	}
	if len(header.ParentHashes) == 0 {
		return ErrNoParents
	}
	if len(header.ParentHashes) > MaxParents {
		return ErrTooManyParents
	}

	medianTime, err := p.pastMedianTime(header.ParentHashes[0])
	if err != nil {
		return err
	}
	if header.TimeInMilliseconds <= medianTime {
		return ErrTimestampTooOld
	}

	headerHash := headerHash(header)
	vrf := vrfDataFromHeader(header)
	if err := contract.ValidateVRF(vrf, headerHash); err != nil {
		return err
	}

	return nil
}

// pastMedianTime returns the median timestamp of up to
// pastMedianTimeWindow headers walking back from (and including) from.
func (p *Processor) pastMedianTime(from *externalapi.DomainHash) (int64, error) {
	times := make([]int64, 0, pastMedianTimeWindow)
	current := from
	for i := 0; i < pastMedianTimeWindow && current != nil; i++ {
		header, err := p.store.Header(current)
		if err != nil {
			return 0, err
		}
		times = append(times, header.TimeInMilliseconds)
		if header.IsGenesis() {
			break
		}
		current = header.ParentHashes[0]
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times[len(times)/2], nil
}

func vrfDataFromHeader(header *externalapi.DomainBlockHeader) *contract.VRFData {
	if !header.HasVRF() {
		return nil
	}
	return &contract.VRFData{
		MinerPublicKey: header.VRFPublicKey,
		Output:         header.VRFOutput,
		Proof:          header.VRFProof,
	}
}
