// Package scheduler implements spec.md §4.6's scheduled-execution
// scheduler as a pure state machine, grounded on
// original_source/daemon/src/tako_integration/scheduled_execution.rs's
// TosScheduledExecutionAdapter: validation, rate limiting, priority
// ordering, per-block caps with deferral, and cancellation all live here
// as plain functions over an Execution value; chainstate owns loading an
// Execution from the versioned store, staging it back, and moving actual
// balance for the offer burn/refund, the same split escrow draws between
// its own statemachine.go and chainstate's applyEscrow.
package scheduler

import (
	"bytes"
	"sort"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/storage"
)

// Kind distinguishes an execution due at a specific topoheight from one
// due at the end of whichever block it lands in.
type Kind uint8

const (
	// KindTopoHeight fires once TargetTopoheight is reached.
	KindTopoHeight Kind = iota
	// KindBlockEnd fires at the end of the block it was registered in
	// and is never deferred or cancellable.
	KindBlockEnd
)

// Status is an execution's lifecycle state.
type Status uint8

const (
	StatusPending Status = iota
	StatusExecuted
	StatusCancelled
	StatusFailed
	StatusExpired
)

const (
	// minScheduledGas is the floor on max_gas a submission must clear,
	// below which a contract could spam cheap no-op schedules.
	minScheduledGas = 10_000
	// maxInputDataSize bounds the calldata a scheduled execution carries,
	// to keep the versioned store from accumulating unbounded blobs.
	maxInputDataSize = 4096
	// maxOfferAmount caps a single offer to bound the amount any one
	// execution holds.
	maxOfferAmount = 1_000_000_000
	// maxSchedulingHorizon bounds how far in the future a TopoHeight
	// execution may target, so the due-set at any topoheight is bounded.
	maxSchedulingHorizon = 100_000
	// scheduleRateLimitWindow is the lookback (in topoheights) the rate
	// limiter counts a scheduler contract's recent submissions over.
	scheduleRateLimitWindow = 1_000
	// maxSchedulesPerContractPerWindow is the submission cap within
	// scheduleRateLimitWindow before RateLimitBypassOffer is required.
	maxSchedulesPerContractPerWindow = 100
	// rateLimitBypassOffer is the offer_amount at or above which the rate
	// limit is waived entirely (a high-value offer is its own spam cost).
	rateLimitBypassOffer = 100_000
	// offerBurnPercent is the fraction of an offer burned on submission;
	// chainstate holds the remainder, burns it when the execution runs
	// (crediting no miner account), or refunds it on cancellation.
	offerBurnPercent = 30
	// maxScheduledExecutionsPerBlock and maxScheduledExecutionGasPerBlock
	// cap how many executions (and how much gas) one block processes;
	// anything past either cap defers to the next topoheight.
	maxScheduledExecutionsPerBlock    = 64
	maxScheduledExecutionGasPerBlock  = 10_000_000
	// minCancelHorizon is the smallest (target - current) at which
	// cancellation is still allowed; the retrieved original source calls
	// this check out (can_cancel) without giving its constant, so this is
	// a chosen default keeping a one-topoheight-away execution
	// uncancellable while a hundred-away one is.
	minCancelHorizon = 2
)

// Execution is one scheduled contract invocation, spec.md §4.6's
// {hash, contract, chunk_id, input_data, max_gas, offer_amount,
// scheduler_contract, kind, registration_topoheight, defer_count, status}
// tuple.
type Execution struct {
	Hash                   *externalapi.DomainHash
	Contract               *externalapi.DomainHash
	ChunkID                uint16
	InputData              []byte
	MaxGas                 uint64
	OfferAmount            uint64
	SchedulerContract      *externalapi.DomainHash
	Kind                   Kind
	TargetTopoheight       storage.TopoHeight
	RegistrationTopoheight storage.TopoHeight
	DeferCount             uint32
	Status                 Status
}

// Submission is the caller-supplied request to schedule_execution, before
// a hash or registration topoheight has been assigned.
type Submission struct {
	Contract          *externalapi.DomainHash
	ChunkID           uint16
	InputData         []byte
	MaxGas            uint64
	OfferAmount       uint64
	SchedulerContract *externalapi.DomainHash
	Kind              Kind
	TargetTopoheight  storage.TopoHeight
}

// Validate checks a submission against spec.md §4.6's bounds, given the
// chain's current topoheight. It does not check the rate limit — that
// needs a count of recent submissions only the caller's store can supply;
// see RateLimited.
func Validate(sub *Submission, current storage.TopoHeight) error {
	if sub.MaxGas < minScheduledGas {
		return ErrGasTooLow
	}
	if len(sub.InputData) > maxInputDataSize {
		return ErrInputTooLarge
	}
	if sub.OfferAmount > maxOfferAmount {
		return ErrOfferTooHigh
	}
	if sub.Kind == KindTopoHeight {
		if sub.TargetTopoheight <= current {
			return ErrTargetInPast
		}
		if sub.TargetTopoheight-current > maxSchedulingHorizon {
			return ErrHorizonTooFar
		}
	}
	return nil
}

// RateLimited reports whether a submission with offerAmount must be
// rejected given recentCount prior submissions by the same scheduler
// contract within scheduleRateLimitWindow.
func RateLimited(recentCount uint64, offerAmount uint64) bool {
	if offerAmount >= rateLimitBypassOffer {
		return false
	}
	return recentCount >= maxSchedulesPerContractPerWindow
}

// RateLimitWindow returns the [from, to] topoheight range RateLimited's
// recentCount should be computed over, ending at current.
func RateLimitWindow(current storage.TopoHeight) (from, to storage.TopoHeight) {
	if current < scheduleRateLimitWindow {
		return 0, current
	}
	return current - scheduleRateLimitWindow, current
}

// BurnAmount is the 30% of offer burned immediately on submission.
func BurnAmount(offer uint64) uint64 {
	return offer * offerBurnPercent / 100
}

// MinerReward is the 70% of offer held after the submission burn.
// Chainstate burns it when the execution runs, crediting no miner
// account; Cancel returns it as the scheduler's refund.
func MinerReward(offer uint64) uint64 {
	return offer - BurnAmount(offer)
}

// New builds a pending Execution from a validated submission. hash is the
// transaction or contract-call hash it was registered under; Handle(hash)
// derives the u64 handle returned to the caller.
func New(hash *externalapi.DomainHash, sub *Submission, registrationTopoheight storage.TopoHeight) *Execution {
	targetTopoheight := sub.TargetTopoheight
	if sub.Kind == KindBlockEnd {
		targetTopoheight = registrationTopoheight
	}
	return &Execution{
		Hash:                   hash,
		Contract:               sub.Contract,
		ChunkID:                sub.ChunkID,
		InputData:              sub.InputData,
		MaxGas:                 sub.MaxGas,
		OfferAmount:            sub.OfferAmount,
		SchedulerContract:      sub.SchedulerContract,
		Kind:                   sub.Kind,
		TargetTopoheight:       targetTopoheight,
		RegistrationTopoheight: registrationTopoheight,
		Status:                 StatusPending,
	}
}

// Handle derives the u64 handle returned to a scheduling caller from the
// first 8 bytes of hash, big-endian.
func Handle(hash *externalapi.DomainHash) uint64 {
	b := hash.ByteSlice()
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(b[i])
	}
	return h
}

// CanCancel reports whether e may still be cancelled at current: it must
// be pending, not a BlockEnd execution, and far enough from its target
// topoheight.
func CanCancel(e *Execution, current storage.TopoHeight) bool {
	if e.Status != StatusPending {
		return false
	}
	if e.Kind == KindBlockEnd {
		return false
	}
	if e.TargetTopoheight <= current {
		return false
	}
	return e.TargetTopoheight-current >= minCancelHorizon
}

// Cancel marks e cancelled and returns the held 70% to refund to the
// scheduler contract, or an error if caller isn't the scheduler contract
// or e can't be cancelled right now.
func Cancel(e *Execution, caller []byte, current storage.TopoHeight) (refund uint64, err error) {
	if !bytes.Equal(caller, e.SchedulerContract.ByteSlice()) {
		return 0, ErrUnauthorizedCancel
	}
	if !CanCancel(e, current) {
		return 0, ErrCannotCancel
	}
	e.Status = StatusCancelled
	return MinerReward(e.OfferAmount), nil
}

// SortByPriority orders executions by offer_amount DESC, then
// registration_topoheight ASC, then hash ASC — spec.md §4.6's tiebreak
// chain for which due executions run first in a capacity-limited block.
func SortByPriority(executions []*Execution) {
	sort.Slice(executions, func(i, j int) bool {
		a, b := executions[i], executions[j]
		if a.OfferAmount != b.OfferAmount {
			return a.OfferAmount > b.OfferAmount
		}
		if a.RegistrationTopoheight != b.RegistrationTopoheight {
			return a.RegistrationTopoheight < b.RegistrationTopoheight
		}
		return bytes.Compare(a.Hash.ByteSlice(), b.Hash.ByteSlice()) < 0
	})
}

// SelectForBlock priority-sorts due, then splits it at
// maxScheduledExecutionsPerBlock / maxScheduledExecutionGasPerBlock: the
// executions that fit are returned to run this block, the rest are
// mutated in place (DeferCount incremented, Kind forced to KindTopoHeight,
// TargetTopoheight set to nextTopoheight) and returned as deferred for the
// caller to re-stage.
func SelectForBlock(due []*Execution, nextTopoheight storage.TopoHeight) (selected, deferred []*Execution) {
	SortByPriority(due)
	var gasUsed uint64
	for _, e := range due {
		if len(selected) >= maxScheduledExecutionsPerBlock || gasUsed+e.MaxGas > maxScheduledExecutionGasPerBlock {
			e.DeferCount++
			e.Kind = KindTopoHeight
			e.TargetTopoheight = nextTopoheight
			deferred = append(deferred, e)
			continue
		}
		selected = append(selected, e)
		gasUsed += e.MaxGas
	}
	return selected, deferred
}
