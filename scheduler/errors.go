package scheduler

import "github.com/pkg/errors"

var (
	// ErrGasTooLow is returned when a submission's max_gas is below
	// minScheduledGas.
	ErrGasTooLow = errors.New("scheduler: max gas below minimum")
	// ErrInputTooLarge is returned when input_data exceeds maxInputDataSize.
	ErrInputTooLarge = errors.New("scheduler: input data too large")
	// ErrOfferTooHigh is returned when offer_amount exceeds maxOfferAmount.
	ErrOfferTooHigh = errors.New("scheduler: offer amount too high")
	// ErrTargetInPast is returned when a TopoHeight submission's target is
	// not strictly greater than the current topoheight.
	ErrTargetInPast = errors.New("scheduler: target topoheight not in the future")
	// ErrHorizonTooFar is returned when target - current exceeds
	// maxSchedulingHorizon.
	ErrHorizonTooFar = errors.New("scheduler: target topoheight exceeds max scheduling horizon")
	// ErrRateLimited is returned when a scheduler contract has exceeded its
	// submission rate in the current window without a bypass-level offer.
	ErrRateLimited = errors.New("scheduler: rate limit exceeded")
	// ErrUnauthorizedCancel is returned when a cancellation is attempted by
	// anyone other than the execution's scheduler contract.
	ErrUnauthorizedCancel = errors.New("scheduler: only the scheduler contract may cancel")
	// ErrCannotCancel is returned when an execution is not pending, is a
	// BlockEnd execution, or is too close to its target topoheight.
	ErrCannotCancel = errors.New("scheduler: execution cannot be cancelled")
)
