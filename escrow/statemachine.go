// Package escrow implements the escrow/arbitration state machine
// (§4.5): validating and applying the eight escrow payload variants
// against an externalapi.EscrowAccount, independent of how the
// account was loaded from or will be written back to the versioned
// store (that wiring lives in chainstate).
package escrow

import (
	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

const (
	maxTaskIDLen          = 256
	maxReasonLen          = 1024
	maxBasisPoints        = 10_000
	minTimeoutBlocks      = 10
	maxTimeoutBlocks      = 525_600
	minAppealDepositBps   = 500
)

// ValidateCreateEscrow checks a CreateEscrow payload statelessly,
// per spec.md §4.5.
func ValidateCreateEscrow(payload *externalapi.CreateEscrowPayload, payer []byte) error {
	if payload.Amount == 0 {
		return ErrInvalidAmount
	}
	if len(payload.TaskID) == 0 || len(payload.TaskID) > maxTaskIDLen {
		return ErrInvalidTaskID
	}
	if payload.TimeoutBlocks < minTimeoutBlocks || payload.TimeoutBlocks > maxTimeoutBlocks {
		return ErrInvalidTimeoutBlocks
	}
	if payload.ChallengeWindow == 0 {
		return ErrInvalidChallengeWindow
	}
	if payload.ChallengeDepositBps > maxBasisPoints {
		return ErrInvalidChallengeDepositBps
	}
	if string(payload.Payee) == string(payer) {
		return errors.Wrap(ErrInvalidArbitrationConfig, "payee must differ from payer")
	}

	config := payload.ArbitrationConfig
	if payload.OptimisticRelease && config == nil {
		return errors.Wrap(ErrArbitrationNotConfigured, "optimistic release requires an arbitration config")
	}
	if config != nil {
		if err := validateArbitrationConfig(config); err != nil {
			return err
		}
	}
	return nil
}

func validateArbitrationConfig(config *externalapi.ArbitrationConfig) error {
	if config.Mode == externalapi.ArbitrationModeNone {
		return errors.Wrap(ErrInvalidArbitrationConfig, "mode must not be None")
	}
	switch config.Mode {
	case externalapi.ArbitrationModeSingle:
		if len(config.Arbiters) != 1 {
			return errors.Wrap(ErrInvalidArbitrationConfig, "single arbitration requires exactly one arbiter")
		}
		if config.Threshold != 0 && config.Threshold != 1 {
			return errors.Wrap(ErrInvalidArbitrationConfig, "single arbitration threshold must be 1 if set")
		}
	case externalapi.ArbitrationModeCommittee, externalapi.ArbitrationModeDaoGovernance:
		if len(config.Arbiters) == 0 {
			return errors.Wrap(ErrInvalidArbitrationConfig, "committee/dao arbitration requires at least one arbiter")
		}
		if config.Threshold != 0 && (int(config.Threshold) < 1 || int(config.Threshold) > len(config.Arbiters)) {
			return errors.Wrap(ErrInvalidArbitrationConfig, "threshold out of range [1, len(arbiters)]")
		}
	}
	return nil
}

// NewEscrowFromCreate builds the initial EscrowAccount record for a
// validated CreateEscrow payload.
func NewEscrowFromCreate(id *externalapi.DomainHash, payer []byte, payload *externalapi.CreateEscrowPayload, createdAt uint64) *externalapi.EscrowAccount {
	return &externalapi.EscrowAccount{
		ID:                  id,
		TaskID:              payload.TaskID,
		Payer:               append([]byte(nil), payer...),
		Payee:               append([]byte(nil), payload.Payee...),
		TotalAmount:         payload.Amount,
		Asset:               payload.Asset,
		State:               externalapi.EscrowStateCreated,
		ChallengeWindow:     payload.ChallengeWindow,
		ChallengeDepositBps: payload.ChallengeDepositBps,
		OptimisticRelease:   payload.OptimisticRelease,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
		TimeoutBlocks:       payload.TimeoutBlocks,
		TimeoutAt:           createdAt + payload.TimeoutBlocks,
		ArbitrationConfig:   payload.ArbitrationConfig.Clone(),
	}
}

// ApplyDeposit validates and applies a DepositEscrow payload.
func ApplyDeposit(e *externalapi.EscrowAccount, payload *externalapi.DepositEscrowPayload, currentHeight uint64) error {
	if payload.Amount == 0 {
		return ErrInvalidAmount
	}
	if e.State != externalapi.EscrowStateCreated && e.State != externalapi.EscrowStateFunded {
		return ErrInvalidState
	}
	e.Amount += payload.Amount
	e.TotalAmount += payload.Amount
	e.State = externalapi.EscrowStateFunded
	e.UpdatedAt = currentHeight
	return nil
}

// ApplyRelease validates and applies a ReleaseEscrow payload. The
// stateful check escrow_balance >= amount is the caller's
// responsibility (chainstate knows the escrow's contract-balance
// view); pass escrowBalance as that figure, or an arbitrarily large
// value to skip the check for the stateless variant.
func ApplyRelease(e *externalapi.EscrowAccount, payload *externalapi.ReleaseEscrowPayload, caller []byte, currentHeight, escrowBalance uint64) error {
	if payload.Amount == 0 || payload.Amount > e.Amount {
		return ErrInvalidAmount
	}
	if string(caller) != string(e.Payee) {
		return ErrUnauthorized
	}
	if e.State != externalapi.EscrowStateFunded {
		return ErrInvalidState
	}
	if !e.OptimisticRelease {
		return ErrOptimisticReleaseDisabled
	}
	if escrowBalance < payload.Amount {
		return errors.Wrapf(ErrInsufficientEscrowBalance, "required %d, available %d", payload.Amount, escrowBalance)
	}

	e.State = externalapi.EscrowStatePendingRelease
	e.PendingReleaseAmount = payload.Amount
	e.HasPendingRelease = true
	e.ReleaseRequestedAt = currentHeight
	e.HasReleaseRequestedAt = true
	e.UpdatedAt = currentHeight
	return nil
}

// ApplyRefund validates and applies a RefundEscrow payload.
func ApplyRefund(e *externalapi.EscrowAccount, payload *externalapi.RefundEscrowPayload, caller []byte, currentHeight uint64) error {
	if payload.Amount == 0 || payload.Amount > e.Amount {
		return ErrInvalidAmount
	}
	if len(payload.Reason) > maxReasonLen {
		return ErrInvalidReasonLength
	}

	if currentHeight < e.TimeoutAt {
		if string(caller) != string(e.Payee) {
			return ErrUnauthorized
		}
		if e.State != externalapi.EscrowStateFunded && e.State != externalapi.EscrowStatePendingRelease {
			return ErrInvalidState
		}
	} else if e.State.IsTerminal() {
		return ErrInvalidState
	}

	e.RefundedAmount += payload.Amount
	e.State = externalapi.EscrowStateRefunded
	e.UpdatedAt = currentHeight
	return nil
}

// ApplyChallenge validates and applies a ChallengeEscrow payload.
func ApplyChallenge(e *externalapi.EscrowAccount, payload *externalapi.ChallengeEscrowPayload, caller []byte, currentHeight uint64) error {
	if string(caller) != string(e.Payer) {
		return ErrUnauthorized
	}
	if e.State != externalapi.EscrowStatePendingRelease {
		return ErrInvalidState
	}
	if !e.OptimisticRelease || e.ArbitrationConfig == nil {
		return ErrArbitrationNotConfigured
	}
	if !e.HasReleaseRequestedAt || currentHeight > e.ReleaseRequestedAt+e.ChallengeWindow {
		return ErrChallengeWindowExpired
	}
	required := e.PendingReleaseAmount * uint64(e.ChallengeDepositBps) / maxBasisPoints
	if payload.Deposit < required {
		return errors.Wrapf(ErrChallengeDepositTooLow, "required %d, got %d", required, payload.Deposit)
	}

	e.State = externalapi.EscrowStateChallenged
	e.UpdatedAt = currentHeight
	return nil
}

// ApplyDispute validates and applies a DisputeEscrow payload, opening
// formal arbitration. disputeID is the hash assigned to the new
// dispute record (derived by chainstate from the triggering tx hash).
func ApplyDispute(e *externalapi.EscrowAccount, payload *externalapi.DisputeEscrowPayload, caller []byte, disputeID *externalapi.DomainHash, currentHeight uint64) error {
	if string(caller) != string(e.Payer) && string(caller) != string(e.Payee) {
		return ErrUnauthorized
	}
	switch e.State {
	case externalapi.EscrowStateFunded, externalapi.EscrowStatePendingRelease, externalapi.EscrowStateChallenged:
	default:
		return ErrInvalidState
	}
	if e.Dispute != nil {
		return ErrDisputeAlreadyExists
	}
	if e.ArbitrationConfig == nil {
		return ErrArbitrationNotConfigured
	}

	e.Dispute = &externalapi.DisputeInfo{
		DisputeID: disputeID,
		Round:     0,
		RaisedBy:  append([]byte(nil), caller...),
		Reason:    append([]byte(nil), payload.Reason...),
		RaisedAt:  currentHeight,
	}
	e.DisputeID = disputeID
	e.State = externalapi.EscrowStateChallenged
	e.UpdatedAt = currentHeight
	return nil
}

// ApplyAppeal validates and applies an AppealEscrow payload.
func ApplyAppeal(e *externalapi.EscrowAccount, payload *externalapi.AppealEscrowPayload, caller []byte, currentHeight uint64) error {
	if string(caller) != string(e.Payer) && string(caller) != string(e.Payee) {
		return ErrUnauthorized
	}
	if e.State != externalapi.EscrowStateResolved {
		return ErrInvalidState
	}
	if e.Dispute == nil {
		return ErrDisputeRecordRequired
	}
	if e.Appeal != nil {
		return ErrAppealAlreadyExists
	}
	if e.ArbitrationConfig == nil || !e.ArbitrationConfig.AllowAppeal {
		return ErrAppealNotAllowed
	}
	if currentHeight >= e.TimeoutAt {
		return ErrAppealWindowExpired
	}
	required := e.TotalAmount * minAppealDepositBps / maxBasisPoints
	if payload.Deposit < required {
		return errors.Wrapf(ErrAppealDepositTooLow, "required %d, got %d", required, payload.Deposit)
	}

	e.Appeal = &externalapi.AppealInfo{
		RaisedBy: append([]byte(nil), caller...),
		Deposit:  payload.Deposit,
		RaisedAt: currentHeight,
	}
	e.State = externalapi.EscrowStateChallenged
	e.UpdatedAt = currentHeight
	return nil
}

// ApplySubmitVerdict validates payload against e's state (not its
// signatures — call VerifyVerdictSignatures first) and, once valid,
// applies the payout split and marks the escrow Resolved.
func ApplySubmitVerdict(e *externalapi.EscrowAccount, payload *externalapi.SubmitVerdictPayload, currentHeight uint64) error {
	if e.State != externalapi.EscrowStateChallenged {
		return ErrInvalidState
	}
	if e.Dispute == nil {
		return ErrDisputeRecordRequired
	}
	if e.ArbitrationConfig == nil {
		return ErrArbitrationNotConfigured
	}
	if e.DisputeID != nil && !e.DisputeID.Equal(payload.DisputeID) {
		return ErrInvalidVerdictRound
	}
	if e.HasDisputeRound {
		if payload.Round <= e.DisputeRound {
			return ErrInvalidVerdictRound
		}
	} else if payload.Round != 0 {
		return ErrInvalidVerdictRound
	}

	total := payload.PayerAmount + payload.PayeeAmount
	if total != e.Amount {
		return ErrInvalidVerdictAmounts
	}

	e.ReleasedAmount += payload.PayeeAmount
	e.RefundedAmount += payload.PayerAmount
	e.DisputeRound = payload.Round
	e.HasDisputeRound = true
	e.State = externalapi.EscrowStateResolved
	e.UpdatedAt = currentHeight
	e.Resolutions = append(e.Resolutions, externalapi.VerdictResolution{
		DisputeID:   payload.DisputeID,
		Round:       payload.Round,
		PayerAmount: payload.PayerAmount,
		PayeeAmount: payload.PayeeAmount,
		ResolvedAt:  currentHeight,
	})
	return nil
}

// MaybeAutoRelease implements the automatic PendingRelease → Released
// transition on challenge-window expiry. Returns true (and the amount
// to credit the payee) if the transition fired.
func MaybeAutoRelease(e *externalapi.EscrowAccount, currentHeight uint64) (amount uint64, fired bool) {
	if e.State != externalapi.EscrowStatePendingRelease {
		return 0, false
	}
	if !e.HasReleaseRequestedAt || currentHeight <= e.ReleaseRequestedAt+e.ChallengeWindow {
		return 0, false
	}
	amount = e.PendingReleaseAmount
	e.ReleasedAmount += amount
	e.State = externalapi.EscrowStateReleased
	e.HasPendingRelease = false
	e.UpdatedAt = currentHeight
	return amount, true
}
