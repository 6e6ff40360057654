package escrow

import "github.com/pkg/errors"

// Sentinel validation errors for escrow payloads and verdicts (§4.5).
// Wrapped with errors.Wrapf for call-site context; callers compare
// against these with errors.Is.
var (
	ErrInvalidAmount              = errors.New("escrow: invalid amount")
	ErrInvalidTaskID              = errors.New("escrow: invalid task id")
	ErrInvalidChallengeWindow     = errors.New("escrow: invalid challenge window")
	ErrInvalidTimeoutBlocks       = errors.New("escrow: invalid timeout blocks")
	ErrInvalidChallengeDepositBps = errors.New("escrow: invalid challenge deposit bps")
	ErrInvalidArbitrationConfig   = errors.New("escrow: invalid arbitration config")
	ErrInvalidState               = errors.New("escrow: invalid state for this operation")
	ErrUnauthorized               = errors.New("escrow: unauthorized caller")
	ErrTimeoutNotReached          = errors.New("escrow: timeout not reached")
	ErrChallengeWindowExpired     = errors.New("escrow: challenge window expired")
	ErrChallengeDepositTooLow     = errors.New("escrow: challenge deposit too low")
	ErrAppealNotAllowed           = errors.New("escrow: appeal not allowed")
	ErrAppealDepositTooLow        = errors.New("escrow: appeal deposit too low")
	ErrAppealWindowExpired        = errors.New("escrow: appeal window expired")
	ErrInvalidVerdictAmounts      = errors.New("escrow: invalid verdict amounts")
	ErrInvalidVerdictRound        = errors.New("escrow: invalid verdict round")
	ErrThresholdNotMet            = errors.New("escrow: signature threshold not met")
	ErrInvalidSignature           = errors.New("escrow: invalid arbiter signature")
	ErrArbiterNotActive           = errors.New("escrow: arbiter not active")
	ErrArbiterStakeTooLow         = errors.New("escrow: arbiter stake too low")
	ErrArbiterNotAssigned         = errors.New("escrow: arbiter not assigned to this escrow")
	ErrInvalidReasonLength        = errors.New("escrow: invalid reason length")
	ErrInsufficientEscrowBalance  = errors.New("escrow: insufficient escrow balance")
	ErrOptimisticReleaseDisabled  = errors.New("escrow: optimistic release not enabled")
	ErrArbitrationNotConfigured   = errors.New("escrow: arbitration not configured")
	ErrDisputeRecordRequired      = errors.New("escrow: dispute record required")
	ErrDisputeAlreadyExists       = errors.New("escrow: dispute already exists")
	ErrAppealAlreadyExists        = errors.New("escrow: appeal already exists")
)
