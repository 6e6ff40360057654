package chainstate

import "github.com/pkg/errors"

var (
	// ErrNonceMismatch is returned when a transaction's nonce does not
	// match the sender account's expected next nonce (§4.3 compare-and-
	// swap nonce check).
	ErrNonceMismatch = errors.New("chainstate: nonce mismatch")
	// ErrInsufficientBalance is returned when a sender account does not
	// hold enough of an asset to cover a debit plus fee.
	ErrInsufficientBalance = errors.New("chainstate: insufficient balance")
	// ErrUnknownPayloadKind is returned for a DomainTransactionPayload
	// whose Kind does not match any dispatched case.
	ErrUnknownPayloadKind = errors.New("chainstate: unknown payload kind")
	// ErrMultiSigThresholdNotMet is returned when a transaction from a
	// multisig account does not carry enough valid participant
	// signatures to meet its configured threshold, and also when a
	// single-signature account's SenderSignature does not verify.
	ErrMultiSigThresholdNotMet = errors.New("chainstate: multisig threshold not met")
	// ErrMultiSigParticipantIndex is returned when a MultiSigSignature
	// names a participant index outside the account's configured set.
	ErrMultiSigParticipantIndex = errors.New("chainstate: multisig participant index out of range")
	// ErrContractNotFound is returned when InvokeContract names a
	// contract with no deployed module.
	ErrContractNotFound = errors.New("chainstate: contract not found")
	// ErrNoContractHarness is returned when InvokeContract/DeployContract
	// is applied without a ContractHarness wired into the ChainState.
	ErrNoContractHarness = errors.New("chainstate: no contract harness configured")
	// ErrEscrowNotFound is returned when an escrow payload names an
	// EscrowID with no corresponding staged or stored escrow account.
	ErrEscrowNotFound = errors.New("chainstate: escrow not found")
	// ErrScheduledExecutionNotFound is returned when a cancellation names
	// a hash with no corresponding staged or stored scheduled execution.
	ErrScheduledExecutionNotFound = errors.New("chainstate: scheduled execution not found")
)
