package contract

import "github.com/pkg/errors"

// The error taxonomy at the harness boundary, per §4.7: these are the
// outcomes a deploy/invoke dispatch can surface to the caller beyond
// whatever the VM itself returns.
var (
	// ErrInvalidBytecode is returned when a module fails the harness's
	// own bytecode sanity checks before ever reaching the VM.
	ErrInvalidBytecode = errors.New("contract: invalid bytecode")
	// ErrComputeBudgetExceeded is returned when a gas limit above
	// MaxComputeBudget is requested, or the VM reports it ran out.
	ErrComputeBudgetExceeded = errors.New("contract: compute budget exceeded")
	// ErrLoadedDataLimitExceeded is returned when a contract's input
	// parameters exceed the harness's loaded-data ceiling.
	ErrLoadedDataLimitExceeded = errors.New("contract: loaded data limit exceeded")
	// ErrSyscallRegistrationFailed is returned when the VM adapter
	// could not wire its host-function imports.
	ErrSyscallRegistrationFailed = errors.New("contract: syscall registration failed")
	// ErrPrecompileVerificationFailed is declared for a precompile's own
	// input-validation failures; nothing in this repository returns it
	// (the nft functions return their ErrNFT* errors and plain errors).
	ErrPrecompileVerificationFailed = errors.New("contract: precompile verification failed")
	// ErrVrfValidationFailed is returned when a block carries VRF data
	// that does not verify against the expected BLAKE3 input.
	ErrVrfValidationFailed = errors.New("contract: VRF validation failed")
)
