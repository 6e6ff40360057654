package escrow

import (
	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/util/hashing"
)

// verdictDomainTag separates verdict message hashes from every other
// use of H(...) in the daemon.
var verdictDomainTag = []byte("TOS-ESCROW-VERDICT-v1")

// VerdictMessage returns the canonical message arbiters sign for a
// verdict: H(domain_tag ∥ chain_id ∥ escrow_id ∥ dispute_id ∥ round ∥
// outcome ∥ payer_amount ∥ payee_amount) (§4.5).
func VerdictMessage(chainID uint64, escrowID, disputeID *externalapi.DomainHash, round uint32, outcome externalapi.VerdictOutcome, payerAmount, payeeAmount uint64) []byte {
	return hashing.Keccak256(
		verdictDomainTag,
		hashing.PutUint64(chainID),
		escrowID.ByteSlice(),
		disputeID.ByteSlice(),
		hashing.PutUint32(round),
		[]byte{byte(outcome)},
		hashing.PutUint64(payerAmount),
		hashing.PutUint64(payeeAmount),
	).ByteSlice()
}

// VerifyVerdictSignatures checks that payload.Signatures contains at
// least requiredThreshold valid signatures over the verdict message,
// each from a distinct arbiter in allowedArbiters that registry
// reports as active and sufficiently staked.
func VerifyVerdictSignatures(
	verifier SignatureVerifier,
	payload *externalapi.SubmitVerdictPayload,
	chainID uint64,
	requiredThreshold uint8,
	registry ArbiterRegistry,
	allowedArbiters [][]byte,
) error {
	message := VerdictMessage(
		chainID,
		payload.EscrowID,
		payload.DisputeID,
		payload.Round,
		externalapi.DeriveVerdictOutcome(payload.PayerAmount, payload.PayeeAmount),
		payload.PayerAmount,
		payload.PayeeAmount,
	)

	minStake, err := registry.MinStake()
	if err != nil {
		return errors.Wrap(ErrArbiterNotActive, err.Error())
	}

	allowed := make(map[string]bool, len(allowedArbiters))
	for _, arbiter := range allowedArbiters {
		allowed[string(arbiter)] = true
	}

	counted := make(map[string]bool, len(payload.Signatures))
	var validCount uint8
	for _, sig := range payload.Signatures {
		key := string(sig.Arbiter)
		if !allowed[key] {
			return errors.Wrapf(ErrArbiterNotAssigned, "arbiter %x is not part of this escrow's arbitration config", sig.Arbiter)
		}
		if counted[key] {
			continue // a repeated signature from the same arbiter never adds to the threshold
		}

		isActive, err := registry.IsActive(sig.Arbiter)
		if err != nil {
			return err
		}
		if !isActive {
			return errors.Wrapf(ErrArbiterNotActive, "arbiter %x is not active", sig.Arbiter)
		}

		stake, err := registry.Stake(sig.Arbiter)
		if err != nil {
			return err
		}
		if stake < minStake {
			return errors.Wrapf(ErrArbiterStakeTooLow, "arbiter %x has stake %d, required %d", sig.Arbiter, stake, minStake)
		}

		if !verifier.Verify(sig.Arbiter, message, sig.Signature) {
			return errors.Wrapf(ErrInvalidSignature, "arbiter %x", sig.Arbiter)
		}

		counted[key] = true
		validCount++
	}

	if validCount < requiredThreshold {
		return errors.Wrapf(ErrThresholdNotMet, "required %d, found %d", requiredThreshold, validCount)
	}
	return nil
}

// RequiredThreshold resolves an arbitration config's effective
// signature threshold: the explicit value if set, else the mode's
// default (1 for Single, all-of-committee for Committee/DaoGovernance
// when unset).
func RequiredThreshold(config *externalapi.ArbitrationConfig) uint8 {
	if config.Threshold > 0 {
		return config.Threshold
	}
	switch config.Mode {
	case externalapi.ArbitrationModeSingle:
		return 1
	default:
		return uint8(len(config.Arbiters))
	}
}
