package consensushashing

import (
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/util/hashing"
)

// transactionDomainTag separates transaction hashes from every other
// use of H(...) in the daemon.
var transactionDomainTag = []byte("TOS-TRANSACTION-v1")

// TransactionSigningHash returns the hash the sender (and, for a
// multisig account, every participant) signs: H(domain_tag ∥ every
// field of tx except SenderSignature and MultiSigSignatures). Excluding
// the signatures themselves keeps the signed message independent of
// who has signed so far.
func TransactionSigningHash(tx *externalapi.DomainTransaction) *externalapi.DomainHash {
	parts := [][]byte{transactionDomainTag, hashing.PutUint64(uint64(tx.Version))}
	parts = append(parts, tx.SenderPublicKey)
	parts = append(parts, hashing.PutUint64(tx.Nonce))
	parts = append(parts, hashing.PutUint64(tx.Fee))
	parts = append(parts, hashing.PutUint64(tx.Reference.Topoheight))
	referenceHash := tx.Reference.Hash
	if referenceHash == nil {
		referenceHash = &externalapi.DomainHash{}
	}
	parts = append(parts, referenceHash.ByteSlice())
	parts = append(parts, payloadParts(&tx.Payload)...)
	return hashing.Keccak256(parts...)
}

// TransactionHash returns a transaction's content hash, covering its
// signing hash plus every signature it carries. Two transactions that
// differ only in which multisig participants have signed so far hash
// differently, so it is not suitable as a dedup key mid-collection;
// use TransactionSigningHash for that.
func TransactionHash(tx *externalapi.DomainTransaction) *externalapi.DomainHash {
	parts := [][]byte{TransactionSigningHash(tx).ByteSlice(), tx.SenderSignature}
	for _, sig := range tx.MultiSigSignatures {
		parts = append(parts, []byte{sig.ParticipantIndex}, sig.Signature)
	}
	return hashing.Keccak256(parts...)
}

func payloadParts(payload *externalapi.DomainTransactionPayload) [][]byte {
	parts := [][]byte{{byte(payload.Kind)}}
	switch payload.Kind {
	case externalapi.PayloadKindTransfers:
		for _, t := range payload.Transfers {
			parts = append(parts, t.Destination, t.Asset.ByteSlice(), hashing.PutUint64(t.Amount), t.ExtraData)
		}
	case externalapi.PayloadKindBurn:
		if payload.Burn != nil {
			parts = append(parts, payload.Burn.Asset.ByteSlice(), hashing.PutUint64(payload.Burn.Amount))
		}
	case externalapi.PayloadKindMultiSig:
		if payload.MultiSig != nil {
			parts = append(parts, []byte{payload.MultiSig.Threshold})
			for _, p := range payload.MultiSig.Participants {
				parts = append(parts, p)
			}
		}
	case externalapi.PayloadKindDeployContract:
		if payload.DeployContract != nil {
			parts = append(parts, payload.DeployContract.ModuleBytes)
			if payload.DeployContract.Invoke != nil {
				parts = append(parts, invokeContractParts(payload.DeployContract.Invoke)...)
			}
		}
	case externalapi.PayloadKindInvokeContract:
		if payload.InvokeContract != nil {
			parts = append(parts, invokeContractParts(payload.InvokeContract)...)
		}
	case externalapi.PayloadKindEscrow:
		if payload.Escrow != nil {
			parts = append(parts, escrowPayloadParts(payload.Escrow)...)
		}
	}
	return parts
}

func invokeContractParts(invoke *externalapi.InvokeContractPayload) [][]byte {
	contract := invoke.Contract
	if contract == nil {
		// A nil Contract means "the module this DeployContract is
		// defining" (a deploy-and-invoke-in-one-transaction), which has
		// no hash yet at signing time.
		contract = &externalapi.DomainHash{}
	}
	parts := [][]byte{
		contract.ByteSlice(),
		hashing.PutUint64(uint64(invoke.ChunkID)),
		hashing.PutUint64(invoke.MaxGas),
	}
	for _, p := range invoke.Parameters {
		parts = append(parts, p)
	}
	for _, d := range invoke.Deposits {
		parts = append(parts, d.Destination, d.Asset.ByteSlice(), hashing.PutUint64(d.Amount), d.ExtraData)
	}
	return parts
}

func escrowPayloadParts(payload *externalapi.EscrowPayload) [][]byte {
	parts := [][]byte{{byte(payload.Kind)}}
	switch payload.Kind {
	case externalapi.EscrowPayloadKindCreate:
		c := payload.Create
		if c != nil {
			parts = append(parts, []byte(c.TaskID), c.Payee, hashing.PutUint64(c.Amount), c.Asset.ByteSlice(),
				hashing.PutUint64(c.TimeoutBlocks), hashing.PutUint64(c.ChallengeWindow), hashing.PutUint64(uint64(c.ChallengeDepositBps)))
			optimisticRelease := []byte{0}
			if c.OptimisticRelease {
				optimisticRelease[0] = 1
			}
			parts = append(parts, optimisticRelease)
			if c.ArbitrationConfig != nil {
				allowAppeal := []byte{0}
				if c.ArbitrationConfig.AllowAppeal {
					allowAppeal[0] = 1
				}
				parts = append(parts, []byte{byte(c.ArbitrationConfig.Mode), c.ArbitrationConfig.Threshold},
					hashing.PutUint64(c.ArbitrationConfig.FeeAmount), allowAppeal)
				for _, a := range c.ArbitrationConfig.Arbiters {
					parts = append(parts, a)
				}
			}
		}
	case externalapi.EscrowPayloadKindDeposit:
		d := payload.Deposit
		if d != nil {
			parts = append(parts, safeHashBytes(d.EscrowID), hashing.PutUint64(d.Amount))
		}
	case externalapi.EscrowPayloadKindRelease:
		r := payload.Release
		if r != nil {
			parts = append(parts, safeHashBytes(r.EscrowID), hashing.PutUint64(r.Amount))
		}
	case externalapi.EscrowPayloadKindRefund:
		r := payload.Refund
		if r != nil {
			parts = append(parts, safeHashBytes(r.EscrowID), hashing.PutUint64(r.Amount), r.Reason)
		}
	case externalapi.EscrowPayloadKindChallenge:
		c := payload.Challenge
		if c != nil {
			parts = append(parts, safeHashBytes(c.EscrowID), hashing.PutUint64(c.Deposit))
		}
	case externalapi.EscrowPayloadKindDispute:
		d := payload.Dispute
		if d != nil {
			parts = append(parts, safeHashBytes(d.EscrowID), d.Reason)
		}
	case externalapi.EscrowPayloadKindAppeal:
		a := payload.Appeal
		if a != nil {
			parts = append(parts, safeHashBytes(a.EscrowID), hashing.PutUint64(a.Deposit))
		}
	case externalapi.EscrowPayloadKindSubmitVerdict:
		v := payload.SubmitVerdict
		if v != nil {
			parts = append(parts, safeHashBytes(v.EscrowID), safeHashBytes(v.DisputeID), hashing.PutUint64(uint64(v.Round)),
				hashing.PutUint64(v.PayerAmount), hashing.PutUint64(v.PayeeAmount))
			for _, sig := range v.Signatures {
				parts = append(parts, sig.Arbiter, sig.Signature)
			}
		}
	}
	return parts
}

// safeHashBytes returns hash's bytes, or the zero hash's if hash is nil
// (a malformed transaction should hash to something stable, not panic).
func safeHashBytes(hash *externalapi.DomainHash) []byte {
	if hash == nil {
		return make([]byte, externalapi.DomainHashSize)
	}
	return hash.ByteSlice()
}
