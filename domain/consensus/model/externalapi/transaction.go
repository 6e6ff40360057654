package externalapi

// AssetID identifies a fungible asset. The native coin uses TOSAsset.
type AssetID DomainHash

// TOSAsset is the hash of the native asset, the zero hash by convention.
var TOSAsset = AssetID{}

// ByteSlice returns the asset id as a byte slice.
func (asset AssetID) ByteSlice() []byte {
	return asset[:]
}

// String returns the asset id as a hexadecimal string.
func (asset AssetID) String() string {
	return DomainHash(asset).String()
}

// TransactionReference anchors a transaction's balance assumptions to
// the (topoheight, hash) pair it was built against (§3 "Reference").
type TransactionReference struct {
	Topoheight uint64
	Hash       *DomainHash
}

// PayloadKind tags the variant carried by a DomainTransactionPayload.
type PayloadKind uint8

const (
	PayloadKindTransfers PayloadKind = iota
	PayloadKindBurn
	PayloadKindMultiSig
	PayloadKindDeployContract
	PayloadKindInvokeContract
	PayloadKindEscrow
)

// Transfer is one destination/asset/amount leg of a Transfers payload.
type Transfer struct {
	Destination []byte // recipient public key
	Asset       AssetID
	Amount      uint64
	ExtraData   []byte
}

// BurnPayload destroys amount of asset from the sender, net of fee.
type BurnPayload struct {
	Asset  AssetID
	Amount uint64
}

// MultiSigPayload replaces the sender account's multisig configuration.
type MultiSigPayload struct {
	Threshold    uint8
	Participants [][]byte // public keys
}

// DeployContractPayload records a contract module's bytecode and an
// optional initial invocation.
type DeployContractPayload struct {
	ModuleBytes []byte
	Invoke      *InvokeContractPayload // optional, nil if none
}

// InvokeContractPayload invokes a chunk of an already-deployed contract.
type InvokeContractPayload struct {
	Contract   *DomainHash
	ChunkID    uint16
	MaxGas     uint64
	Parameters [][]byte
	Deposits   []Transfer
}

// DomainTransactionPayload is a thin tagged union over the payload
// variants a transaction may carry. Exactly one of the typed fields is
// non-nil, selected by Kind.
type DomainTransactionPayload struct {
	Kind            PayloadKind
	Transfers       []Transfer
	Burn            *BurnPayload
	MultiSig        *MultiSigPayload
	DeployContract  *DeployContractPayload
	InvokeContract  *InvokeContractPayload
	Escrow          *EscrowPayload
}

// MultiSigSignature is one signature over a transaction hash,
// attributable to a specific participant of the sender's multisig set.
type MultiSigSignature struct {
	ParticipantIndex uint8
	Signature        []byte
}

// DomainTransaction is the domain representation of a transaction.
type DomainTransaction struct {
	Version            uint16
	SenderPublicKey     []byte
	Nonce               uint64
	Fee                 uint64
	Reference           TransactionReference
	Payload             DomainTransactionPayload
	MultiSigSignatures  []MultiSigSignature
	SenderSignature     []byte

	// Hash is a slot for the transaction's content hash. No hashing
	// routine sets or reads it, so it is nil unless a caller sets it.
	Hash *DomainHash
}

// Clone returns a deep copy of the transaction.
func (tx *DomainTransaction) Clone() *DomainTransaction {
	if tx == nil {
		return nil
	}
	clone := *tx
	clone.SenderPublicKey = append([]byte(nil), tx.SenderPublicKey...)
	clone.SenderSignature = append([]byte(nil), tx.SenderSignature...)
	clone.Reference.Hash = tx.Reference.Hash.Clone()
	clone.MultiSigSignatures = append([]MultiSigSignature(nil), tx.MultiSigSignatures...)
	clone.Hash = tx.Hash.Clone()
	return &clone
}
