package externalapi

// EscrowState is the lifecycle state of an escrow account (§4.5).
type EscrowState uint8

const (
	EscrowStateCreated EscrowState = iota
	EscrowStateFunded
	EscrowStatePendingRelease
	EscrowStateChallenged
	EscrowStateResolved
	EscrowStateReleased
	EscrowStateRefunded
	EscrowStateExpired
)

// IsTerminal reports whether no further transitions are permitted out of
// this state (Released, Refunded, Expired).
func (s EscrowState) IsTerminal() bool {
	switch s {
	case EscrowStateReleased, EscrowStateRefunded, EscrowStateExpired:
		return true
	default:
		return false
	}
}

// ArbitrationMode selects who may submit a binding verdict for an
// escrow's dispute.
type ArbitrationMode uint8

const (
	ArbitrationModeNone ArbitrationMode = iota
	ArbitrationModeSingle
	ArbitrationModeCommittee
	ArbitrationModeDaoGovernance
)

// ArbitrationConfig is the arbiter set and signature threshold attached
// to an escrow at creation time.
type ArbitrationConfig struct {
	Mode        ArbitrationMode
	Arbiters    [][]byte // public keys
	Threshold   uint8    // 0 means "use mode default"
	FeeAmount   uint64
	AllowAppeal bool
}

// Clone returns a deep copy of the arbitration config.
func (c *ArbitrationConfig) Clone() *ArbitrationConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Arbiters = make([][]byte, len(c.Arbiters))
	for i, a := range c.Arbiters {
		clone.Arbiters[i] = append([]byte(nil), a...)
	}
	return &clone
}

// DisputeInfo records the dispute raised against a Challenged escrow.
type DisputeInfo struct {
	DisputeID  *DomainHash
	Round      uint32
	RaisedBy   []byte
	Reason     []byte
	RaisedAt   uint64
}

// AppealInfo records an appeal raised against a Resolved escrow.
type AppealInfo struct {
	RaisedBy []byte
	Deposit  uint64
	RaisedAt uint64
}

// VerdictResolution records one applied SubmitVerdict outcome.
type VerdictResolution struct {
	DisputeID    *DomainHash
	Round        uint32
	PayerAmount  uint64
	PayeeAmount  uint64
	ResolvedAt   uint64
}

// EscrowAccount is the on-chain record for one escrow (§3 "Escrow account").
type EscrowAccount struct {
	ID                   *DomainHash
	TaskID               string
	Payer                []byte
	Payee                []byte
	Amount               uint64
	TotalAmount          uint64
	ReleasedAmount       uint64
	RefundedAmount       uint64
	PendingReleaseAmount uint64
	HasPendingRelease    bool
	Asset                AssetID
	State                EscrowState
	ChallengeWindow      uint64
	ChallengeDepositBps  uint16
	OptimisticRelease    bool
	ReleaseRequestedAt   uint64
	HasReleaseRequestedAt bool
	CreatedAt            uint64
	UpdatedAt            uint64
	TimeoutAt            uint64
	TimeoutBlocks        uint64
	ArbitrationConfig    *ArbitrationConfig
	DisputeID            *DomainHash
	DisputeRound         uint32
	HasDisputeRound      bool
	Dispute              *DisputeInfo
	Appeal               *AppealInfo
	Resolutions          []VerdictResolution
}

// Clone returns a deep copy of the escrow account.
func (e *EscrowAccount) Clone() *EscrowAccount {
	if e == nil {
		return nil
	}
	clone := *e
	clone.ID = e.ID.Clone()
	clone.Payer = append([]byte(nil), e.Payer...)
	clone.Payee = append([]byte(nil), e.Payee...)
	clone.ArbitrationConfig = e.ArbitrationConfig.Clone()
	clone.DisputeID = e.DisputeID.Clone()
	if e.Dispute != nil {
		d := *e.Dispute
		d.DisputeID = e.Dispute.DisputeID.Clone()
		d.RaisedBy = append([]byte(nil), e.Dispute.RaisedBy...)
		d.Reason = append([]byte(nil), e.Dispute.Reason...)
		clone.Dispute = &d
	}
	if e.Appeal != nil {
		a := *e.Appeal
		a.RaisedBy = append([]byte(nil), e.Appeal.RaisedBy...)
		clone.Appeal = &a
	}
	clone.Resolutions = append([]VerdictResolution(nil), e.Resolutions...)
	return &clone
}

// VerdictOutcome is the derived shape of a submitted verdict, based on
// which side received a zero amount.
type VerdictOutcome uint8

const (
	VerdictOutcomePay VerdictOutcome = iota
	VerdictOutcomeRefund
	VerdictOutcomeSplit
)

// DeriveVerdictOutcome classifies a verdict by its payout split.
func DeriveVerdictOutcome(payerAmount, payeeAmount uint64) VerdictOutcome {
	switch {
	case payerAmount == 0:
		return VerdictOutcomePay
	case payeeAmount == 0:
		return VerdictOutcomeRefund
	default:
		return VerdictOutcomeSplit
	}
}

// ArbiterSignature is one arbiter's signature over a verdict message.
type ArbiterSignature struct {
	Arbiter   []byte
	Signature []byte
}

// CreateEscrowPayload opens a new escrow between the sender (payer) and
// a named payee.
type CreateEscrowPayload struct {
	TaskID              string
	Payee               []byte
	Amount              uint64
	Asset               AssetID
	TimeoutBlocks       uint64
	ChallengeWindow     uint64
	ChallengeDepositBps uint16
	OptimisticRelease   bool
	ArbitrationConfig   *ArbitrationConfig
}

// DepositEscrowPayload adds funds to a Created or Funded escrow.
type DepositEscrowPayload struct {
	EscrowID *DomainHash
	Amount   uint64
}

// ReleaseEscrowPayload requests release of funds to the payee.
type ReleaseEscrowPayload struct {
	EscrowID *DomainHash
	Amount   uint64
}

// RefundEscrowPayload returns funds to the payer.
type RefundEscrowPayload struct {
	EscrowID *DomainHash
	Amount   uint64
	Reason   []byte
}

// ChallengeEscrowPayload contests a pending release within the window.
type ChallengeEscrowPayload struct {
	EscrowID *DomainHash
	Deposit  uint64
}

// DisputeEscrowPayload opens formal arbitration over an escrow.
type DisputeEscrowPayload struct {
	EscrowID *DomainHash
	Reason   []byte
}

// AppealEscrowPayload contests a Resolved escrow's verdict.
type AppealEscrowPayload struct {
	EscrowID *DomainHash
	Deposit  uint64
}

// SubmitVerdictPayload carries a signed arbiter ruling on a dispute.
type SubmitVerdictPayload struct {
	EscrowID     *DomainHash
	DisputeID    *DomainHash
	Round        uint32
	PayerAmount  uint64
	PayeeAmount  uint64
	Signatures   []ArbiterSignature
}

// EscrowPayloadKind tags the variant carried by an EscrowPayload.
type EscrowPayloadKind uint8

const (
	EscrowPayloadKindCreate EscrowPayloadKind = iota
	EscrowPayloadKindDeposit
	EscrowPayloadKindRelease
	EscrowPayloadKindRefund
	EscrowPayloadKindChallenge
	EscrowPayloadKindDispute
	EscrowPayloadKindAppeal
	EscrowPayloadKindSubmitVerdict
)

// EscrowPayload is a thin tagged union over the escrow payload variants
// a transaction may carry. Exactly one of the typed fields is non-nil,
// selected by Kind.
type EscrowPayload struct {
	Kind          EscrowPayloadKind
	Create        *CreateEscrowPayload
	Deposit       *DepositEscrowPayload
	Release       *ReleaseEscrowPayload
	Refund        *RefundEscrowPayload
	Challenge     *ChallengeEscrowPayload
	Dispute       *DisputeEscrowPayload
	Appeal        *AppealEscrowPayload
	SubmitVerdict *SubmitVerdictPayload
}
