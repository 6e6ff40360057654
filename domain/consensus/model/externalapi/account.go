package externalapi

// MultiSigConfig is the multisig configuration attached to an account,
// set by a MultiSig payload (§4.4).
type MultiSigConfig struct {
	Threshold    uint8
	Participants [][]byte // public keys, indexed by MultiSigSignature.ParticipantIndex
}

// Account is the per-public-key state tracked by the chain (§3 "Account
// state"). It is created implicitly on first balance credit, with
// Nonce starting at zero, and is never deleted.
type Account struct {
	PublicKey []byte
	Nonce     uint64
	Balances  map[AssetID]uint64
	MultiSig  *MultiSigConfig
}

// NewAccount returns a freshly registered account with zero balances.
func NewAccount(publicKey []byte) *Account {
	return &Account{
		PublicKey: append([]byte(nil), publicKey...),
		Balances:  make(map[AssetID]uint64),
	}
}

// Balance returns the account's balance of asset, or zero if untouched.
func (a *Account) Balance(asset AssetID) uint64 {
	return a.Balances[asset]
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{
		PublicKey: append([]byte(nil), a.PublicKey...),
		Nonce:     a.Nonce,
		Balances:  make(map[AssetID]uint64, len(a.Balances)),
	}
	for asset, amount := range a.Balances {
		clone.Balances[asset] = amount
	}
	if a.MultiSig != nil {
		ms := *a.MultiSig
		ms.Participants = make([][]byte, len(a.MultiSig.Participants))
		for i, p := range a.MultiSig.Participants {
			ms.Participants[i] = append([]byte(nil), p...)
		}
		clone.MultiSig = &ms
	}
	return clone
}
