package chainstate

import (
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/scheduler"
	"github.com/tos-network/tosd/storage"
)

var (
	accountBucket            = []byte("chainstate-accounts")
	escrowBucket             = []byte("chainstate-escrows")
	arbiterBucket            = []byte("chainstate-arbiters")
	contractBucket           = []byte("chainstate-contracts")
	burnedBucket             = []byte("chainstate-burned")
	scheduledExecutionBucket = []byte("chainstate-scheduled-executions")
	contractStorageBucket    = []byte("chainstate-contract-storage")
)

// contractStorageKey scopes a contract's key-value cache (§4.7's
// "contract-storage cache") to its own namespace within the shared
// bucket: contract hash followed by the caller-chosen key.
func contractStorageKey(contract *externalapi.DomainHash, key []byte) []byte {
	return append(append([]byte{}, contract.ByteSlice()...), key...)
}

// ArbiterRecord is the chain-state view of one registered arbiter,
// backing the escrow package's ArbiterRegistry interface.
type ArbiterRecord struct {
	Active bool
	Stake  uint64
}

// Store is the versioned-storage-backed persistence layer ChainState
// stages its changes into. It mirrors the teacher's per-store
// Stage/Commit split: reads go straight through to storage.Engine (with
// staged overrides checked first by ChainState), writes land in a
// storage.WriteBatch handed in at commit time.
type Store struct {
	engine storage.Engine
}

// NewStore wraps engine as a chain-state persistence layer.
func NewStore(engine storage.Engine) *Store {
	return &Store{engine: engine}
}

// Account returns the account registered for publicKey at or below
// topoheight, or a freshly zeroed account if none exists yet (accounts
// are created implicitly on first balance credit, per
// externalapi.Account's doc comment).
func (s *Store) Account(publicKey []byte, topoheight storage.TopoHeight) (*externalapi.Account, error) {
	value, _, err := s.engine.GetAtMaxTopoheight(accountBucket, publicKey, topoheight)
	if err == storage.ErrNotFound {
		return externalapi.NewAccount(publicKey), nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeAccount(value)
}

// PutAccount stages account into batch at topoheight.
func (s *Store) PutAccount(batch storage.WriteBatch, account *externalapi.Account, topoheight storage.TopoHeight) {
	batch.SetLastTo(accountBucket, account.PublicKey, topoheight, serializeAccount(account))
}

// Escrow returns the escrow account with the given id at or below
// topoheight.
func (s *Store) Escrow(id *externalapi.DomainHash, topoheight storage.TopoHeight) (*externalapi.EscrowAccount, error) {
	value, _, err := s.engine.GetAtMaxTopoheight(escrowBucket, id.ByteSlice(), topoheight)
	if err != nil {
		return nil, err
	}
	return deserializeEscrow(value)
}

// HasEscrow reports whether an escrow with the given id exists.
func (s *Store) HasEscrow(id *externalapi.DomainHash, topoheight storage.TopoHeight) (bool, error) {
	return s.engine.Has(escrowBucket, id.ByteSlice(), topoheight)
}

// PutEscrow stages escrow into batch at topoheight.
func (s *Store) PutEscrow(batch storage.WriteBatch, escrow *externalapi.EscrowAccount, topoheight storage.TopoHeight) {
	batch.SetLastTo(escrowBucket, escrow.ID.ByteSlice(), topoheight, serializeEscrow(escrow))
}

// IterateEscrows walks every escrow whose newest version is at or below
// topoheight, used by MaybeAutoRelease's once-per-block sweep.
func (s *Store) IterateEscrows(topoheight storage.TopoHeight, fn func(*externalapi.EscrowAccount) error) error {
	return s.engine.Iterate(escrowBucket, topoheight, func(_, value []byte) (bool, error) {
		escrow, err := deserializeEscrow(value)
		if err != nil {
			return false, err
		}
		if err := fn(escrow); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Arbiter returns the registration record for an arbiter public key, or
// nil if it was never registered.
func (s *Store) Arbiter(publicKey []byte, topoheight storage.TopoHeight) (*ArbiterRecord, error) {
	value, _, err := s.engine.GetAtMaxTopoheight(arbiterBucket, publicKey, topoheight)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return deserializeArbiterRecord(value)
}

// PutArbiter stages an arbiter registration record into batch.
func (s *Store) PutArbiter(batch storage.WriteBatch, publicKey []byte, record *ArbiterRecord, topoheight storage.TopoHeight) {
	batch.SetLastTo(arbiterBucket, publicKey, topoheight, serializeArbiterRecord(record))
}

// ContractModule returns the deployed bytecode for a contract hash, or
// (nil, false) if no module is deployed there.
func (s *Store) ContractModule(contract *externalapi.DomainHash, topoheight storage.TopoHeight) ([]byte, bool, error) {
	value, _, err := s.engine.GetAtMaxTopoheight(contractBucket, contract.ByteSlice(), topoheight)
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// PutContractModule stages a contract's bytecode into batch.
func (s *Store) PutContractModule(batch storage.WriteBatch, contract *externalapi.DomainHash, moduleBytes []byte, topoheight storage.TopoHeight) {
	batch.SetLastTo(contractBucket, contract.ByteSlice(), topoheight, moduleBytes)
}

// BurnedSupply returns the running total of asset burned at or below
// topoheight.
func (s *Store) BurnedSupply(asset externalapi.AssetID, topoheight storage.TopoHeight) (uint64, error) {
	value, _, err := s.engine.GetAtMaxTopoheight(burnedBucket, asset.ByteSlice(), topoheight)
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return deserializeUint64(value), nil
}

// AddBurned stages asset's running burned total at topoheight,
// incremented by amount over whatever total was last recorded at or
// below topoheight.
func (s *Store) AddBurned(batch storage.WriteBatch, asset externalapi.AssetID, amount uint64, topoheight storage.TopoHeight) error {
	previous, err := s.BurnedSupply(asset, topoheight)
	if err != nil {
		return err
	}
	batch.SetLastTo(burnedBucket, asset.ByteSlice(), topoheight, serializeUint64(previous+amount))
	return nil
}

// ScheduledExecution returns the scheduled execution registered under
// hash at or below topoheight.
func (s *Store) ScheduledExecution(hash *externalapi.DomainHash, topoheight storage.TopoHeight) (*scheduler.Execution, error) {
	value, _, err := s.engine.GetAtMaxTopoheight(scheduledExecutionBucket, hash.ByteSlice(), topoheight)
	if err != nil {
		return nil, err
	}
	return deserializeScheduledExecution(value)
}

// HasScheduledExecution reports whether a scheduled execution with the
// given hash exists.
func (s *Store) HasScheduledExecution(hash *externalapi.DomainHash, topoheight storage.TopoHeight) (bool, error) {
	return s.engine.Has(scheduledExecutionBucket, hash.ByteSlice(), topoheight)
}

// PutScheduledExecution stages e into batch at topoheight.
func (s *Store) PutScheduledExecution(batch storage.WriteBatch, e *scheduler.Execution, topoheight storage.TopoHeight) {
	batch.SetLastTo(scheduledExecutionBucket, e.Hash.ByteSlice(), topoheight, serializeScheduledExecution(e))
}

// ContractStorageValue returns the value a contract staged under key at
// or below topoheight, or (nil, false) if it was never set.
func (s *Store) ContractStorageValue(contract *externalapi.DomainHash, key []byte, topoheight storage.TopoHeight) ([]byte, bool, error) {
	value, _, err := s.engine.GetAtMaxTopoheight(contractStorageBucket, contractStorageKey(contract, key), topoheight)
	if err == storage.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// PutContractStorageValue stages value under contract's key into batch
// at topoheight.
func (s *Store) PutContractStorageValue(batch storage.WriteBatch, contract *externalapi.DomainHash, key, value []byte, topoheight storage.TopoHeight) {
	batch.SetLastTo(contractStorageBucket, contractStorageKey(contract, key), topoheight, value)
}

// IterateScheduledExecutions walks every scheduled execution whose
// newest version is at or below topoheight, used by ApplyBlock's
// once-per-block due/deferral sweep.
func (s *Store) IterateScheduledExecutions(topoheight storage.TopoHeight, fn func(*scheduler.Execution) error) error {
	return s.engine.Iterate(scheduledExecutionBucket, topoheight, func(_, value []byte) (bool, error) {
		e, err := deserializeScheduledExecution(value)
		if err != nil {
			return false, err
		}
		if err := fn(e); err != nil {
			return false, err
		}
		return true, nil
	})
}
