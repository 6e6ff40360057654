package contract

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tos-network/tosd/chainstate"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

// MaxNFTBatchSize bounds batch_mint/batch_transfer/batch_burn, matching
// original_source/daemon/src/tako_integration/nft.rs's MAX_BATCH_SIZE.
const MaxNFTBatchSize = 100

// NFT-specific errors, beyond the taxonomy in errors.go: these surface
// from package-level nft functions rather than the harness dispatch.
var (
	ErrNFTCollectionNotFound = errors.New("contract: nft collection not found")
	ErrNFTTokenNotFound      = errors.New("contract: nft token not found")
	ErrNFTNotCreator         = errors.New("contract: caller is not the collection creator")
	ErrNFTNotOwner           = errors.New("contract: caller is not the token owner")
	ErrNFTFrozen             = errors.New("contract: token is frozen")
	ErrNFTBatchEmpty         = errors.New("contract: batch is empty")
	ErrNFTBatchTooLarge      = errors.New("contract: batch exceeds maximum size")
)

// Collection is the per-collection metadata a contract stores under its
// own contract-storage namespace, the Go analogue of nft.rs's NftCollectionData.
type Collection struct {
	Creator       []byte
	Name          string
	Symbol        string
	BaseURI       string
	MaxSupply     uint64 // 0 means unlimited
	TotalSupply   uint64
	NextTokenID   uint64
	RoyaltyRecip  []byte
	RoyaltyBps    uint16
	MintingPaused bool
}

// NFT is one minted token within a collection. Burned tokens are kept
// as tombstone records rather than removed: the underlying store is a
// versioned, append-only KV (§2), so there is no way to delete a key
// out of history — burning only needs to make the token subsequently
// unspendable.
type NFT struct {
	Owner    []byte
	Approved []byte // nil means no approved operator
	TokenURI string
	Frozen   bool
	Burned   bool
}

func collectionStorageKey(collectionID *externalapi.DomainHash) []byte {
	return append([]byte("nft:collection:"), collectionID.ByteSlice()...)
}

func tokenStorageKey(collectionID *externalapi.DomainHash, tokenID uint64) []byte {
	key := append([]byte("nft:token:"), collectionID.ByteSlice()...)
	return binary.LittleEndian.AppendUint64(key, tokenID)
}

func balanceStorageKey(collectionID *externalapi.DomainHash, owner []byte) []byte {
	key := append([]byte("nft:balance:"), collectionID.ByteSlice()...)
	return append(key, owner...)
}

func approvalAllStorageKey(collectionID *externalapi.DomainHash, owner, operator []byte) []byte {
	key := append([]byte("nft:approval:"), collectionID.ByteSlice()...)
	key = append(key, owner...)
	return append(key, operator...)
}

func serializeCollection(c *Collection) []byte {
	w := &writer{}
	w.putBytes(c.Creator)
	w.putString(c.Name)
	w.putString(c.Symbol)
	w.putString(c.BaseURI)
	w.putUint64(c.MaxSupply)
	w.putUint64(c.TotalSupply)
	w.putUint64(c.NextTokenID)
	w.putBytes(c.RoyaltyRecip)
	w.putUint16(c.RoyaltyBps)
	w.putBool(c.MintingPaused)
	return w.buf
}

func deserializeCollection(data []byte) (*Collection, error) {
	r := &byteReader{buf: data}
	c := &Collection{}
	var err error
	if c.Creator, err = r.bytes(); err != nil {
		return nil, err
	}
	if c.Name, err = r.str(); err != nil {
		return nil, err
	}
	if c.Symbol, err = r.str(); err != nil {
		return nil, err
	}
	if c.BaseURI, err = r.str(); err != nil {
		return nil, err
	}
	if c.MaxSupply, err = r.uint64(); err != nil {
		return nil, err
	}
	if c.TotalSupply, err = r.uint64(); err != nil {
		return nil, err
	}
	if c.NextTokenID, err = r.uint64(); err != nil {
		return nil, err
	}
	if c.RoyaltyRecip, err = r.bytes(); err != nil {
		return nil, err
	}
	if c.RoyaltyBps, err = r.uint16(); err != nil {
		return nil, err
	}
	if c.MintingPaused, err = r.boolean(); err != nil {
		return nil, err
	}
	return c, nil
}

func serializeNFT(n *NFT) []byte {
	w := &writer{}
	w.putBytes(n.Owner)
	w.putBytes(n.Approved)
	w.putString(n.TokenURI)
	w.putBool(n.Frozen)
	w.putBool(n.Burned)
	return w.buf
}

func deserializeNFT(data []byte) (*NFT, error) {
	r := &byteReader{buf: data}
	n := &NFT{}
	var err error
	if n.Owner, err = r.bytes(); err != nil {
		return nil, err
	}
	if n.Approved, err = r.bytes(); err != nil {
		return nil, err
	}
	if len(n.Approved) == 0 {
		n.Approved = nil
	}
	if n.TokenURI, err = r.str(); err != nil {
		return nil, err
	}
	if n.Frozen, err = r.boolean(); err != nil {
		return nil, err
	}
	if n.Burned, err = r.boolean(); err != nil {
		return nil, err
	}
	return n, nil
}

func getCollection(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash) (*Collection, error) {
	raw, ok, err := view.GetContractStorage(contractHash, collectionStorageKey(collectionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNFTCollectionNotFound
	}
	return deserializeCollection(raw)
}

func putCollection(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, c *Collection) {
	view.SetContractStorage(contractHash, collectionStorageKey(collectionID), serializeCollection(c))
}

func getToken(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, tokenID uint64) (*NFT, error) {
	raw, ok, err := view.GetContractStorage(contractHash, tokenStorageKey(collectionID, tokenID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNFTTokenNotFound
	}
	n, err := deserializeNFT(raw)
	if err != nil {
		return nil, err
	}
	if n.Burned {
		return nil, ErrNFTTokenNotFound
	}
	return n, nil
}

func putToken(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, tokenID uint64, n *NFT) {
	view.SetContractStorage(contractHash, tokenStorageKey(collectionID, tokenID), serializeNFT(n))
}

func adjustBalance(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, owner []byte, delta int64) error {
	key := balanceStorageKey(collectionID, owner)
	raw, ok, err := view.GetContractStorage(contractHash, key)
	if err != nil {
		return err
	}
	var balance uint64
	if ok {
		balance = binary.LittleEndian.Uint64(raw)
	}
	if delta < 0 && balance < uint64(-delta) {
		return errors.New("contract: nft balance underflow")
	}
	balance = uint64(int64(balance) + delta)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], balance)
	view.SetContractStorage(contractHash, key, buf[:])
	return nil
}

// CreateCollection registers a new NFT collection under contractHash's
// own storage namespace, identified by collectionID (typically derived
// by the caller from the contract's deploy parameters).
func CreateCollection(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, creator []byte, name, symbol, baseURI string, maxSupply uint64, royaltyRecip []byte, royaltyBps uint16) error {
	if royaltyBps > 10000 {
		return errors.New("contract: royalty basis points exceeds 10000")
	}
	putCollection(view, contractHash, collectionID, &Collection{
		Creator:      creator,
		Name:         name,
		Symbol:       symbol,
		BaseURI:      baseURI,
		MaxSupply:    maxSupply,
		RoyaltyRecip: royaltyRecip,
		RoyaltyBps:   royaltyBps,
	})
	return nil
}

// Mint issues the next token in collectionID to to, per nft.rs's mint operation.
func Mint(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, to []byte, tokenURI string) (uint64, error) {
	c, err := getCollection(view, contractHash, collectionID)
	if err != nil {
		return 0, err
	}
	if c.MintingPaused {
		return 0, errors.New("contract: minting is paused")
	}
	if c.MaxSupply != 0 && c.TotalSupply >= c.MaxSupply {
		return 0, errors.New("contract: collection max supply reached")
	}

	tokenID := c.NextTokenID
	c.NextTokenID++
	c.TotalSupply++
	putCollection(view, contractHash, collectionID, c)
	putToken(view, contractHash, collectionID, tokenID, &NFT{Owner: to, TokenURI: tokenURI})
	if err := adjustBalance(view, contractHash, collectionID, to, 1); err != nil {
		return 0, err
	}
	return tokenID, nil
}

// BatchMint mints len(recipients) tokens in one call, capped at
// MaxNFTBatchSize per the Rust original's batch_mint guard.
func BatchMint(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, recipients [][]byte, tokenURIs []string) ([]uint64, error) {
	if len(recipients) == 0 {
		return nil, ErrNFTBatchEmpty
	}
	if len(recipients) != len(tokenURIs) {
		return nil, errors.New("contract: recipients and token URIs count mismatch")
	}
	if len(recipients) > MaxNFTBatchSize {
		return nil, ErrNFTBatchTooLarge
	}
	tokenIDs := make([]uint64, 0, len(recipients))
	for i, to := range recipients {
		tokenID, err := Mint(view, contractHash, collectionID, to, tokenURIs[i])
		if err != nil {
			return nil, errors.Wrapf(err, "mint failed at index %d", i)
		}
		tokenIDs = append(tokenIDs, tokenID)
	}
	return tokenIDs, nil
}

// Burn destroys tokenID, callable only by its current owner.
func Burn(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, tokenID uint64, caller []byte) error {
	n, err := getToken(view, contractHash, collectionID, tokenID)
	if err != nil {
		return err
	}
	if string(n.Owner) != string(caller) {
		return ErrNFTNotOwner
	}
	if err := adjustBalance(view, contractHash, collectionID, n.Owner, -1); err != nil {
		return err
	}
	n.Burned = true
	putToken(view, contractHash, collectionID, tokenID, n)

	c, err := getCollection(view, contractHash, collectionID)
	if err != nil {
		return err
	}
	c.TotalSupply--
	putCollection(view, contractHash, collectionID, c)
	return nil
}

// Transfer moves tokenID to `to`, validating ownership/approval
// internally rather than trusting the caller-supplied `from` — the
// same invariant nft.rs's transfer() documents.
func Transfer(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, tokenID uint64, to, caller []byte) error {
	n, err := getToken(view, contractHash, collectionID, tokenID)
	if err != nil {
		return err
	}
	if n.Frozen {
		return ErrNFTFrozen
	}
	isOwner := string(n.Owner) == string(caller)
	isApproved := n.Approved != nil && string(n.Approved) == string(caller)
	if !isOwner && !isApproved {
		allowed, err := IsApprovedForAll(view, contractHash, collectionID, n.Owner, caller)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrNFTNotOwner
		}
	}

	if err := adjustBalance(view, contractHash, collectionID, n.Owner, -1); err != nil {
		return err
	}
	if err := adjustBalance(view, contractHash, collectionID, to, 1); err != nil {
		return err
	}
	n.Owner = to
	n.Approved = nil
	putToken(view, contractHash, collectionID, tokenID, n)
	return nil
}

// BatchTransfer runs Transfer for each (collectionID, tokenID, to)
// triple, capped at MaxNFTBatchSize.
func BatchTransfer(view *chainstate.TransactionView, contractHash *externalapi.DomainHash, collectionIDs []*externalapi.DomainHash, tokenIDs []uint64, recipients [][]byte, caller []byte) error {
	if len(collectionIDs) == 0 {
		return ErrNFTBatchEmpty
	}
	if len(collectionIDs) > MaxNFTBatchSize {
		return ErrNFTBatchTooLarge
	}
	if len(collectionIDs) != len(tokenIDs) || len(collectionIDs) != len(recipients) {
		return errors.New("contract: batch transfer argument count mismatch")
	}
	for i := range collectionIDs {
		if err := Transfer(view, contractHash, collectionIDs[i], tokenIDs[i], recipients[i], caller); err != nil {
			return errors.Wrapf(err, "transfer failed at index %d", i)
		}
	}
	return nil
}

// Freeze/Thaw gate Transfer on the Frozen flag, for collections whose
// metadata_authority wants to temporarily lock a token (e.g. during a
// dispute or an off-chain auction hold).
func Freeze(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, tokenID uint64) error {
	n, err := getToken(view, contractHash, collectionID, tokenID)
	if err != nil {
		return err
	}
	n.Frozen = true
	putToken(view, contractHash, collectionID, tokenID, n)
	return nil
}

func Thaw(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, tokenID uint64) error {
	n, err := getToken(view, contractHash, collectionID, tokenID)
	if err != nil {
		return err
	}
	n.Frozen = false
	putToken(view, contractHash, collectionID, tokenID, n)
	return nil
}

// Approve sets (or, with operator == nil, clears) the single approved
// operator for tokenID. Caller must be the current owner.
func Approve(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, tokenID uint64, operator, caller []byte) error {
	n, err := getToken(view, contractHash, collectionID, tokenID)
	if err != nil {
		return err
	}
	if string(n.Owner) != string(caller) {
		return ErrNFTNotOwner
	}
	n.Approved = operator
	putToken(view, contractHash, collectionID, tokenID, n)
	return nil
}

// SetApprovalForAll grants or revokes operator's blanket transfer
// approval over all of owner's tokens in collectionID.
func SetApprovalForAll(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, owner, operator []byte, approved bool) error {
	if string(owner) == string(operator) {
		return errors.New("contract: cannot approve self as operator")
	}
	var value byte
	if approved {
		value = 1
	}
	view.SetContractStorage(contractHash, approvalAllStorageKey(collectionID, owner, operator), []byte{value})
	return nil
}

// IsApprovedForAll reports whether operator holds a blanket approval
// from owner over collectionID.
func IsApprovedForAll(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, owner, operator []byte) (bool, error) {
	raw, ok, err := view.GetContractStorage(contractHash, approvalAllStorageKey(collectionID, owner, operator))
	if err != nil {
		return false, err
	}
	return ok && len(raw) == 1 && raw[0] == 1, nil
}

// BalanceOf returns how many tokens of collectionID owner currently holds.
func BalanceOf(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, owner []byte) (uint64, error) {
	raw, ok, err := view.GetContractStorage(contractHash, balanceStorageKey(collectionID, owner))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// SetMintingPaused toggles a collection's minting gate. Only the
// collection's creator may call this.
func SetMintingPaused(view *chainstate.TransactionView, contractHash, collectionID *externalapi.DomainHash, caller []byte, paused bool) error {
	c, err := getCollection(view, contractHash, collectionID)
	if err != nil {
		return err
	}
	if string(c.Creator) != string(caller) {
		return ErrNFTNotCreator
	}
	c.MintingPaused = paused
	putCollection(view, contractHash, collectionID, c)
	return nil
}
