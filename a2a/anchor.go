package a2a

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/storage"
)

// EscrowReader is the narrow read surface validateSettlementAnchor
// needs from chain state. chainstate.Store satisfies this already;
// kept as a package-local interface (the same boundary pattern
// p2p/chainsync's ChainProvider uses) so anchor validation is testable
// against a fake without standing up a real storage engine.
type EscrowReader interface {
	Escrow(id *externalapi.DomainHash, topoheight uint64) (*externalapi.EscrowAccount, error)
	HasEscrow(id *externalapi.DomainHash, topoheight uint64) (bool, error)
}

// SettlementValidationConfig tunes validateSettlementAnchor. Defaults
// mirror original_source's settlement_validation_config_struct.
type SettlementValidationConfig struct {
	ValidateStates  bool
	AllowedStates   []externalapi.EscrowState
	ValidateTimeout bool
	ValidateAmounts bool
}

// DefaultSettlementValidationConfig returns the spec's documented
// defaults (spec.md §4.10 step 5's "default {created, funded,
// pending-release, challenged}").
func DefaultSettlementValidationConfig() SettlementValidationConfig {
	return SettlementValidationConfig{
		ValidateStates: true,
		AllowedStates: []externalapi.EscrowState{
			externalapi.EscrowStateCreated,
			externalapi.EscrowStateFunded,
			externalapi.EscrowStatePendingRelease,
			externalapi.EscrowStateChallenged,
		},
		ValidateTimeout: true,
		ValidateAmounts: false,
	}
}

func (c SettlementValidationConfig) allows(state externalapi.EscrowState) bool {
	for _, allowed := range c.AllowedStates {
		if allowed == state {
			return true
		}
	}
	return false
}

// parseSettlementAnchor reads metadata["tosSettlement"] into a
// TosTaskAnchor, returning (nil, nil) if metadata carries no
// settlement anchor at all. Grounded on
// original_source/daemon/src/a2a/mod.rs's parse_settlement_anchor.
func parseSettlementAnchor(metadata map[string]any) (*TosTaskAnchor, error) {
	settlement, ok := settlementObject(metadata)
	if !ok {
		return nil, nil
	}

	escrowID, err := parseEscrowIDField(settlement)
	if err != nil {
		return nil, err
	}

	agentAccountRaw, ok := settlement["agentAccount"].(string)
	if !ok || agentAccountRaw == "" {
		return nil, invalidParams("missing agentAccount")
	}

	status := SettlementStatusEscrowLocked
	if raw, ok := settlement["settlementStatus"].(string); ok {
		if parsed, ok := parseSettlementStatus(raw); ok {
			status = parsed
		}
	}

	return &TosTaskAnchor{EscrowID: escrowID, AgentAccount: agentAccountRaw, SettlementStatus: status}, nil
}

func settlementObject(metadata map[string]any) (map[string]any, bool) {
	if metadata == nil {
		return nil, false
	}
	raw, ok := metadata["tosSettlement"]
	if !ok {
		return nil, false
	}
	obj, ok := raw.(map[string]any)
	return obj, ok
}

func parseEscrowIDField(settlement map[string]any) (uint64, error) {
	value, present := settlement["escrowId"]
	if !present {
		return 0, nil
	}
	switch v := value.(type) {
	case float64:
		return uint64(v), nil
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, invalidParams("invalid escrowId")
		}
		return parsed, nil
	default:
		return 0, invalidParams("invalid escrowId")
	}
}

func parseSettlementStatus(value string) (SettlementStatus, bool) {
	switch value {
	case "none":
		return SettlementStatusNone, true
	case "escrow-locked", "escrowLocked":
		return SettlementStatusEscrowLocked, true
	case "claimed":
		return SettlementStatusClaimed, true
	case "refunded":
		return SettlementStatusRefunded, true
	case "disputed":
		return SettlementStatusDisputed, true
	default:
		return "", false
	}
}

// parseEscrowHash reads metadata["tosSettlement"]["escrowHash"] as a
// 32-byte hex hash (an optional "0x" prefix is accepted).
func parseEscrowHash(metadata map[string]any) (*externalapi.DomainHash, error) {
	settlement, ok := settlementObject(metadata)
	if !ok {
		return nil, nil
	}
	raw, ok := settlement["escrowHash"]
	if !ok {
		return nil, nil
	}
	str, ok := raw.(string)
	if !ok {
		return nil, invalidParams("invalid escrowHash")
	}
	str = strings.TrimPrefix(str, "0x")
	decoded, err := hex.DecodeString(str)
	if err != nil || len(decoded) != externalapi.DomainHashSize {
		return nil, invalidParams("invalid escrowHash")
	}
	var hash externalapi.DomainHash
	copy(hash[:], decoded)
	return &hash, nil
}

func parseMaxCost(metadata map[string]any) (uint64, bool) {
	settlement, ok := settlementObject(metadata)
	if !ok {
		return 0, false
	}
	raw, ok := settlement["maxCost"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return uint64(v), true
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// validateSettlementAnchor implements spec.md §4.10's tosSettlement
// anchor validator. It is a pure function of (taskID, metadata,
// topoheight, escrow) so it can be unit tested without a live
// EscrowReader; fetchAndValidateSettlementAnchor below is the version
// that actually reads chain state.
func validateSettlementAnchor(taskID string, metadata map[string]any, topoheight uint64, escrow *externalapi.EscrowAccount, config SettlementValidationConfig) (*TosTaskAnchor, error) {
	anchor, err := parseSettlementAnchor(metadata)
	if err != nil {
		return nil, err
	}
	escrowHash, err := parseEscrowHash(metadata)
	if err != nil {
		return nil, err
	}

	if anchor == nil {
		return nil, nil
	}

	// Bypass prevention: an anchor with no escrowHash at all is
	// rejected rather than silently accepted.
	if escrowHash == nil {
		return nil, invalidParams("escrowHash is required when tosSettlement anchor data is present")
	}
	if escrow == nil {
		return nil, tosEscrowFailed("escrow not found")
	}

	if escrow.TaskID != taskID {
		return nil, tosEscrowFailed("escrow task_id mismatch")
	}
	// agentAccount is the payee's public key, hex-encoded: this daemon
	// carries no bech32-style Address scheme, unlike original_source's
	// tos_common::crypto::Address.
	if hex.EncodeToString(escrow.Payee) != strings.TrimPrefix(anchor.AgentAccount, "0x") {
		return nil, tosEscrowFailed("escrow payee mismatch")
	}
	if config.ValidateStates && !config.allows(escrow.State) {
		return nil, tosEscrowFailed("escrow is in disallowed state")
	}
	if config.ValidateTimeout && topoheight >= escrow.TimeoutAt {
		return nil, tosEscrowFailed("escrow timeout reached")
	}
	if config.ValidateAmounts {
		if maxCost, ok := parseMaxCost(metadata); ok && escrow.Amount < maxCost {
			return nil, tosEscrowFailed("escrow amount below maxCost")
		}
	}

	return anchor, nil
}

// fetchAndValidateSettlementAnchor loads the anchored escrow (if any)
// from reader at topoheight and runs validateSettlementAnchor against
// it. Step order follows spec.md §4.10 exactly: parse before load, so
// a malformed anchor is rejected without ever touching storage.
func fetchAndValidateSettlementAnchor(reader EscrowReader, taskID string, metadata map[string]any, topoheight uint64, config SettlementValidationConfig) (*TosTaskAnchor, error) {
	if _, err := parseSettlementAnchor(metadata); err != nil {
		return nil, err
	}
	escrowHash, err := parseEscrowHash(metadata)
	if err != nil {
		return nil, err
	}
	var escrow *externalapi.EscrowAccount
	if escrowHash != nil {
		escrow, err = reader.Escrow(escrowHash, topoheight)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, tosEscrowFailed("escrow not found")
		}
		if err != nil {
			return nil, tosEscrowFailed(err.Error())
		}
	}
	return validateSettlementAnchor(taskID, metadata, topoheight, escrow, config)
}
