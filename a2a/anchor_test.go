package a2a

import (
	"encoding/hex"
	"testing"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

func testEscrow(id *externalapi.DomainHash, taskID string, payee []byte, state externalapi.EscrowState, timeoutAt uint64) *externalapi.EscrowAccount {
	return &externalapi.EscrowAccount{
		ID:        id,
		TaskID:    taskID,
		Payee:     payee,
		Amount:    10,
		State:     state,
		TimeoutAt: timeoutAt,
	}
}

func settlementMetadata(escrowHash *externalapi.DomainHash, agentAccount string) map[string]any {
	return map[string]any{
		"tosSettlement": map[string]any{
			"escrowHash":   "0x" + hex.EncodeToString(escrowHash.ByteSlice()),
			"agentAccount": agentAccount,
			"escrowId":     float64(12345),
		},
	}
}

func TestValidateSettlementAnchorAcceptsMatchingEscrow(t *testing.T) {
	escrowHash := &externalapi.DomainHash{7}
	payee := []byte{4, 4, 4, 4}
	escrow := testEscrow(escrowHash, "task-abc123", payee, externalapi.EscrowStateFunded, 100)
	metadata := settlementMetadata(escrowHash, hex.EncodeToString(payee))

	anchor, err := validateSettlementAnchor("task-abc123", metadata, 10, escrow, DefaultSettlementValidationConfig())
	if err != nil {
		t.Fatalf("validateSettlementAnchor: %+v", err)
	}
	if anchor == nil {
		t.Fatalf("expected anchor, got nil")
	}
	if anchor.EscrowID != 12345 {
		t.Fatalf("expected escrow id 12345, got %d", anchor.EscrowID)
	}
}

func TestValidateSettlementAnchorRejectsTaskMismatch(t *testing.T) {
	escrowHash := &externalapi.DomainHash{8}
	payee := []byte{5, 5, 5, 5}
	escrow := testEscrow(escrowHash, "task-on-chain", payee, externalapi.EscrowStateFunded, 100)
	metadata := settlementMetadata(escrowHash, hex.EncodeToString(payee))

	_, err := validateSettlementAnchor("task-request", metadata, 10, escrow, DefaultSettlementValidationConfig())
	if err == nil {
		t.Fatalf("expected error")
	}
	a2aErr := err.(*Error)
	if a2aErr.Code != CodeTosEscrowFailed {
		t.Fatalf("expected CodeTosEscrowFailed, got %s", a2aErr.Code)
	}
}

func TestValidateSettlementAnchorRejectsTerminalState(t *testing.T) {
	escrowHash := &externalapi.DomainHash{9}
	payee := []byte{6, 6, 6, 6}
	escrow := testEscrow(escrowHash, "task-1", payee, externalapi.EscrowStateReleased, 100)
	metadata := settlementMetadata(escrowHash, hex.EncodeToString(payee))

	_, err := validateSettlementAnchor("task-1", metadata, 10, escrow, DefaultSettlementValidationConfig())
	if err == nil {
		t.Fatalf("expected error for disallowed state")
	}
}

func TestValidateSettlementAnchorRejectsTimeout(t *testing.T) {
	escrowHash := &externalapi.DomainHash{9}
	payee := []byte{6, 6, 6, 6}
	escrow := testEscrow(escrowHash, "task-1", payee, externalapi.EscrowStateFunded, 10)
	metadata := settlementMetadata(escrowHash, hex.EncodeToString(payee))

	_, err := validateSettlementAnchor("task-1", metadata, 10, escrow, DefaultSettlementValidationConfig())
	if err == nil {
		t.Fatalf("expected error for timeout reached")
	}
}

func TestValidateSettlementAnchorRejectsMissingEscrowHash(t *testing.T) {
	metadata := map[string]any{
		"tosSettlement": map[string]any{
			"agentAccount": "aabbcc",
		},
	}
	_, err := validateSettlementAnchor("task-1", metadata, 10, nil, DefaultSettlementValidationConfig())
	if err == nil {
		t.Fatalf("expected bypass-prevention error when escrowHash is absent")
	}
}

func TestValidateSettlementAnchorNoAnchorIsNoop(t *testing.T) {
	anchor, err := validateSettlementAnchor("task-1", nil, 10, nil, DefaultSettlementValidationConfig())
	if err != nil {
		t.Fatalf("validateSettlementAnchor: %+v", err)
	}
	if anchor != nil {
		t.Fatalf("expected nil anchor when metadata has no tosSettlement")
	}
}
