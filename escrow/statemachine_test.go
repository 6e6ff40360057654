package escrow_test

import (
	"testing"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/escrow"
)

func newTestEscrow(t *testing.T, optimistic bool) *externalapi.EscrowAccount {
	t.Helper()
	payer := []byte("payer")
	payload := &externalapi.CreateEscrowPayload{
		TaskID:              "task-1",
		Payee:               []byte("payee"),
		Amount:              100,
		TimeoutBlocks:       10,
		ChallengeWindow:     10,
		ChallengeDepositBps: 500,
		OptimisticRelease:   optimistic,
	}
	if optimistic {
		payload.ArbitrationConfig = &externalapi.ArbitrationConfig{
			Mode:     externalapi.ArbitrationModeSingle,
			Arbiters: [][]byte{[]byte("arbiter-a")},
		}
	}
	if err := escrow.ValidateCreateEscrow(payload, payer); err != nil {
		t.Fatalf("ValidateCreateEscrow: %+v", err)
	}
	id := externalapi.AssetID{}
	hash := externalapi.DomainHash(id)
	e := escrow.NewEscrowFromCreate(&hash, payer, payload, 1)
	if err := escrow.ApplyDeposit(e, &externalapi.DepositEscrowPayload{Amount: 100}, 1); err != nil {
		t.Fatalf("ApplyDeposit: %+v", err)
	}
	return e
}

// TestEscrowHappyPath mirrors spec scenario (S4): create, deposit,
// release requested by the payee, challenge window elapses, auto
// release fires.
func TestEscrowHappyPath(t *testing.T) {
	e := newTestEscrow(t, true)
	if e.State != externalapi.EscrowStateFunded {
		t.Fatalf("expected Funded after deposit, got %v", e.State)
	}

	err := escrow.ApplyRelease(e, &externalapi.ReleaseEscrowPayload{Amount: 100}, []byte("payee"), 5, 100)
	if err != nil {
		t.Fatalf("ApplyRelease: %+v", err)
	}
	if e.State != externalapi.EscrowStatePendingRelease {
		t.Fatalf("expected PendingRelease, got %v", e.State)
	}

	if _, fired := escrow.MaybeAutoRelease(e, 10); fired {
		t.Fatal("auto release should not fire before the challenge window elapses")
	}

	amount, fired := escrow.MaybeAutoRelease(e, 16)
	if !fired {
		t.Fatal("auto release should fire once the challenge window has elapsed")
	}
	if amount != 100 {
		t.Fatalf("expected to release 100, got %d", amount)
	}
	if e.State != externalapi.EscrowStateReleased {
		t.Fatalf("expected Released, got %v", e.State)
	}
	if e.ReleasedAmount != 100 {
		t.Fatalf("expected released amount 100, got %d", e.ReleasedAmount)
	}
}

// TestEscrowChallengeAndVerdict mirrors spec scenario (S5): the payer
// challenges a pending release within the window, a dispute is
// opened, and a single-arbiter verdict splits the funds 50/50.
func TestEscrowChallengeAndVerdict(t *testing.T) {
	e := newTestEscrow(t, true)
	if err := escrow.ApplyRelease(e, &externalapi.ReleaseEscrowPayload{Amount: 100}, []byte("payee"), 5, 100); err != nil {
		t.Fatalf("ApplyRelease: %+v", err)
	}

	err := escrow.ApplyChallenge(e, &externalapi.ChallengeEscrowPayload{Deposit: 5}, []byte("payer"), 10)
	if err != nil {
		t.Fatalf("ApplyChallenge: %+v", err)
	}
	if e.State != externalapi.EscrowStateChallenged {
		t.Fatalf("expected Challenged, got %v", e.State)
	}

	disputeID := &externalapi.DomainHash{0xaa}
	err = escrow.ApplyDispute(e, &externalapi.DisputeEscrowPayload{Reason: []byte("quality dispute")}, []byte("payer"), disputeID, 10)
	if err != nil {
		t.Fatalf("ApplyDispute: %+v", err)
	}

	verdict := &externalapi.SubmitVerdictPayload{
		EscrowID:    e.ID,
		DisputeID:   disputeID,
		Round:       0,
		PayerAmount: 50,
		PayeeAmount: 50,
	}
	if err := escrow.ApplySubmitVerdict(e, verdict, 11); err != nil {
		t.Fatalf("ApplySubmitVerdict: %+v", err)
	}
	if e.State != externalapi.EscrowStateResolved {
		t.Fatalf("expected Resolved, got %v", e.State)
	}
	if e.ReleasedAmount != 50 || e.RefundedAmount != 50 {
		t.Fatalf("expected a 50/50 split, got released=%d refunded=%d", e.ReleasedAmount, e.RefundedAmount)
	}
}

func TestApplyReleaseRejectsWrongCaller(t *testing.T) {
	e := newTestEscrow(t, true)
	err := escrow.ApplyRelease(e, &externalapi.ReleaseEscrowPayload{Amount: 100}, []byte("payer"), 5, 100)
	if err != escrow.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestApplyReleaseRequiresOptimisticRelease(t *testing.T) {
	e := newTestEscrow(t, false)
	err := escrow.ApplyRelease(e, &externalapi.ReleaseEscrowPayload{Amount: 100}, []byte("payee"), 5, 100)
	if err != escrow.ErrOptimisticReleaseDisabled {
		t.Fatalf("expected ErrOptimisticReleaseDisabled, got %v", err)
	}
}

func TestValidateCreateEscrowRejectsSelfDealing(t *testing.T) {
	payer := []byte("same")
	payload := &externalapi.CreateEscrowPayload{
		TaskID:              "t",
		Payee:               []byte("same"),
		Amount:              1,
		TimeoutBlocks:       10,
		ChallengeWindow:     1,
		ChallengeDepositBps: 0,
	}
	if err := escrow.ValidateCreateEscrow(payload, payer); err == nil {
		t.Fatal("expected an error when payee equals payer")
	}
}
