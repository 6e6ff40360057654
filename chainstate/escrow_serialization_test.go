package chainstate_test

import (
	"reflect"
	"testing"

	"github.com/tos-network/tosd/chainstate"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

// TestEscrowRoundTripPreservesDisputeAppealAndResolutions covers the
// EscrowAccount fields a typical create/deposit/release flow never
// touches: once an escrow has been challenged, appealed, and had a
// verdict applied, PutEscrow/Escrow must return it unchanged.
func TestEscrowRoundTripPreservesDisputeAppealAndResolutions(t *testing.T) {
	engine, _ := newTestChainState(t)
	store := chainstate.NewStore(engine)

	escrowID := &externalapi.DomainHash{1, 2, 3}
	disputeID := &externalapi.DomainHash{4, 5, 6}

	original := &externalapi.EscrowAccount{
		ID:              escrowID,
		TaskID:          "task-1",
		Payer:           []byte{1, 1, 1, 1},
		Payee:           []byte{2, 2, 2, 2},
		Amount:          1000,
		State:           externalapi.EscrowStateChallenged,
		HasDisputeRound: true,
		DisputeID:       disputeID,
		DisputeRound:    2,
		Dispute: &externalapi.DisputeInfo{
			DisputeID: disputeID,
			Round:     2,
			RaisedBy:  []byte{9, 9, 9},
			Reason:    []byte("did not deliver"),
			RaisedAt:  55,
		},
		Appeal: &externalapi.AppealInfo{
			RaisedBy: []byte{8, 8, 8},
			Deposit:  250,
			RaisedAt: 60,
		},
		Resolutions: []externalapi.VerdictResolution{
			{DisputeID: disputeID, Round: 1, PayerAmount: 300, PayeeAmount: 700, ResolvedAt: 50},
			{DisputeID: disputeID, Round: 2, PayerAmount: 0, PayeeAmount: 1000, ResolvedAt: 58},
		},
	}

	batch := engine.NewBatch()
	store.PutEscrow(batch, original, 1)
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %+v", err)
	}

	got, err := store.Escrow(escrowID, 1)
	if err != nil {
		t.Fatalf("Escrow: %+v", err)
	}

	if got.Dispute == nil {
		t.Fatalf("expected Dispute to round-trip, got nil")
	}
	if !reflect.DeepEqual(*got.Dispute.DisputeID, *original.Dispute.DisputeID) ||
		got.Dispute.Round != original.Dispute.Round ||
		string(got.Dispute.RaisedBy) != string(original.Dispute.RaisedBy) ||
		string(got.Dispute.Reason) != string(original.Dispute.Reason) ||
		got.Dispute.RaisedAt != original.Dispute.RaisedAt {
		t.Fatalf("Dispute mismatch: got %+v, want %+v", got.Dispute, original.Dispute)
	}

	if got.Appeal == nil {
		t.Fatalf("expected Appeal to round-trip, got nil")
	}
	if string(got.Appeal.RaisedBy) != string(original.Appeal.RaisedBy) ||
		got.Appeal.Deposit != original.Appeal.Deposit ||
		got.Appeal.RaisedAt != original.Appeal.RaisedAt {
		t.Fatalf("Appeal mismatch: got %+v, want %+v", got.Appeal, original.Appeal)
	}

	if len(got.Resolutions) != len(original.Resolutions) {
		t.Fatalf("expected %d resolutions, got %d", len(original.Resolutions), len(got.Resolutions))
	}
	for i := range original.Resolutions {
		want := original.Resolutions[i]
		have := got.Resolutions[i]
		if !reflect.DeepEqual(*have.DisputeID, *want.DisputeID) ||
			have.Round != want.Round || have.PayerAmount != want.PayerAmount ||
			have.PayeeAmount != want.PayeeAmount || have.ResolvedAt != want.ResolvedAt {
			t.Fatalf("resolution %d mismatch: got %+v, want %+v", i, have, want)
		}
	}
}

// TestEscrowRoundTripWithoutDisputeOrAppeal confirms the common path
// (no dispute ever raised) still round-trips cleanly with nil
// Dispute/Appeal and an empty Resolutions slice.
func TestEscrowRoundTripWithoutDisputeOrAppeal(t *testing.T) {
	engine, _ := newTestChainState(t)
	store := chainstate.NewStore(engine)

	escrowID := &externalapi.DomainHash{7, 7, 7}
	original := &externalapi.EscrowAccount{
		ID:     escrowID,
		TaskID: "task-2",
		Payer:  []byte{1},
		Payee:  []byte{2},
		Amount: 10,
		State:  externalapi.EscrowStateFunded,
	}

	batch := engine.NewBatch()
	store.PutEscrow(batch, original, 1)
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %+v", err)
	}

	got, err := store.Escrow(escrowID, 1)
	if err != nil {
		t.Fatalf("Escrow: %+v", err)
	}
	if got.Dispute != nil {
		t.Fatalf("expected nil Dispute, got %+v", got.Dispute)
	}
	if got.Appeal != nil {
		t.Fatalf("expected nil Appeal, got %+v", got.Appeal)
	}
	if len(got.Resolutions) != 0 {
		t.Fatalf("expected no resolutions, got %d", len(got.Resolutions))
	}
}
