package scheduler_test

import (
	"testing"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
	"github.com/tos-network/tosd/scheduler"
)

func hashOf(b byte) *externalapi.DomainHash {
	h := &externalapi.DomainHash{}
	for i := range h {
		h[i] = b
	}
	return h
}

func TestBurnAndMinerReward(t *testing.T) {
	cases := []struct{ offer, burn, reward uint64 }{
		{1000, 300, 700},
		{101, 30, 71},
		{0, 0, 0},
	}
	for _, c := range cases {
		if got := scheduler.BurnAmount(c.offer); got != c.burn {
			t.Fatalf("BurnAmount(%d) = %d, want %d", c.offer, got, c.burn)
		}
		if got := scheduler.MinerReward(c.offer); got != c.reward {
			t.Fatalf("MinerReward(%d) = %d, want %d", c.offer, got, c.reward)
		}
	}
}

func TestHandle(t *testing.T) {
	h := &externalapi.DomainHash{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if got, want := scheduler.Handle(h), uint64(0x0102030405060708); got != want {
		t.Fatalf("Handle = %#x, want %#x", got, want)
	}
	if got := scheduler.Handle(hashOf(0)); got != 0 {
		t.Fatalf("Handle(zero) = %d, want 0", got)
	}
	if got := scheduler.Handle(hashOf(0xff)); got != ^uint64(0) {
		t.Fatalf("Handle(max) = %d, want max uint64", got)
	}
}

func baseSubmission() *scheduler.Submission {
	return &scheduler.Submission{
		Contract:          hashOf(2),
		ChunkID:           0,
		InputData:         nil,
		MaxGas:            50_000,
		OfferAmount:       1000,
		SchedulerContract: hashOf(1),
		Kind:              scheduler.KindTopoHeight,
		TargetTopoheight:  150,
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := scheduler.Validate(baseSubmission(), 100); err != nil {
		t.Fatalf("Validate: %+v", err)
	}
}

func TestValidateGasTooLow(t *testing.T) {
	sub := baseSubmission()
	sub.MaxGas = 100
	if err := scheduler.Validate(sub, 100); err != scheduler.ErrGasTooLow {
		t.Fatalf("expected ErrGasTooLow, got %v", err)
	}
}

func TestValidateInputTooLarge(t *testing.T) {
	sub := baseSubmission()
	sub.InputData = make([]byte, 5000)
	if err := scheduler.Validate(sub, 100); err != scheduler.ErrInputTooLarge {
		t.Fatalf("expected ErrInputTooLarge, got %v", err)
	}
}

func TestValidateOfferTooHigh(t *testing.T) {
	sub := baseSubmission()
	sub.OfferAmount = 2_000_000_000
	if err := scheduler.Validate(sub, 100); err != scheduler.ErrOfferTooHigh {
		t.Fatalf("expected ErrOfferTooHigh, got %v", err)
	}
}

func TestValidateTargetInPast(t *testing.T) {
	sub := baseSubmission()
	sub.TargetTopoheight = 100
	if err := scheduler.Validate(sub, 100); err != scheduler.ErrTargetInPast {
		t.Fatalf("expected ErrTargetInPast, got %v", err)
	}
}

func TestValidateHorizonTooFar(t *testing.T) {
	sub := baseSubmission()
	sub.TargetTopoheight = 100 + 100_001
	if err := scheduler.Validate(sub, 100); err != scheduler.ErrHorizonTooFar {
		t.Fatalf("expected ErrHorizonTooFar, got %v", err)
	}
}

func TestValidateBlockEndIgnoresTopoheightChecks(t *testing.T) {
	sub := baseSubmission()
	sub.Kind = scheduler.KindBlockEnd
	sub.TargetTopoheight = 50 // would be "in the past" for TopoHeight kind
	if err := scheduler.Validate(sub, 100); err != nil {
		t.Fatalf("Validate: %+v", err)
	}
}

func TestRateLimited(t *testing.T) {
	if scheduler.RateLimited(50, 1000) {
		t.Fatal("expected not rate limited below cap")
	}
	if !scheduler.RateLimited(100, 1000) {
		t.Fatal("expected rate limited at cap with low offer")
	}
	if scheduler.RateLimited(100, 100_000) {
		t.Fatal("expected bypass at RateLimitBypassOffer")
	}
}

func TestCancelSucceeds(t *testing.T) {
	sub := baseSubmission()
	sub.TargetTopoheight = 200
	e := scheduler.New(hashOf(9), sub, 100)
	refund, err := scheduler.Cancel(e, sub.SchedulerContract.ByteSlice(), 100)
	if err != nil {
		t.Fatalf("Cancel: %+v", err)
	}
	if want := scheduler.MinerReward(1000); refund != want {
		t.Fatalf("refund = %d, want %d", refund, want)
	}
	if e.Status != scheduler.StatusCancelled {
		t.Fatalf("expected StatusCancelled, got %v", e.Status)
	}
}

func TestCancelUnauthorized(t *testing.T) {
	sub := baseSubmission()
	sub.TargetTopoheight = 200
	e := scheduler.New(hashOf(9), sub, 100)
	if _, err := scheduler.Cancel(e, hashOf(99).ByteSlice(), 100); err != scheduler.ErrUnauthorizedCancel {
		t.Fatalf("expected ErrUnauthorizedCancel, got %v", err)
	}
}

func TestCancelTooCloseToExecution(t *testing.T) {
	sub := baseSubmission()
	sub.TargetTopoheight = 101
	e := scheduler.New(hashOf(9), sub, 100)
	if _, err := scheduler.Cancel(e, sub.SchedulerContract.ByteSlice(), 100); err != scheduler.ErrCannotCancel {
		t.Fatalf("expected ErrCannotCancel, got %v", err)
	}
}

func TestCancelBlockEndFails(t *testing.T) {
	sub := baseSubmission()
	sub.Kind = scheduler.KindBlockEnd
	e := scheduler.New(hashOf(9), sub, 100)
	if _, err := scheduler.Cancel(e, sub.SchedulerContract.ByteSlice(), 100); err != scheduler.ErrCannotCancel {
		t.Fatalf("expected ErrCannotCancel for BlockEnd, got %v", err)
	}
}

func TestSelectForBlockPriorityOrder(t *testing.T) {
	low := scheduler.New(hashOf(3), &scheduler.Submission{
		Contract: hashOf(2), MaxGas: 1000, OfferAmount: 10,
		SchedulerContract: hashOf(1), Kind: scheduler.KindTopoHeight, TargetTopoheight: 150,
	}, 100)
	high := scheduler.New(hashOf(4), &scheduler.Submission{
		Contract: hashOf(2), MaxGas: 1000, OfferAmount: 1000,
		SchedulerContract: hashOf(1), Kind: scheduler.KindTopoHeight, TargetTopoheight: 150,
	}, 100)

	selected, deferred := scheduler.SelectForBlock([]*scheduler.Execution{low, high}, 151)
	if len(deferred) != 0 {
		t.Fatalf("expected no deferrals, got %d", len(deferred))
	}
	if selected[0] != high || selected[1] != low {
		t.Fatal("expected higher offer to sort first")
	}
}

func TestSelectForBlockDefersOverGasCap(t *testing.T) {
	var due []*scheduler.Execution
	for i := 0; i < 3; i++ {
		due = append(due, scheduler.New(hashOf(byte(i+1)), &scheduler.Submission{
			Contract: hashOf(2), MaxGas: 9_000_000, OfferAmount: uint64(100 - i),
			SchedulerContract: hashOf(1), Kind: scheduler.KindTopoHeight, TargetTopoheight: 150,
		}, 100))
	}

	selected, deferred := scheduler.SelectForBlock(due, 151)
	if len(selected) != 1 {
		t.Fatalf("expected exactly 1 selected under the gas cap, got %d", len(selected))
	}
	if len(deferred) != 2 {
		t.Fatalf("expected 2 deferred, got %d", len(deferred))
	}
	for _, e := range deferred {
		if e.DeferCount != 1 {
			t.Fatalf("expected DeferCount 1, got %d", e.DeferCount)
		}
		if e.TargetTopoheight != 151 {
			t.Fatalf("expected deferred TargetTopoheight 151, got %d", e.TargetTopoheight)
		}
	}
}
