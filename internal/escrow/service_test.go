package escrow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phaselock/escrowd/internal/chain"
	"github.com/phaselock/escrowd/internal/custody"
	"github.com/phaselock/escrowd/internal/escrow"
	"github.com/phaselock/escrowd/internal/store"
)

const (
	governanceID   = "governance"
	custodyAccount = "escrow.custody"
	provider       = "provider-1"
	beneficiary    = "beneficiary-1"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) Record(ctx context.Context, eventType string, payload map[string]interface{}) error {
	r.events = append(r.events, eventType)
	return nil
}

func newTestService(t *testing.T) (*escrow.Service, *custody.Book, *chain.Manual, *recordingSink) {
	t.Helper()
	book := custody.NewBook()
	book.Credit(provider, 100_000)
	clock := chain.NewManual(100)
	sink := &recordingSink{}
	svc, err := escrow.New(store.NewMemoryStore(), book, clock, sink, escrow.Config{
		GovernanceID:   governanceID,
		CustodyAccount: custodyAccount,
	})
	if err != nil {
		t.Fatalf("escrow.New: %v", err)
	}
	return svc, book, clock, sink
}

func TestNewRequiresIdentities(t *testing.T) {
	_, err := escrow.New(store.NewMemoryStore(), custody.NewBook(), chain.NewManual(0), nil, escrow.Config{})
	assert.Error(t, err)

	_, err = escrow.New(store.NewMemoryStore(), custody.NewBook(), chain.NewManual(0), nil, escrow.Config{GovernanceID: governanceID})
	assert.Error(t, err)
}

func TestCreateAllocation(t *testing.T) {
	svc, book, _, sink := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 1000, []uint64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}

	assert.Equal(t, uint64(1), a.ID)
	assert.Equal(t, provider, a.Provider)
	assert.Equal(t, beneficiary, a.Beneficiary)
	assert.Equal(t, uint64(1000), a.Amount)
	assert.Equal(t, uint64(100), a.GenesisBlock)
	assert.Equal(t, uint64(100+escrow.TimelockPeriod), a.ConclusionBlock)
	assert.Equal(t, uint64(0), a.PhasesReleased)
	assert.False(t, a.State.Terminal())

	assert.Equal(t, uint64(1000), book.Balance(custodyAccount))
	assert.Equal(t, uint64(99_000), book.Balance(provider))
	assert.Contains(t, sink.events, "allocation.created")
}

func TestCreateAllocationValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name        string
		beneficiary string
		amount      uint64
		phases      []uint64
		want        error
	}{
		{"zero amount", beneficiary, 0, []uint64{1}, escrow.ErrParameterInvalid},
		{"empty beneficiary", "", 100, []uint64{1}, escrow.ErrParameterInvalid},
		{"self allocation", provider, 100, []uint64{1}, escrow.ErrParameterInvalid},
		{"no phases", beneficiary, 100, nil, escrow.ErrParameterInvalid},
		{"six phases", beneficiary, 100, []uint64{1, 2, 3, 4, 5, 6}, escrow.ErrPhaseValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateAllocation(ctx, provider, tc.beneficiary, tc.amount, tc.phases)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want kind of %v", err, tc.want)
			}
		})
	}
}

func TestCreateAllocationInsufficientFunds(t *testing.T) {
	svc, book, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAllocation(ctx, "broke-provider", beneficiary, 500, []uint64{1})
	if !errors.Is(err, escrow.ErrOperationFailure) {
		t.Fatalf("got %v, want operation failure", err)
	}
	assert.ErrorIs(t, err, custody.ErrInsufficientFunds)
	assert.Equal(t, uint64(0), book.Balance(custodyAccount))

	// The failed attempt must not consume an id.
	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 500, []uint64{1})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	assert.Equal(t, uint64(1), a.ID)
}

func TestReleasePhase(t *testing.T) {
	svc, book, _, sink := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 1000, []uint64{1, 2})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}

	_, err = svc.ReleasePhase(ctx, provider, a.ID)
	if !errors.Is(err, escrow.ErrAccessDenied) {
		t.Fatalf("provider release: got %v, want access denied", err)
	}

	got, err := svc.ReleasePhase(ctx, governanceID, a.ID)
	if err != nil {
		t.Fatalf("ReleasePhase: %v", err)
	}
	assert.Equal(t, uint64(1), got.PhasesReleased)
	assert.Equal(t, uint64(500), book.Balance(beneficiary))
	assert.Equal(t, uint64(500), book.Balance(custodyAccount))
	assert.Contains(t, sink.events, "phase.released")

	if _, err := svc.ReleasePhase(ctx, governanceID, a.ID); err != nil {
		t.Fatalf("ReleasePhase: %v", err)
	}
	assert.Equal(t, uint64(1000), book.Balance(beneficiary))

	_, err = svc.ReleasePhase(ctx, governanceID, a.ID)
	if !errors.Is(err, escrow.ErrAlreadyFinalized) {
		t.Fatalf("exhausted release: got %v, want already finalized", err)
	}
}

func TestReleasePhaseTruncatesRemainder(t *testing.T) {
	svc, book, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 100, []uint64{1, 2, 3})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.ReleasePhase(ctx, governanceID, a.ID); err != nil {
			t.Fatalf("ReleasePhase %d: %v", i, err)
		}
	}

	// 100/3 truncates to 33; the remainder stays in custody for good.
	assert.Equal(t, uint64(99), book.Balance(beneficiary))
	assert.Equal(t, uint64(1), book.Balance(custodyAccount))

	_, err = svc.ReleasePhase(ctx, governanceID, a.ID)
	assert.ErrorIs(t, err, escrow.ErrAlreadyFinalized)
}

func TestReleasePhaseIgnoresDeadline(t *testing.T) {
	svc, book, clock, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 400, []uint64{1, 2})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	clock.Set(a.ConclusionBlock + 500)

	// Phases stay releasable past the conclusion block.
	if _, err := svc.ReleasePhase(ctx, governanceID, a.ID); err != nil {
		t.Fatalf("ReleasePhase after deadline: %v", err)
	}
	assert.Equal(t, uint64(200), book.Balance(beneficiary))
}

func TestReclaimExpired(t *testing.T) {
	svc, book, clock, sink := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 1000, []uint64{1, 2})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}

	_, err = svc.ReclaimExpired(ctx, provider, a.ID)
	if !errors.Is(err, escrow.ErrAccessDenied) {
		t.Fatalf("provider reclaim: got %v, want access denied", err)
	}

	// Exactly at the conclusion block the timelock still holds.
	clock.Set(a.ConclusionBlock)
	_, err = svc.ReclaimExpired(ctx, governanceID, a.ID)
	if !errors.Is(err, escrow.ErrTimelockViolation) {
		t.Fatalf("reclaim at deadline: got %v, want timelock violation", err)
	}

	clock.Set(a.ConclusionBlock + 1)
	got, err := svc.ReclaimExpired(ctx, governanceID, a.ID)
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}
	assert.Equal(t, "reverted", string(got.State))
	assert.Equal(t, uint64(100_000), book.Balance(provider))
	assert.Equal(t, uint64(0), book.Balance(custodyAccount))
	assert.Contains(t, sink.events, "allocation.reverted")

	_, err = svc.ReclaimExpired(ctx, governanceID, a.ID)
	assert.ErrorIs(t, err, escrow.ErrAlreadyFinalized)
}

func TestReclaimReturnsFullAmountAfterRelease(t *testing.T) {
	svc, book, clock, _ := newTestService(t)
	ctx := context.Background()

	// A second provider's lock keeps the custody pool funded.
	book.Credit("provider-2", 5000)
	if _, err := svc.CreateAllocation(ctx, "provider-2", "beneficiary-2", 5000, []uint64{1}); err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 1000, []uint64{1, 2})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	if _, err := svc.ReleasePhase(ctx, governanceID, a.ID); err != nil {
		t.Fatalf("ReleasePhase: %v", err)
	}

	clock.Set(a.ConclusionBlock + 1)
	if _, err := svc.ReclaimExpired(ctx, governanceID, a.ID); err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}

	// The reclaim pays back the full original amount, not the unreleased
	// remainder, drawing the released half from the pooled custody account.
	assert.Equal(t, uint64(100_000), book.Balance(provider))
	assert.Equal(t, uint64(4500), book.Balance(custodyAccount))
}

func TestTerminate(t *testing.T) {
	svc, book, _, sink := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 1000, []uint64{1, 2})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}
	if _, err := svc.ReleasePhase(ctx, governanceID, a.ID); err != nil {
		t.Fatalf("ReleasePhase: %v", err)
	}

	_, err = svc.Terminate(ctx, governanceID, a.ID)
	if !errors.Is(err, escrow.ErrAccessDenied) {
		t.Fatalf("governance terminate: got %v, want access denied", err)
	}

	got, err := svc.Terminate(ctx, provider, a.ID)
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	assert.Equal(t, "terminated", string(got.State))
	assert.Equal(t, uint64(99_500), book.Balance(provider))
	assert.Equal(t, uint64(0), book.Balance(custodyAccount))
	assert.Contains(t, sink.events, "allocation.terminated")

	_, err = svc.Terminate(ctx, provider, a.ID)
	assert.ErrorIs(t, err, escrow.ErrAlreadyFinalized)
}

func TestTerminateAfterDeadline(t *testing.T) {
	svc, _, clock, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 1000, []uint64{1})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}

	// Termination closes at the conclusion block itself.
	clock.Set(a.ConclusionBlock)
	_, err = svc.Terminate(ctx, provider, a.ID)
	if !errors.Is(err, escrow.ErrTimelockViolation) {
		t.Fatalf("terminate at deadline: got %v, want timelock violation", err)
	}
}

func TestExtend(t *testing.T) {
	svc, _, clock, sink := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateAllocation(ctx, provider, beneficiary, 1000, []uint64{1})
	if err != nil {
		t.Fatalf("CreateAllocation: %v", err)
	}

	_, err = svc.Extend(ctx, provider, a.ID, 0)
	assert.ErrorIs(t, err, escrow.ErrParameterInvalid)
	_, err = svc.Extend(ctx, provider, a.ID, escrow.MaxExtension+1)
	assert.ErrorIs(t, err, escrow.ErrParameterInvalid)
	_, err = svc.Extend(ctx, beneficiary, a.ID, 100)
	assert.ErrorIs(t, err, escrow.ErrAccessDenied)

	got, err := svc.Extend(ctx, provider, a.ID, escrow.MaxExtension)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	assert.Equal(t, a.ConclusionBlock+escrow.MaxExtension, got.ConclusionBlock)
	assert.Contains(t, sink.events, "allocation.extended")

	// Per-call cap only: repeated extensions accumulate past MaxExtension.
	got, err = svc.Extend(ctx, provider, a.ID, escrow.MaxExtension)
	if err != nil {
		t.Fatalf("second Extend: %v", err)
	}
	assert.Equal(t, a.ConclusionBlock+2*escrow.MaxExtension, got.ConclusionBlock)

	clock.Set(got.ConclusionBlock)
	_, err = svc.Extend(ctx, provider, a.ID, 100)
	if !errors.Is(err, escrow.ErrTimelockViolation) {
		t.Fatalf("extend at deadline: got %v, want timelock violation", err)
	}
}

func TestGetAllocationNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.GetAllocation(context.Background(), 42)
	assert.ErrorIs(t, err, escrow.ErrEntityMissing)
}
