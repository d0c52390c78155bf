package escrow_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phaselock/escrowd/internal/escrow"
	"github.com/phaselock/escrowd/internal/models"
)

func TestCreateBranched(t *testing.T) {
	svc, book, _, sink := newTestService(t)
	ctx := context.Background()

	b, err := svc.CreateBranched(ctx, provider, []models.Branch{
		{Recipient: "team-a", SharePct: 60},
		{Recipient: "team-b", SharePct: 40},
	}, 2000)
	if err != nil {
		t.Fatalf("CreateBranched: %v", err)
	}

	assert.Equal(t, uint64(1), b.ID)
	assert.Equal(t, provider, b.Provider)
	assert.Equal(t, models.BranchStatusPending, b.Status)
	assert.Equal(t, uint64(100), b.FormationBlock)
	assert.Len(t, b.Branches, 2)
	assert.Equal(t, uint64(2000), book.Balance(custodyAccount))
	assert.Contains(t, sink.events, "branch.created")

	got, err := svc.GetBranched(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBranched: %v", err)
	}
	assert.Equal(t, b.ID, got.ID)
}

func TestCreateBranchedValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	even := func(n int) []models.Branch {
		out := make([]models.Branch, n)
		for i := range out {
			out[i] = models.Branch{Recipient: "r", SharePct: 100 / uint64(n)}
		}
		return out
	}

	cases := []struct {
		name     string
		branches []models.Branch
		amount   uint64
		want     error
	}{
		{"zero amount", even(2), 0, escrow.ErrParameterInvalid},
		{"no branches", nil, 100, escrow.ErrParameterInvalid},
		{"six branches", even(6), 100, escrow.ErrBeneficiaryOverflow},
		{"empty recipient", []models.Branch{{Recipient: "", SharePct: 100}}, 100, escrow.ErrParameterInvalid},
		{"sum below 100", []models.Branch{{Recipient: "a", SharePct: 60}, {Recipient: "b", SharePct: 39}}, 100, escrow.ErrAllocationImbalance},
		{"sum above 100", []models.Branch{{Recipient: "a", SharePct: 60}, {Recipient: "b", SharePct: 41}}, 100, escrow.ErrAllocationImbalance},
		{"single share above 100", []models.Branch{{Recipient: "a", SharePct: 101}}, 100, escrow.ErrAllocationImbalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateBranched(ctx, provider, tc.branches, tc.amount)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want kind of %v", err, tc.want)
			}
		})
	}
}

func TestCreateBranchedShareSumCannotWrap(t *testing.T) {
	svc, book, _, _ := newTestService(t)
	ctx := context.Background()

	// These shares wrap a uint64 back to exactly 100 when summed naively.
	_, err := svc.CreateBranched(ctx, provider, []models.Branch{
		{Recipient: "a", SharePct: math.MaxUint64},
		{Recipient: "b", SharePct: 101},
	}, 5000)
	assert.ErrorIs(t, err, escrow.ErrAllocationImbalance)
	assert.Equal(t, uint64(0), book.Balance(custodyAccount))

	_, err = svc.GetBranched(ctx, 1)
	assert.ErrorIs(t, err, escrow.ErrEntityMissing)
}

func TestGetBranchedNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.GetBranched(context.Background(), 7)
	assert.ErrorIs(t, err, escrow.ErrEntityMissing)
}
