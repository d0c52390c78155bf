package escrow

import (
	"context"
	"fmt"

	"github.com/phaselock/escrowd/internal/models"
	"github.com/phaselock/escrowd/internal/store"
)

// CreateBranched locks amount into custody and records a percentage-split
// multi-beneficiary commitment. Share percentages must sum to exactly 100.
// The record stays "pending": no disbursement operation exists for branches.
func (s *Service) CreateBranched(ctx context.Context, caller string, branches []models.Branch, amount uint64) (models.BranchedAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == 0 {
		return models.BranchedAllocation{}, errf(KindParameterInvalid, "amount must be positive")
	}
	if len(branches) == 0 {
		return models.BranchedAllocation{}, errf(KindParameterInvalid, "at least one branch required")
	}
	if len(branches) > MaxBranches {
		return models.BranchedAllocation{}, errf(KindBeneficiaryOverflow, "at most %d branches allowed, got %d", MaxBranches, len(branches))
	}
	var total uint64
	for i, b := range branches {
		if b.Recipient == "" {
			return models.BranchedAllocation{}, errf(KindParameterInvalid, "branch %d: recipient required", i)
		}
		if b.SharePct > 100 {
			return models.BranchedAllocation{}, errf(KindAllocationImbalance, "branch %d: share %d%% exceeds 100", i, b.SharePct)
		}
		total += b.SharePct
	}
	if total != 100 {
		return models.BranchedAllocation{}, errf(KindAllocationImbalance, "share percentages sum to %d, want exactly 100", total)
	}

	now, err := s.now(ctx)
	if err != nil {
		return models.BranchedAllocation{}, err
	}

	if err := s.custody.Move(ctx, amount, caller, s.cfg.CustodyAccount); err != nil {
		return models.BranchedAllocation{}, wrapf(KindOperationFailure, err, "lock %d into custody", amount)
	}

	b, err := s.store.CreateBranched(ctx, store.BranchedInput{
		Provider:       caller,
		Branches:       branches,
		Amount:         amount,
		FormationBlock: now,
	})
	if err != nil {
		return models.BranchedAllocation{}, fmt.Errorf("persist branched allocation: %w", err)
	}

	s.emit(ctx, "branch.created", map[string]interface{}{
		"branchId":       b.ID,
		"provider":       b.Provider,
		"amount":         b.Amount,
		"branches":       len(b.Branches),
		"formationBlock": b.FormationBlock,
	})
	return b, nil
}

// GetBranched returns one branched allocation record.
func (s *Service) GetBranched(ctx context.Context, id uint64) (models.BranchedAllocation, error) {
	b, err := s.store.GetBranched(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return models.BranchedAllocation{}, errf(KindEntityMissing, "branched allocation %d not found", id)
		}
		return models.BranchedAllocation{}, fmt.Errorf("load branched allocation %d: %w", id, err)
	}
	return b, nil
}
