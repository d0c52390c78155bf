package escrow

import (
	"context"
	"fmt"

	"github.com/phaselock/escrowd/internal/models"
	"github.com/phaselock/escrowd/internal/store"
)

// RecordProgress stores a beneficiary-attested progress report for one phase.
// A report that already reached 100% is immutable; later writes to the same
// (allocation, phase) key are rejected as duplicates.
func (s *Service) RecordProgress(ctx context.Context, caller string, id, phaseIndex, pct uint64, narrative string, evidence [32]byte) (models.PhaseProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.getAllocation(ctx, id)
	if err != nil {
		return models.PhaseProgress{}, err
	}
	if caller != a.Beneficiary {
		return models.PhaseProgress{}, errf(KindAccessDenied, "progress reports require the beneficiary identity")
	}
	if phaseIndex >= uint64(len(a.Phases)) {
		return models.PhaseProgress{}, errf(KindPhaseValidation, "phase index %d out of range, allocation has %d phases", phaseIndex, len(a.Phases))
	}
	if a.State == models.StateReverted {
		return models.PhaseProgress{}, errf(KindAlreadyFinalized, "allocation %d is reverted", id)
	}
	now, err := s.now(ctx)
	if err != nil {
		return models.PhaseProgress{}, err
	}
	if now >= a.ConclusionBlock {
		return models.PhaseProgress{}, errf(KindTimelockViolation, "allocation %d concluded at block %d, now %d", id, a.ConclusionBlock, now)
	}
	if pct > 100 {
		return models.PhaseProgress{}, errf(KindParameterInvalid, "completion percentage %d exceeds 100", pct)
	}

	existing, err := s.store.GetProgress(ctx, id, phaseIndex)
	if err != nil && err != store.ErrNotFound {
		return models.PhaseProgress{}, fmt.Errorf("load progress: %w", err)
	}
	if err == nil && existing.Pct == 100 {
		return models.PhaseProgress{}, errf(KindProgressDuplicate, "phase %d of allocation %d already completed", phaseIndex, id)
	}

	p, err := s.store.PutProgress(ctx, models.PhaseProgress{
		AllocationID:     id,
		PhaseIndex:       phaseIndex,
		Pct:              pct,
		Narrative:        narrative,
		AttestationBlock: now,
		Evidence:         evidence,
	})
	if err != nil {
		return models.PhaseProgress{}, fmt.Errorf("persist progress: %w", err)
	}

	s.emit(ctx, "progress.recorded", map[string]interface{}{
		"allocationId": id,
		"phaseIndex":   phaseIndex,
		"pct":          pct,
		"block":        now,
	})
	return p, nil
}

// GetProgress returns the report stored for one phase of an allocation.
func (s *Service) GetProgress(ctx context.Context, id, phaseIndex uint64) (models.PhaseProgress, error) {
	p, err := s.store.GetProgress(ctx, id, phaseIndex)
	if err != nil {
		if err == store.ErrNotFound {
			return models.PhaseProgress{}, errf(KindEntityMissing, "no progress for phase %d of allocation %d", phaseIndex, id)
		}
		return models.PhaseProgress{}, fmt.Errorf("load progress: %w", err)
	}
	return p, nil
}

// DelegateAuthority records a time-bounded grant of authority flags to a third
// party. At most one unexpired grant exists per allocation. The flags are
// recorded intent only: no engine consults them when authorizing an action.
func (s *Service) DelegateAuthority(ctx context.Context, caller string, id uint64, delegate string, termination, extension, supplement bool, period uint64) (models.DelegationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if period == 0 {
		return models.DelegationRecord{}, errf(KindParameterInvalid, "delegation period must be positive")
	}
	if delegate == "" {
		return models.DelegationRecord{}, errf(KindParameterInvalid, "delegate identity required")
	}
	a, err := s.getAllocation(ctx, id)
	if err != nil {
		return models.DelegationRecord{}, err
	}
	if caller != a.Provider {
		return models.DelegationRecord{}, errf(KindAccessDenied, "delegation requires the provider identity")
	}
	if a.State == models.StateReverted {
		return models.DelegationRecord{}, errf(KindAlreadyFinalized, "allocation %d is reverted", id)
	}
	now, err := s.now(ctx)
	if err != nil {
		return models.DelegationRecord{}, err
	}
	if now >= a.ConclusionBlock {
		return models.DelegationRecord{}, errf(KindTimelockViolation, "allocation %d concluded at block %d, now %d", id, a.ConclusionBlock, now)
	}
	if now+period < now {
		return models.DelegationRecord{}, errf(KindParameterInvalid, "delegation period %d overflows the block height", period)
	}

	existing, err := s.store.GetDelegation(ctx, id)
	if err != nil && err != store.ErrNotFound {
		return models.DelegationRecord{}, fmt.Errorf("load delegation: %w", err)
	}
	if err == nil && !existing.Expired(now) {
		return models.DelegationRecord{}, errf(KindDelegationExists, "allocation %d has a live delegation until block %d", id, existing.ExpirationBlock)
	}

	d, err := s.store.PutDelegation(ctx, models.DelegationRecord{
		AllocationID:    id,
		Delegate:        delegate,
		Termination:     termination,
		Extension:       extension,
		Supplement:      supplement,
		ExpirationBlock: now + period,
	})
	if err != nil {
		return models.DelegationRecord{}, fmt.Errorf("persist delegation: %w", err)
	}

	s.emit(ctx, "authority.delegated", map[string]interface{}{
		"allocationId":    id,
		"delegate":        delegate,
		"termination":     termination,
		"extension":       extension,
		"supplement":      supplement,
		"expirationBlock": d.ExpirationBlock,
	})
	return d, nil
}

// GetDelegation returns the delegation record attached to an allocation.
func (s *Service) GetDelegation(ctx context.Context, id uint64) (models.DelegationRecord, error) {
	d, err := s.store.GetDelegation(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return models.DelegationRecord{}, errf(KindEntityMissing, "no delegation for allocation %d", id)
		}
		return models.DelegationRecord{}, fmt.Errorf("load delegation: %w", err)
	}
	return d, nil
}
