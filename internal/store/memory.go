package store

import (
	"context"
	"sync"
	"time"

	"github.com/phaselock/escrowd/internal/models"
)

type progressKey struct {
	allocationID uint64
	phaseIndex   uint64
}

// MemoryStore keeps all records in process. It backs tests and DB-less
// deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	allocations map[uint64]models.Allocation
	branched    map[uint64]models.BranchedAllocation
	progress    map[progressKey]models.PhaseProgress
	delegations map[uint64]models.DelegationRecord
	verified    map[string]bool
	nextAlloc   uint64
	nextBranch  uint64
	operational bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		allocations: map[uint64]models.Allocation{},
		branched:    map[uint64]models.BranchedAllocation{},
		progress:    map[progressKey]models.PhaseProgress{},
		delegations: map[uint64]models.DelegationRecord{},
		verified:    map[string]bool{},
		nextAlloc:   1,
		nextBranch:  1,
		operational: true,
	}
}

func (m *MemoryStore) CreateAllocation(ctx context.Context, in AllocationInput) (models.Allocation, error) {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	a := models.Allocation{
		ID:              m.nextAlloc,
		Provider:        in.Provider,
		Beneficiary:     in.Beneficiary,
		Amount:          in.Amount,
		State:           models.StateActive,
		GenesisBlock:    in.GenesisBlock,
		ConclusionBlock: in.ConclusionBlock,
		Phases:          append([]uint64(nil), in.Phases...),
		PhasesReleased:  0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.nextAlloc++
	m.allocations[a.ID] = a
	return a, nil
}

func (m *MemoryStore) GetAllocation(ctx context.Context, id uint64) (models.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.allocations[id]
	if !ok {
		return models.Allocation{}, ErrNotFound
	}
	a.Phases = append([]uint64(nil), a.Phases...)
	return a, nil
}

func (m *MemoryStore) UpdateAllocation(ctx context.Context, a models.Allocation) (models.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.allocations[a.ID]; !ok {
		return models.Allocation{}, ErrNotFound
	}
	a.UpdatedAt = time.Now().UTC()
	a.Phases = append([]uint64(nil), a.Phases...)
	m.allocations[a.ID] = a
	return a, nil
}

func (m *MemoryStore) CreateBranched(ctx context.Context, in BranchedInput) (models.BranchedAllocation, error) {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	b := models.BranchedAllocation{
		ID:             m.nextBranch,
		Provider:       in.Provider,
		Branches:       append([]models.Branch(nil), in.Branches...),
		Amount:         in.Amount,
		FormationBlock: in.FormationBlock,
		Status:         models.BranchStatusPending,
		CreatedAt:      now,
	}
	m.nextBranch++
	m.branched[b.ID] = b
	return b, nil
}

func (m *MemoryStore) GetBranched(ctx context.Context, id uint64) (models.BranchedAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.branched[id]
	if !ok {
		return models.BranchedAllocation{}, ErrNotFound
	}
	b.Branches = append([]models.Branch(nil), b.Branches...)
	return b, nil
}

func (m *MemoryStore) PutProgress(ctx context.Context, p models.PhaseProgress) (models.PhaseProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.progress[progressKey{p.AllocationID, p.PhaseIndex}] = p
	return p, nil
}

func (m *MemoryStore) GetProgress(ctx context.Context, allocationID, phaseIndex uint64) (models.PhaseProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[progressKey{allocationID, phaseIndex}]
	if !ok {
		return models.PhaseProgress{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) PutDelegation(ctx context.Context, d models.DelegationRecord) (models.DelegationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.delegations[d.AllocationID] = d
	return d, nil
}

func (m *MemoryStore) GetDelegation(ctx context.Context, allocationID uint64) (models.DelegationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.delegations[allocationID]
	if !ok {
		return models.DelegationRecord{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) SetOperationalStatus(ctx context.Context, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operational = active
	return nil
}

func (m *MemoryStore) OperationalStatus(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.operational, nil
}

func (m *MemoryStore) SetEntityVerified(ctx context.Context, entity string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified[entity] = verified
	return nil
}

func (m *MemoryStore) IsEntityVerified(ctx context.Context, entity string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.verified[entity], nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
