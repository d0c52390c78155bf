package store

import (
	"context"
	"errors"

	"github.com/phaselock/escrowd/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store persists the four escrow maps, the two monotonic counters, the
// operational flag and the verified-entity registry. Allocation and branch ids
// are assigned by the store: sequential from 1, strictly monotonic, never
// reused. The escrow service serializes mutations, so each method only needs
// to be individually atomic.
type Store interface {
	CreateAllocation(ctx context.Context, in AllocationInput) (models.Allocation, error)
	GetAllocation(ctx context.Context, id uint64) (models.Allocation, error)
	UpdateAllocation(ctx context.Context, a models.Allocation) (models.Allocation, error)

	CreateBranched(ctx context.Context, in BranchedInput) (models.BranchedAllocation, error)
	GetBranched(ctx context.Context, id uint64) (models.BranchedAllocation, error)

	PutProgress(ctx context.Context, p models.PhaseProgress) (models.PhaseProgress, error)
	GetProgress(ctx context.Context, allocationID, phaseIndex uint64) (models.PhaseProgress, error)

	PutDelegation(ctx context.Context, d models.DelegationRecord) (models.DelegationRecord, error)
	GetDelegation(ctx context.Context, allocationID uint64) (models.DelegationRecord, error)

	SetOperationalStatus(ctx context.Context, active bool) error
	OperationalStatus(ctx context.Context) (bool, error)

	SetEntityVerified(ctx context.Context, entity string, verified bool) error
	IsEntityVerified(ctx context.Context, entity string) (bool, error)

	Ping(ctx context.Context) error
}

// AllocationInput carries the creation-time fields; the store assigns the id
// and timestamps and starts the record Active with zero phases released.
type AllocationInput struct {
	Provider        string
	Beneficiary     string
	Amount          uint64
	GenesisBlock    uint64
	ConclusionBlock uint64
	Phases          []uint64
}

// BranchedInput carries branched-allocation creation fields.
type BranchedInput struct {
	Provider       string
	Branches       []models.Branch
	Amount         uint64
	FormationBlock uint64
}
