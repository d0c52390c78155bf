package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phaselock/escrowd/internal/models"
)

// PGStore persists escrow records in Postgres. Mutations are serialized by the
// escrow service, so id assignment can use a plain MAX(id)+1 which keeps the
// counter gapless on success.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PGStore) CreateAllocation(ctx context.Context, in AllocationInput) (models.Allocation, error) {
	phases, err := json.Marshal(in.Phases)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("marshal phases: %w", err)
	}
	now := time.Now().UTC()
	q := `
		INSERT INTO allocations
		  (id, provider, beneficiary, amount, state, genesis_block, conclusion_block, phases, phases_released, created_at, updated_at)
		SELECT COALESCE(MAX(id), 0) + 1, $1, $2, $3, $4, $5, $6, $7::jsonb, 0, $8, $8 FROM allocations
		RETURNING id
	`
	var id uint64
	if err := p.db.QueryRowContext(ctx, q,
		in.Provider, in.Beneficiary, in.Amount, string(models.StateActive),
		in.GenesisBlock, in.ConclusionBlock, phases, now,
	).Scan(&id); err != nil {
		return models.Allocation{}, fmt.Errorf("insert allocation: %w", err)
	}
	return models.Allocation{
		ID:              id,
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
	}, nil
}

func (p *PGStore) GetAllocation(ctx context.Context, id uint64) (models.Allocation, error) {
	q := `
		SELECT id, provider, beneficiary, amount, state, genesis_block, conclusion_block, phases, phases_released, created_at, updated_at
		FROM allocations WHERE id = $1
	`
	var (
		a      models.Allocation
		state  string
		phases []byte
	)
	if err := p.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID, &a.Provider, &a.Beneficiary, &a.Amount, &state,
		&a.GenesisBlock, &a.ConclusionBlock, &phases, &a.PhasesReleased,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return models.Allocation{}, ErrNotFound
		}
		return models.Allocation{}, fmt.Errorf("query allocation: %w", err)
	}
	a.State = models.LifecycleState(state)
	if err := json.Unmarshal(phases, &a.Phases); err != nil {
		return models.Allocation{}, fmt.Errorf("unmarshal phases: %w", err)
	}
	return a, nil
}

func (p *PGStore) UpdateAllocation(ctx context.Context, a models.Allocation) (models.Allocation, error) {
	a.UpdatedAt = time.Now().UTC()
	q := `
		UPDATE allocations
		SET state = $2, conclusion_block = $3, phases_released = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := p.db.ExecContext(ctx, q, a.ID, string(a.State), a.ConclusionBlock, a.PhasesReleased, a.UpdatedAt)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("update allocation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Allocation{}, ErrNotFound
	}
	return a, nil
}

func (p *PGStore) CreateBranched(ctx context.Context, in BranchedInput) (models.BranchedAllocation, error) {
	branches, err := json.Marshal(in.Branches)
	if err != nil {
		return models.BranchedAllocation{}, fmt.Errorf("marshal branches: %w", err)
	}
	now := time.Now().UTC()
	q := `
		INSERT INTO branched_allocations
		  (id, provider, branches, amount, formation_block, status, created_at)
		SELECT COALESCE(MAX(id), 0) + 1, $1, $2::jsonb, $3, $4, $5, $6 FROM branched_allocations
		RETURNING id
	`
	var id uint64
	if err := p.db.QueryRowContext(ctx, q,
		in.Provider, branches, in.Amount, in.FormationBlock, models.BranchStatusPending, now,
	).Scan(&id); err != nil {
		return models.BranchedAllocation{}, fmt.Errorf("insert branched allocation: %w", err)
	}
	return models.BranchedAllocation{
		ID:             id,
		Provider:       in.Provider,
		Branches:       append([]models.Branch(nil), in.Branches...),
		Amount:         in.Amount,
		FormationBlock: in.FormationBlock,
		Status:         models.BranchStatusPending,
		CreatedAt:      now,
	}, nil
}

func (p *PGStore) GetBranched(ctx context.Context, id uint64) (models.BranchedAllocation, error) {
	q := `
		SELECT id, provider, branches, amount, formation_block, status, created_at
		FROM branched_allocations WHERE id = $1
	`
	var (
		b        models.BranchedAllocation
		branches []byte
	)
	if err := p.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.Provider, &branches, &b.Amount, &b.FormationBlock, &b.Status, &b.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return models.BranchedAllocation{}, ErrNotFound
		}
		return models.BranchedAllocation{}, fmt.Errorf("query branched allocation: %w", err)
	}
	if err := json.Unmarshal(branches, &b.Branches); err != nil {
		return models.BranchedAllocation{}, fmt.Errorf("unmarshal branches: %w", err)
	}
	return b, nil
}

func (p *PGStore) PutProgress(ctx context.Context, pr models.PhaseProgress) (models.PhaseProgress, error) {
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = time.Now().UTC()
	}
	q := `
		INSERT INTO phase_progress
		  (allocation_id, phase_index, pct, narrative, attestation_block, evidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (allocation_id, phase_index) DO UPDATE
		SET pct = EXCLUDED.pct, narrative = EXCLUDED.narrative, attestation_block = EXCLUDED.attestation_block, evidence = EXCLUDED.evidence
	`
	_, err := p.db.ExecContext(ctx, q,
		pr.AllocationID, pr.PhaseIndex, pr.Pct, pr.Narrative, pr.AttestationBlock, pr.Evidence[:], pr.CreatedAt,
	)
	if err != nil {
		return models.PhaseProgress{}, fmt.Errorf("upsert phase progress: %w", err)
	}
	return pr, nil
}

func (p *PGStore) GetProgress(ctx context.Context, allocationID, phaseIndex uint64) (models.PhaseProgress, error) {
	q := `
		SELECT allocation_id, phase_index, pct, narrative, attestation_block, evidence, created_at
		FROM phase_progress WHERE allocation_id = $1 AND phase_index = $2
	`
	var (
		pr       models.PhaseProgress
		evidence []byte
	)
	if err := p.db.QueryRowContext(ctx, q, allocationID, phaseIndex).Scan(
		&pr.AllocationID, &pr.PhaseIndex, &pr.Pct, &pr.Narrative, &pr.AttestationBlock, &evidence, &pr.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return models.PhaseProgress{}, ErrNotFound
		}
		return models.PhaseProgress{}, fmt.Errorf("query phase progress: %w", err)
	}
	copy(pr.Evidence[:], evidence)
	return pr, nil
}

func (p *PGStore) PutDelegation(ctx context.Context, d models.DelegationRecord) (models.DelegationRecord, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	q := `
		INSERT INTO delegations
		  (allocation_id, delegate, termination, extension, supplement, expiration_block, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (allocation_id) DO UPDATE
		SET delegate = EXCLUDED.delegate, termination = EXCLUDED.termination, extension = EXCLUDED.extension,
		    supplement = EXCLUDED.supplement, expiration_block = EXCLUDED.expiration_block, created_at = EXCLUDED.created_at
	`
	_, err := p.db.ExecContext(ctx, q,
		d.AllocationID, d.Delegate, d.Termination, d.Extension, d.Supplement, d.ExpirationBlock, d.CreatedAt,
	)
	if err != nil {
		return models.DelegationRecord{}, fmt.Errorf("upsert delegation: %w", err)
	}
	return d, nil
}

func (p *PGStore) GetDelegation(ctx context.Context, allocationID uint64) (models.DelegationRecord, error) {
	q := `
		SELECT allocation_id, delegate, termination, extension, supplement, expiration_block, created_at
		FROM delegations WHERE allocation_id = $1
	`
	var d models.DelegationRecord
	if err := p.db.QueryRowContext(ctx, q, allocationID).Scan(
		&d.AllocationID, &d.Delegate, &d.Termination, &d.Extension, &d.Supplement, &d.ExpirationBlock, &d.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return models.DelegationRecord{}, ErrNotFound
		}
		return models.DelegationRecord{}, fmt.Errorf("query delegation: %w", err)
	}
	return d, nil
}

func (p *PGStore) SetOperationalStatus(ctx context.Context, active bool) error {
	q := `
		INSERT INTO protocol_flags (name, value, updated_at)
		VALUES ('operational', $1, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`
	_, err := p.db.ExecContext(ctx, q, active)
	return err
}

func (p *PGStore) OperationalStatus(ctx context.Context) (bool, error) {
	var v bool
	q := `SELECT value FROM protocol_flags WHERE name = 'operational'`
	if err := p.db.QueryRowContext(ctx, q).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			// Flag unset means the protocol is considered operational.
			return true, nil
		}
		return false, err
	}
	return v, nil
}

func (p *PGStore) SetEntityVerified(ctx context.Context, entity string, verified bool) error {
	q := `
		INSERT INTO verified_entities (entity, verified, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (entity) DO UPDATE SET verified = EXCLUDED.verified, updated_at = now()
	`
	_, err := p.db.ExecContext(ctx, q, entity, verified)
	return err
}

func (p *PGStore) IsEntityVerified(ctx context.Context, entity string) (bool, error) {
	var v bool
	q := `SELECT verified FROM verified_entities WHERE entity = $1`
	if err := p.db.QueryRowContext(ctx, q, entity).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return v, nil
}
