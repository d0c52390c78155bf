// package escrow implements the allocation lifecycle state machine: creation,
// phased release, timelock reclamation, early termination, deadline extension,
// branched allocations, and the auxiliary progress and delegation records.
//
// Every mutating operation executes as one atomic serialized unit: the service
// holds a single mutex for the duration of the call, custody movement happens
// before any record write, and the first violated guard aborts with nothing
// written.
package escrow

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/phaselock/escrowd/internal/chain"
	"github.com/phaselock/escrowd/internal/custody"
	"github.com/phaselock/escrowd/internal/models"
	"github.com/phaselock/escrowd/internal/store"
)

// Protocol constants.
const (
	// TimelockPeriod is the number of blocks between an allocation's genesis
	// and its conclusion deadline.
	TimelockPeriod uint64 = 1008

	// MaxExtension caps a single extend call. Cumulative extension across
	// calls is uncapped.
	MaxExtension uint64 = 2016

	// MaxPhases bounds the phase list supplied at creation.
	MaxPhases = 5

	// MaxBranches bounds the recipient list of a branched allocation.
	MaxBranches = 5
)

// EventSink receives protocol events after a mutation has committed. A sink
// failure is logged and does not roll the mutation back; escrow records are
// the source of truth and events are re-derivable from them.
type EventSink interface {
	Record(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Config carries the fixed identities the service authorizes against.
type Config struct {
	// GovernanceID is the deployer identity allowed to release phases,
	// reclaim expired allocations and flip protocol flags.
	GovernanceID string

	// CustodyAccount holds locked value between creation and release.
	CustodyAccount string
}

// Service owns the allocation ledger and its engines.
type Service struct {
	mu      sync.Mutex
	store   store.Store
	custody custody.Mover
	clock   chain.Clock
	events  EventSink
	cfg     Config
}

func New(st store.Store, mover custody.Mover, clock chain.Clock, events EventSink, cfg Config) (*Service, error) {
	if cfg.GovernanceID == "" {
		return nil, fmt.Errorf("escrow: governance identity required")
	}
	if cfg.CustodyAccount == "" {
		return nil, fmt.Errorf("escrow: custody account required")
	}
	return &Service{
		store:   st,
		custody: mover,
		clock:   clock,
		events:  events,
		cfg:     cfg,
	}, nil
}

func (s *Service) now(ctx context.Context) (uint64, error) {
	h, err := s.clock.Current(ctx)
	if err != nil {
		return 0, wrapf(KindOperationFailure, err, "read block height")
	}
	return h, nil
}

func (s *Service) emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, eventType, payload); err != nil {
		log.Printf("[escrow] record event %s: %v", eventType, err)
	}
}

// CreateAllocation locks amount from caller into custody and opens a new
// allocation toward beneficiary, released over len(phases) equal parts.
// The id counter is untouched when the custody transfer fails.
func (s *Service) CreateAllocation(ctx context.Context, caller, beneficiary string, amount uint64, phases []uint64) (models.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == 0 {
		return models.Allocation{}, errf(KindParameterInvalid, "amount must be positive")
	}
	if beneficiary == "" {
		return models.Allocation{}, errf(KindParameterInvalid, "beneficiary required")
	}
	if beneficiary == caller {
		return models.Allocation{}, errf(KindParameterInvalid, "beneficiary must differ from provider")
	}
	if len(phases) == 0 {
		return models.Allocation{}, errf(KindParameterInvalid, "at least one phase required")
	}
	if len(phases) > MaxPhases {
		return models.Allocation{}, errf(KindPhaseValidation, "at most %d phases allowed, got %d", MaxPhases, len(phases))
	}

	now, err := s.now(ctx)
	if err != nil {
		return models.Allocation{}, err
	}

	if err := s.custody.Move(ctx, amount, caller, s.cfg.CustodyAccount); err != nil {
		return models.Allocation{}, wrapf(KindOperationFailure, err, "lock %d into custody", amount)
	}

	a, err := s.store.CreateAllocation(ctx, store.AllocationInput{
		Provider:        caller,
		Beneficiary:     beneficiary,
		Amount:          amount,
		GenesisBlock:    now,
		ConclusionBlock: now + TimelockPeriod,
		Phases:          phases,
	})
	if err != nil {
		return models.Allocation{}, fmt.Errorf("persist allocation: %w", err)
	}

	s.emit(ctx, "allocation.created", map[string]interface{}{
		"allocationId":    a.ID,
		"provider":        a.Provider,
		"beneficiary":     a.Beneficiary,
		"amount":          a.Amount,
		"phases":          len(a.Phases),
		"genesisBlock":    a.GenesisBlock,
		"conclusionBlock": a.ConclusionBlock,
	})
	return a, nil
}

// ReleasePhase pays out one phase's share to the beneficiary. Governance-only.
// Deliberately no deadline or lifecycle guard: phases remain releasable after
// the conclusion block has passed.
func (s *Service) ReleasePhase(ctx context.Context, caller string, id uint64) (models.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.cfg.GovernanceID {
		return models.Allocation{}, errf(KindAccessDenied, "phase release requires the governance identity")
	}
	a, err := s.getAllocation(ctx, id)
	if err != nil {
		return models.Allocation{}, err
	}
	if a.PhasesReleased >= uint64(len(a.Phases)) {
		return models.Allocation{}, errf(KindAlreadyFinalized, "allocation %d: all %d phases released", id, len(a.Phases))
	}

	perPhase := a.PerPhaseAmount()
	if err := s.custody.Move(ctx, perPhase, s.cfg.CustodyAccount, a.Beneficiary); err != nil {
		return models.Allocation{}, wrapf(KindOperationFailure, err, "release %d to beneficiary", perPhase)
	}

	a.PhasesReleased++
	updated, err := s.store.UpdateAllocation(ctx, a)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("persist phase release: %w", err)
	}

	s.emit(ctx, "phase.released", map[string]interface{}{
		"allocationId":   id,
		"amount":         perPhase,
		"phasesReleased": updated.PhasesReleased,
	})
	return updated, nil
}

// ReclaimExpired returns custodied value to the provider once the conclusion
// block is strictly in the past, and marks the allocation Reverted.
// Governance-only.
//
// The full original amount is returned, without subtracting phases already
// released. That over-pays the provider when release and expiry overlap; the
// behavior is kept as observed in the protocol this service implements.
func (s *Service) ReclaimExpired(ctx context.Context, caller string, id uint64) (models.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.cfg.GovernanceID {
		return models.Allocation{}, errf(KindAccessDenied, "reclaim requires the governance identity")
	}
	a, err := s.getAllocation(ctx, id)
	if err != nil {
		return models.Allocation{}, err
	}
	if a.State != models.StateActive {
		return models.Allocation{}, errf(KindAlreadyFinalized, "allocation %d is %s", id, a.State)
	}
	now, err := s.now(ctx)
	if err != nil {
		return models.Allocation{}, err
	}
	if now <= a.ConclusionBlock {
		return models.Allocation{}, errf(KindTimelockViolation, "allocation %d concludes at block %d, now %d", id, a.ConclusionBlock, now)
	}

	if err := s.custody.Move(ctx, a.Amount, s.cfg.CustodyAccount, a.Provider); err != nil {
		return models.Allocation{}, wrapf(KindOperationFailure, err, "return %d to provider", a.Amount)
	}

	a.State = models.StateReverted
	updated, err := s.store.UpdateAllocation(ctx, a)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("persist reclaim: %w", err)
	}

	s.emit(ctx, "allocation.reverted", map[string]interface{}{
		"allocationId": id,
		"amount":       a.Amount,
		"block":        now,
	})
	return updated, nil
}

// Terminate cancels an Active allocation before its deadline and returns the
// unreleased remainder to the provider. Provider-only.
func (s *Service) Terminate(ctx context.Context, caller string, id uint64) (models.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.getAllocation(ctx, id)
	if err != nil {
		return models.Allocation{}, err
	}
	if caller != a.Provider {
		return models.Allocation{}, errf(KindAccessDenied, "termination requires the provider identity")
	}
	if a.State != models.StateActive {
		return models.Allocation{}, errf(KindAlreadyFinalized, "allocation %d is %s", id, a.State)
	}
	now, err := s.now(ctx)
	if err != nil {
		return models.Allocation{}, err
	}
	if now >= a.ConclusionBlock {
		return models.Allocation{}, errf(KindTimelockViolation, "allocation %d concluded at block %d, now %d", id, a.ConclusionBlock, now)
	}

	remaining := a.Amount - a.PerPhaseAmount()*a.PhasesReleased
	if remaining > 0 {
		if err := s.custody.Move(ctx, remaining, s.cfg.CustodyAccount, a.Provider); err != nil {
			return models.Allocation{}, wrapf(KindOperationFailure, err, "return %d to provider", remaining)
		}
	}

	a.State = models.StateTerminated
	updated, err := s.store.UpdateAllocation(ctx, a)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("persist termination: %w", err)
	}

	s.emit(ctx, "allocation.terminated", map[string]interface{}{
		"allocationId": id,
		"remaining":    remaining,
		"block":        now,
	})
	return updated, nil
}

// Extend pushes the conclusion block outward by period blocks. Provider-only.
// Each call is capped at MaxExtension; repeated calls are not.
func (s *Service) Extend(ctx context.Context, caller string, id uint64, period uint64) (models.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if period == 0 {
		return models.Allocation{}, errf(KindParameterInvalid, "extension period must be positive")
	}
	if period > MaxExtension {
		return models.Allocation{}, errf(KindParameterInvalid, "extension period %d exceeds cap %d", period, MaxExtension)
	}
	a, err := s.getAllocation(ctx, id)
	if err != nil {
		return models.Allocation{}, err
	}
	if caller != a.Provider {
		return models.Allocation{}, errf(KindAccessDenied, "extension requires the provider identity")
	}
	now, err := s.now(ctx)
	if err != nil {
		return models.Allocation{}, err
	}
	if now >= a.ConclusionBlock {
		return models.Allocation{}, errf(KindTimelockViolation, "allocation %d already concluded at block %d, now %d", id, a.ConclusionBlock, now)
	}

	a.ConclusionBlock += period
	updated, err := s.store.UpdateAllocation(ctx, a)
	if err != nil {
		return models.Allocation{}, fmt.Errorf("persist extension: %w", err)
	}

	s.emit(ctx, "allocation.extended", map[string]interface{}{
		"allocationId":    id,
		"period":          period,
		"conclusionBlock": updated.ConclusionBlock,
	})
	return updated, nil
}

// GetAllocation returns one allocation record.
func (s *Service) GetAllocation(ctx context.Context, id uint64) (models.Allocation, error) {
	return s.getAllocation(ctx, id)
}

func (s *Service) getAllocation(ctx context.Context, id uint64) (models.Allocation, error) {
	a, err := s.store.GetAllocation(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return models.Allocation{}, errf(KindEntityMissing, "allocation %d not found", id)
		}
		return models.Allocation{}, fmt.Errorf("load allocation %d: %w", id, err)
	}
	return a, nil
}
