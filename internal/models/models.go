// package models contains the canonical escrow records persisted by the ledger.
package models

import (
	"time"
)

// LifecycleState is the closed set of allocation lifecycle states.
// StateTerminated and StateReverted are terminal and mutually exclusive:
// once either is set, no further transition is permitted.
type LifecycleState string

const (
	StateActive     LifecycleState = "active"
	StateTerminated LifecycleState = "terminated"
	StateReverted   LifecycleState = "reverted"
)

// Terminal reports whether the state permits no further lifecycle transition.
func (s LifecycleState) Terminal() bool {
	return s == StateTerminated || s == StateReverted
}

// Allocation is a staged escrow record binding a provider's locked value to a
// beneficiary, released over equally-weighted phases.
//
// Amount is fixed at creation and never mutated. Phases holds the opaque phase
// markers supplied at creation; only its length drives payout math.
type Allocation struct {
	ID              uint64         `json:"id"`
	Provider        string         `json:"provider"`
	Beneficiary     string         `json:"beneficiary"`
	Amount          uint64         `json:"amount"`
	State           LifecycleState `json:"state"`
	GenesisBlock    uint64         `json:"genesisBlock"`
	ConclusionBlock uint64         `json:"conclusionBlock"`
	Phases          []uint64       `json:"phases"`
	PhasesReleased  uint64         `json:"phasesReleased"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// PerPhaseAmount is the truncating per-phase payout. Any remainder of a
// non-divisible Amount is never distributed by repeated releases.
func (a *Allocation) PerPhaseAmount() uint64 {
	if len(a.Phases) == 0 {
		return 0
	}
	return a.Amount / uint64(len(a.Phases))
}

// Branch is one (recipient, percentage) pair of a branched allocation.
type Branch struct {
	Recipient string `json:"recipient"`
	SharePct  uint64 `json:"sharePct"`
}

// BranchedAllocation is a percentage-split multi-beneficiary commitment.
// Share percentages must sum to exactly 100. Status starts at "pending";
// no disbursement step exists for branches in this service.
type BranchedAllocation struct {
	ID             uint64    `json:"id"`
	Provider       string    `json:"provider"`
	Branches       []Branch  `json:"branches"`
	Amount         uint64    `json:"amount"`
	FormationBlock uint64    `json:"formationBlock"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}

// BranchStatusPending is the only branch status this service writes.
const BranchStatusPending = "pending"

// PhaseProgress is a beneficiary-attested progress report for one phase,
// keyed by (AllocationID, PhaseIndex). Once a record reaches 100%, no further
// write to that key is accepted.
type PhaseProgress struct {
	AllocationID     uint64    `json:"allocationId"`
	PhaseIndex       uint64    `json:"phaseIndex"`
	Pct              uint64    `json:"pct"`
	Narrative        string    `json:"narrative"`
	AttestationBlock uint64    `json:"attestationBlock"`
	Evidence         [32]byte  `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
}

// DelegationRecord grants time-bounded authority flags to a third party.
// At most one live (unexpired) record exists per allocation. The flags are
// recorded intent only; no engine consults them when authorizing an action.
type DelegationRecord struct {
	AllocationID    uint64    `json:"allocationId"`
	Delegate        string    `json:"delegate"`
	Termination     bool      `json:"termination"`
	Extension       bool      `json:"extension"`
	Supplement      bool      `json:"supplement"`
	ExpirationBlock uint64    `json:"expirationBlock"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Expired reports whether the grant has lapsed at the given block height.
func (d *DelegationRecord) Expired(now uint64) bool {
	return now >= d.ExpirationBlock
}
