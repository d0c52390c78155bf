// package chain supplies the monotonic logical block counter the escrow
// guards compare against. The counter is host input: the core never advances
// it itself.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock reports the current logical block height.
type Clock interface {
	Current(ctx context.Context) (uint64, error)
}

// Ticking derives block height from wall time: height increases by one every
// Interval after Genesis. Height never decreases while the process runs.
type Ticking struct {
	genesis  time.Time
	interval time.Duration
}

// NewTicking constructs a wall-time derived clock. Interval must be positive.
func NewTicking(genesis time.Time, interval time.Duration) (*Ticking, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("chain: block interval must be positive")
	}
	if genesis.IsZero() {
		return nil, fmt.Errorf("chain: genesis time required")
	}
	return &Ticking{genesis: genesis.UTC(), interval: interval}, nil
}

func (t *Ticking) Current(ctx context.Context) (uint64, error) {
	elapsed := time.Now().UTC().Sub(t.genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / t.interval), nil
}

// Manual is a hand-advanced clock for tests.
type Manual struct {
	mu     sync.Mutex
	height uint64
}

// NewManual starts a manual clock at the given height.
func NewManual(height uint64) *Manual {
	return &Manual{height: height}
}

func (m *Manual) Current(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height, nil
}

// Advance moves the clock forward by n blocks and returns the new height.
func (m *Manual) Advance(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height += n
	return m.height
}

// Set jumps to an absolute height. It refuses to move backwards.
func (m *Manual) Set(height uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height > m.height {
		m.height = height
	}
	return m.height
}
