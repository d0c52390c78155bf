// package custody wraps the native value-movement primitive the escrow core
// depends on. The core only ever calls Move; balances live with the host.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInsufficientFunds is returned when the source account cannot cover the
// requested amount. The escrow core surfaces it as an operation failure and
// writes nothing.
var ErrInsufficientFunds = errors.New("custody: insufficient funds")

// Mover moves a quantity of the fungible resource between accounts.
type Mover interface {
	Move(ctx context.Context, amount uint64, from, to string) error
}

// Book is an in-process account book guarded by a mutex. It backs local
// deployments and tests; production deployments point at a settlement
// service via HTTPClient instead.
type Book struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewBook returns an empty account book.
func NewBook() *Book {
	return &Book{balances: map[string]uint64{}}
}

// Credit adds funds to an account. Used to seed balances.
func (b *Book) Credit(account string, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] += amount
}

// Balance returns the current balance of an account (zero if unknown).
func (b *Book) Balance(account string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Move transfers amount from one account to another. It fails without any
// effect when the source balance is short.
func (b *Book) Move(ctx context.Context, amount uint64, from, to string) error {
	if from == "" || to == "" {
		return fmt.Errorf("custody: from and to accounts required")
	}
	if from == to {
		return fmt.Errorf("custody: from and to must differ")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return ErrInsufficientFunds
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}
