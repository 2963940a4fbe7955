package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ruteri/software-update-ledger/interfaces"
)

var (
	// ErrInsufficientFunds is returned when the payer's balance is below the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRecipientRejected is returned when the recipient refuses incoming value.
	ErrRecipientRejected = errors.New("recipient rejected transfer")
)

// Bank is an in-memory native-value ledger implementing interfaces.ValueTransfer.
// It backs single-process deployments and tests. Recipients can be marked as
// rejecting to reproduce accounts that cannot receive funds.
type Bank struct {
	mu        sync.RWMutex
	balances  map[interfaces.Principal]*big.Int
	rejecting map[interfaces.Principal]bool
}

// NewBank creates a bank with no balances.
func NewBank() *Bank {
	return &Bank{
		balances:  make(map[interfaces.Principal]*big.Int),
		rejecting: make(map[interfaces.Principal]bool),
	}
}

// Credit adds amount to the balance of p.
func (b *Bank) Credit(p interfaces.Principal, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[p] = new(big.Int).Add(b.balanceOf(p), amount)
}

// BalanceOf returns the current balance of p.
func (b *Bank) BalanceOf(p interfaces.Principal) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.balanceOf(p))
}

// RejectRecipient makes transfers to p fail (or succeed again when reject is false).
func (b *Bank) RejectRecipient(p interfaces.Principal, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reject {
		b.rejecting[p] = true
	} else {
		delete(b.rejecting, p)
	}
}

// Transfer moves amount from one principal to another. Either both balances
// change or neither does.
func (b *Bank) Transfer(ctx context.Context, from, to interfaces.Principal, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", interfaces.ErrInvalidArgument)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rejecting[to] {
		return fmt.Errorf("%w: %s", ErrRecipientRejected, to.Hex())
	}
	balance := b.balanceOf(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), balance, amount)
	}

	b.balances[from] = new(big.Int).Sub(balance, amount)
	b.balances[to] = new(big.Int).Add(b.balanceOf(to), amount)
	return nil
}

func (b *Bank) balanceOf(p interfaces.Principal) *big.Int {
	if v, ok := b.balances[p]; ok {
		return v
	}
	return new(big.Int)
}
