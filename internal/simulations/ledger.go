/*

This package is the in-memory execution backend: a token ledger, a
constant-product AMM, two lending markets and a flash-loan source, all
satisfying the interfaces in internal/market. It plays the role the live
chain executors play in production and is what the binary's sim mode and the
package tests run against.

*/

package simulations

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownAccount      = errors.New("unknown account")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Ledger is the shared token bank every simulated venue settles against.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]map[string]sdkmath.Int // account -> asset -> amount
}

// NewLedger creates an empty bank.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]map[string]sdkmath.Int)}
}

// Mint credits freshly created units to an account.
func (l *Ledger) Mint(account, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: mint %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, asset, amount)
	return nil
}

// Burn destroys units held by an account.
func (l *Ledger) Burn(account, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: burn %s", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debit(account, asset, amount)
}

// Transfer moves units between accounts.
func (l *Ledger) Transfer(from, to, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: transfer %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, asset, amount); err != nil {
		return err
	}
	l.credit(to, asset, amount)
	return nil
}

// BalanceOf returns the account's holdings of one asset.
func (l *Ledger) BalanceOf(account, asset string) (sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(account, asset), nil
}

// snapshot returns a restore closure capturing the full ledger state.
// Operations use it to get transaction semantics outside a chain host.
func (l *Ledger) snapshot() func() {
	l.mu.Lock()
	saved := make(map[string]map[string]sdkmath.Int, len(l.balances))
	for account, assets := range l.balances {
		inner := make(map[string]sdkmath.Int, len(assets))
		for asset, amount := range assets {
			inner[asset] = amount
		}
		saved[account] = inner
	}
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.balances = saved
		l.mu.Unlock()
	}
}

func (l *Ledger) balance(account, asset string) sdkmath.Int {
	if assets, ok := l.balances[account]; ok {
		if amount, ok := assets[asset]; ok {
			return amount
		}
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) credit(account, asset string, amount sdkmath.Int) {
	assets, ok := l.balances[account]
	if !ok {
		assets = make(map[string]sdkmath.Int)
		l.balances[account] = assets
	}
	current, ok := assets[asset]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	assets[asset] = current.Add(amount)
}

func (l *Ledger) debit(account, asset string, amount sdkmath.Int) error {
	current := l.balance(account, asset)
	if current.LT(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, account, current, asset, amount)
	}
	l.balances[account][asset] = current.Sub(amount)
	return nil
}
