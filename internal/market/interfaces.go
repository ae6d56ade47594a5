/*

This package defines the consumer-side interfaces for the external execution
collaborators: the token bank, the AMM router/pool, the lending markets, the
flash-loan source and the keeper registry. The engine only ever talks to
these interfaces; live adapters and the in-memory simulation backend both
satisfy them.

*/

package market

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/hedgevault/dnv/internal/types"
)

// Bank moves fungible assets between accounts. Every operation of the engine
// ends with its own account flat, which tests assert through this interface.
type Bank interface {
	Transfer(from, to, asset string, amount sdkmath.Int) error
	BalanceOf(account, asset string) (sdkmath.Int, error)
}

// AMM is the router + pair surface of the automated market maker.
// Quoting reads the current reserves; callers must re-quote after any
// mutating call because the reserves will have moved.
type AMM interface {
	// Reserves returns the pair reserves ordered as (reserveA, reserveB)
	// for the given denoms.
	Reserves(tokenA, tokenB string) (sdkmath.Int, sdkmath.Int, error)

	// LiquiditySupply returns the total supply of the pair's liquidity token.
	LiquiditySupply(tokenA, tokenB string) (sdkmath.Int, error)

	// GetAmountsOut quotes the output amounts along path for an exact input.
	GetAmountsOut(amountIn sdkmath.Int, path []string) ([]sdkmath.Int, error)

	// GetAmountsIn quotes the input amounts along path for an exact output.
	GetAmountsIn(amountOut sdkmath.Int, path []string) ([]sdkmath.Int, error)

	// SwapExactTokensForTokens executes a swap on behalf of from, crediting
	// the final output to to. Fails if output < amountOutMin or if deadline
	// has passed.
	SwapExactTokensForTokens(from string, amountIn, amountOutMin sdkmath.Int, path []string, to string, deadline time.Time) ([]sdkmath.Int, error)

	// AddLiquidity supplies at most (amountA, amountB) at the current pair
	// ratio and returns the amounts actually used plus liquidity tokens
	// minted to to.
	AddLiquidity(from, tokenA, tokenB string, amountA, amountB, amountAMin, amountBMin sdkmath.Int, to string, deadline time.Time) (usedA, usedB, liquidity sdkmath.Int, err error)

	// RemoveLiquidity burns liquidity tokens held by from and returns the
	// underlying amounts to to.
	RemoveLiquidity(from, tokenA, tokenB string, liquidity, amountAMin, amountBMin sdkmath.Int, to string, deadline time.Time) (amountA, amountB sdkmath.Int, err error)
}

// LendingMarket is the supply/borrow surface of one lending market.
// Accounts are explicit because the engine manages positions for the pool
// address and for per-owner leverage accounts on the same market.
type LendingMarket interface {
	Supply(account, asset string, amount sdkmath.Int) error
	Borrow(account, asset string, amount sdkmath.Int) error
	Repay(account, asset string, amount sdkmath.Int) error
	Redeem(account, asset string, amount sdkmath.Int) error

	// BalanceOfUnderlying returns the account's supplied collateral in
	// underlying units, interest included.
	BalanceOfUnderlying(account, asset string) (sdkmath.Int, error)

	// BorrowBalanceCurrent returns the account's debt principal plus
	// accrued interest.
	BorrowBalanceCurrent(account, asset string) (sdkmath.Int, error)
}

// FlashLender is the uncollateralized loan source consumed by the relay.
type FlashLender interface {
	// Account is the ledger account repayments must land on.
	Account() string

	// FeeRate returns the loan fee ratio in parts per 1e18.
	FeeRate() sdkmath.LegacyDec

	// FlashBorrow credits amount of asset to to, invokes callback, and
	// fails the whole cycle unless amount + fee has been returned to the
	// lender when callback completes.
	FlashBorrow(asset string, amount sdkmath.Int, to string, callback func() error) error
}

// ShareToken is the transfer surface a pool's share ledger exposes so that
// shares can serve as collateral in a secondary lending market.
type ShareToken interface {
	Denom() string
	TotalShares() sdkmath.Int
	SharesOf(account string) sdkmath.Int
	TransferShares(from, to string, amount sdkmath.Int) error
}

// Atomizer snapshots the execution backend and returns a restore closure.
// Engine operations call it on entry and run the restore on failure, which
// gives them all-or-nothing semantics outside a chain host.
type Atomizer interface {
	Snapshot() func()
}

// AutomationRegistry accepts hashed maintenance requests and dispatches them
// from keeper infrastructure. Consumed only; dispatch is external.
type AutomationRegistry interface {
	Register(req types.AutomationRequest) (hash string, err error)
	Cancel(hash string) error
}
