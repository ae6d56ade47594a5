/*

This package is the position accounting engine. One Pool owns one
stable/volatile pair: it keeps the share ledger, executes the deposit and
withdraw zaps against the AMM and lending market, and corrects the hedge
debt whenever the debt/owned ratio leaves the tolerance band.

All amounts are sdkmath.Int in base units; all ratios are sdkmath.LegacyDec
in parts per 1e18. Every public operation is all-or-nothing: on any failure
the attached Atomizer restores the execution backend and the share ledger is
left untouched.

*/

package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/hedgevault/dnv/internal/logger"
	"github.com/hedgevault/dnv/internal/market"
	"github.com/hedgevault/dnv/internal/types"
	"github.com/hedgevault/dnv/internal/utils"
)

// MinimumLiquidity is the share amount permanently locked on the pool's own
// address at first deposit. It removes the all-zero ledger state and caps
// donation-based share-price manipulation.
const MinimumLiquidity = 1000

// Error definitions for zero-tolerance error handling
var (
	ErrDebtWithinRange      = errors.New("debt within range")
	ErrStaleDeadline        = errors.New("deadline has passed")
	ErrInvalidPath          = errors.New("swap path does not connect the pair")
	ErrZeroAmount           = errors.New("amount must be positive")
	ErrInsufficientShares   = errors.New("insufficient share balance")
	ErrFirstDepositTooSmall = errors.New("first deposit below minimum liquidity")
	ErrNoPosition           = errors.New("pool holds no position")
	ErrResidualBalance      = errors.New("pool retained asset balance after operation")
	ErrRecipientEmpty       = errors.New("recipient is empty")
	ErrMinimumNotMet        = errors.New("output below requested minimum")
	ErrBandUnreachable      = errors.New("correction cannot restore the tolerance band")
)

// Pool is one delta-neutral stable/volatile position.
type Pool struct {
	mu sync.Mutex

	account string // the pool's bank account
	tokens  types.TokenSet
	params  types.PoolParameters

	bank    market.Bank
	amm     market.AMM
	lending market.LendingMarket
	atom    market.Atomizer // optional

	shareSupply   sdkmath.Int
	shareBalances map[string]sdkmath.Int

	log zerolog.Logger
}

// New creates a pool for the given pair. The account is the pool's own bank
// address; MINIMUM_LIQUIDITY is locked there on first deposit.
func New(account string, tokens types.TokenSet, params types.PoolParameters, bank market.Bank, amm market.AMM, lending market.LendingMarket, atom market.Atomizer) (*Pool, error) {
	if account == "" {
		return nil, errors.New("pool account cannot be empty")
	}
	if err := tokens.Validate(); err != nil {
		return nil, fmt.Errorf("token set validation failed: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("pool parameters validation failed: %w", err)
	}
	if bank == nil || amm == nil || lending == nil {
		return nil, errors.New("bank, AMM and lending market are all required")
	}
	return &Pool{
		account:       account,
		tokens:        tokens,
		params:        params,
		bank:          bank,
		amm:           amm,
		lending:       lending,
		atom:          atom,
		shareSupply:   sdkmath.ZeroInt(),
		shareBalances: make(map[string]sdkmath.Int),
		log:           logger.GetForComponent("position_pool").With().Str("pair", tokens.Pair()).Logger(),
	}, nil
}

// Account returns the pool's bank account.
func (p *Pool) Account() string { return p.account }

// Tokens returns the pool's token set.
func (p *Pool) Tokens() types.TokenSet { return p.tokens }

// Params returns the pool's policy parameters.
func (p *Pool) Params() types.PoolParameters { return p.params }

// Denom returns the share token denom.
func (p *Pool) Denom() string { return "dnv/share/" + p.tokens.Pair() }

// TotalShares returns the share supply, locked minimum included.
func (p *Pool) TotalShares() sdkmath.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shareSupply
}

// SharesOf returns one account's share balance.
func (p *Pool) SharesOf(account string) sdkmath.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shares(account)
}

// Holders returns the number of accounts with a nonzero balance.
func (p *Pool) Holders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	holders := 0
	for _, balance := range p.shareBalances {
		if balance.IsPositive() {
			holders++
		}
	}
	return holders
}

// TransferShares moves shares between accounts. Shares locked on the pool's
// own address never move.
func (p *Pool) TransferShares(from, to string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrZeroAmount
	}
	if from == p.account {
		return errors.New("locked pool shares are not transferable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	held := p.shares(from)
	if held.LT(amount) {
		return fmt.Errorf("%w: %s has %s, wants to move %s", ErrInsufficientShares, from, held, amount)
	}
	p.shareBalances[from] = held.Sub(amount)
	p.shareBalances[to] = p.shares(to).Add(amount)
	return nil
}

// DebtSnapshot derives the rebalance input from current on-chain state:
// owned volatile exposure through LP holdings, current debt, and their
// ratio. Always re-derived, never cached, because any interleaved trade
// moves the reserves.
func (p *Pool) DebtSnapshot() (types.DebtSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debtSnapshot()
}

func (p *Pool) debtSnapshot() (types.DebtSnapshot, error) {
	lpHeld, err := p.lending.BalanceOfUnderlying(p.account, p.tokens.AMMLP)
	if err != nil {
		return types.DebtSnapshot{}, fmt.Errorf("failed to read LP collateral: %w", err)
	}
	if !lpHeld.IsPositive() {
		return types.DebtSnapshot{}, ErrNoPosition
	}
	_, reserveV, err := p.amm.Reserves(p.tokens.Stable, p.tokens.Volatile)
	if err != nil {
		return types.DebtSnapshot{}, fmt.Errorf("failed to read reserves: %w", err)
	}
	lpSupply, err := p.amm.LiquiditySupply(p.tokens.Stable, p.tokens.Volatile)
	if err != nil {
		return types.DebtSnapshot{}, fmt.Errorf("failed to read liquidity supply: %w", err)
	}
	owned, err := utils.MulDiv(lpHeld, reserveV, lpSupply)
	if err != nil {
		return types.DebtSnapshot{}, err
	}
	if !owned.IsPositive() {
		return types.DebtSnapshot{}, ErrNoPosition
	}
	debt, err := p.lending.BorrowBalanceCurrent(p.account, p.tokens.Volatile)
	if err != nil {
		return types.DebtSnapshot{}, fmt.Errorf("failed to read borrow balance: %w", err)
	}
	bps := sdkmath.LegacyNewDecFromInt(debt).Quo(sdkmath.LegacyNewDecFromInt(owned))
	return types.DebtSnapshot{Owned: owned, Debt: debt, Bps: bps}, nil
}

// shares reads a balance without locking; callers hold p.mu.
func (p *Pool) shares(account string) sdkmath.Int {
	if balance, ok := p.shareBalances[account]; ok {
		return balance
	}
	return sdkmath.ZeroInt()
}

func (p *Pool) mint(to string, amount sdkmath.Int) {
	p.shareBalances[to] = p.shares(to).Add(amount)
	p.shareSupply = p.shareSupply.Add(amount)
}

func (p *Pool) burn(from string, amount sdkmath.Int) error {
	held := p.shares(from)
	if held.LT(amount) {
		return fmt.Errorf("%w: %s has %s, burns %s", ErrInsufficientShares, from, held, amount)
	}
	p.shareBalances[from] = held.Sub(amount)
	p.shareSupply = p.shareSupply.Sub(amount)
	return nil
}

// SnapshotShares captures the share ledger and returns a restore closure.
// Composite flows that can fail after a pool operation has committed pair
// this with the backend atomizer's snapshot; the backend restore alone does
// not cover the share ledger.
func (p *Pool) SnapshotShares() func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	supply := p.shareSupply
	balances := make(map[string]sdkmath.Int, len(p.shareBalances))
	for account, balance := range p.shareBalances {
		balances[account] = balance
	}
	return func() {
		p.mu.Lock()
		p.shareSupply = supply
		p.shareBalances = balances
		p.mu.Unlock()
	}
}

// begin starts an all-or-nothing section. The returned rollback is a no-op
// when no atomizer is attached.
func (p *Pool) begin() func() {
	if p.atom == nil {
		return func() {}
	}
	return p.atom.Snapshot()
}

// validateSwapPath checks the route connects the pair in the expected
// direction.
func (p *Pool) validateSwapPath(cfg types.SwapConfig, inDenom, outDenom string, now time.Time) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if cfg.Expired(now) {
		return fmt.Errorf("%w: deadline %s", ErrStaleDeadline, cfg.Deadline)
	}
	if cfg.Path[0] != inDenom || cfg.Path[len(cfg.Path)-1] != outDenom {
		return fmt.Errorf("%w: %v", ErrInvalidPath, cfg.Path)
	}
	return nil
}

// assertFlat enforces the zero-balance invariant: between transactions the
// pool's own account holds neither leg of the pair.
func (p *Pool) assertFlat() error {
	for _, asset := range []string{p.tokens.Stable, p.tokens.Volatile} {
		balance, err := p.bank.BalanceOf(p.account, asset)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			return fmt.Errorf("%w: %s %s", ErrResidualBalance, balance, asset)
		}
	}
	return nil
}
