/*

This package is the leveraged wrapper: per-owner orchestration that opens a
magnified pool position in one atomic flow. Entry flash-borrows the levered
part of the capital, deposits the combined amount into the pool, locks the
minted shares as collateral in a secondary lending market, and borrows the
flash repayment against them. Exit unwinds the same steps in reverse.

*/

package leverage

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hedgevault/dnv/internal/flashloan"
	"github.com/hedgevault/dnv/internal/logger"
	"github.com/hedgevault/dnv/internal/market"
	"github.com/hedgevault/dnv/internal/pool"
	"github.com/hedgevault/dnv/internal/types"
)

// MaxLeverage caps the target ratio of position size to user capital.
var MaxLeverage = sdkmath.LegacyNewDec(5)

// Error definitions for zero-tolerance error handling
var (
	ErrLeverageOutOfRange   = errors.New("leverage ratio out of range")
	ErrFlashSizingMismatch  = errors.New("flash amount inconsistent with leverage ratio")
	ErrUnrecoverableFees    = errors.New("loan fees exceed the recoverable collateral value")
	ErrInsufficientProceeds = errors.New("withdraw proceeds cannot cover debt repayment")
	ErrNoShareCollateral    = errors.New("no share collateral to redeem")
	ErrZeroAmount           = errors.New("amount must be positive")
)

// pendingOp carries the in-flight entry logic between Borrow and the
// relay's callback.
type pendingOp func(asset string, amount, fee sdkmath.Int) error

// Position is one owner's leveraged position on one pool. It has its own
// bank account; pool shares it mints are held as collateral by the secondary
// market, never by the owner directly.
type Position struct {
	mu sync.Mutex

	owner   string
	account string

	pool      *pool.Pool
	relay     *flashloan.Relay
	secondary market.LendingMarket
	bank      market.Bank
	atom      market.Atomizer // optional

	// pending is set for the duration of one entry; mu serializes entries.
	pending pendingOp

	log zerolog.Logger
}

var _ flashloan.Borrower = (*Position)(nil)

// NewPosition creates the owner's leverage account against the given pool.
// The pool's share token must already be registered with the secondary
// market so shares can move as collateral.
func NewPosition(owner string, p *pool.Pool, relay *flashloan.Relay, secondary market.LendingMarket, bank market.Bank, atom market.Atomizer) (*Position, error) {
	if owner == "" {
		return nil, errors.New("owner cannot be empty")
	}
	if p == nil || relay == nil || secondary == nil || bank == nil {
		return nil, errors.New("pool, relay, secondary market and bank are all required")
	}
	return &Position{
		owner:     owner,
		account:   "lev:" + owner,
		pool:      p,
		relay:     relay,
		secondary: secondary,
		bank:      bank,
		atom:      atom,
		log:       logger.GetForComponent("leverage_wrapper").With().Str("owner", owner).Logger(),
	}, nil
}

// Owner returns the position owner.
func (p *Position) Owner() string { return p.owner }

// Account returns the position's bank account.
func (p *Position) Account() string { return p.account }

// ShareCollateral returns the pool shares locked in the secondary market.
func (p *Position) ShareCollateral() (sdkmath.Int, error) {
	return p.secondary.BalanceOfUnderlying(p.account, p.pool.Denom())
}

// Debt returns the position's stable debt on the secondary market.
func (p *Position) Debt() (sdkmath.Int, error) {
	return p.secondary.BorrowBalanceCurrent(p.account, p.pool.Tokens().Stable)
}

// ExecuteOperation is the flash-loan callback. The relay invokes it with the
// loan already on the position's account; DepositLev installs the pending
// closure it dispatches to.
func (p *Position) ExecuteOperation(asset string, amount, fee sdkmath.Int, data []byte) error {
	if p.pending == nil {
		return errors.New("no leveraged entry in progress")
	}
	return p.pending(asset, amount, fee)
}

// DepositLev opens a leveraged position: the user's stable plus a flash
// loan sized for the target leverage go through the pool deposit, the
// minted shares become secondary-market collateral, and the flash repayment
// is borrowed against them. One atomic unit; any failed step unwinds all of
// it.
func (p *Position) DepositLev(amountStableUser, amountStableFlash, minVolZap sdkmath.Int, swapCfg types.SwapConfig, referrer string, leverage sdkmath.LegacyDec) (types.LevDepositResult, error) {
	var res types.LevDepositResult

	if amountStableUser.IsNil() || !amountStableUser.IsPositive() {
		return res, fmt.Errorf("%w: user amount %s", ErrZeroAmount, amountStableUser)
	}
	if err := validateLeverage(leverage); err != nil {
		return res, err
	}
	// The flash loan funds exactly the levered part of the capital.
	wantFlash := leverage.Sub(sdkmath.LegacyOneDec()).MulInt(amountStableUser).TruncateInt()
	if amountStableFlash.IsNil() || !amountStableFlash.Equal(wantFlash) {
		return res, fmt.Errorf("%w: flash %s, leverage %s of %s wants %s",
			ErrFlashSizingMismatch, amountStableFlash, leverage, amountStableUser, wantFlash)
	}
	// The flash repayment is borrowed against the minted shares, whose
	// stable value is at most the gross capital net of the deposit fee. A
	// fee configuration that cannot recover the loan fails here, not after
	// a full deposit cycle.
	_, owedUpfront := p.relay.Quote(amountStableFlash)
	gross := amountStableUser.Add(amountStableFlash)
	capacity := sdkmath.LegacyOneDec().Sub(p.pool.Params().DepositFeeRate).MulInt(gross).TruncateInt()
	if owedUpfront.GT(capacity) {
		return res, fmt.Errorf("%w: owe %s against share value at most %s",
			ErrUnrecoverableFees, owedUpfront, capacity)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	traceID := uuid.New().String()
	opLog := p.log.With().Str("op", "deposit_lev").Str("trace_id", traceID).Logger()

	rollback := p.begin()
	committed := false
	defer func() {
		if !committed {
			rollback()
		}
	}()

	stable := p.pool.Tokens().Stable
	if err := p.bank.Transfer(p.owner, p.account, stable, amountStableUser); err != nil {
		return res, fmt.Errorf("failed to pull user funds: %w", err)
	}

	var depositRes types.DepositResult
	var flashFee, secondaryDebt sdkmath.Int
	p.pending = func(asset string, amount, fee sdkmath.Int) error {
		total := amountStableUser.Add(amount)
		var err error
		depositRes, err = p.pool.Deposit(p.account, total, minVolZap, swapCfg, p.account, referrer)
		if err != nil {
			return err
		}
		if err := p.secondary.Supply(p.account, p.pool.Denom(), depositRes.SharesMinted); err != nil {
			return fmt.Errorf("share collateral supply failed: %w", err)
		}
		owed := amount.Add(fee)
		if err := p.secondary.Borrow(p.account, asset, owed); err != nil {
			return fmt.Errorf("repayment borrow failed: %w", err)
		}
		if err := p.bank.Transfer(p.account, p.relay.Account(), asset, owed); err != nil {
			return err
		}
		flashFee, secondaryDebt = fee, owed
		return nil
	}
	defer func() { p.pending = nil }()

	if err := p.relay.Borrow(stable, amountStableFlash, flashloan.LoanNoDebt, p, nil); err != nil {
		return res, err
	}

	// Anything the cycle left on the position account belongs to the owner.
	if err := p.sweepStable(); err != nil {
		return res, err
	}
	committed = true

	res = types.LevDepositResult{
		Deposit:          depositRes,
		FlashBorrowed:    amountStableFlash,
		FlashFee:         flashFee,
		SecondaryDebt:    secondaryDebt,
		SharesCollateral: depositRes.SharesMinted,
	}
	opLog.Info().
		Str("userStable", amountStableUser.String()).
		Str("flashStable", amountStableFlash.String()).
		Str("leverage", leverage.String()).
		Str("sharesCollateral", res.SharesCollateral.String()).
		Str("secondaryDebt", secondaryDebt.String()).
		Msg("Leveraged entry executed")
	return res, nil
}

// WithdrawLev unwinds part of the position: redeem share collateral,
// withdraw those shares from the pool, repay secondary debt from the
// proceeds and pay the owner the rest.
//
// The requested payout is best-effort; a shortfall against it is reported,
// not fatal. Only a repayment the proceeds cannot cover aborts the exit.
func (p *Position) WithdrawLev(amountStableWithdraw, amountStableRepay, amountSharesRedeem sdkmath.Int, swapCfg types.SwapConfig, leverage sdkmath.LegacyDec) (types.LevWithdrawResult, error) {
	var res types.LevWithdrawResult

	if amountSharesRedeem.IsNil() || !amountSharesRedeem.IsPositive() {
		return res, fmt.Errorf("%w: redeem %s shares", ErrZeroAmount, amountSharesRedeem)
	}
	if amountStableWithdraw.IsNil() || amountStableWithdraw.IsNegative() ||
		amountStableRepay.IsNil() || amountStableRepay.IsNegative() {
		return res, fmt.Errorf("%w: withdraw %s, repay %s", ErrZeroAmount, amountStableWithdraw, amountStableRepay)
	}
	if err := validateLeverage(leverage); err != nil {
		return res, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	traceID := uuid.New().String()
	opLog := p.log.With().Str("op", "withdraw_lev").Str("trace_id", traceID).Logger()

	rollback := p.begin()
	committed := false
	defer func() {
		if !committed {
			rollback()
		}
	}()

	stable := p.pool.Tokens().Stable
	shareDenom := p.pool.Denom()

	held, err := p.secondary.BalanceOfUnderlying(p.account, shareDenom)
	if err != nil {
		return res, err
	}
	if held.LT(amountSharesRedeem) {
		return res, fmt.Errorf("%w: held %s, redeem %s", ErrNoShareCollateral, held, amountSharesRedeem)
	}
	if err := p.secondary.Redeem(p.account, shareDenom, amountSharesRedeem); err != nil {
		return res, fmt.Errorf("share collateral redeem failed: %w", err)
	}

	withdrawRes, err := p.pool.Withdraw(p.account, amountSharesRedeem, sdkmath.ZeroInt(), swapCfg)
	if err != nil {
		return res, err
	}
	proceeds := withdrawRes.AmountStable
	if proceeds.LT(amountStableRepay) {
		return res, fmt.Errorf("%w: proceeds %s, repay %s", ErrInsufficientProceeds, proceeds, amountStableRepay)
	}

	repaid := sdkmath.ZeroInt()
	if amountStableRepay.IsPositive() {
		owed, err := p.secondary.BorrowBalanceCurrent(p.account, stable)
		if err != nil {
			return res, err
		}
		repaid = sdkmath.MinInt(amountStableRepay, owed)
		if repaid.IsPositive() {
			if err := p.secondary.Repay(p.account, stable, repaid); err != nil {
				return res, fmt.Errorf("secondary debt repay failed: %w", err)
			}
		}
	}

	remaining := proceeds.Sub(repaid)
	excess, shortfall := sdkmath.ZeroInt(), sdkmath.ZeroInt()
	if remaining.GT(amountStableWithdraw) {
		excess = remaining.Sub(amountStableWithdraw)
	} else {
		shortfall = amountStableWithdraw.Sub(remaining)
	}
	if err := p.sweepStable(); err != nil {
		return res, err
	}
	committed = true

	res = types.LevWithdrawResult{
		Withdraw:       withdrawRes,
		SharesRedeemed: amountSharesRedeem,
		DebtRepaid:     repaid,
		StableReturned: remaining,
		Excess:         excess,
		Shortfall:      shortfall,
	}
	opLog.Info().
		Str("sharesRedeemed", amountSharesRedeem.String()).
		Str("debtRepaid", repaid.String()).
		Str("stableReturned", remaining.String()).
		Str("excess", excess.String()).
		Str("shortfall", shortfall.String()).
		Str("leverage", leverage.String()).
		Msg("Leveraged exit executed")
	return res, nil
}

// begin snapshots both the execution backend and the pool's share ledger;
// the wrapper can fail after an inner pool operation has already committed,
// and the backend restore alone would strand minted or burned shares.
func (p *Position) begin() func() {
	restoreShares := p.pool.SnapshotShares()
	if p.atom == nil {
		return restoreShares
	}
	restoreBackend := p.atom.Snapshot()
	return func() {
		restoreBackend()
		restoreShares()
	}
}

// sweepStable forwards the position account's whole stable balance to the
// owner, keeping the account flat between operations.
func (p *Position) sweepStable() error {
	stable := p.pool.Tokens().Stable
	balance, err := p.bank.BalanceOf(p.account, stable)
	if err != nil {
		return err
	}
	if balance.IsPositive() {
		return p.bank.Transfer(p.account, p.owner, stable, balance)
	}
	return nil
}

func validateLeverage(leverage sdkmath.LegacyDec) error {
	if leverage.IsNil() || leverage.LTE(sdkmath.LegacyOneDec()) || leverage.GT(MaxLeverage) {
		return fmt.Errorf("%w: %s", ErrLeverageOutOfRange, leverage)
	}
	return nil
}
