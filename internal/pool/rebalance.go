package pool

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/hedgevault/dnv/internal/types"
)

// rebalanceDeadline bounds the internal swaps of a correction. Rebalance has
// no caller-supplied swap config; the route is the direct pair.
const rebalanceDeadline = time.Minute

// Rebalance corrects the hedge when debt/owned has left the tolerance band.
// Inside the band it fails with ErrDebtWithinRange so automation can tell
// "nothing to do" from "did work". The correction trade moves the volatile
// reserve one for one, which moves owned itself, so the trade size is solved
// with that reserve impact included: the post-trade ratio equals the
// configured target up to integer rounding. The post-trade snapshot is
// verified against the band before the operation commits.
//
// With extractFee set, an over-hedged correction routes its swap proceeds to
// the fee receiver instead of re-supplying them as collateral.
//
// Callable by anyone: it moves no caller funds and is idempotent under
// repeated no-op calls by virtue of the in-band failure.
func (p *Pool) Rebalance(extractFee bool) (types.RebalanceReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var receipt types.RebalanceReceipt
	traceID := uuid.New().String()
	opLog := p.log.With().Str("op", "rebalance").Str("trace_id", traceID).Logger()

	before, err := p.debtSnapshot()
	if err != nil {
		return receipt, err
	}
	if before.Bps.GTE(p.params.ToleranceMin) && before.Bps.LTE(p.params.ToleranceMax) {
		return receipt, fmt.Errorf("%w: bps %s in [%s, %s]", ErrDebtWithinRange,
			before.Bps, p.params.ToleranceMin, p.params.ToleranceMax)
	}

	rollback := p.begin()
	committed := false
	defer func() {
		if !committed {
			rollback()
		}
	}()

	deadline := time.Now().Add(rebalanceDeadline)

	// Solve for the trade size with the reserve impact included. With
	// f = lpHeld/lpSupply and t the target ratio, repaying x volatile
	// bought from the pair satisfies debt - x = t*f*(reserveV - x), and
	// borrowing y sold into the pair satisfies debt + y = t*f*(reserveV + y).
	lpHeld, err := p.lending.BalanceOfUnderlying(p.account, p.tokens.AMMLP)
	if err != nil {
		return receipt, fmt.Errorf("failed to read LP collateral: %w", err)
	}
	_, reserveV, err := p.amm.Reserves(p.tokens.Stable, p.tokens.Volatile)
	if err != nil {
		return receipt, fmt.Errorf("failed to read reserves: %w", err)
	}
	lpSupply, err := p.amm.LiquiditySupply(p.tokens.Stable, p.tokens.Volatile)
	if err != nil {
		return receipt, fmt.Errorf("failed to read liquidity supply: %w", err)
	}
	tf := p.params.RebalanceTarget.MulInt(lpHeld).QuoInt(lpSupply)
	denom := sdkmath.LegacyOneDec().Sub(tf)
	if !denom.IsPositive() {
		return receipt, fmt.Errorf("%w: pool owns the pair's liquidity", ErrBandUnreachable)
	}
	desired := tf.MulInt(reserveV)
	debtDec := sdkmath.LegacyNewDecFromInt(before.Debt)

	var direction types.RebalanceDirection
	var traded sdkmath.Int

	if debtDec.LT(desired) {
		// Under-hedged: the volatile leg grew relative to the debt. Borrow
		// the difference, sell it, keep the stable.
		direction = types.RebalanceBorrowAndSupply
		traded = desired.Sub(debtDec).Quo(denom).TruncateInt()
		if !traded.IsPositive() {
			return receipt, fmt.Errorf("%w: correction size rounds to zero", ErrBandUnreachable)
		}
		if err := p.lending.Borrow(p.account, p.tokens.Volatile, traded); err != nil {
			return receipt, fmt.Errorf("rebalance borrow failed: %w", err)
		}
		out, err := p.amm.SwapExactTokensForTokens(p.account, traded, sdkmath.ZeroInt(),
			[]string{p.tokens.Volatile, p.tokens.Stable}, p.account, deadline)
		if err != nil {
			return receipt, fmt.Errorf("rebalance swap failed: %w", err)
		}
		proceeds := out[len(out)-1]
		if extractFee {
			if err := p.bank.Transfer(p.account, p.params.FeeReceiver, p.tokens.Stable, proceeds); err != nil {
				return receipt, fmt.Errorf("fee extraction failed: %w", err)
			}
		} else if err := p.lending.Supply(p.account, p.tokens.Stable, proceeds); err != nil {
			return receipt, fmt.Errorf("rebalance supply failed: %w", err)
		}
	} else {
		// Over-hedged: debt outgrew the volatile leg. Buy the difference
		// back with redeemed stable collateral and repay.
		direction = types.RebalanceRedeemAndRepay
		traded = debtDec.Sub(desired).Quo(denom).TruncateInt()
		if !traded.IsPositive() {
			return receipt, fmt.Errorf("%w: correction size rounds to zero", ErrBandUnreachable)
		}
		quoted, err := p.amm.GetAmountsIn(traded, []string{p.tokens.Stable, p.tokens.Volatile})
		if err != nil {
			return receipt, fmt.Errorf("rebalance quote failed: %w", err)
		}
		stableNeeded := quoted[0]
		if err := p.lending.Redeem(p.account, p.tokens.Stable, stableNeeded); err != nil {
			return receipt, fmt.Errorf("rebalance redeem failed: %w", err)
		}
		out, err := p.amm.SwapExactTokensForTokens(p.account, stableNeeded, traded,
			[]string{p.tokens.Stable, p.tokens.Volatile}, p.account, deadline)
		if err != nil {
			return receipt, fmt.Errorf("rebalance swap failed: %w", err)
		}
		bought := out[len(out)-1]
		if err := p.lending.Repay(p.account, p.tokens.Volatile, bought); err != nil {
			return receipt, fmt.Errorf("rebalance repay failed: %w", err)
		}
	}

	after, err := p.debtSnapshot()
	if err != nil {
		return receipt, err
	}
	if after.Bps.LT(p.params.ToleranceMin) || after.Bps.GT(p.params.ToleranceMax) {
		return receipt, fmt.Errorf("%w: post-trade bps %s outside [%s, %s]", ErrBandUnreachable,
			after.Bps, p.params.ToleranceMin, p.params.ToleranceMax)
	}
	if err := p.assertFlat(); err != nil {
		return receipt, err
	}
	committed = true

	receipt = types.RebalanceReceipt{
		Pair:         p.tokens.Pair(),
		TraceID:      traceID,
		Direction:    direction,
		Before:       before,
		After:        after,
		AmountTraded: traded,
		FeeExtracted: extractFee && direction == types.RebalanceBorrowAndSupply,
		Timestamp:    time.Now(),
	}
	opLog.Info().
		Str("direction", string(direction)).
		Str("bpsBefore", before.Bps.String()).
		Str("bpsAfter", after.Bps.String()).
		Str("amountTraded", traded.String()).
		Bool("feeExtracted", receipt.FeeExtracted).
		Msg("Rebalance executed")
	return receipt, nil
}

// GetDebtBps is the read-only diagnostic: owned, debt and their ratio.
func (p *Pool) GetDebtBps() (types.DebtSnapshot, error) {
	return p.DebtSnapshot()
}
