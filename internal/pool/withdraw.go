package pool

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/hedgevault/dnv/internal/types"
	"github.com/hedgevault/dnv/internal/utils"
)

// repayVariant tags the withdraw decision: can the redeemed stable
// collateral buy back the caller's whole debt share, or does repayment need
// a dedicated slice of the LP position. The decision is computed once and
// dispatched, never re-derived mid-flight.
type repayVariant int

const (
	repayCoveredBySwap repayVariant = iota
	repayRequiresSplitRemoval
)

// Withdraw burns shareAmount of the owner's shares and returns their
// proportional position value as stable asset.
//
// The proportional stable collateral is redeemed first. If the volatile it
// can buy covers the proportional debt, the whole LP slice is removed in one
// operation (repayCoveredBySwap). Otherwise the removal is split: a first
// slice sized so its volatile output exactly fills the repay shortfall, then
// the remainder for the caller (repayRequiresSplitRemoval). The split lets
// the debt-repayment liquidity and the return-to-user liquidity be sized
// independently, with no iterative solving.
func (p *Pool) Withdraw(owner string, shareAmount, minStableOut sdkmath.Int, swapCfg types.SwapConfig) (types.WithdrawResult, error) {
	var res types.WithdrawResult

	if shareAmount.IsNil() || !shareAmount.IsPositive() {
		return res, fmt.Errorf("%w: withdraw %s", ErrZeroAmount, shareAmount)
	}
	now := time.Now()
	if err := p.validateSwapPath(swapCfg, p.tokens.Stable, p.tokens.Volatile, now); err != nil {
		return res, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shares(owner).LT(shareAmount) {
		return res, fmt.Errorf("%w: %s has %s, burns %s", ErrInsufficientShares, owner, p.shares(owner), shareAmount)
	}

	traceID := uuid.New().String()
	opLog := p.log.With().Str("op", "withdraw").Str("trace_id", traceID).Logger()

	rollback := p.begin()
	committed := false
	defer func() {
		if !committed {
			rollback()
		}
	}()

	// Proportional slices of collateral and debt.
	supply := p.shareSupply
	stableColl, err := p.proportionalCollateral(p.tokens.Stable, shareAmount, supply)
	if err != nil {
		return res, err
	}
	volColl, err := p.proportionalCollateral(p.tokens.Volatile, shareAmount, supply)
	if err != nil {
		return res, err
	}
	lpShare, err := p.proportionalCollateral(p.tokens.AMMLP, shareAmount, supply)
	if err != nil {
		return res, err
	}
	totalDebt, err := p.lending.BorrowBalanceCurrent(p.account, p.tokens.Volatile)
	if err != nil {
		return res, fmt.Errorf("failed to read borrow balance: %w", err)
	}
	volToRepay, err := utils.MulDiv(totalDebt, shareAmount, supply)
	if err != nil {
		return res, err
	}
	if !lpShare.IsPositive() {
		return res, ErrNoPosition
	}

	if err := p.lending.Redeem(p.account, p.tokens.Stable, stableColl); err != nil {
		return res, fmt.Errorf("failed to redeem stable collateral: %w", err)
	}
	if volColl.IsPositive() {
		if err := p.lending.Redeem(p.account, p.tokens.Volatile, volColl); err != nil {
			return res, fmt.Errorf("failed to redeem volatile collateral: %w", err)
		}
	}
	if err := p.lending.Redeem(p.account, p.tokens.AMMLP, lpShare); err != nil {
		return res, fmt.Errorf("failed to redeem LP collateral: %w", err)
	}

	// Estimate the volatile the redeemed stable can buy and pick the variant.
	var estVol sdkmath.Int
	if stableColl.IsPositive() {
		quoted, err := p.amm.GetAmountsOut(stableColl, swapCfg.Path)
		if err != nil {
			return res, fmt.Errorf("withdraw quote failed: %w", err)
		}
		estVol = quoted[len(quoted)-1]
	} else {
		estVol = sdkmath.ZeroInt()
	}

	variant := repayCoveredBySwap
	if volToRepay.GT(estVol.Add(volColl)) {
		variant = repayRequiresSplitRemoval
	}

	var stableOut sdkmath.Int
	var removals int
	switch variant {
	case repayCoveredBySwap:
		stableOut, removals, err = p.withdrawSinglePass(stableColl, volColl, lpShare, volToRepay, swapCfg)
	case repayRequiresSplitRemoval:
		stableOut, removals, err = p.withdrawSplitRemoval(stableColl, volColl, lpShare, volToRepay, estVol, swapCfg)
	}
	if err != nil {
		return res, err
	}
	if stableOut.LT(minStableOut) {
		return res, fmt.Errorf("%w: stable out %s below minimum %s", ErrMinimumNotMet, stableOut, minStableOut)
	}

	if err := p.bank.Transfer(p.account, owner, p.tokens.Stable, stableOut); err != nil {
		return res, fmt.Errorf("failed to pay out: %w", err)
	}
	if err := p.burn(owner, shareAmount); err != nil {
		return res, err
	}
	if err := p.assertFlat(); err != nil {
		p.mint(owner, shareAmount) // undo the burn alongside the backend rollback
		return res, err
	}
	committed = true

	res = types.WithdrawResult{
		SharesBurned:  shareAmount,
		AmountStable:  stableOut,
		AmountVolPaid: volToRepay,
		RemovalEvents: removals,
	}
	opLog.Info().
		Str("owner", owner).
		Str("sharesBurned", shareAmount.String()).
		Str("stableOut", stableOut.String()).
		Str("volRepaid", volToRepay.String()).
		Int("removals", removals).
		Msg("Withdraw executed")
	return res, nil
}

// withdrawSinglePass handles repayCoveredBySwap: one liquidity removal, the
// redeemed stable funds the repay, every volatile leftover is converted back
// to stable for the caller.
func (p *Pool) withdrawSinglePass(stableColl, volColl, lpShare, volToRepay sdkmath.Int, swapCfg types.SwapConfig) (sdkmath.Int, int, error) {
	zero := sdkmath.ZeroInt()

	volInHand := volColl
	if stableColl.IsPositive() {
		out, err := p.amm.SwapExactTokensForTokens(p.account, stableColl, zero, swapCfg.Path, p.account, swapCfg.Deadline)
		if err != nil {
			return zero, 0, fmt.Errorf("repay funding swap failed: %w", err)
		}
		volInHand = volInHand.Add(out[len(out)-1])
	}
	if volInHand.LT(volToRepay) {
		return zero, 0, fmt.Errorf("%w: repay funding fell short", ErrResidualBalance)
	}
	if volToRepay.IsPositive() {
		if err := p.lending.Repay(p.account, p.tokens.Volatile, volToRepay); err != nil {
			return zero, 0, fmt.Errorf("debt repay failed: %w", err)
		}
	}
	leftoverVol := volInHand.Sub(volToRepay)

	gotS, gotV, err := p.amm.RemoveLiquidity(p.account, p.tokens.Stable, p.tokens.Volatile,
		lpShare, zero, zero, p.account, swapCfg.Deadline)
	if err != nil {
		return zero, 0, fmt.Errorf("liquidity removal failed: %w", err)
	}

	stableOut := gotS
	volBack := gotV.Add(leftoverVol)
	if volBack.IsPositive() {
		out, err := p.amm.SwapExactTokensForTokens(p.account, volBack, zero, swapCfg.Reversed().Path, p.account, swapCfg.Deadline)
		if err != nil {
			return zero, 0, fmt.Errorf("exit swap failed: %w", err)
		}
		stableOut = stableOut.Add(out[len(out)-1])
	}
	return stableOut, 1, nil
}

// withdrawSplitRemoval handles repayRequiresSplitRemoval: two liquidity
// removals, the first sized in LP tokens so its volatile output equals the
// repay shortfall left after the stable-collateral swap, the second
// returning the rest to the caller.
func (p *Pool) withdrawSplitRemoval(stableColl, volColl, lpShare, volToRepay, estVol sdkmath.Int, swapCfg types.SwapConfig) (sdkmath.Int, int, error) {
	zero := sdkmath.ZeroInt()

	volInHand := volColl
	if stableColl.IsPositive() {
		out, err := p.amm.SwapExactTokensForTokens(p.account, stableColl, estVol, swapCfg.Path, p.account, swapCfg.Deadline)
		if err != nil {
			return zero, 0, fmt.Errorf("repay funding swap failed: %w", err)
		}
		volInHand = volInHand.Add(out[len(out)-1])
	}
	shortfall := volToRepay.Sub(volInHand)

	// Size the first removal off the post-swap reserves so its volatile leg
	// matches the shortfall, within one unit of integer rounding.
	_, reserveV, err := p.amm.Reserves(p.tokens.Stable, p.tokens.Volatile)
	if err != nil {
		return zero, 0, err
	}
	lpSupply, err := p.amm.LiquiditySupply(p.tokens.Stable, p.tokens.Volatile)
	if err != nil {
		return zero, 0, err
	}
	lpFirst, err := utils.MulDivCeil(lpSupply, shortfall, reserveV)
	if err != nil {
		return zero, 0, err
	}
	lpFirst = sdkmath.MinInt(lpFirst, lpShare)

	s1, v1, err := p.amm.RemoveLiquidity(p.account, p.tokens.Stable, p.tokens.Volatile,
		lpFirst, zero, zero, p.account, swapCfg.Deadline)
	if err != nil {
		return zero, 0, fmt.Errorf("repay liquidity removal failed: %w", err)
	}
	volInHand = volInHand.Add(v1)

	// Integer rounding can leave the funding one unit short of the target;
	// repay what is in hand and let the proportional dust ride.
	repaid := sdkmath.MinInt(volToRepay, volInHand)
	if repaid.IsPositive() {
		if err := p.lending.Repay(p.account, p.tokens.Volatile, repaid); err != nil {
			return zero, 0, fmt.Errorf("debt repay failed: %w", err)
		}
	}
	leftoverVol := volInHand.Sub(repaid)

	// When the shortfall consumed the whole LP slice there is nothing left
	// to remove for the caller.
	removals := 1
	s2, v2 := zero, zero
	if lpRest := lpShare.Sub(lpFirst); lpRest.IsPositive() {
		s2, v2, err = p.amm.RemoveLiquidity(p.account, p.tokens.Stable, p.tokens.Volatile,
			lpRest, zero, zero, p.account, swapCfg.Deadline)
		if err != nil {
			return zero, 0, fmt.Errorf("return liquidity removal failed: %w", err)
		}
		removals = 2
	}

	stableOut := s1.Add(s2)
	volBack := v2.Add(leftoverVol)
	if volBack.IsPositive() {
		out, err := p.amm.SwapExactTokensForTokens(p.account, volBack, zero, swapCfg.Reversed().Path, p.account, swapCfg.Deadline)
		if err != nil {
			return zero, 0, fmt.Errorf("exit swap failed: %w", err)
		}
		stableOut = stableOut.Add(out[len(out)-1])
	}
	return stableOut, removals, nil
}

// proportionalCollateral returns balanceOfUnderlying * shares / supply.
func (p *Pool) proportionalCollateral(asset string, shares, supply sdkmath.Int) (sdkmath.Int, error) {
	balance, err := p.lending.BalanceOfUnderlying(p.account, asset)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to read %s collateral: %w", asset, err)
	}
	return utils.MulDiv(balance, shares, supply)
}
