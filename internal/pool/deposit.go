package pool

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/hedgevault/dnv/internal/types"
	"github.com/hedgevault/dnv/internal/utils"
)

// Deposit zaps amountStableIn from the depositor into the delta-neutral
// position and mints shares to the recipient.
//
// Half the stable is swapped for the volatile asset; the AMM pair is then
// supplied at the post-swap reserve ratio (the swap itself moved the
// reserves, so pre-swap estimates would mis-price the deposit). The LP
// tokens and any unpaired remainder become lending-market collateral, and
// the pool borrows the zapped volatile amount to offset the exposure the LP
// token carries. The borrowed volatile is sold back to stable and supplied
// as collateral, leaving net volatile exposure at zero and the pool's own
// balances flat.
func (p *Pool) Deposit(depositor string, amountStableIn, minVolZap sdkmath.Int, swapCfg types.SwapConfig, recipient, referrer string) (types.DepositResult, error) {
	var res types.DepositResult

	if amountStableIn.IsNil() || !amountStableIn.IsPositive() {
		return res, fmt.Errorf("%w: deposit %s", ErrZeroAmount, amountStableIn)
	}
	if recipient == "" {
		return res, ErrRecipientEmpty
	}
	now := time.Now()
	if err := p.validateSwapPath(swapCfg, p.tokens.Stable, p.tokens.Volatile, now); err != nil {
		return res, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	traceID := uuid.New().String()
	opLog := p.log.With().Str("op", "deposit").Str("trace_id", traceID).Logger()

	rollback := p.begin()
	committed := false
	defer func() {
		if !committed {
			rollback()
		}
	}()

	if err := p.bank.Transfer(depositor, p.account, p.tokens.Stable, amountStableIn); err != nil {
		return res, fmt.Errorf("failed to pull deposit: %w", err)
	}

	// Zap half into the volatile leg.
	half := amountStableIn.QuoRaw(2)
	amounts, err := p.amm.SwapExactTokensForTokens(p.account, half, minVolZap, swapCfg.Path, p.account, swapCfg.Deadline)
	if err != nil {
		return res, fmt.Errorf("zap swap failed: %w", err)
	}
	amountVol := amounts[len(amounts)-1]
	remaining := amountStableIn.Sub(half)

	lpBefore, err := p.lending.BalanceOfUnderlying(p.account, p.tokens.AMMLP)
	if err != nil {
		return res, fmt.Errorf("failed to read LP collateral: %w", err)
	}

	// Pair at the post-swap ratio. The volatile leg binds for any deposit
	// small relative to the reserves; the router scales the other leg.
	zero := sdkmath.ZeroInt()
	usedS, usedV, lpOut, err := p.amm.AddLiquidity(p.account, p.tokens.Stable, p.tokens.Volatile,
		remaining, amountVol, zero, zero, p.account, swapCfg.Deadline)
	if err != nil {
		return res, fmt.Errorf("add liquidity failed: %w", err)
	}
	stableRemainder := remaining.Sub(usedS)
	volRemainder := amountVol.Sub(usedV)

	if err := p.lending.Supply(p.account, p.tokens.AMMLP, lpOut); err != nil {
		return res, fmt.Errorf("failed to supply LP collateral: %w", err)
	}
	if volRemainder.IsPositive() {
		if err := p.lending.Supply(p.account, p.tokens.Volatile, volRemainder); err != nil {
			return res, fmt.Errorf("failed to supply volatile remainder: %w", err)
		}
	}

	// Borrow the hedge and convert it to stable collateral.
	if err := p.lending.Borrow(p.account, p.tokens.Volatile, amountVol); err != nil {
		return res, fmt.Errorf("hedge borrow failed: %w", err)
	}
	back, err := p.amm.SwapExactTokensForTokens(p.account, amountVol, zero, swapCfg.Reversed().Path, p.account, swapCfg.Deadline)
	if err != nil {
		return res, fmt.Errorf("hedge conversion swap failed: %w", err)
	}
	proceeds := back[len(back)-1]

	collateralStable := stableRemainder.Add(proceeds)
	if collateralStable.IsPositive() {
		if err := p.lending.Supply(p.account, p.tokens.Stable, collateralStable); err != nil {
			return res, fmt.Errorf("failed to supply stable collateral: %w", err)
		}
	}

	// Mint shares.
	stableSupplied := usedS.Add(collateralStable)
	var raw, locked sdkmath.Int
	if p.shareSupply.IsZero() {
		raw, err = utils.Isqrt(amountVol, stableSupplied)
		if err != nil {
			return res, err
		}
		if raw.LTE(sdkmath.NewInt(MinimumLiquidity)) {
			return res, fmt.Errorf("%w: sqrt liquidity %s", ErrFirstDepositTooSmall, raw)
		}
		locked = sdkmath.NewInt(MinimumLiquidity)
		p.mint(p.account, locked)
		raw = raw.Sub(locked)
	} else {
		locked = zero
		raw, err = utils.MulDiv(p.shareSupply, lpOut, lpBefore)
		if err != nil {
			return res, err
		}
		if !raw.IsPositive() {
			return res, fmt.Errorf("%w: no shares for deposit", ErrZeroAmount)
		}
	}

	fee := p.params.DepositFeeRate.MulInt(raw).TruncateInt()
	feeRecipient := p.params.FeeReceiver
	if referrer != "" {
		feeRecipient = referrer
	}
	if fee.IsPositive() {
		p.mint(feeRecipient, fee)
	}
	p.mint(recipient, raw.Sub(fee))

	if err := p.assertFlat(); err != nil {
		// Undo the ledger mutation alongside the backend rollback.
		p.unwindMint(recipient, raw.Sub(fee), feeRecipient, fee, locked)
		return res, err
	}
	committed = true

	res = types.DepositResult{
		AmountStable: stableSupplied,
		AmountVol:    amountVol,
		AmountLP:     lpOut,
		SharesMinted: raw.Sub(fee),
		SharesFee:    fee,
		SharesLocked: locked,
		FeeRecipient: feeRecipient,
	}
	opLog.Info().
		Str("depositor", depositor).
		Str("recipient", recipient).
		Str("amountStableIn", amountStableIn.String()).
		Str("amountVol", amountVol.String()).
		Str("lpOut", lpOut.String()).
		Str("sharesMinted", res.SharesMinted.String()).
		Str("sharesFee", fee.String()).
		Msg("Deposit executed")
	return res, nil
}

// unwindMint reverts share mints performed in a failed deposit.
func (p *Pool) unwindMint(recipient string, minted sdkmath.Int, feeRecipient string, fee, locked sdkmath.Int) {
	if minted.IsPositive() {
		_ = p.burn(recipient, minted)
	}
	if fee.IsPositive() {
		_ = p.burn(feeRecipient, fee)
	}
	if locked.IsPositive() {
		_ = p.burn(p.account, locked)
	}
}
