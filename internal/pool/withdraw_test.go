package pool

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/hedgevault/dnv/internal/utils"
)

func TestWithdrawSplitRemovalPath(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)

	// Straight after a deposit the stable collateral buys back slightly less
	// volatile than the debt (two swap fees in the round trip), so repayment
	// needs its own slice of the LP position.
	out, err := f.pool.Withdraw("alice", res.SharesMinted, sdkmath.ZeroInt(), f.swapCfg())
	require.NoError(t, err)
	require.Equal(t, 2, out.RemovalEvents)
	require.Equal(t, res.SharesMinted, out.SharesBurned)
	require.True(t, out.AmountStable.IsPositive())

	balance, err := f.env.Ledger.BalanceOf("alice", f.tokens.Stable)
	require.NoError(t, err)
	require.Equal(t, out.AmountStable, balance)

	// Round trip loses only swap fees and the locked minimum.
	floor := sdkmath.NewInt(10_000_000).MulRaw(95).QuoRaw(100)
	require.True(t, out.AmountStable.GTE(floor), "returned %s, floor %s", out.AmountStable, floor)
}

func TestWithdrawSingleRemovalPath(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)

	// Donated stable yield makes the redeemed collateral cover the whole
	// debt slice, so one liquidity removal suffices.
	donation := sdkmath.NewInt(2_000_000)
	require.NoError(t, f.env.Ledger.Mint(f.pool.Account(), f.tokens.Stable, donation))
	require.NoError(t, f.env.Lending.Supply(f.pool.Account(), f.tokens.Stable, donation))

	out, err := f.pool.Withdraw("alice", res.SharesMinted, sdkmath.ZeroInt(), f.swapCfg())
	require.NoError(t, err)
	require.Equal(t, 1, out.RemovalEvents)
	require.True(t, out.AmountStable.IsPositive())
}

func TestWithdrawFirstRemovalCoversShortfall(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)
	acct := f.pool.Account()

	// Reproduce the repay sizing from the externally visible state: the
	// first removal must output the repay shortfall left after the stable
	// collateral swap, within one unit of integer rounding.
	supply := f.pool.TotalShares()
	shares := res.SharesMinted

	readSlice := func(asset string) sdkmath.Int {
		balance, err := f.env.Lending.BalanceOfUnderlying(acct, asset)
		require.NoError(t, err)
		slice, err := utils.MulDiv(balance, shares, supply)
		require.NoError(t, err)
		return slice
	}
	stableColl := readSlice(f.tokens.Stable)
	volColl := readSlice(f.tokens.Volatile)
	lpShare := readSlice(f.tokens.AMMLP)

	debtBefore, err := f.env.Lending.BorrowBalanceCurrent(acct, f.tokens.Volatile)
	require.NoError(t, err)
	volToRepay, err := utils.MulDiv(debtBefore, shares, supply)
	require.NoError(t, err)

	quoted, err := f.env.AMM.GetAmountsOut(stableColl, f.swapCfg().Path)
	require.NoError(t, err)
	estVol := quoted[len(quoted)-1]

	shortfall := volToRepay.Sub(volColl).Sub(estVol)
	require.True(t, shortfall.IsPositive(), "expected the split-removal case")

	_, reserveV, err := f.env.AMM.Reserves(f.tokens.Stable, f.tokens.Volatile)
	require.NoError(t, err)
	reserveV = reserveV.Sub(estVol) // the funding swap runs first
	lpSupply, err := f.env.AMM.LiquiditySupply(f.tokens.Stable, f.tokens.Volatile)
	require.NoError(t, err)

	lpFirst, err := utils.MulDivCeil(lpSupply, shortfall, reserveV)
	require.NoError(t, err)
	require.True(t, lpFirst.LT(lpShare))
	firstRemovalVol, err := utils.MulDiv(lpFirst, reserveV, lpSupply)
	require.NoError(t, err)
	require.True(t, firstRemovalVol.GTE(shortfall))
	require.True(t, firstRemovalVol.Sub(shortfall).LTE(sdkmath.OneInt()),
		"first removal %s overshoots shortfall %s", firstRemovalVol, shortfall)

	out, err := f.pool.Withdraw("alice", shares, sdkmath.ZeroInt(), f.swapCfg())
	require.NoError(t, err)
	require.Equal(t, 2, out.RemovalEvents)

	// Full funding means the whole proportional debt slice was repaid.
	debtAfter, err := f.env.Lending.BorrowBalanceCurrent(acct, f.tokens.Volatile)
	require.NoError(t, err)
	require.True(t, debtBefore.Sub(debtAfter).Equal(volToRepay),
		"repaid %s, want %s", debtBefore.Sub(debtAfter), volToRepay)
}

func TestWithdrawDeepOverHedgeConsumesWholeSlice(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)

	// Heavy interest accrual pushes the repay shortfall past the volatile
	// value of the caller's whole LP slice: the first removal is capped at
	// the slice and no second removal happens.
	require.NoError(t, f.env.Lending.AccrueBorrowInterest(f.tokens.Volatile, sdkmath.LegacyMustNewDecFromStr("2.5")))

	out, err := f.pool.Withdraw("alice", res.SharesMinted, sdkmath.ZeroInt(), f.swapCfg())
	require.NoError(t, err)
	require.Equal(t, 1, out.RemovalEvents)
	require.True(t, out.AmountStable.IsPositive())

	for _, asset := range []string{f.tokens.Stable, f.tokens.Volatile} {
		balance, err := f.env.Ledger.BalanceOf(f.pool.Account(), asset)
		require.NoError(t, err)
		require.True(t, balance.IsZero(), "pool retained %s %s", balance, asset)
	}
}

func TestWithdrawClearsProportionalDebt(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)

	before, err := f.env.Lending.BorrowBalanceCurrent(f.pool.Account(), f.tokens.Volatile)
	require.NoError(t, err)

	out, err := f.pool.Withdraw("alice", res.SharesMinted, sdkmath.ZeroInt(), f.swapCfg())
	require.NoError(t, err)

	after, err := f.env.Lending.BorrowBalanceCurrent(f.pool.Account(), f.tokens.Volatile)
	require.NoError(t, err)
	require.True(t, after.LT(before))

	// Only the unburned shares' slice of the debt may remain.
	supplyAfter := f.pool.TotalShares()
	supplyBefore := supplyAfter.Add(out.SharesBurned)
	residualCeiling := before.Mul(supplyAfter).Quo(supplyBefore).AddRaw(2)
	require.True(t, after.LTE(residualCeiling), "residual debt %s exceeds %s", after, residualCeiling)
}

func TestWithdrawPartialKeepsShareAccounting(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)

	third := res.SharesMinted.QuoRaw(3)
	totalBefore := f.pool.TotalShares()

	out, err := f.pool.Withdraw("alice", third, sdkmath.ZeroInt(), f.swapCfg())
	require.NoError(t, err)
	require.Equal(t, third, out.SharesBurned)
	require.Equal(t, res.SharesMinted.Sub(third), f.pool.SharesOf("alice"))
	require.Equal(t, totalBefore.Sub(third), f.pool.TotalShares())

	// The supply still equals the sum of all holder balances.
	sum := f.pool.SharesOf("alice").
		Add(f.pool.SharesOf(f.pool.Account())).
		Add(f.pool.SharesOf(f.pool.Params().FeeReceiver))
	require.Equal(t, f.pool.TotalShares(), sum)
}

func TestWithdrawLeavesPoolFlat(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)

	_, err := f.pool.Withdraw("alice", res.SharesMinted.QuoRaw(2), sdkmath.ZeroInt(), f.swapCfg())
	require.NoError(t, err)

	for _, asset := range []string{f.tokens.Stable, f.tokens.Volatile} {
		balance, err := f.env.Ledger.BalanceOf(f.pool.Account(), asset)
		require.NoError(t, err)
		require.True(t, balance.IsZero(), "pool retained %s %s", balance, asset)
	}
}

func TestWithdrawMinimumOutput(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)

	tooMuch := sdkmath.NewInt(11_000_000)
	_, err := f.pool.Withdraw("alice", res.SharesMinted, tooMuch, f.swapCfg())
	require.ErrorIs(t, err, ErrMinimumNotMet)

	// The failed attempt left everything in place.
	require.Equal(t, res.SharesMinted, f.pool.SharesOf("alice"))
	snap, err := f.pool.DebtSnapshot()
	require.NoError(t, err)
	require.True(t, snap.Debt.IsPositive())
}

func TestWithdrawInputValidation(t *testing.T) {
	f := newFixture(t)
	res := f.deposit(t, "alice", 10_000_000)

	_, err := f.pool.Withdraw("alice", sdkmath.ZeroInt(), sdkmath.ZeroInt(), f.swapCfg())
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = f.pool.Withdraw("alice", res.SharesMinted.AddRaw(1), sdkmath.ZeroInt(), f.swapCfg())
	require.ErrorIs(t, err, ErrInsufficientShares)

	_, err = f.pool.Withdraw("bob", sdkmath.NewInt(1), sdkmath.ZeroInt(), f.swapCfg())
	require.ErrorIs(t, err, ErrInsufficientShares)
}
