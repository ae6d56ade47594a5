package keeper

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hedgevault/dnv/internal/config"
	"github.com/hedgevault/dnv/internal/pool"
	"github.com/hedgevault/dnv/internal/simulations"
	"github.com/hedgevault/dnv/internal/types"
	"github.com/hedgevault/dnv/internal/utils"
)

type fixture struct {
	env    *simulations.Env
	tokens types.TokenSet
	pool   *pool.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env, tokens, err := simulations.NewEnv(simulations.EnvConfig{
		Stable:       "usdc",
		Volatile:     "weth",
		ReserveS:     sdkmath.NewInt(1_000_000_000),
		ReserveV:     sdkmath.NewInt(1_000_000_000),
		LendingS:     sdkmath.NewInt(1_000_000_000),
		LendingV:     sdkmath.NewInt(1_000_000_000),
		SecondaryS:   sdkmath.NewInt(1_000_000_000),
		FlashS:       sdkmath.NewInt(1_000_000_000),
		FlashFeeRate: sdkmath.LegacyMustNewDecFromStr("0.0009"),
	})
	require.NoError(t, err)

	p, err := pool.New("pool:usdc-weth", tokens, config.DefaultPoolParameters, env.Ledger, env.AMM, env.Lending, env)
	require.NoError(t, err)
	return &fixture{env: env, tokens: tokens, pool: p}
}

func (f *fixture) deposit(t *testing.T, amount int64) {
	t.Helper()
	require.NoError(t, f.env.Ledger.Mint("alice", f.tokens.Stable, sdkmath.NewInt(amount)))
	cfg := types.SwapConfig{
		Path:     []string{f.tokens.Stable, f.tokens.Volatile},
		Deadline: simulations.FutureDeadline(),
	}
	_, err := f.pool.Deposit("alice", sdkmath.NewInt(amount), sdkmath.ZeroInt(), cfg, "alice", "")
	require.NoError(t, err)
}

func (f *fixture) tilt(t *testing.T) {
	t.Helper()
	require.NoError(t, f.env.Lending.AccrueBorrowInterest(f.tokens.Volatile, sdkmath.LegacyMustNewDecFromStr("1.05")))
}

type memorySink struct {
	receipts []types.RebalanceReceipt
}

func (s *memorySink) SaveRebalanceReceipt(receipt types.RebalanceReceipt) (int64, error) {
	s.receipts = append(s.receipts, receipt)
	return int64(len(s.receipts)), nil
}

func TestNewKeeperValidation(t *testing.T) {
	_, err := NewKeeper(Config{})
	require.Error(t, err)

	_, err = NewKeeper(Config{Pools: []*pool.Pool{nil}})
	require.Error(t, err)
}

func TestRebalanceIfNeededInBand(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, 10_000_000)

	k, err := NewKeeper(Config{Pools: []*pool.Pool{f.pool}})
	require.NoError(t, err)

	_, executed, err := k.RebalanceIfNeeded(f.pool)
	require.NoError(t, err)
	require.False(t, executed)
}

func TestRebalanceIfNeededEmptyPool(t *testing.T) {
	f := newFixture(t)

	k, err := NewKeeper(Config{Pools: []*pool.Pool{f.pool}})
	require.NoError(t, err)

	_, executed, err := k.RebalanceIfNeeded(f.pool)
	require.NoError(t, err)
	require.False(t, executed)
}

func TestRebalanceIfNeededExecutesAndPersists(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, 10_000_000)
	f.tilt(t)

	sink := &memorySink{}
	k, err := NewKeeper(Config{Pools: []*pool.Pool{f.pool}, Sink: sink})
	require.NoError(t, err)

	receipt, executed, err := k.RebalanceIfNeeded(f.pool)
	require.NoError(t, err)
	require.True(t, executed)
	require.Equal(t, types.RebalanceRedeemAndRepay, receipt.Direction)
	require.Len(t, sink.receipts, 1)
	require.Equal(t, int64(1), receipt.ReceiptID)

	// The correction landed; the immediate re-check is a clean no-op.
	_, executed, err = k.RebalanceIfNeeded(f.pool)
	require.NoError(t, err)
	require.False(t, executed)
}

func TestRunCycleCoversAllPools(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, 10_000_000)
	f.tilt(t)

	sink := &memorySink{}
	k, err := NewKeeper(Config{Pools: []*pool.Pool{f.pool}, Sink: sink})
	require.NoError(t, err)

	k.RunCycle(context.Background())
	require.Len(t, sink.receipts, 1)

	// The supply gauge tracks outstanding shares in display units.
	supply, err := utils.SDKIntToFloat64(f.pool.TotalShares(), shareExponent)
	require.NoError(t, err)
	require.InDelta(t, supply, testutil.ToFloat64(shareSupply.WithLabelValues(f.tokens.Pair())), 1e-9)
	require.Greater(t, supply, 0.0)

	snap, err := f.pool.GetDebtBps()
	require.NoError(t, err)
	require.True(t, snap.Bps.GTE(config.DefaultPoolParameters.ToleranceMin))
	require.True(t, snap.Bps.LTE(config.DefaultPoolParameters.ToleranceMax))
}

func TestRegisterTriggers(t *testing.T) {
	f := newFixture(t)
	registry := simulations.NewAutomationRegistry()

	k, err := NewKeeper(Config{Pools: []*pool.Pool{f.pool}, Registry: registry})
	require.NoError(t, err)

	hashes, err := k.RegisterTriggers("keeper-bot", 500_000, "0.025")
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	require.Equal(t, 1, registry.Len())

	req, ok := registry.Registered(hashes[0])
	require.True(t, ok)
	require.Equal(t, f.pool.Account(), req.Target)

	// Re-registering the identical request is rejected by the registry.
	_, err = k.RegisterTriggers("keeper-bot", 500_000, "0.025")
	require.Error(t, err)

	require.NoError(t, registry.Cancel(hashes[0]))
	require.Equal(t, 0, registry.Len())
}
