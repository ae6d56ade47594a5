/*

This package is the automation trigger surface: a permissionless
"rebalance if needed" entry point plus the ticker loop that drives it for
every managed pool. The pool itself rejects in-band corrections, so the
trigger is idempotent; the keeper only has to translate that rejection into
"nothing to do" instead of a failure.

*/

package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/hedgevault/dnv/internal/logger"
	"github.com/hedgevault/dnv/internal/market"
	"github.com/hedgevault/dnv/internal/pool"
	"github.com/hedgevault/dnv/internal/types"
	"github.com/hedgevault/dnv/internal/utils"
)

// ReceiptSink persists executed corrections. Optional; the keeper runs
// without persistence.
type ReceiptSink interface {
	SaveRebalanceReceipt(receipt types.RebalanceReceipt) (int64, error)
}

// Keeper drives periodic debt checks across a set of pools.
type Keeper struct {
	pools      []*pool.Pool
	registry   market.AutomationRegistry // optional
	sink       ReceiptSink               // optional
	extractFee bool

	cycleCount int
	logger     zerolog.Logger
}

// Config holds the dependencies for creating a new Keeper instance.
type Config struct {
	Pools      []*pool.Pool
	Registry   market.AutomationRegistry
	Sink       ReceiptSink
	ExtractFee bool
}

// NewKeeper creates a keeper with dependency injection.
func NewKeeper(cfg Config) (*Keeper, error) {
	if len(cfg.Pools) == 0 {
		return nil, errors.New("keeper needs at least one pool")
	}
	for _, p := range cfg.Pools {
		if p == nil {
			return nil, errors.New("keeper pool cannot be nil")
		}
	}
	return &Keeper{
		pools:      cfg.Pools,
		registry:   cfg.Registry,
		sink:       cfg.Sink,
		extractFee: cfg.ExtractFee,
		logger:     logger.GetForComponent("keeper"),
	}, nil
}

// RebalanceIfNeeded runs one trigger check against a pool. The boolean
// reports whether a correction executed; an in-band rejection is a clean
// no-op, not an error.
func (k *Keeper) RebalanceIfNeeded(p *pool.Pool) (types.RebalanceReceipt, bool, error) {
	pair := p.Tokens().Pair()

	receipt, err := p.Rebalance(k.extractFee)
	if err != nil {
		if errors.Is(err, pool.ErrDebtWithinRange) {
			rebalancesSkipped.WithLabelValues(pair).Inc()
			k.observeRatio(p)
			return types.RebalanceReceipt{}, false, nil
		}
		if errors.Is(err, pool.ErrNoPosition) {
			// Empty pool, nothing to maintain.
			return types.RebalanceReceipt{}, false, nil
		}
		rebalancesFailed.WithLabelValues(pair).Inc()
		return types.RebalanceReceipt{}, false, fmt.Errorf("rebalance failed for %s: %w", pair, err)
	}

	rebalancesExecuted.WithLabelValues(pair, string(receipt.Direction)).Inc()
	debtRatio.WithLabelValues(pair).Set(decToFloat(receipt.After.Bps))

	if k.sink != nil {
		if id, err := k.sink.SaveRebalanceReceipt(receipt); err != nil {
			k.logger.Error().Err(err).Str("pair", pair).Msg("Failed to persist rebalance receipt")
		} else {
			receipt.ReceiptID = id
		}
	}
	return receipt, true, nil
}

// RunCycle executes one trigger pass over every pool.
func (k *Keeper) RunCycle(ctx context.Context) {
	cycleStart := time.Now()
	cycleLogger := k.logger.With().Int("cycle", k.cycleCount).Logger()

	for _, p := range k.pools {
		if ctx.Err() != nil {
			return
		}
		receipt, executed, err := k.RebalanceIfNeeded(p)
		pair := p.Tokens().Pair()
		k.observeSupply(p)
		switch {
		case err != nil:
			cycleLogger.Error().Err(err).Str("pair", pair).Msg("Trigger check failed")
		case executed:
			cycleLogger.Info().
				Str("pair", pair).
				Str("direction", string(receipt.Direction)).
				Str("bpsAfter", receipt.After.Bps.String()).
				Msg("Rebalance executed")
		default:
			cycleLogger.Debug().Str("pair", pair).Msg("Debt within range, nothing to do")
		}
	}
	cycleDuration.Observe(time.Since(cycleStart).Seconds())
}

// RunLoop starts the main keeper loop with the specified interval.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Int("pools", len(k.pools)).
		Msg("Starting keeper main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	k.cycleCount++
	k.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.cycleCount++
			k.RunCycle(ctx)
		}
	}
}

// RegisterTriggers files one maintenance request per pool with the external
// dispatch registry and returns the request hashes.
func (k *Keeper) RegisterTriggers(user string, gasLimit uint64, gasPrice string) ([]string, error) {
	if k.registry == nil {
		return nil, errors.New("no automation registry attached")
	}
	hashes := make([]string, 0, len(k.pools))
	for _, p := range k.pools {
		req := types.AutomationRequest{
			User:        user,
			Target:      p.Account(),
			CallData:    []byte("rebalance"),
			GasLimit:    gasLimit,
			GasPrice:    gasPrice,
			PayWithFees: true,
		}
		hash, err := k.registry.Register(req)
		if err != nil {
			return hashes, fmt.Errorf("failed to register trigger for %s: %w", p.Tokens().Pair(), err)
		}
		k.logger.Info().Str("pair", p.Tokens().Pair()).Str("hash", hash).Msg("Trigger registered")
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// shareExponent scales raw share units to display units for the supply
// gauge; shares are minted against micro-denominated stable deposits.
const shareExponent = 6

func (k *Keeper) observeSupply(p *pool.Pool) {
	f, err := utils.SDKIntToFloat64(p.TotalShares(), shareExponent)
	if err != nil {
		return
	}
	shareSupply.WithLabelValues(p.Tokens().Pair()).Set(f)
}

func (k *Keeper) observeRatio(p *pool.Pool) {
	snap, err := p.GetDebtBps()
	if err != nil {
		return
	}
	debtRatio.WithLabelValues(p.Tokens().Pair()).Set(decToFloat(snap.Bps))
}

func decToFloat(dec sdkmath.LegacyDec) float64 {
	f, err := utils.DecToFloat64(dec)
	if err != nil {
		return 0
	}
	return f
}
