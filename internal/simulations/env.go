package simulations

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/hedgevault/dnv/internal/types"
)

// Env bundles a complete simulated execution backend: one ledger, one AMM,
// a primary lending market (pool collateral/debt), a secondary lending
// market (leverage collateral/debt) and a flash lender.
type Env struct {
	Ledger    *Ledger
	AMM       *AMM
	Lending   *LendingMarket
	Secondary *LendingMarket
	Flash     *FlashLender
}

// EnvConfig seeds an Env with one trading pair and venue liquidity.
type EnvConfig struct {
	Stable       string
	Volatile     string
	ReserveS     sdkmath.Int // stable-side AMM reserve
	ReserveV     sdkmath.Int // volatile-side AMM reserve
	LendingS     sdkmath.Int // primary market stable liquidity
	LendingV     sdkmath.Int // primary market volatile liquidity
	SecondaryS   sdkmath.Int // secondary market stable liquidity
	FlashS       sdkmath.Int // flash lender stable liquidity
	FlashFeeRate sdkmath.LegacyDec
}

// NewEnv builds and seeds the backend, returning the env and the token set
// callers hand to the pool.
func NewEnv(cfg EnvConfig) (*Env, types.TokenSet, error) {
	ledger := NewLedger()
	amm := NewAMM(ledger)

	lpDenom, err := amm.CreatePair(cfg.Stable, cfg.Volatile, cfg.ReserveS, cfg.ReserveV)
	if err != nil {
		return nil, types.TokenSet{}, err
	}

	lending := NewLendingMarket(ledger, "primary")
	if err := lending.SeedLiquidity(cfg.Stable, cfg.LendingS); err != nil {
		return nil, types.TokenSet{}, err
	}
	if err := lending.SeedLiquidity(cfg.Volatile, cfg.LendingV); err != nil {
		return nil, types.TokenSet{}, err
	}

	secondary := NewLendingMarket(ledger, "secondary")
	if err := secondary.SeedLiquidity(cfg.Stable, cfg.SecondaryS); err != nil {
		return nil, types.TokenSet{}, err
	}

	flash := NewFlashLender(ledger, cfg.FlashFeeRate)
	if err := flash.SeedLiquidity(cfg.Stable, cfg.FlashS); err != nil {
		return nil, types.TokenSet{}, err
	}

	tokens := types.TokenSet{
		Stable:             cfg.Stable,
		Volatile:           cfg.Volatile,
		AMMLP:              lpDenom,
		StableCollateral:   "c/" + cfg.Stable,
		VolatileCollateral: "c/" + cfg.Volatile,
		LPCollateral:       "c/" + lpDenom,
	}
	return &Env{
		Ledger:    ledger,
		AMM:       amm,
		Lending:   lending,
		Secondary: secondary,
		Flash:     flash,
	}, tokens, nil
}

// Snapshot captures the whole backend and returns a restore closure.
// Engine operations call it on entry and invoke the restore on failure so
// partial effects never survive, matching on-chain atomicity.
func (e *Env) Snapshot() func() {
	restoreLedger := e.Ledger.snapshot()
	restoreAMM := e.AMM.snapshot()
	restoreLending := e.Lending.snapshot()
	restoreSecondary := e.Secondary.snapshot()
	return func() {
		restoreSecondary()
		restoreLending()
		restoreAMM()
		restoreLedger()
	}
}

// FutureDeadline is a convenience for sim-mode swap configs.
func FutureDeadline() time.Time {
	return time.Now().Add(5 * time.Minute)
}
