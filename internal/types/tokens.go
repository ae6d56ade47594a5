/*

This file contains the token-pair and swap configuration types shared by the
position pool, the leverage wrapper and the keeper.

*/

package types

import (
	"errors"
	"time"
)

// TokenSet identifies the assets of one stable/volatile pair together with
// the lending-market collateral handles for each of them. Immutable after
// pool creation.
type TokenSet struct {
	Stable   string `json:"stable"`   // stable asset denom (e.g. usdc)
	Volatile string `json:"volatile"` // volatile asset denom (e.g. weth)
	AMMLP    string `json:"amm_lp"`   // AMM liquidity token denom for the pair

	StableCollateral   string `json:"stable_collateral"`   // collateral handle for supplied stable
	VolatileCollateral string `json:"volatile_collateral"` // collateral handle for supplied volatile
	LPCollateral       string `json:"lp_collateral"`       // collateral handle for supplied LP tokens
}

// Pair returns the canonical pool identifier. Slash-free so the id can
// ride in URL path segments.
func (ts TokenSet) Pair() string {
	return ts.Stable + "-" + ts.Volatile
}

// Validate checks that every denom is set and the pair is not degenerate.
func (ts TokenSet) Validate() error {
	if ts.Stable == "" || ts.Volatile == "" || ts.AMMLP == "" {
		return errors.New("token set has empty denom")
	}
	if ts.Stable == ts.Volatile {
		return errors.New("stable and volatile denoms are identical")
	}
	if ts.StableCollateral == "" || ts.VolatileCollateral == "" || ts.LPCollateral == "" {
		return errors.New("token set has empty collateral handle")
	}
	return nil
}

// SwapConfig carries the caller-supplied execution constraints for every
// AMM interaction inside a single operation.
type SwapConfig struct {
	Path     []string  `json:"path"`     // swap route, first denom is the input
	Deadline time.Time `json:"deadline"` // operation is rejected outright after this instant
}

// Validate checks the structural fields of the config.
func (sc SwapConfig) Validate() error {
	if len(sc.Path) < 2 {
		return errors.New("swap path needs at least two denoms")
	}
	if sc.Deadline.IsZero() {
		return errors.New("swap deadline is not set")
	}
	return nil
}

// Expired reports whether the deadline lies behind the clock reading.
func (sc SwapConfig) Expired(now time.Time) bool {
	return now.After(sc.Deadline)
}

// Reversed returns the same route walked in the opposite direction.
func (sc SwapConfig) Reversed() SwapConfig {
	rev := make([]string, len(sc.Path))
	for i, denom := range sc.Path {
		rev[len(sc.Path)-1-i] = denom
	}
	return SwapConfig{Path: rev, Deadline: sc.Deadline}
}
