/*

This file contains the pool-family policy parameters. They are configured at
startup (or loaded from the parameters store) and shared by every pool the
process manages.

*/

package types

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// PoolParameters holds the debt-tolerance and fee policy for a pool family.
type PoolParameters struct {
	ParamsID int64 `json:"params_id,omitempty"` // assigned by the store
	Version  int   `json:"version,omitempty"`

	// ToleranceMin/Max bracket the acceptable debt/owned ratio, in parts
	// per 1e18 around parity. Rebalance is a rejected no-op inside the band.
	ToleranceMin sdkmath.LegacyDec `json:"tolerance_min"`
	ToleranceMax sdkmath.LegacyDec `json:"tolerance_max"`

	// RebalanceTarget is the ratio a correction steers the pre-trade
	// snapshot to. Parity unless operations decide otherwise.
	RebalanceTarget sdkmath.LegacyDec `json:"rebalance_target"`

	// DepositFeeRate is the share-mint fee ratio, parts per 1e18.
	DepositFeeRate sdkmath.LegacyDec `json:"deposit_fee_rate"`

	// FeeReceiver collects deposit fees and extracted rebalance fees when
	// no referrer overrides it.
	FeeReceiver string `json:"fee_receiver"`
}

// Validate enforces the structural invariants of the parameter set.
func (p PoolParameters) Validate() error {
	one := sdkmath.LegacyOneDec()
	if p.ToleranceMin.IsNil() || p.ToleranceMax.IsNil() || p.RebalanceTarget.IsNil() || p.DepositFeeRate.IsNil() {
		return errors.New("pool parameters contain nil decimals")
	}
	if !p.ToleranceMin.IsPositive() || p.ToleranceMin.GTE(one) {
		return fmt.Errorf("tolerance min %s must lie in (0, 1)", p.ToleranceMin)
	}
	if p.ToleranceMax.LTE(one) {
		return fmt.Errorf("tolerance max %s must exceed 1", p.ToleranceMax)
	}
	if p.RebalanceTarget.LT(p.ToleranceMin) || p.RebalanceTarget.GT(p.ToleranceMax) {
		return fmt.Errorf("rebalance target %s must lie within the tolerance band", p.RebalanceTarget)
	}
	if p.DepositFeeRate.IsNegative() || p.DepositFeeRate.GTE(one) {
		return fmt.Errorf("deposit fee rate %s must lie in [0, 1)", p.DepositFeeRate)
	}
	if p.FeeReceiver == "" {
		return errors.New("fee receiver is not set")
	}
	return nil
}
