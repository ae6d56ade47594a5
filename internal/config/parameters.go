/*

This file contains the default pool parameters.

These values are the fallback used when no active parameter set is found in
the database during initialization. They are calibrated for a production
stable/volatile pair carrying real capital.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/hedgevault/dnv/internal/types"
)

// DefaultPoolParameters provides the baseline debt-tolerance and fee policy.
var DefaultPoolParameters = types.PoolParameters{
	Version: 1,

	ToleranceMin: sdkmath.LegacyMustNewDecFromStr("0.99"),
	// Rationale: below 0.99 the position is under-hedged by more than 1% of
	// its volatile exposure, which is the point where directional PnL starts
	// to dominate LP fee income on a daily horizon.

	ToleranceMax: sdkmath.LegacyMustNewDecFromStr("1.01"),
	// Rationale: symmetric cap on over-hedging. A wider band saves swap fees
	// on small ticks but leaves borrowed principal unproductive.

	RebalanceTarget: sdkmath.LegacyOneDec(),
	// Rationale: corrections steer the pre-trade snapshot to parity. The
	// trade's own reserve impact then lands the post-trade ratio just inside
	// the band on the side being corrected from.

	DepositFeeRate: sdkmath.LegacyMustNewDecFromStr("0.001"),
	// Rationale: 10 bps on minted shares covers keeper gas without making
	// short-hold deposits uneconomical.

	FeeReceiver: "treasury",
}
