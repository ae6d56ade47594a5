/*

This file contains the result and receipt types produced by pool, relay and
wrapper operations. Receipts are what the state layer persists and the web
layer serves.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// DebtSnapshot is the ephemeral rebalance input: how much volatile exposure
// the pool owns through its LP holdings, how much it owes, and their ratio
// in parts per 1e18.
type DebtSnapshot struct {
	Owned sdkmath.Int       `json:"owned"`
	Debt  sdkmath.Int       `json:"debt"`
	Bps   sdkmath.LegacyDec `json:"bps"`
}

// DepositResult reports the amounts a deposit actually moved.
type DepositResult struct {
	AmountStable sdkmath.Int `json:"amount_stable"` // stable supplied as LP leg + collateral remainder
	AmountVol    sdkmath.Int `json:"amount_vol"`    // volatile leg zapped and borrowed against
	AmountLP     sdkmath.Int `json:"amount_lp"`     // AMM liquidity tokens obtained
	SharesMinted sdkmath.Int `json:"shares_minted"` // shares credited to the recipient (post fee)
	SharesFee    sdkmath.Int `json:"shares_fee"`    // shares credited to the fee receiver/referrer
	SharesLocked sdkmath.Int `json:"shares_locked"` // permanently locked minimum liquidity (first deposit only)
	FeeRecipient string      `json:"fee_recipient"` // fee receiver or caller-supplied referrer
}

// WithdrawResult reports the proceeds of a share burn.
type WithdrawResult struct {
	SharesBurned  sdkmath.Int `json:"shares_burned"`
	AmountStable  sdkmath.Int `json:"amount_stable"`   // stable returned to the caller
	AmountVolPaid sdkmath.Int `json:"amount_vol_paid"` // volatile debt repaid on the caller's behalf
	RemovalEvents int         `json:"removal_events"`  // AMM liquidity removals performed (1 or 2)
}

// RebalanceDirection names which side of the tolerance band was corrected.
type RebalanceDirection string

const (
	RebalanceBorrowAndSupply RebalanceDirection = "BORROW_AND_SUPPLY" // owned > debt
	RebalanceRedeemAndRepay  RebalanceDirection = "REDEEM_AND_REPAY"  // owned < debt
)

// RebalanceReceipt records one executed debt correction.
type RebalanceReceipt struct {
	ReceiptID    int64              `json:"receipt_id,omitempty"` // assigned by the store
	Pair         string             `json:"pair"`
	TraceID      string             `json:"trace_id"`
	Direction    RebalanceDirection `json:"direction"`
	Before       DebtSnapshot       `json:"before"`
	After        DebtSnapshot       `json:"after"`
	AmountTraded sdkmath.Int        `json:"amount_traded"` // volatile amount borrowed or repaid
	FeeExtracted bool               `json:"fee_extracted"`
	Timestamp    time.Time          `json:"timestamp"`
}

// ShareSnapshot records the share ledger totals at one instant.
type ShareSnapshot struct {
	SnapshotID  int64       `json:"snapshot_id,omitempty"`
	Pair        string      `json:"pair"`
	ShareSupply sdkmath.Int `json:"share_supply"`
	Holders     int         `json:"holders"`
	Timestamp   time.Time   `json:"timestamp"`
}

// LevDepositResult reports a leveraged entry.
type LevDepositResult struct {
	Deposit          DepositResult `json:"deposit"`
	FlashBorrowed    sdkmath.Int   `json:"flash_borrowed"`
	FlashFee         sdkmath.Int   `json:"flash_fee"`
	SecondaryDebt    sdkmath.Int   `json:"secondary_debt"`    // stable borrowed against share collateral
	SharesCollateral sdkmath.Int   `json:"shares_collateral"` // shares locked in the secondary market
}

// LevWithdrawResult reports a leveraged exit, including the conservation
// bookkeeping a caller needs to audit value up to AMM slippage.
type LevWithdrawResult struct {
	Withdraw       WithdrawResult `json:"withdraw"`
	SharesRedeemed sdkmath.Int    `json:"shares_redeemed"`
	DebtRepaid     sdkmath.Int    `json:"debt_repaid"`
	StableReturned sdkmath.Int    `json:"stable_returned"`
	Excess         sdkmath.Int    `json:"excess"`    // stable above the requested payout, also returned
	Shortfall      sdkmath.Int    `json:"shortfall"` // unmet part of the requested payout
}
