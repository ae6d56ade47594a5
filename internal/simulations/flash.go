package simulations

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrFlashLiquidity  = errors.New("flash lender has insufficient liquidity")
	ErrFlashUnderpaid  = errors.New("flash loan was not repaid with fee")
	ErrFlashReentrancy = errors.New("flash borrow is already in progress")
)

// FlashLender is an uncollateralized loan source with a fixed fee rate.
// One borrow cycle at a time; repayment is verified against the lender's own
// ledger balance, never against anything the borrower reports.
type FlashLender struct {
	mu      sync.Mutex
	ledger  *Ledger
	account string
	feeRate sdkmath.LegacyDec
	lending bool
}

// NewFlashLender creates a lender with the given fee ratio (parts per 1e18).
func NewFlashLender(ledger *Ledger, feeRate sdkmath.LegacyDec) *FlashLender {
	return &FlashLender{
		ledger:  ledger,
		account: "flash:source",
		feeRate: feeRate,
	}
}

// Account returns the lender's ledger account.
func (f *FlashLender) Account() string { return f.account }

// SeedLiquidity mints loanable reserves to the lender.
func (f *FlashLender) SeedLiquidity(asset string, amount sdkmath.Int) error {
	return f.ledger.Mint(f.account, asset, amount)
}

// FeeRate returns the loan fee ratio in parts per 1e18.
func (f *FlashLender) FeeRate() sdkmath.LegacyDec { return f.feeRate }

// FlashBorrow credits amount to the recipient, runs the callback, and fails
// unless amount plus fee is back on the lender's account afterwards.
func (f *FlashLender) FlashBorrow(asset string, amount sdkmath.Int, to string, callback func() error) error {
	f.mu.Lock()
	if f.lending {
		f.mu.Unlock()
		return ErrFlashReentrancy
	}
	f.lending = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.lending = false
		f.mu.Unlock()
	}()

	before, err := f.ledger.BalanceOf(f.account, asset)
	if err != nil {
		return err
	}
	if before.LT(amount) {
		return fmt.Errorf("%w: %s of %s", ErrFlashLiquidity, before, asset)
	}
	fee := f.feeRate.MulInt(amount).Ceil().TruncateInt()

	if err := f.ledger.Transfer(f.account, to, asset, amount); err != nil {
		return err
	}
	if err := callback(); err != nil {
		return err
	}

	after, err := f.ledger.BalanceOf(f.account, asset)
	if err != nil {
		return err
	}
	if after.LT(before.Add(fee)) {
		return fmt.Errorf("%w: balance %s, expected at least %s", ErrFlashUnderpaid, after, before.Add(fee))
	}
	return nil
}
