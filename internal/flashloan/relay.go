/*

This package is the flash-loan relay: a stateless pass-through between an
external flash-loan source and a borrower. It records the owed repayment
before handing control to the borrower, verifies repayment against the bank
ledger afterwards, and forwards the exact owed amount back to the source.
Nothing survives a cycle; a retained balance is a bug, not revenue.

*/

package flashloan

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hedgevault/dnv/internal/logger"
	"github.com/hedgevault/dnv/internal/market"
)

// Error definitions for zero-tolerance error handling
var (
	ErrRelayBusy        = errors.New("relay is already awaiting repayment")
	ErrUnsupportedLoan  = errors.New("unsupported loan type")
	ErrNoBorrower       = errors.New("borrower is required")
	ErrRepaymentShort   = errors.New("callback left insufficient repayment")
	ErrRetainedBalance  = errors.New("relay retained balance after cycle")
	ErrZeroBorrowAmount = errors.New("borrow amount must be positive")
)

// LoanType selects the provider's debt mode. The relay only supports full
// in-cycle repayment; modes that open lasting debt against the relay would
// break its stateless contract.
type LoanType uint8

const (
	LoanNoDebt LoanType = iota
)

// Borrower receives the loan and must return amount + fee to the relay
// before its callback completes. The relay never trusts what the callback
// reports; it re-reads its own ledger balance.
type Borrower interface {
	// Account is where the relay credits the borrowed funds.
	Account() string

	// ExecuteOperation runs the borrower's logic with the loan in hand.
	ExecuteOperation(asset string, amount, fee sdkmath.Int, data []byte) error
}

// relayState makes the callback reentrancy boundary explicit. A cycle moves
// Idle -> AwaitingRepayment -> Idle; a second borrow while awaiting
// repayment is rejected instead of nesting.
type relayState int

const (
	stateIdle relayState = iota
	stateAwaitingRepayment
)

// Relay bridges one flash-loan source to arbitrary borrowers.
type Relay struct {
	mu      sync.Mutex
	state   relayState
	account string
	bank    market.Bank
	lender  market.FlashLender
	atom    market.Atomizer // optional

	log zerolog.Logger
}

// New creates a relay with its own bank account.
func New(account string, bank market.Bank, lender market.FlashLender, atom market.Atomizer) (*Relay, error) {
	if account == "" {
		return nil, errors.New("relay account cannot be empty")
	}
	if bank == nil || lender == nil {
		return nil, errors.New("bank and flash lender are both required")
	}
	return &Relay{
		state:   stateIdle,
		account: account,
		bank:    bank,
		lender:  lender,
		atom:    atom,
		log:     logger.GetForComponent("flash_relay"),
	}, nil
}

// Account returns the relay's bank account.
func (r *Relay) Account() string { return r.account }

// Quote returns the fee and total repayment owed for a loan of amount.
func (r *Relay) Quote(amount sdkmath.Int) (fee, owed sdkmath.Int) {
	fee = r.lender.FeeRate().MulInt(amount).Ceil().TruncateInt()
	return fee, amount.Add(fee)
}

// Borrow draws amount of asset from the source, forwards it to the borrower
// with a callback invocation, and settles the cycle.
//
// The owed amount is fixed before the callback runs. After the callback
// returns, the relay's ledger balance must have grown by at least owed; the
// owed amount goes back to the source and any surplus to the borrower. On
// any failure the whole cycle is rolled back.
func (r *Relay) Borrow(asset string, amount sdkmath.Int, loanType LoanType, target Borrower, data []byte) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrZeroBorrowAmount, amount)
	}
	if loanType != LoanNoDebt {
		return fmt.Errorf("%w: %d", ErrUnsupportedLoan, loanType)
	}
	if target == nil {
		return ErrNoBorrower
	}

	r.mu.Lock()
	if r.state != stateIdle {
		r.mu.Unlock()
		return ErrRelayBusy
	}
	r.state = stateAwaitingRepayment
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.state = stateIdle
		r.mu.Unlock()
	}()

	traceID := uuid.New().String()
	opLog := r.log.With().Str("op", "flash_borrow").Str("trace_id", traceID).Logger()

	rollback := func() {}
	if r.atom != nil {
		rollback = r.atom.Snapshot()
	}
	committed := false
	defer func() {
		if !committed {
			rollback()
		}
	}()

	fee, owed := r.Quote(amount)
	baseline, err := r.bank.BalanceOf(r.account, asset)
	if err != nil {
		return err
	}

	err = r.lender.FlashBorrow(asset, amount, r.account, func() error {
		if err := r.bank.Transfer(r.account, target.Account(), asset, amount); err != nil {
			return fmt.Errorf("loan forwarding failed: %w", err)
		}
		if err := target.ExecuteOperation(asset, amount, fee, data); err != nil {
			return fmt.Errorf("borrower callback failed: %w", err)
		}

		// Verify repayment on the ledger, not the callback's word.
		balance, err := r.bank.BalanceOf(r.account, asset)
		if err != nil {
			return err
		}
		repaid := balance.Sub(baseline)
		if repaid.LT(owed) {
			return fmt.Errorf("%w: repaid %s, owed %s", ErrRepaymentShort, repaid, owed)
		}
		if err := r.bank.Transfer(r.account, r.lender.Account(), asset, owed); err != nil {
			return fmt.Errorf("loan settlement failed: %w", err)
		}
		if surplus := repaid.Sub(owed); surplus.IsPositive() {
			if err := r.bank.Transfer(r.account, target.Account(), asset, surplus); err != nil {
				return fmt.Errorf("surplus forwarding failed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	final, err := r.bank.BalanceOf(r.account, asset)
	if err != nil {
		return err
	}
	if !final.Equal(baseline) {
		return fmt.Errorf("%w: %s %s", ErrRetainedBalance, final.Sub(baseline), asset)
	}
	committed = true

	opLog.Info().
		Str("asset", asset).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Str("borrower", target.Account()).
		Msg("Flash cycle settled")
	return nil
}
