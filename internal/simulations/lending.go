package simulations

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/hedgevault/dnv/internal/market"
)

var (
	ErrMarketLiquidity = errors.New("market has insufficient liquidity")
	ErrBorrowCap       = errors.New("borrow cap reached")
	ErrNoCollateral    = errors.New("no collateral to redeem")
	ErrNoDebt          = errors.New("no outstanding debt")
)

// LendingMarket is a Compound-style supply/borrow venue. It tracks per
// account collateral and debt and settles transfers against the ledger,
// except for assets registered with an external share token (pool shares),
// which settle through that token's own ledger.
type LendingMarket struct {
	mu      sync.Mutex
	ledger  *Ledger
	account string // the market's own ledger account

	supplies map[string]map[string]sdkmath.Int // account -> asset -> collateral
	borrows  map[string]map[string]sdkmath.Int // account -> asset -> debt

	borrowCaps   map[string]sdkmath.Int // asset -> cap on total borrows (absent = uncapped)
	totalBorrows map[string]sdkmath.Int
	shareTokens  map[string]market.ShareToken // asset -> external transfer surface
}

// NewLendingMarket creates an empty market named for logging and ledger
// account purposes.
func NewLendingMarket(ledger *Ledger, name string) *LendingMarket {
	return &LendingMarket{
		ledger:       ledger,
		account:      "lending:" + name,
		supplies:     make(map[string]map[string]sdkmath.Int),
		borrows:      make(map[string]map[string]sdkmath.Int),
		borrowCaps:   make(map[string]sdkmath.Int),
		totalBorrows: make(map[string]sdkmath.Int),
		shareTokens:  make(map[string]market.ShareToken),
	}
}

// Account returns the market's ledger account.
func (m *LendingMarket) Account() string { return m.account }

// SeedLiquidity mints borrowable reserves to the market.
func (m *LendingMarket) SeedLiquidity(asset string, amount sdkmath.Int) error {
	return m.ledger.Mint(m.account, asset, amount)
}

// SetBorrowCap caps total borrows of an asset.
func (m *LendingMarket) SetBorrowCap(asset string, capAmount sdkmath.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.borrowCaps[asset] = capAmount
}

// RegisterShareToken routes collateral transfers of the token's denom
// through the token instead of the ledger.
func (m *LendingMarket) RegisterShareToken(token market.ShareToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shareTokens[token.Denom()] = token
}

// Supply locks amount of asset as the account's collateral.
func (m *LendingMarket) Supply(account, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: supply %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.moveIn(account, asset, amount); err != nil {
		return err
	}
	addTo(m.supplies, account, asset, amount)
	return nil
}

// Redeem releases amount of the account's collateral.
func (m *LendingMarket) Redeem(account, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: redeem %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	held := lookup(m.supplies, account, asset)
	if held.LT(amount) {
		return fmt.Errorf("%w: %s has %s %s collateral, wants %s", ErrNoCollateral, account, held, asset, amount)
	}
	if err := m.moveOut(account, asset, amount); err != nil {
		return err
	}
	addTo(m.supplies, account, asset, amount.Neg())
	return nil
}

// Borrow draws amount of asset against the account's position.
func (m *LendingMarket) Borrow(account, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: borrow %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if capAmount, ok := m.borrowCaps[asset]; ok {
		outstanding := lookupFlat(m.totalBorrows, asset)
		if outstanding.Add(amount).GT(capAmount) {
			return fmt.Errorf("%w: %s", ErrBorrowCap, asset)
		}
	}
	available, err := m.ledger.BalanceOf(m.account, asset)
	if err != nil {
		return err
	}
	if available.LT(amount) {
		return fmt.Errorf("%w: %s of %s", ErrMarketLiquidity, available, asset)
	}
	if err := m.ledger.Transfer(m.account, account, asset, amount); err != nil {
		return err
	}
	addTo(m.borrows, account, asset, amount)
	m.totalBorrows[asset] = lookupFlat(m.totalBorrows, asset).Add(amount)
	return nil
}

// Repay settles amount of the account's debt, capped at what is owed.
func (m *LendingMarket) Repay(account, asset string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: repay %s", ErrInvalidAmount, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	owed := lookup(m.borrows, account, asset)
	if owed.IsZero() {
		return fmt.Errorf("%w: %s owes no %s", ErrNoDebt, account, asset)
	}
	paid := sdkmath.MinInt(amount, owed)
	if err := m.ledger.Transfer(account, m.account, asset, paid); err != nil {
		return err
	}
	addTo(m.borrows, account, asset, paid.Neg())
	m.totalBorrows[asset] = lookupFlat(m.totalBorrows, asset).Sub(paid)
	return nil
}

// BalanceOfUnderlying returns the account's collateral in underlying units.
func (m *LendingMarket) BalanceOfUnderlying(account, asset string) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lookup(m.supplies, account, asset), nil
}

// BorrowBalanceCurrent returns the account's debt, interest included.
func (m *LendingMarket) BorrowBalanceCurrent(account, asset string) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lookup(m.borrows, account, asset), nil
}

// AccrueBorrowInterest multiplies every outstanding borrow of asset by
// factor, rounding the accrued interest up. Tests use it to push debt out of
// the tolerance band without trading.
func (m *LendingMarket) AccrueBorrowInterest(asset string, factor sdkmath.LegacyDec) error {
	if factor.IsNil() || factor.LT(sdkmath.LegacyOneDec()) {
		return fmt.Errorf("%w: accrual factor %s", ErrInvalidAmount, factor)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for account, assets := range m.borrows {
		owed, ok := assets[asset]
		if !ok || owed.IsZero() {
			continue
		}
		grown := factor.MulInt(owed).Ceil().TruncateInt()
		m.totalBorrows[asset] = lookupFlat(m.totalBorrows, asset).Add(grown.Sub(owed))
		m.borrows[account][asset] = grown
	}
	return nil
}

// moveIn pulls collateral from the account, via the ledger or a registered
// share token.
func (m *LendingMarket) moveIn(account, asset string, amount sdkmath.Int) error {
	if token, ok := m.shareTokens[asset]; ok {
		return token.TransferShares(account, m.account, amount)
	}
	return m.ledger.Transfer(account, m.account, asset, amount)
}

func (m *LendingMarket) moveOut(account, asset string, amount sdkmath.Int) error {
	if token, ok := m.shareTokens[asset]; ok {
		return token.TransferShares(m.account, account, amount)
	}
	return m.ledger.Transfer(m.account, account, asset, amount)
}

// snapshot captures account bookkeeping; ledger balances are restored by the
// ledger's own snapshot.
func (m *LendingMarket) snapshot() func() {
	m.mu.Lock()
	supplies := copyNested(m.supplies)
	borrows := copyNested(m.borrows)
	totals := make(map[string]sdkmath.Int, len(m.totalBorrows))
	for asset, amount := range m.totalBorrows {
		totals[asset] = amount
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.supplies = supplies
		m.borrows = borrows
		m.totalBorrows = totals
		m.mu.Unlock()
	}
}

func copyNested(src map[string]map[string]sdkmath.Int) map[string]map[string]sdkmath.Int {
	dst := make(map[string]map[string]sdkmath.Int, len(src))
	for account, assets := range src {
		inner := make(map[string]sdkmath.Int, len(assets))
		for asset, amount := range assets {
			inner[asset] = amount
		}
		dst[account] = inner
	}
	return dst
}

func addTo(m map[string]map[string]sdkmath.Int, account, asset string, delta sdkmath.Int) {
	assets, ok := m[account]
	if !ok {
		assets = make(map[string]sdkmath.Int)
		m[account] = assets
	}
	current, ok := assets[asset]
	if !ok {
		current = sdkmath.ZeroInt()
	}
	assets[asset] = current.Add(delta)
}

func lookup(m map[string]map[string]sdkmath.Int, account, asset string) sdkmath.Int {
	if assets, ok := m[account]; ok {
		if amount, ok := assets[asset]; ok {
			return amount
		}
	}
	return sdkmath.ZeroInt()
}

func lookupFlat(m map[string]sdkmath.Int, asset string) sdkmath.Int {
	if amount, ok := m[asset]; ok {
		return amount
	}
	return sdkmath.ZeroInt()
}
