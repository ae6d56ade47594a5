package simulations

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/hedgevault/dnv/internal/logger"
	"github.com/hedgevault/dnv/internal/utils"
)

var (
	ErrPairUnknown           = errors.New("pair is unknown")
	ErrPairExists            = errors.New("pair already exists")
	ErrDeadlineExpired       = errors.New("deadline expired")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientOutput    = errors.New("insufficient output amount")
	ErrInsufficientInput     = errors.New("insufficient input amount")
	ErrPathInvalid           = errors.New("swap path is invalid")
)

// AMM is a constant-product pair venue with the Uniswap v2 997/1000 swap fee.
// Reserves live on the ledger under one account per pair.
type AMM struct {
	mu     sync.Mutex
	ledger *Ledger
	pairs  map[string]*ammPair
}

type ammPair struct {
	token0, token1 string // sorted
	account        string
	lpDenom        string
	lpSupply       sdkmath.Int
}

// NewAMM creates an empty venue on the given ledger.
func NewAMM(ledger *Ledger) *AMM {
	return &AMM{ledger: ledger, pairs: make(map[string]*ammPair)}
}

var ammLogger = logger.GetForComponent("amm_simulator")

func pairKey(tokenA, tokenB string) string {
	denoms := []string{tokenA, tokenB}
	sort.Strings(denoms)
	return denoms[0] + ":" + denoms[1]
}

// CreatePair registers a pair and seeds it with initial reserves minted in
// place. Returns the pair's liquidity token denom.
func (a *AMM) CreatePair(tokenA, tokenB string, reserveA, reserveB sdkmath.Int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := pairKey(tokenA, tokenB)
	if _, ok := a.pairs[key]; ok {
		return "", fmt.Errorf("%w: %s", ErrPairExists, key)
	}
	p := &ammPair{
		token0:  minDenom(tokenA, tokenB),
		token1:  maxDenom(tokenA, tokenB),
		account: "amm:" + key,
		lpDenom: "amm/lp/" + key,
	}
	if err := a.ledger.Mint(p.account, tokenA, reserveA); err != nil {
		return "", err
	}
	if err := a.ledger.Mint(p.account, tokenB, reserveB); err != nil {
		return "", err
	}
	liquidity, err := utils.Isqrt(reserveA, reserveB)
	if err != nil {
		return "", err
	}
	p.lpSupply = liquidity
	if err := a.ledger.Mint(p.account, p.lpDenom, liquidity); err != nil {
		return "", err
	}
	a.pairs[key] = p

	ammLogger.Info().
		Str("pair", key).
		Str("reserveA", reserveA.String()).
		Str("reserveB", reserveB.String()).
		Msg("Pair created")
	return p.lpDenom, nil
}

// LPDenom returns the liquidity token denom for a pair.
func (a *AMM) LPDenom(tokenA, tokenB string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pairs[pairKey(tokenA, tokenB)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPairUnknown, pairKey(tokenA, tokenB))
	}
	return p.lpDenom, nil
}

// Reserves returns the pair reserves ordered as the arguments.
func (a *AMM) Reserves(tokenA, tokenB string) (sdkmath.Int, sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserves(tokenA, tokenB)
}

func (a *AMM) reserves(tokenA, tokenB string) (sdkmath.Int, sdkmath.Int, error) {
	p, ok := a.pairs[pairKey(tokenA, tokenB)]
	if !ok {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrPairUnknown, pairKey(tokenA, tokenB))
	}
	ra, err := a.ledger.BalanceOf(p.account, tokenA)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	rb, err := a.ledger.BalanceOf(p.account, tokenB)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return ra, rb, nil
}

// LiquiditySupply returns the total supply of the pair's liquidity token.
func (a *AMM) LiquiditySupply(tokenA, tokenB string) (sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pairs[pairKey(tokenA, tokenB)]
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrPairUnknown, pairKey(tokenA, tokenB))
	}
	return p.lpSupply, nil
}

// getAmountOut implements the Uniswap v2 output formula:
// out = in*997*reserveOut / (reserveIn*1000 + in*997).
func getAmountOut(amountIn, reserveIn, reserveOut sdkmath.Int) (sdkmath.Int, error) {
	if !amountIn.IsPositive() {
		return sdkmath.ZeroInt(), ErrInsufficientInput
	}
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return sdkmath.ZeroInt(), ErrInsufficientLiquidity
	}
	amountInWithFee := new(big.Int).Mul(amountIn.BigInt(), big.NewInt(997))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut.BigInt())
	denominator := new(big.Int).Mul(reserveIn.BigInt(), big.NewInt(1000))
	denominator.Add(denominator, amountInWithFee)
	return sdkmath.NewIntFromBigInt(numerator.Quo(numerator, denominator)), nil
}

// getAmountIn implements the Uniswap v2 input formula:
// in = reserveIn*out*1000 / ((reserveOut-out)*997) + 1.
func getAmountIn(amountOut, reserveIn, reserveOut sdkmath.Int) (sdkmath.Int, error) {
	if !amountOut.IsPositive() {
		return sdkmath.ZeroInt(), ErrInsufficientOutput
	}
	if !reserveIn.IsPositive() || reserveOut.LTE(amountOut) {
		return sdkmath.ZeroInt(), ErrInsufficientLiquidity
	}
	numerator := new(big.Int).Mul(reserveIn.BigInt(), amountOut.BigInt())
	numerator.Mul(numerator, big.NewInt(1000))
	denominator := new(big.Int).Sub(reserveOut.BigInt(), amountOut.BigInt())
	denominator.Mul(denominator, big.NewInt(997))
	amountIn := numerator.Quo(numerator, denominator)
	amountIn.Add(amountIn, big.NewInt(1))
	return sdkmath.NewIntFromBigInt(amountIn), nil
}

// quote returns the equivalent amount of the other asset at the current
// pair ratio, with no fee applied.
func quote(amountA, reserveA, reserveB sdkmath.Int) (sdkmath.Int, error) {
	if !amountA.IsPositive() {
		return sdkmath.ZeroInt(), ErrInsufficientInput
	}
	if !reserveA.IsPositive() || !reserveB.IsPositive() {
		return sdkmath.ZeroInt(), ErrInsufficientLiquidity
	}
	return utils.MulDiv(amountA, reserveB, reserveA)
}

// GetAmountsOut quotes the output amounts along path for an exact input.
func (a *AMM) GetAmountsOut(amountIn sdkmath.Int, path []string) ([]sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.amountsOut(amountIn, path)
}

func (a *AMM) amountsOut(amountIn sdkmath.Int, path []string) ([]sdkmath.Int, error) {
	if len(path) < 2 {
		return nil, ErrPathInvalid
	}
	amounts := make([]sdkmath.Int, len(path))
	amounts[0] = amountIn
	for i := 0; i < len(path)-1; i++ {
		reserveIn, reserveOut, err := a.reserves(path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		amounts[i+1], err = getAmountOut(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, err
		}
	}
	return amounts, nil
}

// GetAmountsIn quotes the input amounts along path for an exact output.
func (a *AMM) GetAmountsIn(amountOut sdkmath.Int, path []string) ([]sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(path) < 2 {
		return nil, ErrPathInvalid
	}
	amounts := make([]sdkmath.Int, len(path))
	amounts[len(path)-1] = amountOut
	for i := len(path) - 1; i > 0; i-- {
		reserveIn, reserveOut, err := a.reserves(path[i-1], path[i])
		if err != nil {
			return nil, err
		}
		amounts[i-1], err = getAmountIn(amounts[i], reserveIn, reserveOut)
		if err != nil {
			return nil, err
		}
	}
	return amounts, nil
}

// SwapExactTokensForTokens executes a multi-hop swap. The whole path is
// quoted before any funds move, so a slippage rejection leaves no state
// change behind.
func (a *AMM) SwapExactTokensForTokens(from string, amountIn, amountOutMin sdkmath.Int, path []string, to string, deadline time.Time) ([]sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if time.Now().After(deadline) {
		return nil, ErrDeadlineExpired
	}
	amounts, err := a.amountsOut(amountIn, path)
	if err != nil {
		return nil, err
	}
	if amounts[len(amounts)-1].LT(amountOutMin) {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, amounts[len(amounts)-1], amountOutMin)
	}

	sender := from
	for i := 0; i < len(path)-1; i++ {
		p := a.pairs[pairKey(path[i], path[i+1])]
		if err := a.ledger.Transfer(sender, p.account, path[i], amounts[i]); err != nil {
			return nil, err
		}
		recipient := to
		if i < len(path)-2 {
			recipient = a.pairs[pairKey(path[i+1], path[i+2])].account
		}
		if err := a.ledger.Transfer(p.account, recipient, path[i+1], amounts[i+1]); err != nil {
			return nil, err
		}
		sender = recipient
	}
	return amounts, nil
}

// AddLiquidity supplies at the current pair ratio, router-style: the leg that
// binds is used in full and the other leg is scaled down to match.
func (a *AMM) AddLiquidity(from, tokenA, tokenB string, amountA, amountB, amountAMin, amountBMin sdkmath.Int, to string, deadline time.Time) (sdkmath.Int, sdkmath.Int, sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	zero := sdkmath.ZeroInt()
	if time.Now().After(deadline) {
		return zero, zero, zero, ErrDeadlineExpired
	}
	p, ok := a.pairs[pairKey(tokenA, tokenB)]
	if !ok {
		return zero, zero, zero, fmt.Errorf("%w: %s", ErrPairUnknown, pairKey(tokenA, tokenB))
	}
	reserveA, reserveB, err := a.reserves(tokenA, tokenB)
	if err != nil {
		return zero, zero, zero, err
	}

	usedA, usedB := amountA, amountB
	optimalB, err := quote(amountA, reserveA, reserveB)
	if err != nil {
		return zero, zero, zero, err
	}
	if optimalB.LTE(amountB) {
		if optimalB.LT(amountBMin) {
			return zero, zero, zero, fmt.Errorf("%w: token B", ErrInsufficientOutput)
		}
		usedB = optimalB
	} else {
		optimalA, err := quote(amountB, reserveB, reserveA)
		if err != nil {
			return zero, zero, zero, err
		}
		if optimalA.GT(amountA) || optimalA.LT(amountAMin) {
			return zero, zero, zero, fmt.Errorf("%w: token A", ErrInsufficientOutput)
		}
		usedA = optimalA
	}

	liqA, err := utils.MulDiv(usedA, p.lpSupply, reserveA)
	if err != nil {
		return zero, zero, zero, err
	}
	liqB, err := utils.MulDiv(usedB, p.lpSupply, reserveB)
	if err != nil {
		return zero, zero, zero, err
	}
	liquidity := sdkmath.MinInt(liqA, liqB)
	if !liquidity.IsPositive() {
		return zero, zero, zero, ErrInsufficientLiquidity
	}

	if err := a.ledger.Transfer(from, p.account, tokenA, usedA); err != nil {
		return zero, zero, zero, err
	}
	if err := a.ledger.Transfer(from, p.account, tokenB, usedB); err != nil {
		return zero, zero, zero, err
	}
	p.lpSupply = p.lpSupply.Add(liquidity)
	if err := a.ledger.Mint(to, p.lpDenom, liquidity); err != nil {
		return zero, zero, zero, err
	}
	return usedA, usedB, liquidity, nil
}

// RemoveLiquidity burns liquidity tokens and pays out the proportional
// reserves.
func (a *AMM) RemoveLiquidity(from, tokenA, tokenB string, liquidity, amountAMin, amountBMin sdkmath.Int, to string, deadline time.Time) (sdkmath.Int, sdkmath.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	zero := sdkmath.ZeroInt()
	if time.Now().After(deadline) {
		return zero, zero, ErrDeadlineExpired
	}
	p, ok := a.pairs[pairKey(tokenA, tokenB)]
	if !ok {
		return zero, zero, fmt.Errorf("%w: %s", ErrPairUnknown, pairKey(tokenA, tokenB))
	}
	if !liquidity.IsPositive() || liquidity.GT(p.lpSupply) {
		return zero, zero, ErrInsufficientLiquidity
	}
	reserveA, reserveB, err := a.reserves(tokenA, tokenB)
	if err != nil {
		return zero, zero, err
	}
	amountA, err := utils.MulDiv(liquidity, reserveA, p.lpSupply)
	if err != nil {
		return zero, zero, err
	}
	amountB, err := utils.MulDiv(liquidity, reserveB, p.lpSupply)
	if err != nil {
		return zero, zero, err
	}
	if amountA.LT(amountAMin) || amountB.LT(amountBMin) {
		return zero, zero, fmt.Errorf("%w: proceeds below minimum", ErrInsufficientOutput)
	}

	if err := a.ledger.Burn(from, p.lpDenom, liquidity); err != nil {
		return zero, zero, err
	}
	p.lpSupply = p.lpSupply.Sub(liquidity)
	if err := a.ledger.Transfer(p.account, to, tokenA, amountA); err != nil {
		return zero, zero, err
	}
	if err := a.ledger.Transfer(p.account, to, tokenB, amountB); err != nil {
		return zero, zero, err
	}
	return amountA, amountB, nil
}

// snapshot captures pair bookkeeping; reserve balances are restored by the
// ledger's own snapshot.
func (a *AMM) snapshot() func() {
	a.mu.Lock()
	saved := make(map[string]sdkmath.Int, len(a.pairs))
	for key, p := range a.pairs {
		saved[key] = p.lpSupply
	}
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		for key, supply := range saved {
			if p, ok := a.pairs[key]; ok {
				p.lpSupply = supply
			}
		}
		a.mu.Unlock()
	}
}

func minDenom(a, b string) string {
	if a < b {
		return a
	}
	return b
}

func maxDenom(a, b string) string {
	if a < b {
		return b
	}
	return a
}
