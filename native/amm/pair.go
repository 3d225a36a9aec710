package amm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"collaterallever/native/token"
)

var (
	errNilBank               = errors.New("amm pair: token bank not configured")
	errUnknownAsset          = errors.New("amm pair: asset not part of pair")
	errInvalidAmount         = errors.New("amm pair: amount must be positive")
	errInsufficientLiquidity = errors.New("amm pair: insufficient liquidity")
	errKInvariant            = errors.New("amm pair: constant product invariant violated")
)

// Fee schedule of the pair: 0.3% taken on every input amount, expressed as
// the 997/1000 factor used by the swap formulas.
var (
	feeNumerator   = big.NewInt(997)
	feeDenominator = big.NewInt(1000)
)

// FlashBorrower receives the mid-swap callback. The delivered tokens are
// already credited to the recipient when the callback runs; the borrower must
// arrange repayment (principal plus fee) before returning, or the whole swap
// is unwound.
type FlashBorrower interface {
	OnFlashSwap(caller common.Address, asset common.Address, amount *big.Int, data []byte) error
}

// Pair is a two-asset constant-product market. Reserves track the pair
// address's bank balances and are re-synced after every successful swap.
type Pair struct {
	addr     common.Address
	token0   common.Address
	token1   common.Address
	reserve0 *big.Int
	reserve1 *big.Int
	bank     *token.Bank
}

// NewPair constructs a pair over the two assets. Token ordering is
// normalised by address so callers may pass the assets either way around.
func NewPair(bank *token.Bank, addr, tokenA, tokenB common.Address) *Pair {
	token0, token1 := tokenA, tokenB
	if bytes.Compare(token0.Bytes(), token1.Bytes()) > 0 {
		token0, token1 = token1, token0
	}
	return &Pair{
		addr:     addr,
		token0:   token0,
		token1:   token1,
		reserve0: big.NewInt(0),
		reserve1: big.NewInt(0),
		bank:     bank,
	}
}

// Address returns the pair's custody address, which is also the identity a
// flash borrower sees as the callback caller.
func (p *Pair) Address() common.Address { return p.addr }

// Tokens returns the pair's assets in canonical order.
func (p *Pair) Tokens() (common.Address, common.Address) { return p.token0, p.token1 }

// Sync refreshes the cached reserves from the bank balances. Called after
// liquidity is seeded and at the end of every successful swap.
func (p *Pair) Sync() {
	if p == nil || p.bank == nil {
		return
	}
	p.reserve0 = p.bank.BalanceOf(p.token0, p.addr)
	p.reserve1 = p.bank.BalanceOf(p.token1, p.addr)
}

// Reserves reports the cached reserves in canonical token order.
func (p *Pair) Reserves() (*big.Int, *big.Int) {
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1)
}

func (p *Pair) orient(assetOut common.Address) (reserveOut, reserveIn *big.Int, assetIn common.Address, err error) {
	switch assetOut {
	case p.token0:
		return p.reserve0, p.reserve1, p.token1, nil
	case p.token1:
		return p.reserve1, p.reserve0, p.token0, nil
	default:
		return nil, nil, common.Address{}, fmt.Errorf("%w: %s", errUnknownAsset, assetOut.Hex())
	}
}

// AmountIn returns how much of the opposite asset must be paid to take
// amountOut of assetOut, fee included. The division rounds down and one
// smallest unit is added back, so the result always favours the pair.
func (p *Pair) AmountIn(assetOut common.Address, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	reserveOut, reserveIn, _, err := p.orient(assetOut)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, errInsufficientLiquidity
	}
	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, feeDenominator)
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, feeNumerator)
	amountIn := numerator.Quo(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}

// AmountOut returns how much of the opposite asset amountIn of assetIn buys,
// after the fee. Rounds down, again in the pair's favour.
func (p *Pair) AmountOut(assetIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	reserveIn, reserveOut, _, err := p.orient(assetIn)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, errInsufficientLiquidity
	}
	inWithFee := new(big.Int).Mul(amountIn, feeNumerator)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, feeDenominator)
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator), nil
}

// SwapExactIn trades amountIn of assetIn held by account for the opposite
// asset at the current price. Used for spot conversion of principal; flash
// settlement goes through FlashSwap.
func (p *Pair) SwapExactIn(account, assetIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if p == nil || p.bank == nil {
		return nil, errNilBank
	}
	amountOut, err := p.AmountOut(assetIn, amountIn)
	if err != nil {
		return nil, err
	}
	if amountOut.Sign() == 0 {
		return nil, errInsufficientLiquidity
	}
	_, _, assetOut, err := p.orient(assetIn)
	if err != nil {
		return nil, err
	}
	if err := p.bank.Transfer(assetIn, account, p.addr, amountIn); err != nil {
		return nil, err
	}
	if err := p.bank.Transfer(assetOut, p.addr, account, amountOut); err != nil {
		// Undo the inbound leg so a failed trade leaves balances untouched.
		_ = p.bank.Transfer(assetIn, p.addr, account, amountIn)
		return nil, err
	}
	p.Sync()
	return amountOut, nil
}

// FlashSwap delivers amountOut of assetOut to the recipient, invokes the
// borrower callback, and then verifies the fee-adjusted constant-product
// invariant against live balances. Any callback error or missing repayment
// unwinds the pair's own transfers and fails the whole call.
func (p *Pair) FlashSwap(to FlashBorrower, recipient, assetOut common.Address, amountOut *big.Int, data []byte) error {
	if p == nil || p.bank == nil {
		return errNilBank
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return errInvalidAmount
	}
	reserveOut, _, _, err := p.orient(assetOut)
	if err != nil {
		return err
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return errInsufficientLiquidity
	}
	if err := p.bank.Transfer(assetOut, p.addr, recipient, amountOut); err != nil {
		return err
	}
	if to != nil {
		if err := to.OnFlashSwap(p.addr, assetOut, amountOut, data); err != nil {
			// The borrower unwound its own steps; reclaim the delivery.
			_ = p.bank.Transfer(assetOut, recipient, p.addr, amountOut)
			return err
		}
	}
	if err := p.checkInvariant(assetOut, amountOut); err != nil {
		p.refundAfterFailedSwap(recipient, assetOut, amountOut)
		return err
	}
	p.Sync()
	return nil
}

// checkInvariant mirrors the Uniswap V2 settlement rule: after the callback,
// balances adjusted for the 0.3% input fee must preserve the product of the
// pre-swap reserves.
func (p *Pair) checkInvariant(assetOut common.Address, amountOut *big.Int) error {
	balance0 := p.bank.BalanceOf(p.token0, p.addr)
	balance1 := p.bank.BalanceOf(p.token1, p.addr)

	out0, out1 := big.NewInt(0), big.NewInt(0)
	if assetOut == p.token0 {
		out0 = amountOut
	} else {
		out1 = amountOut
	}
	in0 := inboundAmount(balance0, p.reserve0, out0)
	in1 := inboundAmount(balance1, p.reserve1, out1)
	if in0.Sign() == 0 && in1.Sign() == 0 {
		return errKInvariant
	}

	adjusted0 := adjustedBalance(balance0, in0)
	adjusted1 := adjustedBalance(balance1, in1)
	required := new(big.Int).Mul(p.reserve0, p.reserve1)
	required.Mul(required, new(big.Int).Mul(feeDenominator, feeDenominator))
	if new(big.Int).Mul(adjusted0, adjusted1).Cmp(required) < 0 {
		return errKInvariant
	}
	return nil
}

// refundAfterFailedSwap returns any repayment to the recipient and reclaims
// the delivered output so a rejected settlement leaves no trace.
func (p *Pair) refundAfterFailedSwap(recipient, assetOut common.Address, amountOut *big.Int) {
	balance0 := p.bank.BalanceOf(p.token0, p.addr)
	balance1 := p.bank.BalanceOf(p.token1, p.addr)
	out0, out1 := big.NewInt(0), big.NewInt(0)
	if assetOut == p.token0 {
		out0 = amountOut
	} else {
		out1 = amountOut
	}
	if in0 := inboundAmount(balance0, p.reserve0, out0); in0.Sign() > 0 {
		_ = p.bank.Transfer(p.token0, p.addr, recipient, in0)
	}
	if in1 := inboundAmount(balance1, p.reserve1, out1); in1.Sign() > 0 {
		_ = p.bank.Transfer(p.token1, p.addr, recipient, in1)
	}
	_ = p.bank.Transfer(assetOut, recipient, p.addr, amountOut)
}

func inboundAmount(balance, reserve, out *big.Int) *big.Int {
	floor := new(big.Int).Sub(reserve, out)
	if balance.Cmp(floor) <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(balance, floor)
}

func adjustedBalance(balance, in *big.Int) *big.Int {
	adjusted := new(big.Int).Mul(balance, feeDenominator)
	fee := new(big.Int).Mul(in, big.NewInt(3))
	return adjusted.Sub(adjusted, fee)
}
