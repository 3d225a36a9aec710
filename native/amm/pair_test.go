package amm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"collaterallever/native/token"
)

func addr(suffix byte) common.Address {
	var a common.Address
	a[19] = suffix
	return a
}

var (
	pairAddr = addr(0x02)
	tokenA   = addr(0x10)
	tokenB   = addr(0x20)
	trader   = addr(0xB0)
)

func newTestPair(t *testing.T, reserveA, reserveB int64) (*Pair, *token.Bank) {
	t.Helper()
	bank := token.NewBank()
	require.NoError(t, bank.Register(token.Asset{Address: tokenA, Symbol: "AAA", Decimals: 18}))
	require.NoError(t, bank.Register(token.Asset{Address: tokenB, Symbol: "BBB", Decimals: 18}))
	pair := NewPair(bank, pairAddr, tokenA, tokenB)
	require.NoError(t, bank.Mint(tokenA, pairAddr, big.NewInt(reserveA)))
	require.NoError(t, bank.Mint(tokenB, pairAddr, big.NewInt(reserveB)))
	pair.Sync()
	return pair, bank
}

func TestAmountInRoundsUp(t *testing.T) {
	pair, _ := newTestPair(t, 1_000_000, 1_000_000)

	amountIn, err := pair.AmountIn(tokenA, big.NewInt(1_000))
	require.NoError(t, err)
	// 1_000_000*1000*1000 / (999_000*997) rounds down to 1004; the extra
	// unit keeps the invariant on the pair's side.
	require.Equal(t, big.NewInt(1_005), amountIn)
}

func TestAmountInRejectsDrainingReserve(t *testing.T) {
	pair, _ := newTestPair(t, 1_000, 1_000)

	_, err := pair.AmountIn(tokenA, big.NewInt(1_000))
	require.ErrorIs(t, err, errInsufficientLiquidity)
}

func TestSwapExactIn(t *testing.T) {
	pair, bank := newTestPair(t, 1_000_000, 1_000_000)
	require.NoError(t, bank.Mint(tokenA, trader, big.NewInt(10_000)))

	quoted, err := pair.AmountOut(tokenA, big.NewInt(1_000))
	require.NoError(t, err)

	out, err := pair.SwapExactIn(trader, tokenA, big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, quoted, out)
	require.Equal(t, big.NewInt(9_000), bank.BalanceOf(tokenA, trader))
	require.Equal(t, out, bank.BalanceOf(tokenB, trader))

	// Reserves follow the balances.
	r0, r1 := pair.Reserves()
	require.Equal(t, bank.BalanceOf(pair.token0, pairAddr), r0)
	require.Equal(t, bank.BalanceOf(pair.token1, pairAddr), r1)
}

type repayingBorrower struct {
	bank    *token.Bank
	pair    *Pair
	account common.Address
	fail    bool
	repay   bool
}

func (b *repayingBorrower) OnFlashSwap(caller common.Address, asset common.Address, amount *big.Int, data []byte) error {
	if b.fail {
		return errors.New("borrower declined")
	}
	if !b.repay {
		return nil
	}
	// Pay back in the opposite token at the quoted price.
	other := tokenB
	if asset == tokenB {
		other = tokenA
	}
	owed, err := b.pair.AmountIn(asset, amount)
	if err != nil {
		return err
	}
	return b.bank.Transfer(other, b.account, caller, owed)
}

func TestFlashSwapSettles(t *testing.T) {
	pair, bank := newTestPair(t, 1_000_000, 1_000_000)
	borrower := &repayingBorrower{bank: bank, pair: pair, account: trader, repay: true}
	require.NoError(t, bank.Mint(tokenB, trader, big.NewInt(10_000)))

	require.NoError(t, pair.FlashSwap(borrower, trader, tokenA, big.NewInt(1_000), nil))

	require.Equal(t, big.NewInt(1_000), bank.BalanceOf(tokenA, trader))
	r0, r1 := pair.Reserves()
	require.Equal(t, bank.BalanceOf(pair.token0, pairAddr), r0)
	require.Equal(t, bank.BalanceOf(pair.token1, pairAddr), r1)
}

func TestFlashSwapCallbackErrorReclaimsDelivery(t *testing.T) {
	pair, bank := newTestPair(t, 1_000_000, 1_000_000)
	borrower := &repayingBorrower{bank: bank, pair: pair, account: trader, fail: true}

	err := pair.FlashSwap(borrower, trader, tokenA, big.NewInt(1_000), nil)
	require.Error(t, err)
	require.Zero(t, bank.BalanceOf(tokenA, trader).Sign())
	require.Equal(t, big.NewInt(1_000_000), bank.BalanceOf(tokenA, pairAddr))
}

func TestFlashSwapWithoutRepaymentFailsInvariant(t *testing.T) {
	pair, bank := newTestPair(t, 1_000_000, 1_000_000)
	borrower := &repayingBorrower{bank: bank, pair: pair, account: trader, repay: false}

	err := pair.FlashSwap(borrower, trader, tokenA, big.NewInt(1_000), nil)
	require.ErrorIs(t, err, errKInvariant)
	// The delivery was clawed back.
	require.Zero(t, bank.BalanceOf(tokenA, trader).Sign())
	require.Equal(t, big.NewInt(1_000_000), bank.BalanceOf(tokenA, pairAddr))
}

func TestCanonicalTokenOrdering(t *testing.T) {
	bank := token.NewBank()
	forward := NewPair(bank, pairAddr, tokenA, tokenB)
	reversed := NewPair(bank, pairAddr, tokenB, tokenA)

	f0, f1 := forward.Tokens()
	r0, r1 := reversed.Tokens()
	require.Equal(t, f0, r0)
	require.Equal(t, f1, r1)
}
