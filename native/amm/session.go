package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Session binds a pair to one custody account and one flash borrower so the
// lever engine can consume the pair through its narrow swap interface without
// threading addresses through every call.
type Session struct {
	pair     *Pair
	account  common.Address
	borrower FlashBorrower
}

// NewSession constructs a session for the given custody account. Flash-swap
// callbacks are routed to the supplied borrower.
func NewSession(pair *Pair, account common.Address, borrower FlashBorrower) *Session {
	return &Session{pair: pair, account: account, borrower: borrower}
}

// Counterparty identifies the pair address the borrower should expect
// callbacks from.
func (s *Session) Counterparty() common.Address {
	if s == nil || s.pair == nil {
		return common.Address{}
	}
	return s.pair.Address()
}

// AmountIn proxies the pair's repayment quote.
func (s *Session) AmountIn(assetOut common.Address, amountOut *big.Int) (*big.Int, error) {
	if s == nil || s.pair == nil {
		return nil, errNilBank
	}
	return s.pair.AmountIn(assetOut, amountOut)
}

// AmountOut proxies the pair's spot quote.
func (s *Session) AmountOut(assetIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if s == nil || s.pair == nil {
		return nil, errNilBank
	}
	return s.pair.AmountOut(assetIn, amountIn)
}

// SwapExactIn trades from the session account at the current price.
func (s *Session) SwapExactIn(assetIn common.Address, amountIn *big.Int) (*big.Int, error) {
	if s == nil || s.pair == nil {
		return nil, errNilBank
	}
	return s.pair.SwapExactIn(s.account, assetIn, amountIn)
}

// FlashSwap initiates a flash delivery to the session account with the
// session borrower receiving the callback.
func (s *Session) FlashSwap(assetOut common.Address, amountOut *big.Int, data []byte) error {
	if s == nil || s.pair == nil {
		return errNilBank
	}
	return s.pair.FlashSwap(s.borrower, s.account, assetOut, amountOut, data)
}
