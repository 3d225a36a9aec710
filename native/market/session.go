package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Session binds the money market to one custody account, giving the lever
// engine the adapter shape it consumes without carrying its own address into
// every call.
type Session struct {
	eng     *Engine
	account common.Address
}

// Session returns a view of the market acting on behalf of account.
func (e *Engine) Session(account common.Address) *Session {
	return &Session{eng: e, account: account}
}

// Underlying proxies the market-token probe.
func (s *Session) Underlying(marketAddr common.Address) (common.Address, error) {
	if s == nil || s.eng == nil {
		return common.Address{}, errNilBank
	}
	return s.eng.Underlying(marketAddr)
}

// Supply deposits from the session account.
func (s *Session) Supply(marketAddr common.Address, amount *big.Int) error {
	if s == nil || s.eng == nil {
		return errNilBank
	}
	return s.eng.Supply(s.account, marketAddr, amount)
}

// Borrow draws down to the session account.
func (s *Session) Borrow(marketAddr common.Address, amount *big.Int) error {
	if s == nil || s.eng == nil {
		return errNilBank
	}
	return s.eng.Borrow(s.account, marketAddr, amount)
}

// Repay settles debt from the session account.
func (s *Session) Repay(marketAddr common.Address, amount *big.Int) error {
	if s == nil || s.eng == nil {
		return errNilBank
	}
	return s.eng.Repay(s.account, marketAddr, amount)
}

// RedeemAll burns the session account's receipts for underlying.
func (s *Session) RedeemAll(marketAddr common.Address) (*big.Int, error) {
	if s == nil || s.eng == nil {
		return nil, errNilBank
	}
	return s.eng.RedeemAll(s.account, marketAddr)
}
