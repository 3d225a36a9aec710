package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"collaterallever/native/token"
)

var (
	errNilBank          = errors.New("money market: token bank not configured")
	errUnknownMarket    = errors.New("money market: market not listed")
	errDuplicateMarket  = errors.New("money market: market already listed")
	errInvalidAmount    = errors.New("money market: amount must be positive")
	errInsufficientCash = errors.New("money market: insufficient cash")
	errNoReceipts       = errors.New("money market: nothing to redeem")
	errRepayExceedsDebt = errors.New("money market: repay exceeds outstanding debt")
)

type marketState struct {
	addr       common.Address
	underlying common.Address
	receipts   map[common.Address]*big.Int
	borrows    map[common.Address]*big.Int
}

// Engine is a cToken-style money market over the token bank. Each listed
// market custodies its underlying at the market address; receipts are minted
// one-to-one against supplied underlying. Interest accrual is deliberately
// absent: positions here live for a single open/close round trip.
type Engine struct {
	mu      sync.RWMutex
	bank    *token.Bank
	markets map[common.Address]*marketState
}

// NewEngine constructs an empty money market bound to the bank.
func NewEngine(bank *token.Bank) *Engine {
	return &Engine{bank: bank, markets: make(map[common.Address]*marketState)}
}

// List registers a market token for an underlying asset.
func (e *Engine) List(marketAddr, underlying common.Address) error {
	if e == nil || e.bank == nil {
		return errNilBank
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.markets[marketAddr]; ok {
		return fmt.Errorf("%w: %s", errDuplicateMarket, marketAddr.Hex())
	}
	e.markets[marketAddr] = &marketState{
		addr:       marketAddr,
		underlying: underlying,
		receipts:   make(map[common.Address]*big.Int),
		borrows:    make(map[common.Address]*big.Int),
	}
	return nil
}

// Underlying resolves the asset a market token wraps. This is the probe the
// collateral registry uses to tell genuine market tokens from arbitrary
// addresses.
func (e *Engine) Underlying(marketAddr common.Address) (common.Address, error) {
	if e == nil {
		return common.Address{}, errNilBank
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[marketAddr]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", errUnknownMarket, marketAddr.Hex())
	}
	return m.underlying, nil
}

// Supply moves underlying from the account into the market and mints the
// receipt balance.
func (e *Engine) Supply(account, marketAddr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[marketAddr]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownMarket, marketAddr.Hex())
	}
	if err := e.bank.Transfer(m.underlying, account, m.addr, amount); err != nil {
		return err
	}
	m.receipts[account] = new(big.Int).Add(entry(m.receipts, account), amount)
	return nil
}

// Borrow lends underlying out of the market's cash to the account.
func (e *Engine) Borrow(account, marketAddr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[marketAddr]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownMarket, marketAddr.Hex())
	}
	cash := e.bank.BalanceOf(m.underlying, m.addr)
	if cash.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, requested %s", errInsufficientCash, marketAddr.Hex(), cash, amount)
	}
	if err := e.bank.Transfer(m.underlying, m.addr, account, amount); err != nil {
		return err
	}
	m.borrows[account] = new(big.Int).Add(entry(m.borrows, account), amount)
	return nil
}

// Repay settles up to the account's outstanding debt. Overpayment is
// rejected rather than silently capped so the lever engine's accounting can
// never drift.
func (e *Engine) Repay(account, marketAddr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[marketAddr]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownMarket, marketAddr.Hex())
	}
	debt := entry(m.borrows, account)
	if debt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: debt %s, offered %s", errRepayExceedsDebt, debt, amount)
	}
	if err := e.bank.Transfer(m.underlying, account, m.addr, amount); err != nil {
		return err
	}
	m.borrows[account] = new(big.Int).Sub(debt, amount)
	return nil
}

// RedeemAll burns the account's full receipt balance and returns the
// corresponding underlying. The redeemed amount is reported back.
func (e *Engine) RedeemAll(account, marketAddr common.Address) (*big.Int, error) {
	if e == nil || e.bank == nil {
		return nil, errNilBank
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[marketAddr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownMarket, marketAddr.Hex())
	}
	receipts := entry(m.receipts, account)
	if receipts.Sign() == 0 {
		return nil, errNoReceipts
	}
	cash := e.bank.BalanceOf(m.underlying, m.addr)
	if cash.Cmp(receipts) < 0 {
		return nil, fmt.Errorf("%w: %s has %s, owes %s", errInsufficientCash, marketAddr.Hex(), cash, receipts)
	}
	if err := e.bank.Transfer(m.underlying, m.addr, account, receipts); err != nil {
		return nil, err
	}
	m.receipts[account] = big.NewInt(0)
	return new(big.Int).Set(receipts), nil
}

// ReceiptBalance reads the account's receipt balance for a market.
func (e *Engine) ReceiptBalance(account, marketAddr common.Address) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[marketAddr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(entry(m.receipts, account))
}

// Debt reads the account's outstanding borrow for a market.
func (e *Engine) Debt(account, marketAddr common.Address) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[marketAddr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(entry(m.borrows, account))
}

func entry(m map[common.Address]*big.Int, account common.Address) *big.Int {
	if v, ok := m[account]; ok && v != nil {
		return v
	}
	return big.NewInt(0)
}
