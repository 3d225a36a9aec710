package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errUnknownAsset    = errors.New("token bank: asset not registered")
	errInvalidAmount   = errors.New("token bank: amount must be positive")
	errInsufficientBal = errors.New("token bank: insufficient balance")
	errDuplicateAsset  = errors.New("token bank: asset already registered")
)

// Asset describes one fungible token tracked by the bank.
type Asset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

type assetState struct {
	meta     Asset
	balances map[common.Address]*big.Int
}

// Bank is the in-process fungible token layer. Every collaborator (money
// market, AMM pair, lever engine custody) moves value through it, so a failed
// operation can be reversed by the inverse transfer.
type Bank struct {
	mu     sync.RWMutex
	assets map[common.Address]*assetState
}

// NewBank constructs an empty token bank.
func NewBank() *Bank {
	return &Bank{assets: make(map[common.Address]*assetState)}
}

// Register lists a new asset. Registering the same address twice fails.
func (b *Bank) Register(meta Asset) error {
	if b == nil {
		return errUnknownAsset
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.assets[meta.Address]; ok {
		return fmt.Errorf("%w: %s", errDuplicateAsset, meta.Address.Hex())
	}
	b.assets[meta.Address] = &assetState{
		meta:     meta,
		balances: make(map[common.Address]*big.Int),
	}
	return nil
}

// Mint credits newly created units to the holder. Used by genesis bootstrap
// and tests; there is no burn path because nothing in the service destroys
// supply.
func (b *Bank) Mint(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.assets[asset]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownAsset, asset.Hex())
	}
	state.balances[holder] = new(big.Int).Add(balanceOf(state, holder), amount)
	return nil
}

// Transfer moves amount of asset between two holders.
func (b *Bank) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.assets[asset]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownAsset, asset.Hex())
	}
	fromBal := balanceOf(state, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", errInsufficientBal, from.Hex(), fromBal, amount)
	}
	state.balances[from] = new(big.Int).Sub(fromBal, amount)
	state.balances[to] = new(big.Int).Add(balanceOf(state, to), amount)
	return nil
}

// BalanceOf returns the holder's balance. Unknown assets and holders read as
// zero.
func (b *Bank) BalanceOf(asset, holder common.Address) *big.Int {
	if b == nil {
		return big.NewInt(0)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	state, ok := b.assets[asset]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balanceOf(state, holder))
}

// Lookup returns the asset metadata when registered.
func (b *Bank) Lookup(asset common.Address) (Asset, bool) {
	if b == nil {
		return Asset{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	state, ok := b.assets[asset]
	if !ok {
		return Asset{}, false
	}
	return state.meta, true
}

func balanceOf(state *assetState, holder common.Address) *big.Int {
	if bal, ok := state.balances[holder]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}
