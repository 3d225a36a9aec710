package lever

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "collaterallever/native/common"
)

// Owner returns the current module owner. The zero address means ownership
// was never bootstrapped.
func (e *Engine) Owner() (common.Address, error) {
	if e == nil || e.state == nil {
		return common.Address{}, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	owner, _, err := e.state.LeverGetOwner()
	return owner, err
}

// BootstrapOwner installs the initial module owner. It is a no-op once an
// owner exists; genesis wiring calls it exactly once.
func (e *Engine) BootstrapOwner(owner common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok, err := e.state.LeverGetOwner()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return e.state.LeverSetOwner(owner)
}

// TransferOwnership hands the registry admin role to next. Only the current
// owner may call it.
func (e *Engine) TransferOwnership(caller, next common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	owner, ok, err := e.state.LeverGetOwner()
	if err != nil {
		return err
	}
	if !ok || caller != owner {
		return ErrNotOwner
	}
	if err := e.state.LeverSetOwner(next); err != nil {
		return err
	}
	e.emitter.Emit(newOwnershipTransferredEvent(owner, next))
	return nil
}

// Register maps an asset to its lending-market token. The candidate is
// probed for an underlying asset before acceptance; re-registering an asset
// overwrites the previous mapping.
func (e *Engine) Register(caller, asset, marketToken common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.market == nil {
		return errNilAdapters
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	owner, ok, err := e.state.LeverGetOwner()
	if err != nil {
		return err
	}
	if !ok || caller != owner {
		return ErrNotOwner
	}
	underlying, err := e.market.Underlying(marketToken)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidMarketToken, marketToken.Hex())
	}
	if underlying != asset {
		return fmt.Errorf("%w: %s wraps %s, not %s", ErrInvalidMarketToken, marketToken.Hex(), underlying.Hex(), asset.Hex())
	}
	if err := e.state.LeverRegistryPut(asset, marketToken); err != nil {
		return err
	}
	e.emitter.Emit(newMarketRegisteredEvent(asset, marketToken))
	return nil
}

// LookupMarket returns the market token registered for asset, or false when
// the asset is unsupported.
func (e *Engine) LookupMarket(asset common.Address) (common.Address, bool, error) {
	if e == nil || e.state == nil {
		return common.Address{}, false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.LeverRegistryGet(asset)
}
