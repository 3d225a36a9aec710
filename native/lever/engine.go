package lever

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"collaterallever/core/events"
	nativecommon "collaterallever/native/common"
)

// engineState is the persistence surface the engine mutates: the collateral
// registry, the position ledger and the module owner slot.
type engineState interface {
	LeverGetOwner() (common.Address, bool, error)
	LeverSetOwner(owner common.Address) error
	LeverRegistryGet(asset common.Address) (common.Address, bool, error)
	LeverRegistryPut(asset, marketToken common.Address) error
	LeverNextPositionID(owner common.Address) (uint64, error)
	LeverGetPosition(owner common.Address, id uint64) (*Position, bool, error)
	LeverPutPosition(position *Position) error
	LeverClearPosition(owner common.Address, id uint64) error
}

// MarketAdapter is the lending-market collaborator. All calls act on the
// engine's custody account.
type MarketAdapter interface {
	Underlying(marketToken common.Address) (common.Address, error)
	Supply(marketToken common.Address, amount *big.Int) error
	Borrow(marketToken common.Address, amount *big.Int) error
	Repay(marketToken common.Address, amount *big.Int) error
	RedeemAll(marketToken common.Address) (*big.Int, error)
}

// SwapAdapter is the AMM collaborator. FlashSwap must invoke the engine's
// OnFlashSwap before returning and verify repayment afterwards.
type SwapAdapter interface {
	Counterparty() common.Address
	AmountIn(assetOut common.Address, amountOut *big.Int) (*big.Int, error)
	SwapExactIn(assetIn common.Address, amountIn *big.Int) (*big.Int, error)
	FlashSwap(assetOut common.Address, amountOut *big.Int, data []byte) error
}

// TokenBank moves principal in and out of the engine's custody.
type TokenBank interface {
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

// pendingSwap is the single pending-operation slot. Exactly one flash swap
// may be in flight per engine invocation; the callback must come from the
// recorded counterparty carrying the recorded payload, which doubles as the
// reentrancy guard.
type pendingSwap struct {
	counterparty common.Address
	payloadHash  common.Hash
	consumed     bool
	unwind       *saga

	// Written by the close callback for the outer call's event.
	payout *big.Int
}

// saga collects compensating actions for completed sub-steps. On the first
// failure the recorded compensations run in reverse order so no partial
// external state survives.
type saga struct {
	steps []func()
}

func (s *saga) push(undo func()) { s.steps = append(s.steps, undo) }

func (s *saga) run() {
	for i := len(s.steps) - 1; i >= 0; i-- {
		s.steps[i]()
	}
	s.steps = nil
}

// Engine orchestrates the leveraged position lifecycle: validation, the
// flash-swap callback protocol against the AMM, the lending-market legs and
// the ledger commit. One invocation is a single logical transaction; any
// failure unwinds to the pre-call state.
type Engine struct {
	mu sync.Mutex

	state         engineState
	moduleAddress common.Address
	market        MarketAdapter
	swap          SwapAdapter
	bank          TokenBank
	emitter       events.Emitter
	pauses        nativecommon.PauseView

	supportedLevers map[uint64]struct{}
	pending         *pendingSwap
}

// NewEngine constructs an engine holding custody at moduleAddr. Levers
// default to DefaultSupportedLevers.
func NewEngine(moduleAddr common.Address) *Engine {
	e := &Engine{
		moduleAddress: moduleAddr,
		emitter:       events.NoopEmitter{},
	}
	e.SetSupportedLevers(DefaultSupportedLevers)
	return e
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdapters wires the external market, swap and token collaborators.
func (e *Engine) SetAdapters(market MarketAdapter, swap SwapAdapter, bank TokenBank) {
	if e == nil {
		return
	}
	e.market = market
	e.swap = swap
	e.bank = bank
}

// SetEmitter configures the event sink. A nil emitter restores the no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires the administrative pause switch.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetSupportedLevers replaces the accepted leverage multiples.
func (e *Engine) SetSupportedLevers(levers []uint64) {
	if e == nil {
		return
	}
	set := make(map[uint64]struct{}, len(levers))
	for _, l := range levers {
		if l >= 2 {
			set[l] = struct{}{}
		}
	}
	e.supportedLevers = set
}

// ModuleAddress returns the engine's custody account.
func (e *Engine) ModuleAddress() common.Address {
	if e == nil {
		return common.Address{}
	}
	return e.moduleAddress
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.market == nil || e.swap == nil || e.bank == nil {
		return errNilAdapters
	}
	return nil
}

// OpenPosition validates the request, pulls the caller's principal into
// custody, flash-borrows the remaining collateral and commits the resulting
// position. The full record is returned on success.
func (e *Engine) OpenPosition(caller, tokenBase, tokenQuote common.Address, investment *big.Int, investmentIsQuote bool, lever uint64, short bool) (*Position, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	if tokenBase == tokenQuote {
		return nil, ErrBaseEqualsQuote
	}
	if investment == nil || investment.Sign() <= 0 {
		return nil, ErrZeroInvestment
	}
	if _, ok := e.supportedLevers[lever]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedLever, lever)
	}
	baseMarket, err := e.resolveMarket(tokenBase)
	if err != nil {
		return nil, err
	}
	quoteMarket, err := e.resolveMarket(tokenQuote)
	if err != nil {
		return nil, err
	}

	collateralAsset, borrowAsset := tokenBase, tokenQuote
	collateralMarket, borrowMarket := baseMarket, quoteMarket
	if short {
		collateralAsset, borrowAsset = tokenQuote, tokenBase
		collateralMarket, borrowMarket = quoteMarket, baseMarket
	}
	investAsset := tokenBase
	if investmentIsQuote {
		investAsset = tokenQuote
	}

	unwind := &saga{}
	if err := e.bank.Transfer(investAsset, caller, e.moduleAddress, investment); err != nil {
		return nil, wrapExternal(err)
	}
	unwind.push(func() {
		_ = e.bank.Transfer(investAsset, e.moduleAddress, caller, investment)
	})

	// Principal paid in the borrow-side asset is converted to the collateral
	// asset at spot before the leverage math.
	principal := investment
	if investAsset != collateralAsset {
		converted, err := e.swap.SwapExactIn(investAsset, investment)
		if err != nil {
			unwind.run()
			return nil, wrapExternal(err)
		}
		// Replace the refund: after conversion the custody holds collateral
		// asset, so compensation swaps it back before returning it.
		unwind.steps = nil
		unwind.push(func() {
			if back, err := e.swap.SwapExactIn(collateralAsset, converted); err == nil {
				_ = e.bank.Transfer(investAsset, e.moduleAddress, caller, back)
			}
		})
		principal = converted
	}

	totalCollateral := new(big.Int).Mul(principal, new(big.Int).SetUint64(lever))
	flashPortion := new(big.Int).Mul(principal, new(big.Int).SetUint64(lever-1))

	// Repayment owed to the pair for the flash-delivered portion, quoted in
	// the borrow asset and rounded up. Reserves cannot move before the swap:
	// the engine lock is held for the whole invocation.
	repayment, err := e.swap.AmountIn(collateralAsset, flashPortion)
	if err != nil {
		unwind.run()
		return nil, wrapExternal(err)
	}
	id, err := e.state.LeverNextPositionID(caller)
	if err != nil {
		unwind.run()
		return nil, err
	}
	position := &Position{
		ID:               id,
		Owner:            caller,
		CollateralMarket: collateralMarket,
		BorrowMarket:     borrowMarket,
		CollateralAmount: totalCollateral,
		BorrowedAmount:   repayment,
		Short:            short,
	}
	// The ledger commit precedes the flash swap: once the pair's legs are
	// final nothing is left to fail, and any earlier failure clears the
	// record with the rest of the saga.
	if err := e.state.LeverPutPosition(position); err != nil {
		unwind.run()
		return nil, err
	}
	unwind.push(func() {
		_ = e.state.LeverClearPosition(caller, id)
	})

	payload := &callbackPayload{
		Op:               opOpen,
		Owner:            caller,
		CollateralMarket: collateralMarket,
		BorrowMarket:     borrowMarket,
		CollateralAsset:  collateralAsset,
		BorrowAsset:      borrowAsset,
		Amount:           totalCollateral,
		Repayment:        repayment,
		PositionID:       id,
		Short:            short,
	}
	_, encoded, err := e.arm(payload, unwind)
	if err != nil {
		unwind.run()
		return nil, err
	}
	defer e.disarm()

	if err := e.swap.FlashSwap(collateralAsset, flashPortion, encoded); err != nil {
		unwind.run()
		return nil, wrapExternal(err)
	}

	e.emitter.Emit(newPositionEvent(EventTypePositionOpened, position))
	return position.Clone(), nil
}

// ClosePosition unwinds the identified position: the borrow-asset debt is
// flash-borrowed and repaid, the collateral redeemed, the pair settled and
// the remainder remitted to the owner. The slot is overwritten with the
// absent sentinel.
func (e *Engine) ClosePosition(caller common.Address, id uint64) (*Position, error) {
	if e == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	position, ok, err := e.state.LeverGetPosition(caller, id)
	if err != nil {
		return nil, err
	}
	if !ok || position.Absent() || position.Owner != caller {
		return nil, ErrNotOwnerOfPosition
	}

	collateralAsset, err := e.market.Underlying(position.CollateralMarket)
	if err != nil {
		return nil, wrapExternal(err)
	}
	borrowAsset, err := e.market.Underlying(position.BorrowMarket)
	if err != nil {
		return nil, wrapExternal(err)
	}

	unwind := &saga{}
	// Clear the slot ahead of the flash swap, mirroring the open side: the
	// ledger write is the only fallible commit step, so it runs first and is
	// restored by the saga if anything after it fails.
	if err := e.state.LeverClearPosition(caller, id); err != nil {
		return nil, err
	}
	restored := position.Clone()
	unwind.push(func() {
		_ = e.state.LeverPutPosition(restored)
	})

	payload := &callbackPayload{
		Op:               opClose,
		Owner:            caller,
		CollateralMarket: position.CollateralMarket,
		BorrowMarket:     position.BorrowMarket,
		CollateralAsset:  collateralAsset,
		BorrowAsset:      borrowAsset,
		Amount:           position.BorrowedAmount,
		Repayment:        big.NewInt(0),
		PositionID:       id,
		Short:            position.Short,
	}
	pending, encoded, err := e.arm(payload, unwind)
	if err != nil {
		unwind.run()
		return nil, err
	}
	defer e.disarm()

	if err := e.swap.FlashSwap(borrowAsset, position.BorrowedAmount, encoded); err != nil {
		unwind.run()
		return nil, wrapExternal(err)
	}

	evt := newPositionEvent(EventTypePositionClosed, position)
	evt.Attributes["payout"] = amountString(pending.payout)
	e.emitter.Emit(evt)
	return position.Clone(), nil
}

// OnFlashSwap is the mid-swap re-entry point. It runs nested inside
// OpenPosition/ClosePosition (which hold the engine lock), so it takes no
// lock itself. Callbacks that do not match the pending operation slot are
// rejected outright.
func (e *Engine) OnFlashSwap(caller common.Address, asset common.Address, amount *big.Int, data []byte) error {
	if e == nil {
		return ErrUnauthorizedCallback
	}
	pending := e.pending
	if pending == nil || pending.consumed {
		return ErrUnauthorizedCallback
	}
	if caller != pending.counterparty {
		return ErrUnauthorizedCallback
	}
	if ethcrypto.Keccak256Hash(data) != pending.payloadHash {
		return ErrUnauthorizedCallback
	}
	pending.consumed = true

	payload := &callbackPayload{}
	if err := rlp.DecodeBytes(data, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorizedCallback, err)
	}
	var settleErr error
	switch payload.Op {
	case opOpen:
		settleErr = e.settleOpen(pending, payload, amount)
	case opClose:
		settleErr = e.settleClose(pending, payload, amount)
	default:
		settleErr = ErrUnauthorizedCallback
	}
	if settleErr != nil {
		// Compensate before returning so the counterparty can reclaim its
		// delivery from an intact custody balance. The outer operation's
		// rerun of the saga is then a no-op.
		pending.unwind.run()
	}
	return settleErr
}

// settleOpen runs inside the open flash swap: supply the full collateral,
// borrow the repayment in the borrow asset, pay the pair. Each completed leg
// registers its compensation with the pending saga; a failure here aborts
// the outer swap and the caller unwinds.
func (e *Engine) settleOpen(pending *pendingSwap, payload *callbackPayload, _ *big.Int) error {
	if err := e.market.Supply(payload.CollateralMarket, payload.Amount); err != nil {
		return wrapExternal(err)
	}
	pending.unwind.push(func() {
		_, _ = e.market.RedeemAll(payload.CollateralMarket)
	})

	// The repayment owed to the pair was quoted by the outer call against the
	// same reserves and already written to the ledger record; borrowing the
	// payload copy keeps the record and the debt identical.
	if err := e.market.Borrow(payload.BorrowMarket, payload.Repayment); err != nil {
		return wrapExternal(err)
	}
	pending.unwind.push(func() {
		_ = e.market.Repay(payload.BorrowMarket, payload.Repayment)
	})
	if err := e.bank.Transfer(payload.BorrowAsset, e.moduleAddress, pending.counterparty, payload.Repayment); err != nil {
		return wrapExternal(err)
	}
	return nil
}

// settleClose runs inside the close flash swap: repay the market debt with
// the delivered borrow asset, redeem all collateral, settle the pair in
// collateral and remit the remainder to the owner.
func (e *Engine) settleClose(pending *pendingSwap, payload *callbackPayload, delivered *big.Int) error {
	if err := e.market.Repay(payload.BorrowMarket, delivered); err != nil {
		return wrapExternal(err)
	}
	pending.unwind.push(func() {
		_ = e.market.Borrow(payload.BorrowMarket, delivered)
	})

	redeemed, err := e.market.RedeemAll(payload.CollateralMarket)
	if err != nil {
		return wrapExternal(err)
	}
	pending.unwind.push(func() {
		_ = e.market.Supply(payload.CollateralMarket, redeemed)
	})

	repayment, err := e.swap.AmountIn(payload.BorrowAsset, delivered)
	if err != nil {
		return wrapExternal(err)
	}
	if redeemed.Cmp(repayment) < 0 {
		return fmt.Errorf("%w: redeemed %s, owed %s", ErrInsufficientCollateral, redeemed, repayment)
	}
	if err := e.bank.Transfer(payload.CollateralAsset, e.moduleAddress, pending.counterparty, repayment); err != nil {
		return wrapExternal(err)
	}

	payout := new(big.Int).Sub(redeemed, repayment)
	if payout.Sign() > 0 {
		if err := e.bank.Transfer(payload.CollateralAsset, e.moduleAddress, payload.Owner, payout); err != nil {
			return wrapExternal(err)
		}
	}
	pending.payout = payout
	return nil
}

// arm records the pending operation slot for the upcoming flash swap.
func (e *Engine) arm(payload *callbackPayload, unwind *saga) (*pendingSwap, []byte, error) {
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, nil, err
	}
	pending := &pendingSwap{
		counterparty: e.swap.Counterparty(),
		payloadHash:  ethcrypto.Keccak256Hash(encoded),
		unwind:       unwind,
	}
	e.pending = pending
	return pending, encoded, nil
}

func (e *Engine) disarm() { e.pending = nil }

func (e *Engine) resolveMarket(asset common.Address) (common.Address, error) {
	marketToken, ok, err := e.state.LeverRegistryGet(asset)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	return marketToken, nil
}

func wrapExternal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExternalCall) || errors.Is(err, ErrUnauthorizedCallback) ||
		errors.Is(err, ErrInsufficientCollateral) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrExternalCall, err)
}
