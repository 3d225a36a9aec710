package lever

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position records one open leveraged exposure. The zero value is the
// "absent" sentinel: id 0, zero markets, zero amounts. A closed position's
// ledger slot reads back as this sentinel, indistinguishable from one that
// never existed.
type Position struct {
	// ID is the per-owner sequence number, assigned from 1 upwards and never
	// reused. A gap in the sequence marks a closed position.
	ID uint64
	// Owner is the account that opened the position. Set once at insert.
	Owner common.Address
	// CollateralMarket wraps the asset held as collateral.
	CollateralMarket common.Address
	// BorrowMarket wraps the asset borrowed against it.
	BorrowMarket common.Address
	// CollateralAmount is the supplied collateral in underlying units
	// (principal times leverage).
	CollateralAmount *big.Int
	// BorrowedAmount is the outstanding borrow-asset debt.
	BorrowedAmount *big.Int
	// Short fixes which of base/quote is collateral versus borrowed.
	Short bool
}

// Absent reports whether the record is the zero sentinel.
func (p *Position) Absent() bool {
	if p == nil {
		return true
	}
	return p.ID == 0 && p.CollateralMarket == (common.Address{}) && p.BorrowMarket == (common.Address{})
}

// Clone returns a deep copy so ledger callers cannot mutate stored amounts.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.CollateralAmount != nil {
		clone.CollateralAmount = new(big.Int).Set(p.CollateralAmount)
	}
	if p.BorrowedAmount != nil {
		clone.BorrowedAmount = new(big.Int).Set(p.BorrowedAmount)
	}
	return &clone
}

// Flash-swap payload operation kinds.
const (
	opOpen  = uint8(1)
	opClose = uint8(2)
)

// callbackPayload travels through the flash swap verbatim and is handed back
// to the engine mid-swap. It is RLP-encoded and integrity-checked by hash
// against the pending operation slot.
type callbackPayload struct {
	Op               uint8
	Owner            common.Address
	CollateralMarket common.Address
	BorrowMarket     common.Address
	CollateralAsset  common.Address
	BorrowAsset      common.Address
	// Amount carries the total collateral to supply (open) or the borrow
	// debt to repay (close).
	Amount *big.Int
	// Repayment is the pre-quoted amount owed back to the pair on open,
	// matching the committed ledger record. Zero on close, where the owed
	// amount is quoted against the redeemed collateral mid-swap.
	Repayment  *big.Int
	PositionID uint64
	Short      bool
}
