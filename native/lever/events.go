package lever

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"collaterallever/core/events"
)

const (
	EventTypeMarketRegistered     = "lever.market.registered"
	EventTypePositionOpened       = "lever.position.opened"
	EventTypePositionClosed       = "lever.position.closed"
	EventTypeOwnershipTransferred = "lever.ownership.transferred"
)

func newMarketRegisteredEvent(asset, marketToken common.Address) events.Event {
	return events.Event{
		Type: EventTypeMarketRegistered,
		Attributes: map[string]string{
			"asset":       asset.Hex(),
			"marketToken": marketToken.Hex(),
		},
	}
}

func newOwnershipTransferredEvent(previous, next common.Address) events.Event {
	return events.Event{
		Type: EventTypeOwnershipTransferred,
		Attributes: map[string]string{
			"previousOwner": previous.Hex(),
			"newOwner":      next.Hex(),
		},
	}
}

func newPositionEvent(eventType string, p *Position) events.Event {
	evt := events.Event{Type: eventType, Attributes: map[string]string{}}
	if p == nil {
		return evt
	}
	evt.Attributes = map[string]string{
		"positionId":       strconv.FormatUint(p.ID, 10),
		"owner":            p.Owner.Hex(),
		"collateralMarket": p.CollateralMarket.Hex(),
		"borrowMarket":     p.BorrowMarket.Hex(),
		"collateralAmount": amountString(p.CollateralAmount),
		"borrowedAmount":   amountString(p.BorrowedAmount),
		"short":            strconv.FormatBool(p.Short),
	}
	return evt
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
