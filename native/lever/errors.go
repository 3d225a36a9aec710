package lever

import "errors"

var (
	// ErrBaseEqualsQuote rejects an open request naming the same token on
	// both sides of the pair.
	ErrBaseEqualsQuote = errors.New("lever engine: base and quote tokens must differ")
	// ErrZeroInvestment rejects a non-positive principal.
	ErrZeroInvestment = errors.New("lever engine: investment amount must be positive")
	// ErrUnsupportedLever rejects a leverage multiple outside the configured
	// set.
	ErrUnsupportedLever = errors.New("lever engine: leverage multiple not supported")
	// ErrUnsupportedAsset rejects tokens with no registered market.
	ErrUnsupportedAsset = errors.New("lever engine: token has no registered market")
	// ErrNotOwner rejects registry mutation by anyone but the module owner.
	ErrNotOwner = errors.New("lever engine: caller is not the owner")
	// ErrInvalidMarketToken rejects a registration candidate that does not
	// resolve to an underlying asset.
	ErrInvalidMarketToken = errors.New("lever engine: address does not resolve to a market token")
	// ErrNotOwnerOfPosition covers close attempts on ids that are absent,
	// already closed, or owned by someone else. The three cases are
	// deliberately indistinguishable.
	ErrNotOwnerOfPosition = errors.New("lever engine: position absent or not owned by caller")
	// ErrUnauthorizedCallback rejects flash-swap callbacks from an unexpected
	// counterparty or with a payload that matches no pending operation.
	ErrUnauthorizedCallback = errors.New("lever engine: flash swap callback not recognised")
	// ErrInsufficientCollateral fails a close whose redeemed collateral
	// cannot cover the flash-swap repayment.
	ErrInsufficientCollateral = errors.New("lever engine: redeemed collateral cannot cover flash repayment")
	// ErrExternalCall wraps adapter failures (supply, borrow, repay, redeem,
	// swap, transfer). Never retried; the enclosing operation rolls back.
	ErrExternalCall = errors.New("lever engine: external call failed")

	errNilState    = errors.New("lever engine: state not configured")
	errNilAdapters = errors.New("lever engine: adapters not configured")
)
