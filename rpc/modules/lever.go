package modules

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"collaterallever/native/lever"
	"collaterallever/observability/metrics"
)

type LeverModule struct {
	engine *lever.Engine
}

func NewLeverModule(engine *lever.Engine) *LeverModule {
	return &LeverModule{engine: engine}
}

func (m *LeverModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "lever module not available"}
}

func (m *LeverModule) Register(caller, asset, marketToken common.Address) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.Register(caller, asset, marketToken); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("register", asset.Hex(), nil), nil
}

func (m *LeverModule) TransferOwnership(caller, next common.Address) (string, *ModuleError) {
	if m == nil || m.engine == nil {
		return "", m.moduleUnavailable()
	}
	if err := m.engine.TransferOwnership(caller, next); err != nil {
		return "", m.wrapError(err)
	}
	return m.makeTxHash("transfer-ownership", next.Hex(), nil), nil
}

func (m *LeverModule) OpenPosition(caller, tokenBase, tokenQuote common.Address, investment *big.Int, investmentIsQuote bool, leverage uint64, short bool) (*lever.Position, string, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, "", m.moduleUnavailable()
	}
	position, err := m.engine.OpenPosition(caller, tokenBase, tokenQuote, investment, investmentIsQuote, leverage, short)
	if err != nil {
		m.observeFailure(err, "open")
		return nil, "", m.wrapError(err)
	}
	metrics.Lever().ObservePositionOpened(directionLabel(short))
	return position, m.makeTxHash("open", caller.Hex(), investment), nil
}

func (m *LeverModule) ClosePosition(caller common.Address, id uint64) (*lever.Position, string, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, "", m.moduleUnavailable()
	}
	position, err := m.engine.ClosePosition(caller, id)
	if err != nil {
		m.observeFailure(err, "close")
		return nil, "", m.wrapError(err)
	}
	metrics.Lever().ObservePositionClosed()
	return position, m.makeTxHash("close", caller.Hex(), new(big.Int).SetUint64(id)), nil
}

func (m *LeverModule) GetPosition(owner common.Address, id uint64) (*lever.Position, bool, *ModuleError) {
	if m == nil || m.engine == nil {
		return nil, false, m.moduleUnavailable()
	}
	position, ok, err := m.engine.GetPosition(owner, id)
	if err != nil {
		return nil, false, m.wrapError(err)
	}
	return position, ok, nil
}

func (m *LeverModule) LookupMarket(asset common.Address) (common.Address, bool, *ModuleError) {
	if m == nil || m.engine == nil {
		return common.Address{}, false, m.moduleUnavailable()
	}
	marketToken, ok, err := m.engine.LookupMarket(asset)
	if err != nil {
		return common.Address{}, false, m.wrapError(err)
	}
	return marketToken, ok, nil
}

func (m *LeverModule) observeFailure(err error, operation string) {
	if errors.Is(err, lever.ErrExternalCall) || errors.Is(err, lever.ErrInsufficientCollateral) {
		metrics.Lever().ObserveFlashSwapFailure(operation)
		return
	}
	metrics.Lever().ObserveRequestRejected(rejectionLabel(err))
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, lever.ErrBaseEqualsQuote):
		return "base_equals_quote"
	case errors.Is(err, lever.ErrZeroInvestment):
		return "zero_investment"
	case errors.Is(err, lever.ErrUnsupportedLever):
		return "unsupported_lever"
	case errors.Is(err, lever.ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, lever.ErrNotOwnerOfPosition):
		return "not_owner_of_position"
	case errors.Is(err, lever.ErrNotOwner):
		return "not_owner"
	default:
		return "other"
	}
}

func directionLabel(short bool) string {
	if short {
		return "short"
	}
	return "long"
}

func (m *LeverModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := err.Error()
	if strings.HasPrefix(message, "lever engine:") {
		status = http.StatusBadRequest
		code = codeInvalidParams
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: message}
}

func (m *LeverModule) makeTxHash(kind, primary string, amount *big.Int) string {
	parts := []string{kind, primary}
	if amount != nil {
		parts = append(parts, amount.String())
	}
	parts = append(parts, fmt.Sprintf("%d", time.Now().UTC().UnixNano()))
	payload := strings.Join(parts, "|")
	hash := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(hash)
}
