package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"collaterallever/native/lever"
)

type leverRegisterParams struct {
	Caller      string `json:"caller"`
	Asset       string `json:"asset"`
	MarketToken string `json:"marketToken"`
}

type leverTransferOwnershipParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type leverOpenParams struct {
	Caller            string `json:"caller"`
	TokenBase         string `json:"tokenBase"`
	TokenQuote        string `json:"tokenQuote"`
	Investment        string `json:"investment"`
	InvestmentIsQuote bool   `json:"investmentIsQuote"`
	Lever             uint64 `json:"lever"`
	Short             bool   `json:"short"`
}

type leverCloseParams struct {
	Caller     string `json:"caller"`
	PositionID uint64 `json:"positionId"`
}

type leverPositionParams struct {
	Owner      string `json:"owner"`
	PositionID uint64 `json:"positionId"`
}

type leverLookupParams struct {
	Asset string `json:"asset"`
}

type leverTxResult struct {
	TxHash string `json:"txHash"`
}

type leverPositionResult struct {
	Present          bool   `json:"present"`
	PositionID       uint64 `json:"positionId,omitempty"`
	Owner            string `json:"owner,omitempty"`
	CollateralMarket string `json:"collateralMarket,omitempty"`
	BorrowMarket     string `json:"borrowMarket,omitempty"`
	CollateralAmount string `json:"collateralAmount,omitempty"`
	BorrowedAmount   string `json:"borrowedAmount,omitempty"`
	Short            bool   `json:"short,omitempty"`
}

type leverOpenResult struct {
	TxHash   string              `json:"txHash"`
	Position leverPositionResult `json:"position"`
}

type leverLookupResult struct {
	Supported   bool   `json:"supported"`
	MarketToken string `json:"marketToken,omitempty"`
}

func positionView(p *lever.Position, present bool) leverPositionResult {
	if p == nil || !present {
		return leverPositionResult{Present: false}
	}
	return leverPositionResult{
		Present:          true,
		PositionID:       p.ID,
		Owner:            p.Owner.Hex(),
		CollateralMarket: p.CollateralMarket.Hex(),
		BorrowMarket:     p.BorrowMarket.Hex(),
		CollateralAmount: p.CollateralAmount.String(),
		BorrowedAmount:   p.BorrowedAmount.String(),
		Short:            p.Short,
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s must be a 0x-prefixed address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	return amount, nil
}

func (s *Server) handleLeverRegister(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params leverRegisterParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	marketToken, err := parseAddress("marketToken", params.MarketToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.lever.Register(caller, asset, marketToken)
	if modErr != nil {
		writeError(w, modErr.HTTPStatus, req.ID, modErr.Code, modErr.Message, modErr.Data)
		return
	}
	writeResult(w, req.ID, leverTxResult{TxHash: txHash})
}

func (s *Server) handleLeverTransferOwnership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params leverTransferOwnershipParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	newOwner, err := parseAddress("newOwner", params.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	txHash, modErr := s.lever.TransferOwnership(caller, newOwner)
	if modErr != nil {
		writeError(w, modErr.HTTPStatus, req.ID, modErr.Code, modErr.Message, modErr.Data)
		return
	}
	writeResult(w, req.ID, leverTxResult{TxHash: txHash})
}

func (s *Server) handleLeverOpenPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params leverOpenParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenBase, err := parseAddress("tokenBase", params.TokenBase)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tokenQuote, err := parseAddress("tokenQuote", params.TokenQuote)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	investment, err := parseAmount("investment", params.Investment)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	position, txHash, modErr := s.lever.OpenPosition(caller, tokenBase, tokenQuote, investment, params.InvestmentIsQuote, params.Lever, params.Short)
	if modErr != nil {
		writeError(w, modErr.HTTPStatus, req.ID, modErr.Code, modErr.Message, modErr.Data)
		return
	}
	writeResult(w, req.ID, leverOpenResult{TxHash: txHash, Position: positionView(position, true)})
}

func (s *Server) handleLeverClosePosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params leverCloseParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress("caller", params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	position, txHash, modErr := s.lever.ClosePosition(caller, params.PositionID)
	if modErr != nil {
		writeError(w, modErr.HTTPStatus, req.ID, modErr.Code, modErr.Message, modErr.Data)
		return
	}
	writeResult(w, req.ID, leverOpenResult{TxHash: txHash, Position: positionView(position, true)})
}

func (s *Server) handleLeverGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params leverPositionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	position, ok, modErr := s.lever.GetPosition(owner, params.PositionID)
	if modErr != nil {
		writeError(w, modErr.HTTPStatus, req.ID, modErr.Code, modErr.Message, modErr.Data)
		return
	}
	writeResult(w, req.ID, positionView(position, ok))
}

func (s *Server) handleLeverLookupMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params leverLookupParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	marketToken, ok, modErr := s.lever.LookupMarket(asset)
	if modErr != nil {
		writeError(w, modErr.HTTPStatus, req.ID, modErr.Code, modErr.Message, modErr.Data)
		return
	}
	result := leverLookupResult{Supported: ok}
	if ok {
		result.MarketToken = marketToken.Hex()
	}
	writeResult(w, req.ID, result)
}
