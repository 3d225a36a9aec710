package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"collaterallever/native/amm"
	"collaterallever/native/lever"
	"collaterallever/native/market"
	"collaterallever/native/token"
	"collaterallever/state/leverstate"
	"collaterallever/storage"
)

const testToken = "test-secret"

func rpcAddr(suffix byte) common.Address {
	var addr common.Address
	addr[19] = suffix
	return addr
}

var (
	rpcModuleAddr  = rpcAddr(0x01)
	rpcPairAddr    = rpcAddr(0x02)
	rpcBaseToken   = rpcAddr(0x10)
	rpcQuoteToken  = rpcAddr(0x20)
	rpcBaseMarket  = rpcAddr(0x11)
	rpcQuoteMarket = rpcAddr(0x21)
	rpcAdmin       = rpcAddr(0xA0)
	rpcUser        = rpcAddr(0xB0)
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	bank := token.NewBank()
	require.NoError(t, bank.Register(token.Asset{Address: rpcBaseToken, Symbol: "BASE", Decimals: 18}))
	require.NoError(t, bank.Register(token.Asset{Address: rpcQuoteToken, Symbol: "QUOTE", Decimals: 18}))

	marketEngine := market.NewEngine(bank)
	require.NoError(t, marketEngine.List(rpcBaseMarket, rpcBaseToken))
	require.NoError(t, marketEngine.List(rpcQuoteMarket, rpcQuoteToken))

	pair := amm.NewPair(bank, rpcPairAddr, rpcBaseToken, rpcQuoteToken)
	require.NoError(t, bank.Mint(rpcBaseToken, rpcPairAddr, big.NewInt(1_000_000)))
	require.NoError(t, bank.Mint(rpcQuoteToken, rpcPairAddr, big.NewInt(1_000_000)))
	pair.Sync()

	engine := lever.NewEngine(rpcModuleAddr)
	engine.SetState(leverstate.NewManager(storage.NewMemDB()))
	engine.SetAdapters(
		marketEngine.Session(rpcModuleAddr),
		amm.NewSession(pair, rpcModuleAddr, engine),
		bank,
	)
	require.NoError(t, engine.BootstrapOwner(rpcAdmin))
	require.NoError(t, engine.Register(rpcAdmin, rpcBaseToken, rpcBaseMarket))
	require.NoError(t, engine.Register(rpcAdmin, rpcQuoteToken, rpcQuoteMarket))

	require.NoError(t, bank.Mint(rpcBaseToken, rpcUser, big.NewInt(10_000)))
	require.NoError(t, bank.Mint(rpcQuoteToken, rpcQuoteMarket, big.NewInt(1_000_000)))

	return NewServer(engine, testToken, nil)
}

func invoke(t *testing.T, server *Server, method string, params interface{}, authorized bool) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()

	request := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		request["params"] = []interface{}{params}
	}
	payload, err := json.Marshal(request)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	recorder := httptest.NewRecorder()
	server.handle(recorder, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server := newTestServer(t)

	for _, method := range []string{"lever_register", "lever_openPosition", "lever_closePosition", "lever_transferOwnership"} {
		recorder, resp := invoke(t, server, method, map[string]string{}, false)
		require.Equal(t, http.StatusUnauthorized, recorder.Code, method)
		require.NotNil(t, resp.Error, method)
		require.Equal(t, codeUnauthorized, resp.Error.Code, method)
	}
}

func TestUnknownMethod(t *testing.T) {
	server := newTestServer(t)

	recorder, resp := invoke(t, server, "lever_nonexistent", nil, false)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestOpenCloseAndQueryPosition(t *testing.T) {
	server := newTestServer(t)

	recorder, resp := invoke(t, server, "lever_openPosition", leverOpenParams{
		Caller:     rpcUser.Hex(),
		TokenBase:  rpcBaseToken.Hex(),
		TokenQuote: rpcQuoteToken.Hex(),
		Investment: "1000",
		Lever:      2,
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	var opened leverOpenResult
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &opened))
	require.NotEmpty(t, opened.TxHash)
	require.True(t, opened.Position.Present)
	require.Equal(t, uint64(1), opened.Position.PositionID)
	require.Equal(t, "2000", opened.Position.CollateralAmount)

	_, resp = invoke(t, server, "lever_getPosition", leverPositionParams{
		Owner:      rpcUser.Hex(),
		PositionID: 1,
	}, false)
	require.Nil(t, resp.Error)
	var queried leverPositionResult
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &queried))
	require.True(t, queried.Present)

	_, resp = invoke(t, server, "lever_closePosition", leverCloseParams{
		Caller:     rpcUser.Hex(),
		PositionID: 1,
	}, true)
	require.Nil(t, resp.Error)

	_, resp = invoke(t, server, "lever_getPosition", leverPositionParams{
		Owner:      rpcUser.Hex(),
		PositionID: 1,
	}, false)
	require.Nil(t, resp.Error)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &queried))
	require.False(t, queried.Present)
}

func TestOpenPositionRejectsBadLever(t *testing.T) {
	server := newTestServer(t)

	recorder, resp := invoke(t, server, "lever_openPosition", leverOpenParams{
		Caller:     rpcUser.Hex(),
		TokenBase:  rpcBaseToken.Hex(),
		TokenQuote: rpcQuoteToken.Hex(),
		Investment: "1000",
		Lever:      4,
	}, true)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestOpenPositionRejectsMalformedParams(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		name   string
		params leverOpenParams
	}{
		{"bad caller", leverOpenParams{Caller: "nope", TokenBase: rpcBaseToken.Hex(), TokenQuote: rpcQuoteToken.Hex(), Investment: "100", Lever: 2}},
		{"bad amount", leverOpenParams{Caller: rpcUser.Hex(), TokenBase: rpcBaseToken.Hex(), TokenQuote: rpcQuoteToken.Hex(), Investment: "12x", Lever: 2}},
		{"empty amount", leverOpenParams{Caller: rpcUser.Hex(), TokenBase: rpcBaseToken.Hex(), TokenQuote: rpcQuoteToken.Hex(), Lever: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder, resp := invoke(t, server, "lever_openPosition", tc.params, true)
			require.Equal(t, http.StatusBadRequest, recorder.Code)
			require.NotNil(t, resp.Error)
			require.Equal(t, codeInvalidParams, resp.Error.Code)
		})
	}
}

func TestLookupMarket(t *testing.T) {
	server := newTestServer(t)

	_, resp := invoke(t, server, "lever_lookupMarket", leverLookupParams{Asset: rpcBaseToken.Hex()}, false)
	require.Nil(t, resp.Error)
	var result leverLookupResult
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &result))
	require.True(t, result.Supported)
	require.Equal(t, rpcBaseMarket.Hex(), result.MarketToken)

	_, resp = invoke(t, server, "lever_lookupMarket", leverLookupParams{Asset: rpcAddr(0xEE).Hex()}, false)
	require.Nil(t, resp.Error)
	raw, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &result))
	require.False(t, result.Supported)
}

func TestRegisterViaRPC(t *testing.T) {
	server := newTestServer(t)

	recorder, resp := invoke(t, server, "lever_register", leverRegisterParams{
		Caller:      rpcAdmin.Hex(),
		Asset:       rpcBaseToken.Hex(),
		MarketToken: rpcBaseMarket.Hex(),
	}, true)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	// Registering with a non-owner caller surfaces the engine error as
	// invalid params.
	recorder, resp = invoke(t, server, "lever_register", leverRegisterParams{
		Caller:      rpcUser.Hex(),
		Asset:       rpcBaseToken.Hex(),
		MarketToken: rpcBaseMarket.Hex(),
	}, true)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
	require.Equal(t, fmt.Sprintf("%v", lever.ErrNotOwner), resp.Error.Message)
}
