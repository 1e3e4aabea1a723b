package aggregator

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"rebalancer/services/executor/chain"
	"rebalancer/services/executor/outcome"
)

var (
	eureToken    = common.HexToAddress("0xcB444e90D8198415266c6a2724b7900fb12FC56E")
	usdcToken    = common.HexToAddress("0xDDAfbb505ad214D7b80b1f830fcCc89B60fb7A83")
	contract     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	attacker     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	swapExecutor = common.HexToAddress("0x3333333333333333333333333333333333333333")
	router       = common.HexToAddress("0x111111125421cA6dc452d289314280a0f8842A65")
)

func swapCalldata(t *testing.T, req Request, receiver common.Address, minReturn int64) string {
	t.Helper()
	data, err := EncodeSwapCall(SwapCall{
		Executor: swapExecutor,
		Description: chain.SwapDescription{
			SrcToken:        req.Src,
			DstToken:        req.Dst,
			SrcReceiver:     swapExecutor,
			DstReceiver:     receiver,
			Amount:          new(big.Int).Set(req.Amount),
			MinReturnAmount: big.NewInt(minReturn),
			Flags:           big.NewInt(0),
		},
		Data: []byte{0xde, 0xad, 0xbe, 0xef},
	})
	require.NoError(t, err)
	return hexutil.Encode(data)
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "secret", ChainID: 100}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client, &hits
}

func writeRoute(w http.ResponseWriter, calldata string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"dstAmount": "555000000",
		"tx": map[string]any{
			"from":  contract.Hex(),
			"to":    router.Hex(),
			"data":  calldata,
			"value": "0",
		},
	})
}

func baseRequest() Request {
	return Request{
		Src:         eureToken,
		Dst:         usdcToken,
		Amount:      big.NewInt(1_000_000_000_000_000_000),
		Spender:     contract,
		Receiver:    contract,
		SlippageBps: 50,
	}
}

func TestFetchRouteDecodesAndValidates(t *testing.T) {
	req := baseRequest()
	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/swap/v6.0/100/swap", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		q := r.URL.Query()
		require.Equal(t, "0.5", q.Get("slippage"))
		require.Equal(t, contract.Hex(), q.Get("receiver"))
		require.Equal(t, contract.Hex(), q.Get("from"))
		require.Equal(t, req.Amount.String(), q.Get("amount"))
		writeRoute(w, swapCalldata(t, req, contract, 550_000_000))
	})

	route, err := client.FetchRoute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, swapExecutor, route.Executor)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, route.ExecutorData)
	require.Equal(t, int64(550_000_000), route.MinDstAmount.Int64())
	require.Equal(t, int64(555_000_000), route.DstAmount.Int64())
	require.Equal(t, router, route.Router)
	require.Equal(t, contract, route.Description.DstReceiver)
	require.NotEmpty(t, route.Quote)
}

func TestFetchRouteReceiverCheckIsCaseInsensitive(t *testing.T) {
	req := baseRequest()
	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeRoute(w, swapCalldata(t, req, contract, 1))
	})
	lowered := req
	lowered.Receiver = common.HexToAddress(strings.ToLower(contract.Hex()))
	_, err := client.FetchRoute(context.Background(), lowered)
	require.NoError(t, err)
}

func TestFetchRouteRejectsForeignReceiver(t *testing.T) {
	req := baseRequest()
	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeRoute(w, swapCalldata(t, req, attacker, 1))
	})

	_, err := client.FetchRoute(context.Background(), req)
	var mismatch *outcome.ReceiverMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, contract.Hex(), mismatch.Expected)
	require.Equal(t, attacker.Hex(), mismatch.Actual)

	status, reason := outcome.Classify(err)
	require.Equal(t, outcome.StatusBlocked, status)
	require.Equal(t, outcome.ReasonReceiverMismatch, reason)
}

func TestFetchRouteSurfacesAPIErrorBody(t *testing.T) {
	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"description":"insufficient liquidity"}`, http.StatusBadRequest)
	})

	_, err := client.FetchRoute(context.Background(), baseRequest())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Contains(t, apiErr.Body, "insufficient liquidity")
	require.ErrorIs(t, err, outcome.ErrNetwork)
}

func TestFetchRouteRejectsUnknownSelector(t *testing.T) {
	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeRoute(w, "0x12345678"+strings.Repeat("00", 64))
	})

	_, err := client.FetchRoute(context.Background(), baseRequest())
	var calldataErr *CalldataError
	require.ErrorAs(t, err, &calldataErr)
	require.ErrorIs(t, err, outcome.ErrDecode)
}

func TestFetchRouteRejectsAmountMismatch(t *testing.T) {
	req := baseRequest()
	client, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		other := req
		other.Amount = big.NewInt(1)
		writeRoute(w, swapCalldata(t, other, contract, 1))
	})

	_, err := client.FetchRoute(context.Background(), req)
	var calldataErr *CalldataError
	require.ErrorAs(t, err, &calldataErr)
	require.Contains(t, err.Error(), "amount")
}

func TestFetchRouteSkipsZeroAmount(t *testing.T) {
	client, hits := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request")
	})
	req := baseRequest()
	req.Amount = big.NewInt(0)
	_, err := client.FetchRoute(context.Background(), req)
	require.Error(t, err)
	require.Zero(t, atomic.LoadInt32(hits))
}

func TestFetchRouteNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client, err := NewClient(Config{BaseURL: url, ChainID: 100})
	require.NoError(t, err)

	_, err = client.FetchRoute(context.Background(), baseRequest())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	status, reason := outcome.Classify(err)
	require.Equal(t, outcome.StatusFailed, status)
	require.Equal(t, outcome.ReasonNetwork, reason)
}

func TestSlippagePercent(t *testing.T) {
	require.Equal(t, "0.5", SlippagePercent(50))
	require.Equal(t, "1", SlippagePercent(100))
	require.Equal(t, "0.01", SlippagePercent(1))
}
