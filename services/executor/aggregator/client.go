package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"rebalancer/services/executor/outcome"
)

// DefaultTimeout bounds every aggregator request.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 4 << 10

// Config defines the aggregator client settings.
type Config struct {
	BaseURL   string
	APIKey    string
	ChainID   uint64
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// NetworkError wraps transport failures; callers may retry.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "aggregator request: " + e.Err.Error() }

// Unwrap exposes the network classification.
func (e *NetworkError) Unwrap() []error { return []error{outcome.ErrNetwork, e.Err} }

// APIError is returned for non-2xx responses and carries the body for diagnostics.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aggregator returned status %d: %s", e.Status, e.Body)
}

// Unwrap classifies API failures as retryable network errors.
func (e *APIError) Unwrap() error { return outcome.ErrNetwork }

// Client fetches executable swap routes from a 1inch-compatible swap API.
type Client struct {
	baseURL    string
	apiKey     string
	chainID    uint64
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs a client with sane defaults.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("aggregator: base url required")
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("aggregator: chain id required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		chainID: cfg.ChainID,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		From  string `json:"from"`
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

// FetchRoute requests, decodes and validates a route for req. A route whose decoded
// receiver differs from req.Receiver fails with *outcome.ReceiverMismatchError.
func (c *Client) FetchRoute(ctx context.Context, req Request) (SwapRoute, error) {
	if c == nil {
		return SwapRoute{}, fmt.Errorf("aggregator: client not configured")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return SwapRoute{}, fmt.Errorf("aggregator: amount must be positive")
	}
	if (req.Receiver == common.Address{}) {
		return SwapRoute{}, fmt.Errorf("aggregator: receiver required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return SwapRoute{}, &NetworkError{Err: err}
	}

	endpoint := fmt.Sprintf("%s/swap/v6.0/%d/swap?%s", c.baseURL, c.chainID, query(req).Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SwapRoute{}, fmt.Errorf("aggregator: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SwapRoute{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SwapRoute{}, &NetworkError{Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return SwapRoute{}, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload swapResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return SwapRoute{}, &CalldataError{Reason: "decode response", Err: err}
	}
	data, err := hexutil.Decode(strings.TrimSpace(payload.Tx.Data))
	if err != nil {
		return SwapRoute{}, &CalldataError{Reason: "decode tx data", Err: err}
	}
	call, err := DecodeSwapCall(data)
	if err != nil {
		return SwapRoute{}, err
	}
	if err := validate(req, call); err != nil {
		return SwapRoute{}, err
	}
	dstAmount, ok := new(big.Int).SetString(strings.TrimSpace(payload.DstAmount), 10)
	if !ok {
		return SwapRoute{}, &CalldataError{Reason: fmt.Sprintf("invalid dstAmount %q", payload.DstAmount)}
	}
	return SwapRoute{
		SrcToken:     req.Src,
		DstToken:     req.Dst,
		SrcAmount:    new(big.Int).Set(req.Amount),
		MinDstAmount: new(big.Int).Set(call.Description.MinReturnAmount),
		DstAmount:    dstAmount,
		Router:       common.HexToAddress(payload.Tx.To),
		Executor:     call.Executor,
		ExecutorData: call.Data,
		Description:  call.Description,
		Quote:        json.RawMessage(body),
	}, nil
}

func query(req Request) url.Values {
	values := url.Values{}
	values.Set("src", req.Src.Hex())
	values.Set("dst", req.Dst.Hex())
	values.Set("amount", req.Amount.String())
	values.Set("from", req.Spender.Hex())
	values.Set("origin", req.Spender.Hex())
	values.Set("receiver", req.Receiver.Hex())
	values.Set("slippage", SlippagePercent(req.SlippageBps))
	values.Set("disableEstimate", "true")
	values.Set("allowPartialFill", "false")
	return values
}

// SlippagePercent converts basis points into the percent string the API expects.
func SlippagePercent(bps uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(bps), -2).String()
}
