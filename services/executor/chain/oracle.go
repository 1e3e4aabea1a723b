package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// PriceDecimals is the decimal count published by the configured USD feeds.
const PriceDecimals = 8

// OracleReadError is returned when a price feed cannot be read or returns unusable data.
type OracleReadError struct {
	Feed   common.Address
	Reason string
	Err    error
}

func (e *OracleReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle %s: %s: %v", e.Feed.Hex(), e.Reason, e.Err)
	}
	return fmt.Sprintf("oracle %s: %s", e.Feed.Hex(), e.Reason)
}

func (e *OracleReadError) Unwrap() error { return e.Err }

// OracleReader reads Chainlink-style price feeds.
type OracleReader struct {
	caller Caller
	maxAge time.Duration
	now    func() time.Time
}

// OracleOption customises an OracleReader.
type OracleOption func(*OracleReader)

// WithMaxAge rejects rounds last updated longer ago than age. Zero disables the check.
func WithMaxAge(age time.Duration) OracleOption {
	return func(r *OracleReader) { r.maxAge = age }
}

// WithOracleClock overrides the clock used for staleness checks.
func WithOracleClock(now func() time.Time) OracleOption {
	return func(r *OracleReader) { r.now = now }
}

// NewOracleReader constructs a reader backed by caller.
func NewOracleReader(caller Caller, opts ...OracleOption) *OracleReader {
	r := &OracleReader{caller: caller, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LatestPrice returns the latest answer of feed as an 8-decimal fixed-point integer.
func (r *OracleReader) LatestPrice(ctx context.Context, feed common.Address, at *big.Int) (*big.Int, error) {
	if r == nil || r.caller == nil {
		return nil, fmt.Errorf("oracle reader not initialised")
	}
	if (feed == common.Address{}) {
		return nil, &OracleReadError{Feed: feed, Reason: "feed address required"}
	}
	input, err := PriceFeedABI.Pack("latestRoundData")
	if err != nil {
		return nil, fmt.Errorf("pack latestRoundData: %w", err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: input}, at)
	if err != nil {
		return nil, &OracleReadError{Feed: feed, Reason: "call latestRoundData", Err: wrapRPC(err)}
	}
	values, err := PriceFeedABI.Unpack("latestRoundData", out)
	if err != nil {
		return nil, &OracleReadError{Feed: feed, Reason: "malformed round data", Err: decodeErr(err)}
	}
	if len(values) != 5 {
		return nil, &OracleReadError{Feed: feed, Reason: "malformed round data", Err: decodeErr(fmt.Errorf("got %d values", len(values)))}
	}
	answer, ok := values[1].(*big.Int)
	if !ok || answer == nil {
		return nil, &OracleReadError{Feed: feed, Reason: "malformed answer", Err: decodeErr(fmt.Errorf("unexpected type %T", values[1]))}
	}
	if answer.Sign() <= 0 {
		return nil, &OracleReadError{Feed: feed, Reason: fmt.Sprintf("non-positive answer %s", answer)}
	}
	if r.maxAge > 0 {
		updatedAt, ok := values[3].(*big.Int)
		if !ok || updatedAt == nil || !updatedAt.IsInt64() {
			return nil, &OracleReadError{Feed: feed, Reason: "malformed updatedAt", Err: decodeErr(fmt.Errorf("unexpected value %v", values[3]))}
		}
		age := r.now().Sub(time.Unix(updatedAt.Int64(), 0))
		if age > r.maxAge {
			return nil, &OracleReadError{Feed: feed, Reason: fmt.Sprintf("stale round: updated %s ago", age.Truncate(time.Second))}
		}
	}
	return new(big.Int).Set(answer), nil
}
