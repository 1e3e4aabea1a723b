// Package gate implements the cost and safety checks every execute payload must pass
// before it is submitted.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"rebalancer/services/executor/chain"
	"rebalancer/services/executor/outcome"
)

// DefaultCostCeiling is the maximum fiat gas cost (0.50 USD, 8 decimals) of one run.
var DefaultCostCeiling = big.NewInt(50_000_000)

const (
	gasLimitNumerator   = 120
	gasLimitDenominator = 100
)

var weiPerNative = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PriceReader resolves oracle prices with 8 decimals.
type PriceReader interface {
	LatestPrice(ctx context.Context, feed common.Address, at *big.Int) (*big.Int, error)
}

// Backend is the subset of chain.Backend the gate needs.
type Backend interface {
	chain.Caller
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Estimate is the gas cost of one payload at current chain conditions.
type Estimate struct {
	GasUnits        uint64
	GasPriceWei     *big.Int
	NativePriceFiat *big.Int
	TotalCostWei    *big.Int
	TotalCostFiat   *big.Int
}

// GasLimit returns the estimate plus a 20% margin.
func (e Estimate) GasLimit() uint64 {
	return GasLimit(e.GasUnits)
}

// Equal reports whether two estimates carry identical figures.
func (e Estimate) Equal(other Estimate) bool {
	return e.GasUnits == other.GasUnits &&
		cmpEq(e.GasPriceWei, other.GasPriceWei) &&
		cmpEq(e.NativePriceFiat, other.NativePriceFiat) &&
		cmpEq(e.TotalCostWei, other.TotalCostWei) &&
		cmpEq(e.TotalCostFiat, other.TotalCostFiat)
}

// Cost converts the estimate into the outcome representation.
func (e Estimate) Cost() *outcome.Cost {
	return &outcome.Cost{
		GasUnits:      e.GasUnits,
		GasPriceWei:   e.GasPriceWei,
		TotalCostWei:  e.TotalCostWei,
		TotalCostFiat: e.TotalCostFiat,
	}
}

// GasLimit applies the 20% safety margin to a gas estimate.
func GasLimit(units uint64) uint64 {
	limit := new(big.Int).SetUint64(units)
	limit.Mul(limit, big.NewInt(gasLimitNumerator))
	limit.Quo(limit, big.NewInt(gasLimitDenominator))
	return limit.Uint64()
}

// FiatCost converts a wei amount into 8-decimal fiat at the supplied native price.
func FiatCost(totalWei, nativePrice *big.Int) *big.Int {
	cost := new(big.Int).Mul(totalWei, nativePrice)
	return cost.Quo(cost, weiPerNative)
}

// Config wires a Gate.
type Config struct {
	From       common.Address
	To         common.Address
	NativeFeed common.Address
	Ceiling    *big.Int
	// PolicyID names a gas sponsorship policy. It is logged only; the signer still pays.
	PolicyID string
}

// Gate evaluates cost, solvency and simulation checks for execute payloads.
type Gate struct {
	backend Backend
	prices  PriceReader
	cfg     Config
	logger  *slog.Logger
}

// New constructs a gate.
func New(backend Backend, prices PriceReader, cfg Config, logger *slog.Logger) *Gate {
	if cfg.Ceiling == nil {
		cfg.Ceiling = new(big.Int).Set(DefaultCostCeiling)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{backend: backend, prices: prices, cfg: cfg, logger: logger}
}

func (g *Gate) msg(payload []byte) ethereum.CallMsg {
	to := g.cfg.To
	return ethereum.CallMsg{From: g.cfg.From, To: &to, Data: payload}
}

// Estimate computes gas units, gas price and the fiat cost of payload. A revert during
// estimation is reported as a simulation failure.
func (g *Gate) Estimate(ctx context.Context, payload []byte) (Estimate, error) {
	units, err := g.backend.EstimateGas(ctx, g.msg(payload))
	if err != nil {
		if reason, reverted := chain.RevertReason(err); reverted {
			return Estimate{}, &outcome.SimulationFailedError{Reason: reason}
		}
		return Estimate{}, fmt.Errorf("estimate gas: %w: %w", outcome.ErrRPC, err)
	}
	price, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("gas price: %w: %w", outcome.ErrRPC, err)
	}
	nativePrice, err := g.prices.LatestPrice(ctx, g.cfg.NativeFeed, nil)
	if err != nil {
		return Estimate{}, fmt.Errorf("native price: %w", err)
	}
	totalWei := new(big.Int).Mul(new(big.Int).SetUint64(units), price)
	return Estimate{
		GasUnits:        units,
		GasPriceWei:     price,
		NativePriceFiat: nativePrice,
		TotalCostWei:    totalWei,
		TotalCostFiat:   FiatCost(totalWei, nativePrice),
	}, nil
}

// Check enforces the cost ceiling and signer solvency. Dry runs skip both checks.
func (g *Gate) Check(ctx context.Context, est Estimate, dryRun bool) error {
	if dryRun {
		g.logger.Info("dry run: cost and solvency gates skipped",
			slog.String("cost_usd", outcome.FormatUnits(est.TotalCostFiat, 8)))
		return nil
	}
	if est.TotalCostFiat == nil || est.TotalCostWei == nil {
		return fmt.Errorf("estimate incomplete")
	}
	if est.TotalCostFiat.Cmp(g.cfg.Ceiling) > 0 {
		return &outcome.GasCostExceededError{
			Estimated: new(big.Int).Set(est.TotalCostFiat),
			Ceiling:   new(big.Int).Set(g.cfg.Ceiling),
		}
	}
	balance, err := g.backend.BalanceAt(ctx, g.cfg.From, nil)
	if err != nil {
		return fmt.Errorf("signer balance: %w: %w", outcome.ErrRPC, err)
	}
	if balance.Cmp(est.TotalCostWei) < 0 {
		return &outcome.InsufficientGasFundsError{
			Required:  new(big.Int).Set(est.TotalCostWei),
			Available: balance,
		}
	}
	if g.cfg.PolicyID != "" {
		g.logger.Info("gas policy configured, signer pays",
			slog.String("gas_policy_id", g.cfg.PolicyID),
			slog.String("signer_balance_wei", balance.String()))
	}
	return nil
}

// Simulate performs a read-only call of the exact payload from the signer.
func (g *Gate) Simulate(ctx context.Context, payload []byte) error {
	if _, err := g.backend.CallContract(ctx, g.msg(payload), nil); err != nil {
		if reason, reverted := chain.RevertReason(err); reverted {
			return &outcome.SimulationFailedError{Reason: reason}
		}
		return fmt.Errorf("simulate: %w: %w", outcome.ErrRPC, err)
	}
	return nil
}

func cmpEq(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}
