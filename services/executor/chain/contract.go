package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// BalanceSnapshot holds the rebalancer's token balances read in a single view call.
type BalanceSnapshot struct {
	EURe *big.Int
	USDC *big.Int
	WETH *big.Int
}

// Eligibility is the result of the contract's canExecute() check.
type Eligibility struct {
	Ready   bool
	Balance *big.Int
}

// ContractReader performs view calls against the rebalancer contract.
type ContractReader struct {
	caller  Caller
	address common.Address
}

// NewContractReader constructs a reader for the rebalancer at address.
func NewContractReader(caller Caller, address common.Address) *ContractReader {
	return &ContractReader{caller: caller, address: address}
}

// Address returns the contract address.
func (c *ContractReader) Address() common.Address { return c.address }

// CanExecute reads the eligibility flag together with the EURe balance.
func (c *ContractReader) CanExecute(ctx context.Context, at *big.Int) (Eligibility, error) {
	values, err := c.call(ctx, "canExecute", at)
	if err != nil {
		return Eligibility{}, err
	}
	if len(values) != 2 {
		return Eligibility{}, decodeErr(fmt.Errorf("canExecute: got %d values", len(values)))
	}
	ready, ok := values[0].(bool)
	if !ok {
		return Eligibility{}, decodeErr(fmt.Errorf("canExecute: unexpected flag type %T", values[0]))
	}
	balance, ok := values[1].(*big.Int)
	if !ok {
		return Eligibility{}, decodeErr(fmt.Errorf("canExecute: unexpected balance type %T", values[1]))
	}
	return Eligibility{Ready: ready, Balance: balance}, nil
}

// Balances reads all three token balances atomically.
func (c *ContractReader) Balances(ctx context.Context, at *big.Int) (BalanceSnapshot, error) {
	values, err := c.call(ctx, "getBalances", at)
	if err != nil {
		return BalanceSnapshot{}, err
	}
	if len(values) != 3 {
		return BalanceSnapshot{}, decodeErr(fmt.Errorf("getBalances: got %d values", len(values)))
	}
	out := make([]*big.Int, 3)
	for i, v := range values {
		amount, ok := v.(*big.Int)
		if !ok {
			return BalanceSnapshot{}, decodeErr(fmt.Errorf("getBalances: unexpected type %T", v))
		}
		out[i] = amount
	}
	return BalanceSnapshot{EURe: out[0], USDC: out[1], WETH: out[2]}, nil
}

// MaxSlippageBps reads the slippage tolerance enforced by the contract.
func (c *ContractReader) MaxSlippageBps(ctx context.Context, at *big.Int) (uint64, error) {
	values, err := c.call(ctx, "maxSlippageBps", at)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, decodeErr(fmt.Errorf("maxSlippageBps: got %d values", len(values)))
	}
	bps, ok := values[0].(*big.Int)
	if !ok || !bps.IsUint64() {
		return 0, decodeErr(fmt.Errorf("maxSlippageBps: unexpected value %v", values[0]))
	}
	return bps.Uint64(), nil
}

func (c *ContractReader) call(ctx context.Context, method string, at *big.Int) ([]interface{}, error) {
	if c == nil || c.caller == nil {
		return nil, fmt.Errorf("contract reader not initialised")
	}
	input, err := RebalancerABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := c.address
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, at)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, wrapRPC(err))
	}
	values, err := RebalancerABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, decodeErr(err))
	}
	return values, nil
}
