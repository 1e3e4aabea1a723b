// Package chaintest provides an in-memory Backend for executor tests.
package chaintest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// RPCError is a JSON-RPC error response such as "nonce too low".
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

// CallFunc answers an eth_call for a given target and selector.
type CallFunc func(msg ethereum.CallMsg) ([]byte, error)

// Backend is a scriptable chain.Backend. The zero value is not usable; use New.
type Backend struct {
	mu sync.Mutex

	handlers map[string]CallFunc
	calls    map[string]int

	Block        uint64
	GasEstimate  uint64
	EstimateErr  error
	GasPrice     *big.Int
	Balances     map[common.Address]*big.Int
	Nonce        uint64
	Chain        *big.Int
	SendErr      error
	ReceiptErr   error
	Receipts     map[common.Hash]*gethtypes.Receipt
	AutoMine     bool
	AutoGasUsed  uint64
	Sent         []*gethtypes.Transaction
	EstimateMsgs []ethereum.CallMsg
}

// New returns a backend with sane defaults and automatic mining of sent transactions.
func New() *Backend {
	return &Backend{
		handlers:    make(map[string]CallFunc),
		calls:       make(map[string]int),
		Block:       100,
		GasEstimate: 250_000,
		GasPrice:    big.NewInt(1_000_000_000),
		Balances:    make(map[common.Address]*big.Int),
		Chain:       big.NewInt(100),
		Receipts:    make(map[common.Hash]*gethtypes.Receipt),
		AutoMine:    true,
		AutoGasUsed: 210_000,
	}
}

func key(to common.Address, selector []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(selector)
}

// Handle registers fn for calls to `to` whose data starts with selector.
func (b *Backend) Handle(to common.Address, selector []byte, fn CallFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[key(to, selector)] = fn
}

// Return registers a static ABI-encoded answer for method on `to`.
func (b *Backend) Return(to common.Address, contract abi.ABI, method string, values ...interface{}) {
	m, ok := contract.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: unknown method %s", method))
	}
	out, err := m.Outputs.Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("chaintest: pack %s outputs: %v", method, err))
	}
	b.Handle(to, m.ID, func(ethereum.CallMsg) ([]byte, error) { return out, nil })
}

// Fail registers an error answer for method on `to`.
func (b *Backend) Fail(to common.Address, contract abi.ABI, method string, err error) {
	b.Handle(to, contract.Methods[method].ID, func(ethereum.CallMsg) ([]byte, error) { return nil, err })
}

// CallCount returns how many eth_calls hit `to`.
func (b *Backend) CallCount(to common.Address) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[to.Hex()]
}

// CallContract implements chain.Caller.
func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	if msg.To == nil || len(msg.Data) < 4 {
		b.mu.Unlock()
		return nil, fmt.Errorf("chaintest: malformed call")
	}
	b.calls[msg.To.Hex()]++
	fn, ok := b.handlers[key(*msg.To, msg.Data[:4])]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("chaintest: no handler for %s selector %x", msg.To.Hex(), msg.Data[:4])
	}
	return fn(msg)
}

// BlockNumber implements chain.Backend.
func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Block, nil
}

// EstimateGas implements chain.Backend.
func (b *Backend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.EstimateMsgs = append(b.EstimateMsgs, msg)
	if b.EstimateErr != nil {
		return 0, b.EstimateErr
	}
	return b.GasEstimate, nil
}

// SuggestGasPrice implements chain.Backend.
func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.GasPrice), nil
}

// BalanceAt implements chain.Backend.
func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.Balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

// PendingNonceAt implements chain.Backend.
func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Nonce, nil
}

// ChainID implements chain.Backend.
func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.Chain), nil
}

// SendTransaction implements chain.Backend and records every attempt.
func (b *Backend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Sent = append(b.Sent, tx)
	if b.SendErr != nil {
		return b.SendErr
	}
	if b.AutoMine {
		b.Receipts[tx.Hash()] = &gethtypes.Receipt{
			Status:      gethtypes.ReceiptStatusSuccessful,
			TxHash:      tx.Hash(),
			GasUsed:     b.AutoGasUsed,
			BlockNumber: new(big.Int).SetUint64(b.Block + 1),
		}
	}
	return nil
}

// TransactionReceipt implements chain.Backend.
func (b *Backend) TransactionReceipt(_ context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReceiptErr != nil {
		return nil, b.ReceiptErr
	}
	receipt, ok := b.Receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// SentCount returns the number of SendTransaction calls.
func (b *Backend) SentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Sent)
}
