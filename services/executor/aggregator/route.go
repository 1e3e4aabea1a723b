package aggregator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"rebalancer/services/executor/chain"
	"rebalancer/services/executor/outcome"
)

// Request identifies the swap a route is fetched for.
type Request struct {
	Src         common.Address
	Dst         common.Address
	Amount      *big.Int
	Spender     common.Address
	Receiver    common.Address
	SlippageBps uint64
}

// SwapRoute is an executable, validated aggregator route.
type SwapRoute struct {
	SrcToken     common.Address
	DstToken     common.Address
	SrcAmount    *big.Int
	MinDstAmount *big.Int
	DstAmount    *big.Int
	Router       common.Address
	Executor     common.Address
	ExecutorData []byte
	Description  chain.SwapDescription
	Quote        json.RawMessage
}

// SwapCall is the decoded aggregator swap(executor, desc, data) call.
type SwapCall struct {
	Executor    common.Address
	Description chain.SwapDescription
	Data        []byte
}

// CalldataError is returned when the aggregator's transaction payload cannot be decoded
// or does not describe the requested swap.
type CalldataError struct {
	Reason string
	Err    error
}

func (e *CalldataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("aggregator calldata: %s: %v", e.Reason, e.Err)
	}
	return "aggregator calldata: " + e.Reason
}

// Unwrap exposes the decode classification.
func (e *CalldataError) Unwrap() []error {
	if e.Err != nil {
		return []error{outcome.ErrDecode, e.Err}
	}
	return []error{outcome.ErrDecode}
}

var swapMethod = chain.AggregatorABI.Methods["swap"]

// DecodeSwapCall decodes router calldata against the swap entry point.
func DecodeSwapCall(data []byte) (SwapCall, error) {
	if len(data) < 4 {
		return SwapCall{}, &CalldataError{Reason: "payload shorter than selector"}
	}
	if string(data[:4]) != string(swapMethod.ID) {
		return SwapCall{}, &CalldataError{Reason: fmt.Sprintf("unexpected selector %x", data[:4])}
	}
	values, err := swapMethod.Inputs.Unpack(data[4:])
	if err != nil {
		return SwapCall{}, &CalldataError{Reason: "unpack swap arguments", Err: err}
	}
	if len(values) != 3 {
		return SwapCall{}, &CalldataError{Reason: fmt.Sprintf("expected 3 arguments, got %d", len(values))}
	}
	executor, ok := values[0].(common.Address)
	if !ok {
		return SwapCall{}, &CalldataError{Reason: fmt.Sprintf("unexpected executor type %T", values[0])}
	}
	desc, err := convertDescription(values[1])
	if err != nil {
		return SwapCall{}, &CalldataError{Reason: "convert swap description", Err: err}
	}
	payload, ok := values[2].([]byte)
	if !ok {
		return SwapCall{}, &CalldataError{Reason: fmt.Sprintf("unexpected data type %T", values[2])}
	}
	return SwapCall{Executor: executor, Description: desc, Data: payload}, nil
}

// EncodeSwapCall packs a swap call; used to build fixtures and by tooling.
func EncodeSwapCall(call SwapCall) ([]byte, error) {
	return chain.AggregatorABI.Pack("swap", call.Executor, call.Description, call.Data)
}

func convertDescription(value interface{}) (desc chain.SwapDescription, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	converted, ok := abi.ConvertType(value, new(chain.SwapDescription)).(*chain.SwapDescription)
	if !ok || converted == nil {
		return chain.SwapDescription{}, errors.New("unexpected description layout")
	}
	if converted.Amount == nil || converted.MinReturnAmount == nil {
		return chain.SwapDescription{}, errors.New("description amounts missing")
	}
	return *converted, nil
}

// validate checks the decoded call against the request. A receiver mismatch is a hard
// failure distinct from other calldata inconsistencies.
func validate(req Request, call SwapCall) error {
	if call.Description.DstReceiver != req.Receiver {
		return &outcome.ReceiverMismatchError{
			Expected: req.Receiver.Hex(),
			Actual:   call.Description.DstReceiver.Hex(),
		}
	}
	if call.Description.SrcToken != req.Src {
		return &CalldataError{Reason: fmt.Sprintf("source token %s does not match %s", call.Description.SrcToken.Hex(), req.Src.Hex())}
	}
	if call.Description.DstToken != req.Dst {
		return &CalldataError{Reason: fmt.Sprintf("destination token %s does not match %s", call.Description.DstToken.Hex(), req.Dst.Hex())}
	}
	if call.Description.Amount.Cmp(req.Amount) != 0 {
		return &CalldataError{Reason: fmt.Sprintf("amount %s does not match %s", call.Description.Amount, req.Amount)}
	}
	return nil
}
