package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	"rebalancer/services/executor/outcome"
)

// Rejected reports whether err is a JSON-RPC error response, meaning the node answered
// and refused the request. Transport failures and timeouts leave the outcome unknown.
func Rejected(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func wrapRPC(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", outcome.ErrRPC, err)
}

func decodeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", outcome.ErrDecode, err)
}
