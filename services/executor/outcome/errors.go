package outcome

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
)

var (
	// ErrDecode marks malformed chain or aggregator payloads.
	ErrDecode = errors.New("decode error")
	// ErrRPC marks JSON-RPC failures that are not reverts.
	ErrRPC = errors.New("rpc error")
	// ErrNetwork marks transport failures towards external services.
	ErrNetwork = errors.New("network error")
	// ErrConfirmationTimeout is returned when a submitted transaction was not mined in time.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrReverted is returned when a mined transaction has a failed receipt.
	ErrReverted = errors.New("transaction reverted")
)

// ReceiverMismatchError is returned when an aggregator route would deliver funds to an
// address other than the expected receiver.
type ReceiverMismatchError struct {
	Expected string
	Actual   string
}

func (e *ReceiverMismatchError) Error() string {
	return fmt.Sprintf("route receiver mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// GasCostExceededError is returned when the fiat gas cost is above the ceiling. Both
// values are 8-decimal fixed point.
type GasCostExceededError struct {
	Estimated *big.Int
	Ceiling   *big.Int
}

func (e *GasCostExceededError) Error() string {
	return fmt.Sprintf("gas cost %s USD exceeds ceiling %s USD", FormatUnits(e.Estimated, 8), FormatUnits(e.Ceiling, 8))
}

// InsufficientGasFundsError is returned when the signer cannot pay for gas.
type InsufficientGasFundsError struct {
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientGasFundsError) Error() string {
	return fmt.Sprintf("insufficient gas funds: required %s wei, available %s wei", e.Required, e.Available)
}

// SimulationFailedError is returned when the pre-flight call or gas estimation reverts.
type SimulationFailedError struct {
	Reason string
}

func (e *SimulationFailedError) Error() string {
	if e.Reason == "" {
		return "simulation reverted"
	}
	return "simulation reverted: " + e.Reason
}

// PendingSubmissionError is returned when an earlier submission is still unmined.
type PendingSubmissionError struct {
	TxHash string
}

func (e *PendingSubmissionError) Error() string {
	return fmt.Sprintf("previous submission %s still pending", e.TxHash)
}

// Classify maps an error onto the result taxonomy.
func Classify(err error) (Status, Reason) {
	if err == nil {
		return StatusExecuted, ReasonNone
	}
	var (
		mismatch *ReceiverMismatchError
		cost     *GasCostExceededError
		funds    *InsufficientGasFundsError
		sim      *SimulationFailedError
		pending  *PendingSubmissionError
		netErr   net.Error
	)
	switch {
	case errors.As(err, &mismatch):
		return StatusBlocked, ReasonReceiverMismatch
	case errors.As(err, &cost):
		return StatusBlocked, ReasonGasCostExceeded
	case errors.As(err, &funds):
		return StatusBlocked, ReasonInsufficientGasFunds
	case errors.As(err, &sim):
		return StatusBlocked, ReasonSimulationFailed
	case errors.As(err, &pending):
		return StatusBlocked, ReasonPendingSubmission
	case errors.Is(err, ErrConfirmationTimeout):
		return StatusFailed, ReasonConfirmationTimeout
	case errors.Is(err, ErrReverted):
		return StatusFailed, ReasonReverted
	case errors.Is(err, ErrDecode):
		return StatusFailed, ReasonDecode
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		return StatusFailed, ReasonNetwork
	case errors.Is(err, ErrRPC):
		return StatusFailed, ReasonRPC
	default:
		return StatusFailed, ReasonUnknown
	}
}
