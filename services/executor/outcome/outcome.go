package outcome

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Status is the terminal state of one executor invocation.
type Status string

const (
	StatusExecuted  Status = "executed"
	StatusDryRun    Status = "dry_run"
	StatusNotNeeded Status = "not_needed"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
)

// Reason classifies blocked and failed results.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonReceiverMismatch     Reason = "receiver_mismatch"
	ReasonGasCostExceeded      Reason = "gas_cost_exceeded"
	ReasonInsufficientGasFunds Reason = "insufficient_gas_funds"
	ReasonSimulationFailed     Reason = "simulation_failed"
	ReasonPendingSubmission    Reason = "pending_submission"

	ReasonNetwork             Reason = "network_error"
	ReasonRPC                 Reason = "rpc_error"
	ReasonDecode              Reason = "decode_error"
	ReasonConfirmationTimeout Reason = "confirmation_timeout"
	ReasonReverted            Reason = "reverted"
	ReasonUnknown             Reason = "unknown"
)

// Blocking reports whether the reason is an expected precondition failure.
func (r Reason) Blocking() bool {
	switch r {
	case ReasonReceiverMismatch, ReasonGasCostExceeded, ReasonInsufficientGasFunds,
		ReasonSimulationFailed, ReasonPendingSubmission:
		return true
	default:
		return false
	}
}

// Amounts carries the allocation applied by a run.
type Amounts struct {
	ForUSDC *big.Int
	ForETH  *big.Int
}

// Cost carries the gas figures computed by the safety gate.
type Cost struct {
	GasUnits      uint64
	GasPriceWei   *big.Int
	TotalCostWei  *big.Int
	TotalCostFiat *big.Int
}

// Result is the single artifact an invocation hands to its caller.
type Result struct {
	RunID     string
	Status    Status
	Reason    Reason
	TxHash    string
	GasUsed   uint64
	Submitted bool
	Amounts   *Amounts
	Cost      *Cost
	Error     string
}

// ExitCode maps the result onto the scheduler contract: 0 done, 2 nothing to do, 1 retry.
func (r Result) ExitCode() int {
	switch r.Status {
	case StatusExecuted, StatusDryRun:
		return 0
	case StatusNotNeeded:
		return 2
	default:
		return 1
	}
}

// Summary renders a human-readable one-line description of the result.
func (r Result) Summary() string {
	var b strings.Builder
	b.WriteString("status=")
	b.WriteString(string(r.Status))
	if r.Reason != ReasonNone {
		fmt.Fprintf(&b, " reason=%s", r.Reason)
	}
	if r.Amounts != nil {
		fmt.Fprintf(&b, " eure_for_usdc=%s eure_for_eth=%s",
			FormatUnits(r.Amounts.ForUSDC, 18), FormatUnits(r.Amounts.ForETH, 18))
	}
	if r.Cost != nil {
		fmt.Fprintf(&b, " gas=%d cost_usd=%s", r.Cost.GasUnits, FormatUnits(r.Cost.TotalCostFiat, 8))
	}
	if r.TxHash != "" {
		fmt.Fprintf(&b, " tx=%s", r.TxHash)
	}
	if r.GasUsed > 0 {
		fmt.Fprintf(&b, " gas_used=%d", r.GasUsed)
	}
	if r.Submitted && r.Status == StatusFailed {
		b.WriteString(" submitted=true")
	}
	if r.Error != "" {
		fmt.Fprintf(&b, " error=%q", r.Error)
	}
	return b.String()
}

// FormatUnits renders a fixed-point integer with the supplied number of decimals.
func FormatUnits(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}
