package outcome

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status Status
		reason Reason
	}{
		{"receiver", fmt.Errorf("fetch route: %w", &ReceiverMismatchError{Expected: "0xa", Actual: "0xb"}), StatusBlocked, ReasonReceiverMismatch},
		{"cost", &GasCostExceededError{Estimated: big.NewInt(2), Ceiling: big.NewInt(1)}, StatusBlocked, ReasonGasCostExceeded},
		{"funds", &InsufficientGasFundsError{Required: big.NewInt(2), Available: big.NewInt(1)}, StatusBlocked, ReasonInsufficientGasFunds},
		{"simulation", &SimulationFailedError{Reason: "slippage"}, StatusBlocked, ReasonSimulationFailed},
		{"pending", &PendingSubmissionError{TxHash: "0x01"}, StatusBlocked, ReasonPendingSubmission},
		{"timeout", fmt.Errorf("wait: %w", ErrConfirmationTimeout), StatusFailed, ReasonConfirmationTimeout},
		{"reverted", ErrReverted, StatusFailed, ReasonReverted},
		{"decode", fmt.Errorf("oracle: %w", ErrDecode), StatusFailed, ReasonDecode},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), StatusFailed, ReasonNetwork},
		{"rpc", fmt.Errorf("balance: %w", ErrRPC), StatusFailed, ReasonRPC},
		{"other", errors.New("boom"), StatusFailed, ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, reason := Classify(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.reason, reason)
			require.Equal(t, tc.status == StatusBlocked, reason.Blocking())
		})
	}
}

func TestExitCodes(t *testing.T) {
	require.Equal(t, 0, Result{Status: StatusExecuted}.ExitCode())
	require.Equal(t, 0, Result{Status: StatusDryRun}.ExitCode())
	require.Equal(t, 2, Result{Status: StatusNotNeeded}.ExitCode())
	require.Equal(t, 1, Result{Status: StatusBlocked}.ExitCode())
	require.Equal(t, 1, Result{Status: StatusFailed}.ExitCode())
}

func TestReasonBlocking(t *testing.T) {
	for _, r := range []Reason{ReasonReceiverMismatch, ReasonGasCostExceeded, ReasonInsufficientGasFunds, ReasonSimulationFailed, ReasonPendingSubmission} {
		require.True(t, r.Blocking(), r)
	}
	for _, r := range []Reason{ReasonNone, ReasonNetwork, ReasonRPC, ReasonDecode, ReasonConfirmationTimeout, ReasonReverted, ReasonUnknown} {
		require.False(t, r.Blocking(), r)
	}
}

func TestSummaryIncludesAmountsAndHash(t *testing.T) {
	forUSDC, _ := new(big.Int).SetString("561111111111111111111", 10)
	forETH, _ := new(big.Int).SetString("438888888888888888889", 10)
	res := Result{
		Status:  StatusExecuted,
		TxHash:  "0xabc",
		GasUsed: 210000,
		Amounts: &Amounts{ForUSDC: forUSDC, ForETH: forETH},
		Cost:    &Cost{GasUnits: 250000, TotalCostFiat: big.NewInt(12_500_000)},
	}
	summary := res.Summary()
	require.Contains(t, summary, "status=executed")
	require.Contains(t, summary, "eure_for_usdc=561.111111111111111111")
	require.Contains(t, summary, "eure_for_eth=438.888888888888888889")
	require.Contains(t, summary, "cost_usd=0.125")
	require.Contains(t, summary, "tx=0xabc")
}

func TestSummaryFlagsSubmittedFailure(t *testing.T) {
	res := Result{Status: StatusFailed, Reason: ReasonConfirmationTimeout, Submitted: true, TxHash: "0x1", Error: "confirmation timeout"}
	summary := res.Summary()
	require.Contains(t, summary, "reason=confirmation_timeout")
	require.Contains(t, summary, "submitted=true")
	require.Contains(t, summary, `error="confirmation timeout"`)
}
