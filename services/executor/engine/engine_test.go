package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"rebalancer/crypto"
	"rebalancer/services/executor/aggregator"
	"rebalancer/services/executor/chain"
	"rebalancer/services/executor/chain/chaintest"
	"rebalancer/services/executor/gate"
	"rebalancer/services/executor/journal"
	"rebalancer/services/executor/outcome"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var (
	contractAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	eureToken    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	usdcToken    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	wethToken    = common.HexToAddress("0x4444444444444444444444444444444444444444")
	eurFeed      = common.HexToAddress("0x5555555555555555555555555555555555555555")
	usdcFeed     = common.HexToAddress("0x6666666666666666666666666666666666666666")
	nativeFeed   = common.HexToAddress("0x7777777777777777777777777777777777777777")
	resolverAddr = common.HexToAddress("0x8888888888888888888888888888888888888888")
	routerExec   = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func eure(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func usd(cents int64) *big.Int { return big.NewInt(cents * 1_000_000) }

type fakeRoutes struct {
	mu       sync.Mutex
	requests []aggregator.Request
	errs     map[common.Address]error
}

func (f *fakeRoutes) FetchRoute(_ context.Context, req aggregator.Request) (aggregator.SwapRoute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.errs[req.Dst]; err != nil {
		return aggregator.SwapRoute{}, err
	}
	desc := chain.SwapDescription{
		SrcToken:        req.Src,
		DstToken:        req.Dst,
		SrcReceiver:     routerExec,
		DstReceiver:     req.Receiver,
		Amount:          new(big.Int).Set(req.Amount),
		MinReturnAmount: big.NewInt(1),
		Flags:           big.NewInt(0),
	}
	return aggregator.SwapRoute{
		SrcToken:     req.Src,
		DstToken:     req.Dst,
		SrcAmount:    new(big.Int).Set(req.Amount),
		MinDstAmount: big.NewInt(1),
		Executor:     routerExec,
		ExecutorData: []byte{0xde, 0xad},
		Description:  desc,
	}, nil
}

func (f *fakeRoutes) byDst(dst common.Address) []aggregator.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []aggregator.Request
	for _, req := range f.requests {
		if req.Dst == dst {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeRoutes) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fixture struct {
	backend     *chaintest.Backend
	routes      *fakeRoutes
	signer      *crypto.TxSigner
	cfg         Config
	gateCfg     gate.Config
	journal     Journal
	simulations int
	simulateErr error
}

func newFixture(t *testing.T, balance, debt *big.Int) *fixture {
	t.Helper()
	key, err := crypto.PrivateKeyFromHex(testKeyHex)
	require.NoError(t, err)
	signer, err := crypto.NewTxSigner(key)
	require.NoError(t, err)

	f := &fixture{
		backend: chaintest.New(),
		routes:  &fakeRoutes{errs: map[common.Address]error{}},
		signer:  signer,
		cfg: Config{
			EURe:           eureToken,
			USDC:           usdcToken,
			WETH:           wethToken,
			EURUSDFeed:     eurFeed,
			USDCUSDFeed:    usdcFeed,
			ConfirmTimeout: time.Second,
			PollInterval:   5 * time.Millisecond,
		},
	}
	f.gateCfg = gate.Config{From: signer.Address(), To: contractAddr, NativeFeed: nativeFeed}

	b := f.backend
	b.Balances[signer.Address()] = eure(1)
	b.Return(contractAddr, chain.RebalancerABI, "canExecute", true, balance)
	b.Return(contractAddr, chain.RebalancerABI, "getBalances", balance, big.NewInt(0), big.NewInt(0))
	b.Return(contractAddr, chain.RebalancerABI, "maxSlippageBps", big.NewInt(50))
	f.setPrice(eurFeed, usd(108))
	f.setPrice(usdcFeed, usd(100))
	f.setPrice(nativeFeed, usd(100))
	b.Handle(resolverAddr, chain.FluidPositionV1.Selector(), func(ethereum.CallMsg) ([]byte, error) {
		out := make([]byte, 8*32)
		debt.FillBytes(out[7*32:])
		return out, nil
	})
	b.Handle(contractAddr, chain.RebalancerABI.Methods["execute"].ID, func(ethereum.CallMsg) ([]byte, error) {
		f.simulations++
		return nil, f.simulateErr
	})
	return f
}

func (f *fixture) setPrice(feed common.Address, answer *big.Int) {
	now := big.NewInt(time.Now().Unix())
	f.backend.Return(feed, chain.PriceFeedABI, "latestRoundData", big.NewInt(1), answer, now, now, big.NewInt(1))
}

func (f *fixture) engine(t *testing.T, backend Backend) *Engine {
	t.Helper()
	if backend == nil {
		backend = f.backend
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	oracle := chain.NewOracleReader(f.backend)
	e, err := New(f.cfg, Dependencies{
		Contract: chain.NewContractReader(f.backend, contractAddr),
		Debt:     chain.NewDebtReader(f.backend, resolverAddr, big.NewInt(42), chain.WithDebtLogger(logger)),
		Prices:   oracle,
		Routes:   f.routes,
		Gate:     gate.New(f.backend, oracle, f.gateCfg, logger),
		Backend:  backend,
		Signer:   f.signer,
		Journal:  f.journal,
	}, WithLogger(logger))
	require.NoError(t, err)
	return e
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	j, err := journal.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRunNotNeededTouchesNothingElse(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	f.backend.Return(contractAddr, chain.RebalancerABI, "canExecute", false, big.NewInt(0))

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusNotNeeded, res.Status)
	require.Equal(t, 2, res.ExitCode())
	require.NotEmpty(t, res.RunID)
	require.Nil(t, res.Amounts)

	require.Equal(t, 1, f.backend.CallCount(contractAddr))
	require.Zero(t, f.backend.CallCount(resolverAddr))
	require.Zero(t, f.backend.CallCount(eurFeed))
	require.Zero(t, f.backend.CallCount(nativeFeed))
	require.Zero(t, f.routes.count())
	require.Empty(t, f.backend.EstimateMsgs)
	require.Zero(t, f.backend.SentCount())
}

func TestRunZeroDebtExecutesETHLegOnly(t *testing.T) {
	balance := eure(1000)
	f := newFixture(t, balance, big.NewInt(0))

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusExecuted, res.Status, res.Summary())
	require.Equal(t, 0, res.ExitCode())
	require.Equal(t, uint64(210_000), res.GasUsed)
	require.True(t, res.Submitted)

	require.Empty(t, f.routes.byDst(usdcToken))
	eth := f.routes.byDst(wethToken)
	require.Len(t, eth, 1)
	require.Equal(t, 0, eth[0].Amount.Cmp(balance))
	require.Equal(t, contractAddr, eth[0].Receiver)
	require.Equal(t, contractAddr, eth[0].Spender)
	require.Equal(t, uint64(50), eth[0].SlippageBps)
	require.Zero(t, f.backend.CallCount(eurFeed), "prices are not read without debt")

	require.Equal(t, 1, f.backend.SentCount())
	tx := f.backend.Sent[0]
	require.Equal(t, res.TxHash, tx.Hash().Hex())
	require.Equal(t, contractAddr, *tx.To())
	require.Equal(t, uint64(300_000), tx.Gas())
	require.Equal(t, int64(1_000_000_000), tx.GasPrice().Int64())
	sender, err := gethtypes.Sender(gethtypes.NewEIP155Signer(big.NewInt(100)), tx)
	require.NoError(t, err)
	require.Equal(t, f.signer.Address(), sender)

	method := chain.RebalancerABI.Methods["execute"]
	values, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, common.Address{}, values[0].(common.Address))
	require.Equal(t, routerExec, values[3].(common.Address))
}

func TestRunDebtScenarioDryRun(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(600_000_000))
	f.cfg.DryRun = true

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusDryRun, res.Status, res.Summary())
	require.Equal(t, 0, res.ExitCode())
	require.Equal(t, "561111111111111111110", res.Amounts.ForUSDC.String())
	require.Equal(t, "438888888888888888890", res.Amounts.ForETH.String())
	require.NotNil(t, res.Cost)
	require.Equal(t, uint64(250_000), res.Cost.GasUnits)

	usdc := f.routes.byDst(usdcToken)
	require.Len(t, usdc, 1)
	require.Equal(t, "561111111111111111110", usdc[0].Amount.String())
	require.Len(t, f.routes.byDst(wethToken), 1)

	require.Equal(t, 1, f.simulations, "dry run still simulates")
	require.Zero(t, f.backend.SentCount())
	require.False(t, res.Submitted)
	require.Empty(t, res.TxHash)
}

func TestRunIsIdempotentAcrossInvocations(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(600_000_000))
	f.cfg.DryRun = true

	first := f.engine(t, nil).Run(context.Background())
	second := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusDryRun, first.Status)
	require.Equal(t, first.Status, second.Status)
	require.NotEqual(t, first.RunID, second.RunID)
	require.Equal(t, first.Amounts, second.Amounts)
	require.Equal(t, first.Cost, second.Cost)
	require.Zero(t, f.backend.SentCount())
}

func TestRunReceiverMismatchBlocksWithoutSubmission(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(600_000_000))
	f.routes.errs[wethToken] = &outcome.ReceiverMismatchError{
		Expected: contractAddr.Hex(),
		Actual:   "0x000000000000000000000000000000000000dEaD",
	}

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusBlocked, res.Status)
	require.Equal(t, outcome.ReasonReceiverMismatch, res.Reason)
	require.Equal(t, 1, res.ExitCode())
	require.Empty(t, f.backend.EstimateMsgs)
	require.Zero(t, f.simulations)
	require.Zero(t, f.backend.SentCount())
}

func TestRunRouteNetworkFailure(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	f.routes.errs[wethToken] = &aggregator.NetworkError{Err: errors.New("connection refused")}

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusFailed, res.Status)
	require.Equal(t, outcome.ReasonNetwork, res.Reason)
	require.Contains(t, res.Error, "connection refused")
}

func TestRunCostCeilingBlocks(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	// 0.00025 native at 1,000,000 USD costs 250 USD.
	f.setPrice(nativeFeed, usd(100_000_000))

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusBlocked, res.Status)
	require.Equal(t, outcome.ReasonGasCostExceeded, res.Reason)
	require.NotNil(t, res.Cost)
	require.Zero(t, f.simulations)
	require.Zero(t, f.backend.SentCount())
}

func TestRunSimulationFailureBlocks(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	f.simulateErr = errors.New("execution reverted: slippage")

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusBlocked, res.Status)
	require.Equal(t, outcome.ReasonSimulationFailed, res.Reason)
	require.Contains(t, res.Error, "slippage")
	require.Zero(t, f.backend.SentCount())
}

func TestRunSlippageOverride(t *testing.T) {
	f := newFixture(t, eure(10), big.NewInt(0))
	f.cfg.SlippageBps = 75
	f.cfg.DryRun = true

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusDryRun, res.Status)
	eth := f.routes.byDst(wethToken)
	require.Len(t, eth, 1)
	require.Equal(t, uint64(75), eth[0].SlippageBps)
}

func TestRunEmptyBalanceIsNotNeeded(t *testing.T) {
	f := newFixture(t, big.NewInt(0), big.NewInt(0))
	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusNotNeeded, res.Status)
	require.Zero(t, f.routes.count())
}

func TestRunSendRejectionIsNotSubmitted(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	j := openJournal(t)
	f.journal = j
	f.backend.SendErr = &chaintest.RPCError{Code: -32000, Message: "nonce too low"}

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusFailed, res.Status)
	require.Equal(t, outcome.ReasonRPC, res.Reason)
	require.False(t, res.Submitted)
	require.Empty(t, res.TxHash)
	require.Equal(t, 1, f.backend.SentCount())

	pending, err := j.Pending(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRunSendInterruptedByCancellationIsSubmitted(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	j := openJournal(t)
	f.journal = j
	ctx, cancel := context.WithCancel(context.Background())
	backend := &droppedResponseBackend{Backend: f.backend, cancel: cancel}

	res := f.engine(t, backend).Run(ctx)
	require.Error(t, ctx.Err())
	require.NoError(t, backend.sendCtxErr, "broadcast runs detached from the caller")
	require.Equal(t, outcome.StatusExecuted, res.Status, res.Summary())
	require.True(t, res.Submitted)
	require.Equal(t, 1, f.backend.SentCount())
	require.Equal(t, f.backend.Sent[0].Hash().Hex(), res.TxHash)

	run, err := j.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	require.True(t, run.Submitted)
	require.Equal(t, res.TxHash, run.TxHash)
}

func TestRunUnknownSendOutcomeGuardsNextRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, eure(1000), big.NewInt(0))
	j := openJournal(t)
	f.journal = j
	f.backend.AutoMine = false
	f.cfg.ConfirmTimeout = 50 * time.Millisecond
	backend := &droppedResponseBackend{Backend: f.backend, cancel: func() {}}

	res := f.engine(t, backend).Run(ctx)
	require.Equal(t, outcome.StatusFailed, res.Status)
	require.Equal(t, outcome.ReasonConfirmationTimeout, res.Reason)
	require.True(t, res.Submitted)
	require.Equal(t, f.backend.Sent[0].Hash().Hex(), res.TxHash)

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, res.TxHash, pending[0].TxHash)

	retry := f.engine(t, nil).Run(ctx)
	require.Equal(t, outcome.StatusBlocked, retry.Status)
	require.Equal(t, outcome.ReasonPendingSubmission, retry.Reason)
	require.Equal(t, 1, f.backend.SentCount(), "no duplicate execute")
}

func TestRunGasPolicyStillRequiresSignerFunds(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	f.cfg.GasPolicyID = "policy-1"
	f.gateCfg.PolicyID = "policy-1"
	f.backend.Balances[f.signer.Address()] = big.NewInt(0)

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusBlocked, res.Status)
	require.Equal(t, outcome.ReasonInsufficientGasFunds, res.Reason)
	require.Zero(t, f.simulations)
	require.Zero(t, f.backend.SentCount())
}

func TestRunJournalBeginFailureFailsClosed(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	f.journal = failingJournal{err: errors.New("database is locked")}

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusFailed, res.Status)
	require.Equal(t, outcome.ReasonUnknown, res.Reason)
	require.Contains(t, res.Error, "database is locked")
	require.Zero(t, f.routes.count())
	require.Zero(t, f.backend.SentCount())
}

type failingJournal struct {
	err error
}

func (j failingJournal) Begin(context.Context, string, time.Time) error { return j.err }
func (j failingJournal) MarkSubmitted(context.Context, string, string) error {
	return nil
}
func (j failingJournal) Finish(context.Context, outcome.Result) error { return nil }
func (j failingJournal) Pending(context.Context) ([]journal.Run, error) {
	return nil, nil
}
func (j failingJournal) Resolve(context.Context, string, outcome.Status, outcome.Reason) error {
	return nil
}

// droppedResponseBackend delivers the transaction, then loses the response.
type droppedResponseBackend struct {
	*chaintest.Backend
	cancel     context.CancelFunc
	sendCtxErr error
}

func (b *droppedResponseBackend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	if err := b.Backend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	b.cancel()
	b.sendCtxErr = ctx.Err()
	return fmt.Errorf("post \"http://rpc.local\": %w", context.Canceled)
}

func TestRunConfirmationTimeoutReportsSubmission(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	f.backend.AutoMine = false
	f.cfg.ConfirmTimeout = 50 * time.Millisecond

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusFailed, res.Status)
	require.Equal(t, outcome.ReasonConfirmationTimeout, res.Reason)
	require.True(t, res.Submitted)
	require.NotEmpty(t, res.TxHash)
	require.Equal(t, 1, f.backend.SentCount(), "submission happens exactly once")
	require.Contains(t, res.Summary(), "submitted=true")
}

func TestRunConfirmationSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	ctx, cancel := context.WithCancel(context.Background())
	backend := &cancellingBackend{Backend: f.backend, cancel: cancel}

	res := f.engine(t, backend).Run(ctx)
	require.Equal(t, outcome.StatusExecuted, res.Status, res.Summary())
	require.Error(t, ctx.Err())
}

type cancellingBackend struct {
	*chaintest.Backend
	cancel context.CancelFunc
}

func (b *cancellingBackend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	err := b.Backend.SendTransaction(ctx, tx)
	b.cancel()
	return err
}

type revertingBackend struct {
	*chaintest.Backend
}

func (b *revertingBackend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	if err := b.Backend.SendTransaction(ctx, tx); err != nil {
		return err
	}
	b.Receipts[tx.Hash()].Status = gethtypes.ReceiptStatusFailed
	return nil
}

func TestRunRevertedReceipt(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))

	res := f.engine(t, &revertingBackend{Backend: f.backend}).Run(context.Background())
	require.Equal(t, outcome.StatusFailed, res.Status)
	require.Equal(t, outcome.ReasonReverted, res.Reason)
	require.True(t, res.Submitted)
	require.Equal(t, uint64(210_000), res.GasUsed)
}

func TestRunJournalsExecutedRun(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	j := openJournal(t)
	f.journal = j

	res := f.engine(t, nil).Run(context.Background())
	require.Equal(t, outcome.StatusExecuted, res.Status)

	run, err := j.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Equal(t, "executed", run.Status)
	require.Equal(t, res.TxHash, run.TxHash)
	require.True(t, run.Submitted)
	require.True(t, run.Resolved)
}

func TestRunPendingSubmissionGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, eure(1000), big.NewInt(0))
	j := openJournal(t)
	f.journal = j

	pendingHash := common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, j.Begin(ctx, "previous", time.Now().Add(-time.Minute)))
	require.NoError(t, j.MarkSubmitted(ctx, "previous", pendingHash.Hex()))

	res := f.engine(t, nil).Run(ctx)
	require.Equal(t, outcome.StatusBlocked, res.Status)
	require.Equal(t, outcome.ReasonPendingSubmission, res.Reason)
	require.Zero(t, f.routes.count())
	require.Zero(t, f.backend.SentCount())

	f.backend.Receipts[pendingHash] = &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, TxHash: pendingHash}
	res = f.engine(t, nil).Run(ctx)
	require.Equal(t, outcome.StatusExecuted, res.Status, res.Summary())

	previous, err := j.Get(ctx, "previous")
	require.NoError(t, err)
	require.True(t, previous.Resolved)
	require.Equal(t, "executed", previous.Status)
}

func TestRunStrictDebtFailure(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	f.backend.Handle(resolverAddr, chain.FluidPositionV1.Selector(), func(ethereum.CallMsg) ([]byte, error) {
		return []byte{0x01}, nil
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	oracle := chain.NewOracleReader(f.backend)
	e, err := New(f.cfg, Dependencies{
		Contract: chain.NewContractReader(f.backend, contractAddr),
		Debt:     chain.NewDebtReader(f.backend, resolverAddr, big.NewInt(42), chain.WithStrictDebt(true)),
		Prices:   oracle,
		Routes:   f.routes,
		Gate:     gate.New(f.backend, oracle, f.gateCfg, logger),
		Backend:  f.backend,
		Signer:   f.signer,
	}, WithLogger(logger))
	require.NoError(t, err)

	res := e.Run(context.Background())
	require.Equal(t, outcome.StatusFailed, res.Status)
	require.Equal(t, outcome.ReasonDecode, res.Reason)
	require.Zero(t, f.routes.count())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, eure(1000), big.NewInt(0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.engine(t, nil).Run(ctx)
	require.Equal(t, outcome.StatusFailed, res.Status)
	require.Zero(t, f.backend.CallCount(contractAddr))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{}, Dependencies{})
	require.Error(t, err)
}
