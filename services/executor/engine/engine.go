// Package engine drives one rebalance decision cycle from eligibility to confirmation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"rebalancer/observability"
	"rebalancer/services/executor/aggregator"
	"rebalancer/services/executor/allocation"
	"rebalancer/services/executor/chain"
	"rebalancer/services/executor/gate"
	"rebalancer/services/executor/journal"
	"rebalancer/services/executor/outcome"
	"rebalancer/services/executor/txbuilder"
)

const (
	// DefaultConfirmTimeout bounds the receipt wait after submission.
	DefaultConfirmTimeout = 3 * time.Minute
	// DefaultPollInterval is the receipt polling cadence.
	DefaultPollInterval = 5 * time.Second
	// DefaultSubmitTimeout bounds nonce lookup, signing and broadcast.
	DefaultSubmitTimeout = 30 * time.Second
)

// Stage names a step of the decision cycle.
type Stage string

const (
	StageCheckingEligibility Stage = "checking_eligibility"
	StagePendingGuard        Stage = "pending_guard"
	StageReadingState        Stage = "reading_state"
	StageAllocating          Stage = "allocating"
	StageFetchingRoutes      Stage = "fetching_routes"
	StageBuilding            Stage = "building"
	StageGating              Stage = "gating"
	StageSimulating          Stage = "simulating"
	StageSubmitting          Stage = "submitting"
	StageConfirming          Stage = "confirming"
)

// ContractReader reads rebalancer state.
type ContractReader interface {
	Address() common.Address
	CanExecute(ctx context.Context, at *big.Int) (chain.Eligibility, error)
	Balances(ctx context.Context, at *big.Int) (chain.BalanceSnapshot, error)
	MaxSlippageBps(ctx context.Context, at *big.Int) (uint64, error)
}

// DebtReader resolves the vault debt in USDC units.
type DebtReader interface {
	VaultDebt(ctx context.Context, at *big.Int) (*big.Int, error)
}

// RouteFetcher returns validated aggregator routes.
type RouteFetcher interface {
	FetchRoute(ctx context.Context, req aggregator.Request) (aggregator.SwapRoute, error)
}

// Gate runs the cost and safety checks.
type Gate interface {
	Estimate(ctx context.Context, payload []byte) (gate.Estimate, error)
	Check(ctx context.Context, est gate.Estimate, dryRun bool) error
	Simulate(ctx context.Context, payload []byte) error
}

// Backend is the chain access needed for submission and confirmation.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Signer signs execute transactions.
type Signer interface {
	Address() common.Address
	SignTx(tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
}

// Journal persists run records and exposes unresolved submissions.
type Journal interface {
	Begin(ctx context.Context, runID string, startedAt time.Time) error
	MarkSubmitted(ctx context.Context, runID, txHash string) error
	Finish(ctx context.Context, res outcome.Result) error
	Pending(ctx context.Context) ([]journal.Run, error)
	Resolve(ctx context.Context, runID string, status outcome.Status, reason outcome.Reason) error
}

// Config carries the static parameters of a run.
type Config struct {
	EURe        common.Address
	USDC        common.Address
	WETH        common.Address
	EURUSDFeed  common.Address
	USDCUSDFeed common.Address
	// SlippageBps overrides the contract's maxSlippageBps when non-zero.
	SlippageBps    uint64
	DryRun         bool
	GasPolicyID    string
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Dependencies are the collaborators of an engine. Journal is optional.
type Dependencies struct {
	Contract ContractReader
	Debt     DebtReader
	Prices   gate.PriceReader
	Routes   RouteFetcher
	Gate     Gate
	Backend  Backend
	Signer   Signer
	Journal  Journal
}

// Engine executes a single decision cycle. Construct a fresh engine per invocation.
type Engine struct {
	cfg     Config
	deps    Dependencies
	logger  *slog.Logger
	metrics *observability.ExecutorMetrics
	events  interface{ RecordTransaction(string) }
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option customises the engine.
type Option func(*Engine)

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. Nil disables metrics.
func WithMetrics(m *observability.ExecutorMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithRunID fixes the identifier generator.
func WithRunID(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New constructs an engine.
func New(cfg Config, deps Dependencies, opts ...Option) (*Engine, error) {
	switch {
	case deps.Contract == nil:
		return nil, errors.New("engine: contract reader required")
	case deps.Debt == nil:
		return nil, errors.New("engine: debt reader required")
	case deps.Prices == nil:
		return nil, errors.New("engine: price reader required")
	case deps.Routes == nil:
		return nil, errors.New("engine: route fetcher required")
	case deps.Gate == nil:
		return nil, errors.New("engine: gate required")
	case deps.Backend == nil:
		return nil, errors.New("engine: backend required")
	case deps.Signer == nil:
		return nil, errors.New("engine: signer required")
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		logger:  slog.Default(),
		metrics: observability.Executor(),
		events:  observability.Events(),
		tracer:  otel.Tracer("rebalancer/executor"),
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// run is the mutable state of one cycle.
type run struct {
	id        string
	logger    *slog.Logger
	journaled bool
	at        *big.Int
	snapshot  chain.BalanceSnapshot
	slippage  uint64
	debt      *big.Int
	eurUsd    *big.Int
	usdcUsd   *big.Int
	plan      allocation.Plan
	usdcRoute *aggregator.SwapRoute
	ethRoute  *aggregator.SwapRoute
	payload   []byte
	estimate  gate.Estimate
	hasEst    bool
	txHash    common.Hash
	submitted bool
	gasUsed   uint64
}

// Run executes the cycle and returns exactly one result. It never panics on collaborator
// errors; every failure is classified into the result.
func (e *Engine) Run(ctx context.Context) outcome.Result {
	r := &run{id: e.newID()}
	r.logger = e.logger.With(slog.String("run_id", r.id))
	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("run_id", r.id),
		attribute.Bool("dry_run", e.cfg.DryRun),
	))
	defer span.End()

	started := e.now()
	res := e.execute(ctx, r)
	res.RunID = r.id
	if r.submitted {
		res.Submitted = true
		res.TxHash = r.txHash.Hex()
	}
	if res.GasUsed == 0 {
		res.GasUsed = r.gasUsed
	}
	if res.Status != outcome.StatusNotNeeded {
		plan := r.plan
		if plan.ForUSDC != nil && plan.ForETH != nil {
			res.Amounts = &outcome.Amounts{ForUSDC: plan.ForUSDC, ForETH: plan.ForETH}
		}
		if r.hasEst {
			res.Cost = r.estimate.Cost()
		}
	}

	if r.journaled {
		if err := e.deps.Journal.Finish(context.WithoutCancel(ctx), res); err != nil {
			r.logger.Warn("journal finish failed", slog.Any("error", err))
		}
	}
	e.metrics.RecordRun(string(res.Status), string(res.Reason), e.now())
	span.SetAttributes(attribute.String("status", string(res.Status)), attribute.String("reason", string(res.Reason)))
	if res.Status == outcome.StatusFailed {
		span.SetStatus(codes.Error, res.Error)
	}

	attrs := []any{
		slog.String("status", string(res.Status)),
		slog.Duration("elapsed", e.now().Sub(started)),
	}
	if res.Reason != outcome.ReasonNone {
		attrs = append(attrs, slog.String("reason", string(res.Reason)))
	}
	if res.TxHash != "" {
		attrs = append(attrs, slog.String("tx_hash", res.TxHash))
	}
	switch {
	case res.Status == outcome.StatusFailed:
		attrs = append(attrs, slog.String("error", res.Error))
		r.logger.Error("run finished", attrs...)
	case res.Reason.Blocking():
		attrs = append(attrs, slog.String("error", res.Error))
		r.logger.Warn("run finished", attrs...)
	default:
		r.logger.Info("run finished", attrs...)
	}
	return res
}

func (e *Engine) execute(ctx context.Context, r *run) outcome.Result {
	var ready bool
	err := e.stage(ctx, r, StageCheckingEligibility, func(ctx context.Context) error {
		block, err := e.deps.Backend.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("block number: %w: %w", outcome.ErrRPC, err)
		}
		r.at = new(big.Int).SetUint64(block)
		eligibility, err := e.deps.Contract.CanExecute(ctx, r.at)
		if err != nil {
			return fmt.Errorf("eligibility: %w", err)
		}
		ready = eligibility.Ready
		return nil
	})
	if err != nil {
		return failure(err)
	}
	if !ready {
		return outcome.Result{Status: outcome.StatusNotNeeded}
	}

	if e.deps.Journal != nil {
		if err := e.stage(ctx, r, StagePendingGuard, func(ctx context.Context) error {
			return e.guardPending(ctx, r)
		}); err != nil {
			return failure(err)
		}
		if err := e.deps.Journal.Begin(ctx, r.id, e.now()); err != nil {
			return failure(fmt.Errorf("journal begin: %w", err))
		}
		r.journaled = true
	}

	if err := e.stage(ctx, r, StageReadingState, func(ctx context.Context) error {
		return e.readState(ctx, r)
	}); err != nil {
		return failure(err)
	}

	if err := e.stage(ctx, r, StageAllocating, func(context.Context) error {
		plan, err := allocation.Compute(r.snapshot.EURe, r.debt, r.eurUsd, r.usdcUsd)
		if err != nil {
			return err
		}
		r.plan = plan
		e.metrics.RecordAllocation(plan.ForUSDC, plan.ForETH)
		r.logger.Info("allocation computed",
			slog.String("eure_for_usdc", outcome.FormatUnits(plan.ForUSDC, allocation.BalanceDecimals)),
			slog.String("eure_for_eth", outcome.FormatUnits(plan.ForETH, allocation.BalanceDecimals)))
		return nil
	}); err != nil {
		return failure(err)
	}
	if r.plan.Total().Sign() == 0 {
		r.logger.Info("contract holds no EURe; nothing to allocate")
		return outcome.Result{Status: outcome.StatusNotNeeded}
	}

	if err := e.stage(ctx, r, StageFetchingRoutes, func(ctx context.Context) error {
		return e.fetchRoutes(ctx, r)
	}); err != nil {
		return failure(err)
	}

	if err := e.stage(ctx, r, StageBuilding, func(context.Context) error {
		payload, err := txbuilder.Build(txbuilder.LegFor(r.usdcRoute), txbuilder.LegFor(r.ethRoute))
		if err != nil {
			return err
		}
		r.payload = payload
		return nil
	}); err != nil {
		return failure(err)
	}

	if err := e.stage(ctx, r, StageGating, func(ctx context.Context) error {
		est, err := e.deps.Gate.Estimate(ctx, r.payload)
		if err != nil {
			return err
		}
		r.estimate = est
		r.hasEst = true
		e.metrics.RecordEstimate(est.GasUnits, est.TotalCostFiat)
		r.logger.Info("gas estimated",
			slog.Uint64("gas_units", est.GasUnits),
			slog.String("gas_price_wei", est.GasPriceWei.String()),
			slog.String("cost_usd", outcome.FormatUnits(est.TotalCostFiat, chain.PriceDecimals)))
		return e.deps.Gate.Check(ctx, est, e.cfg.DryRun)
	}); err != nil {
		return failure(err)
	}

	if err := e.stage(ctx, r, StageSimulating, func(ctx context.Context) error {
		return e.deps.Gate.Simulate(ctx, r.payload)
	}); err != nil {
		return failure(err)
	}

	if e.cfg.DryRun {
		return outcome.Result{Status: outcome.StatusDryRun}
	}

	// Once broadcast starts the caller can no longer cancel it.
	if err := ctx.Err(); err != nil {
		return failure(fmt.Errorf("%s: %w", StageSubmitting, err))
	}
	submitCtx, cancelSubmit := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SubmitTimeout)
	err = e.stage(submitCtx, r, StageSubmitting, func(ctx context.Context) error {
		return e.submit(ctx, r)
	})
	cancelSubmit()
	if err != nil {
		return failure(err)
	}

	// The transaction is out; the wait must not be cut short by the caller.
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ConfirmTimeout)
	defer cancel()
	if err := e.stage(waitCtx, r, StageConfirming, func(ctx context.Context) error {
		return e.confirm(ctx, r)
	}); err != nil {
		return failure(err)
	}
	return outcome.Result{Status: outcome.StatusExecuted, GasUsed: r.gasUsed}
}

func (e *Engine) stage(ctx context.Context, r *run, s Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	ctx, span := e.tracer.Start(ctx, "executor."+string(s))
	defer span.End()
	start := e.now()
	err := fn(ctx)
	e.metrics.ObserveStage(string(s), e.now().Sub(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.logger.Debug("stage complete", slog.String("stage", string(s)))
	return nil
}

func failure(err error) outcome.Result {
	status, reason := outcome.Classify(err)
	return outcome.Result{Status: status, Reason: reason, Error: err.Error()}
}

func (e *Engine) readState(ctx context.Context, r *run) error {
	snapshot, err := e.deps.Contract.Balances(ctx, r.at)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	r.snapshot = snapshot

	r.slippage = e.cfg.SlippageBps
	if r.slippage == 0 {
		slippage, err := e.deps.Contract.MaxSlippageBps(ctx, r.at)
		if err != nil {
			return fmt.Errorf("max slippage: %w", err)
		}
		r.slippage = slippage
	}

	debt, err := e.deps.Debt.VaultDebt(ctx, r.at)
	if err != nil {
		return fmt.Errorf("vault debt: %w", err)
	}
	r.debt = debt
	e.metrics.RecordDebt(debt)

	if debt.Sign() > 0 {
		if r.eurUsd, err = e.deps.Prices.LatestPrice(ctx, e.cfg.EURUSDFeed, r.at); err != nil {
			return err
		}
		if r.usdcUsd, err = e.deps.Prices.LatestPrice(ctx, e.cfg.USDCUSDFeed, r.at); err != nil {
			return err
		}
		e.metrics.RecordPrice("eur_usd", r.eurUsd)
		e.metrics.RecordPrice("usdc_usd", r.usdcUsd)
	}

	r.logger.Info("state read",
		slog.String("block", r.at.String()),
		slog.String("eure", outcome.FormatUnits(snapshot.EURe, allocation.BalanceDecimals)),
		slog.String("debt_usdc", outcome.FormatUnits(debt, chain.DebtDecimals)),
		slog.Uint64("slippage_bps", r.slippage))
	return nil
}

func (e *Engine) fetchRoutes(ctx context.Context, r *run) error {
	contract := e.deps.Contract.Address()
	request := func(dst common.Address, amount *big.Int) aggregator.Request {
		return aggregator.Request{
			Src:         e.cfg.EURe,
			Dst:         dst,
			Amount:      amount,
			Spender:     contract,
			Receiver:    contract,
			SlippageBps: r.slippage,
		}
	}

	var usdcErr, ethErr error
	g, gctx := errgroup.WithContext(ctx)
	if r.plan.ForUSDC.Sign() > 0 {
		g.Go(func() error {
			route, err := e.deps.Routes.FetchRoute(gctx, request(e.cfg.USDC, r.plan.ForUSDC))
			e.metrics.RecordRoute("usdc", err)
			if err != nil {
				usdcErr = fmt.Errorf("usdc route: %w", err)
				return usdcErr
			}
			r.usdcRoute = &route
			return nil
		})
	}
	if r.plan.ForETH.Sign() > 0 {
		g.Go(func() error {
			route, err := e.deps.Routes.FetchRoute(gctx, request(e.cfg.WETH, r.plan.ForETH))
			e.metrics.RecordRoute("eth", err)
			if err != nil {
				ethErr = fmt.Errorf("eth route: %w", err)
				return ethErr
			}
			r.ethRoute = &route
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Join(usdcErr, ethErr)
	}
	return nil
}

func (e *Engine) submit(ctx context.Context, r *run) error {
	from := e.deps.Signer.Address()
	nonce, err := e.deps.Backend.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("pending nonce: %w: %w", outcome.ErrRPC, err)
	}
	chainID, err := e.deps.Backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w: %w", outcome.ErrRPC, err)
	}
	to := e.deps.Contract.Address()
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      r.estimate.GasLimit(),
		GasPrice: new(big.Int).Set(r.estimate.GasPriceWei),
		Data:     r.payload,
	})
	signed, err := e.deps.Signer.SignTx(tx, chainID)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	r.txHash = signed.Hash()
	if err := e.deps.Backend.SendTransaction(ctx, signed); err != nil {
		if chain.Rejected(err) {
			return fmt.Errorf("send transaction %s: %w: %w", r.txHash.Hex(), outcome.ErrRPC, err)
		}
		// The node may hold the transaction; confirmation decides.
		r.logger.Warn("send outcome unknown, treating transaction as submitted",
			slog.String("tx_hash", r.txHash.Hex()),
			slog.Any("error", err))
		e.events.RecordTransaction("send_unknown")
	}
	r.submitted = true
	e.events.RecordTransaction("submitted")

	attrs := []any{
		slog.String("tx_hash", r.txHash.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", tx.Gas()),
	}
	if e.cfg.GasPolicyID != "" {
		attrs = append(attrs, slog.String("gas_policy_id", e.cfg.GasPolicyID))
	}
	r.logger.Info("execute transaction submitted", attrs...)

	if r.journaled {
		if err := e.deps.Journal.MarkSubmitted(context.WithoutCancel(ctx), r.id, r.txHash.Hex()); err != nil {
			r.logger.Error("journal mark submitted failed", slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) confirm(ctx context.Context, r *run) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.deps.Backend.TransactionReceipt(ctx, r.txHash)
		switch {
		case err == nil && receipt != nil:
			r.gasUsed = receipt.GasUsed
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				e.events.RecordTransaction("reverted")
				return fmt.Errorf("transaction %s: %w", r.txHash.Hex(), outcome.ErrReverted)
			}
			e.events.RecordTransaction("confirmed")
			return nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			r.logger.Warn("receipt lookup failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			e.events.RecordTransaction("timeout")
			return fmt.Errorf("transaction %s after %s: %w", r.txHash.Hex(), e.cfg.ConfirmTimeout, outcome.ErrConfirmationTimeout)
		case <-ticker.C:
		}
	}
}

// guardPending resolves journal entries whose receipts have appeared and blocks the run
// while any submission is still outstanding.
func (e *Engine) guardPending(ctx context.Context, r *run) error {
	pending, err := e.deps.Journal.Pending(ctx)
	if err != nil {
		return fmt.Errorf("pending submissions: %w", err)
	}
	for _, entry := range pending {
		hash := common.HexToHash(entry.TxHash)
		receipt, err := e.deps.Backend.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
			return &outcome.PendingSubmissionError{TxHash: entry.TxHash}
		}
		if err != nil {
			return fmt.Errorf("receipt %s: %w: %w", entry.TxHash, outcome.ErrRPC, err)
		}
		status, reason := outcome.StatusExecuted, outcome.ReasonNone
		if receipt.Status != gethtypes.ReceiptStatusSuccessful {
			status, reason = outcome.StatusFailed, outcome.ReasonReverted
		}
		if err := e.deps.Journal.Resolve(ctx, entry.ID, status, reason); err != nil {
			return err
		}
		r.logger.Info("resolved earlier submission",
			slog.String("previous_run", entry.ID),
			slog.String("tx_hash", entry.TxHash),
			slog.String("status", string(status)))
	}
	return nil
}
