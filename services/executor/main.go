// Package executor wires configuration, chain access and the engine into a one-shot
// rebalance run.
package executor

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rebalancer/observability"
	"rebalancer/observability/logging"
	telemetry "rebalancer/observability/otel"
	"rebalancer/services/executor/aggregator"
	"rebalancer/services/executor/chain"
	"rebalancer/services/executor/config"
	"rebalancer/services/executor/engine"
	"rebalancer/services/executor/gate"
	"rebalancer/services/executor/journal"
	"rebalancer/services/executor/outcome"
)

// Version is stamped at build time with -ldflags "-X rebalancer/services/executor.Version=...".
var Version = "dev"

const (
	dialTimeout = 10 * time.Second
	pushTimeout = 10 * time.Second
)

// Option customises Main.
type Option func(*options)

type options struct {
	args       []string
	stdout     io.Writer
	stderr     io.Writer
	passphrase PassphraseSource
}

// WithArgs overrides os.Args[1:].
func WithArgs(args []string) Option {
	return func(o *options) { o.args = args }
}

// WithOutput redirects the summary and bootstrap errors.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithPassphraseSource supplies keystore passphrase resolution.
func WithPassphraseSource(src PassphraseSource) Option {
	return func(o *options) { o.passphrase = src }
}

// Main runs one decision cycle and returns the process exit code: 0 executed or dry
// run, 2 nothing to do, 1 anything else.
func Main(opts ...Option) int {
	o := &options{args: os.Args[1:], stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	flags := flag.NewFlagSet("executor", flag.ContinueOnError)
	flags.SetOutput(o.stderr)
	cfgPath := flags.String("config", "executor.yaml", "path to executor config (.yaml or .toml)")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the config")
	dryRun := flags.Bool("dry-run", false, "simulate without submitting (overrides config)")
	clearPending := flags.Bool("clear-pending", false, "mark unresolved journal submissions as abandoned and exit")
	if err := flags.Parse(o.args); err != nil {
		return 1
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return bootstrapFailure(o, fmt.Errorf("dotenv: %w", err))
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return bootstrapFailure(o, fmt.Errorf("load config: %w", err))
	}
	if *dryRun {
		cfg.DryRun = true
	}

	logger, logCloser := logging.Setup(cfg.Observability.ServiceName, cfg.Observability.Environment, logging.Options{
		Level: cfg.Observability.LogLevel,
		File:  cfg.Observability.LogFile,
	})
	defer logCloser.Close()

	headers := cfg.Observability.OTLPHeaders
	if len(headers) == 0 {
		headers = telemetry.ParseHeaders(os.Getenv("EXECUTOR_OTLP_HEADERS"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		Insecure:       cfg.Observability.OTLPInsecure,
		Headers:        headers,
		Traces:         true,
		Metrics:        cfg.Observability.OTLPMetrics,
		SampleRatio:    cfg.Observability.SampleRatio,
	})
	if err != nil {
		logger.Warn("telemetry disabled", slog.Any("error", err))
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			defer cancel()
			_ = shutdownTelemetry(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *clearPending {
		return clearJournal(ctx, cfg, logger)
	}

	res := run(ctx, cfg, o, logger)
	fmt.Fprintln(o.stdout, res.Summary())

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	grouping := map[string]string{"contract": cfg.Resolved.Contract.Hex()}
	if err := observability.Push(pushCtx, cfg.Observability.PushgatewayURL, cfg.Observability.ServiceName, grouping); err != nil {
		logger.Warn("metrics push failed", slog.Any("error", err))
	}
	return res.ExitCode()
}

func run(ctx context.Context, cfg config.Config, o *options, logger *slog.Logger) outcome.Result {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	client, err := chain.Dial(dialCtx, cfg.RPCURL)
	cancel()
	if err != nil {
		return setupFailure(err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return setupFailure(fmt.Errorf("chain id: %w: %w", outcome.ErrRPC, err))
	}
	if chainID.Uint64() != cfg.ChainID {
		return setupFailure(fmt.Errorf("rpc chain id %s does not match configured %d", chainID, cfg.ChainID))
	}

	signer, err := loadSigner(cfg.Signer, o.passphrase)
	if err != nil {
		return setupFailure(fmt.Errorf("load signer: %w", err))
	}

	var runJournal engine.Journal
	if path := strings.TrimSpace(cfg.Journal.Path); path != "" {
		j, err := openJournal(path)
		if err != nil {
			return setupFailure(err)
		}
		defer j.Close()
		runJournal = j
	}

	routes, err := aggregator.NewClient(aggregator.Config{
		BaseURL:   cfg.Aggregator.BaseURL,
		APIKey:    cfg.Aggregator.APIKey,
		ChainID:   cfg.ChainID,
		Timeout:   cfg.Aggregator.Timeout.Duration,
		RateLimit: cfg.Aggregator.RateLimit,
		Burst:     cfg.Aggregator.Burst,
	})
	if err != nil {
		return setupFailure(err)
	}

	r := cfg.Resolved
	oracle := chain.NewOracleReader(client, chain.WithMaxAge(cfg.Oracles.MaxAge.Duration))
	safety := gate.New(client, oracle, gate.Config{
		From:       signer.Address(),
		To:         r.Contract,
		NativeFeed: r.NativeFeed,
		Ceiling:    r.CostCeiling,
		PolicyID:   cfg.Gas.PolicyID,
	}, logger)

	debtOpts := []chain.DebtOption{chain.WithStrictDebt(r.StrictDebt), chain.WithDebtLogger(logger)}
	if decoder, ok := chain.LookupDebtDecoder(cfg.Debt.Decoder); ok {
		debtOpts = append(debtOpts, chain.WithDecoder(decoder))
	} else {
		return setupFailure(fmt.Errorf("unknown debt decoder %q", cfg.Debt.Decoder))
	}

	eng, err := engine.New(engine.Config{
		EURe:           r.EURe,
		USDC:           r.USDC,
		WETH:           r.WETH,
		EURUSDFeed:     r.EURUSDFeed,
		USDCUSDFeed:    r.USDCUSDFeed,
		SlippageBps:    cfg.SlippageBps,
		DryRun:         cfg.DryRun,
		GasPolicyID:    cfg.Gas.PolicyID,
		ConfirmTimeout: cfg.Gas.ConfirmTimeout.Duration,
		PollInterval:   cfg.Gas.PollInterval.Duration,
	}, engine.Dependencies{
		Contract: chain.NewContractReader(client, r.Contract),
		Debt:     chain.NewDebtReader(client, r.Resolver, r.PositionID, debtOpts...),
		Prices:   oracle,
		Routes:   routes,
		Gate:     safety,
		Backend:  client,
		Signer:   signer,
		Journal:  runJournal,
	}, engine.WithLogger(logger))
	if err != nil {
		return setupFailure(err)
	}

	logger.Info("executor starting",
		slog.String("contract", r.Contract.Hex()),
		slog.String("signer", signer.Address().Hex()),
		logging.MaskField("rpc_host", rpcHost(cfg.RPCURL)),
		slog.String("aggregator_api_key", logging.MaskSecret(cfg.Aggregator.APIKey)),
		slog.Bool("dry_run", cfg.DryRun))
	return eng.Run(ctx)
}

func openJournal(path string) (*journal.Journal, error) {
	dsn, err := journal.FileDSN(path)
	if err != nil {
		return nil, err
	}
	return journal.Open(dsn)
}

func clearJournal(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	if strings.TrimSpace(cfg.Journal.Path) == "" {
		logger.Error("clear-pending requires journal.path")
		return 1
	}
	j, err := openJournal(cfg.Journal.Path)
	if err != nil {
		logger.Error("open journal", slog.Any("error", err))
		return 1
	}
	defer j.Close()
	pending, err := j.Pending(ctx)
	if err != nil {
		logger.Error("list pending submissions", slog.Any("error", err))
		return 1
	}
	for _, entry := range pending {
		if err := j.Resolve(ctx, entry.ID, outcome.StatusFailed, outcome.ReasonUnknown); err != nil {
			logger.Error("resolve submission", slog.String("run_id", entry.ID), slog.Any("error", err))
			return 1
		}
		logger.Warn("submission marked abandoned", slog.String("run_id", entry.ID), slog.String("tx_hash", entry.TxHash))
	}
	return 0
}

func setupFailure(err error) outcome.Result {
	status, reason := outcome.Classify(err)
	return outcome.Result{Status: status, Reason: reason, Error: err.Error()}
}

func bootstrapFailure(o *options, err error) int {
	res := setupFailure(err)
	fmt.Fprintln(o.stderr, res.Summary())
	return res.ExitCode()
}

func rpcHost(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host
}
