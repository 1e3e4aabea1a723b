// Package config loads and validates the executor configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DebtPolicyZero  = "zero"
	DebtPolicyAbort = "abort"

	defaultChainID        = 100
	defaultAggregatorURL  = "https://api.1inch.dev"
	defaultCostCeiling    = "0.50"
	defaultDebtDecoder    = "fluid-position-v1"
	defaultServiceName    = "rebalance-executor"
	defaultEnvironment    = "dev"
	fiatDecimals          = 8
	maxSlippageBpsAllowed = 10_000
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration of one executor invocation.
type Config struct {
	RPCURL        string              `yaml:"rpc_url" toml:"rpc_url"`
	ChainID       uint64              `yaml:"chain_id" toml:"chain_id"`
	Contract      string              `yaml:"contract" toml:"contract"`
	DryRun        bool                `yaml:"dry_run" toml:"dry_run"`
	SlippageBps   uint64              `yaml:"slippage_bps" toml:"slippage_bps"`
	Tokens        TokensConfig        `yaml:"tokens" toml:"tokens"`
	Oracles       OraclesConfig       `yaml:"oracles" toml:"oracles"`
	Debt          DebtConfig          `yaml:"debt" toml:"debt"`
	Aggregator    AggregatorConfig    `yaml:"aggregator" toml:"aggregator"`
	Signer        SignerConfig        `yaml:"signer" toml:"signer"`
	Gas           GasConfig           `yaml:"gas" toml:"gas"`
	Journal       JournalConfig       `yaml:"journal" toml:"journal"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`

	Resolved Resolved `yaml:"-" toml:"-"`
}

// TokensConfig lists the ERC-20 tokens the rebalancer handles.
type TokensConfig struct {
	EURe string `yaml:"eure" toml:"eure"`
	USDC string `yaml:"usdc" toml:"usdc"`
	WETH string `yaml:"weth" toml:"weth"`
}

// OraclesConfig lists the Chainlink-style price feeds.
type OraclesConfig struct {
	EURUSD    string   `yaml:"eur_usd" toml:"eur_usd"`
	USDCUSD   string   `yaml:"usdc_usd" toml:"usdc_usd"`
	NativeUSD string   `yaml:"native_usd" toml:"native_usd"`
	MaxAge    Duration `yaml:"max_age" toml:"max_age"`
}

// DebtConfig locates the vault position.
type DebtConfig struct {
	Resolver      string `yaml:"resolver" toml:"resolver"`
	PositionID    string `yaml:"position_id" toml:"position_id"`
	Decoder       string `yaml:"decoder" toml:"decoder"`
	OnReadFailure string `yaml:"on_read_failure" toml:"on_read_failure"`
}

// AggregatorConfig configures the swap route API client.
type AggregatorConfig struct {
	BaseURL    string   `yaml:"base_url" toml:"base_url"`
	APIKey     string   `yaml:"api_key" toml:"api_key"`
	APIKeyEnv  string   `yaml:"api_key_env" toml:"api_key_env"`
	APIKeyFile string   `yaml:"api_key_file" toml:"api_key_file"`
	Timeout    Duration `yaml:"timeout" toml:"timeout"`
	RateLimit  float64  `yaml:"rate_limit" toml:"rate_limit"`
	Burst      int      `yaml:"burst" toml:"burst"`
}

// SignerConfig selects the key used to sign execute transactions. Exactly one of a raw
// key source or a keystore is used; a raw key wins when both are present.
type SignerConfig struct {
	Key            string `yaml:"key" toml:"key"`
	KeyEnv         string `yaml:"key_env" toml:"key_env"`
	KeyFile        string `yaml:"key_file" toml:"key_file"`
	Keystore       string `yaml:"keystore" toml:"keystore"`
	PassphraseEnv  string `yaml:"passphrase_env" toml:"passphrase_env"`
	PassphraseFile string `yaml:"passphrase_file" toml:"passphrase_file"`
}

// GasConfig holds the cost policy.
type GasConfig struct {
	CostCeilingUSD string   `yaml:"cost_ceiling_usd" toml:"cost_ceiling_usd"`
	PolicyID       string   `yaml:"policy_id" toml:"policy_id"`
	ConfirmTimeout Duration `yaml:"confirm_timeout" toml:"confirm_timeout"`
	PollInterval   Duration `yaml:"poll_interval" toml:"poll_interval"`
}

// JournalConfig enables the SQLite run journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ObservabilityConfig configures logging, metrics push and tracing.
type ObservabilityConfig struct {
	ServiceName    string            `yaml:"service_name" toml:"service_name"`
	Environment    string            `yaml:"environment" toml:"environment"`
	LogLevel       string            `yaml:"log_level" toml:"log_level"`
	LogFile        string            `yaml:"log_file" toml:"log_file"`
	PushgatewayURL string            `yaml:"pushgateway_url" toml:"pushgateway_url"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure   bool              `yaml:"otlp_insecure" toml:"otlp_insecure"`
	OTLPHeaders    map[string]string `yaml:"otlp_headers" toml:"otlp_headers"`
	OTLPMetrics    bool              `yaml:"otlp_metrics" toml:"otlp_metrics"`
	SampleRatio    float64           `yaml:"trace_sample_ratio" toml:"trace_sample_ratio"`
}

// Resolved carries the typed values derived during validation.
type Resolved struct {
	Contract    common.Address
	EURe        common.Address
	USDC        common.Address
	WETH        common.Address
	EURUSDFeed  common.Address
	USDCUSDFeed common.Address
	NativeFeed  common.Address
	Resolver    common.Address
	PositionID  *big.Int
	CostCeiling *big.Int
	StrictDebt  bool
}

// LoadDotEnv populates the process environment from dotenv files that exist. Variables
// already set are left untouched.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads configuration from path. Files ending in .toml are decoded as TOML, anything
// else as YAML. Environment overrides are applied before validation.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Aggregator.normalise(); err != nil {
		return cfg, fmt.Errorf("aggregator: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookup("EXECUTOR_RPC_URL"); ok {
		cfg.RPCURL = v
	}
	if v, ok := lookup("EXECUTOR_CONTRACT"); ok {
		cfg.Contract = v
	}
	if v, ok := lookup("EXECUTOR_GAS_POLICY_ID"); ok {
		cfg.Gas.PolicyID = v
	}
	if v, ok := lookup("EXECUTOR_PUSHGATEWAY_URL"); ok {
		cfg.Observability.PushgatewayURL = v
	}
	if v, ok := lookup("EXECUTOR_DRY_RUN"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("EXECUTOR_DRY_RUN: %w", err)
		}
		cfg.DryRun = parsed
	}
	return nil
}

func lookup(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func applyDefaults(cfg *Config) {
	if cfg.ChainID == 0 {
		cfg.ChainID = defaultChainID
	}
	if cfg.Oracles.MaxAge.Duration == 0 {
		cfg.Oracles.MaxAge.Duration = 24 * time.Hour
	}
	if cfg.Debt.Decoder == "" {
		cfg.Debt.Decoder = defaultDebtDecoder
	}
	if cfg.Debt.OnReadFailure == "" {
		cfg.Debt.OnReadFailure = DebtPolicyZero
	}
	if cfg.Aggregator.BaseURL == "" {
		cfg.Aggregator.BaseURL = defaultAggregatorURL
	}
	if cfg.Aggregator.Timeout.Duration == 0 {
		cfg.Aggregator.Timeout.Duration = 30 * time.Second
	}
	if cfg.Aggregator.RateLimit == 0 {
		cfg.Aggregator.RateLimit = 1
	}
	if cfg.Aggregator.Burst <= 0 {
		cfg.Aggregator.Burst = 1
	}
	if cfg.Gas.CostCeilingUSD == "" {
		cfg.Gas.CostCeilingUSD = defaultCostCeiling
	}
	if cfg.Gas.ConfirmTimeout.Duration == 0 {
		cfg.Gas.ConfirmTimeout.Duration = 3 * time.Minute
	}
	if cfg.Gas.PollInterval.Duration == 0 {
		cfg.Gas.PollInterval.Duration = 5 * time.Second
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = defaultServiceName
	}
	if cfg.Observability.Environment == "" {
		cfg.Observability.Environment = defaultEnvironment
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("rpc_url must be configured")
	}
	r := &cfg.Resolved
	addresses := []struct {
		name  string
		value string
		dst   *common.Address
	}{
		{"contract", cfg.Contract, &r.Contract},
		{"tokens.eure", cfg.Tokens.EURe, &r.EURe},
		{"tokens.usdc", cfg.Tokens.USDC, &r.USDC},
		{"tokens.weth", cfg.Tokens.WETH, &r.WETH},
		{"oracles.eur_usd", cfg.Oracles.EURUSD, &r.EURUSDFeed},
		{"oracles.usdc_usd", cfg.Oracles.USDCUSD, &r.USDCUSDFeed},
		{"oracles.native_usd", cfg.Oracles.NativeUSD, &r.NativeFeed},
		{"debt.resolver", cfg.Debt.Resolver, &r.Resolver},
	}
	for _, a := range addresses {
		addr, err := parseAddress(a.name, a.value)
		if err != nil {
			return err
		}
		*a.dst = addr
	}

	position, ok := new(big.Int).SetString(strings.TrimSpace(cfg.Debt.PositionID), 10)
	if !ok || position.Sign() < 0 {
		return fmt.Errorf("debt.position_id must be a non-negative integer")
	}
	r.PositionID = position

	switch strings.ToLower(strings.TrimSpace(cfg.Debt.OnReadFailure)) {
	case DebtPolicyZero:
		r.StrictDebt = false
	case DebtPolicyAbort:
		r.StrictDebt = true
	default:
		return fmt.Errorf("debt.on_read_failure must be %q or %q", DebtPolicyZero, DebtPolicyAbort)
	}

	ceiling, err := ParseFiat(cfg.Gas.CostCeilingUSD)
	if err != nil {
		return fmt.Errorf("gas.cost_ceiling_usd: %w", err)
	}
	r.CostCeiling = ceiling

	if cfg.SlippageBps > maxSlippageBpsAllowed {
		return fmt.Errorf("slippage_bps must not exceed %d", maxSlippageBpsAllowed)
	}
	if cfg.Observability.SampleRatio < 0 || cfg.Observability.SampleRatio > 1 {
		return fmt.Errorf("observability.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Aggregator.RateLimit < 0 {
		return fmt.Errorf("aggregator.rate_limit must not be negative")
	}
	if cfg.Signer.Key == "" && cfg.Signer.Keystore == "" {
		return fmt.Errorf("signer key or keystore must be configured")
	}
	return nil
}

func parseAddress(name, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%s must be configured", name)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", name, trimmed)
	}
	addr := common.HexToAddress(trimmed)
	if (addr == common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", name)
	}
	return addr, nil
}

// ParseFiat converts a decimal USD amount such as "0.50" into an 8-decimal integer.
func ParseFiat(value string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", value, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("must be positive, got %s", d)
	}
	shifted := d.Shift(fiatDecimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%s has more than %d decimals", d, fiatDecimals)
	}
	return shifted.BigInt(), nil
}

func (s *SignerConfig) normalise() error {
	if s == nil {
		return fmt.Errorf("signer configuration missing")
	}
	s.Key = strings.TrimSpace(s.Key)
	s.KeyEnv = strings.TrimSpace(s.KeyEnv)
	s.KeyFile = strings.TrimSpace(s.KeyFile)
	s.Keystore = strings.TrimSpace(s.Keystore)
	s.PassphraseEnv = strings.TrimSpace(s.PassphraseEnv)
	s.PassphraseFile = strings.TrimSpace(s.PassphraseFile)
	if s.Key != "" {
		return nil
	}
	switch {
	case s.KeyEnv != "":
		value := strings.TrimSpace(os.Getenv(s.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", s.KeyEnv)
		}
		s.Key = value
	case s.KeyFile != "":
		contents, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return fmt.Errorf("read key_file: %w", err)
		}
		s.Key = strings.TrimSpace(string(contents))
	}
	return nil
}

func (a *AggregatorConfig) normalise() error {
	a.BaseURL = strings.TrimSpace(a.BaseURL)
	key := strings.TrimSpace(a.APIKey)
	if key == "" && strings.TrimSpace(a.APIKeyEnv) != "" {
		key = strings.TrimSpace(os.Getenv(strings.TrimSpace(a.APIKeyEnv)))
	}
	if path := strings.TrimSpace(a.APIKeyFile); key == "" && path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read api_key_file: %w", err)
		}
		key = strings.TrimSpace(string(contents))
	}
	a.APIKey = key
	return nil
}
