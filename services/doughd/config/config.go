package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"dough/core"
	"dough/native/controller"
	"dough/native/lending"
	"dough/native/treasury"
	"dough/observability/logging"
	telemetry "dough/observability/otel"
	"dough/storage"
)

// SecretEnv overrides auth.jwt_secret when set.
const SecretEnv = "DOUGHD_JWT_SECRET"

// Duration wraps time.Duration to support YAML unmarshalling.
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
	raw := value.Value
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

// Config captures runtime configuration for doughd.
type Config struct {
	ListenAddress  string           `yaml:"listen"`
	MaxConnections int              `yaml:"max_connections"`
	Env            string           `yaml:"env"`
	Log            LogConfig        `yaml:"log"`
	Storage        StorageConfig    `yaml:"storage"`
	Auth           AuthConfig       `yaml:"auth"`
	RateLimit      RateLimitConfig  `yaml:"rate_limit"`
	Audit          AuditConfig      `yaml:"audit"`
	Keeper         KeeperConfig     `yaml:"keeper"`
	Telemetry      telemetry.Config `yaml:"telemetry"`
	Protocol       ProtocolConfig   `yaml:"protocol"`
	Faucet         FaucetConfig     `yaml:"faucet"`
	Shutdown       Duration         `yaml:"shutdown_timeout"`
}

// LogConfig selects the level and optional rotated file.
type LogConfig struct {
	Level string              `yaml:"level"`
	File  *logging.FileConfig `yaml:"file"`
}

// StorageConfig selects the ledger engine.
type StorageConfig struct {
	Engine string `yaml:"engine"`
	Path   string `yaml:"path"`
}

// AuthConfig configures bearer JWT verification.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	Issuer    string   `yaml:"issuer"`
	ClockSkew Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AuditConfig selects the audit database. Driver is sqlite or postgres.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// KeeperConfig drives the periodic harvest and fee release loop.
type KeeperConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Caller   string   `yaml:"caller"`
}

// FaucetConfig enables the mock-asset faucet endpoint.
type FaucetConfig struct {
	Enabled bool   `yaml:"enabled"`
	Limit   string `yaml:"limit"`
}

// AssetConfig names a token.
type AssetConfig struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// StrategyConfig is one lending venue and its weight.
type StrategyConfig struct {
	Venue             lending.Config `yaml:",inline"`
	WeightBps         uint64         `yaml:"weight_bps"`
	EmissionPerSecond string         `yaml:"emission_per_second"`
}

// RouterConfig is one DEX venue.
type RouterConfig struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Price    string   `yaml:"price"`
	SkewBps  uint64   `yaml:"skew_bps"`
	Reserves string   `yaml:"reserves"`
	Sources  []string `yaml:"sources"`
}

// RecipientConfig is one treasury payout row.
type RecipientConfig struct {
	Address   string `yaml:"address"`
	WeightBps uint64 `yaml:"weight_bps"`
	Label     string `yaml:"label"`
}

// TreasuryConfig seeds the treasury on first boot.
type TreasuryConfig struct {
	Primary     string            `yaml:"primary"`
	Fallback    string            `yaml:"fallback"`
	SlippageBps *uint64           `yaml:"slippage_bps"`
	FeeTier     uint32            `yaml:"fee_tier"`
	Deadline    Duration          `yaml:"deadline"`
	Recipients  []RecipientConfig `yaml:"recipients"`
}

// ProtocolConfig describes the deployment assembled by core.NewNode.
type ProtocolConfig struct {
	Admin         string            `yaml:"admin"`
	Governance    string            `yaml:"governance"`
	Base          AssetConfig       `yaml:"base"`
	Claim         AssetConfig       `yaml:"claim"`
	Reward        AssetConfig       `yaml:"reward"`
	Controller    controller.Config `yaml:"controller"`
	Strategies    []StrategyConfig  `yaml:"strategies"`
	Routers       []RouterConfig    `yaml:"routers"`
	Treasury      TreasuryConfig    `yaml:"treasury"`
	RewardFunding string            `yaml:"reward_funding"`
}

// Load reads configuration from path, applies defaults and environment
// overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if secret := strings.TrimSpace(os.Getenv(SecretEnv)); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8480"
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = storage.EngineLevelDB
	}
	if cfg.Storage.Path == "" && cfg.Storage.Engine != storage.EngineMemory {
		cfg.Storage.Path = "data/ledger"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.DSN == "" && cfg.Audit.Driver == "sqlite" {
		cfg.Audit.DSN = "data/audit.db"
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = 10 * time.Minute
	}
	if cfg.Shutdown.Duration == 0 {
		cfg.Shutdown.Duration = 10 * time.Second
	}
	p := &cfg.Protocol
	if p.Base.Symbol == "" {
		p.Base = AssetConfig{Symbol: "USDC", Decimals: 6}
	}
	if p.Claim.Symbol == "" {
		p.Claim = AssetConfig{Symbol: "DOUGH", Decimals: p.Base.Decimals}
	}
	if p.Reward.Symbol == "" {
		p.Reward = AssetConfig{Symbol: "AAVE", Decimals: 6}
	}
	if len(p.Strategies) == 0 {
		p.Strategies = []StrategyConfig{{Venue: lending.DefaultConfig(), WeightBps: 10_000}}
	}
	if p.Treasury.FeeTier == 0 {
		p.Treasury.FeeTier = 3_000
	}
	if p.Treasury.Deadline.Duration == 0 {
		p.Treasury.Deadline.Duration = treasury.DefaultDeadline
	}
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, fmt.Errorf("auth.jwt_secret or %s must be set", SecretEnv))
	}
	switch c.Storage.Engine {
	case storage.EngineMemory, storage.EngineLevelDB, storage.EngineBolt:
	default:
		errs = append(errs, fmt.Errorf("storage.engine %q unsupported", c.Storage.Engine))
	}
	switch c.Audit.Driver {
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Audit.DSN) == "" {
			errs = append(errs, fmt.Errorf("audit.dsn required for %s", c.Audit.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q unsupported", c.Audit.Driver))
	}
	if !common.IsHexAddress(c.Protocol.Admin) {
		errs = append(errs, fmt.Errorf("protocol.admin %q is not an address", c.Protocol.Admin))
	}
	if c.Protocol.Governance != "" && !common.IsHexAddress(c.Protocol.Governance) {
		errs = append(errs, fmt.Errorf("protocol.governance %q is not an address", c.Protocol.Governance))
	}
	if c.Keeper.Enabled && c.Keeper.Interval.Duration < time.Second {
		errs = append(errs, fmt.Errorf("keeper.interval must be at least 1s"))
	}
	if c.Keeper.Enabled && !common.IsHexAddress(c.Keeper.Caller) {
		errs = append(errs, fmt.Errorf("keeper.caller %q is not an address", c.Keeper.Caller))
	}
	if c.Protocol.Controller.FeeBps > 10_000 {
		errs = append(errs, fmt.Errorf("protocol.controller.fee_bps %d exceeds 10000", c.Protocol.Controller.FeeBps))
	}
	if _, err := c.NodeConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NodeConfig converts the protocol section into a core.Config.
func (c Config) NodeConfig() (core.Config, error) {
	p := c.Protocol
	admin := common.HexToAddress(p.Admin)
	var governance common.Address
	if p.Governance != "" {
		governance = common.HexToAddress(p.Governance)
	}
	out := core.DefaultConfig(admin, governance)
	out.Base = core.AssetConfig{Symbol: p.Base.Symbol, Decimals: p.Base.Decimals}
	out.Claim = core.AssetConfig{Symbol: p.Claim.Symbol, Decimals: p.Claim.Decimals}
	out.Reward = core.AssetConfig{Symbol: p.Reward.Symbol, Decimals: p.Reward.Decimals}
	out.Controller = p.Controller

	out.Strategies = make([]core.StrategyConfig, 0, len(p.Strategies))
	for _, sc := range p.Strategies {
		if err := sc.Venue.Validate(); err != nil {
			return out, err
		}
		emission, err := parseAmount(sc.EmissionPerSecond, "emission_per_second")
		if err != nil {
			return out, err
		}
		out.Strategies = append(out.Strategies, core.StrategyConfig{Venue: sc.Venue, WeightBps: sc.WeightBps, EmissionPerSecond: emission})
	}

	if len(p.Routers) > 0 {
		out.Routers = make([]core.RouterConfig, 0, len(p.Routers))
		for _, rc := range p.Routers {
			router := core.RouterConfig{Name: rc.Name, Kind: rc.Kind, SkewBps: rc.SkewBps, Sources: rc.Sources}
			if router.Kind == "" {
				router.Kind = core.RouterKindPool
			}
			if router.Kind != core.RouterKindPool && router.Kind != core.RouterKindAggregator {
				return out, fmt.Errorf("router %s: kind %q unsupported", rc.Name, rc.Kind)
			}
			if rc.Price != "" {
				price, ok := new(big.Rat).SetString(rc.Price)
				if !ok || price.Sign() <= 0 {
					return out, fmt.Errorf("router %s: price %q invalid", rc.Name, rc.Price)
				}
				router.PriceNum, router.PriceDen = price.Num(), price.Denom()
			}
			reserves, err := parseAmount(rc.Reserves, "reserves")
			if err != nil {
				return out, err
			}
			router.Reserves = reserves
			out.Routers = append(out.Routers, router)
		}
	}

	tc := p.Treasury
	if tc.Primary != "" {
		out.Treasury.Primary, out.Treasury.Fallback = tc.Primary, tc.Fallback
	}
	if tc.SlippageBps != nil {
		out.Treasury.SlippageBps = *tc.SlippageBps
	}
	out.Treasury.FeeTier = tc.FeeTier
	out.Treasury.Deadline = tc.Deadline.Duration
	if len(tc.Recipients) > 0 {
		out.Treasury.Recipients = make([]treasury.Recipient, 0, len(tc.Recipients))
		for _, rc := range tc.Recipients {
			if !common.IsHexAddress(rc.Address) {
				return out, fmt.Errorf("treasury recipient %q is not an address", rc.Address)
			}
			out.Treasury.Recipients = append(out.Treasury.Recipients, treasury.Recipient{
				Address:   common.HexToAddress(rc.Address),
				WeightBps: rc.WeightBps,
				Label:     rc.Label,
			})
		}
	}

	funding, err := parseAmount(p.RewardFunding, "reward_funding")
	if err != nil {
		return out, err
	}
	if funding != nil {
		out.RewardFunding = funding
	}
	limit, err := parseAmount(c.Faucet.Limit, "faucet.limit")
	if err != nil {
		return out, err
	}
	if limit != nil {
		out.FaucetLimit = limit
	}
	return out, nil
}

func parseAmount(raw, field string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s %q must be a non-negative integer", field, raw)
	}
	return v, nil
}
