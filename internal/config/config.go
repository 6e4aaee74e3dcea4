// Package config defines all configuration for the mirror engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MIRROR_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"mirror-engine/internal/registry"
	"mirror-engine/internal/sizing"
	"mirror-engine/internal/venue"
	"mirror-engine/pkg/types"

	"github.com/shopspring/decimal"
)

// decimalOf converts a YAML-friendly float64 config field into the
// decimal.Decimal the domain packages require for money/quantity math.
func decimalOf(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// Config is the top-level configuration. Maps directly to the YAML file
// structure — one destination venue host plus the accounts mirrored through
// it, each with its own credentials (§6).
type Config struct {
	DryRun   bool            `mapstructure:"dry_run"`
	Venue    VenueConfig     `mapstructure:"venue"`
	Accounts []AccountConfig `mapstructure:"accounts"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Store    StoreConfig     `mapstructure:"store"`
}

// VenueConfig holds the destination venue host every account connects to.
// Credentials and mode are NOT here — §3 Ownership: "the Destination Venue
// Adapter ... holds API credentials and is not shared between accounts";
// §6 lists "destination venue credentials, venue mode" as per-account
// fields. See AccountVenueConfig.
type VenueConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// AccountVenueConfig is one account's destination-venue credentials and
// trading mode (§6). WSURL is optional: when set, the supervisor runs a
// private order-update stream for this account as a confirmation
// accelerant alongside the REST executions poll (§4.5); when empty, the
// account relies on REST polling alone.
type AccountVenueConfig struct {
	APIKey    string          `mapstructure:"api_key"`
	APISecret string          `mapstructure:"api_secret"`
	Mode      types.VenueMode `mapstructure:"mode"`
	WSURL     string          `mapstructure:"ws_url"`
}

// SizingConfig mirrors sizing.Policy with mapstructure tags (§6: "sizing
// policy (mode, fixed_amount, base_margin_amount, min_copy_value,
// force_min_amount_on_small_order)").
type SizingConfig struct {
	Mode                       types.SizingMode `mapstructure:"mode"`
	FixedAmount                float64          `mapstructure:"fixed_amount"`
	BaseMarginAmount           float64          `mapstructure:"base_margin_amount"`
	MinCopyValue               float64          `mapstructure:"min_copy_value"`
	ForceMinAmountOnSmallOrder bool             `mapstructure:"force_min_amount_on_small_order"`
}

// SymbolConfig is one entry of the account's Symbol Registry.
type SymbolConfig struct {
	Coin      string  `mapstructure:"coin"`
	Contract  string  `mapstructure:"contract"`
	MinQty    float64 `mapstructure:"min_qty"`
	QtyStep   float64 `mapstructure:"qty_step"`
	PriceTick float64 `mapstructure:"price_tick"`
	Listed    bool    `mapstructure:"listed"`
}

// AccountConfig is one mirrored account (§6's per-account field list).
type AccountConfig struct {
	AccountName         string `mapstructure:"account_name"`
	Enabled             bool   `mapstructure:"enabled"`
	SourceWalletAddress string `mapstructure:"source_wallet_address"`

	Venue AccountVenueConfig `mapstructure:"venue"`

	AllowlistEnabled bool     `mapstructure:"allowlist_enabled"`
	Allowlist        []string `mapstructure:"allowlist"`

	Symbols []SymbolConfig `mapstructure:"symbols"`
	Sizing  SizingConfig   `mapstructure:"sizing"`

	DefaultLeverage   int            `mapstructure:"default_leverage"`
	LeverageOverrides map[string]int `mapstructure:"leverage_overrides"`

	AgeFilterEnabled bool    `mapstructure:"age_filter_enabled"`
	MaxAgeHours      float64 `mapstructure:"max_age_hours"`

	NotificationWebhook string `mapstructure:"notification_webhook"`
}

// Registry builds this account's Symbol Registry from its Symbols list.
func (a AccountConfig) Registry() *registry.Registry {
	symbols := make(map[string]registry.Symbol, len(a.Symbols))
	for _, s := range a.Symbols {
		symbols[s.Coin] = registry.Symbol{
			Contract:  s.Contract,
			MinQty:    decimalOf(s.MinQty),
			QtyStep:   decimalOf(s.QtyStep),
			PriceTick: decimalOf(s.PriceTick),
			Listed:    s.Listed,
		}
	}
	return registry.New(symbols)
}

// AllowlistFilter builds this account's Allowlist Filter from its Allowlist list.
func (a AccountConfig) AllowlistFilter() *registry.Allowlist {
	coins := make(map[string]bool, len(a.Allowlist))
	for _, c := range a.Allowlist {
		coins[c] = true
	}
	return registry.NewAllowlist(a.AllowlistEnabled, coins)
}

// SizingPolicy converts this account's SizingConfig into sizing.Policy.
func (a AccountConfig) SizingPolicy() sizing.Policy {
	return sizing.Policy{
		Mode:                       a.Sizing.Mode,
		FixedAmount:                decimalOf(a.Sizing.FixedAmount),
		BaseMarginAmount:           decimalOf(a.Sizing.BaseMarginAmount),
		MinCopyValue:               decimalOf(a.Sizing.MinCopyValue),
		ForceMinAmountOnSmallOrder: a.Sizing.ForceMinAmountOnSmallOrder,
	}
}

// MaxAge converts MaxAgeHours into a time.Duration for the classifier.
func (a AccountConfig) MaxAge() time.Duration {
	return time.Duration(a.MaxAgeHours * float64(time.Hour))
}

// StoreConfig sets where the local event log is persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls the slog handler built in cmd/mirrord.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. Each account's
// credentials can be overridden individually via
// MIRROR_ACCOUNT_<ACCOUNT_NAME>_API_KEY / _API_SECRET (account name
// upper-cased) so secrets never need to live in the YAML file on disk.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for i := range cfg.Accounts {
		prefix := "MIRROR_ACCOUNT_" + strings.ToUpper(cfg.Accounts[i].AccountName)
		if key := os.Getenv(prefix + "_API_KEY"); key != "" {
			cfg.Accounts[i].Venue.APIKey = key
		}
		if secret := os.Getenv(prefix + "_API_SECRET"); secret != "" {
			cfg.Accounts[i].Venue.APISecret = secret
		}
	}
	if os.Getenv("MIRROR_DRY_RUN") == "true" || os.Getenv("MIRROR_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges. It returns the
// first problem it finds, naming the account at fault; it does not collect
// further problems, and one bad account makes the whole Config invalid —
// no account is disabled on its own.
func (c *Config) Validate() error {
	if c.Venue.BaseURL == "" {
		return fmt.Errorf("venue.base_url is required")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if err := a.validate(); err != nil {
			return fmt.Errorf("account %q: %w", a.AccountName, err)
		}
		if seen[a.AccountName] {
			return fmt.Errorf("duplicate account_name %q", a.AccountName)
		}
		seen[a.AccountName] = true
	}
	return nil
}

func (a AccountConfig) validate() error {
	if a.AccountName == "" {
		return fmt.Errorf("account_name is required")
	}
	if !common.IsHexAddress(a.SourceWalletAddress) {
		return fmt.Errorf("source_wallet_address is not a valid hex address")
	}
	if a.Venue.APIKey == "" || a.Venue.APISecret == "" {
		return fmt.Errorf("venue.api_key and venue.api_secret are required")
	}
	switch a.Venue.Mode {
	case types.VenueLive, types.VenueDemo:
	default:
		return fmt.Errorf("venue.mode must be one of: live, demo")
	}
	switch a.Sizing.Mode {
	case types.SizingFixed, types.SizingRatio:
	default:
		return fmt.Errorf("sizing.mode must be one of: fixed, ratio")
	}
	if a.DefaultLeverage <= 0 {
		return fmt.Errorf("default_leverage must be > 0")
	}
	return nil
}

// ClientConfig builds this account's destination venue client config: its
// own credentials and mode (§6), against the shared venue host and the
// process-wide dry-run flag.
func (a AccountConfig) ClientConfig(baseURL string, dryRun bool) venue.Config {
	return venue.Config{
		BaseURL: baseURL,
		Creds:   venue.Credentials{APIKey: a.Venue.APIKey, APISecret: a.Venue.APISecret},
		Mode:    a.Venue.Mode,
		DryRun:  dryRun,
	}
}
