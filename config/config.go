package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"landsale/crypto"
)

// Roles carries the bech32-encoded role addresses. All three are required and
// immutable once the daemon has started.
type Roles struct {
	Administrator string `toml:"Administrator"`
	Merchant      string `toml:"Merchant"`
	Charity       string `toml:"Charity"`
}

// Oracle configures the price feed consulted on every purchase.
type Oracle struct {
	Mode               string `toml:"Mode"`
	Endpoint           string `toml:"Endpoint"`
	APIKey             string `toml:"APIKey"`
	Symbol             string `toml:"Symbol"`
	ManualRate         string `toml:"ManualRate"`
	MaxQuoteAgeSeconds int64  `toml:"MaxQuoteAgeSeconds"`
}

// Pack is a single catalog entry.
type Pack struct {
	ID         uint32 `toml:"ID"`
	PriceCents uint64 `toml:"PriceCents"`
}

type Config struct {
	ListenAddress       string `toml:"ListenAddress"`
	DataDir             string `toml:"DataDir"`
	Environment         string `toml:"Environment"`
	AdminToken          string `toml:"AdminToken"`
	CharityRatePermille uint16 `toml:"CharityRatePermille"`
	Roles               Roles  `toml:"Roles"`
	Oracle              Oracle `toml:"Oracle"`
	Packs               []Pack `toml:"Packs"`
}

// Oracle modes.
const (
	OracleModeManual = "manual"
	OracleModeFeed   = "feed"
)

// Load loads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./landsale-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.Oracle.Mode) == "" {
		cfg.Oracle.Mode = OracleModeManual
	}
	cfg.Oracle.Mode = strings.ToLower(strings.TrimSpace(cfg.Oracle.Mode))
	if cfg.Oracle.MaxQuoteAgeSeconds == 0 {
		cfg.Oracle.MaxQuoteAgeSeconds = 120
	}
	if len(cfg.Packs) == 0 {
		cfg.Packs = []Pack{{ID: 1, PriceCents: 15000}}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if _, _, _, err := c.DecodedRoles(); err != nil {
		return err
	}
	if c.CharityRatePermille > 1000 {
		return fmt.Errorf("config: CharityRatePermille %d exceeds 1000", c.CharityRatePermille)
	}
	switch c.Oracle.Mode {
	case OracleModeManual:
		if strings.TrimSpace(c.Oracle.ManualRate) == "" {
			return fmt.Errorf("config: manual oracle requires ManualRate")
		}
	case OracleModeFeed:
		if strings.TrimSpace(c.Oracle.Endpoint) == "" {
			return fmt.Errorf("config: feed oracle requires Endpoint")
		}
	default:
		return fmt.Errorf("config: unknown oracle mode %q", c.Oracle.Mode)
	}
	if c.Oracle.MaxQuoteAgeSeconds < 0 {
		return fmt.Errorf("config: MaxQuoteAgeSeconds must not be negative")
	}
	seen := make(map[uint32]struct{}, len(c.Packs))
	for _, pack := range c.Packs {
		if pack.PriceCents == 0 {
			return fmt.Errorf("config: pack %d has zero price", pack.ID)
		}
		if _, dup := seen[pack.ID]; dup {
			return fmt.Errorf("config: duplicate pack id %d", pack.ID)
		}
		seen[pack.ID] = struct{}{}
	}
	return nil
}

// DecodedRoles resolves the configured role addresses.
func (c *Config) DecodedRoles() (administrator, merchant, charity crypto.Address, err error) {
	administrator, err = decodeRole("Administrator", c.Roles.Administrator)
	if err != nil {
		return
	}
	merchant, err = decodeRole("Merchant", c.Roles.Merchant)
	if err != nil {
		return
	}
	charity, err = decodeRole("Charity", c.Roles.Charity)
	return
}

func decodeRole(name, value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("config: role %s required", name)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("config: role %s: %w", name, err)
	}
	return addr, nil
}

// WriteDefault writes a starter configuration to the given path. Role
// addresses must be filled in before the daemon will start.
func WriteDefault(path string) error {
	cfg := &Config{}
	applyDefaults(cfg)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
