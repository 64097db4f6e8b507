package infra

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting the daemon needs. LoadConfig reads the
// yaml file, then overrides sensitive values from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Chain struct {
		ID      uint64 `yaml:"id"`
		Permit2 string `yaml:"permit2"`
		Master  string `yaml:"master"`
		Bracket string `yaml:"bracket"`
		Stop    string `yaml:"stop_limit"`
		Less    string `yaml:"oracle_less"`
		Router  string `yaml:"router"`
		Admin   string `yaml:"admin"`
	} `yaml:"chain"`

	Tokens []TokenConfig `yaml:"tokens"`

	Feed struct {
		WSURL string `yaml:"ws_url"`
	} `yaml:"feed"`

	Keeper struct {
		PollIntervalMS int   `yaml:"poll_interval_ms"`
		PoolFee        int64 `yaml:"pool_fee"`
	} `yaml:"keeper"`

	Limits struct {
		MaxPendingOrders int    `yaml:"max_pending_orders"`
		MinOrderSizeUSD  string `yaml:"min_order_size_usd"` // 1e8 scale
	} `yaml:"limits"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// TokenConfig describes one tradeable asset and the feed channel its
// price arrives on.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	FeedCode string `yaml:"feed_code"`
}

// LoadConfig reads and validates the configuration file. A .env file
// next to the binary, if present, feeds the environment overrides.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Chain.ID == 0 {
		return fmt.Errorf("chain id is required")
	}
	for name, addr := range map[string]string{
		"permit2": c.Chain.Permit2, "master": c.Chain.Master,
		"bracket": c.Chain.Bracket, "stop_limit": c.Chain.Stop,
		"oracle_less": c.Chain.Less, "router": c.Chain.Router,
		"admin": c.Chain.Admin,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address: %q", name, addr)
		}
	}
	if len(c.Tokens) < 2 {
		return fmt.Errorf("at least two tokens are required")
	}
	for _, tok := range c.Tokens {
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("invalid address for token %s: %q", tok.Symbol, tok.Address)
		}
		if tok.Symbol == "" {
			return fmt.Errorf("token %s needs a symbol", tok.Address)
		}
	}
	if c.Feed.WSURL != "" && !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if c.Keeper.PollIntervalMS <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Limits.MaxPendingOrders <= 0 {
		return fmt.Errorf("max pending orders must be positive")
	}
	if _, ok := c.MinOrderSize(); !ok {
		return fmt.Errorf("invalid min order size: %q", c.Limits.MinOrderSizeUSD)
	}
	return nil
}

// MinOrderSize parses the USD floor (1e8 scale).
func (c *Config) MinOrderSize() (*big.Int, bool) {
	return new(big.Int).SetString(c.Limits.MinOrderSizeUSD, 10)
}

// overrideWithEnv lets the environment take precedence for values an
// operator rotates without editing the config file.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("TRIGGER_FEED_WS_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if admin := os.Getenv("TRIGGER_ADMIN_ADDRESS"); admin != "" {
		cfg.Chain.Admin = admin
	}
	if path := os.Getenv("TRIGGER_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if level := os.Getenv("TRIGGER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
