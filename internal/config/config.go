package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models marketplace.yml.
type Config struct {
	Auth struct {
		TokenTTL Duration `yaml:"token_ttl"`
	} `yaml:"auth"`
	Signup struct {
		Bonus map[string]int64 `yaml:"bonus"`
	} `yaml:"signup"`
	Withdrawals struct {
		CoinsPerDollar int64 `yaml:"coins_per_dollar"`
		MinCoins       int64 `yaml:"min_coins"`
	} `yaml:"withdrawals"`
	Stats struct {
		CacheTTL       Duration `yaml:"cache_ttl"`
		TopWorkerCount int      `yaml:"top_worker_count"`
	} `yaml:"stats"`
	Admin struct {
		Email string `yaml:"email"`
		Name  string `yaml:"name"`
	} `yaml:"admin"`
}

// Duration is a time.Duration written as "1h", "30s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with mt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config.auth.token_ttl must be positive")
	}
	for role, bonus := range c.Signup.Bonus {
		switch role {
		case "admin", "buyer", "worker":
		default:
			return fmt.Errorf("config.signup.bonus has unknown role %s", role)
		}
		if bonus < 0 {
			return fmt.Errorf("config.signup.bonus.%s must not be negative", role)
		}
	}
	if c.Withdrawals.CoinsPerDollar <= 0 {
		return fmt.Errorf("config.withdrawals.coins_per_dollar must be positive")
	}
	if c.Withdrawals.MinCoins < 0 {
		return fmt.Errorf("config.withdrawals.min_coins must not be negative")
	}
	if c.Stats.CacheTTL < 0 {
		return fmt.Errorf("config.stats.cache_ttl must not be negative")
	}
	if c.Stats.TopWorkerCount <= 0 {
		return fmt.Errorf("config.stats.top_worker_count must be positive")
	}
	return nil
}

// SignupBonus returns the coins credited to a newly registered user of role.
func (c *Config) SignupBonus(role string) int64 {
	if c == nil {
		return 0
	}
	return c.Signup.Bonus[role]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "marketplace.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `auth:
  token_ttl: 1h

signup:
  bonus:
    buyer: 50
    worker: 10
    admin: 0

withdrawals:
  coins_per_dollar: 20
  min_coins: 0

stats:
  cache_ttl: 30s
  top_worker_count: 6

admin:
  email: ""
  name: ""
`
