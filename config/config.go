package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress    string `toml:"RPCAddress"`
	OpsAddress    string `toml:"OpsAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	RPCRateLimit  int    `toml:"RPCRateLimit"`
	RPCBodyLimit  int64  `toml:"RPCBodyLimit"`
	WrapperSymbol string `toml:"WrapperSymbol"`

	Bonds       []Bond       `toml:"Bonds"`
	Pools       []Pool       `toml:"Pools"`
	Collaterals []Collateral `toml:"Collaterals"`
}

// Bond declares a fixed-term debt instrument registered at startup.
type Bond struct {
	Symbol     string `toml:"Symbol"`
	Underlying string `toml:"Underlying"`
	Maturity   uint64 `toml:"Maturity"`
}

// Pool declares a trading pool created at startup.
type Pool struct {
	ID         string `toml:"ID"`
	Underlying string `toml:"Underlying"`
	Bond       string `toml:"Bond"`
	Maturity   uint64 `toml:"Maturity"`
	FeeBps     uint64 `toml:"FeeBps"`
}

// Collateral declares an accepted collateral kind and its required
// overcollateralisation ratio in basis points.
type Collateral struct {
	Kind     string `toml:"Kind"`
	RatioBps uint64 `toml:"RatioBps"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPCAddress == "" {
		c.RPCAddress = ":8545"
	}
	if c.OpsAddress == "" {
		c.OpsAddress = ":9090"
	}
	if c.DataDir == "" {
		c.DataDir = "./proxy-data"
	}
	if c.Environment == "" {
		c.Environment = "local"
	}
	if c.RPCRateLimit <= 0 {
		c.RPCRateLimit = 50
	}
	if c.RPCBodyLimit <= 0 {
		c.RPCBodyLimit = 1 << 20
	}
	if c.WrapperSymbol == "" {
		c.WrapperSymbol = "WNATIVE"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
