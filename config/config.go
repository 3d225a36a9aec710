package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config holds the leverd service configuration.
type Config struct {
	RPCAddress      string   `toml:"RPCAddress"`
	RPCToken        string   `toml:"RPCToken"`
	DataDir         string   `toml:"DataDir"`
	ModuleAddress   string   `toml:"ModuleAddress"`
	OwnerAddress    string   `toml:"OwnerAddress"`
	SupportedLevers []uint64 `toml:"SupportedLevers"`
	Paused          bool     `toml:"Paused"`

	Genesis   Genesis   `toml:"genesis"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Telemetry configures the OTLP trace exporter. Disabled by default; metric
// export always rides the Prometheus scrape endpoint.
type Telemetry struct {
	Enabled     bool   `toml:"Enabled"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Environment string `toml:"Environment"`
}

// Genesis seeds the in-process token bank, money market and AMM pair when
// the service starts with an empty data directory.
type Genesis struct {
	Tokens   []GenesisToken   `toml:"tokens"`
	Markets  []GenesisMarket  `toml:"markets"`
	Pair     GenesisPair      `toml:"pair"`
	Balances []GenesisBalance `toml:"balances"`
}

// GenesisToken lists one fungible asset.
type GenesisToken struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// GenesisMarket lists one money-market token and the cash it starts with.
type GenesisMarket struct {
	MarketToken string `toml:"MarketToken"`
	Underlying  string `toml:"Underlying"`
	Cash        string `toml:"Cash"`
}

// GenesisPair seeds the swap pair's liquidity.
type GenesisPair struct {
	Address  string `toml:"Address"`
	TokenA   string `toml:"TokenA"`
	TokenB   string `toml:"TokenB"`
	ReserveA string `toml:"ReserveA"`
	ReserveB string `toml:"ReserveB"`
}

// GenesisBalance credits an account with an opening token balance.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path. A missing file is
// replaced with a default configuration, written back for the operator to
// edit.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the decoded configuration for values the service cannot
// start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.ModuleAddress != "" && !common.IsHexAddress(c.ModuleAddress) {
		return fmt.Errorf("config: ModuleAddress %q is not a hex address", c.ModuleAddress)
	}
	if c.OwnerAddress != "" && !common.IsHexAddress(c.OwnerAddress) {
		return fmt.Errorf("config: OwnerAddress %q is not a hex address", c.OwnerAddress)
	}
	for _, lever := range c.SupportedLevers {
		if lever < 2 {
			return fmt.Errorf("config: supported lever %d is below the minimum of 2", lever)
		}
	}
	for _, token := range c.Genesis.Tokens {
		if !common.IsHexAddress(token.Address) {
			return fmt.Errorf("config: genesis token %q has invalid address %q", token.Symbol, token.Address)
		}
	}
	for _, market := range c.Genesis.Markets {
		if !common.IsHexAddress(market.MarketToken) || !common.IsHexAddress(market.Underlying) {
			return fmt.Errorf("config: genesis market %q has an invalid address", market.MarketToken)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:      ":8080",
		DataDir:         "./lever-data",
		ModuleAddress:   "0x0000000000000000000000000000000000000001",
		SupportedLevers: []uint64{2, 3},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
