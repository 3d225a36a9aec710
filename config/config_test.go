package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leverd.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, []uint64{2, 3}, cfg.SupportedLevers)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written back")

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
}

func TestLoadParsesGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leverd.toml")
	raw := `
RPCAddress = ":9090"
DataDir = "/tmp/lever"
ModuleAddress = "0x0000000000000000000000000000000000000001"
OwnerAddress = "0x00000000000000000000000000000000000000A0"
SupportedLevers = [2, 3]

[[genesis.tokens]]
Address = "0x0000000000000000000000000000000000000010"
Symbol = "BASE"
Decimals = 18

[[genesis.markets]]
MarketToken = "0x0000000000000000000000000000000000000011"
Underlying = "0x0000000000000000000000000000000000000010"
Cash = "1000000"

[genesis.pair]
Address = "0x0000000000000000000000000000000000000002"
TokenA = "0x0000000000000000000000000000000000000010"
TokenB = "0x0000000000000000000000000000000000000020"
ReserveA = "1000000"
ReserveB = "1000000"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.RPCAddress)
	require.Len(t, cfg.Genesis.Tokens, 1)
	require.Equal(t, "BASE", cfg.Genesis.Tokens[0].Symbol)
	require.Len(t, cfg.Genesis.Markets, 1)
	require.Equal(t, "1000000", cfg.Genesis.Pair.ReserveA)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty rpc address", func(c *Config) { c.RPCAddress = "" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad module address", func(c *Config) { c.ModuleAddress = "not-an-address" }},
		{"lever below two", func(c *Config) { c.SupportedLevers = []uint64{1} }},
		{"bad genesis token", func(c *Config) {
			c.Genesis.Tokens = []GenesisToken{{Address: "xyz", Symbol: "BAD"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{RPCAddress: ":8080", DataDir: "./data"}
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
