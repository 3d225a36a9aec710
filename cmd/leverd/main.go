package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"collaterallever/config"
	"collaterallever/native/amm"
	nativecommon "collaterallever/native/common"
	"collaterallever/native/lever"
	"collaterallever/native/market"
	"collaterallever/native/token"
	"collaterallever/observability/logging"
	"collaterallever/observability/otel"
	"collaterallever/rpc"
	"collaterallever/state/leverstate"
	"collaterallever/storage"
)

const rpcTokenEnv = "LEVER_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./leverd.toml", "Path to the configuration file")
	memory := flag.Bool("memory", false, "DEV ONLY: use an in-memory database instead of the data directory")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LEVER_ENV"))
	logger := logging.Setup("leverd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "leverd",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	var db storage.Database
	if *memory {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			panic(fmt.Sprintf("Failed to open database: %v", err))
		}
		db = ldb
	}
	defer db.Close()

	engine, err := buildEngine(cfg, db)
	if err != nil {
		logger.Error("Failed to assemble lever engine", slog.Any("error", err))
		os.Exit(1)
	}

	authToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if authToken == "" {
		authToken = cfg.RPCToken
	}
	if authToken == "" {
		logger.Warn("No RPC token configured; mutating methods are disabled")
	}

	server := rpc.NewServer(engine, authToken, logger)
	logger.Info("leverd starting", "rpc", cfg.RPCAddress, "dataDir", cfg.DataDir)
	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("leverd stopped")
}

// buildEngine assembles the token bank, money market, swap pair and lever
// engine from the genesis section, then replays it on top of whatever state
// the database already holds.
func buildEngine(cfg *config.Config, db storage.Database) (*lever.Engine, error) {
	bank := token.NewBank()
	for _, t := range cfg.Genesis.Tokens {
		if err := bank.Register(token.Asset{
			Address:  common.HexToAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		}); err != nil {
			return nil, fmt.Errorf("genesis token %s: %w", t.Symbol, err)
		}
	}

	marketEngine := market.NewEngine(bank)
	for _, m := range cfg.Genesis.Markets {
		marketAddr := common.HexToAddress(m.MarketToken)
		if err := marketEngine.List(marketAddr, common.HexToAddress(m.Underlying)); err != nil {
			return nil, fmt.Errorf("genesis market %s: %w", m.MarketToken, err)
		}
		if cash, ok := parseGenesisAmount(m.Cash); ok {
			if err := bank.Mint(common.HexToAddress(m.Underlying), marketAddr, cash); err != nil {
				return nil, fmt.Errorf("genesis market cash %s: %w", m.MarketToken, err)
			}
		}
	}

	moduleAddr := common.HexToAddress(cfg.ModuleAddress)
	engine := lever.NewEngine(moduleAddr)
	engine.SetState(leverstate.NewManager(db))
	if len(cfg.SupportedLevers) > 0 {
		engine.SetSupportedLevers(cfg.SupportedLevers)
	}
	if cfg.Paused {
		engine.SetPauses(nativecommon.StaticPauses{"lever": true})
	}

	pairCfg := cfg.Genesis.Pair
	if pairCfg.Address == "" {
		return nil, fmt.Errorf("genesis pair is required")
	}
	pairAddr := common.HexToAddress(pairCfg.Address)
	pair := amm.NewPair(bank, pairAddr, common.HexToAddress(pairCfg.TokenA), common.HexToAddress(pairCfg.TokenB))
	if reserve, ok := parseGenesisAmount(pairCfg.ReserveA); ok {
		if err := bank.Mint(common.HexToAddress(pairCfg.TokenA), pairAddr, reserve); err != nil {
			return nil, fmt.Errorf("genesis pair reserve A: %w", err)
		}
	}
	if reserve, ok := parseGenesisAmount(pairCfg.ReserveB); ok {
		if err := bank.Mint(common.HexToAddress(pairCfg.TokenB), pairAddr, reserve); err != nil {
			return nil, fmt.Errorf("genesis pair reserve B: %w", err)
		}
	}
	pair.Sync()

	for _, b := range cfg.Genesis.Balances {
		amount, ok := parseGenesisAmount(b.Amount)
		if !ok {
			return nil, fmt.Errorf("genesis balance for %s: invalid amount %q", b.Address, b.Amount)
		}
		if err := bank.Mint(common.HexToAddress(b.Token), common.HexToAddress(b.Address), amount); err != nil {
			return nil, fmt.Errorf("genesis balance for %s: %w", b.Address, err)
		}
	}

	engine.SetAdapters(
		marketEngine.Session(moduleAddr),
		amm.NewSession(pair, moduleAddr, engine),
		bank,
	)

	if cfg.OwnerAddress != "" {
		if err := engine.BootstrapOwner(common.HexToAddress(cfg.OwnerAddress)); err != nil {
			return nil, fmt.Errorf("bootstrap owner: %w", err)
		}
	}
	return engine, nil
}

func parseGenesisAmount(raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}
