package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/hedgevault/dnv/internal/config"
	"github.com/hedgevault/dnv/internal/keeper"
	"github.com/hedgevault/dnv/internal/logger"
	"github.com/hedgevault/dnv/internal/pool"
	"github.com/hedgevault/dnv/internal/simulations"
	"github.com/hedgevault/dnv/internal/state"
	"github.com/hedgevault/dnv/internal/web"
)

const PARAMETERS_CONFIG_NAME = "default"
const PARAMETERS_CONFIG_VERSION = 1

// main is the entry point for the DNV position manager.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("DNV Position Manager Starting...")

	// --- 2. Optional Parameter Store ---
	// The database only persists parameter versions and rebalance receipts;
	// the manager runs without it.
	params := config.DefaultPoolParameters
	var sink keeper.ReceiptSink

	if os.Getenv("DB_HOST") != "" {
		dbCfg := state.DBConfig{
			Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
			User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
			DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}

		stored, err := state.LoadActivePoolParameters(PARAMETERS_CONFIG_NAME)
		switch {
		case err == nil:
			params = stored
			log.Info().Int("version", stored.Version).Msg("Pool parameters loaded from store")
		case err == sql.ErrNoRows:
			log.Warn().Msg("No active pool parameters found, saving defaults.")
			if _, err := state.SavePoolParameters(params, PARAMETERS_CONFIG_NAME, PARAMETERS_CONFIG_VERSION, true); err != nil {
				log.Fatal().Err(err).Msg("Failed to save initial default pool parameters.")
			}
		default:
			log.Fatal().Err(err).Msg("Failed to load active pool parameters")
		}

		sink = state.Sink{}
	} else {
		log.Warn().Msg("DB_HOST not set, running without the parameter and receipt store.")
	}
	params.FeeReceiver = config.FeeReceiver

	// --- 3. Execution Backend (with Safety Switch) ---
	if config.Mode != "sim" {
		log.Fatal().Str("mode", config.Mode).Msg("Only DNV_MODE=sim is runnable in this build. Halting to prevent accidental execution against live venues.")
	}

	env, tokens, err := simulations.NewEnv(simulations.EnvConfig{
		Stable:       config.StableDenom,
		Volatile:     config.VolatileDenom,
		ReserveS:     sdkmath.NewInt(1_000_000_000_000),
		ReserveV:     sdkmath.NewInt(1_000_000_000_000),
		LendingS:     sdkmath.NewInt(1_000_000_000_000),
		LendingV:     sdkmath.NewInt(1_000_000_000_000),
		SecondaryS:   sdkmath.NewInt(1_000_000_000_000),
		FlashS:       sdkmath.NewInt(1_000_000_000_000),
		FlashFeeRate: sdkmath.LegacyMustNewDecFromStr("0.0009"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed simulated execution backend")
	}
	log.Info().Str("pair", tokens.Pair()).Msg("Simulated execution backend ready")

	// --- 4. Pool and Keeper Wiring ---
	managedPool, err := pool.New("pool:"+tokens.Pair(), tokens, params, env.Ledger, env.AMM, env.Lending, env)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create position pool")
	}

	// Leveraged wrappers borrow against pool shares in the secondary market.
	env.Secondary.RegisterShareToken(managedPool)

	registry := simulations.NewAutomationRegistry()

	keeperInstance, err := keeper.NewKeeper(keeper.Config{
		Pools:      []*pool.Pool{managedPool},
		Registry:   registry,
		Sink:       sink,
		ExtractFee: true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}

	hashes, err := keeperInstance.RegisterTriggers("keeper", 400_000, "0.02")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register automation triggers")
	}
	log.Info().Int("count", len(hashes)).Msg("Automation triggers registered")

	// --- 5. Web Server ---
	webServer := web.NewWebServer(config.WebPort, []*pool.Pool{managedPool})
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting DNV diagnostics API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 6. Keeper Main Loop ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("interval", config.RebalanceInterval.String()).Msg("Starting keeper main loop")
	keeperInstance.RunLoop(ctx, config.RebalanceInterval)

	log.Info().Msg("Shutdown signal received, keeper stopped.")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
