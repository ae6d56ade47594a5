// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// TestDBConnection verifies the connection is alive within a short deadline.
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	// Amounts are NUMERIC(78, 0): wide enough for any 256-bit integer in
	// base units. Ratios are parts-per-1e18 decimals.
	schemaSQL := `
		CREATE TABLE IF NOT EXISTS pool_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			tolerance_min DECIMAL(40, 18) NOT NULL,
			tolerance_max DECIMAL(40, 18) NOT NULL,
			rebalance_target DECIMAL(40, 18) NOT NULL,
			deposit_fee_rate DECIMAL(40, 18) NOT NULL,
			fee_receiver VARCHAR(255) NOT NULL,
			CONSTRAINT uq_pool_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_pool_parameters_config_active ON pool_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS rebalance_receipts (
			receipt_id SERIAL PRIMARY KEY,
			pair VARCHAR(128) NOT NULL,
			trace_id VARCHAR(64) NOT NULL,
			direction VARCHAR(32) NOT NULL,
			owned_before NUMERIC(78, 0) NOT NULL,
			debt_before NUMERIC(78, 0) NOT NULL,
			bps_before DECIMAL(40, 18) NOT NULL,
			owned_after NUMERIC(78, 0) NOT NULL,
			debt_after NUMERIC(78, 0) NOT NULL,
			bps_after DECIMAL(40, 18) NOT NULL,
			amount_traded NUMERIC(78, 0) NOT NULL,
			fee_extracted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_pair_time ON rebalance_receipts(pair, created_at DESC);

		CREATE TABLE IF NOT EXISTS share_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			pair VARCHAR(128) NOT NULL,
			share_supply NUMERIC(78, 0) NOT NULL,
			holders INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_share_snapshots_pair_time ON share_snapshots(pair, created_at DESC);
	`
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().Msg("Database schema ensured.")
	return nil
}
