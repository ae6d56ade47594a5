package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects the execution backend. Only "sim" is runnable in this
	// repository; "live" halts as a safety switch.
	Mode string

	// StableDenom / VolatileDenom name the managed pair.
	StableDenom   string
	VolatileDenom string

	// FeeReceiver collects deposit fees when no referrer is supplied.
	FeeReceiver string

	// RebalanceInterval is the keeper loop period.
	RebalanceInterval time.Duration

	// WebPort is the diagnostics API port.
	WebPort string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("DNV_MODE")
	if err != nil {
		return err
	}

	StableDenom, err = getEnv("DNV_STABLE_DENOM")
	if err != nil {
		return err
	}

	VolatileDenom, err = getEnv("DNV_VOLATILE_DENOM")
	if err != nil {
		return err
	}

	FeeReceiver, err = getEnv("DNV_FEE_RECEIVER")
	if err != nil {
		return err
	}

	intervalSeconds, err := getEnvAsUint64("DNV_REBALANCE_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	RebalanceInterval = time.Duration(intervalSeconds) * time.Second

	WebPort = os.Getenv("DNV_WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	log.Debug().
		Str("Mode", Mode).
		Str("Pair", StableDenom+"/"+VolatileDenom).
		Dur("RebalanceInterval", RebalanceInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " is not a valid unsigned integer")
	}
	return value, nil
}
