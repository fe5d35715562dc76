package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"bittrex-client/bittrex"
)

const (
	envAPIKey    = "BITTREX_API_KEY"
	envAPISecret = "BITTREX_API_SECRET"
	envURL       = "BITTREX_URL"
	envTimeout   = "BITTREX_TIMEOUT"
)

// loadConfig builds the client config from the environment. Variables from
// envFile are loaded first when the file exists; values already set in the
// process environment win.
func loadConfig(envFile string) (bittrex.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return bittrex.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	config := bittrex.Config{
		URL:       getEnv(envURL, bittrex.DefaultURL),
		APIKey:    os.Getenv(envAPIKey),
		APISecret: os.Getenv(envAPISecret),
		Timeout:   bittrex.DefaultTimeout,
	}

	if raw := os.Getenv(envTimeout); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return bittrex.Config{}, fmt.Errorf("parse %s: %w", envTimeout, err)
		}
		config.Timeout = timeout
	}

	return config, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
