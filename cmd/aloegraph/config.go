package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds aloegraph CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath    string `json:"db_path"`
	LogLevel  string `json:"log_level"`
	StepLimit int    `json:"step_limit"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(aloegraphDir(), "aloegraph.db"),
		LogLevel: "info",
	}
}

func aloegraphDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aloegraph"
	}
	return filepath.Join(home, ".aloegraph")
}

func settingsPath() string {
	return filepath.Join(aloegraphDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("ALOEGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ALOEGRAPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ALOEGRAPH_STEP_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StepLimit = n
		}
	}

	return cfg
}
