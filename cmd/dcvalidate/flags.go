package main

import (
	"flag"
	"os"
)

// CLIConfig holds the command line options. Everything else lives in the
// YAML configuration file.
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("DCVALIDATE_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: DCVALIDATE_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("DCVALIDATE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides config (env: DCVALIDATE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("DCVALIDATE_LOG_FORMAT", ""),
		"Log format: json, text; overrides config (env: DCVALIDATE_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
