// Package config loads runtime configuration from environment variables and
// optional YAML retention profiles.
package config

import "os"

// Config holds process configuration.
type Config struct {
	Env            string
	LogLevel       string
	DatabaseDriver string
	DatabaseURL    string
	EvidenceSecret string
	AuthSecret     string
	RedisAddr      string
	OTLPEndpoint   string
	ProfilesDir    string
	SweepDisabled  bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	env := os.Getenv("CUSTODIAN_ENV")
	if env == "" {
		env = "development"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local sqlite file
		dbURL = "file:custodian.db?_pragma=journal_mode(WAL)"
	}

	return &Config{
		Env:            env,
		LogLevel:       logLevel,
		DatabaseDriver: driver,
		DatabaseURL:    dbURL,
		EvidenceSecret: os.Getenv("EVIDENCE_SECRET"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
		ProfilesDir:    os.Getenv("RETENTION_PROFILES_DIR"),
		SweepDisabled:  os.Getenv("PURGE_CRON_DISABLED") == "true",
	}
}

// IsProduction reports whether the process runs with production hardening:
// evidence signing fails closed instead of falling back to the dev secret.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
