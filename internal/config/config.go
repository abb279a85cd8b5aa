// Package config reads the service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/01moynul/edu-content-api/internal/database"
)

type Config struct {
	Port string

	Primary database.Params
	Replica database.Params

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	ProbeInterval  time.Duration

	AllowedOrigin string
	JWTSecret     string
	LogVerbosity  int
}

// LoadDotEnv loads .env into the process environment if the file exists.
// It reports whether a file was loaded.
func LoadDotEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

// Load builds a Config from the environment, applying defaults.
func Load() (*Config, error) {
	var err error
	cfg := &Config{
		Port:          getenv("PORT", "8000"),
		AllowedOrigin: getenv("CORS_ALLOWED_ORIGIN", "*"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
	}

	sslMode := getenv("DB_SSLMODE", "disable")
	if cfg.Primary, err = loadParams("DB_PRIMARY", "db-primary", sslMode); err != nil {
		return nil, err
	}
	if cfg.Replica, err = loadParams("DB_REPLICA", "db-replica", sslMode); err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout, err = getDuration("DB_CONNECT_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = getDuration("REPLICA_PROBE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LogVerbosity, err = getInt("LOG_VERBOSITY", 0); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadParams(prefix, defaultHost, sslMode string) (database.Params, error) {
	port, err := getInt(prefix+"_PORT", 5432)
	if err != nil {
		return database.Params{}, err
	}
	return database.Params{
		Host:     getenv(prefix+"_HOST", defaultHost),
		Port:     port,
		Name:     getenv(prefix+"_NAME", "synthetic_data_db"),
		User:     getenv(prefix+"_USER", "postgres_user"),
		Password: getenv(prefix+"_PASSWORD", "postgres_password_secure_2024"),
		SSLMode:  sslMode,
	}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", key, v)
	}
	return d, nil
}
