// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           int      `yaml:"port"`
	DatabaseURL    string   `yaml:"database_url"`
	DatabaseType   string   `yaml:"database_type"`
	AdminKeySalt   string   `yaml:"admin_key_salt"`
	TripSlugSalt   string   `yaml:"trip_slug_salt"`
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	NATSURL        string   `yaml:"nats_url"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
	BallotRate     float64  `yaml:"ballot_rate_per_minute"`
	RunoffSize     int      `yaml:"runoff_size"`
}

// ParseFlags validates flags and sets port number.
// Precedence: CLI flags, then environment (including .env), then the YAML
// config file, then defaults.
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var configPath, origins string

	fs := flag.NewFlagSet("packvote", flag.ContinueOnError)

	fs.StringVar(&configPath, "c", "", "YAML config file")

	// Network config (can be CLI args or env)
	fs.IntVar(&cfg.Port, "p", 0, "Server port")
	fs.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	fs.StringVar(&cfg.DatabaseType, "t", "", "Database type (sqlite or postgres)")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "Public base URL for share links")
	fs.StringVar(&origins, "origins", "", "Comma-separated allowed CORS origins")
	fs.StringVar(&cfg.NATSURL, "nats", "", "NATS URL for round events")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "Log format (text or json)")

	// Secrets (prefer env variables, but allow CLI for dev)
	fs.StringVar(&cfg.AdminKeySalt, "admin-salt", "", "Admin key salt (prefer env)")
	fs.StringVar(&cfg.TripSlugSalt, "slug-salt", "", "Trip slug salt (prefer env)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv("PACKVOTE_CONFIG")
	}
	var file Config
	if configPath != "" {
		loaded, err := LoadFile(configPath)
		if err != nil {
			return Config{}, err
		}
		file = loaded
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else if file.Port != 0 {
			cfg.Port = file.Port
		} else {
			cfg.Port = 3318 // default
		}
	}

	cfg.DatabaseURL = firstNonEmpty(cfg.DatabaseURL, os.Getenv("DATABASE_URL"), file.DatabaseURL)
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	cfg.DatabaseType = firstNonEmpty(cfg.DatabaseType, os.Getenv("DATABASE_TYPE"), file.DatabaseType, "sqlite")
	if cfg.DatabaseType != "sqlite" && cfg.DatabaseType != "postgres" {
		return Config{}, fmt.Errorf("unsupported database type %q", cfg.DatabaseType)
	}

	cfg.BaseURL = strings.TrimRight(firstNonEmpty(cfg.BaseURL, os.Getenv("BASE_URL"), file.BaseURL, "https://packvote.app"), "/")
	cfg.NATSURL = firstNonEmpty(cfg.NATSURL, os.Getenv("NATS_URL"), file.NATSURL)
	cfg.LogLevel = firstNonEmpty(cfg.LogLevel, os.Getenv("LOG_LEVEL"), file.LogLevel, "info")
	cfg.LogFormat = firstNonEmpty(cfg.LogFormat, os.Getenv("LOG_FORMAT"), file.LogFormat, "text")

	if len(cfg.AllowedOrigins) == 0 {
		if env := os.Getenv("ALLOWED_ORIGINS"); env != "" {
			cfg.AllowedOrigins = splitList(env)
		} else {
			cfg.AllowedOrigins = file.AllowedOrigins
		}
	}

	rate, err := envFloat("BALLOT_RATE_PER_MINUTE", file.BallotRate, 120)
	if err != nil {
		return Config{}, err
	}
	cfg.BallotRate = rate

	size, err := envInt("RUNOFF_SIZE", file.RunoffSize, 2)
	if err != nil {
		return Config{}, err
	}
	if size < 1 {
		return Config{}, errors.New("RUNOFF_SIZE must be at least 1")
	}
	cfg.RunoffSize = size

	// Secrets - MUST be provided
	cfg.AdminKeySalt = firstNonEmpty(cfg.AdminKeySalt, os.Getenv("ADMIN_KEY_SALT"), file.AdminKeySalt)
	if cfg.AdminKeySalt == "" {
		return Config{}, errors.New("ADMIN_KEY_SALT required")
	}

	cfg.TripSlugSalt = firstNonEmpty(cfg.TripSlugSalt, os.Getenv("TRIP_SLUG_SALT"), file.TripSlugSalt)
	if cfg.TripSlugSalt == "" {
		return Config{}, errors.New("TRIP_SLUG_SALT required")
	}

	return cfg, nil
}

// LoadFile reads a YAML config file. Missing keys stay at their zero value.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, fileValue, def int) (int, error) {
	if s := os.Getenv(key); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid %s env variable", key)
		}
		return v, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return def, nil
}

func envFloat(key string, fileValue, def float64) (float64, error) {
	if s := os.Getenv(key); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s env variable", key)
		}
		return v, nil
	}
	if fileValue != 0 {
		return fileValue, nil
	}
	return def, nil
}
