package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultOpsAddr           = ":8080"
	defaultDBPath            = "warden.db"
	defaultMaxConcurrentJobs = 16
	defaultDuplicatePolicy   = "error"
	defaultServiceName       = "warden"

	envConfigFile        = "WARDEN_CONFIG"
	envOpsAddr           = "WARDEN_OPS_ADDR"
	envDBPath            = "WARDEN_DB_PATH"
	envPersistence       = "WARDEN_PERSISTENCE"
	envLogLevel          = "WARDEN_LOG_LEVEL"
	envMaxConcurrentJobs = "WARDEN_MAX_CONCURRENT_JOBS"
	envDuplicatePolicy   = "WARDEN_DUPLICATE_POLICY"
	envOTELEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTELInsecure      = "WARDEN_OTEL_INSECURE"
	envServiceName       = "OTEL_SERVICE_NAME"
)

// Config holds application configuration.
type Config struct {
	OpsAddr string
	DBPath  string
	// Persistence selects the SQLite store. When false, state lives in
	// memory and is lost on exit.
	Persistence       bool
	LogLevel          slog.Level
	MaxConcurrentJobs int
	// DuplicatePolicy is "error" or "overwrite".
	DuplicatePolicy string

	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string
}

// fileConfig is the YAML layer. Unset keys keep the defaults.
type fileConfig struct {
	OpsAddr           *string `yaml:"ops_addr"`
	DBPath            *string `yaml:"db_path"`
	Persistence       *bool   `yaml:"persistence"`
	LogLevel          *string `yaml:"log_level"`
	MaxConcurrentJobs *int    `yaml:"max_concurrent_jobs"`
	DuplicatePolicy   *string `yaml:"duplicate_policy"`
	OTEL              struct {
		Endpoint    *string `yaml:"endpoint"`
		Insecure    *bool   `yaml:"insecure"`
		ServiceName *string `yaml:"service_name"`
	} `yaml:"otel"`
}

// Load builds the configuration from defaults, then the YAML file named by
// WARDEN_CONFIG if set, then environment variables.
func Load() (Config, error) {
	cfg := Config{
		OpsAddr:           defaultOpsAddr,
		DBPath:            defaultDBPath,
		Persistence:       true,
		LogLevel:          slog.LevelInfo,
		MaxConcurrentJobs: defaultMaxConcurrentJobs,
		DuplicatePolicy:   defaultDuplicatePolicy,
		ServiceName:       defaultServiceName,
	}

	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setIf(&c.OpsAddr, f.OpsAddr)
	setIf(&c.DBPath, f.DBPath)
	setIf(&c.Persistence, f.Persistence)
	setIf(&c.MaxConcurrentJobs, f.MaxConcurrentJobs)
	setIf(&c.DuplicatePolicy, f.DuplicatePolicy)
	setIf(&c.OTELEndpoint, f.OTEL.Endpoint)
	setIf(&c.OTELInsecure, f.OTEL.Insecure)
	setIf(&c.ServiceName, f.OTEL.ServiceName)
	if f.LogLevel != nil {
		c.LogLevel = parseLogLevel(*f.LogLevel)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envOpsAddr); v != "" {
		c.OpsAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envPersistence); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envPersistence, err)
		}
		c.Persistence = b
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envMaxConcurrentJobs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envMaxConcurrentJobs, err)
		}
		c.MaxConcurrentJobs = n
	}
	if v := os.Getenv(envDuplicatePolicy); v != "" {
		c.DuplicatePolicy = v
	}
	if v := os.Getenv(envOTELEndpoint); v != "" {
		c.OTELEndpoint = v
	}
	if v := os.Getenv(envOTELInsecure); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envOTELInsecure, err)
		}
		c.OTELInsecure = b
	}
	if v := os.Getenv(envServiceName); v != "" {
		c.ServiceName = v
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.OpsAddr == "" {
		errs = append(errs, errors.New("ops address is required"))
	}
	if c.Persistence && c.DBPath == "" {
		errs = append(errs, errors.New("db path is required when persistence is enabled"))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent jobs must be positive, got %d", c.MaxConcurrentJobs))
	}
	switch strings.ToLower(c.DuplicatePolicy) {
	case "error", "overwrite":
	default:
		errs = append(errs, fmt.Errorf("duplicate policy must be error or overwrite, got %q", c.DuplicatePolicy))
	}
	return errors.Join(errs...)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
