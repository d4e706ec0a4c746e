package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	// DebugModeEnv enables debug logging.
	DebugModeEnv = "DEBUG_MODE"

	// HTTPServerPortEnv is the port the web server listens on.
	HTTPServerPortEnv = "HTTP_SERVER_PORT"

	// CatalogFileEnv is the path of the JSON catalog file.
	CatalogFileEnv = "CATALOG_FILE"

	// UploadDirEnv is the directory product images are stored in.
	UploadDirEnv = "UPLOAD_DIR"

	// MaxUploadBytesEnv caps request bodies (image and import uploads).
	MaxUploadBytesEnv = "MAX_UPLOAD_BYTES"

	// MetricsEnabledEnv exposes /metrics when true.
	MetricsEnabledEnv = "METRICS_ENABLED"

	// MetricsTokenEnv is the bearer token required by /metrics.
	MetricsTokenEnv = "METRICS_TOKEN"

	// ImportLimitPerMinEnv limits JSON imports per client IP and minute; 0 disables it.
	ImportLimitPerMinEnv = "IMPORT_LIMIT_PER_MIN"

	// EnvFilePath is the environment variable for the .env file path.
	EnvFilePath = "ENV_PATH"

	// DefaultEnvFilePath is the default path to the .env file.
	DefaultEnvFilePath = ".env"
)

const (
	defaultPort              = "5000"
	defaultCatalogFile       = "productos.json"
	defaultUploadDir         = "static/uploads"
	defaultMaxUploadBytes    = 2 << 20
	defaultImportLimitPerMin = 10
)

// ErrInvalidConfig is returned when a configuration value cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	DebugMode         bool
	HTTPServer        Server
	Catalog           Catalog
	Metrics           Metrics
	ImportLimitPerMin int
}

type Server struct {
	Port string
}

type Catalog struct {
	File           string
	UploadDir      string
	MaxUploadBytes int64
}

type Metrics struct {
	Enabled bool
	Token   string
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.HTTPServer.Port
}

func getEnv(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if val, err := strconv.ParseBool(os.Getenv(name)); err == nil {
		return val
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int64) (int64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, name, raw)
	}
	return v, nil
}

func (c *Config) validate() error {
	port, err := strconv.Atoi(c.HTTPServer.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: %s=%q is not a valid port", ErrInvalidConfig, HTTPServerPortEnv, c.HTTPServer.Port)
	}
	if c.Catalog.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, MaxUploadBytesEnv)
	}
	if c.ImportLimitPerMin < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, ImportLimitPerMinEnv)
	}
	if c.Metrics.Enabled && c.Metrics.Token == "" {
		return fmt.Errorf("%w: %s is required when %s is set", ErrInvalidConfig, MetricsTokenEnv, MetricsEnabledEnv)
	}
	return nil
}

// ApplyEnvFile loads environment variables from the specified .env files.
func ApplyEnvFile(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables, after an
// optional .env file, and validates it.
func LoadFromEnv(log *zap.Logger) (*Config, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := ApplyEnvFile(getEnv(EnvFilePath, DefaultEnvFilePath)); err != nil {
		// just log the error, maybe all envs are set in another way
		log.Info("failed to load from .env", zap.Error(err))
	}

	maxUpload, err := getEnvAsInt(MaxUploadBytesEnv, defaultMaxUploadBytes)
	if err != nil {
		return nil, err
	}
	importLimit, err := getEnvAsInt(ImportLimitPerMinEnv, defaultImportLimitPerMin)
	if err != nil {
		return nil, err
	}

	conf := &Config{
		DebugMode: getEnvAsBool(DebugModeEnv, false),
		HTTPServer: Server{
			Port: getEnv(HTTPServerPortEnv, defaultPort),
		},
		Catalog: Catalog{
			File:           getEnv(CatalogFileEnv, defaultCatalogFile),
			UploadDir:      getEnv(UploadDirEnv, defaultUploadDir),
			MaxUploadBytes: maxUpload,
		},
		Metrics: Metrics{
			Enabled: getEnvAsBool(MetricsEnabledEnv, false),
			Token:   os.Getenv(MetricsTokenEnv),
		},
		ImportLimitPerMin: int(importLimit),
	}

	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return conf, nil
}
