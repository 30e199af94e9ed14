// Package config loads configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/drfirst/go-retinarisk/internal/theme"
)

// Client configures the risk client
type Client struct {
	PredictionBaseURL       string        `mapstructure:"PREDICTION_BASE_URL"`
	PredictionPath          string        `mapstructure:"PREDICTION_PATH"`
	PredictionTimeout       time.Duration `mapstructure:"PREDICTION_TIMEOUT"`
	BreakerFailureThreshold uint32        `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerOpenTimeout      time.Duration `mapstructure:"BREAKER_OPEN_TIMEOUT"`
	Theme                   string        `mapstructure:"THEME"`
	Observability           `mapstructure:",squash"`
}

// Server configures the demo prediction service
type Server struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	KafkaBrokers   []string      `mapstructure:"KAFKA_BROKERS"`
	AuditTopic     string        `mapstructure:"AUDIT_TOPIC"`
	MetricsEnabled bool          `mapstructure:"METRICS_ENABLED"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	Observability  `mapstructure:",squash"`
}

// Observability holds the keys shared by both binaries
type Observability struct {
	LogLevel       string  `mapstructure:"LOG_LEVEL"`
	LogFormat      string  `mapstructure:"LOG_FORMAT"`
	TracingEnabled bool    `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint   string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampling  float64 `mapstructure:"TRACE_SAMPLE_RATE"`
}

var observabilityKeys = []string{
	"LOG_LEVEL", "LOG_FORMAT", "TRACING_ENABLED", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
}

func newViper(envFile string, defaults map[string]any, keys []string) *viper.Viper {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range append(keys, observabilityKeys...) {
		_ = v.BindEnv(k)
	}
	return v
}

// LoadClient reads the client configuration. envFile may be empty; a missing
// file is not an error.
func LoadClient(envFile string) (*Client, error) {
	v := newViper(envFile, map[string]any{
		"PREDICTION_BASE_URL":       "http://localhost:8000",
		"PREDICTION_PATH":           "/api/v1/prediction/demo-analyze",
		"PREDICTION_TIMEOUT":        "30s",
		"BREAKER_FAILURE_THRESHOLD": 5,
		"BREAKER_OPEN_TIMEOUT":      "15s",
		"THEME":                     "light",
		"LOG_LEVEL":                 "warn",
		"LOG_FORMAT":                "console",
	}, []string{
		"PREDICTION_BASE_URL", "PREDICTION_PATH", "PREDICTION_TIMEOUT",
		"BREAKER_FAILURE_THRESHOLD", "BREAKER_OPEN_TIMEOUT", "THEME",
	})

	if err := readEnvFile(v, envFile); err != nil {
		return nil, err
	}

	cfg := &Client{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the client configuration
func (c *Client) Validate() error {
	if c.PredictionBaseURL == "" {
		return fmt.Errorf("PREDICTION_BASE_URL is required")
	}
	if !strings.HasPrefix(c.PredictionBaseURL, "http://") && !strings.HasPrefix(c.PredictionBaseURL, "https://") {
		return fmt.Errorf("PREDICTION_BASE_URL must be an http(s) URL, got %q", c.PredictionBaseURL)
	}
	if c.PredictionTimeout <= 0 {
		return fmt.Errorf("PREDICTION_TIMEOUT must be positive, got %s", c.PredictionTimeout)
	}
	if _, err := theme.ParseMode(c.Theme); err != nil {
		return fmt.Errorf("THEME: %w", err)
	}
	return nil
}

// LoadServer reads the demo service configuration
func LoadServer(envFile string) (*Server, error) {
	v := newViper(envFile, map[string]any{
		"PORT":            "8000",
		"ENV":             "development",
		"AUDIT_TOPIC":     "prediction.audit",
		"METRICS_ENABLED": true,
		"CORS_ORIGINS":    "*",
		"REQUEST_TIMEOUT": "10s",
	}, []string{
		"PORT", "ENV", "DATABASE_URL", "KAFKA_BROKERS", "AUDIT_TOPIC",
		"METRICS_ENABLED", "CORS_ORIGINS", "REQUEST_TIMEOUT",
	})

	if err := readEnvFile(v, envFile); err != nil {
		return nil, err
	}

	cfg := &Server{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// comma-separated env values arrive as a single element
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)

	if cfg.Port == "" {
		return nil, fmt.Errorf("PORT is required")
	}
	return cfg, nil
}

// readEnvFile loads envFile into v. A missing file is not an error; an
// unreadable or malformed one is.
func readEnvFile(v *viper.Viper, envFile string) error {
	if envFile == "" {
		return nil
	}
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("read %s: %w", envFile, err)
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// IsDev reports whether the server runs in development mode
func (s *Server) IsDev() bool {
	return s.Env == "development"
}
