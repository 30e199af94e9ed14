// Package predictionapi is the HTTP transport to the external prediction service.
package predictionapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/prediction"
	"github.com/drfirst/go-retinarisk/pkg/circuitbreaker"
)

const (
	DefaultBaseURL    = "http://localhost:8000"
	DefaultPath       = "/api/v1/prediction/demo-analyze"
	DefaultHealthPath = "/api/v1/prediction/health"

	maxDetailLen = 300
)

// Config holds client configuration
type Config struct {
	BaseURL    string
	Path       string
	HealthPath string
	// Timeout bounds a single request, including reading the body
	Timeout time.Duration
	Breaker circuitbreaker.Config
}

// DefaultConfig returns the configuration for a locally running service
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Path:       DefaultPath,
		HealthPath: DefaultHealthPath,
		Timeout:    30 * time.Second,
		Breaker:    circuitbreaker.DefaultConfig("prediction-service"),
	}
}

// Client submits clinical records to the prediction service
type Client struct {
	http    *resty.Client
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer

	mu   sync.Mutex
	last *prediction.Failure
}

// New creates a client
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("prediction service base URL is required")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "prediction-service"
	}
	cfg.Breaker.IsFailure = countsAgainstService

	breaker, err := circuitbreaker.New(cfg.Breaker, logger)
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("prediction-client"),
	}, nil
}

// countsAgainstService reports whether err says the service is unhealthy.
// Malformed responses, client errors and cancellations do not.
func countsAgainstService(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var f *prediction.Failure
	if !errors.As(err, &f) {
		return true
	}
	switch f.Reason {
	case prediction.ReasonNetwork:
		return true
	case prediction.ReasonServer:
		return f.Status >= http.StatusInternalServerError
	default:
		return false
	}
}

// Predict posts rec and decodes the response. Every error is a *prediction.Failure.
func (c *Client) Predict(ctx context.Context, rec intake.ClinicalRecord) (*prediction.Result, error) {
	ctx, span := c.tracer.Start(ctx, "predict",
		trace.WithAttributes(
			attribute.String("http.url", c.cfg.BaseURL+c.cfg.Path),
		))
	defer span.End()

	result, err := circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (*prediction.Result, error) {
		return c.post(ctx, rec)
	})
	if err != nil {
		failure := c.classify(err)
		span.RecordError(failure)
		span.SetStatus(codes.Error, string(failure.Reason))
		c.logger.Warn("prediction request failed",
			zap.String("reason", string(failure.Reason)),
			zap.Int("status", failure.Status),
			zap.Error(err))
		return nil, failure
	}

	span.SetAttributes(attribute.String("prediction_id", result.PredictionID))
	c.logger.Debug("prediction received",
		zap.String("prediction_id", result.PredictionID),
		zap.String("dr_stage", result.DRStage),
		zap.String("model_version", result.ModelVersion))
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
	return result, nil
}

// classify turns a breaker or transport error into a Failure. A call refused
// by the open circuit is reported with the last failure that tripped it.
func (c *Client) classify(err error) *prediction.Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return prediction.Rejected(c.last, err)
	}
	failure := prediction.AsFailure(err)
	if countsAgainstService(err) {
		c.last = failure
	}
	return failure
}

func (c *Client) post(ctx context.Context, rec intake.ClinicalRecord) (*prediction.Result, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(rec)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := req.Post(c.cfg.Path)
	if err != nil {
		return nil, prediction.NetworkError(err)
	}
	if !resp.IsSuccess() {
		return nil, prediction.ServerError(resp.StatusCode(), errorDetail(resp.Body()))
	}
	return prediction.Decode(resp.Body())
}

// HealthStatus is the service health payload
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Health queries the service health endpoint. It bypasses the circuit breaker.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, span := c.tracer.Start(ctx, "health")
	defer span.End()

	req := c.http.R().SetContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := req.Get(c.cfg.HealthPath)
	if err != nil {
		return nil, prediction.NetworkError(err)
	}
	if !resp.IsSuccess() {
		return nil, prediction.ServerError(resp.StatusCode(), errorDetail(resp.Body()))
	}

	var h HealthStatus
	if err := json.Unmarshal(resp.Body(), &h); err != nil {
		return nil, prediction.Malformed(fmt.Errorf("decode health: %w", err))
	}
	if h.Status == "" {
		return nil, prediction.Malformed(errors.New("health: missing status"))
	}
	return &h, nil
}

// Breaker returns the health summary of the client's circuit breaker
func (c *Client) Breaker() circuitbreaker.HealthStatus {
	return c.breaker.Health()
}

// errorDetail extracts a readable message from an error body. Services
// usually answer {"detail": ...}; anything else is passed through truncated.
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var s string
		switch {
		case len(payload.Detail) > 0 && json.Unmarshal(payload.Detail, &s) == nil:
			return truncate(s)
		case len(payload.Detail) > 0:
			return truncate(string(payload.Detail))
		case payload.Error != "":
			return truncate(payload.Error)
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

// truncate cuts s to at most maxDetailLen bytes on a rune boundary
func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
