// Package handlers provides HTTP handlers for the demo prediction service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/api/middleware"
	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/observability/metrics"
	"github.com/drfirst/go-retinarisk/pkg/workerpool"
)

const (
	maxBodyBytes   = 64 << 10
	recordTimeout  = 5 * time.Second
	recorderQueue  = 1024
	recorderWorker = 4
)

// Recorder keeps a copy of each served prediction. Failures never affect the response.
type Recorder interface {
	Name() string
	Record(ctx context.Context, p demo.ServedPrediction) error
}

type recordJob struct {
	recorder Recorder
	served   demo.ServedPrediction
}

// Option configures a PredictionHandler
type Option func(*PredictionHandler)

// WithRecorders archives or publishes every served prediction
func WithRecorders(rs ...Recorder) Option {
	return func(h *PredictionHandler) { h.recorders = append(h.recorders, rs...) }
}

// WithMetrics records served predictions
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *PredictionHandler) { h.metrics = m }
}

// PredictionHandler handles prediction endpoints
type PredictionHandler struct {
	analyzer  *demo.Analyzer
	recorders []Recorder
	pool      *workerpool.Pool[recordJob, string]
	drained   chan struct{}
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewPredictionHandler creates a new handler. Call Close to flush recorders.
func NewPredictionHandler(analyzer *demo.Analyzer, logger *zap.Logger, opts ...Option) (*PredictionHandler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &PredictionHandler{
		analyzer: analyzer,
		logger:   logger,
		tracer:   otel.Tracer("prediction-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}

	if len(h.recorders) > 0 {
		cfg := workerpool.DefaultConfig()
		cfg.Workers = recorderWorker
		cfg.QueueSize = recorderQueue
		cfg.MaxRetries = 2
		cfg.CollectResults = true
		pool, err := workerpool.New(cfg, h.record, logger)
		if err != nil {
			return nil, fmt.Errorf("create recorder pool: %w", err)
		}
		h.pool = pool
		h.drained = make(chan struct{})
		pool.Start()
		go h.drain()
	}
	return h, nil
}

// Routes returns the handler routes
func (h *PredictionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/demo-analyze", h.Analyze)
	r.Get("/health", h.Health)
	return r
}

// Analyze handles POST /demo-analyze
func (h *PredictionHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "demo_analyze")
	defer span.End()

	rec, err := decodeRecord(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		h.logger.Debug("rejected clinical record",
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		writeDetail(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	start := time.Now()
	res := h.analyzer.Analyze(rec)
	elapsed := time.Since(start)

	body, err := json.Marshal(res)
	if err != nil {
		h.logger.Error("encode prediction failed", zap.Error(err))
		writeDetail(w, "failed to encode prediction", http.StatusInternalServerError)
		return
	}

	span.SetAttributes(
		attribute.String("prediction_id", res.PredictionID),
		attribute.String("overall_category", res.OverallRisk.Category),
	)
	if h.metrics != nil {
		h.metrics.PredictionsServed.WithLabelValues(res.OverallRisk.Category).Inc()
		h.metrics.PredictionDuration.Observe(elapsed.Seconds())
	}

	h.logger.Info("prediction served",
		zap.String("prediction_id", res.PredictionID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("dr_stage", res.DRStage),
		zap.String("overall_category", res.OverallRisk.Category),
	)

	h.dispatch(demo.ServedPrediction{
		RequestID: middleware.GetRequestID(ctx),
		Record:    rec,
		Result:    res,
		ServedAt:  time.Now().UTC(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Health handles GET /health
func (h *PredictionHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "model_loaded": true})
}

// Ready reports whether recorders keep up with traffic
func (h *PredictionHandler) Ready() bool {
	return h.pool == nil || h.pool.IsHealthy()
}

// Close waits for queued recordings to finish
func (h *PredictionHandler) Close() error {
	if h.pool == nil {
		return nil
	}
	err := h.pool.Stop()
	<-h.drained
	return err
}

func (h *PredictionHandler) dispatch(served demo.ServedPrediction) {
	if h.pool == nil {
		return
	}
	for _, rc := range h.recorders {
		task := &workerpool.Task[recordJob]{
			ID:      served.Result.PredictionID + "/" + rc.Name(),
			Payload: recordJob{recorder: rc, served: served},
		}
		if err := h.pool.Submit(task); err != nil {
			h.recorderFailed(rc.Name(), task.ID, err)
		}
	}
}

// record returns the recorder name so failures can be attributed after retries
func (h *PredictionHandler) record(ctx context.Context, task *workerpool.Task[recordJob]) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	rc := task.Payload.recorder
	return rc.Name(), rc.Record(ctx, task.Payload.served)
}

// drain reports recorder failures once retries are exhausted
func (h *PredictionHandler) drain() {
	defer close(h.drained)
	for res := range h.pool.Results() {
		if res.Err != nil {
			h.recorderFailed(res.Data, res.TaskID, res.Err)
		}
	}
}

func (h *PredictionHandler) recorderFailed(recorder, taskID string, err error) {
	if h.metrics != nil {
		h.metrics.RecorderFailures.WithLabelValues(recorder).Inc()
	}
	h.logger.Warn("recording prediction failed",
		zap.String("recorder", recorder),
		zap.String("task_id", taskID),
		zap.Error(err))
}

// optionalFields may be omitted from a request; they then take these values
var optionalFields = map[string]func(*intake.ClinicalRecord){
	"has_hypertension": func(r *intake.ClinicalRecord) { r.HasHypertension = false },
	"smoking_status":   func(r *intake.ClinicalRecord) { r.SmokingStatus = intake.SmokingNever },
	"family_history":   func(r *intake.ClinicalRecord) { r.FamilyHistory = false },
}

// decodeRecord reads a clinical record. Fields outside optionalFields are
// required, and no field may be null.
func decodeRecord(r io.Reader) (intake.ClinicalRecord, error) {
	var rec intake.ClinicalRecord

	body, err := io.ReadAll(r)
	if err != nil {
		return rec, fmt.Errorf("read body: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return rec, fmt.Errorf("invalid JSON body: %w", err)
	}
	for _, name := range intake.FieldNames() {
		raw, ok := fields[name]
		if def, optional := optionalFields[name]; optional && !ok {
			def(&rec)
			continue
		}
		if !ok || string(raw) == "null" {
			return rec, fmt.Errorf("%s: field required", name)
		}
	}

	if err := json.Unmarshal(body, &rec); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return rec, fmt.Errorf("%s: expected %s", typeErr.Field, typeErr.Type)
		}
		return rec, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := intake.Validate(rec); err != nil {
		return rec, err
	}
	return rec, nil
}
