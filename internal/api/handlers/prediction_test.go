package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/observability/metrics"
	"github.com/drfirst/go-retinarisk/internal/prediction"
)

type memRecorder struct {
	name string
	err  error

	mu     sync.Mutex
	served []demo.ServedPrediction
}

func (m *memRecorder) Name() string { return m.name }

func (m *memRecorder) Record(_ context.Context, p demo.ServedPrediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.served = append(m.served, p)
	return m.err
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.served)
}

func recordJSON(t *testing.T, mutate func(map[string]any)) string {
	t.Helper()
	b, err := json.Marshal(intake.DefaultRecord())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	if mutate != nil {
		mutate(m)
	}
	b, err = json.Marshal(m)
	require.NoError(t, err)
	return string(b)
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/demo-analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeServesDecodableResult(t *testing.T) {
	h, err := NewPredictionHandler(demo.NewAnalyzer(), zap.NewNop())
	require.NoError(t, err)
	defer h.Close()

	resp := post(h.Routes(), recordJSON(t, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	res, err := prediction.Decode(resp.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "No DR", res.DRStage)
	assert.Equal(t, "Moderate", res.OverallRisk.Category)
	assert.Equal(t, 3, res.FollowUpMonths)
	assert.Equal(t, demo.ModelVersion, res.ModelVersion)
	assert.True(t, strings.HasPrefix(res.PredictionID, "demo_"))
}

func TestAnalyzeRejectsBadRecords(t *testing.T) {
	h, err := NewPredictionHandler(demo.NewAnalyzer(), zap.NewNop())
	require.NoError(t, err)
	defer h.Close()

	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"not json", "{", "invalid JSON body"},
		{"array", "[]", "invalid JSON body"},
		{"missing field", recordJSON(t, func(m map[string]any) { delete(m, "hba1c") }), "hba1c: field required"},
		{"null field", recordJSON(t, func(m map[string]any) { m["age"] = nil }), "age: field required"},
		{"wrong type", recordJSON(t, func(m map[string]any) { m["bmi"] = "heavy" }), "bmi"},
		{"out of range", recordJSON(t, func(m map[string]any) { m["age"] = 130 }), "age"},
		{"bad enum", recordJSON(t, func(m map[string]any) { m["smoking_status"] = "sometimes" }), "smoking_status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(h.Routes(), tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			assert.Contains(t, body["detail"], tt.detail)
		})
	}
}

func TestDecodeRecordDefaultsOptionalFields(t *testing.T) {
	body := recordJSON(t, func(m map[string]any) {
		delete(m, "has_hypertension")
		delete(m, "smoking_status")
		delete(m, "family_history")
	})
	rec, err := decodeRecord(strings.NewReader(body))
	require.NoError(t, err)
	assert.False(t, rec.HasHypertension)
	assert.Equal(t, intake.SmokingNever, rec.SmokingStatus)
	assert.False(t, rec.FamilyHistory)

	_, err = decodeRecord(strings.NewReader(recordJSON(t, func(m map[string]any) { m["family_history"] = nil })))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "family_history: field required")
}

func TestHealth(t *testing.T) {
	h, err := NewPredictionHandler(demo.NewAnalyzer(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"healthy","model_loaded":true}`, resp.Body.String())
	assert.True(t, h.Ready())
}

func TestRecordersReceiveServedPredictions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ok := &memRecorder{name: "archive"}
	broken := &memRecorder{name: "audit", err: errors.New("broker unavailable")}

	h, err := NewPredictionHandler(demo.NewAnalyzer(), zap.NewNop(),
		WithRecorders(ok, broken), WithMetrics(m))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp := post(h.Routes(), recordJSON(t, nil))
		require.Equal(t, http.StatusOK, resp.Code)
	}
	require.NoError(t, h.Close())

	assert.Equal(t, 3, ok.count())
	// two retries per failed recording
	assert.Equal(t, 9, broken.count())
	assert.Equal(t, float64(3), testutil.ToFloat64(m.RecorderFailures.WithLabelValues("audit")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RecorderFailures.WithLabelValues("archive")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.PredictionsServed.WithLabelValues("Moderate")))

	ok.mu.Lock()
	defer ok.mu.Unlock()
	assert.Equal(t, intake.DefaultRecord(), ok.served[0].Record)
	require.NotNil(t, ok.served[0].Result)
}
