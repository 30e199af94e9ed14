package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/api/handlers"
	"github.com/drfirst/go-retinarisk/internal/config"
	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/infrastructure/predictionapi"
	"github.com/drfirst/go-retinarisk/internal/intake"
)

func testServer(t *testing.T, checks ...func(context.Context) error) *httptest.Server {
	t.Helper()
	predictions, err := handlers.NewPredictionHandler(demo.NewAnalyzer(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = predictions.Close() })

	cfg := &config.Server{CORSOrigins: []string{"*"}}
	srv := httptest.NewServer(newRouter(cfg, zap.NewNop(), routes{predictions: predictions, checks: checks}))
	t.Cleanup(srv.Close)
	return srv
}

// The client package talks to the router exactly as it would to the real service.
func TestClientAgainstDemoRouter(t *testing.T) {
	srv := testServer(t)

	cfg := predictionapi.DefaultConfig()
	cfg.BaseURL = srv.URL
	client, err := predictionapi.New(cfg, zap.NewNop())
	require.NoError(t, err)

	res, err := client.Predict(context.Background(), intake.DefaultRecord())
	require.NoError(t, err)
	assert.Equal(t, demo.ModelVersion, res.ModelVersion)

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.ModelLoaded)
}

func TestReadyReflectsChecks(t *testing.T) {
	ok := testServer(t, func(context.Context) error { return nil })
	resp, err := http.Get(ok.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := testServer(t, func(context.Context) error { return errors.New("db down") })
	resp, err = http.Get(down.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestArchiveAndMetricsAreOptional(t *testing.T) {
	srv := testServer(t)

	for _, path := range []string{"/metrics", "/api/v1/archive/"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	resp, err := http.Post(srv.URL+"/api/v1/prediction/demo-analyze", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRootReportsRunning(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"Diabetic AI System","status":"running"}`, string(body))
}
