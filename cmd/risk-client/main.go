// Package main provides the risk client command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/config"
	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/infrastructure/predictionapi"
	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/observability/logging"
	"github.com/drfirst/go-retinarisk/internal/observability/metrics"
	"github.com/drfirst/go-retinarisk/internal/session"
	"github.com/drfirst/go-retinarisk/internal/submission"
	"github.com/drfirst/go-retinarisk/internal/theme"
	"github.com/drfirst/go-retinarisk/pkg/circuitbreaker"
)

const (
	exitFailure    = 1
	exitValidation = 2
)

// exitError carries the process exit code for a command failure
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func validationFailed(err error) error { return &exitError{code: exitValidation, err: err} }
func failed(err error) error           { return &exitError{code: exitFailure, err: err} }

// app holds what every command needs once flags and config are resolved
type app struct {
	envFile     string
	endpoint    string
	themeArg    string
	timeout     time.Duration
	logLevel    string
	offline     bool
	metricsAddr string

	cfg        *config.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
	metricsSrv *http.Server
	out        io.Writer
	errOut     io.Writer
}

func main() {
	a := &app{out: os.Stdout, errOut: os.Stderr}
	root := a.rootCmd()

	err := root.Execute()
	a.teardown()
	if err != nil {
		fmt.Fprintln(a.errOut, "error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitFailure)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "risk-client",
		Short:         "Submit clinical records for diabetic complication risk scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "optional .env file")
	flags.StringVar(&a.endpoint, "endpoint", "", "prediction service base URL (overrides PREDICTION_BASE_URL)")
	flags.StringVar(&a.themeArg, "theme", "", "display theme: light or dark (overrides THEME)")
	flags.DurationVar(&a.timeout, "timeout", 0, "request timeout (overrides PREDICTION_TIMEOUT)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	flags.BoolVar(&a.offline, "offline", false, "score with the built-in demo analyzer instead of the service")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	root.AddCommand(a.submitCmd())
	root.AddCommand(a.fieldsCmd())
	root.AddCommand(a.healthCmd())
	root.AddCommand(a.batchCmd())
	return root
}

// setup resolves configuration. Flags win over the environment.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadClient(a.envFile)
	if err != nil {
		return failed(err)
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.PredictionBaseURL = a.endpoint
	}
	if flags.Changed("theme") {
		cfg.Theme = a.themeArg
	}
	if flags.Changed("timeout") {
		cfg.PredictionTimeout = a.timeout
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return failed(err)
	}

	mode, _ := theme.ParseMode(cfg.Theme)
	theme.Init(mode)

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "risk-client")
	if err != nil {
		return failed(fmt.Errorf("build logger: %w", err))
	}
	a.cfg = cfg
	a.logger = logger

	reg := prometheus.NewRegistry()
	a.metrics = metrics.New(reg)
	if a.metricsAddr != "" {
		a.metricsSrv = &http.Server{Addr: a.metricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// teardown runs after every command, including failed ones
func (a *app) teardown() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// newSession starts a session with the default record
func (a *app) newSession(p submission.Predictor) *session.Session {
	return session.New(p, a.logger, submission.WithMetrics(a.metrics))
}

// predictor returns the service client, or the local analyzer when offline
func (a *app) predictor() (submission.Predictor, error) {
	if a.offline {
		return demo.NewAnalyzer(), nil
	}
	return a.client()
}

func (a *app) client() (*predictionapi.Client, error) {
	pcfg := predictionapi.DefaultConfig()
	pcfg.BaseURL = a.cfg.PredictionBaseURL
	if a.cfg.PredictionPath != "" {
		pcfg.Path = a.cfg.PredictionPath
	}
	pcfg.Timeout = a.cfg.PredictionTimeout
	if a.cfg.BreakerFailureThreshold > 0 {
		pcfg.Breaker.FailureThreshold = a.cfg.BreakerFailureThreshold
	}
	if a.cfg.BreakerOpenTimeout > 0 {
		pcfg.Breaker.Timeout = a.cfg.BreakerOpenTimeout
	}
	pcfg.Breaker.OnStateChange = func(name string, _, to circuitbreaker.State) {
		a.metrics.CircuitBreakerState.WithLabelValues(name).Set(to.Code())
	}
	return predictionapi.New(pcfg, a.logger)
}

// classify maps a command error to its exit code
func classify(err error) error {
	if err == nil {
		return nil
	}
	if intake.IsValidationError(err) {
		return validationFailed(err)
	}
	return failed(err)
}
