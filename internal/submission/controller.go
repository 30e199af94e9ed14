package submission

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/observability/metrics"
	"github.com/drfirst/go-retinarisk/internal/prediction"
)

var (
	// ErrSubmissionInFlight is returned by Submit while another submission is pending
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	// ErrSuperseded is returned by SubmitWait when a reset or newer submission
	// replaced the one being waited on
	ErrSuperseded = errors.New("submission superseded")
)

const maxHistory = 64

// Predictor calls the prediction service
type Predictor interface {
	Predict(ctx context.Context, rec intake.ClinicalRecord) (*prediction.Result, error)
}

// PredictorFunc adapts a function to Predictor
type PredictorFunc func(ctx context.Context, rec intake.ClinicalRecord) (*prediction.Result, error)

// Predict calls f
func (f PredictorFunc) Predict(ctx context.Context, rec intake.ClinicalRecord) (*prediction.Result, error) {
	return f(ctx, rec)
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records submission metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTimeout bounds each submission. Zero leaves it to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// Controller owns the submission state. At most one submission is in flight;
// outcomes of superseded generations are dropped.
type Controller struct {
	predictor Predictor
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	timeout   time.Duration

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	history    []Transition
	listeners  []func(State)
	seq        uint64

	// notifyMu serialises listener calls; delivered is guarded by it
	notifyMu  sync.Mutex
	delivered uint64
}

// NewController creates a controller in the Idle state
func NewController(p Predictor, opts ...Option) *Controller {
	c := &Controller{
		predictor: p,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("submission"),
		state:     idle(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pending tracks one submission
type Pending struct {
	generation uint64
	done       chan struct{}
	applied    bool
	state      State
}

// Generation returns the generation the submission belongs to
func (p *Pending) Generation() uint64 { return p.generation }

// Done is closed when the predictor call has returned
func (p *Pending) Done() <-chan struct{} { return p.done }

// Applied reports whether the outcome became the controller state.
// Only meaningful after Done is closed.
func (p *Pending) Applied() bool { return p.applied }

// State returns the applied terminal state. Only meaningful after Done is
// closed and Applied is true.
func (p *Pending) State() State { return p.state }

// Submit starts a submission of rec. The record is copied, so later edits do
// not affect the request.
func (c *Controller) Submit(ctx context.Context, rec intake.ClinicalRecord) (*Pending, error) {
	c.mu.Lock()
	if c.state.Phase == PhaseInFlight {
		gen := c.generation
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.SubmissionsRejected.Inc()
		}
		c.logger.Debug("submission rejected", zap.Uint64("in_flight_generation", gen))
		return nil, ErrSubmissionInFlight
	}

	c.generation++
	gen := c.generation

	reqCtx, cancel := context.WithCancel(ctx)
	if c.timeout > 0 {
		var timeoutCancel context.CancelFunc
		reqCtx, timeoutCancel = context.WithTimeout(reqCtx, c.timeout)
		parent := cancel
		cancel = func() {
			timeoutCancel()
			parent()
		}
	}
	c.cancel = cancel

	p := &Pending{generation: gen, done: make(chan struct{})}
	c.transitionLocked(inFlight(gen))

	if c.metrics != nil {
		c.metrics.SubmissionsStarted.Inc()
		c.metrics.SubmissionsInFlight.Inc()
	}
	c.logger.Debug("submission started", zap.Uint64("generation", gen))

	go c.run(reqCtx, cancel, p, rec)
	return p, nil
}

// SubmitWait submits rec and blocks until that submission settles or ctx is
// done. A submission dropped by Reset returns ErrSuperseded.
func (c *Controller) SubmitWait(ctx context.Context, rec intake.ClinicalRecord) (State, error) {
	p, err := c.Submit(ctx, rec)
	if err != nil {
		return c.State(), err
	}
	select {
	case <-p.Done():
		if !p.Applied() {
			return c.State(), ErrSuperseded
		}
		return p.State(), nil
	case <-ctx.Done():
		return c.State(), ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, p *Pending, rec intake.ClinicalRecord) {
	ctx, span := c.tracer.Start(ctx, "submission",
		trace.WithAttributes(attribute.Int64("generation", int64(p.generation))))
	defer span.End()

	start := time.Now()
	res, err := c.predictor.Predict(ctx, rec)
	elapsed := time.Since(start)
	cancel()

	var next State
	switch {
	case err != nil:
		next = failed(p.generation, prediction.AsFailure(err))
	case res == nil:
		next = failed(p.generation, prediction.Malformed(errors.New("empty result")))
	default:
		next = succeeded(p.generation, res)
	}

	if c.metrics != nil {
		c.metrics.SubmissionsInFlight.Dec()
		c.metrics.SubmissionDuration.Observe(elapsed.Seconds())
	}

	c.mu.Lock()
	if p.generation != c.generation || c.state.Phase != PhaseInFlight {
		current := c.generation
		c.mu.Unlock()

		span.SetAttributes(attribute.Bool("stale", true))
		if c.metrics != nil {
			c.metrics.StaleResponses.Inc()
		}
		c.logger.Debug("stale submission outcome dropped",
			zap.Uint64("generation", p.generation),
			zap.Uint64("current_generation", current),
			zap.String("phase", string(next.Phase)))
		close(p.done)
		return
	}
	c.cancel = nil
	p.applied = true
	p.state = next
	c.transitionLocked(next)

	if c.metrics != nil {
		c.metrics.SubmissionsSettled.WithLabelValues(outcome(next)).Inc()
	}
	if next.Failure != nil {
		span.RecordError(next.Failure)
		c.logger.Info("submission failed",
			zap.Uint64("generation", p.generation),
			zap.String("reason", string(next.Failure.Reason)),
			zap.Duration("elapsed", elapsed),
			zap.Error(next.Failure))
	} else {
		c.logger.Info("submission succeeded",
			zap.Uint64("generation", p.generation),
			zap.String("prediction_id", res.PredictionID),
			zap.Duration("elapsed", elapsed))
	}
	close(p.done)
}

// Reset returns to Idle immediately. An in-flight request is cancelled and
// its outcome, if it still arrives, is dropped.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.transitionLocked(idle(c.generation))
}

// transitionLocked must be called with mu held; it releases mu and notifies
// listeners.
func (c *Controller) transitionLocked(next State) {
	prev := c.state
	c.state = next
	c.history = append(c.history, newTransition(prev, next))
	if len(c.history) > maxHistory {
		c.history = append([]Transition(nil), c.history[len(c.history)-maxHistory:]...)
	}
	c.seq++
	seq := c.seq
	listeners := c.listeners
	c.mu.Unlock()

	c.notify(seq, next, listeners)
}

// notify delivers states in transition order. A state overtaken by a newer
// one before delivery is skipped.
func (c *Controller) notify(seq uint64, s State, listeners []func(State)) {
	if len(listeners) == 0 {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.delivered {
		return
	}
	c.delivered = seq
	for _, fn := range listeners {
		fn(s)
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the active result, or nil unless Succeeded
func (c *Controller) Result() *prediction.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Result
}

// Subscribe registers fn to be called after transitions. Listeners run
// synchronously on the goroutine that caused the transition and must not call
// Submit or Reset.
func (c *Controller) Subscribe(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners[:len(c.listeners):len(c.listeners)], fn)
}

// History returns the most recent transitions, oldest first
func (c *Controller) History() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition(nil), c.history...)
}

func outcome(s State) string {
	if s.Failure != nil {
		return string(s.Failure.Reason)
	}
	return "success"
}
