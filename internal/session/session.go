// Package session binds one intake model to one submission controller.
package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/submission"
)

// Session is one clinician's working copy of a record and its submission
type Session struct {
	Intake      *intake.Model
	Submissions *submission.Controller

	logger *zap.Logger
}

// New creates a session with the default record. Resetting the intake model
// also resets the controller, clearing any active result.
func New(p submission.Predictor, logger *zap.Logger, opts ...submission.Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]submission.Option{submission.WithLogger(logger)}, opts...)

	s := &Session{
		Intake:      intake.NewModel(),
		Submissions: submission.NewController(p, opts...),
		logger:      logger,
	}
	s.Intake.OnReset(s.Submissions.Reset)
	return s
}

// Edit applies one field edit
func (s *Session) Edit(name string, raw any) error {
	if err := s.Intake.SetField(name, raw); err != nil {
		s.logger.Debug("edit rejected", zap.String("field", name), zap.Error(err))
		return err
	}
	return nil
}

// Submit snapshots the current record and submits it
func (s *Session) Submit(ctx context.Context) (*submission.Pending, error) {
	return s.Submissions.Submit(ctx, s.Intake.Record())
}

// SubmitWait snapshots the current record, submits it and waits for the outcome
func (s *Session) SubmitWait(ctx context.Context) (submission.State, error) {
	return s.Submissions.SubmitWait(ctx, s.Intake.Record())
}

// Reset restores the default record and returns the controller to Idle
func (s *Session) Reset() {
	s.Intake.Reset()
}
