// Package postgres provides PostgreSQL infrastructure components.
// Archives every prediction served by the demo service.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/prediction"
)

// ErrNotFound is returned when no archived prediction has the requested ID
var ErrNotFound = errors.New("prediction not archived")

// DB is the subset of *pgxpool.Pool the archive uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaDDL = `
	CREATE TABLE IF NOT EXISTS prediction_archive (
		prediction_id    TEXT PRIMARY KEY,
		request_id       TEXT NOT NULL DEFAULT '',
		served_at        TIMESTAMPTZ NOT NULL,
		dr_stage         TEXT NOT NULL,
		overall_category TEXT NOT NULL,
		overall_risk     DOUBLE PRECISION NOT NULL,
		follow_up_months INTEGER NOT NULL,
		model_version    TEXT NOT NULL,
		record           JSONB NOT NULL,
		result           JSONB NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS prediction_archive_served_at_idx ON prediction_archive (served_at DESC);
`

// Summary is one row of the archive listing
type Summary struct {
	PredictionID    string    `json:"prediction_id"`
	ServedAt        time.Time `json:"served_at"`
	DRStage         string    `json:"dr_stage"`
	OverallCategory string    `json:"overall_category"`
	OverallRisk     float64   `json:"overall_risk"`
	FollowUpMonths  int       `json:"follow_up_months"`
}

// Archive stores served predictions
type Archive struct {
	db     DB
	logger *zap.Logger
	tracer trace.Tracer
}

// Connect opens a connection pool and checks it
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// NewArchive creates an archive backed by db
func NewArchive(db DB, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{db: db, logger: logger, tracer: otel.Tracer("prediction-archive")}
}

// EnsureSchema creates the archive table if it does not exist
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

// Name identifies the archive as a recorder
func (a *Archive) Name() string { return "postgres" }

// Record inserts a served prediction. Re-recording the same prediction is a no-op.
func (a *Archive) Record(ctx context.Context, p demo.ServedPrediction) error {
	if p.Result == nil {
		return errors.New("archive: served prediction has no result")
	}
	ctx, span := a.tracer.Start(ctx, "archive_record",
		trace.WithAttributes(attribute.String("prediction_id", p.Result.PredictionID)))
	defer span.End()

	record, err := json.Marshal(p.Record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	result, err := json.Marshal(p.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	query := `
		INSERT INTO prediction_archive
		(prediction_id, request_id, served_at, dr_stage, overall_category, overall_risk,
		 follow_up_months, model_version, record, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (prediction_id) DO NOTHING
	`
	tag, err := a.db.Exec(ctx, query,
		p.Result.PredictionID,
		p.RequestID,
		p.ServedAt,
		p.Result.DRStage,
		p.Result.OverallRisk.Category,
		p.Result.OverallRisk.Value,
		p.Result.FollowUpMonths,
		p.Result.ModelVersion,
		record,
		result,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert archived prediction: %w", err)
	}

	a.logger.Debug("prediction archived",
		zap.String("prediction_id", p.Result.PredictionID),
		zap.Bool("inserted", tag.RowsAffected() == 1))
	return nil
}

// Get loads one archived prediction
func (a *Archive) Get(ctx context.Context, predictionID string) (*demo.ServedPrediction, error) {
	query := `
		SELECT request_id, served_at, record, result
		FROM prediction_archive
		WHERE prediction_id = $1
	`
	var (
		p              demo.ServedPrediction
		record, result []byte
	)
	err := a.db.QueryRow(ctx, query, predictionID).Scan(&p.RequestID, &p.ServedAt, &record, &result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load archived prediction: %w", err)
	}

	var rec intake.ClinicalRecord
	if err := json.Unmarshal(record, &rec); err != nil {
		return nil, fmt.Errorf("decode archived record: %w", err)
	}
	res, err := prediction.Decode(result)
	if err != nil {
		return nil, fmt.Errorf("decode archived result: %w", err)
	}
	p.Record = rec
	p.Result = res
	return &p, nil
}

// Recent lists the most recently served predictions, newest first
func (a *Archive) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT prediction_id, served_at, dr_stage, overall_category, overall_risk, follow_up_months
		FROM prediction_archive
		ORDER BY served_at DESC
		LIMIT $1
	`
	rows, err := a.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.PredictionID, &s.ServedAt, &s.DRStage,
			&s.OverallCategory, &s.OverallRisk, &s.FollowUpMonths); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Cleanup removes predictions served before now minus olderThan
func (a *Archive) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM prediction_archive
		WHERE served_at < NOW() - make_interval(secs => $1)
	`
	tag, err := a.db.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
