package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/intake"
	"github.com/drfirst/go-retinarisk/internal/prediction"
	"github.com/drfirst/go-retinarisk/internal/prediction/predictiontest"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDB records statements and answers queries from canned values
type fakeDB struct {
	execs   []execCall
	execErr error
	tag     string
	row     []any
	rowErr  error
	rows    [][]any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag(f.tag), f.execErr
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &fakeRows{rows: f.rows, idx: -1}, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{values: f.row, err: f.rowErr}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool                                   { r.idx++; return r.idx < len(r.rows) }
func (r *fakeRows) Scan(dest ...any) error                       { return assign(dest, r.rows[r.idx]) }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func assign(dest, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		case *[]byte:
			*d = v.([]byte)
		case *float64:
			*d = v.(float64)
		case *int:
			*d = v.(int)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

func served(t *testing.T) demo.ServedPrediction {
	t.Helper()
	res, err := prediction.Decode([]byte(predictiontest.CannedJSON))
	require.NoError(t, err)
	return demo.ServedPrediction{
		RequestID: "req-1",
		Record:    intake.DefaultRecord(),
		Result:    res,
		ServedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordInsertsPrediction(t *testing.T) {
	db := &fakeDB{tag: "INSERT 0 1"}
	a := NewArchive(db, nil)
	p := served(t)

	require.NoError(t, a.Record(context.Background(), p))
	require.Len(t, db.execs, 1)

	args := db.execs[0].args
	require.Len(t, args, 10)
	assert.Equal(t, "demo_3f9a1c2b7d4e", args[0])
	assert.Equal(t, "req-1", args[1])
	assert.Equal(t, "Moderate NPDR", args[3])
	assert.Equal(t, "High", args[4])
	assert.Equal(t, 3, args[6])

	var rec intake.ClinicalRecord
	require.NoError(t, json.Unmarshal(args[8].([]byte), &rec))
	assert.Equal(t, intake.DefaultRecord(), rec)
	assert.Contains(t, db.execs[0].sql, "ON CONFLICT (prediction_id) DO NOTHING")
	assert.Equal(t, "postgres", a.Name())
}

func TestRecordErrors(t *testing.T) {
	a := NewArchive(&fakeDB{execErr: errors.New("connection refused")}, nil)
	err := a.Record(context.Background(), served(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	err = a.Record(context.Background(), demo.ServedPrediction{})
	require.Error(t, err)
}

func TestGetRoundTrip(t *testing.T) {
	p := served(t)
	record, err := json.Marshal(p.Record)
	require.NoError(t, err)
	result, err := json.Marshal(p.Result)
	require.NoError(t, err)

	a := NewArchive(&fakeDB{row: []any{"req-1", p.ServedAt, record, result}}, nil)
	got, err := a.Get(context.Background(), "demo_3f9a1c2b7d4e")
	require.NoError(t, err)
	assert.Equal(t, p.Record, got.Record)
	assert.Equal(t, p.Result, got.Result)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestGetNotFound(t *testing.T) {
	a := NewArchive(&fakeDB{rowErr: pgx.ErrNoRows}, nil)
	_, err := a.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecent(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{rows: [][]any{
		{"demo_b", at, "PDR", "High", 0.9, 1},
		{"demo_a", at.Add(-time.Hour), "No DR", "Low", 0.2, 6},
	}}
	got, err := NewArchive(db, nil).Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "demo_b", got[0].PredictionID)
	assert.Equal(t, 6, got[1].FollowUpMonths)
}

func TestEnsureSchemaAndCleanup(t *testing.T) {
	db := &fakeDB{tag: "DELETE 4"}
	a := NewArchive(db, nil)

	require.NoError(t, a.EnsureSchema(context.Background()))
	n, err := a.Cleanup(context.Background(), 48*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, int64(4), n)
	require.Len(t, db.execs, 2)
	assert.Contains(t, db.execs[0].sql, "CREATE TABLE IF NOT EXISTS prediction_archive")
	assert.Equal(t, []any{172800.0}, db.execs[1].args)
}
