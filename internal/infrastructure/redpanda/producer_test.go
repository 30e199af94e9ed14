package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/drfirst/go-retinarisk/internal/demo"
	"github.com/drfirst/go-retinarisk/internal/intake"
)

type fakeClient struct {
	err     error
	records []*kgo.Record
	flushed bool
	closed  bool
}

func (f *fakeClient) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	f.records = append(f.records, r)
	promise(r, f.err)
}

func (f *fakeClient) Flush(context.Context) error { f.flushed = true; return nil }
func (f *fakeClient) Close()                      { f.closed = true }

func servedPrediction() demo.ServedPrediction {
	a := demo.NewAnalyzer()
	rec := intake.DefaultRecord()
	return demo.ServedPrediction{
		RequestID: "req-7",
		Record:    rec,
		Result:    a.Analyze(rec),
		ServedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecordPublishesKeyedJSON(t *testing.T) {
	fc := &fakeClient{}
	p := newProducer(fc, TopicPredictionAudit, nil)
	served := servedPrediction()

	require.NoError(t, p.Record(context.Background(), served))
	require.Len(t, fc.records, 1)

	r := fc.records[0]
	assert.Equal(t, TopicPredictionAudit, r.Topic)
	assert.Equal(t, served.Result.PredictionID, string(r.Key))

	var got demo.ServedPrediction
	require.NoError(t, json.Unmarshal(r.Value, &got))
	assert.Equal(t, served.RequestID, got.RequestID)
	assert.Equal(t, served.Record, got.Record)
	assert.Equal(t, served.Result.DRStage, got.Result.DRStage)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.MessagesSent)
	assert.Equal(t, int64(len(r.Value)), stats.BytesSent)
	assert.Equal(t, "kafka", p.Name())
}

func TestRecordInjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	fc := &fakeClient{}
	p := newProducer(fc, TopicPredictionAudit, nil)
	require.NoError(t, p.Record(ctx, servedPrediction()))

	carrier := headerCarrier{fc.records[0]}
	assert.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())
}

func TestRecordFailures(t *testing.T) {
	fc := &fakeClient{err: errors.New("NOT_LEADER_FOR_PARTITION")}
	p := newProducer(fc, TopicPredictionAudit, nil)

	err := p.Record(context.Background(), servedPrediction())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_LEADER_FOR_PARTITION")
	assert.Equal(t, int64(1), p.Stats().ErrorCount)

	err = p.Record(context.Background(), demo.ServedPrediction{})
	require.Error(t, err)
	assert.Len(t, fc.records, 1)
}

func TestCloseFlushes(t *testing.T) {
	fc := &fakeClient{}
	p := newProducer(fc, TopicPredictionAudit, nil)
	require.NoError(t, p.Close())
	assert.True(t, fc.flushed)
	assert.True(t, fc.closed)
}

func TestHeaderCarrierReplaces(t *testing.T) {
	c := headerCarrier{&kgo.Record{}}
	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	assert.Equal(t, []string{"traceparent"}, c.Keys())
	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Empty(t, c.Get("missing"))
}

func TestAuditTopicConfig(t *testing.T) {
	cfg := AuditTopicConfig("")
	assert.Equal(t, TopicPredictionAudit, cfg.Name)
	assert.Equal(t, "2592000000", *cfg.Configs["retention.ms"])
	assert.Equal(t, "custom.audit", AuditTopicConfig("custom.audit").Name)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{}, nil)
	assert.Error(t, err)
}
