// Package tracker implements the System-Prompt State Tracker (C10): an
// optional observer that subscribes to the Pipeline Orchestrator's stage
// boundaries and records timestamps, input/output sizes, and warnings
// for each stage, keeping a bounded in-process ring buffer of the most
// recent stage records per conversation (§4.10). Grounded on the
// teacher's DebugExporter (an in-memory, size-bounded span store for a
// debug UI), adapted from OTel spans to pipeline.StageRecord values and
// from a single global buffer to one ring per conversation.
package tracker

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/promptengine/pkg/observability"
	"github.com/kadirpekel/promptengine/pkg/pipeline"
)

// DefaultRingSize bounds how many of the most recent stage records each
// conversation retains when New is called with ringSize <= 0.
const DefaultRingSize = 50

// Tracker records OTel spans/counters per pipeline stage and retains a
// read-only debug snapshot per conversation. A nil *observability.Manager
// is never passed in practice; observability.NewManager always returns a usable
// Manager even with tracing disabled, so Tracker pays no cost beyond a
// no-op span/counter call when the engine runs without an exporter.
type Tracker struct {
	tracer        trace.Tracer
	stageDuration metric.Float64Histogram
	stageWarnings metric.Int64Counter

	ringSize int
	mu       sync.Mutex
	byConv   map[string][]pipeline.StageRecord
}

// New builds a Tracker against obs's tracer/meter providers.
func New(obs *observability.Manager, ringSize int) (*Tracker, error) {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}

	meter := obs.Meter("promptengine.tracker")
	stageDuration, err := meter.Float64Histogram("pipeline.stage.duration",
		metric.WithDescription("Duration of each pipeline stage"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	stageWarnings, err := meter.Int64Counter("pipeline.stage.warnings",
		metric.WithDescription("Warnings recorded during a pipeline stage: invalid references, cycles, script failures"),
	)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		tracer:        obs.Tracer("promptengine.tracker"),
		stageDuration: stageDuration,
		stageWarnings: stageWarnings,
		ringSize:      ringSize,
		byConv:        make(map[string][]pipeline.StageRecord),
	}, nil
}

// Observer returns the pipeline.Observer callback to attach to an
// Orchestrator. One Tracker backs every conversation an Orchestrator
// serves, since all state here is keyed by conversationID.
func (t *Tracker) Observer() pipeline.Observer {
	return func(conversationID string, stage pipeline.Stage, rec pipeline.StageRecord) {
		t.emit(conversationID, stage, rec)
		t.remember(conversationID, rec)
	}
}

func (t *Tracker) emit(conversationID string, stage pipeline.Stage, rec pipeline.StageRecord) {
	_, span := t.tracer.Start(context.Background(), string(stage),
		trace.WithTimestamp(rec.Started),
		trace.WithAttributes(
			attribute.String(observability.AttrConversationID, conversationID),
			attribute.String(observability.AttrStageName, string(stage)),
			attribute.Int("pipeline.stage.input_len", rec.InputLen),
			attribute.Int("pipeline.stage.output_len", rec.OutputLen),
		),
	)
	span.End(trace.WithTimestamp(rec.Started.Add(rec.Duration)))

	attrs := metric.WithAttributes(attribute.String(observability.AttrStageName, string(stage)))
	t.stageDuration.Record(context.Background(), rec.Duration.Seconds(), attrs)
	if n := len(rec.Warnings); n > 0 {
		t.stageWarnings.Add(context.Background(), int64(n), attrs)
	}
}

func (t *Tracker) remember(conversationID string, rec pipeline.StageRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := append(t.byConv[conversationID], rec)
	if len(buf) > t.ringSize {
		buf = buf[len(buf)-t.ringSize:]
	}
	t.byConv[conversationID] = buf
}

// Snapshot returns a read-only copy of conversationID's retained stage
// records (§6.1's debug_data), or nil if nothing has been recorded yet.
func (t *Tracker) Snapshot(conversationID string) *pipeline.DebugSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	recs := t.byConv[conversationID]
	if len(recs) == 0 {
		return nil
	}
	stages := make([]pipeline.StageRecord, len(recs))
	copy(stages, recs)
	return &pipeline.DebugSnapshot{ConversationID: conversationID, Stages: stages}
}

// Forget discards conversationID's retained stage records, e.g. once its
// Chat Session reaches DONE/CANCELLED and nothing further will query its
// debug payload.
func (t *Tracker) Forget(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byConv, conversationID)
}
