// Package ports holds the pluggable collaborator interfaces shared across
// mnemo's internal packages: Embedder, Reflector, and the observability
// callbacks, grounded on the teacher's interface-based Logger/Metrics/Clock
// collaborator style (internal/rag/service.Metrics and friends).
package ports

import (
	"context"
	"time"

	"mnemo/internal/storage"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns one vector per input, in the same order as texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the fixed length of every vector Embed returns.
	Dimension() int
}

// ReflectorActionKind enumerates the typed actions a Reflector may emit.
type ReflectorActionKind string

const (
	ActionAdd    ReflectorActionKind = "add"
	ActionUpdate ReflectorActionKind = "update"
	ActionRemove ReflectorActionKind = "remove"
	ActionKeep   ReflectorActionKind = "keep"
)

// ReflectorAction is one typed operation produced by a Reflector.
type ReflectorAction struct {
	Kind           ReflectorActionKind `json:"kind"`
	Content        string              `json:"content,omitempty"`         // add
	Markers        []string            `json:"markers,omitempty"`         // add/update
	TargetFactID   string              `json:"target_fact_id,omitempty"`  // update/remove/keep
	NewContent     string              `json:"new_content,omitempty"`     // update
	NewMarkers     []string            `json:"new_markers,omitempty"`     // update
	Reason         string              `json:"reason,omitempty"`          // remove
}

// ReflectorOutput is the result of one Reflect call. BareFacts is used when
// the provider returns untyped fact proposals instead of typed actions;
// Actions is used for the typed-action form. Typed is true when Actions
// should be treated as authoritative, letting callers distinguish "no
// actions produced" from "bare-fact mode wasn't used".
type ReflectorOutput struct {
	Typed     bool
	Actions   []ReflectorAction
	BareFacts []ReflectorAction // Kind is always ActionAdd when populated this way
	RawOutput string
}

// Reflector consolidates new episode turns against scoped prior facts.
type Reflector interface {
	Reflect(ctx context.Context, existing []storage.Fact, turns []storage.Turn) (ReflectorOutput, error)
}

// TraceCallback receives a ReflectionTrace after every reflection
// invocation (successful or not).
type TraceCallback func(storage.ReflectionTrace)

// Metrics is the minimal counters/histograms surface mnemo's pipelines
// report through, grounded on the teacher's rag/service.Metrics interface.
type Metrics interface {
	IncCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(name string, labels map[string]string)                   {}
func (NoopMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {}

// Clock supplies the current time, overridable in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
