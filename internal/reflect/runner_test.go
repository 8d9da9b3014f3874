package reflect

import (
	"context"
	"testing"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
	"mnemo/internal/storage/memory"
)

// fakeEmbedder returns a deterministic vector derived from text length, so
// similar-length strings cluster together without needing a real model.
type fakeEmbedder struct{ dim int }

func (f fakeEmbedder) Dimension() int { return f.dim }

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(t))
		v[1] = 1
		out[i] = v
	}
	return out, nil
}

type fakeReflector struct {
	output ports.ReflectorOutput
	err    error
}

func (f fakeReflector) Reflect(ctx context.Context, existing []storage.Fact, turns []storage.Turn) (ports.ReflectorOutput, error) {
	return f.output, f.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func seedTurns(t *testing.T, backend storage.Backend, sessionID, episodeID string, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := "t" + string(rune('0'+i))
		turn := storage.Turn{ID: id, SessionID: sessionID, EpisodeID: episodeID, Role: storage.RoleUser, Content: "hello world", CreatedAt: time.Now()}
		if err := backend.SaveTurn(ctx, turn); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
		ids[i] = id
	}
	return ids
}

func TestRunBuffersShortEpisodeWithNoPriorFacts(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	turnIDs := seedTurns(t, backend, "s1", "e1", 1)

	r := New(backend, fakeEmbedder{dim: 4}, fakeReflector{}, nil, fixedClock{time.Now()}, config.ReflectionConfig{Enabled: true, MinEpisodeTurns: 3})

	trace := r.Run(ctx, "s1", storage.Episode{ID: "e1", SessionID: "s1", TurnIDs: turnIDs, TurnCount: 1})
	if trace.Mode != storage.ModeInitial {
		t.Fatalf("expected initial mode, got %q", trace.Mode)
	}
	if len(trace.SavedFactIDs) != 0 {
		t.Fatalf("expected no saved facts while buffering, got %v", trace.SavedFactIDs)
	}

	r.mu.Lock()
	buffered := r.carryForward["s1"]
	r.mu.Unlock()
	if len(buffered) != 1 {
		t.Fatalf("expected carried-forward turn ids, got %v", buffered)
	}
}

func TestRunCombinesCarryForwardOnNextClose(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	first := seedTurns(t, backend, "s1", "e1", 1)

	reflector := fakeReflector{output: ports.ReflectorOutput{Typed: true, Actions: []ports.ReflectorAction{
		{Kind: ports.ActionAdd, Content: "decided to use postgres", Markers: []string{"decision"}},
	}}}
	r := New(backend, fakeEmbedder{dim: 4}, reflector, nil, fixedClock{time.Now()}, config.ReflectionConfig{Enabled: true, MinEpisodeTurns: 2})

	r.Run(ctx, "s1", storage.Episode{ID: "e1", SessionID: "s1", TurnIDs: first, TurnCount: 1})

	second := seedTurns(t, backend, "s1", "e2", 1)
	trace := r.Run(ctx, "s1", storage.Episode{ID: "e2", SessionID: "s1", TurnIDs: second, TurnCount: 1})

	if trace.InputTurnCount != 2 {
		t.Fatalf("expected carried-forward turn combined with new turn, got input count %d", trace.InputTurnCount)
	}
	if len(trace.SavedFactIDs) != 1 {
		t.Fatalf("expected one saved fact, got %v", trace.SavedFactIDs)
	}

	facts, err := backend.GetFactsBySession(ctx, "s1", nil)
	if err != nil || len(facts) != 1 {
		t.Fatalf("expected one persisted fact, got %v err %v", facts, err)
	}
}

func TestRunUpdateActionSupersedesAtomically(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	_ = backend.SaveFact(ctx, storage.Fact{ID: "f1", SessionID: "s1", Content: "old fact", Status: storage.FactActive, CreatedAt: time.Now()})

	turnIDs := seedTurns(t, backend, "s1", "e1", 3)
	reflector := fakeReflector{output: ports.ReflectorOutput{Typed: true, Actions: []ports.ReflectorAction{
		{Kind: ports.ActionUpdate, TargetFactID: "f1", NewContent: "new fact", NewMarkers: []string{"decision"}},
	}}}
	r := New(backend, fakeEmbedder{dim: 4}, reflector, nil, fixedClock{time.Now()}, config.ReflectionConfig{Enabled: true, MinEpisodeTurns: 2})

	trace := r.Run(ctx, "s1", storage.Episode{ID: "e1", SessionID: "s1", TurnIDs: turnIDs, TurnCount: 3})

	if len(trace.SupersededIDs) != 1 || trace.SupersededIDs[0] != "f1" {
		t.Fatalf("expected f1 superseded, got %v", trace.SupersededIDs)
	}
	old, err := backend.GetFact(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if old.Status != storage.FactSuperseded || old.SupersededBy == "" {
		t.Fatalf("expected f1 marked superseded, got %+v", old)
	}
}

func TestRunAddActionDiscardsNearDuplicate(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	addFirst := fakeReflector{output: ports.ReflectorOutput{Typed: true, Actions: []ports.ReflectorAction{
		{Kind: ports.ActionAdd, Content: "use postgres for storage", Markers: []string{"decision"}},
	}}}
	r := New(backend, fakeEmbedder{dim: 4}, addFirst, nil, fixedClock{time.Now()}, config.ReflectionConfig{Enabled: true, MinEpisodeTurns: 1, DedupSimilarityThreshold: 0.92})

	first := seedTurns(t, backend, "s1", "e1", 1)
	trace1 := r.Run(ctx, "s1", storage.Episode{ID: "e1", SessionID: "s1", TurnIDs: first, TurnCount: 1})
	if len(trace1.SavedFactIDs) != 1 {
		t.Fatalf("expected first add to persist a fact, got %+v", trace1)
	}

	// Same length as "use postgres for storage" so fakeEmbedder (vector derived
	// from len(text)) produces an identical vector, making cosine similarity 1.0.
	nearDup := "use cockroach for storag"
	if len(nearDup) != len("use postgres for storage") {
		t.Fatalf("test fixture broken: lengths differ")
	}
	addSecond := fakeReflector{output: ports.ReflectorOutput{Typed: true, Actions: []ports.ReflectorAction{
		{Kind: ports.ActionAdd, Content: nearDup, Markers: []string{"decision"}},
	}}}
	r.reflector = addSecond

	second := seedTurns(t, backend, "s1", "e2", 1)
	trace2 := r.Run(ctx, "s1", storage.Episode{ID: "e2", SessionID: "s1", TurnIDs: second, TurnCount: 1})

	if len(trace2.SavedFactIDs) != 0 {
		t.Fatalf("expected near-duplicate add to be discarded, got saved %v", trace2.SavedFactIDs)
	}
	if trace2.SkippedActions != 1 {
		t.Fatalf("expected one skipped action, got %d", trace2.SkippedActions)
	}

	facts, err := backend.GetFactsBySession(ctx, "s1", nil)
	if err != nil || len(facts) != 1 {
		t.Fatalf("expected still only one persisted fact, got %v err %v", facts, err)
	}
}

func TestRunDisabledSkipsProvider(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	turnIDs := seedTurns(t, backend, "s1", "e1", 5)
	r := New(backend, fakeEmbedder{dim: 4}, fakeReflector{}, nil, fixedClock{time.Now()}, config.ReflectionConfig{Enabled: false})

	trace := r.Run(ctx, "s1", storage.Episode{ID: "e1", SessionID: "s1", TurnIDs: turnIDs, TurnCount: 5})
	if trace.Mode != storage.ModeInitial || len(trace.SavedFactIDs) != 0 {
		t.Fatalf("expected no-op trace when disabled, got %+v", trace)
	}
}
