package session

import (
	"context"
	"sync"
	"testing"

	"mnemo/internal/config"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
	"mnemo/internal/storage/memory"
	"mnemo/internal/tokencount"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Dimension() int { return 2 }
func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeReflector struct{ calls int }

func (f *fakeReflector) Reflect(ctx context.Context, existing []storage.Fact, turns []storage.Turn) (ports.ReflectorOutput, error) {
	f.calls++
	return ports.ReflectorOutput{Typed: true, Actions: []ports.ReflectorAction{
		{Kind: ports.ActionAdd, Content: "a fact", Markers: []string{"decision"}},
	}}, nil
}

func newTestSession(t *testing.T, maxTurns int) (*Session, *fakeReflector) {
	t.Helper()
	backend := memory.New()
	refl := &fakeReflector{}
	cfg := config.Default()
	cfg.Episode.MaxTurnsPerEpisode = maxTurns
	cfg.Reflection.MinEpisodeTurns = 1
	s, err := New("s1", backend, fakeEmbedder{}, refl, tokencount.Heuristic{}, cfg, ports.SystemClock{}, ports.NoopMetrics{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s, refl
}

func TestIngestRejectsEmptyContent(t *testing.T) {
	s, _ := newTestSession(t, 10)
	_, err := s.Ingest(context.Background(), storage.RoleUser, "", nil, nil)
	if err == nil {
		t.Fatalf("expected validation error for empty content")
	}
}

func TestIngestReturnsTurnIDAndEpisodeID(t *testing.T) {
	s, _ := newTestSession(t, 10)
	res, err := s.Ingest(context.Background(), storage.RoleUser, "hello there", nil, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.TurnID == "" || res.EpisodeID == "" {
		t.Fatalf("expected non-empty ids, got %+v", res)
	}
}

func TestIngestTriggersReflectionOnEpisodeClose(t *testing.T) {
	s, refl := newTestSession(t, 1)

	var mu sync.Mutex
	var traces []storage.ReflectionTrace
	s.SetTraceCallback(func(tr storage.ReflectionTrace) {
		mu.Lock()
		traces = append(traces, tr)
		mu.Unlock()
	})

	if _, err := s.Ingest(context.Background(), storage.RoleUser, "first turn", nil, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if refl.calls != 1 {
		t.Fatalf("expected reflector invoked once, got %d", refl.calls)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(traces) != 1 {
		t.Fatalf("expected one trace emitted, got %d", len(traces))
	}
}

func TestCloseEpisodeNoOpWhenEmpty(t *testing.T) {
	s, _ := newTestSession(t, 10)
	if id := s.CloseEpisode(context.Background(), "manual"); id != "" {
		t.Fatalf("expected no-op close on empty episode, got %q", id)
	}
}

func TestGetSessionStatsCountsFacts(t *testing.T) {
	s, _ := newTestSession(t, 1)
	if _, err := s.Ingest(context.Background(), storage.RoleUser, "first turn", nil, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stats, err := s.GetSessionStats(context.Background())
	if err != nil {
		t.Fatalf("GetSessionStats: %v", err)
	}
	if stats.ActiveFactCount != 1 {
		t.Fatalf("expected 1 active fact after reflection, got %+v", stats)
	}
}
