package ingest

import (
	"context"
	"testing"

	"mnemo/internal/config"
	"mnemo/internal/episode"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
	"mnemo/internal/storage/memory"
)

type fakeEmbedder struct{ fail bool }

func (fakeEmbedder) Dimension() int { return 2 }
func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fixedCounter struct{}

func (fixedCounter) Count(text string) int { return len(text) }

func newPipeline(t *testing.T, embedder fakeEmbedder, maxTurns int, onClose ReflectionTrigger) *Pipeline {
	t.Helper()
	backend := memory.New()
	epMgr, err := episode.New("s1", backend, config.EpisodeConfig{MaxTurnsPerEpisode: maxTurns}, ports.SystemClock{})
	if err != nil {
		t.Fatalf("episode.New: %v", err)
	}
	epMgr.Initialize(context.Background())
	return New("s1", backend, embedder, fixedCounter{}, config.MarkerConfig{AutoDetect: true}, epMgr, ports.NoopMetrics{}, ports.SystemClock{}, onClose)
}

func TestIngestRejectsInvalidRole(t *testing.T) {
	p := newPipeline(t, fakeEmbedder{}, 10, nil)
	_, err := p.Ingest(context.Background(), storage.Role("bogus"), "hi", nil, nil)
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestIngestDetectsMarkersAndComputesTokens(t *testing.T) {
	p := newPipeline(t, fakeEmbedder{}, 10, nil)
	res, err := p.Ingest(context.Background(), storage.RoleUser, "Decision: use postgres", nil, nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.TurnID == "" {
		t.Fatalf("expected turn id")
	}
	turn, err := p.backend.GetTurn(context.Background(), res.TurnID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if _, ok := turn.Markers["decision"]; !ok {
		t.Fatalf("expected decision marker detected, got %v", turn.Markers)
	}
	if turn.TokenCount != len("Decision: use postgres") {
		t.Fatalf("expected token count %d, got %d", len("Decision: use postgres"), turn.TokenCount)
	}
}

func TestIngestSurvivesEmbeddingFailure(t *testing.T) {
	p := newPipeline(t, fakeEmbedder{fail: true}, 10, nil)
	res, err := p.Ingest(context.Background(), storage.RoleUser, "hello", nil, nil)
	if err != nil {
		t.Fatalf("Ingest should succeed despite embed failure, got %v", err)
	}
	if res.TurnID == "" {
		t.Fatalf("expected turn id even without embedding")
	}
}

func TestIngestTriggersOnCloseCallback(t *testing.T) {
	var triggered bool
	var gotEpisode storage.Episode
	onClose := func(ctx context.Context, ep storage.Episode) {
		triggered = true
		gotEpisode = ep
	}
	p := newPipeline(t, fakeEmbedder{}, 1, onClose)
	if _, err := p.Ingest(context.Background(), storage.RoleUser, "first", nil, nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !triggered {
		t.Fatalf("expected onClose triggered when episode closes")
	}
	if gotEpisode.TurnCount != 1 {
		t.Fatalf("expected closed episode with 1 turn, got %+v", gotEpisode)
	}
}
