package recall

import (
	"context"
	"testing"
	"time"

	"mnemo/internal/config"
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

func seedTurn(t *testing.T, backend storage.Backend, id, episodeID, content string, markers []string, at time.Time) {
	t.Helper()
	turn := storage.Turn{ID: id, SessionID: "s1", EpisodeID: episodeID, Role: storage.RoleUser, Content: content, MarkersRaw: markers, TokenCount: len([]rune(content))/4 + 1, CreatedAt: at}
	if err := backend.SaveTurn(context.Background(), turn); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if len(markers) > 0 || episodeID != "current" {
		filter := storage.EmbeddingMetadata{SessionID: "s1", Kind: storage.KindTurn, EpisodeID: episodeID, Markers: markers}
		_ = backend.SaveEmbedding(context.Background(), id, []float32{1, 0}, filter)
	}
}

func TestRecallReturnsCurrentEpisodeOnly(t *testing.T) {
	backend := memory.New()
	base := time.Now()
	seedTurn(t, backend, "t1", "current", "hello", nil, base)
	seedTurn(t, backend, "t2", "current", "world", nil, base.Add(time.Second))

	p := New(backend, fakeEmbedder{}, tokencount.Heuristic{}, config.RecallConfig{DefaultTokenBudget: 1000, CurrentEpisodeBudgetPct: 0.4, VectorSearchK: 10}, defaultWeights())
	items, err := p.Recall(context.Background(), "s1", "current", "", 1000, Options{IncludeCurrentEpisode: true})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 current-episode items, got %d: %+v", len(items), items)
	}
	if items[0].SourceID != "t1" || items[1].SourceID != "t2" {
		t.Fatalf("expected chronological order, got %+v", items)
	}
}

func TestRecallIncludesMarkedPastAndFacts(t *testing.T) {
	backend := memory.New()
	base := time.Now()
	seedTurn(t, backend, "t1", "e0", "decided to use postgres", []string{"decision"}, base)
	_ = backend.SaveFact(context.Background(), storage.Fact{ID: "f1", SessionID: "s1", Content: "uses postgres", Markers: []string{"decision"}, Status: storage.FactActive, CreatedAt: base})
	_ = backend.SaveEmbedding(context.Background(), "f1", []float32{1, 0}, storage.EmbeddingMetadata{SessionID: "s1", Kind: storage.KindFact})

	p := New(backend, fakeEmbedder{}, tokencount.Heuristic{}, config.RecallConfig{DefaultTokenBudget: 1000, CurrentEpisodeBudgetPct: 0.4, VectorSearchK: 10}, defaultWeights())
	items, err := p.Recall(context.Background(), "s1", "current", "postgres", 1000, Options{IncludeCurrentEpisode: true})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	foundFact, foundMarked := false, false
	for _, it := range items {
		if it.SourceID == "f1" {
			foundFact = true
		}
		if it.SourceID == "t1" {
			foundMarked = true
		}
	}
	if !foundFact || !foundMarked {
		t.Fatalf("expected fact and marked-past item in result, got %+v", items)
	}
}

func TestRecallSkipsOversizeItemRatherThanTruncate(t *testing.T) {
	backend := memory.New()
	base := time.Now()
	bigContent := make([]byte, 4000)
	for i := range bigContent {
		bigContent[i] = 'a'
	}
	seedTurn(t, backend, "t1", "e0", string(bigContent), []string{"decision"}, base)

	p := New(backend, fakeEmbedder{}, tokencount.Heuristic{}, config.RecallConfig{DefaultTokenBudget: 50, CurrentEpisodeBudgetPct: 0.4, VectorSearchK: 10}, defaultWeights())
	items, err := p.Recall(context.Background(), "s1", "current", "x", 50, Options{IncludeCurrentEpisode: true})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	for _, it := range items {
		if it.SourceID == "t1" {
			t.Fatalf("expected oversize item to be skipped, not truncated, got %+v", it)
		}
	}
}

func defaultWeights() map[string]float64 {
	return map[string]float64{"constraint": 0.4, "decision": 0.3, "goal": 0.3, "failure": 0.2, "custom:*": 0.2}
}
