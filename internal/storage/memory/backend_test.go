package memory

import (
	"context"
	"testing"
	"time"

	"mnemo/internal/storage"
)

func TestSaveAndGetTurn(t *testing.T) {
	b := New()
	ctx := context.Background()
	turn := storage.Turn{
		ID:        "t1",
		SessionID: "s1",
		EpisodeID: "e1",
		Role:      storage.RoleUser,
		Content:   "hello",
		Markers:   map[string]struct{}{"decision": {}},
		CreatedAt: time.Now(),
	}
	if err := b.SaveTurn(ctx, turn); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	got, err := b.GetTurn(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if got.Content != "hello" {
		t.Errorf("content = %q", got.Content)
	}
	if _, ok := got.Markers["decision"]; !ok {
		t.Errorf("expected decision marker to round-trip, got %v", got.Markers)
	}
}

func TestGetTurnMissing(t *testing.T) {
	b := New()
	if _, err := b.GetTurn(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing turn")
	}
}

func TestGetTurnsByEpisodeOrdering(t *testing.T) {
	b := New()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"t3", "t1", "t2"} {
		b.SaveTurn(ctx, storage.Turn{
			ID: id, SessionID: "s1", EpisodeID: "e1",
			Role: storage.RoleUser, Content: "x",
			CreatedAt: base.Add(time.Duration(-i) * time.Second),
		})
	}
	turns, err := b.GetTurnsByEpisode(ctx, "e1")
	if err != nil {
		t.Fatalf("GetTurnsByEpisode: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].CreatedAt.Before(turns[i-1].CreatedAt) {
			t.Fatalf("turns not in chronological order: %v", turns)
		}
	}
}

func TestUpdateFactSupersessionCAS(t *testing.T) {
	b := New()
	ctx := context.Background()
	fact := storage.Fact{ID: "f1", SessionID: "s1", Status: storage.FactActive, CreatedAt: time.Now()}
	b.SaveFact(ctx, fact)

	if err := b.UpdateFactSupersession(ctx, "f1", "f2", time.Now()); err != nil {
		t.Fatalf("first supersession: %v", err)
	}
	got, _ := b.GetFact(ctx, "f1")
	if got.Status != storage.FactSuperseded || got.SupersededBy != "f2" {
		t.Fatalf("unexpected state after supersession: %+v", got)
	}

	// Second call on an already-superseded fact is a no-op, not an error,
	// and must not overwrite SupersededBy.
	if err := b.UpdateFactSupersession(ctx, "f1", "f3", time.Now()); err != nil {
		t.Fatalf("second supersession: %v", err)
	}
	got2, _ := b.GetFact(ctx, "f1")
	if got2.SupersededBy != "f2" {
		t.Fatalf("expected CAS to reject second write, got %+v", got2)
	}
}

func TestVectorSearchFiltersAndOrders(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.SaveEmbedding(ctx, "a", []float32{1, 0}, storage.EmbeddingMetadata{SessionID: "s1", Kind: storage.KindTurn})
	b.SaveEmbedding(ctx, "b", []float32{0.9, 0.1}, storage.EmbeddingMetadata{SessionID: "s1", Kind: storage.KindTurn})
	b.SaveEmbedding(ctx, "c", []float32{0, 1}, storage.EmbeddingMetadata{SessionID: "s2", Kind: storage.KindTurn})

	results, err := b.VectorSearch(ctx, []float32{1, 0}, 10, storage.SearchFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results scoped to s1, got %d", len(results))
	}
	if results[0].ID != "a" {
		t.Errorf("expected closest match first, got %s", results[0].ID)
	}
}
