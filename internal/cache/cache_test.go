package cache

import (
	"context"
	"testing"
	"time"

	"mnemo/internal/storage"
	"mnemo/internal/storage/memory"
)

func TestGetTurnCachesAfterFirstRead(t *testing.T) {
	backend := memory.New()
	c, err := New(backend, Sizes{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.SaveTurn(ctx, storage.Turn{ID: "t1", SessionID: "s1", Content: "hi"}); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if _, ok := c.turns.Get("t1"); !ok {
		t.Fatalf("expected turn cached after SaveTurn")
	}
	got, err := c.GetTurn(ctx, "t1")
	if err != nil || got.ID != "t1" {
		t.Fatalf("GetTurn: %+v %v", got, err)
	}
}

func TestUpdateFactSupersessionInvalidatesFactsCache(t *testing.T) {
	backend := memory.New()
	c, err := New(backend, Sizes{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.SaveFact(ctx, storage.Fact{ID: "f1", SessionID: "s1", Content: "old", Status: storage.FactActive, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveFact: %v", err)
	}
	if _, err := c.GetFactsBySession(ctx, "s1", nil); err != nil {
		t.Fatalf("GetFactsBySession: %v", err)
	}
	if _, ok := c.facts.Get("s1"); !ok {
		t.Fatalf("expected facts cached")
	}

	if err := c.UpdateFactSupersession(ctx, "f1", "f2", time.Now()); err != nil {
		t.Fatalf("UpdateFactSupersession: %v", err)
	}
	if _, ok := c.facts.Get("s1"); ok {
		t.Fatalf("expected facts cache invalidated after supersession")
	}
}
