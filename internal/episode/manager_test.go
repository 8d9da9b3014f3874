package episode

import (
	"context"
	"testing"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/storage"
	"mnemo/internal/storage/memory"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTurn(id string, role storage.Role, content string, at time.Time) storage.Turn {
	return storage.Turn{ID: id, SessionID: "s1", Role: role, Content: content, CreatedAt: at}
}

func TestInitializeCreatesOpenEpisode(t *testing.T) {
	ctx := context.Background()
	m, err := New("s1", memory.New(), config.EpisodeConfig{MaxTurnsPerEpisode: 10}, &fakeClock{t: time.Now()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ep := m.Initialize(ctx)
	if ep == nil || ep.Status != storage.EpisodeOpen {
		t.Fatalf("expected open episode, got %+v", ep)
	}
}

func TestInitializePersistsOpenEpisode(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	m, _ := New("s1", backend, config.EpisodeConfig{MaxTurnsPerEpisode: 10}, &fakeClock{t: time.Now()})
	ep := m.Initialize(ctx)

	stored, err := backend.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if stored.Status != storage.EpisodeOpen {
		t.Fatalf("expected persisted episode to be open, got %+v", stored)
	}
}

func TestMaxTurnsCloseTrigger(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	m, _ := New("s1", memory.New(), config.EpisodeConfig{MaxTurnsPerEpisode: 2}, &fakeClock{t: base})
	m.Initialize(ctx)

	r1 := m.Assign(ctx, newTurn("t1", storage.RoleUser, "hi", base))
	if r1.ClosedEpisode != nil {
		t.Fatalf("did not expect close on first turn")
	}
	r2 := m.Assign(ctx, newTurn("t2", storage.RoleAssistant, "hello", base.Add(time.Second)))
	if r2.ClosedEpisode == nil || r2.ClosedReason != ReasonMaxTurns {
		t.Fatalf("expected max_turns close, got %+v", r2)
	}
	if r2.ClosedEpisode.TurnCount != 2 {
		t.Fatalf("expected closed episode with 2 turns, got %d", r2.ClosedEpisode.TurnCount)
	}
}

func TestTimeGapClosesBeforeAppending(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	m, _ := New("s1", memory.New(), config.EpisodeConfig{MaxTurnsPerEpisode: 100, MaxTimeGapSeconds: 60}, &fakeClock{t: base})
	m.Initialize(ctx)

	m.Assign(ctx, newTurn("a", storage.RoleUser, "first", base))
	r := m.Assign(ctx, newTurn("b", storage.RoleUser, "second", base.Add(120*time.Second)))

	if r.ClosedEpisode == nil || r.ClosedReason != ReasonTimeGap {
		t.Fatalf("expected time-gap close, got %+v", r)
	}
	if r.ClosedEpisode.TurnCount != 1 || r.ClosedEpisode.TurnIDs[0] != "a" {
		t.Fatalf("expected closed episode to contain only turn a, got %+v", r.ClosedEpisode)
	}
	if r.EpisodeID == r.ClosedEpisode.ID {
		t.Fatalf("expected turn b to land in a new episode")
	}
}

func TestCloseOnToolResult(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	m, _ := New("s1", memory.New(), config.EpisodeConfig{MaxTurnsPerEpisode: 100, CloseOnToolResult: true}, &fakeClock{t: base})
	m.Initialize(ctx)
	r := m.Assign(ctx, newTurn("t", storage.RoleTool, "result", base))
	if r.ClosedEpisode == nil || r.ClosedReason != ReasonToolResult {
		t.Fatalf("expected tool-result close, got %+v", r)
	}
}

func TestCloseOnPatterns(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	m, _ := New("s1", memory.New(), config.EpisodeConfig{MaxTurnsPerEpisode: 100, CloseOnPatterns: []string{"(?i)goodbye"}}, &fakeClock{t: base})
	m.Initialize(ctx)
	r := m.Assign(ctx, newTurn("t", storage.RoleUser, "Goodbye for now", base))
	if r.ClosedEpisode == nil || r.ClosedReason != ReasonPattern {
		t.Fatalf("expected pattern close, got %+v", r)
	}
}

func TestCloseExplicitNoOpWhenEmpty(t *testing.T) {
	ctx := context.Background()
	m, _ := New("s1", memory.New(), config.EpisodeConfig{MaxTurnsPerEpisode: 10}, &fakeClock{t: time.Now()})
	m.Initialize(ctx)
	if closed := m.CloseExplicit(ctx); closed != nil {
		t.Fatalf("expected nil close on empty episode, got %+v", closed)
	}
}

func TestCloseExplicitClosesAndReopens(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	m, _ := New("s1", memory.New(), config.EpisodeConfig{MaxTurnsPerEpisode: 10}, &fakeClock{t: base})
	m.Initialize(ctx)
	m.Assign(ctx, newTurn("t1", storage.RoleUser, "hi", base))

	closed := m.CloseExplicit(ctx)
	if closed == nil || closed.CloseReason != ReasonExplicit {
		t.Fatalf("expected explicit close, got %+v", closed)
	}
	if m.Current().ID == closed.ID {
		t.Fatalf("expected a new open episode after explicit close")
	}
}

func TestCloseExplicitPersistsClosedEpisode(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	backend := memory.New()
	m, _ := New("s1", backend, config.EpisodeConfig{MaxTurnsPerEpisode: 10}, &fakeClock{t: base})
	m.Initialize(ctx)
	m.Assign(ctx, newTurn("a", storage.RoleUser, "hi", base))
	closed := m.CloseExplicit(ctx)

	closedStatus := storage.EpisodeClosed
	eps, err := backend.GetEpisodes(ctx, "s1", &closedStatus, 0)
	if err != nil {
		t.Fatalf("GetEpisodes: %v", err)
	}
	if len(eps) != 1 || eps[0].ID != closed.ID {
		t.Fatalf("expected exactly one persisted closed episode matching %q, got %+v", closed.ID, eps)
	}
}
