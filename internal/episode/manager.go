// Package episode implements the single-open-episode-per-session state
// machine, grounded on the mutex-guarded currentEpisode/lastActivity shape
// of omem.EpisodeManager (closeCurrentEpisodeLocked, LRU of recent closed
// episodes), generalized to the five close triggers of spec §4.3. The
// carry-forward buffer for too-short episodes is owned by
// mnemo/internal/reflect.Runner, which is the component that actually
// decides whether a reflection fires (§4.5); Manager only reports close
// events. Every open/close transition is persisted via storage.Backend
// the same way ingest.Pipeline persists turns, so GetEpisodes/GetEpisode
// reflect actual episode state instead of only the in-memory copy.
package episode

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/config"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
)

// CloseReason names why an episode closed.
const (
	ReasonMaxTurns   = "max_turns_per_episode"
	ReasonTimeGap    = "max_time_gap"
	ReasonToolResult = "close_on_tool_result"
	ReasonPattern    = "close_on_pattern"
	ReasonExplicit   = "explicit"
)

// Manager tracks the single open episode of one session.
type Manager struct {
	mu sync.Mutex

	sessionID string
	backend   storage.Backend
	cfg       config.EpisodeConfig
	clock     ports.Clock

	current      *storage.Episode
	lastTurnTime time.Time

	patterns []*regexp.Regexp
}

// New constructs a Manager for sessionID. The caller must call Initialize
// before the first Assign. backend may be nil, in which case episode state
// is tracked in-memory only (no persistence).
func New(sessionID string, backend storage.Backend, cfg config.EpisodeConfig, clock ports.Clock) (*Manager, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.CloseOnPatterns))
	for _, p := range cfg.CloseOnPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid close_on_patterns entry %q: %v", mnemoerr.ErrValidation, p, err)
		}
		patterns = append(patterns, re)
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Manager{sessionID: sessionID, backend: backend, cfg: cfg, clock: clock, patterns: patterns}, nil
}

// AssignResult reports the outcome of Assign: which episode the turn landed
// in, and whether a prior episode was closed (and if so, which one and why).
type AssignResult struct {
	EpisodeID     string
	ClosedEpisode *storage.Episode
	ClosedReason  string
}

// Initialize ensures an open episode exists, creating one if the session is
// new. Idempotent.
func (m *Manager) Initialize(ctx context.Context) *storage.Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		m.openNewLocked(ctx)
	}
	return m.current
}

func (m *Manager) openNewLocked(ctx context.Context) {
	now := m.clock.Now()
	m.current = &storage.Episode{
		ID:        uuid.NewString(),
		SessionID: m.sessionID,
		Status:    storage.EpisodeOpen,
		OpenedAt:  now,
		TurnIDs:   nil,
	}
	m.lastTurnTime = now
	m.persistCurrentLocked(ctx, "open")
}

// persistCurrentLocked best-effort persists the current episode's state,
// logging rather than failing the caller on error: the in-memory episode
// state machine remains authoritative for Assign's own close-trigger
// decisions even if a storage write fails. Caller must hold m.mu.
func (m *Manager) persistCurrentLocked(ctx context.Context, stage string) {
	if m.backend == nil || m.current == nil {
		return
	}
	if err := m.backend.SaveEpisode(ctx, *m.current); err != nil {
		observability.SessionLogger(ctx, m.sessionID).Error().Err(err).Str("episode_id", m.current.ID).Str("stage", stage).Msg("episode: failed to persist episode")
	}
}

// Current returns a copy of the open episode, or nil if Initialize has not
// been called.
func (m *Manager) Current() *storage.Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// Assign appends turn to the open episode, applying the five close triggers
// of spec §4.3. The time-gap trigger is evaluated before appending; every
// other trigger is evaluated after. Every open/close transition, and the
// updated turn count on the still-open episode, is persisted.
func (m *Manager) Assign(ctx context.Context, turn storage.Turn) AssignResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		m.openNewLocked(ctx)
	}

	var result AssignResult

	// Trigger 2: time gap, evaluated before appending.
	if m.cfg.MaxTimeGapSeconds > 0 && !m.lastTurnTime.IsZero() {
		gap := turn.CreatedAt.Sub(m.lastTurnTime)
		if gap >= m.cfg.MaxTimeGap() {
			closed := m.closeLocked(ctx, ReasonTimeGap)
			result.ClosedEpisode = closed
			result.ClosedReason = ReasonTimeGap
			m.openNewLocked(ctx)
		}
	}

	turn.EpisodeID = m.current.ID
	m.current.TurnIDs = append(m.current.TurnIDs, turn.ID)
	m.current.TurnCount++
	m.lastTurnTime = turn.CreatedAt

	result.EpisodeID = m.current.ID

	// Triggers 1, 3, 4 evaluated after appending. Only one trigger applies
	// per call; first match wins.
	reason := ""
	switch {
	case m.cfg.MaxTurnsPerEpisode > 0 && m.current.TurnCount >= m.cfg.MaxTurnsPerEpisode:
		reason = ReasonMaxTurns
	case m.cfg.CloseOnToolResult && turn.Role == storage.RoleTool:
		reason = ReasonToolResult
	case m.matchesClosePattern(turn.Content):
		reason = ReasonPattern
	}

	if reason != "" {
		closed := m.closeLocked(ctx, reason)
		result.ClosedEpisode = closed
		result.ClosedReason = reason
		m.openNewLocked(ctx)
	} else {
		// Still open: persist the updated turn count/turn ids so
		// GetEpisodes reflects the in-flight episode, not just closed ones.
		m.persistCurrentLocked(ctx, "append_turn")
	}

	return result
}

func (m *Manager) matchesClosePattern(content string) bool {
	for _, re := range m.patterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// CloseExplicit force-closes the open episode. Returns nil if the episode
// has no turns (nothing to close).
func (m *Manager) CloseExplicit(ctx context.Context) *storage.Episode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.TurnCount == 0 {
		return nil
	}
	closed := m.closeLocked(ctx, ReasonExplicit)
	m.openNewLocked(ctx)
	return closed
}

// closeLocked finalizes the current episode, persists it, and returns a
// copy of it. Caller must hold m.mu.
func (m *Manager) closeLocked(ctx context.Context, reason string) *storage.Episode {
	now := m.clock.Now()
	m.current.Status = storage.EpisodeClosed
	m.current.ClosedAt = &now
	m.current.CloseReason = reason
	m.persistCurrentLocked(ctx, "close")
	closed := *m.current
	return &closed
}
