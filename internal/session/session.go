// Package session implements the single-session facade that ties together
// episode assignment, ingestion, recall, and reflection, grounded on
// omem.EpisodeManager's StartSession/EndSession lifecycle generalized to
// the full component pipeline of spec §4.7, with reflection triggers
// serialized through a per-session FIFO queue the way the teacher drains
// its fleet/worker channels one at a time.
package session

import (
	"context"
	"fmt"
	"sync"

	"mnemo/internal/config"
	"mnemo/internal/episode"
	"mnemo/internal/ingest"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/ports"
	"mnemo/internal/reflect"
	"mnemo/internal/recall"
	"mnemo/internal/storage"
)

type tokenCounter interface {
	Count(text string) int
}

// Session is a single conversational session's memory facade. One Session
// instance serves exactly one session id (spec §4.7 constraint).
type Session struct {
	id string

	backend  storage.Backend
	embedder ports.Embedder
	counter  tokenCounter
	cfg      config.Config

	episodes *episode.Manager
	reflector *reflect.Runner
	recaller  *recall.Pipeline
	ingester  *ingest.Pipeline

	mu            sync.Mutex // serializes ingest/recall/close_episode against facade state
	traceCB       ports.TraceCallback
	reflectionWG  sync.WaitGroup
	reflectionSem chan struct{} // capacity 1: at most one reflection in flight per session
	closed        bool
}

// New constructs a Session. Initialize must be called before Ingest/Recall.
func New(sessionID string, backend storage.Backend, embedder ports.Embedder, reflector ports.Reflector, counter tokenCounter, cfg config.Config, clock ports.Clock, metrics ports.Metrics) (*Session, error) {
	epMgr, err := episode.New(sessionID, backend, cfg.Episode, clock)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:            sessionID,
		backend:       backend,
		embedder:      embedder,
		counter:       counter,
		cfg:           cfg,
		episodes:      epMgr,
		reflector:     reflect.New(backend, embedder, reflector, metrics, clock, cfg.Reflection),
		recaller:      recall.New(backend, embedder, counter, cfg.Recall, cfg.Marker.Weights),
		reflectionSem: make(chan struct{}, 1),
	}
	s.ingester = ingest.New(sessionID, backend, embedder, counter, cfg.Marker, epMgr, metrics, clock, s.triggerReflection)
	return s, nil
}

// Initialize ensures storage is ready and an open episode exists.
func (s *Session) Initialize(ctx context.Context) error {
	if err := s.backend.Initialize(ctx); err != nil {
		return fmt.Errorf("%w: initialize storage: %v", mnemoerr.ErrStorage, err)
	}
	s.episodes.Initialize(ctx)
	return nil
}

// SetTraceCallback installs fn as the reflection trace sink.
func (s *Session) SetTraceCallback(fn ports.TraceCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traceCB = fn
}

// IngestResult is the outcome of one Ingest call.
type IngestResult struct {
	TurnID    string
	EpisodeID string
}

// Ingest implements the nine-step ingestion sequence of spec §4.4, serialized
// against facade state (episode assignment mutates s.episodes) via s.mu.
func (s *Session) Ingest(ctx context.Context, role storage.Role, content string, explicitMarkers map[string]struct{}, metadata map[string]any) (IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.ingester.Ingest(ctx, role, content, explicitMarkers, metadata)
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{TurnID: res.TurnID, EpisodeID: res.EpisodeID}, nil
}

// triggerReflection runs the reflector fire-and-forget but serialized: a
// session-scoped semaphore of capacity 1 ensures at most one reflection is
// in flight, and closures close over the already-closed episode so queued
// calls run in the order their episodes closed (spec §4.5 ordering
// guarantee), since Go's buffered channel send below blocks subsequent
// triggers until the in-flight one releases the slot.
func (s *Session) triggerReflection(ctx context.Context, closedEpisode storage.Episode) {
	s.reflectionWG.Add(1)
	s.reflectionSem <- struct{}{}
	go func() {
		defer s.reflectionWG.Done()
		defer func() { <-s.reflectionSem }()
		trace := s.reflector.Run(context.Background(), s.id, closedEpisode)
		s.mu.Lock()
		cb := s.traceCB
		s.mu.Unlock()
		if cb != nil {
			cb(trace)
		}
	}()
}

// Recall implements the recall operation (spec §4.6).
func (s *Session) Recall(ctx context.Context, query string, tokenBudget int, opts recall.Options) ([]storage.ContextItem, error) {
	s.mu.Lock()
	current := s.episodes.Current()
	s.mu.Unlock()
	episodeID := ""
	if current != nil {
		episodeID = current.ID
	}
	return s.recaller.Recall(ctx, s.id, episodeID, query, tokenBudget, opts)
}

// CloseEpisode force-closes the open episode, triggers reflection, and
// opens a new one. Returns "" if the episode had no turns.
func (s *Session) CloseEpisode(ctx context.Context, reason string) string {
	s.mu.Lock()
	closed := s.episodes.CloseExplicit(ctx)
	s.mu.Unlock()
	if closed == nil {
		return ""
	}
	if reason != "" {
		closed.CloseReason = reason
		if err := s.backend.SaveEpisode(ctx, *closed); err != nil {
			observability.SessionLogger(ctx, s.id).Error().Err(err).Str("episode_id", closed.ID).Msg("session: failed to persist close reason")
		}
	}
	s.triggerReflection(ctx, *closed)
	return closed.ID
}

// GetSessionStats returns counts for the session.
func (s *Session) GetSessionStats(ctx context.Context) (storage.SessionStats, error) {
	var stats storage.SessionStats

	open := storage.EpisodeOpen
	closedStatus := storage.EpisodeClosed
	openEps, err := s.backend.GetEpisodes(ctx, s.id, &open, 0)
	if err != nil {
		return stats, fmt.Errorf("%w: get open episodes: %v", mnemoerr.ErrStorage, err)
	}
	closedEps, err := s.backend.GetEpisodes(ctx, s.id, &closedStatus, 0)
	if err != nil {
		return stats, fmt.Errorf("%w: get closed episodes: %v", mnemoerr.ErrStorage, err)
	}
	stats.OpenEpisodeCount = len(openEps)
	stats.ClosedEpisodeCount = len(closedEps)

	for _, ep := range append(append([]storage.Episode{}, openEps...), closedEps...) {
		stats.TurnCount += ep.TurnCount
	}

	active := storage.FactActive
	superseded := storage.FactSuperseded
	activeFacts, err := s.backend.GetFactsBySession(ctx, s.id, &active)
	if err != nil {
		return stats, fmt.Errorf("%w: get active facts: %v", mnemoerr.ErrStorage, err)
	}
	supersededFacts, err := s.backend.GetFactsBySession(ctx, s.id, &superseded)
	if err != nil {
		return stats, fmt.Errorf("%w: get superseded facts: %v", mnemoerr.ErrStorage, err)
	}
	stats.ActiveFactCount = len(activeFacts)
	stats.SupersededFactCount = len(supersededFacts)

	return stats, nil
}

// Close flushes pending writes, awaits in-flight reflections, and releases
// resources. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.reflectionWG.Wait()
	return s.backend.Close(ctx)
}
