// Package ingest implements the turn-ingestion pipeline, grounded on
// rag/service.Service.Ingest's staged, metrics-timed orchestration style
// (t0 := clock.Now(); ...; metrics.ObserveHistogram("ingestion_stage_ms",
// ..., map[string]string{"stage": ...}) per stage), generalized to the
// nine numbered steps of spec §4.4.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/config"
	"mnemo/internal/episode"
	"mnemo/internal/marker"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
)

type tokenCounter interface {
	Count(text string) int
}

// ReflectionTrigger is invoked when a turn's assignment closes an episode.
// The session facade supplies this to fire-and-forget-but-serialize
// reflection without ingest depending on the reflect package directly.
type ReflectionTrigger func(ctx context.Context, closedEpisode storage.Episode)

// Pipeline implements the Ingest operation for one session.
type Pipeline struct {
	sessionID string
	backend   storage.Backend
	embedder  ports.Embedder
	counter   tokenCounter
	markerCfg config.MarkerConfig
	episodes  *episode.Manager
	metrics   ports.Metrics
	clock     ports.Clock
	onClose   ReflectionTrigger
}

// New constructs an ingestion Pipeline bound to one session's episode
// manager and storage/provider collaborators.
func New(sessionID string, backend storage.Backend, embedder ports.Embedder, counter tokenCounter, markerCfg config.MarkerConfig, episodes *episode.Manager, metrics ports.Metrics, clock ports.Clock, onClose ReflectionTrigger) *Pipeline {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Pipeline{
		sessionID: sessionID,
		backend:   backend,
		embedder:  embedder,
		counter:   counter,
		markerCfg: markerCfg,
		episodes:  episodes,
		metrics:   metrics,
		clock:     clock,
		onClose:   onClose,
	}
}

// Result is the outcome of one Ingest call.
type Result struct {
	TurnID    string
	EpisodeID string
}

// Ingest implements spec §4.4's nine-step sequence.
func (p *Pipeline) Ingest(ctx context.Context, role storage.Role, content string, explicitMarkers map[string]struct{}, metadata map[string]any) (Result, error) {
	total0 := p.clock.Now()
	stage := func(name string, t0 time.Time) {
		p.metrics.ObserveHistogram("ingestion_stage_ms", float64(p.clock.Now().Sub(t0).Milliseconds()), map[string]string{"stage": name, "session_id": p.sessionID})
	}

	// Step 1: validate.
	t0 := p.clock.Now()
	if err := validate(role, content); err != nil {
		return Result{}, err
	}
	stage("validate", t0)

	// Step 2: detect markers.
	t0 = p.clock.Now()
	effective := marker.Effective(content, explicitMarkers, p.markerCfg.AutoDetect)
	stage("detect_markers", t0)

	// Step 3: compute tokens.
	t0 = p.clock.Now()
	tokenCount := p.counter.Count(content)
	stage("compute_tokens", t0)

	// Step 4: assign episode.
	t0 = p.clock.Now()
	turn := storage.Turn{
		ID:         uuid.NewString(),
		SessionID:  p.sessionID,
		Role:       role,
		Content:    content,
		Markers:    effective,
		TokenCount: tokenCount,
		CreatedAt:  p.clock.Now(),
		Metadata:   metadata,
	}
	turn.SyncMarkers()
	assign := p.episodes.Assign(ctx, turn)
	turn.EpisodeID = assign.EpisodeID
	stage("assign_episode", t0)

	// Steps 5-6: build + persist turn.
	t0 = p.clock.Now()
	if err := p.backend.SaveTurn(ctx, turn); err != nil {
		stage("persist_turn", t0)
		return Result{}, fmt.Errorf("%w: save turn: %v", mnemoerr.ErrStorage, err)
	}
	stage("persist_turn", t0)

	// Step 7: embed (awaited; permanent failure degrades rather than fails).
	t0 = p.clock.Now()
	vectors, err := p.embedder.Embed(ctx, []string{content})
	stage("embed", t0)
	if err == nil && len(vectors) > 0 {
		// Step 8: persist embedding. A failure here degrades recall quality
		// (the turn won't surface via vector search) but must not fail
		// ingest, since the turn itself is already durably saved.
		t0 = p.clock.Now()
		if err := p.backend.SaveEmbedding(ctx, turn.ID, vectors[0], storage.EmbeddingMetadata{
			SessionID: p.sessionID,
			Kind:      storage.KindTurn,
			EpisodeID: turn.EpisodeID,
			Markers:   turn.MarkersRaw,
		}); err != nil {
			observability.SessionLogger(ctx, p.sessionID).Error().Err(err).Str("turn_id", turn.ID).Msg("ingest: failed to persist embedding")
		}
		stage("persist_embedding", t0)
	}

	// Step 9: trigger reflection if a close happened.
	if assign.ClosedEpisode != nil && p.onClose != nil {
		p.onClose(ctx, *assign.ClosedEpisode)
	}

	stage("total", total0)
	return Result{TurnID: turn.ID, EpisodeID: turn.EpisodeID}, nil
}

func validate(role storage.Role, content string) error {
	switch role {
	case storage.RoleUser, storage.RoleAssistant, storage.RoleTool:
	default:
		return fmt.Errorf("%w: invalid role %q", mnemoerr.ErrValidation, role)
	}
	if content == "" {
		return fmt.Errorf("%w: content must not be empty", mnemoerr.ErrValidation)
	}
	return nil
}
