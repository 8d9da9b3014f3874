// Package reflect consolidates a closed episode's turns against scoped
// prior facts into add/update/remove/keep actions, grounded on
// internal/agent/memory.EvolvingMemory's ApplyEdits/smartPruneBeforeAdd
// near-duplicate-merge shape, adapted to per-fact supersession instead of
// in-place entry merging.
package reflect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mnemo/internal/config"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
)

// Runner consolidates closed episodes into L2 facts. One Runner instance is
// shared by a session; Run calls for the same session must be serialized by
// the caller (the session facade), matching the FIFO ordering guarantee of
// spec §5.
type Runner struct {
	backend   storage.Backend
	embedder  ports.Embedder
	reflector ports.Reflector
	metrics   ports.Metrics
	clock     ports.Clock
	cfg       config.ReflectionConfig

	mu sync.Mutex
	// carryForward buffers turn ids from closed episodes that were too
	// short to reflect on alone, keyed by session id.
	carryForward map[string][]string
}

// New constructs a Runner.
func New(backend storage.Backend, embedder ports.Embedder, reflector ports.Reflector, metrics ports.Metrics, clock ports.Clock, cfg config.ReflectionConfig) *Runner {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Runner{
		backend:      backend,
		embedder:     embedder,
		reflector:    reflector,
		metrics:      metrics,
		clock:        clock,
		cfg:          cfg,
		carryForward: make(map[string][]string),
	}
}

// Run consolidates closedEpisode. It always returns a trace (even when no
// provider call was made), per spec's "no silent drop" invariant.
func (r *Runner) Run(ctx context.Context, sessionID string, closedEpisode storage.Episode) storage.ReflectionTrace {
	start := r.clock.Now()
	trace := storage.ReflectionTrace{EpisodeID: closedEpisode.ID}

	if !r.cfg.Enabled {
		trace.Mode = storage.ModeInitial
		trace.ElapsedMs = elapsedMs(r.clock.Now(), start)
		return trace
	}

	turnIDs := r.drainCarryForward(sessionID, closedEpisode.TurnIDs)
	turns, err := r.loadTurns(ctx, turnIDs)
	if err != nil {
		observability.SessionLogger(ctx, sessionID).Error().Err(err).Str("episode_id", closedEpisode.ID).Msg("reflection: failed to load turns, retaining carry-forward")
		trace.Err = err.Error()
		trace.ElapsedMs = elapsedMs(r.clock.Now(), start)
		r.bufferForRetry(sessionID, turnIDs)
		return trace
	}
	trace.InputTurnCount = len(turns)

	priorFacts, err := r.backend.GetFactsBySession(ctx, sessionID, activeStatus())
	if err != nil {
		observability.SessionLogger(ctx, sessionID).Error().Err(err).Str("episode_id", closedEpisode.ID).Msg("reflection: failed to load prior facts, retaining carry-forward")
		trace.Err = err.Error()
		trace.ElapsedMs = elapsedMs(r.clock.Now(), start)
		r.bufferForRetry(sessionID, turnIDs)
		return trace
	}
	for _, f := range priorFacts {
		trace.PriorFactIDs = append(trace.PriorFactIDs, f.ID)
	}

	minTurns := r.cfg.MinEpisodeTurns
	if minTurns <= 0 {
		minTurns = 3
	}
	if len(turns) < minTurns && len(priorFacts) == 0 {
		trace.Mode = storage.ModeInitial
		trace.SavedFactIDs = []string{}
		trace.ElapsedMs = elapsedMs(r.clock.Now(), start)
		r.mu.Lock()
		r.carryForward[sessionID] = turnIDs
		r.mu.Unlock()
		return trace
	}

	mode := storage.ModeInitial
	if len(priorFacts) > 0 {
		mode = storage.ModeConsolidation
	}
	trace.Mode = mode

	centroid, err := r.centroid(ctx, turns)
	if err != nil {
		observability.SessionLogger(ctx, sessionID).Error().Err(err).Str("episode_id", closedEpisode.ID).Msg("reflection: failed to embed turns for centroid, retaining carry-forward")
		trace.Err = err.Error()
		trace.ElapsedMs = elapsedMs(r.clock.Now(), start)
		r.bufferForRetry(sessionID, turnIDs)
		return trace
	}

	scoped := r.scopeFacts(ctx, priorFacts, centroid)
	for _, f := range scoped {
		trace.ScopedFactIDs = append(trace.ScopedFactIDs, f.ID)
	}

	output, err := r.reflector.Reflect(ctx, scoped, turns)
	if err != nil {
		observability.SessionLogger(ctx, sessionID).Error().Err(err).Str("episode_id", closedEpisode.ID).Msg("reflection: provider call failed, retaining carry-forward")
		trace.Err = err.Error()
		trace.RawOutput = output.RawOutput
		trace.ElapsedMs = elapsedMs(r.clock.Now(), start)
		r.bufferForRetry(sessionID, turnIDs)
		return trace
	}
	trace.RawOutput = output.RawOutput

	actions := output.Actions
	if !output.Typed {
		actions = output.BareFacts
	}

	saved, superseded, skipped := r.applyActions(ctx, sessionID, closedEpisode.ID, actions, priorFacts)
	trace.SavedFactIDs = saved
	trace.SupersededIDs = superseded
	trace.SkippedActions = skipped
	trace.ElapsedMs = elapsedMs(r.clock.Now(), start)

	r.mu.Lock()
	delete(r.carryForward, sessionID)
	r.mu.Unlock()

	r.metrics.IncCounter("reflection_runs_total", map[string]string{"session_id": sessionID})
	return trace
}

func (r *Runner) drainCarryForward(sessionID string, closedTurnIDs []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffered := r.carryForward[sessionID]
	if len(buffered) == 0 {
		return append([]string{}, closedTurnIDs...)
	}
	combined := make([]string, 0, len(buffered)+len(closedTurnIDs))
	combined = append(combined, buffered...)
	combined = append(combined, closedTurnIDs...)
	return combined
}

func (r *Runner) bufferForRetry(sessionID string, turnIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carryForward[sessionID] = turnIDs
}

func (r *Runner) loadTurns(ctx context.Context, ids []string) ([]storage.Turn, error) {
	out := make([]storage.Turn, 0, len(ids))
	for _, id := range ids {
		t, err := r.backend.GetTurn(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load carry-forward turn %s: %w", id, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// centroid embeds each turn individually and averages the resulting
// vectors, grounded on evolvingMemory's cosineSimilarity-based matching
// (the centroid stands in for "this episode's topic" the way a single
// entry's embedding stands in for its content there).
func (r *Runner) centroid(ctx context.Context, turns []storage.Turn) ([]float32, error) {
	texts := make([]string, len(turns))
	for i, t := range turns {
		texts[i] = t.Content
	}
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: centroid embed: %v", mnemoerr.ErrProvider, err)
	}
	return meanVector(vectors), nil
}

func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	mean := make([]float32, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			mean[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range mean {
		mean[i] /= n
	}
	return mean
}

// scopeFacts returns active facts whose embedding has cosine similarity to
// centroid >= consolidation_similarity_threshold, bounded to a top-N.
func (r *Runner) scopeFacts(ctx context.Context, facts []storage.Fact, centroid []float32) []storage.Fact {
	const topN = 20
	threshold := r.cfg.ConsolidationSimilarity
	if threshold == 0 {
		threshold = 0.3
	}

	results, err := r.backend.VectorSearch(ctx, centroid, topN, storage.SearchFilter{Kind: storage.KindFact})
	if err != nil {
		return nil
	}
	byID := make(map[string]storage.Fact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}
	var scoped []storage.Fact
	for _, res := range results {
		if res.Score < float32(threshold) {
			continue
		}
		if f, ok := byID[res.ID]; ok {
			scoped = append(scoped, f)
		}
	}
	return scoped
}

func activeStatus() *storage.FactStatus {
	s := storage.FactActive
	return &s
}

func elapsedMs(end, start time.Time) int64 {
	return end.Sub(start).Milliseconds()
}

func newFactID() string { return uuid.NewString() }

// applyActions applies each reflector action atomically against the
// backend, grounded on EvolvingMemory.ApplyEdits's per-op loop. Add actions
// are deduplicated against active prior facts via embedding cosine
// similarity before insertion, grounded on smartPruneBeforeAdd.
func (r *Runner) applyActions(ctx context.Context, sessionID, episodeID string, actions []ports.ReflectorAction, activeFacts []storage.Fact) (saved, superseded []string, skipped int) {
	now := r.clock.Now()
	dedupThreshold := r.cfg.DedupSimilarityThreshold
	if dedupThreshold == 0 {
		dedupThreshold = 0.95
	}
	activeByID := make(map[string]struct{}, len(activeFacts))
	for _, f := range activeFacts {
		activeByID[f.ID] = struct{}{}
	}

	for _, act := range actions {
		switch act.Kind {
		case ports.ActionAdd:
			if act.Content == "" {
				skipped++
				continue
			}
			if r.isDuplicate(ctx, sessionID, act.Content, dedupThreshold, activeByID) {
				skipped++
				continue
			}
			fact := storage.Fact{
				ID:               newFactID(),
				SessionID:        sessionID,
				SourceEpisodeIDs: []string{episodeID},
				Content:          act.Content,
				Markers:          act.Markers,
				Status:           storage.FactActive,
				CreatedAt:        now,
			}
			if err := r.backend.SaveFact(ctx, fact); err != nil {
				skipped++
				continue
			}
			r.embedFact(ctx, sessionID, fact)
			saved = append(saved, fact.ID)

		case ports.ActionUpdate:
			if act.TargetFactID == "" || act.NewContent == "" {
				skipped++
				continue
			}
			if target, err := r.backend.GetFact(ctx, act.TargetFactID); err != nil || target.Status != storage.FactActive {
				observability.SessionLogger(ctx, sessionID).Warn().Str("target_fact_id", act.TargetFactID).Msg("reflection: update target missing or already superseded, skipping")
				skipped++
				continue
			}
			replacement := storage.Fact{
				ID:               newFactID(),
				SessionID:        sessionID,
				SourceEpisodeIDs: []string{episodeID},
				Content:          act.NewContent,
				Markers:          act.NewMarkers,
				Status:           storage.FactActive,
				CreatedAt:        now,
			}
			if err := r.backend.SaveFact(ctx, replacement); err != nil {
				skipped++
				continue
			}
			if err := r.backend.UpdateFactSupersession(ctx, act.TargetFactID, replacement.ID, now); err != nil {
				skipped++
				continue
			}
			r.embedFact(ctx, sessionID, replacement)
			saved = append(saved, replacement.ID)
			superseded = append(superseded, act.TargetFactID)

		case ports.ActionRemove:
			if act.TargetFactID == "" {
				skipped++
				continue
			}
			if err := r.backend.UpdateFactSupersession(ctx, act.TargetFactID, "", now); err != nil {
				skipped++
				continue
			}
			superseded = append(superseded, act.TargetFactID)

		case ports.ActionKeep:
			// no-op: the fact remains active as-is.

		default:
			skipped++
		}
	}
	return saved, superseded, skipped
}

// isDuplicate reports whether content is near-identical (cosine similarity
// >= threshold) to an already-active fact in sessionID. Fact embeddings are
// never deleted on supersession, so the nearest hits can include stale
// facts; results are intersected against activeByID the same way scopeFacts
// intersects its own vector-search hits against the active-facts map.
func (r *Runner) isDuplicate(ctx context.Context, sessionID, content string, threshold float64, activeByID map[string]struct{}) bool {
	const topK = 5
	vectors, err := r.embedder.Embed(ctx, []string{content})
	if err != nil || len(vectors) == 0 {
		return false
	}
	results, err := r.backend.VectorSearch(ctx, vectors[0], topK, storage.SearchFilter{SessionID: sessionID, Kind: storage.KindFact})
	if err != nil {
		return false
	}
	for _, res := range results {
		if _, ok := activeByID[res.ID]; !ok {
			continue
		}
		if float64(res.Score) >= threshold {
			return true
		}
	}
	return false
}

func (r *Runner) embedFact(ctx context.Context, sessionID string, fact storage.Fact) {
	vectors, err := r.embedder.Embed(ctx, []string{fact.Content})
	if err != nil || len(vectors) == 0 {
		return
	}
	_ = r.backend.SaveEmbedding(ctx, fact.ID, vectors[0], storage.EmbeddingMetadata{
		SessionID: sessionID,
		Kind:      storage.KindFact,
		Markers:   fact.Markers,
	})
}
