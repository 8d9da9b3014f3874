// Package recall implements the four-source candidate gather, marker-
// boosted scoring, and priority-ordered budget packing behind Session's
// recall operation, grounded on internal/rag/retrieve's
// ParallelCandidates/FuseRRF/Diversify/AssembleResults shape — a
// QueryPlan-like options struct feeding a parallel multi-source gather,
// score-based ranking, and a capped, diagnostics-carrying result set.
package recall

import (
	"context"
	"sort"

	"mnemo/internal/config"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/ports"
	"mnemo/internal/storage"
)

// Options controls one Recall call.
type Options struct {
	IncludeCurrentEpisode bool
	MinRelevance          float32
}

// candidate is an internal scored item before packing, tagged with its
// source so the packing stage can apply per-source priority rules.
type candidate struct {
	source     string // "current_episode", "marked_past", "fact", "vector_past"
	content    string
	role       *storage.Role
	markers    []string
	relevance  float32 // raw cosine similarity, unboosted
	score      float32 // relevance + markerBoost; used for ranking and packing
	tokenCount int
	sourceID   string
	createdAt  int64 // unix nanos, for chronological ordering within current episode
}

// Pipeline implements the recall operation.
type Pipeline struct {
	backend  storage.Backend
	embedder ports.Embedder
	counter  tokenCounter
	cfg      config.RecallConfig
	weights  map[string]float64
}

type tokenCounter interface {
	Count(text string) int
}

// New constructs a recall Pipeline.
func New(backend storage.Backend, embedder ports.Embedder, counter tokenCounter, cfg config.RecallConfig, markerWeights map[string]float64) *Pipeline {
	return &Pipeline{backend: backend, embedder: embedder, counter: counter, cfg: cfg, weights: markerWeights}
}

// Recall gathers, scores, and budget-packs context for query, scoped to
// sessionID's open episode, marked past turns, active facts, and
// vector-searched unmarked past turns.
func (p *Pipeline) Recall(ctx context.Context, sessionID string, currentEpisodeID string, query string, tokenBudget int, opts Options) ([]storage.ContextItem, error) {
	if tokenBudget <= 0 {
		tokenBudget = p.cfg.DefaultTokenBudget
	}

	var queryVec []float32
	embedFailed := false
	if query != "" {
		vecs, err := p.embedder.Embed(ctx, []string{query})
		if err == nil && len(vecs) > 0 {
			queryVec = vecs[0]
		} else {
			embedFailed = true
		}
		// Embedding failure degrades to current-episode + marked-past only:
		// facts are not gathered, and vector search is skipped when queryVec is nil.
	}

	currentTurns, err := p.gatherCurrentEpisode(ctx, currentEpisodeID, opts.IncludeCurrentEpisode)
	if err != nil {
		return nil, err
	}
	markedPast, err := p.gatherMarkedPast(ctx, sessionID, currentEpisodeID, queryVec)
	if err != nil {
		return nil, err
	}
	var facts []candidate
	if !embedFailed {
		facts, err = p.gatherFacts(ctx, sessionID, queryVec)
		if err != nil {
			return nil, err
		}
	}
	var vectorPast []candidate
	if queryVec != nil {
		vectorPast, err = p.gatherVectorPast(ctx, sessionID, currentEpisodeID, queryVec)
		if err != nil {
			return nil, err
		}
	}

	markedPast = filterByRelevance(markedPast, opts.MinRelevance)
	facts = filterByRelevance(facts, opts.MinRelevance)
	vectorPast = filterByRelevance(vectorPast, opts.MinRelevance)

	sortByScoreDesc(markedPast)
	merged := append(append([]candidate{}, facts...), vectorPast...)
	sortByScoreDesc(merged)

	packed := p.pack(currentTurns, markedPast, merged, tokenBudget)
	return assemble(packed), nil
}

func (p *Pipeline) gatherCurrentEpisode(ctx context.Context, episodeID string, include bool) ([]candidate, error) {
	if !include || episodeID == "" {
		return nil, nil
	}
	turns, err := p.backend.GetTurnsByEpisode(ctx, episodeID)
	if err != nil {
		return nil, mnemoerr.ErrStorage
	}
	out := make([]candidate, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnToCandidate("current_episode", t))
	}
	return out, nil
}

func (p *Pipeline) gatherMarkedPast(ctx context.Context, sessionID, currentEpisodeID string, queryVec []float32) ([]candidate, error) {
	filter := storage.SearchFilter{SessionID: sessionID, Kind: storage.KindTurn, MarkersNonEmpty: true}
	k := p.cfg.VectorSearchK
	if k <= 0 {
		k = 10
	}
	results, err := p.backend.VectorSearch(ctx, queryVec, k*2, filter)
	if err != nil {
		return nil, mnemoerr.ErrStorage
	}
	out := make([]candidate, 0, len(results))
	for _, res := range results {
		if res.Metadata.EpisodeID == currentEpisodeID {
			continue
		}
		turn, err := p.backend.GetTurn(ctx, res.ID)
		if err != nil {
			continue
		}
		c := turnToCandidate("marked_past", turn)
		c.relevance = res.Score
		c.score = res.Score + markerBoost(res.Metadata.Markers, p.weights)
		out = append(out, c)
	}
	return out, nil
}

func (p *Pipeline) gatherFacts(ctx context.Context, sessionID string, queryVec []float32) ([]candidate, error) {
	active := storage.FactActive
	facts, err := p.backend.GetFactsBySession(ctx, sessionID, &active)
	if err != nil {
		return nil, mnemoerr.ErrStorage
	}
	scores := make(map[string]float32, len(facts))
	if queryVec != nil {
		results, err := p.backend.VectorSearch(ctx, queryVec, len(facts)+1, storage.SearchFilter{SessionID: sessionID, Kind: storage.KindFact})
		if err == nil {
			for _, r := range results {
				scores[r.ID] = r.Score
			}
		}
	}
	out := make([]candidate, 0, len(facts))
	for _, f := range facts {
		relevance := scores[f.ID]
		out = append(out, candidate{
			source:     "fact",
			content:    f.Content,
			markers:    f.Markers,
			relevance:  relevance,
			score:      relevance + markerBoost(f.Markers, p.weights),
			tokenCount: p.counter.Count(f.Content),
			sourceID:   f.ID,
		})
	}
	return out, nil
}

func (p *Pipeline) gatherVectorPast(ctx context.Context, sessionID, currentEpisodeID string, queryVec []float32) ([]candidate, error) {
	k := p.cfg.VectorSearchK
	if k <= 0 {
		k = 10
	}
	filter := storage.SearchFilter{SessionID: sessionID, Kind: storage.KindTurn, MarkersEmpty: true}
	results, err := p.backend.VectorSearch(ctx, queryVec, k, filter)
	if err != nil {
		return nil, mnemoerr.ErrStorage
	}
	out := make([]candidate, 0, len(results))
	for _, res := range results {
		if res.Metadata.EpisodeID == currentEpisodeID {
			continue
		}
		turn, err := p.backend.GetTurn(ctx, res.ID)
		if err != nil {
			continue
		}
		c := turnToCandidate("vector_past", turn)
		c.relevance = res.Score
		c.score = res.Score
		out = append(out, c)
	}
	return out, nil
}

func turnToCandidate(source string, t storage.Turn) candidate {
	role := t.Role
	return candidate{
		source:     source,
		content:    t.Content,
		role:       &role,
		markers:    markersSlice(t.MarkersRaw),
		tokenCount: t.TokenCount,
		sourceID:   t.ID,
		createdAt:  t.CreatedAt.UnixNano(),
	}
}

func markersSlice(raw []string) []string {
	if raw == nil {
		return []string{}
	}
	return raw
}

func markerBoost(markers []string, weights map[string]float64) float32 {
	var boost float64
	for _, m := range markers {
		if w, ok := weights[m]; ok {
			boost += w
		} else if isCustomMarker(m) {
			boost += weights["custom:*"]
		}
	}
	return float32(boost)
}

func isCustomMarker(m string) bool {
	return len(m) > 7 && m[:7] == "custom:"
}

// filterByRelevance discards candidates whose raw cosine relevance falls
// below minRelevance. The cutoff applies to relevance, not the
// marker-boosted score, so a low-similarity item can't be rescued by its
// marker weight (spec's min_relevance semantics).
func filterByRelevance(cands []candidate, minRelevance float32) []candidate {
	if minRelevance <= 0 {
		return cands
	}
	out := cands[:0]
	for _, c := range cands {
		if c.relevance >= minRelevance {
			out = append(out, c)
		}
	}
	return out
}

func sortByScoreDesc(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
}
