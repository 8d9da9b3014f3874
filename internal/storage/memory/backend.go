// Package memory implements storage.Backend entirely in-process with
// mutex-guarded maps. It is the zero-dependency default, used for tests and
// for callers who don't need durability across restarts.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// Backend is an in-memory implementation of storage.Backend, grounded on
// the teacher's memoryVector/memory_search map-of-structs shape.
type Backend struct {
	mu sync.RWMutex

	turns    map[string]storage.Turn
	episodes map[string]storage.Episode
	facts    map[string]storage.Fact

	vectors map[string]vecEntry
}

type vecEntry struct {
	v    []float32
	meta storage.EmbeddingMetadata
}

// New constructs an empty in-memory backend.
func New() *Backend {
	return &Backend{
		turns:    make(map[string]storage.Turn),
		episodes: make(map[string]storage.Episode),
		facts:    make(map[string]storage.Fact),
		vectors:  make(map[string]vecEntry),
	}
}

// Initialize is a no-op for the memory backend.
func (b *Backend) Initialize(ctx context.Context) error { return nil }

// Close is a no-op for the memory backend.
func (b *Backend) Close(ctx context.Context) error { return nil }

func (b *Backend) SaveTurn(ctx context.Context, turn storage.Turn) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	turn.SyncMarkers()
	b.turns[turn.ID] = turn
	return nil
}

func (b *Backend) GetTurn(ctx context.Context, id string) (storage.Turn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.turns[id]
	if !ok {
		return storage.Turn{}, fmt.Errorf("%w: turn %s", mnemoerr.ErrStorage, id)
	}
	t.PopulateMarkerSet()
	return t, nil
}

func (b *Backend) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]storage.Turn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []storage.Turn
	for _, t := range b.turns {
		if t.EpisodeID == episodeID {
			t.PopulateMarkerSet()
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *Backend) SaveEpisode(ctx context.Context, ep storage.Episode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.episodes[ep.ID] = ep
	return nil
}

func (b *Backend) GetEpisode(ctx context.Context, id string) (storage.Episode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.episodes[id]
	if !ok {
		return storage.Episode{}, fmt.Errorf("%w: episode %s", mnemoerr.ErrEpisodeNotFound, id)
	}
	return ep, nil
}

func (b *Backend) GetEpisodes(ctx context.Context, sessionID string, status *storage.EpisodeStatus, limit int) ([]storage.Episode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []storage.Episode
	for _, ep := range b.episodes {
		if ep.SessionID != sessionID {
			continue
		}
		if status != nil && ep.Status != *status {
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) SaveFact(ctx context.Context, fact storage.Fact) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.facts[fact.ID] = fact
	return nil
}

func (b *Backend) UpdateFactSupersession(ctx context.Context, targetID string, supersededBy string, supersededAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.facts[targetID]
	if !ok {
		return fmt.Errorf("%w: fact %s", mnemoerr.ErrFactNotFound, targetID)
	}
	if f.Status != storage.FactActive {
		// Compare-and-set: already superseded, no-op.
		return nil
	}
	f.Status = storage.FactSuperseded
	f.SupersededBy = supersededBy
	ts := supersededAt
	f.SupersededAt = &ts
	b.facts[targetID] = f
	return nil
}

func (b *Backend) GetFact(ctx context.Context, id string) (storage.Fact, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.facts[id]
	if !ok {
		return storage.Fact{}, fmt.Errorf("%w: fact %s", mnemoerr.ErrFactNotFound, id)
	}
	return f, nil
}

func (b *Backend) GetFactsBySession(ctx context.Context, sessionID string, status *storage.FactStatus) ([]storage.Fact, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []storage.Fact
	for _, f := range b.facts {
		if f.SessionID != sessionID {
			continue
		}
		if status != nil && f.Status != *status {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *Backend) SaveEmbedding(ctx context.Context, id string, vector []float32, meta storage.EmbeddingMetadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	b.vectors[id] = vecEntry{v: cp, meta: meta}
	return nil
}

func (b *Backend) VectorSearch(ctx context.Context, vector []float32, k int, filter storage.SearchFilter) ([]storage.SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := l2norm(vector)
	var results []storage.SearchResult
	for id, e := range b.vectors {
		if !matchesFilter(e.meta, filter) {
			continue
		}
		score := cosine(vector, e.v, qnorm)
		results = append(results, storage.SearchResult{ID: id, Score: score, Metadata: e.meta})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func matchesFilter(meta storage.EmbeddingMetadata, f storage.SearchFilter) bool {
	if f.SessionID != "" && meta.SessionID != f.SessionID {
		return false
	}
	if f.Kind != "" && meta.Kind != f.Kind {
		return false
	}
	if f.MarkersEmpty && len(meta.Markers) != 0 {
		return false
	}
	if f.MarkersNonEmpty && len(meta.Markers) == 0 {
		return false
	}
	return true
}

func l2norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32, anorm float64) float32 {
	if anorm == 0 {
		anorm = l2norm(a)
	}
	bnorm := l2norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (anorm * bnorm))
}
