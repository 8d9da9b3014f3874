// Package cache implements the optional write-through LRU layer in front
// of a storage.Backend, grounded on the pack's common use of
// github.com/hashicorp/golang-lru/v2 for bounded in-process caches. Each
// session owns its own Cache instance (spec §4.8 session isolation).
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"mnemo/internal/storage"
)

// Sizes configures independent capacity limits per entity kind.
type Sizes struct {
	Turns      int
	Episodes   int
	Embeddings int
	Facts      int // caches the active-facts list, keyed by session id
}

// DefaultSizes returns reasonable per-entity capacities for a single
// session's working set.
func DefaultSizes() Sizes {
	return Sizes{Turns: 512, Episodes: 64, Embeddings: 512, Facts: 8}
}

// Cache wraps a storage.Backend with read-through/write-through LRUs.
// It implements storage.Backend so it can be used as a drop-in decorator.
type Cache struct {
	backend storage.Backend

	turns      *lru.Cache[string, storage.Turn]
	episodes   *lru.Cache[string, storage.Episode]
	embeddings *lru.Cache[string, embeddingEntry]
	facts      *lru.Cache[string, []storage.Fact] // keyed by session id, active facts only
}

type embeddingEntry struct {
	vector []float32
	meta   storage.EmbeddingMetadata
}

// New wraps backend with an LRU cache sized per sizes. Any non-positive
// size falls back to DefaultSizes's value for that entity.
func New(backend storage.Backend, sizes Sizes) (*Cache, error) {
	d := DefaultSizes()
	if sizes.Turns <= 0 {
		sizes.Turns = d.Turns
	}
	if sizes.Episodes <= 0 {
		sizes.Episodes = d.Episodes
	}
	if sizes.Embeddings <= 0 {
		sizes.Embeddings = d.Embeddings
	}
	if sizes.Facts <= 0 {
		sizes.Facts = d.Facts
	}

	turns, err := lru.New[string, storage.Turn](sizes.Turns)
	if err != nil {
		return nil, err
	}
	episodes, err := lru.New[string, storage.Episode](sizes.Episodes)
	if err != nil {
		return nil, err
	}
	embeddings, err := lru.New[string, embeddingEntry](sizes.Embeddings)
	if err != nil {
		return nil, err
	}
	facts, err := lru.New[string, []storage.Fact](sizes.Facts)
	if err != nil {
		return nil, err
	}

	return &Cache{backend: backend, turns: turns, episodes: episodes, embeddings: embeddings, facts: facts}, nil
}

func (c *Cache) Initialize(ctx context.Context) error { return c.backend.Initialize(ctx) }
func (c *Cache) Close(ctx context.Context) error      { return c.backend.Close(ctx) }

func (c *Cache) SaveTurn(ctx context.Context, turn storage.Turn) error {
	if err := c.backend.SaveTurn(ctx, turn); err != nil {
		return err
	}
	c.turns.Add(turn.ID, turn)
	return nil
}

func (c *Cache) GetTurn(ctx context.Context, id string) (storage.Turn, error) {
	if t, ok := c.turns.Get(id); ok {
		return t, nil
	}
	t, err := c.backend.GetTurn(ctx, id)
	if err != nil {
		return storage.Turn{}, err
	}
	c.turns.Add(id, t)
	return t, nil
}

// GetTurnsByEpisode always reads through: episode membership can change as
// new turns are appended, so caching the list would risk staleness.
func (c *Cache) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]storage.Turn, error) {
	return c.backend.GetTurnsByEpisode(ctx, episodeID)
}

func (c *Cache) SaveEpisode(ctx context.Context, ep storage.Episode) error {
	if err := c.backend.SaveEpisode(ctx, ep); err != nil {
		return err
	}
	c.episodes.Add(ep.ID, ep)
	return nil
}

func (c *Cache) GetEpisode(ctx context.Context, id string) (storage.Episode, error) {
	if ep, ok := c.episodes.Get(id); ok {
		return ep, nil
	}
	ep, err := c.backend.GetEpisode(ctx, id)
	if err != nil {
		return storage.Episode{}, err
	}
	c.episodes.Add(id, ep)
	return ep, nil
}

func (c *Cache) GetEpisodes(ctx context.Context, sessionID string, status *storage.EpisodeStatus, limit int) ([]storage.Episode, error) {
	return c.backend.GetEpisodes(ctx, sessionID, status, limit)
}

func (c *Cache) SaveFact(ctx context.Context, fact storage.Fact) error {
	if err := c.backend.SaveFact(ctx, fact); err != nil {
		return err
	}
	c.facts.Remove(fact.SessionID)
	return nil
}

// UpdateFactSupersession writes through, then invalidates the cached
// active-facts list of the target fact's session, which it resolves by
// reading the target back from the backend. If that read fails, no cache
// entry is invalidated.
func (c *Cache) UpdateFactSupersession(ctx context.Context, targetID, supersededBy string, supersededAt time.Time) error {
	if err := c.backend.UpdateFactSupersession(ctx, targetID, supersededBy, supersededAt); err != nil {
		return err
	}
	if f, err := c.backend.GetFact(ctx, targetID); err == nil {
		c.invalidateFacts(f.SessionID)
	}
	return nil
}

func (c *Cache) GetFactsBySession(ctx context.Context, sessionID string, status *storage.FactStatus) ([]storage.Fact, error) {
	active := status == nil || *status == storage.FactActive
	if active {
		if cached, ok := c.facts.Get(sessionID); ok {
			return cached, nil
		}
	}
	facts, err := c.backend.GetFactsBySession(ctx, sessionID, status)
	if err != nil {
		return nil, err
	}
	if active {
		c.facts.Add(sessionID, facts)
	}
	return facts, nil
}

func (c *Cache) GetFact(ctx context.Context, id string) (storage.Fact, error) {
	return c.backend.GetFact(ctx, id)
}

func (c *Cache) SaveEmbedding(ctx context.Context, id string, vector []float32, meta storage.EmbeddingMetadata) error {
	if err := c.backend.SaveEmbedding(ctx, id, vector, meta); err != nil {
		return err
	}
	c.embeddings.Add(id, embeddingEntry{vector: vector, meta: meta})
	return nil
}

func (c *Cache) VectorSearch(ctx context.Context, vector []float32, k int, filter storage.SearchFilter) ([]storage.SearchResult, error) {
	return c.backend.VectorSearch(ctx, vector, k, filter)
}

// invalidateFacts drops sessionID's cached active-facts entry; used by
// UpdateFactSupersession above.
func (c *Cache) invalidateFacts(sessionID string) {
	c.facts.Remove(sessionID)
}
