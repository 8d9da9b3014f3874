package qdrant

import (
	"context"
	"time"

	"mnemo/internal/storage"
)

// Backend composes a relational storage.Backend (for turns/episodes/facts)
// with a Qdrant Index (for embeddings), so callers configuring "qdrant" as
// the backend get a dedicated vector database without re-implementing CRUD.
type Backend struct {
	records storage.Backend
	index   *Index
}

// NewBackend composes records (typically a storage/postgres.Backend) with a
// Qdrant-backed vector Index.
func NewBackend(records storage.Backend, index *Index) *Backend {
	return &Backend{records: records, index: index}
}

func (b *Backend) Initialize(ctx context.Context) error { return b.records.Initialize(ctx) }
func (b *Backend) Close(ctx context.Context) error       { return b.records.Close(ctx) }

func (b *Backend) SaveTurn(ctx context.Context, t storage.Turn) error { return b.records.SaveTurn(ctx, t) }
func (b *Backend) GetTurn(ctx context.Context, id string) (storage.Turn, error) {
	return b.records.GetTurn(ctx, id)
}
func (b *Backend) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]storage.Turn, error) {
	return b.records.GetTurnsByEpisode(ctx, episodeID)
}

func (b *Backend) SaveEpisode(ctx context.Context, ep storage.Episode) error {
	return b.records.SaveEpisode(ctx, ep)
}
func (b *Backend) GetEpisode(ctx context.Context, id string) (storage.Episode, error) {
	return b.records.GetEpisode(ctx, id)
}
func (b *Backend) GetEpisodes(ctx context.Context, sessionID string, status *storage.EpisodeStatus, limit int) ([]storage.Episode, error) {
	return b.records.GetEpisodes(ctx, sessionID, status, limit)
}

func (b *Backend) SaveFact(ctx context.Context, f storage.Fact) error { return b.records.SaveFact(ctx, f) }
func (b *Backend) UpdateFactSupersession(ctx context.Context, targetID, supersededBy string, supersededAt time.Time) error {
	return b.records.UpdateFactSupersession(ctx, targetID, supersededBy, supersededAt)
}
func (b *Backend) GetFactsBySession(ctx context.Context, sessionID string, status *storage.FactStatus) ([]storage.Fact, error) {
	return b.records.GetFactsBySession(ctx, sessionID, status)
}
func (b *Backend) GetFact(ctx context.Context, id string) (storage.Fact, error) {
	return b.records.GetFact(ctx, id)
}

func (b *Backend) SaveEmbedding(ctx context.Context, id string, vector []float32, meta storage.EmbeddingMetadata) error {
	return b.index.SaveEmbedding(ctx, id, vector, meta)
}
func (b *Backend) VectorSearch(ctx context.Context, vector []float32, k int, filter storage.SearchFilter) ([]storage.SearchResult, error) {
	return b.index.VectorSearch(ctx, vector, k, filter)
}
