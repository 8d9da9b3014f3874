package storage

import (
	"context"
	"time"
)

// Backend is the storage interface every mnemo storage implementation
// (memory, postgres, qdrant) satisfies. All operations may fail with a
// wrapped mnemoerr.ErrStorage.
type Backend interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	SaveTurn(ctx context.Context, turn Turn) error
	GetTurn(ctx context.Context, id string) (Turn, error)
	GetTurnsByEpisode(ctx context.Context, episodeID string) ([]Turn, error)

	SaveEpisode(ctx context.Context, ep Episode) error
	GetEpisode(ctx context.Context, id string) (Episode, error)
	GetEpisodes(ctx context.Context, sessionID string, status *EpisodeStatus, limit int) ([]Episode, error)

	SaveFact(ctx context.Context, fact Fact) error
	// UpdateFactSupersession atomically transitions targetID to superseded,
	// compare-and-set on status=active so concurrent reflections across
	// sessions can never lose an update to the same fact row.
	UpdateFactSupersession(ctx context.Context, targetID string, supersededBy string, supersededAt time.Time) error
	GetFactsBySession(ctx context.Context, sessionID string, status *FactStatus) ([]Fact, error)
	GetFact(ctx context.Context, id string) (Fact, error)

	SaveEmbedding(ctx context.Context, id string, vector []float32, meta EmbeddingMetadata) error
	VectorSearch(ctx context.Context, vector []float32, k int, filter SearchFilter) ([]SearchResult, error)
}
