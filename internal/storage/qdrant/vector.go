// Package qdrant wraps github.com/qdrant/go-client as the vector-index half
// of a storage.Backend, grounded on the teacher's qdrant_vector.go client
// wiring. Turn/episode/fact CRUD is delegated to a storage.Backend
// implementation backing the struct records (typically storage/postgres);
// this package owns only SaveEmbedding/VectorSearch against a dedicated
// collection.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// Index is a Qdrant-backed implementation of the embedding half of
// storage.Backend.
type Index struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
}

// Config configures a connection to a Qdrant instance.
type Config struct {
	Addr       string
	Collection string
	Dimension  uint64
	UseTLS     bool
	APIKey     string
}

// New connects to Qdrant and ensures the configured collection exists.
func New(ctx context.Context, cfg Config) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Addr,
		Port:   6334,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect qdrant: %v", mnemoerr.ErrStorage, err)
	}

	idx := &Index{client: client, collection: cfg.Collection, dimension: cfg.Dimension}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) ensureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("%w: check collection: %v", mnemoerr.ErrStorage, err)
	}
	if exists {
		return nil
	}
	err = i.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     i.dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", mnemoerr.ErrStorage, err)
	}
	return nil
}

// SaveEmbedding upserts one point keyed by a deterministic UUID derived from
// id, since Qdrant point ids must be UUIDs or unsigned integers.
func (i *Index) SaveEmbedding(ctx context.Context, id string, vector []float32, meta storage.EmbeddingMetadata) error {
	pointID := pointIDFor(id)
	payload := qdrant.NewValueMap(map[string]any{
		"source_id":  id,
		"session_id": meta.SessionID,
		"kind":       string(meta.Kind),
		"episode_id": meta.EpisodeID,
		"markers":    meta.Markers,
	})

	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(pointID),
				Vectors: qdrant.NewVectors(vector...),
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: upsert point: %v", mnemoerr.ErrStorage, err)
	}
	return nil
}

// VectorSearch queries the collection, translating storage.SearchFilter into
// Qdrant payload-field conditions.
func (i *Index) VectorSearch(ctx context.Context, vector []float32, k int, filter storage.SearchFilter) ([]storage.SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	limit := uint64(k)

	var must []*qdrant.Condition
	if filter.SessionID != "" {
		must = append(must, qdrant.NewMatch("session_id", filter.SessionID))
	}
	if filter.Kind != "" {
		must = append(must, qdrant.NewMatch("kind", string(filter.Kind)))
	}
	if filter.MarkersEmpty {
		must = append(must, qdrant.NewIsEmpty("markers"))
	}
	if filter.MarkersNonEmpty {
		must = append(must, qdrant.NewIsNotEmpty("markers"))
	}

	res, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query points: %v", mnemoerr.ErrStorage, err)
	}

	out := make([]storage.SearchResult, 0, len(res))
	for _, pt := range res {
		payload := pt.GetPayload()
		sourceID := stringField(payload, "source_id")
		out = append(out, storage.SearchResult{
			ID:    sourceID,
			Score: pt.GetScore(),
			Metadata: storage.EmbeddingMetadata{
				SessionID: stringField(payload, "session_id"),
				Kind:      storage.EmbeddingKind(stringField(payload, "kind")),
				EpisodeID: stringField(payload, "episode_id"),
				Markers:   stringListField(payload, "markers"),
			},
		})
	}
	return out, nil
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func stringListField(payload map[string]*qdrant.Value, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}

// pointIDFor derives a stable UUIDv5 from an opaque mnemo id so Qdrant's
// UUID-or-uint64 point id constraint never leaks into callers.
func pointIDFor(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}
