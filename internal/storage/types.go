// Package storage defines the value types and backend interface shared by
// every mnemo storage implementation (memory, postgres, qdrant).
package storage

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FactStatus is the lifecycle state of an L2 fact.
type FactStatus string

const (
	FactActive     FactStatus = "active"
	FactSuperseded FactStatus = "superseded"
)

// EpisodeStatus is the lifecycle state of an episode.
type EpisodeStatus string

const (
	EpisodeOpen   EpisodeStatus = "open"
	EpisodeClosed EpisodeStatus = "closed"
)

// EmbeddingKind distinguishes which entity an embedding belongs to.
type EmbeddingKind string

const (
	KindTurn EmbeddingKind = "turn"
	KindFact EmbeddingKind = "fact"
)

// Turn is an atomic message event ingested into a session.
type Turn struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	EpisodeID  string            `json:"episode_id"`
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	Markers    map[string]struct{} `json:"-"`
	MarkersRaw []string          `json:"markers"`
	TokenCount int               `json:"token_count"`
	CreatedAt  time.Time         `json:"created_at"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// SyncMarkers populates MarkersRaw from Markers for serialization, and is
// the inverse of PopulateMarkerSet. Call before persisting/emitting a Turn
// built with the Markers set populated directly.
func (t *Turn) SyncMarkers() {
	t.MarkersRaw = make([]string, 0, len(t.Markers))
	for m := range t.Markers {
		t.MarkersRaw = append(t.MarkersRaw, m)
	}
}

// PopulateMarkerSet rebuilds Markers from MarkersRaw, the inverse of
// SyncMarkers; used after unmarshaling from a backend.
func (t *Turn) PopulateMarkerSet() {
	t.Markers = make(map[string]struct{}, len(t.MarkersRaw))
	for _, m := range t.MarkersRaw {
		t.Markers[m] = struct{}{}
	}
}

// Episode is an ordered, time-bounded group of turns.
type Episode struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Status      EpisodeStatus `json:"status"`
	OpenedAt    time.Time     `json:"opened_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
	CloseReason string        `json:"close_reason,omitempty"`
	TurnCount   int           `json:"turn_count"`
	TurnIDs     []string      `json:"turn_ids"`
}

// Fact is a durable statement distilled from one or more closed episodes.
type Fact struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	SourceEpisodeIDs []string   `json:"source_episode_ids"`
	Content          string     `json:"content"`
	Markers          []string   `json:"markers"`
	Status           FactStatus `json:"status"`
	SupersededBy     string     `json:"superseded_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	SupersededAt     *time.Time `json:"superseded_at,omitempty"`
}

// EmbeddingMetadata describes the entity an embedding vector belongs to.
type EmbeddingMetadata struct {
	SessionID string        `json:"session_id"`
	Kind      EmbeddingKind `json:"kind"`
	EpisodeID string        `json:"episode_id,omitempty"`
	Markers   []string      `json:"markers,omitempty"`
}

// SearchResult is one row returned by VectorSearch, ordered by descending
// similarity.
type SearchResult struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Metadata EmbeddingMetadata `json:"metadata"`
}

// SearchFilter constrains VectorSearch to a subset of stored vectors.
// MarkersEmpty/MarkersNonEmpty are mutually exclusive; leave both false to
// skip filtering on marker presence.
type SearchFilter struct {
	SessionID       string
	Kind            EmbeddingKind
	MarkersEmpty    bool
	MarkersNonEmpty bool
}

// ContextItem is a single element of a recall result. It is emitted only,
// never persisted.
type ContextItem struct {
	Content    string   `json:"content"`
	Role       *Role    `json:"role,omitempty"`
	Markers    []string `json:"markers"`
	Score      float32  `json:"score"`
	TokenCount int      `json:"token_count"`
	SourceType string   `json:"source_type"` // "turn" or "fact"
	SourceID   string   `json:"source_id"`
}

// ReflectionMode distinguishes a reflection run with no prior facts from one
// consolidating against existing facts.
type ReflectionMode string

const (
	ModeInitial       ReflectionMode = "initial"
	ModeConsolidation ReflectionMode = "consolidation"
)

// ReflectionTrace records one reflection invocation for observability.
type ReflectionTrace struct {
	EpisodeID       string         `json:"episode_id"`
	Mode            ReflectionMode `json:"mode"`
	InputTurnCount  int            `json:"input_turn_count"`
	PriorFactIDs    []string       `json:"prior_fact_ids"`
	ScopedFactIDs   []string       `json:"scoped_fact_ids"`
	RawOutput       string         `json:"raw_output,omitempty"`
	SavedFactIDs    []string       `json:"saved_facts"`
	SupersededIDs   []string       `json:"superseded_facts"`
	SkippedActions  int            `json:"skipped_actions"`
	ElapsedMs       int64          `json:"elapsed_ms"`
	Err             string         `json:"error,omitempty"`
}

// SessionStats summarizes counts for a session.
type SessionStats struct {
	TurnCount          int `json:"turn_count"`
	OpenEpisodeCount   int `json:"open_episode_count"`
	ClosedEpisodeCount int `json:"closed_episode_count"`
	ActiveFactCount    int `json:"active_fact_count"`
	SupersededFactCount int `json:"superseded_fact_count"`
	TokensIngested     int `json:"tokens_ingested"`
	ReflectionsRun     int `json:"reflections_run"`
}
