// Package postgres implements storage.Backend on top of a pgx/v5 connection
// pool, grounded on the teacher's postgres_vector.go/chat_store_postgres.go
// pool usage and parameterized SQL, with golang-migrate driving schema
// migrations instead of ad hoc CREATE TABLE IF NOT EXISTS calls.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// Backend is a Postgres-backed storage.Backend. Vector columns are stored
// as float4[] and scored application-side via ORDER BY computed in SQL is
// avoided in favor of fetching candidates and scoring in Go, keeping the
// schema portable across pgvector-less deployments.
type Backend struct {
	pool *pgxpool.Pool
}

// New wraps an already-opened pool. Callers are expected to have run
// migrations via Migrate before passing the pool in.
func New(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Open opens a pgx pool against dsn using the standard defaults, grounded on
// the teacher's OpenPool helper.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %v", mnemoerr.ErrStorage, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open pool: %v", mnemoerr.ErrStorage, err)
	}
	return pool, nil
}

func (b *Backend) Initialize(ctx context.Context) error {
	return Migrate(ctx, b.pool)
}

func (b *Backend) Close(ctx context.Context) error {
	b.pool.Close()
	return nil
}

func (b *Backend) SaveTurn(ctx context.Context, t storage.Turn) error {
	t.SyncMarkers()
	_, err := b.pool.Exec(ctx, `
		INSERT INTO turns (id, session_id, episode_id, role, content, markers, token_count, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			episode_id = EXCLUDED.episode_id,
			markers = EXCLUDED.markers,
			token_count = EXCLUDED.token_count,
			metadata = EXCLUDED.metadata
	`, t.ID, t.SessionID, t.EpisodeID, string(t.Role), t.Content, t.MarkersRaw, t.TokenCount, t.CreatedAt, metaJSON(t.Metadata))
	if err != nil {
		return fmt.Errorf("%w: save turn: %v", mnemoerr.ErrStorage, err)
	}
	return nil
}

func (b *Backend) GetTurn(ctx context.Context, id string) (storage.Turn, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT id, session_id, episode_id, role, content, markers, token_count, created_at
		FROM turns WHERE id = $1
	`, id)
	var t storage.Turn
	var role string
	if err := row.Scan(&t.ID, &t.SessionID, &t.EpisodeID, &role, &t.Content, &t.MarkersRaw, &t.TokenCount, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return storage.Turn{}, fmt.Errorf("%w: turn %s", mnemoerr.ErrStorage, id)
		}
		return storage.Turn{}, fmt.Errorf("%w: get turn: %v", mnemoerr.ErrStorage, err)
	}
	t.Role = storage.Role(role)
	t.PopulateMarkerSet()
	return t, nil
}

func (b *Backend) GetTurnsByEpisode(ctx context.Context, episodeID string) ([]storage.Turn, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, session_id, episode_id, role, content, markers, token_count, created_at
		FROM turns WHERE episode_id = $1 ORDER BY created_at ASC
	`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: list turns: %v", mnemoerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []storage.Turn
	for rows.Next() {
		var t storage.Turn
		var role string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.EpisodeID, &role, &t.Content, &t.MarkersRaw, &t.TokenCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %v", mnemoerr.ErrStorage, err)
		}
		t.Role = storage.Role(role)
		t.PopulateMarkerSet()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (b *Backend) SaveEpisode(ctx context.Context, ep storage.Episode) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO episodes (id, session_id, status, opened_at, closed_at, close_reason, turn_count, turn_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			closed_at = EXCLUDED.closed_at,
			close_reason = EXCLUDED.close_reason,
			turn_count = EXCLUDED.turn_count,
			turn_ids = EXCLUDED.turn_ids
	`, ep.ID, ep.SessionID, string(ep.Status), ep.OpenedAt, ep.ClosedAt, ep.CloseReason, ep.TurnCount, ep.TurnIDs)
	if err != nil {
		return fmt.Errorf("%w: save episode: %v", mnemoerr.ErrStorage, err)
	}
	return nil
}

func (b *Backend) GetEpisode(ctx context.Context, id string) (storage.Episode, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT id, session_id, status, opened_at, closed_at, close_reason, turn_count, turn_ids
		FROM episodes WHERE id = $1
	`, id)
	var ep storage.Episode
	var status string
	if err := row.Scan(&ep.ID, &ep.SessionID, &status, &ep.OpenedAt, &ep.ClosedAt, &ep.CloseReason, &ep.TurnCount, &ep.TurnIDs); err != nil {
		if err == pgx.ErrNoRows {
			return storage.Episode{}, fmt.Errorf("%w: episode %s", mnemoerr.ErrEpisodeNotFound, id)
		}
		return storage.Episode{}, fmt.Errorf("%w: get episode: %v", mnemoerr.ErrStorage, err)
	}
	ep.Status = storage.EpisodeStatus(status)
	return ep, nil
}

func (b *Backend) GetEpisodes(ctx context.Context, sessionID string, status *storage.EpisodeStatus, limit int) ([]storage.Episode, error) {
	query := `SELECT id, session_id, status, opened_at, closed_at, close_reason, turn_count, turn_ids
		FROM episodes WHERE session_id = $1`
	args := []any{sessionID}
	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(*status))
	}
	query += " ORDER BY opened_at ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list episodes: %v", mnemoerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []storage.Episode
	for rows.Next() {
		var ep storage.Episode
		var s string
		if err := rows.Scan(&ep.ID, &ep.SessionID, &s, &ep.OpenedAt, &ep.ClosedAt, &ep.CloseReason, &ep.TurnCount, &ep.TurnIDs); err != nil {
			return nil, fmt.Errorf("%w: scan episode: %v", mnemoerr.ErrStorage, err)
		}
		ep.Status = storage.EpisodeStatus(s)
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (b *Backend) SaveFact(ctx context.Context, f storage.Fact) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO facts (id, session_id, source_episode_ids, content, markers, status, superseded_by, created_at, superseded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			superseded_by = EXCLUDED.superseded_by,
			superseded_at = EXCLUDED.superseded_at
	`, f.ID, f.SessionID, f.SourceEpisodeIDs, f.Content, f.Markers, string(f.Status), nullString(f.SupersededBy), f.CreatedAt, f.SupersededAt)
	if err != nil {
		return fmt.Errorf("%w: save fact: %v", mnemoerr.ErrStorage, err)
	}
	return nil
}

// UpdateFactSupersession performs the compare-and-set required by the
// shared-resource policy: only a row whose status is still 'active' is
// transitioned, so a racing reflection on another session sharing this
// store can never clobber an already-superseded fact.
func (b *Backend) UpdateFactSupersession(ctx context.Context, targetID string, supersededBy string, supersededAt time.Time) error {
	tag, err := b.pool.Exec(ctx, `
		UPDATE facts SET status = 'superseded', superseded_by = $2, superseded_at = $3
		WHERE id = $1 AND status = 'active'
	`, targetID, nullString(supersededBy), supersededAt)
	if err != nil {
		return fmt.Errorf("%w: supersede fact: %v", mnemoerr.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already superseded; callers treat both as a
		// benign no-op per spec's "reject the update... no-op + log".
		return nil
	}
	return nil
}

func (b *Backend) GetFact(ctx context.Context, id string) (storage.Fact, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT id, session_id, source_episode_ids, content, markers, status, superseded_by, created_at, superseded_at
		FROM facts WHERE id = $1
	`, id)
	var f storage.Fact
	var status string
	var supersededBy *string
	if err := row.Scan(&f.ID, &f.SessionID, &f.SourceEpisodeIDs, &f.Content, &f.Markers, &status, &supersededBy, &f.CreatedAt, &f.SupersededAt); err != nil {
		if err == pgx.ErrNoRows {
			return storage.Fact{}, fmt.Errorf("%w: fact %s", mnemoerr.ErrFactNotFound, id)
		}
		return storage.Fact{}, fmt.Errorf("%w: get fact: %v", mnemoerr.ErrStorage, err)
	}
	f.Status = storage.FactStatus(status)
	if supersededBy != nil {
		f.SupersededBy = *supersededBy
	}
	return f, nil
}

func (b *Backend) GetFactsBySession(ctx context.Context, sessionID string, status *storage.FactStatus) ([]storage.Fact, error) {
	query := `SELECT id, session_id, source_episode_ids, content, markers, status, superseded_by, created_at, superseded_at
		FROM facts WHERE session_id = $1`
	args := []any{sessionID}
	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at ASC"

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list facts: %v", mnemoerr.ErrStorage, err)
	}
	defer rows.Close()

	var out []storage.Fact
	for rows.Next() {
		var f storage.Fact
		var s string
		var supersededBy *string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.SourceEpisodeIDs, &f.Content, &f.Markers, &s, &supersededBy, &f.CreatedAt, &f.SupersededAt); err != nil {
			return nil, fmt.Errorf("%w: scan fact: %v", mnemoerr.ErrStorage, err)
		}
		f.Status = storage.FactStatus(s)
		if supersededBy != nil {
			f.SupersededBy = *supersededBy
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (b *Backend) SaveEmbedding(ctx context.Context, id string, vector []float32, meta storage.EmbeddingMetadata) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO embeddings (id, vector, session_id, kind, episode_id, markers)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			vector = EXCLUDED.vector,
			session_id = EXCLUDED.session_id,
			kind = EXCLUDED.kind,
			episode_id = EXCLUDED.episode_id,
			markers = EXCLUDED.markers
	`, id, vector, meta.SessionID, string(meta.Kind), meta.EpisodeID, meta.Markers)
	if err != nil {
		return fmt.Errorf("%w: save embedding: %v", mnemoerr.ErrStorage, err)
	}
	return nil
}

// VectorSearch fetches the scoped candidate set and ranks it in Go. This
// keeps the backend usable without the pgvector extension; deployments that
// have it can swap the WHERE/ORDER BY for a native <-> operator later
// without changing the Backend interface.
func (b *Backend) VectorSearch(ctx context.Context, vector []float32, k int, filter storage.SearchFilter) ([]storage.SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	query := `SELECT id, vector, session_id, kind, episode_id, markers FROM embeddings WHERE 1=1`
	args := []any{}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.MarkersEmpty {
		query += " AND (markers IS NULL OR array_length(markers, 1) IS NULL)"
	}
	if filter.MarkersNonEmpty {
		query += " AND markers IS NOT NULL AND array_length(markers, 1) > 0"
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", mnemoerr.ErrStorage, err)
	}
	defer rows.Close()

	var results []storage.SearchResult
	qnorm := l2norm(vector)
	for rows.Next() {
		var id, sessionID, kind, episodeID string
		var v []float32
		var markers []string
		if err := rows.Scan(&id, &v, &sessionID, &kind, &episodeID, &markers); err != nil {
			return nil, fmt.Errorf("%w: scan embedding: %v", mnemoerr.ErrStorage, err)
		}
		score := cosine(vector, v, qnorm)
		results = append(results, storage.SearchResult{
			ID:    id,
			Score: score,
			Metadata: storage.EmbeddingMetadata{
				SessionID: sessionID,
				Kind:      storage.EmbeddingKind(kind),
				EpisodeID: episodeID,
				Markers:   markers,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: vector search rows: %v", mnemoerr.ErrStorage, err)
	}

	sortResultsDesc(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func metaJSON(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	b, err := jsonMarshal(m)
	if err != nil {
		return nil
	}
	return json.RawMessage(b)
}
