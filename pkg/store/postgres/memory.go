package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

const memoryColumns = "memory_id, session_id, user_id, kind, text, embedding, importance, ttl_days, external_ref, created_at"

// notExpired filters out memories whose TTL has elapsed; purging stays lazy.
const notExpired = "(ttl_days IS NULL OR created_at + make_interval(days => ttl_days) > now())"

func scanMemory(row pgx.Row) (models.Memory, error) {
	var (
		m   models.Memory
		emb *pgvector.Vector
		raw []byte
	)
	if err := row.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Kind, &m.Text, &emb,
		&m.Importance, &m.TTLDays, &raw, &m.CreatedAt); err != nil {
		return models.Memory{}, mapError(err)
	}
	if emb != nil {
		m.Embedding = emb.Slice()
	}
	ref, err := unmarshalRef(raw)
	if err != nil {
		return models.Memory{}, err
	}
	m.ExternalRef = ref
	return m, nil
}

func embeddingParam(vec []float32) *pgvector.Vector {
	if len(vec) == 0 {
		return nil
	}
	v := pgvector.NewVector(vec)
	return &v
}

func (s *Store) InsertMemory(ctx context.Context, m models.Memory) (models.Memory, error) {
	if err := m.Validate(); err != nil {
		return models.Memory{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	raw, err := marshalRef(m.ExternalRef)
	if err != nil {
		return models.Memory{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO app.memories (session_id, user_id, kind, text, embedding, importance, ttl_days, external_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING memory_id, created_at`,
		m.SessionID, m.UserID, m.Kind, m.Text, embeddingParam(m.Embedding), m.Importance, m.TTLDays, raw)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return models.Memory{}, fmt.Errorf("failed to insert memory: %w", mapError(err))
	}
	return m, nil
}

func (s *Store) MemoryByExactText(ctx context.Context, sessionID uuid.UUID, text string) (models.Memory, error) {
	return scanMemory(s.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM app.memories WHERE session_id = $1 AND text = $2 LIMIT 1`,
		sessionID, text))
}

func (s *Store) MemoryByID(ctx context.Context, id int64) (models.Memory, error) {
	return scanMemory(s.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM app.memories WHERE memory_id = $1`, id))
}

func (s *Store) UpdateMemoryImportance(ctx context.Context, id int64, importance float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE app.memories SET importance = $2 WHERE memory_id = $1`, id, importance)
	if err != nil {
		return fmt.Errorf("failed to update memory importance: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// NearestMemories delegates ranking to the pgvector cosine index. Similarity
// is 1 - cosine distance.
func (s *Store) NearestMemories(ctx context.Context, userID string, vec []float32, limit int) ([]store.ScoredMemory, error) {
	qv := pgvector.NewVector(vec)
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+`, 1 - (embedding <=> $2) AS similarity
		 FROM app.memories
		 WHERE user_id = $1 AND embedding IS NOT NULL AND `+notExpired+`
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		userID, qv, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest memories: %w", mapError(err))
	}
	defer rows.Close()

	var results []store.ScoredMemory
	for rows.Next() {
		var (
			m   models.Memory
			emb *pgvector.Vector
			raw []byte
			sim float64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Kind, &m.Text, &emb,
			&m.Importance, &m.TTLDays, &raw, &m.CreatedAt, &sim); err != nil {
			return nil, mapError(err)
		}
		if emb != nil {
			m.Embedding = emb.Slice()
		}
		ref, err := unmarshalRef(raw)
		if err != nil {
			return nil, err
		}
		m.ExternalRef = ref
		results = append(results, store.ScoredMemory{Memory: m, Similarity: sim})
	}
	return results, rows.Err()
}

func (s *Store) MemoriesByUser(ctx context.Context, userID string, limit int) ([]models.Memory, error) {
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM app.memories
		 WHERE user_id = $1 AND `+notExpired+`
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

func (s *Store) MemoriesBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Memory, error) {
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM app.memories WHERE session_id = $1 ORDER BY memory_id`, sessionID)
}

func (s *Store) RecentMemories(ctx context.Context, userID string, since time.Time) ([]models.Memory, error) {
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM app.memories
		 WHERE user_id = $1 AND created_at >= $2 AND `+notExpired+`
		 ORDER BY created_at`, userID, since)
}

func (s *Store) SemanticMemoriesContaining(ctx context.Context, substr string) ([]models.Memory, error) {
	return s.queryMemories(ctx,
		`SELECT `+memoryColumns+` FROM app.memories
		 WHERE kind = 'semantic' AND text ILIKE '%' || $1 || '%'
		 ORDER BY memory_id`, substr)
}

func (s *Store) AliasByText(ctx context.Context, userID, aliasText string) (models.Memory, error) {
	return scanMemory(s.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM app.memories
		 WHERE kind = 'semantic'
		   AND external_ref->>'type' = $1
		   AND external_ref->>'user_id' = $2
		   AND external_ref->>'alias_text' = lower($3)
		 LIMIT 1`,
		models.RefAliasMapping, userID, aliasText))
}

func (s *Store) TranslationByForeign(ctx context.Context, userID, foreignText string) (models.Memory, error) {
	return scanMemory(s.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM app.memories
		 WHERE kind = 'semantic'
		   AND external_ref->>'type' = $1
		   AND external_ref->>'user_id' = $2
		   AND external_ref->>'foreign_text' = lower($3)
		 LIMIT 1`,
		models.RefMultilingualMapping, userID, foreignText))
}

func (s *Store) queryMemories(ctx context.Context, sql string, args ...any) ([]models.Memory, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", mapError(err))
	}
	defer rows.Close()

	var memories []models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
