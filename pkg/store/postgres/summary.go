package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/threadline-ai/mnemos/pkg/models"
)

func (s *Store) SummariesByUser(ctx context.Context, userID string) ([]models.MemorySummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT summary_id, user_id, session_window, summary, embedding, created_at
		 FROM app.memory_summaries WHERE user_id = $1 ORDER BY session_window`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", mapError(err))
	}
	defer rows.Close()

	var summaries []models.MemorySummary
	for rows.Next() {
		var (
			sum models.MemorySummary
			emb *pgvector.Vector
		)
		if err := rows.Scan(&sum.ID, &sum.UserID, &sum.SessionWindow, &sum.Summary, &emb, &sum.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		if emb != nil {
			sum.Embedding = emb.Slice()
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// UpsertSummary inserts or replaces the (user_id, session_window) summary.
func (s *Store) UpsertSummary(ctx context.Context, sum models.MemorySummary) (models.MemorySummary, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO app.memory_summaries (user_id, session_window, summary, embedding)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, session_window)
		 DO UPDATE SET summary = EXCLUDED.summary, embedding = EXCLUDED.embedding, created_at = now()
		 RETURNING summary_id, created_at`,
		sum.UserID, sum.SessionWindow, sum.Summary, embeddingParam(sum.Embedding))
	if err := row.Scan(&sum.ID, &sum.CreatedAt); err != nil {
		return models.MemorySummary{}, fmt.Errorf("failed to upsert summary: %w", mapError(err))
	}
	return sum, nil
}
