package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

func (s *Store) AppendChatEvent(ctx context.Context, e models.ChatEvent) (models.ChatEvent, error) {
	if err := e.Validate(); err != nil {
		return models.ChatEvent{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO app.chat_events (session_id, role, content)
		 VALUES ($1, $2, $3)
		 RETURNING event_id, created_at`,
		e.SessionID, e.Role, e.Content)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return models.ChatEvent{}, fmt.Errorf("failed to append chat event: %w", mapError(err))
	}
	return e, nil
}

// RecentChatEvents returns the newest limit events, oldest first.
func (s *Store) RecentChatEvents(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, session_id, role, content, created_at FROM (
		     SELECT event_id, session_id, role, content, created_at
		     FROM app.chat_events
		     WHERE session_id = $1
		     ORDER BY event_id DESC
		     LIMIT $2
		 ) newest ORDER BY event_id`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat events: %w", mapError(err))
	}
	defer rows.Close()

	var events []models.ChatEvent
	for rows.Next() {
		var e models.ChatEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
