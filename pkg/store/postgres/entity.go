package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

func (s *Store) InsertEntities(ctx context.Context, entities []models.Entity) ([]models.Entity, error) {
	out := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		raw, err := marshalRef(e.ExternalRef)
		if err != nil {
			return nil, err
		}
		row := s.pool.QueryRow(ctx,
			`INSERT INTO app.entities (session_id, name, type, source, external_ref)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING entity_id, created_at`,
			e.SessionID, e.Name, e.Type, e.Source, raw)
		if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to insert entity: %w", mapError(err))
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) EntitiesBySession(ctx context.Context, sessionID uuid.UUID, filter store.EntityFilter) ([]models.Entity, error) {
	sql := `SELECT entity_id, session_id, name, type, source, external_ref, created_at
	        FROM app.entities WHERE session_id = $1`
	args := []any{sessionID}
	if filter.Type != "" {
		args = append(args, filter.Type)
		sql += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		sql += fmt.Sprintf(" AND source = $%d", len(args))
	}
	sql += " ORDER BY entity_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", mapError(err))
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		var (
			e   models.Entity
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Name, &e.Type, &e.Source, &raw, &e.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		ref, err := unmarshalRef(raw)
		if err != nil {
			return nil, err
		}
		e.ExternalRef = ref
		entities = append(entities, e)
	}
	return entities, rows.Err()
}
