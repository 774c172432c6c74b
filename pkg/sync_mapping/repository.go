package sync_mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	GetByEventId(ctx context.Context, userId int, calendarId string, eventId uuid.UUID) (Mapping, error)
	GetByExternalId(ctx context.Context, userId int, calendarId, externalEventId string) (Mapping, error)
	ListForCalendar(ctx context.Context, userId int, calendarId string) ([]Mapping, error)
	// Upsert stores the mapping keyed by (user, calendar, event) and returns it with its id.
	Upsert(ctx context.Context, mapping Mapping) (Mapping, error)
	Delete(ctx context.Context, id int) error
	CountForUser(ctx context.Context, userId int) (int, error)
}

type RepositoryImpl struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

const mappingColumns = `id, user_id, event_id, calendar_id, external_event_id, last_synced, etag, conflict`

func scanMapping(row pgx.Row) (Mapping, error) {
	var m Mapping
	err := row.Scan(&m.Id, &m.UserId, &m.EventId, &m.CalendarId, &m.ExternalEventId, &m.LastSynced, &m.Etag, &m.Conflict)
	if err != nil {
		return Mapping{}, err
	}
	m.LastSynced = m.LastSynced.UTC()
	return m, nil
}

func (r *RepositoryImpl) getOne(ctx context.Context, query string, args ...any) (Mapping, error) {
	m, err := scanMapping(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Mapping{}, ErrMappingNotFound
		}
		return Mapping{}, fmt.Errorf("could not get sync mapping: %w", err)
	}
	return m, nil
}

func (r *RepositoryImpl) GetByEventId(ctx context.Context, userId int, calendarId string, eventId uuid.UUID) (Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM event_sync_mapping
			  WHERE user_id = $1 AND calendar_id = $2 AND event_id = $3`
	return r.getOne(ctx, query, userId, calendarId, eventId)
}

func (r *RepositoryImpl) GetByExternalId(ctx context.Context, userId int, calendarId, externalEventId string) (Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM event_sync_mapping
			  WHERE user_id = $1 AND calendar_id = $2 AND external_event_id = $3`
	return r.getOne(ctx, query, userId, calendarId, externalEventId)
}

func (r *RepositoryImpl) ListForCalendar(ctx context.Context, userId int, calendarId string) ([]Mapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM event_sync_mapping
			  WHERE user_id = $1 AND calendar_id = $2
			  ORDER BY id`
	rows, err := r.db.Query(ctx, query, userId, calendarId)
	if err != nil {
		return nil, fmt.Errorf("could not list sync mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]Mapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("could not read sync mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (r *RepositoryImpl) Upsert(ctx context.Context, mapping Mapping) (Mapping, error) {
	query := `INSERT INTO event_sync_mapping (user_id, event_id, calendar_id, external_event_id, last_synced, etag, conflict)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (user_id, calendar_id, event_id) DO UPDATE
			  SET external_event_id = EXCLUDED.external_event_id,
			      last_synced = EXCLUDED.last_synced,
			      etag = EXCLUDED.etag,
			      conflict = EXCLUDED.conflict
			  RETURNING id`
	err := r.db.QueryRow(ctx, query, mapping.UserId, mapping.EventId, mapping.CalendarId, mapping.ExternalEventId,
		mapping.LastSynced, mapping.Etag, mapping.Conflict).Scan(&mapping.Id)
	if err != nil {
		err := fmt.Errorf("could not store sync mapping of event %s: %w", mapping.EventId, err)
		log.Error(err)
		return Mapping{}, err
	}
	return mapping, nil
}

func (r *RepositoryImpl) Delete(ctx context.Context, id int) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM event_sync_mapping WHERE id = $1`, id); err != nil {
		return fmt.Errorf("could not delete sync mapping %d: %w", id, err)
	}
	return nil
}

func (r *RepositoryImpl) CountForUser(ctx context.Context, userId int) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM event_sync_mapping WHERE user_id = $1`, userId).Scan(&count); err != nil {
		return 0, fmt.Errorf("could not count sync mappings: %w", err)
	}
	return count, nil
}
