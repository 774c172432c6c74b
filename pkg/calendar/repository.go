package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinsync/kinsync/internal/database"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	StoreEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	GetEventForUpdate(ctx context.Context, id uuid.UUID) (Event, error)
	UpdateEvent(ctx context.Context, event Event) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updatedAt time.Time) error
	// DeleteEvent removes the event. A schedule-derived event leaves an exclusion for its date behind.
	DeleteEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, userId int, from, to time.Time) ([]Event, error)
	GetSyncableEvents(ctx context.Context, userId int, endAfter time.Time) ([]Event, error)
	LiveEventIds(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	// StoreScheduleEvents inserts events skipping (schedule, date) pairs that exist or were excluded.
	StoreScheduleEvents(ctx context.Context, events []Event) ([]Event, error)
	DeleteScheduleEvents(ctx context.Context, scheduleId int) ([]Event, error)
	ParentIdsOfChildren(ctx context.Context, childIds []int) ([]int, error)
}

type RepositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db, tx: nil}
}

// getQueryer returns the appropriate database interface for queries (either tx or db)
func (r *RepositoryImpl) getQueryer() database.Queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *RepositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&RepositoryImpl{db: r.db, tx: tx})
	})
}

const eventColumns = `e.id, e.title, e.description, e.start_time, e.end_time, e.all_day, e.location, e.event_type,
       e.responsible_parent_id, e.created_by, e.status, e.color, e.notes, e.schedule_id, e.schedule_date,
       e.detached, e.source_calendar_id, e.created_at, e.updated_at,
       COALESCE((SELECT array_agg(ec.child_id ORDER BY ec.child_id) FROM calendar_event_child ec WHERE ec.event_id = e.id), '{}')`

func (r *RepositoryImpl) StoreEvent(ctx context.Context, event Event) error {
	return r.WithTransaction(ctx, func(repo Repository) error {
		q := repo.(*RepositoryImpl).getQueryer()
		query := `INSERT INTO calendar_event (
                            id, title, description, start_time, end_time, all_day, location, event_type,
                            responsible_parent_id, created_by, status, color, notes, schedule_id, schedule_date,
                            detached, source_calendar_id, created_at, updated_at
						) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
		_, err := q.Exec(ctx, query,
			event.Id, event.Title, event.Description, event.StartTime, event.EndTime, event.AllDay, event.Location,
			event.Type, event.ResponsibleParentId, event.CreatedBy, event.Status, event.Color, event.Notes,
			event.ScheduleId, event.ScheduleDate, event.Detached, event.SourceCalendarId, event.CreatedAt, event.UpdatedAt,
		)
		if err != nil {
			err := fmt.Errorf("could not insert calendar event: %w", err)
			log.Error(err)
			return err
		}
		return storeChildren(ctx, q, event.Id, event.ChildIds)
	})
}

func storeChildren(ctx context.Context, q database.Queryer, eventId uuid.UUID, childIds []int) error {
	for _, childId := range childIds {
		_, err := q.Exec(ctx, `INSERT INTO calendar_event_child (event_id, child_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, eventId, childId)
		if err != nil {
			return fmt.Errorf("could not link child %d to event %s: %w", childId, eventId, err)
		}
	}
	return nil
}

func (r *RepositoryImpl) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	query := `SELECT ` + eventColumns + `, FALSE FROM calendar_event e WHERE e.id = $1`
	event, err := scanEvent(r.getQueryer().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, fmt.Errorf("could not get event %s: %w", id, err)
	}
	return event, nil
}

// GetEventForUpdate locks the event row until the surrounding transaction ends.
func (r *RepositoryImpl) GetEventForUpdate(ctx context.Context, id uuid.UUID) (Event, error) {
	if r.tx == nil {
		return Event{}, errors.New("GetEventForUpdate requires a transaction")
	}
	var locked uuid.UUID
	err := r.tx.QueryRow(ctx, `SELECT id FROM calendar_event WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, fmt.Errorf("could not lock event %s: %w", id, err)
	}
	return r.GetEvent(ctx, id)
}

func (r *RepositoryImpl) UpdateEvent(ctx context.Context, event Event) error {
	return r.WithTransaction(ctx, func(repo Repository) error {
		q := repo.(*RepositoryImpl).getQueryer()
		query := `UPDATE calendar_event
				  SET title = $2, description = $3, start_time = $4, end_time = $5, all_day = $6, location = $7,
				      event_type = $8, responsible_parent_id = $9, color = $10, notes = $11, detached = $12, updated_at = $13
				  WHERE id = $1`
		tag, err := q.Exec(ctx, query,
			event.Id, event.Title, event.Description, event.StartTime, event.EndTime, event.AllDay, event.Location,
			event.Type, event.ResponsibleParentId, event.Color, event.Notes, event.Detached, event.UpdatedAt,
		)
		if err != nil {
			err := fmt.Errorf("could not update calendar event: %w", err)
			log.Error(err)
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrEventNotFound
		}
		if _, err := q.Exec(ctx, `DELETE FROM calendar_event_child WHERE event_id = $1`, event.Id); err != nil {
			return fmt.Errorf("could not clear event children: %w", err)
		}
		return storeChildren(ctx, q, event.Id, event.ChildIds)
	})
}

func (r *RepositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updatedAt time.Time) error {
	tag, err := r.getQueryer().Exec(ctx, `UPDATE calendar_event SET status = $2, updated_at = $3 WHERE id = $1`, id, status, updatedAt)
	if err != nil {
		return fmt.Errorf("could not update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *RepositoryImpl) DeleteEvent(ctx context.Context, event Event) error {
	return r.WithTransaction(ctx, func(repo Repository) error {
		q := repo.(*RepositoryImpl).getQueryer()
		if event.ScheduleId != nil && event.ScheduleDate != nil {
			_, err := q.Exec(ctx,
				`INSERT INTO custody_schedule_exclusion (schedule_id, exclusion_date) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				*event.ScheduleId, *event.ScheduleDate,
			)
			if err != nil {
				return fmt.Errorf("could not store schedule exclusion: %w", err)
			}
		}
		tag, err := q.Exec(ctx, `DELETE FROM calendar_event WHERE id = $1`, event.Id)
		if err != nil {
			err := fmt.Errorf("could not delete calendar event: %w", err)
			log.Error(err)
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrEventNotFound
		}
		return nil
	})
}

// visibleTo matches events the user created, is responsible for, or that involve one of their children.
const visibleTo = `(e.created_by = $1 OR e.responsible_parent_id = $1 OR EXISTS (
			SELECT 1 FROM calendar_event_child ec
			JOIN child_parent cp ON cp.child_id = ec.child_id
			WHERE ec.event_id = e.id AND cp.parent_id = $1))`

func (r *RepositoryImpl) GetEvents(ctx context.Context, userId int, from, to time.Time) ([]Event, error) {
	// Events overlapping [from, to). Zero-length events at from are included.
	query := `SELECT ` + eventColumns + `,
				EXISTS (SELECT 1 FROM event_sync_mapping m WHERE m.event_id = e.id AND m.user_id = $1 AND m.conflict)
			  FROM calendar_event e
			  WHERE ` + visibleTo + `
			    AND e.start_time < $3
			    AND (e.end_time > $2 OR e.start_time >= $2)
			  ORDER BY e.start_time, e.id`
	return r.queryEvents(ctx, query, userId, from, to)
}

func (r *RepositoryImpl) GetSyncableEvents(ctx context.Context, userId int, endAfter time.Time) ([]Event, error) {
	query := `SELECT ` + eventColumns + `, FALSE
			  FROM calendar_event e
			  WHERE ` + visibleTo + `
			    AND e.status <> 'rejected'
			    AND e.end_time > $2
			  ORDER BY e.start_time, e.id`
	return r.queryEvents(ctx, query, userId, endAfter)
}

func (r *RepositoryImpl) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := r.getQueryer().Query(ctx, query, args...)
	if err != nil {
		err := fmt.Errorf("could not query calendar events: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, 10)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			err := fmt.Errorf("could not scan row: %w", err)
			log.Error(err)
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *RepositoryImpl) LiveEventIds(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idStrings := make([]string, 0, len(ids))
	for _, id := range ids {
		idStrings = append(idStrings, id.String())
	}
	rows, err := r.getQueryer().Query(ctx,
		`SELECT id FROM calendar_event WHERE id = ANY($1::uuid[]) AND status <> 'rejected'`, idStrings)
	if err != nil {
		return nil, fmt.Errorf("could not query live events: %w", err)
	}
	defer rows.Close()

	live := make([]uuid.UUID, 0, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		live = append(live, id)
	}
	return live, rows.Err()
}

func (r *RepositoryImpl) StoreScheduleEvents(ctx context.Context, events []Event) ([]Event, error) {
	stored := make([]Event, 0, len(events))
	err := r.WithTransaction(ctx, func(repo Repository) error {
		q := repo.(*RepositoryImpl).getQueryer()
		query := `INSERT INTO calendar_event (
                            id, title, description, start_time, end_time, all_day, location, event_type,
                            responsible_parent_id, created_by, status, color, notes, schedule_id, schedule_date,
                            detached, source_calendar_id, created_at, updated_at)
				  SELECT $1::uuid, $2::text, $3::text, $4::timestamptz, $5::timestamptz, $6::boolean, $7::text, $8::text,
				         $9::int, $10::int, $11::text, $12::text, $13::text, $14::int, $15::date,
				         FALSE, '', $16::timestamptz, $16::timestamptz
				  WHERE NOT EXISTS (SELECT 1 FROM custody_schedule_exclusion x
				                    WHERE x.schedule_id = $14::int AND x.exclusion_date = $15::date)
				  ON CONFLICT (schedule_id, schedule_date) DO NOTHING
				  RETURNING id`
		for _, event := range events {
			var id uuid.UUID
			err := q.QueryRow(ctx, query,
				event.Id, event.Title, event.Description, event.StartTime, event.EndTime, event.AllDay, event.Location,
				event.Type, event.ResponsibleParentId, event.CreatedBy, event.Status, event.Color, event.Notes,
				event.ScheduleId, event.ScheduleDate, event.CreatedAt,
			).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("could not insert schedule event: %w", err)
			}
			if err := storeChildren(ctx, q, event.Id, event.ChildIds); err != nil {
				return err
			}
			stored = append(stored, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *RepositoryImpl) DeleteScheduleEvents(ctx context.Context, scheduleId int) ([]Event, error) {
	var deleted []Event
	err := r.WithTransaction(ctx, func(repo Repository) error {
		txRepo := repo.(*RepositoryImpl)
		query := `SELECT ` + eventColumns + `, FALSE
				  FROM calendar_event e
				  WHERE e.schedule_id = $1 AND NOT e.detached
				  FOR UPDATE OF e`
		events, err := txRepo.queryEvents(ctx, query, scheduleId)
		if err != nil {
			return err
		}
		_, err = txRepo.getQueryer().Exec(ctx, `DELETE FROM calendar_event WHERE schedule_id = $1 AND NOT detached`, scheduleId)
		if err != nil {
			return fmt.Errorf("could not delete schedule events: %w", err)
		}
		deleted = events
		return nil
	})
	return deleted, err
}

func (r *RepositoryImpl) ParentIdsOfChildren(ctx context.Context, childIds []int) ([]int, error) {
	if len(childIds) == 0 {
		return nil, nil
	}
	rows, err := r.getQueryer().Query(ctx,
		`SELECT DISTINCT parent_id FROM child_parent WHERE child_id = ANY($1) ORDER BY parent_id`, childIds)
	if err != nil {
		return nil, fmt.Errorf("could not query child parents: %w", err)
	}
	defer rows.Close()

	parentIds := make([]int, 0, 2)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		parentIds = append(parentIds, id)
	}
	return parentIds, rows.Err()
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	var eventType, status string
	err := row.Scan(
		&e.Id, &e.Title, &e.Description, &e.StartTime, &e.EndTime, &e.AllDay, &e.Location, &eventType,
		&e.ResponsibleParentId, &e.CreatedBy, &status, &e.Color, &e.Notes, &e.ScheduleId, &e.ScheduleDate,
		&e.Detached, &e.SourceCalendarId, &e.CreatedAt, &e.UpdatedAt, &e.ChildIds, &e.OutOfSync,
	)
	if err != nil {
		return Event{}, err
	}
	e.Type = EventType(eventType)
	e.Status = Status(status)
	e.StartTime = e.StartTime.UTC()
	e.EndTime = e.EndTime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}
