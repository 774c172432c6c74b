package custody

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinsync/kinsync/internal/database"
	log "github.com/sirupsen/logrus"
)

var ErrScheduleNotFound = errors.New("custody schedule not found")

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	StoreSchedule(ctx context.Context, schedule Schedule) (int, error)
	GetSchedule(ctx context.Context, id int) (Schedule, error)
	GetScheduleForUpdate(ctx context.Context, id int) (Schedule, error)
	// ListSchedules returns schedules the user is a parent of.
	ListSchedules(ctx context.Context, userId int) ([]Schedule, error)
	// ListEffectiveSchedules returns active approved schedules of the user overlapping [from, to].
	ListEffectiveSchedules(ctx context.Context, userId int, from, to time.Time) ([]Schedule, error)
	UpdateStatus(ctx context.Context, id int, status Status) error
	DeleteSchedule(ctx context.Context, id int) error
}

type RepositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

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

func (r *RepositoryImpl) StoreSchedule(ctx context.Context, schedule Schedule) (int, error) {
	pattern, err := EncodePattern(schedule.Pattern)
	if err != nil {
		return 0, fmt.Errorf("could not encode pattern: %w", err)
	}

	var id int
	err = r.WithTransaction(ctx, func(repo Repository) error {
		q := repo.(*RepositoryImpl).getQueryer()
		query := `INSERT INTO custody_schedule (title, description, start_date, end_date, schedule_type, pattern, active, status, created_by, created_at)
				  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
		err := q.QueryRow(ctx, query,
			schedule.Title, schedule.Description, schedule.StartDate, schedule.EndDate, schedule.Type(),
			pattern, schedule.Active, schedule.Status, schedule.CreatedBy, schedule.CreatedAt,
		).Scan(&id)
		if err != nil {
			err := fmt.Errorf("could not insert custody schedule: %w", err)
			log.Error(err)
			return err
		}
		for _, parentId := range schedule.ParentIds {
			if _, err := q.Exec(ctx, `INSERT INTO custody_schedule_parent (schedule_id, parent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, parentId); err != nil {
				return fmt.Errorf("could not link parent %d: %w", parentId, err)
			}
		}
		for _, childId := range schedule.ChildIds {
			if _, err := q.Exec(ctx, `INSERT INTO custody_schedule_child (schedule_id, child_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, childId); err != nil {
				return fmt.Errorf("could not link child %d: %w", childId, err)
			}
		}
		return nil
	})
	return id, err
}

const scheduleColumns = `s.id, s.title, s.description, s.start_date, s.end_date, s.schedule_type, s.pattern, s.active, s.status,
       s.created_by, s.created_at,
       COALESCE((SELECT array_agg(sp.parent_id ORDER BY sp.parent_id) FROM custody_schedule_parent sp WHERE sp.schedule_id = s.id), '{}'),
       COALESCE((SELECT array_agg(sc.child_id ORDER BY sc.child_id) FROM custody_schedule_child sc WHERE sc.schedule_id = s.id), '{}'),
       COALESCE((SELECT array_agg(x.exclusion_date ORDER BY x.exclusion_date) FROM custody_schedule_exclusion x WHERE x.schedule_id = s.id), '{}')`

func (r *RepositoryImpl) GetSchedule(ctx context.Context, id int) (Schedule, error) {
	schedule, err := scanSchedule(r.getQueryer().QueryRow(ctx, `SELECT `+scheduleColumns+` FROM custody_schedule s WHERE s.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Schedule{}, ErrScheduleNotFound
		}
		return Schedule{}, fmt.Errorf("could not get custody schedule %d: %w", id, err)
	}
	return schedule, nil
}

func (r *RepositoryImpl) GetScheduleForUpdate(ctx context.Context, id int) (Schedule, error) {
	if r.tx == nil {
		return Schedule{}, errors.New("GetScheduleForUpdate requires a transaction")
	}
	var locked int
	if err := r.tx.QueryRow(ctx, `SELECT id FROM custody_schedule WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Schedule{}, ErrScheduleNotFound
		}
		return Schedule{}, fmt.Errorf("could not lock custody schedule %d: %w", id, err)
	}
	return r.GetSchedule(ctx, id)
}

func (r *RepositoryImpl) ListSchedules(ctx context.Context, userId int) ([]Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
			  FROM custody_schedule s
			  WHERE EXISTS (SELECT 1 FROM custody_schedule_parent sp WHERE sp.schedule_id = s.id AND sp.parent_id = $1)
			  ORDER BY s.start_date, s.id`
	return r.querySchedules(ctx, query, userId)
}

func (r *RepositoryImpl) ListEffectiveSchedules(ctx context.Context, userId int, from, to time.Time) ([]Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
			  FROM custody_schedule s
			  WHERE EXISTS (SELECT 1 FROM custody_schedule_parent sp WHERE sp.schedule_id = s.id AND sp.parent_id = $1)
			    AND s.active
			    AND s.status = 'approved'
			    AND s.start_date <= $3
			    AND (s.end_date IS NULL OR s.end_date >= $2)
			  ORDER BY s.id`
	return r.querySchedules(ctx, query, userId, from, to)
}

func (r *RepositoryImpl) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.getQueryer().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query custody schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]Schedule, 0)
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			err := fmt.Errorf("could not scan custody schedule: %w", err)
			log.Error(err)
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

func (r *RepositoryImpl) UpdateStatus(ctx context.Context, id int, status Status) error {
	tag, err := r.getQueryer().Exec(ctx, `UPDATE custody_schedule SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("could not update custody schedule status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *RepositoryImpl) DeleteSchedule(ctx context.Context, id int) error {
	tag, err := r.getQueryer().Exec(ctx, `DELETE FROM custody_schedule WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("could not delete custody schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (Schedule, error) {
	var s Schedule
	var patternType, status string
	var pattern []byte
	err := row.Scan(
		&s.Id, &s.Title, &s.Description, &s.StartDate, &s.EndDate, &patternType, &pattern, &s.Active, &status,
		&s.CreatedBy, &s.CreatedAt, &s.ParentIds, &s.ChildIds, &s.Exclusions,
	)
	if err != nil {
		return Schedule{}, err
	}
	s.Status = Status(status)
	s.Pattern, err = ParsePattern(PatternType(patternType), pattern)
	if err != nil {
		return Schedule{}, fmt.Errorf("stored pattern of schedule %d: %w", s.Id, err)
	}
	return s, nil
}
