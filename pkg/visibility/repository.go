package visibility

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinsync/kinsync/internal/database"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	ListSelections(ctx context.Context, userId int) ([]Selection, error)
	// SaveSelections upserts the given selections, others are left unchanged.
	SaveSelections(ctx context.Context, userId int, selections []Selection) error
}

type RepositoryImpl struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) ListSelections(ctx context.Context, userId int) ([]Selection, error) {
	query := `SELECT user_id, calendar_id, selected, color FROM calendar_selection
			  WHERE user_id = $1 ORDER BY calendar_id`
	rows, err := r.db.Query(ctx, query, userId)
	if err != nil {
		log.Errorf("failed to list calendar selections: %v", err)
		return nil, fmt.Errorf("could not list calendar selections: %w", err)
	}
	selections, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Selection, error) {
		var s Selection
		err := row.Scan(&s.UserId, &s.CalendarId, &s.Selected, &s.Color)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("could not read calendar selections: %w", err)
	}
	return selections, nil
}

func (r *RepositoryImpl) SaveSelections(ctx context.Context, userId int, selections []Selection) error {
	query := `INSERT INTO calendar_selection (user_id, calendar_id, selected, color)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (user_id, calendar_id) DO UPDATE SET selected = EXCLUDED.selected, color = EXCLUDED.color`
	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, s := range selections {
			if _, err := tx.Exec(ctx, query, userId, s.CalendarId, s.Selected, s.Color); err != nil {
				return fmt.Errorf("could not save selection of calendar %q: %w", s.CalendarId, err)
			}
		}
		return nil
	})
}
