package child

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinsync/kinsync/internal/database"
)

type Repository interface {
	CreateChild(ctx context.Context, child Child) (Child, error)
	GetChildrenOfParent(ctx context.Context, parentId int) ([]Child, error)
}

type RepositoryImpl struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) CreateChild(ctx context.Context, child Child) (Child, error) {
	err := database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		query := `INSERT INTO child (first_name, last_name, birth_date, color, user_id) VALUES ($1, $2, $3, $4, $5) RETURNING id`
		err := tx.QueryRow(ctx, query, child.FirstName, child.LastName, child.BirthDate, child.Color, child.UserId).Scan(&child.Id)
		if err != nil {
			return fmt.Errorf("could not insert child: %w", err)
		}
		for _, parentId := range child.ParentIds {
			_, err := tx.Exec(ctx, `INSERT INTO child_parent (child_id, parent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, child.Id, parentId)
			if err != nil {
				return fmt.Errorf("could not link parent %d: %w", parentId, err)
			}
		}
		return nil
	})
	if err != nil {
		return Child{}, err
	}
	return child, nil
}

func (r *RepositoryImpl) GetChildrenOfParent(ctx context.Context, parentId int) ([]Child, error) {
	query := `SELECT c.id, c.first_name, c.last_name, c.birth_date, c.color, c.user_id,
       			(SELECT array_agg(cp2.parent_id ORDER BY cp2.parent_id) FROM child_parent cp2 WHERE cp2.child_id = c.id)
			  FROM child c
			  JOIN child_parent cp ON cp.child_id = c.id
			  WHERE cp.parent_id = $1
			  ORDER BY c.first_name, c.id`
	rows, err := r.db.Query(ctx, query, parentId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	children := make([]Child, 0)
	for rows.Next() {
		var c Child
		if err := rows.Scan(&c.Id, &c.FirstName, &c.LastName, &c.BirthDate, &c.Color, &c.UserId, &c.ParentIds); err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, rows.Err()
}
