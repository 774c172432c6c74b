package test_utils

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinsync/kinsync/pkg/user"
	"github.com/stretchr/testify/require"
)

// CtxWithUser returns a context carrying a user with the given id, as the X-User-Id middleware would.
func CtxWithUser(userId int) context.Context {
	return user.WithUser(context.Background(), user.User{
		Id:          userId,
		Uid:         uuid.NewString(),
		Username:    fmt.Sprintf("user-%d", userId),
		DisplayName: fmt.Sprintf("User %d", userId),
		Settings:    user.Settings{Timezone: "Europe/Warsaw"},
	})
}

// InsertUser creates a users row and returns its id.
func InsertUser(t *testing.T, ctx context.Context, db *pgxpool.Pool, username string) int {
	t.Helper()
	var id int
	err := db.QueryRow(ctx,
		`INSERT INTO users (uid, username, display_name) VALUES ($1, $2, $3) RETURNING id`,
		uuid.NewString(), username, username,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// InsertChild creates a child owned by the given parents and returns its id.
func InsertChild(t *testing.T, ctx context.Context, db *pgxpool.Pool, firstName string, parentIds ...int) int {
	t.Helper()
	var id int
	err := db.QueryRow(ctx, `INSERT INTO child (first_name) VALUES ($1) RETURNING id`, firstName).Scan(&id)
	require.NoError(t, err)
	for _, parentId := range parentIds {
		_, err := db.Exec(ctx, `INSERT INTO child_parent (child_id, parent_id) VALUES ($1, $2)`, id, parentId)
		require.NoError(t, err)
	}
	return id
}
