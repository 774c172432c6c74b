package visibility

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinsync/kinsync/internal/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var pgContainer *postgres.PostgresContainer
var openDb func() *pgxpool.Pool

func TestMain(m *testing.M) {
	pgContainer, openDb = test_utils.TestWithDB()
	code := m.Run()
	_ = pgContainer.Terminate(context.Background())
	os.Exit(code)
}

func TestRepositoryImpl_SaveSelections(t *testing.T) {
	// given
	ctx := context.Background()
	db := openDb()
	t.Cleanup(func() {
		db.Close()
		require.NoError(t, pgContainer.Restore(ctx))
	})
	repo := NewRepository(db)
	anna := test_utils.InsertUser(t, ctx, db, "anna")
	ben := test_utils.InsertUser(t, ctx, db, "ben")
	require.NoError(t, repo.SaveSelections(ctx, anna, []Selection{
		{CalendarId: "work", Selected: true, Color: "#111111"},
		{CalendarId: "school", Selected: true},
	}))
	require.NoError(t, repo.SaveSelections(ctx, ben, []Selection{{CalendarId: "work", Selected: true}}))

	// when
	err := repo.SaveSelections(ctx, anna, []Selection{{CalendarId: "work", Selected: false, Color: "#222222"}})
	require.NoError(t, err)
	selections, err := repo.ListSelections(ctx, anna)

	// then
	require.NoError(t, err)
	assert.Equal(t, []Selection{
		{UserId: anna, CalendarId: "school", Selected: true},
		{UserId: anna, CalendarId: "work", Selected: false, Color: "#222222"},
	}, selections)
}
