package calendar

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
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

func setupRepositoryTest(t *testing.T) (context.Context, *RepositoryImpl, *pgxpool.Pool) {
	ctx := context.Background()
	db := openDb()
	t.Cleanup(func() {
		db.Close()
		require.NoError(t, pgContainer.Restore(ctx))
	})
	return ctx, NewRepository(db), db
}

func newEvent(createdBy int, title string, start time.Time) Event {
	ts := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	return Event{
		Id:        uuid.New(),
		Title:     title,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Type:      EventTypeActivity,
		CreatedBy: createdBy,
		Status:    StatusApproved,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func TestRepositoryImpl_StoreAndGetEvent(t *testing.T) {
	// given
	ctx, repo, db := setupRepositoryTest(t)
	parent := test_utils.InsertUser(t, ctx, db, "anna")
	childId := test_utils.InsertChild(t, ctx, db, "Mia", parent)
	start := time.Date(2025, 2, 3, 15, 0, 0, 0, time.UTC)
	event := newEvent(parent, "Swimming", start)
	event.ChildIds = []int{childId}
	event.ResponsibleParentId = &parent

	// when
	require.NoError(t, repo.StoreEvent(ctx, event))
	stored, err := repo.GetEvent(ctx, event.Id)

	// then
	require.NoError(t, err)
	assert.Equal(t, "Swimming", stored.Title)
	assert.Equal(t, start, stored.StartTime)
	assert.Equal(t, []int{childId}, stored.ChildIds)
	assert.Equal(t, parent, *stored.ResponsibleParentId)
	assert.Equal(t, EventTypeActivity, stored.Type)
}

func TestRepositoryImpl_GetEvent_NotFound(t *testing.T) {
	// given
	ctx, repo, _ := setupRepositoryTest(t)

	// when
	_, err := repo.GetEvent(ctx, uuid.New())

	// then
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRepositoryImpl_GetEvents_Visibility(t *testing.T) {
	// given
	ctx, repo, db := setupRepositoryTest(t)
	parentA := test_utils.InsertUser(t, ctx, db, "anna")
	parentB := test_utils.InsertUser(t, ctx, db, "ben")
	stranger := test_utils.InsertUser(t, ctx, db, "carl")
	childId := test_utils.InsertChild(t, ctx, db, "Mia", parentA, parentB)
	start := time.Date(2025, 2, 3, 15, 0, 0, 0, time.UTC)

	shared := newEvent(parentA, "Shared", start)
	shared.ChildIds = []int{childId}
	private := newEvent(parentA, "Private", start.Add(time.Hour))
	outside := newEvent(parentA, "Next week", start.AddDate(0, 0, 7))
	for _, e := range []Event{shared, private, outside} {
		require.NoError(t, repo.StoreEvent(ctx, e))
	}

	// when
	forA, err := repo.GetEvents(ctx, parentA, start.Add(-time.Hour), start.Add(24*time.Hour))
	require.NoError(t, err)
	forB, err := repo.GetEvents(ctx, parentB, start.Add(-time.Hour), start.Add(24*time.Hour))
	require.NoError(t, err)
	forStranger, err := repo.GetEvents(ctx, stranger, start.Add(-time.Hour), start.Add(24*time.Hour))
	require.NoError(t, err)

	// then
	require.Len(t, forA, 2)
	assert.Equal(t, "Shared", forA[0].Title)
	assert.Equal(t, "Private", forA[1].Title)
	require.Len(t, forB, 1)
	assert.Equal(t, "Shared", forB[0].Title)
	assert.Empty(t, forStranger)
}

func TestRepositoryImpl_UpdateEventUnderLock(t *testing.T) {
	// given
	ctx, repo, db := setupRepositoryTest(t)
	parent := test_utils.InsertUser(t, ctx, db, "anna")
	event := newEvent(parent, "Piano", time.Date(2025, 2, 3, 15, 0, 0, 0, time.UTC))
	require.NoError(t, repo.StoreEvent(ctx, event))

	// when
	err := repo.WithTransaction(ctx, func(txRepo Repository) error {
		locked, err := txRepo.GetEventForUpdate(ctx, event.Id)
		if err != nil {
			return err
		}
		locked.Title = "Piano lesson"
		locked.Detached = true
		locked.UpdatedAt = locked.UpdatedAt.Add(time.Minute)
		return txRepo.UpdateEvent(ctx, locked)
	})

	// then
	require.NoError(t, err)
	stored, err := repo.GetEvent(ctx, event.Id)
	require.NoError(t, err)
	assert.Equal(t, "Piano lesson", stored.Title)
	assert.True(t, stored.Detached)
	assert.Equal(t, event.UpdatedAt.Add(time.Minute), stored.UpdatedAt)
}

func TestRepositoryImpl_ScheduleEvents(t *testing.T) {
	// given
	ctx, repo, db := setupRepositoryTest(t)
	parent := test_utils.InsertUser(t, ctx, db, "anna")
	var scheduleId int
	err := db.QueryRow(ctx, `INSERT INTO custody_schedule (title, start_date, schedule_type, pattern, created_by)
		VALUES ('Weekly', '2025-02-01', 'weekly', '{}', $1) RETURNING id`, parent).Scan(&scheduleId)
	require.NoError(t, err)

	day1 := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	instance := func(date time.Time) Event {
		e := newEvent(parent, "Custody", date)
		e.EndTime = date.Add(24 * time.Hour)
		e.Type = EventTypeCustodyTransfer
		e.ScheduleId = &scheduleId
		e.ScheduleDate = &date
		return e
	}

	t.Run("should insert idempotently by schedule date", func(t *testing.T) {
		// when
		first, err := repo.StoreScheduleEvents(ctx, []Event{instance(day1), instance(day2)})
		require.NoError(t, err)
		second, err := repo.StoreScheduleEvents(ctx, []Event{instance(day1), instance(day2)})
		require.NoError(t, err)

		// then
		assert.Len(t, first, 2)
		assert.Empty(t, second)
	})

	t.Run("should not regenerate deleted instance", func(t *testing.T) {
		// given
		events, err := repo.GetEvents(ctx, parent, day1, day1.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.NoError(t, repo.DeleteEvent(ctx, events[0]))

		// when
		again, err := repo.StoreScheduleEvents(ctx, []Event{instance(day1)})

		// then
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("should keep detached events when deleting schedule events", func(t *testing.T) {
		// given
		events, err := repo.GetEvents(ctx, parent, day2, day2.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, events, 1)
		detached := events[0]
		detached.Detached = true
		require.NoError(t, repo.UpdateEvent(ctx, detached))
		third := day2.AddDate(0, 0, 1)
		_, err = repo.StoreScheduleEvents(ctx, []Event{instance(third)})
		require.NoError(t, err)

		// when
		deleted, err := repo.DeleteScheduleEvents(ctx, scheduleId)

		// then
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		assert.Equal(t, third, deleted[0].StartTime)
		_, err = repo.GetEvent(ctx, detached.Id)
		assert.NoError(t, err)
	})
}

func TestRepositoryImpl_LiveEventIds(t *testing.T) {
	// given
	ctx, repo, db := setupRepositoryTest(t)
	parent := test_utils.InsertUser(t, ctx, db, "anna")
	live := newEvent(parent, "Live", time.Date(2025, 2, 3, 15, 0, 0, 0, time.UTC))
	rejected := newEvent(parent, "Rejected", time.Date(2025, 2, 3, 17, 0, 0, 0, time.UTC))
	rejected.Status = StatusRejected
	require.NoError(t, repo.StoreEvent(ctx, live))
	require.NoError(t, repo.StoreEvent(ctx, rejected))

	// when
	ids, err := repo.LiveEventIds(ctx, []uuid.UUID{live.Id, rejected.Id, uuid.New()})

	// then
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{live.Id}, ids)
}

func TestRepositoryImpl_ParentIdsOfChildren(t *testing.T) {
	// given
	ctx, repo, db := setupRepositoryTest(t)
	parentA := test_utils.InsertUser(t, ctx, db, "anna")
	parentB := test_utils.InsertUser(t, ctx, db, "ben")
	mia := test_utils.InsertChild(t, ctx, db, "Mia", parentA, parentB)
	leo := test_utils.InsertChild(t, ctx, db, "Leo", parentA)

	// when
	parents, err := repo.ParentIdsOfChildren(ctx, []int{mia, leo})

	// then
	require.NoError(t, err)
	assert.Equal(t, []int{parentA, parentB}, parents)
}
