package agenda

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kinsync/kinsync/internal/config"
	"github.com/kinsync/kinsync/internal/utils"
	"github.com/kinsync/kinsync/pkg/calendar"
	"github.com/kinsync/kinsync/pkg/custody"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/user"
	"github.com/kinsync/kinsync/pkg/visibility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	parentA = 1
	parentB = 2
)

type agendaFixture struct {
	service    *Service
	calendar   *calendar.Service
	custody    *custody.Service
	selections *visibility.RepositoryStub
	client     *google.ClientStub
}

func setupAgendaTest(t *testing.T) agendaFixture {
	clock := &utils.MockClock{FixedNow: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	calendarService := calendar.NewService(calendar.NewRepositoryStub(), nil, clock)
	custodyService := custody.NewService(custody.NewRepositoryStub(), calendarService, clock, config.Custody{MaterializeDays: 13})
	accounts := external_account.NewRepositoryStub()
	vault := external_account.NewVault(accounts, google.NewOAuthStub(), nil, clock, config.Sync{TokenRefreshMargin: time.Minute})
	client := google.NewClientStub()
	client.SetCalendars(
		google.CalendarItem{Id: "anna@example.com", Summary: "Anna", BackgroundColor: "#9fe1e7", Primary: true},
		google.CalendarItem{Id: "school", Summary: "School", BackgroundColor: "#16a765"},
		google.CalendarItem{Id: "work", Summary: "Work", BackgroundColor: "#f83a22"},
	)
	selections := visibility.NewRepositoryStub()
	visibilityService := visibility.NewService(selections, vault, client)
	require.NoError(t, accounts.ReplaceAccount(context.Background(), external_account.Account{
		UserId:       parentA,
		AccessToken:  "token",
		RefreshToken: "refresh",
		Expiry:       clock.Now().Add(time.Hour),
		CalendarId:   external_account.DefaultCalendarId,
		SyncEnabled:  true,
	}))
	return agendaFixture{
		service:    NewService(custodyService, calendarService, visibilityService, vault, client),
		calendar:   calendarService,
		custody:    custodyService,
		selections: selections,
		client:     client,
	}
}

func ctxFor(userId int) context.Context {
	return user.WithId(context.Background(), userId)
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func titles(entries []visibility.Projected[Entry]) []string {
	result := make([]string, 0, len(entries))
	for _, e := range entries {
		result = append(result, e.Item.Event.Title)
	}
	return result
}

func TestService_GetEvents(t *testing.T) {
	t.Run("should materialize custody days of the requested window", func(t *testing.T) {
		// given
		f := setupAgendaTest(t)
		days := custody.WeekAssignment{}
		for d := time.Sunday; d <= time.Saturday; d++ {
			days[d] = parentA
		}
		created, err := f.custody.CreateSchedule(ctxFor(parentA), custody.Schedule{
			Title:     "With Anna",
			StartDate: day(1),
			Pattern:   custody.WeeklyPattern{Days: days},
			ParentIds: []int{parentB},
		})
		require.NoError(t, err)
		_, err = f.custody.SetStatus(ctxFor(parentB), created.Id, custody.StatusApproved)
		require.NoError(t, err)

		// when
		entries, err := f.service.GetEvents(ctxFor(parentA), day(22), day(29))

		// then
		require.NoError(t, err)
		require.Len(t, entries, 7)
		assert.Equal(t, day(22), entries[0].Item.Event.StartTime)
		assert.Equal(t, calendar.EventTypeCustodyTransfer, entries[0].Item.Event.Type)
		assert.False(t, entries[0].Item.External)
	})

	t.Run("should overlay selected external calendars", func(t *testing.T) {
		// given
		f := setupAgendaTest(t)
		_, err := f.calendar.CreateEvent(ctxFor(parentA), calendar.Event{
			Title: "Dentist", StartTime: day(3).Add(9 * time.Hour), EndTime: day(3).Add(10 * time.Hour), Color: "#abcdef",
		})
		require.NoError(t, err)
		require.NoError(t, f.selections.SaveSelections(context.Background(), parentA, []visibility.Selection{
			{CalendarId: "school", Selected: true, Color: "#222222"},
			{CalendarId: "work", Selected: false},
		}))
		f.client.PutRemote("school", google.RemoteEvent{Summary: "School trip", Start: day(2).Add(8 * time.Hour), End: day(2).Add(15 * time.Hour)})
		f.client.PutRemote("work", google.RemoteEvent{Summary: "Standup", Start: day(2).Add(9 * time.Hour), End: day(2).Add(10 * time.Hour)})

		// when
		entries, err := f.service.GetEvents(ctxFor(parentA), day(1), day(7))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"School trip", "Dentist"}, titles(entries))
		assert.True(t, entries[0].Item.External)
		assert.Equal(t, "#222222", entries[0].Color)
		assert.Equal(t, "#abcdef", entries[1].Color)
		assert.Equal(t, 1, f.client.Calls("ListEvents"))
	})

	t.Run("should hide events imported from deselected calendar", func(t *testing.T) {
		// given
		f := setupAgendaTest(t)
		_, err := f.calendar.ImportRemoteEvent(context.Background(), parentA, "work", calendar.RemoteChange{
			Title: "Standup", StartTime: day(2).Add(9 * time.Hour), EndTime: day(2).Add(10 * time.Hour),
		})
		require.NoError(t, err)
		_, err = f.calendar.ImportRemoteEvent(context.Background(), parentA, "school", calendar.RemoteChange{
			Title: "Parents evening", StartTime: day(3).Add(18 * time.Hour), EndTime: day(3).Add(19 * time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, f.selections.SaveSelections(context.Background(), parentA, []visibility.Selection{
			{CalendarId: "work", Selected: false},
		}))

		// when
		entries, err := f.service.GetEvents(ctxFor(parentA), day(1), day(7))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"Parents evening"}, titles(entries))
		assert.Equal(t, "#16a765", entries[0].Color)
	})

	t.Run("should return stored events when external calendar fails", func(t *testing.T) {
		// given
		f := setupAgendaTest(t)
		_, err := f.calendar.CreateEvent(ctxFor(parentA), calendar.Event{
			Title: "Dentist", StartTime: day(3).Add(9 * time.Hour), EndTime: day(3).Add(10 * time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, f.selections.SaveSelections(context.Background(), parentA, []visibility.Selection{
			{CalendarId: "school", Selected: true},
		}))
		f.client.FailNext("ListEvents", google.ErrRateLimited)

		// when
		entries, err := f.service.GetEvents(ctxFor(parentA), day(1), day(7))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"Dentist"}, titles(entries))
	})

	t.Run("should not call provider for disconnected user", func(t *testing.T) {
		// given
		f := setupAgendaTest(t)

		// when
		entries, err := f.service.GetEvents(ctxFor(parentB), day(1), day(7))

		// then
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.Zero(t, f.client.Calls("ListCalendars"))
	})

	t.Run("should reject inverted window", func(t *testing.T) {
		// given
		f := setupAgendaTest(t)

		// when
		_, err := f.service.GetEvents(ctxFor(parentA), day(7), day(1))

		// then
		assert.ErrorIs(t, err, calendar.ErrInvalidTimeRange)
	})
}

func TestHandler_GetEvents(t *testing.T) {
	t.Run("should return projected entries", func(t *testing.T) {
		// given
		f := setupAgendaTest(t)
		require.NoError(t, f.selections.SaveSelections(context.Background(), parentA, []visibility.Selection{
			{CalendarId: "school", Selected: true},
		}))
		remote := f.client.PutRemote("school", google.RemoteEvent{Summary: "School trip", Start: day(2).Add(8 * time.Hour), End: day(2).Add(15 * time.Hour)})
		req := httptest.NewRequest(http.MethodGet, "/api/calendar/events?start=2024-01-01T00:00:00Z&end=2024-01-07T00:00:00Z", nil).
			WithContext(ctxFor(parentA))
		w := httptest.NewRecorder()

		// when
		NewHandler(f.service).GetEvents(w, req)

		// then
		require.Equal(t, http.StatusOK, w.Code)
		var dtos []EntryDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&dtos))
		require.Len(t, dtos, 1)
		assert.Equal(t, remote.Id, dtos[0].Id)
		assert.True(t, dtos[0].External)
		assert.Equal(t, "#16a765", dtos[0].Color)
		assert.Equal(t, "school", dtos[0].SourceCalendarId)
	})

	t.Run("should reject malformed window", func(t *testing.T) {
		// given
		f := setupAgendaTest(t)
		req := httptest.NewRequest(http.MethodGet, "/api/calendar/events?start=yesterday&end=2024-01-07T00:00:00Z", nil).
			WithContext(ctxFor(parentA))
		w := httptest.NewRecorder()

		// when
		NewHandler(f.service).GetEvents(w, req)

		// then
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
