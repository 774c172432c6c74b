package visibility

import (
	"context"
	"testing"
	"time"

	"github.com/kinsync/kinsync/internal/config"
	"github.com/kinsync/kinsync/internal/utils"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userId = 1

func setupServiceTest(t *testing.T) (*Service, *RepositoryStub, *google.ClientStub, *external_account.RepositoryStub) {
	clock := &utils.MockClock{FixedNow: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)}
	accounts := external_account.NewRepositoryStub()
	vault := external_account.NewVault(accounts, google.NewOAuthStub(), nil, clock, config.Sync{TokenRefreshMargin: time.Minute})
	client := google.NewClientStub()
	client.SetCalendars(
		google.CalendarItem{Id: "anna@example.com", Summary: "Anna", BackgroundColor: "#9fe1e7", Primary: true},
		google.CalendarItem{Id: "work", Summary: "Work", BackgroundColor: "#f83a22"},
		google.CalendarItem{Id: "school", Summary: "School", BackgroundColor: "#16a765"},
	)
	repo := NewRepositoryStub()
	require.NoError(t, accounts.ReplaceAccount(context.Background(), external_account.Account{
		UserId:       userId,
		AccessToken:  "token",
		RefreshToken: "refresh",
		Expiry:       clock.Now().Add(time.Hour),
		CalendarId:   external_account.DefaultCalendarId,
		SyncEnabled:  true,
	}))
	return NewService(repo, vault, client), repo, client, accounts
}

func TestService_Calendars(t *testing.T) {
	t.Run("should merge provider calendars with selections", func(t *testing.T) {
		// given
		service, repo, _, _ := setupServiceTest(t)
		require.NoError(t, repo.SaveSelections(context.Background(), userId, []Selection{
			{CalendarId: "work", Selected: true, Color: "#000000"},
			{CalendarId: "school", Selected: false},
		}))

		// when
		calendars, err := service.Calendars(user.WithId(context.Background(), userId))

		// then
		require.NoError(t, err)
		require.Len(t, calendars, 3)
		assert.True(t, calendars[0].Target)
		assert.False(t, calendars[0].Selected)
		assert.Equal(t, "#9fe1e7", calendars[0].Color)
		assert.Equal(t, Calendar{Id: "work", Summary: "Work", Selected: true, Color: "#000000", ProviderColor: "#f83a22"}, calendars[1])
		assert.False(t, calendars[2].Selected)
		assert.Equal(t, "#16a765", calendars[2].Color)
	})

	t.Run("should mark designated calendar as target", func(t *testing.T) {
		// given
		service, _, _, accounts := setupServiceTest(t)
		require.NoError(t, accounts.UpdateSettings(context.Background(), userId, "school", true))

		// when
		calendars, err := service.Calendars(user.WithId(context.Background(), userId))

		// then
		require.NoError(t, err)
		assert.False(t, calendars[0].Target)
		assert.True(t, calendars[2].Target)
	})

	t.Run("should fail without connected account", func(t *testing.T) {
		// given
		service, _, _, _ := setupServiceTest(t)

		// when
		_, err := service.Calendars(user.WithId(context.Background(), 2))

		// then
		assert.ErrorIs(t, err, external_account.ErrNotConnected)
	})

	t.Run("should pass provider errors", func(t *testing.T) {
		// given
		service, _, client, _ := setupServiceTest(t)
		client.FailNext("ListCalendars", google.ErrUnauthorized)

		// when
		_, err := service.Calendars(user.WithId(context.Background(), userId))

		// then
		assert.ErrorIs(t, err, google.ErrUnauthorized)
	})
}

func TestService_SaveSelections(t *testing.T) {
	t.Run("should upsert selections", func(t *testing.T) {
		// given
		service, _, _, _ := setupServiceTest(t)
		ctx := user.WithId(context.Background(), userId)
		_, err := service.SaveSelections(ctx, []Selection{{CalendarId: "work", Selected: true}})
		require.NoError(t, err)

		// when
		saved, err := service.SaveSelections(ctx, []Selection{
			{CalendarId: "work", Selected: false, Color: "#123456"},
			{CalendarId: "school", Selected: true},
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, []Selection{
			{UserId: userId, CalendarId: "school", Selected: true},
			{UserId: userId, CalendarId: "work", Selected: false, Color: "#123456"},
		}, saved)
	})

	t.Run("should reject selection without calendar", func(t *testing.T) {
		// given
		service, repo, _, _ := setupServiceTest(t)

		// when
		_, err := service.SaveSelections(user.WithId(context.Background(), userId), []Selection{{CalendarId: " "}})

		// then
		assert.ErrorIs(t, err, ErrInvalidSelection)
		stored, _ := repo.ListSelections(context.Background(), userId)
		assert.Empty(t, stored)
	})
}
