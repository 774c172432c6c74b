package calendar_sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kinsync/kinsync/internal/config"
	"github.com/kinsync/kinsync/internal/utils"
	"github.com/kinsync/kinsync/pkg/calendar"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/sync_mapping"
	"github.com/kinsync/kinsync/pkg/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	parentA = 1
	parentB = 2
	childId = 10
)

type syncFixture struct {
	orchestrator *Orchestrator
	calendar     *calendar.Service
	eventRepo    *calendar.RepositoryStub
	accounts     *external_account.RepositoryStub
	vault        *external_account.Vault
	mappings     *sync_mapping.RepositoryStub
	client       *google.ClientStub
	oauth        *google.OAuthStub
	clock        *utils.MockClock
}

func testSyncConfig() config.Sync {
	return config.Sync{
		CallTimeout:          time.Second,
		PassTimeout:          10 * time.Second,
		MaxRetries:           2,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		PastDays:             30,
		TokenRefreshMargin:   2 * time.Minute,
		Workers:              2,
	}
}

func setupSyncTest(t *testing.T) syncFixture {
	clock := &utils.MockClock{FixedNow: time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)}
	cfg := testSyncConfig()
	eventRepo := calendar.NewRepositoryStub()
	calendarService := calendar.NewService(eventRepo, nil, clock)
	accounts := external_account.NewRepositoryStub()
	oauth := google.NewOAuthStub()
	vault := external_account.NewVault(accounts, oauth, nil, clock, cfg)
	mappings := sync_mapping.NewRepositoryStub()
	client := google.NewClientStub()
	orchestrator := NewOrchestrator(vault, calendarService, mappings, client, clock, cfg)
	t.Cleanup(func() {
		_ = orchestrator.Shutdown(context.Background())
	})

	f := syncFixture{
		orchestrator: orchestrator,
		calendar:     calendarService,
		eventRepo:    eventRepo,
		accounts:     accounts,
		vault:        vault,
		mappings:     mappings,
		client:       client,
		oauth:        oauth,
		clock:        clock,
	}
	f.connect(t, parentA, time.Hour)
	return f
}

func (f syncFixture) connect(t *testing.T, userId int, expiresIn time.Duration) {
	require.NoError(t, f.accounts.ReplaceAccount(context.Background(), external_account.Account{
		UserId:       userId,
		Provider:     external_account.ProviderGoogle,
		AccessToken:  fmt.Sprintf("token-%d", userId),
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       f.clock.Now().Add(expiresIn),
		CalendarId:   external_account.DefaultCalendarId,
		SyncEnabled:  true,
	}))
}

func (f syncFixture) createEvent(t *testing.T, userId int, title string, start time.Time) calendar.Event {
	event, err := f.calendar.CreateEvent(user.WithId(context.Background(), userId), calendar.Event{
		Title:     title,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		ChildIds:  []int{childId},
	})
	require.NoError(t, err)
	return event
}

func (f syncFixture) sync(t *testing.T, userId int) Result {
	result, err := f.orchestrator.RunSync(context.Background(), userId)
	require.NoError(t, err)
	return result
}

func (f syncFixture) event(t *testing.T, title string) calendar.Event {
	for _, e := range f.eventRepo.AllEvents() {
		if e.Title == title {
			return e
		}
	}
	t.Fatalf("event %q not found", title)
	return calendar.Event{}
}

var morning = time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC)

func TestOrchestrator_Push(t *testing.T) {
	t.Run("should push new events once and record mappings", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		event := f.createEvent(t, parentA, "Swimming", morning)

		// when
		first := f.sync(t, parentA)
		second := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, first.Pushed)
		assert.Equal(t, Result{FailedEventIds: []string{}}, second)
		remote := f.client.Remote(external_account.DefaultCalendarId)
		require.Len(t, remote, 1)
		assert.Equal(t, "Swimming", remote[0].Summary)
		assert.Equal(t, event.Id.String(), remote[0].InternalId)
		mappings := f.mappings.All()
		require.Len(t, mappings, 1)
		assert.Equal(t, remote[0].Id, mappings[0].ExternalEventId)
		assert.Equal(t, event.UpdatedAt, mappings[0].LastSynced)
		assert.Len(t, f.eventRepo.AllEvents(), 1)
	})

	t.Run("should push local updates", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		event := f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		f.clock.Advance(time.Minute)
		event.Title = "Swimming lesson"
		_, err := f.calendar.UpdateEvent(user.WithId(context.Background(), parentA), event)
		require.NoError(t, err)

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Pushed)
		remote := f.client.Remote(external_account.DefaultCalendarId)
		require.Len(t, remote, 1)
		assert.Equal(t, "Swimming lesson", remote[0].Summary)
		assert.Equal(t, remote[0].Etag, f.mappings.All()[0].Etag)
	})

	t.Run("should push events of shared children to the co-parent", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.connect(t, parentB, time.Hour)
		f.eventRepo.SetChildParents(childId, parentA, parentB)
		f.createEvent(t, parentA, "Parent evening", morning)

		// when
		result := f.sync(t, parentB)

		// then
		assert.Equal(t, 1, result.Pushed)
		for _, token := range f.client.AccessTokens() {
			assert.Equal(t, "token-2", token)
		}
	})

	t.Run("should delete external copies of deleted events", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		event := f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		require.NoError(t, f.calendar.DeleteEvent(user.WithId(context.Background(), parentA), event.Id))

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Deleted)
		assert.Empty(t, f.client.Remote(external_account.DefaultCalendarId))
		assert.Empty(t, f.mappings.All())
	})

	t.Run("should insert again when external copy disappeared", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		event := f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		f.client.FailNext("UpdateEvent", fmt.Errorf("unable to update event: %w", google.ErrNotFound))
		f.clock.Advance(time.Minute)
		event.Title = "Swimming lesson"
		_, err := f.calendar.UpdateEvent(user.WithId(context.Background(), parentA), event)
		require.NoError(t, err)

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Pushed)
		assert.Len(t, f.client.Remote(external_account.DefaultCalendarId), 2)
		mappings := f.mappings.All()
		require.Len(t, mappings, 1)
		assert.Equal(t, "g2", mappings[0].ExternalEventId)
	})
}

func TestOrchestrator_Pull(t *testing.T) {
	t.Run("should import foreign external events", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.client.PutRemote(external_account.DefaultCalendarId, google.RemoteEvent{
			Summary: "Dentist", Start: morning, End: morning.Add(time.Hour),
		})

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Pulled)
		imported := f.event(t, "Dentist")
		assert.Equal(t, parentA, imported.CreatedBy)
		assert.Equal(t, external_account.DefaultCalendarId, imported.SourceCalendarId)
		assert.Equal(t, calendar.StatusApproved, imported.Status)
		require.Len(t, f.mappings.All(), 1)
		assert.Equal(t, imported.Id, f.mappings.All()[0].EventId)

		again := f.sync(t, parentA)
		assert.Zero(t, again.Pulled)
		assert.Zero(t, again.Pushed)
	})

	t.Run("should apply external edits to mapped events", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		remote := f.client.Remote(external_account.DefaultCalendarId)[0]
		remote.Summary = "Swimming moved"
		remote.Start = morning.Add(2 * time.Hour)
		remote.End = morning.Add(3 * time.Hour)
		f.client.PutRemote(external_account.DefaultCalendarId, remote)
		f.clock.Advance(time.Minute)

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Pulled)
		assert.Zero(t, result.Pushed)
		updated := f.event(t, "Swimming moved")
		assert.Equal(t, morning.Add(2*time.Hour), updated.StartTime)
		assert.Equal(t, []int{childId}, updated.ChildIds)

		again := f.sync(t, parentA)
		assert.Zero(t, again.Pushed)
		assert.Zero(t, again.Pulled)
	})

	t.Run("should let remote win on conflict and flag the mapping", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		event := f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		f.clock.Advance(time.Minute)
		event.Title = "Local title"
		_, err := f.calendar.UpdateEvent(user.WithId(context.Background(), parentA), event)
		require.NoError(t, err)
		remote := f.client.Remote(external_account.DefaultCalendarId)[0]
		remote.Summary = "Remote title"
		f.client.PutRemote(external_account.DefaultCalendarId, remote)

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Conflicts)
		assert.Zero(t, result.Pushed)
		assert.Equal(t, "Remote title", f.event(t, "Remote title").Title)
		assert.Equal(t, event.Id, f.event(t, "Remote title").Id)
		assert.True(t, f.mappings.All()[0].Conflict)
		assert.Equal(t, "Remote title", f.client.Remote(external_account.DefaultCalendarId)[0].Summary)
	})

	t.Run("should delete internal event cancelled externally", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		f.client.CancelRemote(external_account.DefaultCalendarId, f.mappings.All()[0].ExternalEventId)

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Deleted)
		assert.Empty(t, f.eventRepo.AllEvents())
		assert.Empty(t, f.mappings.All())
	})

	t.Run("should restore external copy the user may not delete", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.eventRepo.SetChildParents(childId, parentA, parentB)
		f.createEvent(t, parentB, "Football", morning)
		f.sync(t, parentA)
		f.client.CancelRemote(external_account.DefaultCalendarId, f.mappings.All()[0].ExternalEventId)

		// when
		forgotten := f.sync(t, parentA)
		restored := f.sync(t, parentA)

		// then
		assert.Zero(t, forgotten.Deleted)
		assert.Len(t, f.eventRepo.AllEvents(), 1)
		assert.Equal(t, 1, restored.Pushed)
		remote := f.client.Remote(external_account.DefaultCalendarId)
		require.Len(t, remote, 1)
		assert.Equal(t, "Football", remote[0].Summary)
	})

	t.Run("should list window again when sync token expired", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		f.client.ExpireSyncTokens = true
		f.client.PutRemote(external_account.DefaultCalendarId, google.RemoteEvent{
			Summary: "Dentist", Start: morning, End: morning.Add(time.Hour),
		})
		calls := f.client.Calls("ListEventChanges")

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Pulled)
		assert.Equal(t, calls+2, f.client.Calls("ListEventChanges"))
		assert.Len(t, f.eventRepo.AllEvents(), 2)
	})
}

func TestOrchestrator_Relink(t *testing.T) {
	t.Run("should relink external copies after a reconnect instead of duplicating", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		f.mappings.RemoveUser(parentA)
		f.connect(t, parentA, time.Hour)

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Pushed)
		assert.Len(t, f.client.Remote(external_account.DefaultCalendarId), 1)
		assert.Len(t, f.mappings.All(), 1)
		assert.Len(t, f.eventRepo.AllEvents(), 1)
	})
}

func TestOrchestrator_Failures(t *testing.T) {
	t.Run("should retry rate limited push", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.createEvent(t, parentA, "Swimming", morning)
		f.client.FailNext("InsertEvent", google.ErrRateLimited)

		// when
		result := f.sync(t, parentA)

		// then
		assert.Equal(t, 1, result.Pushed)
		assert.Empty(t, result.FailedEventIds)
		assert.Equal(t, 2, f.client.Calls("InsertEvent"))
	})

	t.Run("should report event failing after retries and continue", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		first := f.createEvent(t, parentA, "Swimming", morning)
		f.createEvent(t, parentA, "Football", morning.Add(24*time.Hour))
		f.client.FailNext("InsertEvent", google.ErrRateLimited, google.ErrRateLimited, google.ErrRateLimited)

		// when
		result := f.sync(t, parentA)
		inserts := f.client.Calls("InsertEvent")
		next := f.sync(t, parentA)

		// then
		assert.Equal(t, []string{first.Id.String()}, result.FailedEventIds)
		assert.Equal(t, 1, result.Pushed)
		assert.Equal(t, 4, inserts)
		assert.Equal(t, 1, next.Pushed)
		assert.Len(t, f.client.Remote(external_account.DefaultCalendarId), 2)
	})

	t.Run("should abort and require reauth when provider rejects the token", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		mappings := f.mappings.All()
		remote := f.client.Remote(external_account.DefaultCalendarId)
		f.createEvent(t, parentA, "Football", morning.Add(24*time.Hour))
		events := f.eventRepo.AllEvents()
		f.client.FailNext("ListEventChanges", fmt.Errorf("unable to list event changes: %w", google.ErrUnauthorized))

		// when
		_, err := f.orchestrator.RunSync(context.Background(), parentA)

		// then
		assert.ErrorIs(t, err, external_account.ErrReauthRequired)
		assert.Len(t, mappings, 1)
		assert.Equal(t, mappings, f.mappings.All())
		assert.Equal(t, remote, f.client.Remote(external_account.DefaultCalendarId))
		assert.Equal(t, events, f.eventRepo.AllEvents())
		assert.Equal(t, 1, f.client.Calls("InsertEvent"))
		account, _ := f.accounts.GetAccount(context.Background(), parentA)
		assert.True(t, account.ReauthRequired)
		state, err := f.orchestrator.State(context.Background(), parentA)
		require.NoError(t, err)
		assert.Equal(t, StateDisconnected, state)
	})

	t.Run("should not touch anything when sync is disabled", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.createEvent(t, parentA, "Swimming", morning)
		f.sync(t, parentA)
		mappings := f.mappings.All()
		remote := f.client.Remote(external_account.DefaultCalendarId)
		f.createEvent(t, parentA, "Football", morning.Add(24*time.Hour))
		events := f.eventRepo.AllEvents()
		_, err := f.vault.UpdateSettings(context.Background(), parentA, "", false)
		require.NoError(t, err)

		// when
		_, err = f.orchestrator.RunSync(context.Background(), parentA)

		// then
		assert.ErrorIs(t, err, ErrSyncDisabled)
		assert.Equal(t, 1, f.client.Calls("ListEventChanges"))
		assert.Equal(t, 1, f.client.Calls("InsertEvent"))
		assert.Len(t, mappings, 1)
		assert.Equal(t, mappings, f.mappings.All())
		assert.Len(t, remote, 1)
		assert.Equal(t, remote, f.client.Remote(external_account.DefaultCalendarId))
		assert.Equal(t, events, f.eventRepo.AllEvents())
	})

	t.Run("should report missing account", func(t *testing.T) {
		// given
		f := setupSyncTest(t)

		// when
		_, err := f.orchestrator.RunSync(context.Background(), parentB)

		// then
		assert.ErrorIs(t, err, external_account.ErrNotConnected)
	})
}

func TestOrchestrator_Concurrency(t *testing.T) {
	t.Run("should refresh an expiring token before the pass", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.connect(t, parentA, time.Minute)
		f.createEvent(t, parentA, "Swimming", morning)

		// when
		f.sync(t, parentA)

		// then
		assert.Equal(t, 1, f.oauth.Refreshes())
		for _, token := range f.client.AccessTokens() {
			assert.Equal(t, "refreshed-1", token)
		}
	})

	t.Run("should coalesce concurrent passes of one user", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.client.Delay = 50 * time.Millisecond
		f.createEvent(t, parentA, "Swimming", morning)
		var wg sync.WaitGroup
		results := make([]Result, 3)

		// when
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], _ = f.orchestrator.RunSync(context.Background(), parentA)
			}()
		}
		wg.Wait()

		// then
		assert.Equal(t, 1, f.client.Calls("ListEventChanges"))
		assert.Equal(t, 1, f.client.Calls("InsertEvent"))
		for _, r := range results {
			assert.Equal(t, 1, r.Pushed)
		}
	})

	t.Run("should finish the pass when the caller goes away", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.client.Delay = 30 * time.Millisecond
		f.createEvent(t, parentA, "Swimming", morning)
		ctx, cancel := context.WithCancel(context.Background())

		// when
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := f.orchestrator.RunSync(ctx, parentA)

		// then
		assert.ErrorIs(t, err, context.Canceled)
		assert.Eventually(t, func() bool {
			return len(f.mappings.All()) == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("should run a follow-up pass for triggers during a pass", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.client.Delay = 20 * time.Millisecond
		f.createEvent(t, parentA, "Swimming", morning)

		// when
		f.orchestrator.Trigger(parentA)
		f.waitSyncing(t, parentA)
		f.orchestrator.Trigger(parentA)
		f.orchestrator.Trigger(parentA)

		// then
		assert.Eventually(t, func() bool {
			return f.client.Calls("ListEventChanges") == 2
		}, time.Second, 10*time.Millisecond)
		require.NoError(t, f.orchestrator.Shutdown(context.Background()))
		assert.Equal(t, 2, f.client.Calls("ListEventChanges"))
		assert.Len(t, f.client.Remote(external_account.DefaultCalendarId), 1)
	})

	t.Run("should push changes made during a pass started by another caller", func(t *testing.T) {
		// given
		f := setupSyncTest(t)
		f.client.Delay = 100 * time.Millisecond
		f.createEvent(t, parentA, "First", morning)
		done := make(chan error, 1)
		go func() {
			_, err := f.orchestrator.RunSync(context.Background(), parentA)
			done <- err
		}()
		require.Eventually(t, func() bool {
			return f.client.Calls("ListEventChanges") == 1
		}, time.Second, time.Millisecond)

		// when
		f.createEvent(t, parentA, "Second", morning.Add(2*time.Hour))
		f.orchestrator.Trigger(parentA)

		// then
		require.NoError(t, <-done)
		assert.Eventually(t, func() bool {
			return len(f.client.Remote(external_account.DefaultCalendarId)) == 2
		}, 3*time.Second, 10*time.Millisecond)
		require.NoError(t, f.orchestrator.Shutdown(context.Background()))
		assert.Equal(t, 2, f.client.Calls("ListEventChanges"))
		assert.Len(t, f.mappings.All(), 2)
	})
}

func (f syncFixture) waitSyncing(t *testing.T, userId int) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, err := f.orchestrator.State(context.Background(), userId)
		return err == nil && state == StateSyncing
	}, time.Second, time.Millisecond)
}
