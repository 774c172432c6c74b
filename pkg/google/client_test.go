package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

type recordedRequest struct {
	method string
	path   string
	query  map[string][]string
	auth   string
	body   map[string]any
}

type fakeGoogle struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r recordedRequest)
}

func setupClientTest(t *testing.T, handler func(w http.ResponseWriter, r recordedRequest)) (*ClientImpl, *fakeGoogle) {
	fake := &fakeGoogle{handler: handler}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorded := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			auth:   r.Header.Get("Authorization"),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &recorded.body)
		}
		fake.mu.Lock()
		fake.requests = append(fake.requests, recorded)
		fake.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fake.handler(w, recorded)
	}))
	t.Cleanup(server.Close)
	return NewClient(option.WithEndpoint(server.URL + "/")), fake
}

var testToken = &oauth2.Token{AccessToken: "secret", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}

func TestClientImpl_ListEventChanges(t *testing.T) {
	t.Run("should follow pages and return the final sync token", func(t *testing.T) {
		// given
		client, fake := setupClientTest(t, func(w http.ResponseWriter, r recordedRequest) {
			if r.query["pageToken"] == nil {
				_, _ = io.WriteString(w, `{"items": [{"id": "a", "etag": "\"1\"", "status": "confirmed", "summary": "School play",
					"start": {"dateTime": "2024-01-10T09:00:00+01:00"}, "end": {"dateTime": "2024-01-10T10:00:00+01:00"},
					"extendedProperties": {"private": {"kinsyncEventId": "internal-1"}}}], "nextPageToken": "p2"}`)
				return
			}
			_, _ = io.WriteString(w, `{"items": [{"id": "b", "status": "cancelled"}], "nextSyncToken": "sync-2"}`)
		})

		// when
		changes, err := client.ListEventChanges(context.Background(), testToken, "primary", "sync-1", time.Time{})

		// then
		require.NoError(t, err)
		assert.Equal(t, "sync-2", changes.NextSyncToken)
		require.Len(t, changes.Events, 2)
		first := changes.Events[0]
		assert.Equal(t, "internal-1", first.InternalId)
		assert.Equal(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), first.Start)
		assert.False(t, first.AllDay)
		assert.True(t, changes.Events[1].Cancelled())

		require.Len(t, fake.requests, 2)
		assert.Equal(t, []string{"sync-1"}, fake.requests[0].query["syncToken"])
		assert.Nil(t, fake.requests[0].query["timeMin"])
		assert.Equal(t, []string{"true"}, fake.requests[0].query["showDeleted"])
		assert.Equal(t, "Bearer secret", fake.requests[0].auth)
	})

	t.Run("should list window when no sync token is known", func(t *testing.T) {
		// given
		client, fake := setupClientTest(t, func(w http.ResponseWriter, r recordedRequest) {
			_, _ = io.WriteString(w, `{"items": [], "nextSyncToken": "sync-1"}`)
		})

		// when
		_, err := client.ListEventChanges(context.Background(), testToken, "primary", "", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

		// then
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-01-01T00:00:00Z"}, fake.requests[0].query["timeMin"])
		assert.Nil(t, fake.requests[0].query["syncToken"])
	})

	t.Run("should report expired sync token", func(t *testing.T) {
		// given
		client, _ := setupClientTest(t, func(w http.ResponseWriter, r recordedRequest) {
			w.WriteHeader(http.StatusGone)
			_, _ = io.WriteString(w, `{"error": {"code": 410, "message": "Sync token is no longer valid"}}`)
		})

		// when
		_, err := client.ListEventChanges(context.Background(), testToken, "primary", "old", time.Time{})

		// then
		assert.ErrorIs(t, err, ErrSyncTokenExpired)
	})
}

func TestClientImpl_InsertEvent(t *testing.T) {
	t.Run("should send all-day dates and internal id", func(t *testing.T) {
		// given
		client, fake := setupClientTest(t, func(w http.ResponseWriter, r recordedRequest) {
			_, _ = io.WriteString(w, `{"id": "new", "etag": "\"7\"", "status": "confirmed",
				"start": {"date": "2024-01-10"}, "end": {"date": "2024-01-11"}}`)
		})
		event := RemoteEvent{
			Summary:    "With Anna",
			Start:      time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
			End:        time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
			AllDay:     true,
			InternalId: "internal-1",
		}

		// when
		created, err := client.InsertEvent(context.Background(), testToken, "primary", event)

		// then
		require.NoError(t, err)
		assert.Equal(t, "new", created.Id)
		assert.Equal(t, `"7"`, created.Etag)
		assert.True(t, created.AllDay)
		body := fake.requests[0].body
		assert.Equal(t, map[string]any{"date": "2024-01-10"}, body["start"])
		assert.Equal(t, map[string]any{"date": "2024-01-11"}, body["end"])
		assert.Equal(t, map[string]any{"private": map[string]any{"kinsyncEventId": "internal-1"}}, body["extendedProperties"])
	})

	t.Run("should report rate limiting", func(t *testing.T) {
		// given
		client, _ := setupClientTest(t, func(w http.ResponseWriter, r recordedRequest) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"error": {"code": 403, "message": "Rate Limit Exceeded",
				"errors": [{"reason": "rateLimitExceeded", "message": "Rate Limit Exceeded"}]}}`)
		})

		// when
		_, err := client.InsertEvent(context.Background(), testToken, "primary", RemoteEvent{})

		// then
		assert.ErrorIs(t, err, ErrRateLimited)
	})
}
