package google

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

type stubEvent struct {
	event RemoteEvent
	seq   int
}

// ClientStub is an in-memory Google Calendar used by tests across packages.
type ClientStub struct {
	mu        sync.Mutex
	calendars []CalendarItem
	events    map[string]map[string]*stubEvent
	seq       int
	nextId    int
	failures  map[string][]error
	calls     map[string]int
	tokens    []string

	// ExpireSyncTokens makes every incremental listing fail with ErrSyncTokenExpired.
	ExpireSyncTokens bool
	// Delay is applied to every call.
	Delay time.Duration
}

func NewClientStub() *ClientStub {
	return &ClientStub{
		events:   map[string]map[string]*stubEvent{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

func (s *ClientStub) SetCalendars(calendars ...CalendarItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars = calendars
}

// FailNext queues errors returned by the next calls of op, e.g. "InsertEvent".
func (s *ClientStub) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], errs...)
}

func (s *ClientStub) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// AccessTokens returns the access tokens of all calls in order.
func (s *ClientStub) AccessTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tokens)
}

// PutRemote creates or edits an event as if done in the Google Calendar UI.
func (s *ClientStub) PutRemote(calendarId string, event RemoteEvent) RemoteEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Id == "" {
		event.Id = s.newId()
	}
	return s.store(calendarId, event)
}

// CancelRemote deletes an event as if done in the Google Calendar UI.
func (s *ClientStub) CancelRemote(calendarId, eventId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.events[calendarId][eventId]; ok {
		cancelled := stored.event
		cancelled.Status = statusCancelled
		s.store(calendarId, cancelled)
	}
}

// Remote returns the live (not cancelled) events of a calendar.
func (s *ClientStub) Remote(calendarId string) []RemoteEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []RemoteEvent
	for _, stored := range s.sortedEvents(calendarId) {
		if !stored.event.Cancelled() {
			result = append(result, stored.event)
		}
	}
	return result
}

func (s *ClientStub) ListCalendars(ctx context.Context, token *oauth2.Token) ([]CalendarItem, error) {
	if err := s.enter(ctx, "ListCalendars", token); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calendars), nil
}

func (s *ClientStub) ListEventChanges(ctx context.Context, token *oauth2.Token, calendarId, syncToken string, timeMin time.Time) (ChangeSet, error) {
	if err := s.enter(ctx, "ListEventChanges", token); err != nil {
		return ChangeSet{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	since := 0
	if syncToken != "" {
		if s.ExpireSyncTokens {
			return ChangeSet{}, fmt.Errorf("unable to list event changes: %w", ErrSyncTokenExpired)
		}
		parsed, err := strconv.Atoi(syncToken)
		if err != nil {
			return ChangeSet{}, fmt.Errorf("unable to list event changes: %w", ErrSyncTokenExpired)
		}
		since = parsed
	}
	changes := ChangeSet{NextSyncToken: strconv.Itoa(s.seq)}
	for _, stored := range s.sortedEvents(calendarId) {
		if syncToken != "" {
			if stored.seq > since {
				changes.Events = append(changes.Events, stored.event)
			}
			continue
		}
		if !stored.event.Cancelled() && stored.event.End.After(timeMin) {
			changes.Events = append(changes.Events, stored.event)
		}
	}
	return changes, nil
}

func (s *ClientStub) ListEvents(ctx context.Context, token *oauth2.Token, calendarId string, from, to time.Time) ([]RemoteEvent, error) {
	if err := s.enter(ctx, "ListEvents", token); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []RemoteEvent
	for _, stored := range s.sortedEvents(calendarId) {
		e := stored.event
		if !e.Cancelled() && e.Start.Before(to) && e.End.After(from) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *ClientStub) InsertEvent(ctx context.Context, token *oauth2.Token, calendarId string, event RemoteEvent) (RemoteEvent, error) {
	if err := s.enter(ctx, "InsertEvent", token); err != nil {
		return RemoteEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event.Id = s.newId()
	event.Status = "confirmed"
	return s.store(calendarId, event), nil
}

func (s *ClientStub) UpdateEvent(ctx context.Context, token *oauth2.Token, calendarId string, event RemoteEvent) (RemoteEvent, error) {
	if err := s.enter(ctx, "UpdateEvent", token); err != nil {
		return RemoteEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.events[calendarId][event.Id]
	if !ok || stored.event.Cancelled() {
		return RemoteEvent{}, fmt.Errorf("unable to update event: %w", ErrNotFound)
	}
	event.Status = "confirmed"
	return s.store(calendarId, event), nil
}

func (s *ClientStub) DeleteEvent(ctx context.Context, token *oauth2.Token, calendarId, eventId string) error {
	if err := s.enter(ctx, "DeleteEvent", token); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.events[calendarId][eventId]
	if !ok || stored.event.Cancelled() {
		return fmt.Errorf("unable to delete event: %w", ErrNotFound)
	}
	cancelled := stored.event
	cancelled.Status = statusCancelled
	s.store(calendarId, cancelled)
	return nil
}

func (s *ClientStub) enter(ctx context.Context, op string, token *oauth2.Token) error {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if token != nil {
		s.tokens = append(s.tokens, token.AccessToken)
	}
	if queued := s.failures[op]; len(queued) > 0 {
		s.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (s *ClientStub) newId() string {
	s.nextId++
	return fmt.Sprintf("g%d", s.nextId)
}

func (s *ClientStub) store(calendarId string, event RemoteEvent) RemoteEvent {
	s.seq++
	event.Etag = fmt.Sprintf(`"%d"`, s.seq)
	if event.Status == "" {
		event.Status = "confirmed"
	}
	if s.events[calendarId] == nil {
		s.events[calendarId] = map[string]*stubEvent{}
	}
	s.events[calendarId][event.Id] = &stubEvent{event: event, seq: s.seq}
	return event
}

func (s *ClientStub) sortedEvents(calendarId string) []*stubEvent {
	result := make([]*stubEvent, 0, len(s.events[calendarId]))
	for _, stored := range s.events[calendarId] {
		result = append(result, stored)
	}
	slices.SortFunc(result, func(a, b *stubEvent) int {
		return a.seq - b.seq
	})
	return result
}
