package sync_mapping

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type RepositoryStub struct {
	mu       sync.RWMutex
	mappings map[int]Mapping
	nextId   int
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{mappings: make(map[int]Mapping), nextId: 1}
}

func (r *RepositoryStub) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings = make(map[int]Mapping)
	r.nextId = 1
}

// All returns every mapping ordered by id.
func (r *RepositoryStub) All() []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Mapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		result = append(result, m)
	}
	slices.SortFunc(result, func(a, b Mapping) int { return a.Id - b.Id })
	return result
}

// RemoveUser drops the mappings of a user, as the account cascade would.
func (r *RepositoryStub) RemoveUser(userId int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.mappings {
		if m.UserId == userId {
			delete(r.mappings, id)
		}
	}
}

func (r *RepositoryStub) find(match func(m Mapping) bool) (Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.mappings {
		if match(m) {
			return m, nil
		}
	}
	return Mapping{}, ErrMappingNotFound
}

func (r *RepositoryStub) GetByEventId(ctx context.Context, userId int, calendarId string, eventId uuid.UUID) (Mapping, error) {
	return r.find(func(m Mapping) bool {
		return m.UserId == userId && m.CalendarId == calendarId && m.EventId == eventId
	})
}

func (r *RepositoryStub) GetByExternalId(ctx context.Context, userId int, calendarId, externalEventId string) (Mapping, error) {
	return r.find(func(m Mapping) bool {
		return m.UserId == userId && m.CalendarId == calendarId && m.ExternalEventId == externalEventId
	})
}

func (r *RepositoryStub) ListForCalendar(ctx context.Context, userId int, calendarId string) ([]Mapping, error) {
	result := make([]Mapping, 0)
	for _, m := range r.All() {
		if m.UserId == userId && m.CalendarId == calendarId {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r *RepositoryStub) Upsert(ctx context.Context, mapping Mapping) (Mapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mapping.Id = 0
	for id, m := range r.mappings {
		if m.UserId == mapping.UserId && m.CalendarId == mapping.CalendarId && m.EventId == mapping.EventId {
			mapping.Id = id
		}
	}
	for id, m := range r.mappings {
		if id != mapping.Id && m.UserId == mapping.UserId && m.CalendarId == mapping.CalendarId && m.ExternalEventId == mapping.ExternalEventId {
			return Mapping{}, fmt.Errorf("could not store sync mapping of event %s: external event %s is already mapped",
				mapping.EventId, mapping.ExternalEventId)
		}
	}
	if mapping.Id == 0 {
		mapping.Id = r.nextId
		r.nextId++
	}
	r.mappings[mapping.Id] = mapping
	return mapping, nil
}

func (r *RepositoryStub) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mappings, id)
	return nil
}

func (r *RepositoryStub) CountForUser(ctx context.Context, userId int) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, m := range r.mappings {
		if m.UserId == userId {
			count++
		}
	}
	return count, nil
}
