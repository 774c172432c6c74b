package calendar

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type exclusionKey struct {
	scheduleId int
	date       time.Time
}

type RepositoryStub struct {
	mu           sync.RWMutex
	txMu         sync.Mutex
	events       map[uuid.UUID]Event
	childParents map[int][]int
	exclusions   map[exclusionKey]bool
	conflicts    map[int]map[uuid.UUID]bool
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		events:       make(map[uuid.UUID]Event),
		childParents: make(map[int][]int),
		exclusions:   make(map[exclusionKey]bool),
		conflicts:    make(map[int]map[uuid.UUID]bool),
	}
}

// SetChildParents registers the parents of a child, as child_parent rows would.
func (r *RepositoryStub) SetChildParents(childId int, parentIds ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.childParents[childId] = parentIds
}

// SetOutOfSync flags an event as conflicting for the given user's mapping.
func (r *RepositoryStub) SetOutOfSync(userId int, eventId uuid.UUID, outOfSync bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts[userId] == nil {
		r.conflicts[userId] = make(map[uuid.UUID]bool)
	}
	r.conflicts[userId][eventId] = outOfSync
}

func (r *RepositoryStub) IsExcluded(scheduleId int, date time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exclusions[exclusionKey{scheduleId, date}]
}

func (r *RepositoryStub) AllEvents() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedEvents(slices.Collect(maps.Values(r.events)))
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	events := maps.Clone(r.events)
	exclusions := maps.Clone(r.exclusions)
	r.mu.RUnlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.events = events
		r.exclusions = exclusions
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *RepositoryStub) StoreEvent(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ChildIds = slices.Clone(event.ChildIds)
	event.OutOfSync = false
	r.events[event.Id] = event
	return nil
}

func (r *RepositoryStub) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[id]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return event, nil
}

func (r *RepositoryStub) GetEventForUpdate(ctx context.Context, id uuid.UUID) (Event, error) {
	return r.GetEvent(ctx, id)
}

func (r *RepositoryStub) UpdateEvent(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.events[event.Id]
	if !ok {
		return ErrEventNotFound
	}
	event.CreatedBy = stored.CreatedBy
	event.CreatedAt = stored.CreatedAt
	event.Status = stored.Status
	event.ScheduleId = stored.ScheduleId
	event.ScheduleDate = stored.ScheduleDate
	event.SourceCalendarId = stored.SourceCalendarId
	event.ChildIds = slices.Clone(event.ChildIds)
	event.OutOfSync = false
	r.events[event.Id] = event
	return nil
}

func (r *RepositoryStub) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return ErrEventNotFound
	}
	event.Status = status
	event.UpdatedAt = updatedAt
	r.events[id] = event
	return nil
}

func (r *RepositoryStub) DeleteEvent(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.Id]; !ok {
		return ErrEventNotFound
	}
	if event.ScheduleId != nil && event.ScheduleDate != nil {
		r.exclusions[exclusionKey{*event.ScheduleId, *event.ScheduleDate}] = true
	}
	delete(r.events, event.Id)
	return nil
}

func (r *RepositoryStub) GetEvents(ctx context.Context, userId int, from, to time.Time) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Event, 0)
	for _, e := range r.events {
		if !r.visibleTo(e, userId) {
			continue
		}
		if !e.StartTime.Before(to) || !(e.EndTime.After(from) || !e.StartTime.Before(from)) {
			continue
		}
		e.OutOfSync = r.conflicts[userId][e.Id]
		result = append(result, e)
	}
	return sortedEvents(result), nil
}

func (r *RepositoryStub) GetSyncableEvents(ctx context.Context, userId int, endAfter time.Time) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Event, 0)
	for _, e := range r.events {
		if r.visibleTo(e, userId) && e.Status != StatusRejected && e.EndTime.After(endAfter) {
			result = append(result, e)
		}
	}
	return sortedEvents(result), nil
}

func (r *RepositoryStub) LiveEventIds(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.events[id]; ok && e.Status != StatusRejected {
			live = append(live, id)
		}
	}
	return live, nil
}

func (r *RepositoryStub) StoreScheduleEvents(ctx context.Context, events []Event) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]Event, 0, len(events))
	for _, event := range events {
		key := exclusionKey{*event.ScheduleId, *event.ScheduleDate}
		if r.exclusions[key] || r.hasScheduleDate(key) {
			continue
		}
		event.UpdatedAt = event.CreatedAt
		event.ChildIds = slices.Clone(event.ChildIds)
		r.events[event.Id] = event
		stored = append(stored, event)
	}
	return stored, nil
}

func (r *RepositoryStub) hasScheduleDate(key exclusionKey) bool {
	for _, e := range r.events {
		if e.ScheduleId != nil && *e.ScheduleId == key.scheduleId && e.ScheduleDate.Equal(key.date) {
			return true
		}
	}
	return false
}

func (r *RepositoryStub) DeleteScheduleEvents(ctx context.Context, scheduleId int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := make([]Event, 0)
	for id, e := range r.events {
		if e.ScheduleId == nil || *e.ScheduleId != scheduleId {
			continue
		}
		if e.Detached {
			e.ScheduleId = nil
			r.events[id] = e
			continue
		}
		deleted = append(deleted, e)
		delete(r.events, id)
	}
	return sortedEvents(deleted), nil
}

func (r *RepositoryStub) ParentIdsOfChildren(ctx context.Context, childIds []int) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parentsOf(childIds), nil
}

func (r *RepositoryStub) parentsOf(childIds []int) []int {
	parentIds := make([]int, 0, 2)
	for _, childId := range childIds {
		for _, parentId := range r.childParents[childId] {
			if !slices.Contains(parentIds, parentId) {
				parentIds = append(parentIds, parentId)
			}
		}
	}
	slices.Sort(parentIds)
	return parentIds
}

func (r *RepositoryStub) visibleTo(e Event, userId int) bool {
	if e.CreatedBy == userId || (e.ResponsibleParentId != nil && *e.ResponsibleParentId == userId) {
		return true
	}
	return slices.Contains(r.parentsOf(e.ChildIds), userId)
}

func (r *RepositoryStub) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[uuid.UUID]Event)
	r.childParents = make(map[int][]int)
	r.exclusions = make(map[exclusionKey]bool)
	r.conflicts = make(map[int]map[uuid.UUID]bool)
}

func sortedEvents(events []Event) []Event {
	slices.SortFunc(events, func(a, b Event) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return slices.Compare(a.Id[:], b.Id[:])
	})
	return events
}
