package custody

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type RepositoryStub struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	schedules map[int]Schedule
	nextId    int
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{schedules: make(map[int]Schedule), nextId: 1}
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.mu.RLock()
	snapshot := maps.Clone(r.schedules)
	r.mu.RUnlock()
	if err := fn(r); err != nil {
		r.mu.Lock()
		r.schedules = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *RepositoryStub) StoreSchedule(ctx context.Context, schedule Schedule) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule.Id = r.nextId
	r.nextId++
	schedule.ParentIds = slices.Sorted(slices.Values(schedule.ParentIds))
	schedule.ChildIds = slices.Clone(schedule.ChildIds)
	schedule.Exclusions = nil
	r.schedules[schedule.Id] = schedule
	return schedule.Id, nil
}

func (r *RepositoryStub) GetSchedule(ctx context.Context, id int) (Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return Schedule{}, ErrScheduleNotFound
	}
	return schedule, nil
}

func (r *RepositoryStub) GetScheduleForUpdate(ctx context.Context, id int) (Schedule, error) {
	return r.GetSchedule(ctx, id)
}

func (r *RepositoryStub) ListSchedules(ctx context.Context, userId int) ([]Schedule, error) {
	return r.filter(func(s Schedule) bool { return s.hasParent(userId) }), nil
}

func (r *RepositoryStub) ListEffectiveSchedules(ctx context.Context, userId int, from, to time.Time) ([]Schedule, error) {
	return r.filter(func(s Schedule) bool {
		return s.hasParent(userId) && s.effective() &&
			!s.StartDate.After(to) && (s.EndDate == nil || !s.EndDate.Before(from))
	}), nil
}

func (r *RepositoryStub) filter(keep func(Schedule) bool) []Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Schedule, 0)
	for _, s := range r.schedules {
		if keep(s) {
			result = append(result, s)
		}
	}
	slices.SortFunc(result, func(a, b Schedule) int { return a.Id - b.Id })
	return result
}

func (r *RepositoryStub) UpdateStatus(ctx context.Context, id int, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}
	schedule.Status = status
	r.schedules[id] = schedule
	return nil
}

func (r *RepositoryStub) DeleteSchedule(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return ErrScheduleNotFound
	}
	delete(r.schedules, id)
	return nil
}

func (r *RepositoryStub) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules = make(map[int]Schedule)
	r.nextId = 1
}
