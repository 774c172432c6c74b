package visibility

import (
	"context"
	"slices"
	"strings"
	"sync"
)

type RepositoryStub struct {
	mu         sync.RWMutex
	selections map[int]map[string]Selection
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{selections: make(map[int]map[string]Selection)}
}

func (r *RepositoryStub) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selections = make(map[int]map[string]Selection)
}

func (r *RepositoryStub) ListSelections(ctx context.Context, userId int) ([]Selection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Selection, 0, len(r.selections[userId]))
	for _, s := range r.selections[userId] {
		result = append(result, s)
	}
	slices.SortFunc(result, func(a, b Selection) int { return strings.Compare(a.CalendarId, b.CalendarId) })
	return result, nil
}

func (r *RepositoryStub) SaveSelections(ctx context.Context, userId int, selections []Selection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selections[userId] == nil {
		r.selections[userId] = make(map[string]Selection)
	}
	for _, s := range selections {
		s.UserId = userId
		r.selections[userId][s.CalendarId] = s
	}
	return nil
}
