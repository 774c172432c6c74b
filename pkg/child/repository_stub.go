package child

import (
	"context"
	"slices"
	"sync"
)

type RepositoryStub struct {
	mu       sync.RWMutex
	children map[int]Child
	nextId   int
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{children: make(map[int]Child), nextId: 1}
}

func (r *RepositoryStub) CreateChild(ctx context.Context, child Child) (Child, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	child.Id = r.nextId
	r.nextId++
	child.ParentIds = slices.Clone(child.ParentIds)
	slices.Sort(child.ParentIds)
	r.children[child.Id] = child
	return child, nil
}

func (r *RepositoryStub) GetChildrenOfParent(ctx context.Context, parentId int) ([]Child, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Child, 0)
	for _, c := range r.children {
		if slices.Contains(c.ParentIds, parentId) {
			result = append(result, c)
		}
	}
	slices.SortFunc(result, func(a, b Child) int { return a.Id - b.Id })
	return result, nil
}

func (r *RepositoryStub) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children = make(map[int]Child)
	r.nextId = 1
}
