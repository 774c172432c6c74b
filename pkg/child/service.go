package child

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/kinsync/kinsync/pkg/user"
)

var ErrInvalidChild = errors.New("invalid child")

type UserLookup interface {
	GetUserByUid(ctx context.Context, uid string) (user.User, error)
}

type Service struct {
	repo  Repository
	users UserLookup
}

func NewService(repo Repository, users UserLookup) *Service {
	return &Service{repo: repo, users: users}
}

// CreateChild stores a child owned by the current user and the given co-parents.
func (s *Service) CreateChild(ctx context.Context, child Child, coParentUids []string) (Child, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Child{}, fmt.Errorf("failed to get current user: %w", err)
	}
	if child.FirstName == "" {
		return Child{}, fmt.Errorf("%w: first name is required", ErrInvalidChild)
	}

	parentIds := []int{userId}
	for _, uid := range coParentUids {
		coParent, err := s.users.GetUserByUid(ctx, uid)
		if err != nil {
			return Child{}, fmt.Errorf("%w: unknown co-parent %s: %v", ErrInvalidChild, uid, err)
		}
		if !slices.Contains(parentIds, coParent.Id) {
			parentIds = append(parentIds, coParent.Id)
		}
	}
	child.ParentIds = parentIds

	return s.repo.CreateChild(ctx, child)
}

func (s *Service) GetChildren(ctx context.Context) ([]Child, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.GetChildrenOfParent(ctx, userId)
}
