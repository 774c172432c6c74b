package calendar

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kinsync/kinsync/internal/event_bus"
	"github.com/kinsync/kinsync/internal/utils"
	"github.com/kinsync/kinsync/pkg/user"
	log "github.com/sirupsen/logrus"
)

type Service struct {
	repo  Repository
	bus   *event_bus.EventBus
	clock utils.Clock
}

func NewService(repo Repository, bus *event_bus.EventBus, clock utils.Clock) *Service {
	return &Service{
		repo:  repo,
		bus:   bus,
		clock: clock,
	}
}

// now is truncated to the precision Postgres stores, so stored versions compare equal after a round trip.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) CreateEvent(ctx context.Context, event Event) (Event, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("failed to get current user: %w", err)
	}
	if err := event.validate(); err != nil {
		return Event{}, err
	}
	if event.Type == "" {
		event.Type = EventTypeOther
	}
	if !validType(event.Type) {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidEventType, event.Type)
	}

	event.Id = uuid.New()
	event.CreatedBy = userId
	event.Status = StatusApproved
	if event.ResponsibleParentId != nil && *event.ResponsibleParentId != userId {
		event.Status = StatusPending
	}
	event.ScheduleId = nil
	event.ScheduleDate = nil
	event.Detached = false
	event.SourceCalendarId = ""
	event.CreatedAt = s.now()
	event.UpdatedAt = event.CreatedAt

	if err := s.repo.StoreEvent(ctx, event); err != nil {
		return Event{}, fmt.Errorf("failed to store event: %w", err)
	}
	s.publishChanged(ctx, 0, event)
	return event, nil
}

// UpdateEvent replaces the editable fields of an event. Approval status is never changed here.
func (s *Service) UpdateEvent(ctx context.Context, event Event) (Event, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("failed to get current user: %w", err)
	}
	if err := event.validate(); err != nil {
		return Event{}, err
	}
	if event.Type != "" && !validType(event.Type) {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidEventType, event.Type)
	}

	var before, updated Event
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		stored, err := repo.GetEventForUpdate(ctx, event.Id)
		if err != nil {
			return err
		}
		if !stored.canBeModifiedBy(userId) {
			return ErrPermissionDenied
		}
		before = stored

		updated = stored
		updated.Title = event.Title
		updated.Description = event.Description
		updated.StartTime = event.StartTime
		updated.EndTime = event.EndTime
		updated.AllDay = event.AllDay
		updated.Location = event.Location
		if event.Type != "" {
			updated.Type = event.Type
		}
		updated.ResponsibleParentId = event.ResponsibleParentId
		updated.Color = event.Color
		updated.Notes = event.Notes
		updated.ChildIds = event.ChildIds
		updated.Detached = stored.Detached || stored.fromSchedule()
		updated.UpdatedAt = s.now()
		return repo.UpdateEvent(ctx, updated)
	})
	if err != nil {
		return Event{}, err
	}
	s.publishChanged(ctx, 0, before, updated)
	return updated, nil
}

func (s *Service) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	return s.deleteEvent(ctx, userId, id, 0)
}

// DeleteEventAs deletes an event on behalf of a user whose external calendar cancelled it.
func (s *Service) DeleteEventAs(ctx context.Context, userId int, id uuid.UUID) error {
	return s.deleteEvent(ctx, userId, id, userId)
}

func (s *Service) deleteEvent(ctx context.Context, userId int, id uuid.UUID, syncedFrom int) error {
	var deleted Event
	err := s.repo.WithTransaction(ctx, func(repo Repository) error {
		stored, err := repo.GetEventForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !stored.canBeModifiedBy(userId) {
			return ErrPermissionDenied
		}
		deleted = stored
		return repo.DeleteEvent(ctx, stored)
	})
	if err != nil {
		return err
	}
	s.publishChanged(ctx, syncedFrom, deleted)
	return nil
}

// SetStatus approves or rejects an event. Only the responsible parent may decide, or the creator when nobody is responsible.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status Status) (Event, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("failed to get current user: %w", err)
	}
	if status != StatusApproved && status != StatusRejected && status != StatusPending {
		return Event{}, ErrInvalidStatus
	}

	var updated Event
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		stored, err := repo.GetEventForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !stored.canBeApprovedBy(userId) {
			return ErrPermissionDenied
		}
		stored.Status = status
		stored.UpdatedAt = s.now()
		updated = stored
		return repo.UpdateStatus(ctx, id, status, stored.UpdatedAt)
	})
	if err != nil {
		return Event{}, err
	}
	s.publishChanged(ctx, 0, updated)
	return updated, nil
}

func (s *Service) GetEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.GetEvents(ctx, userId, from, to)
}

// ListSyncableEvents returns events the user can see that are not rejected and end after endAfter.
func (s *Service) ListSyncableEvents(ctx context.Context, userId int, endAfter time.Time) ([]Event, error) {
	return s.repo.GetSyncableEvents(ctx, userId, endAfter)
}

// LiveEventIds returns the subset of ids that still exist and are not rejected.
func (s *Service) LiveEventIds(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	live, err := s.repo.LiveEventIds(ctx, ids)
	if err != nil {
		return nil, err
	}
	result := make(map[uuid.UUID]bool, len(live))
	for _, id := range live {
		result[id] = true
	}
	return result, nil
}

// ApplyRemoteChange updates the fields of an event that was changed in the user's external calendar.
func (s *Service) ApplyRemoteChange(ctx context.Context, userId int, id uuid.UUID, change RemoteChange) (Event, error) {
	updated := Event{}
	err := s.repo.WithTransaction(ctx, func(repo Repository) error {
		stored, err := repo.GetEventForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !stored.canBeModifiedBy(userId) {
			return ErrPermissionDenied
		}
		updated = stored
		change.applyTo(&updated)
		if err := updated.validate(); err != nil {
			return err
		}
		updated.Detached = stored.Detached || stored.fromSchedule()
		updated.UpdatedAt = s.now()
		return repo.UpdateEvent(ctx, updated)
	})
	if err != nil {
		return Event{}, err
	}
	s.publishChanged(ctx, userId, updated)
	return updated, nil
}

// ImportRemoteEvent creates an internal event from an event that only exists in the user's external calendar.
func (s *Service) ImportRemoteEvent(ctx context.Context, userId int, calendarId string, change RemoteChange) (Event, error) {
	event := Event{
		Id:               uuid.New(),
		Type:             EventTypeOther,
		CreatedBy:        userId,
		Status:           StatusApproved,
		SourceCalendarId: calendarId,
	}
	change.applyTo(&event)
	if err := event.validate(); err != nil {
		return Event{}, err
	}
	event.CreatedAt = s.now()
	event.UpdatedAt = event.CreatedAt

	if err := s.repo.StoreEvent(ctx, event); err != nil {
		return Event{}, fmt.Errorf("failed to store imported event: %w", err)
	}
	s.publishChanged(ctx, userId, event)
	return event, nil
}

// AddScheduleEvents stores materialized schedule events. Dates that already have an event or were excluded are skipped.
func (s *Service) AddScheduleEvents(ctx context.Context, events []Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	now := s.now()
	for i := range events {
		if err := events[i].validate(); err != nil {
			return nil, err
		}
		if events[i].Id == uuid.Nil {
			events[i].Id = uuid.New()
		}
		events[i].CreatedAt = now
		events[i].UpdatedAt = now
	}
	stored, err := s.repo.StoreScheduleEvents(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("failed to store schedule events: %w", err)
	}
	if len(stored) > 0 {
		log.Debugf("materialized %d schedule events", len(stored))
		s.publishChanged(ctx, 0, stored...)
	}
	return stored, nil
}

// DeleteScheduleEvents removes the events of a schedule that were not edited since materialization.
func (s *Service) DeleteScheduleEvents(ctx context.Context, scheduleId int) (int, error) {
	deleted, err := s.repo.DeleteScheduleEvents(ctx, scheduleId)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events of schedule %d: %w", scheduleId, err)
	}
	if len(deleted) > 0 {
		s.publishChanged(ctx, 0, deleted...)
	}
	return len(deleted), nil
}

func (s *Service) publishChanged(ctx context.Context, syncedFrom int, events ...Event) {
	if s.bus == nil || len(events) == 0 {
		return
	}
	userIds, err := s.affectedUsers(ctx, events)
	if err != nil {
		log.Warnf("failed to resolve users affected by event change: %v", err)
		return
	}
	eventIds := make([]string, 0, len(events))
	for _, e := range events {
		if !slices.Contains(eventIds, e.Id.String()) {
			eventIds = append(eventIds, e.Id.String())
		}
	}
	err = s.bus.Publish(event_bus.NewEvent(ctx, event_bus.CalendarEventsChangedType, event_bus.CalendarEventsChanged{
		EventIds:         eventIds,
		UserIds:          userIds,
		SyncedFromUserId: syncedFrom,
	}))
	if err != nil {
		log.Warnf("calendar change subscribers failed: %v", err)
	}
}

func (s *Service) affectedUsers(ctx context.Context, events []Event) ([]int, error) {
	userIds := make([]int, 0, 2)
	add := func(id int) {
		if id != 0 && !slices.Contains(userIds, id) {
			userIds = append(userIds, id)
		}
	}
	childIds := make([]int, 0)
	for _, e := range events {
		add(e.CreatedBy)
		if e.ResponsibleParentId != nil {
			add(*e.ResponsibleParentId)
		}
		childIds = append(childIds, e.ChildIds...)
	}
	parentIds, err := s.repo.ParentIdsOfChildren(ctx, childIds)
	if err != nil {
		return nil, err
	}
	for _, id := range parentIds {
		add(id)
	}
	slices.Sort(userIds)
	return userIds, nil
}
