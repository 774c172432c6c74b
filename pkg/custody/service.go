package custody

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kinsync/kinsync/internal/config"
	"github.com/kinsync/kinsync/internal/utils"
	"github.com/kinsync/kinsync/pkg/calendar"
	"github.com/kinsync/kinsync/pkg/user"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidSchedule  = errors.New("invalid custody schedule")
	ErrPermissionDenied = errors.New("permission denied")
)

// EventWriter stores the calendar events materialized from schedules.
type EventWriter interface {
	AddScheduleEvents(ctx context.Context, events []calendar.Event) ([]calendar.Event, error)
	DeleteScheduleEvents(ctx context.Context, scheduleId int) (int, error)
}

type Service struct {
	repo   Repository
	events EventWriter
	clock  utils.Clock
	cfg    config.Custody
}

func NewService(repo Repository, events EventWriter, clock utils.Clock, cfg config.Custody) *Service {
	return &Service{repo: repo, events: events, clock: clock, cfg: cfg}
}

// CreateSchedule stores a new pending schedule. The creator always becomes one of its parents.
func (s *Service) CreateSchedule(ctx context.Context, schedule Schedule) (Schedule, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Schedule{}, fmt.Errorf("failed to get current user: %w", err)
	}
	if schedule.Title == "" {
		return Schedule{}, fmt.Errorf("%w: title is required", ErrInvalidSchedule)
	}
	if schedule.Pattern == nil {
		return Schedule{}, fmt.Errorf("%w: pattern is required", ErrInvalidPattern)
	}
	schedule.StartDate = utils.CivilDate(schedule.StartDate)
	if schedule.EndDate != nil {
		end := utils.CivilDate(*schedule.EndDate)
		if end.Before(schedule.StartDate) {
			return Schedule{}, fmt.Errorf("%w: end date is before start date", ErrInvalidSchedule)
		}
		schedule.EndDate = &end
	}

	if !slices.Contains(schedule.ParentIds, userId) {
		schedule.ParentIds = append([]int{userId}, schedule.ParentIds...)
	}
	schedule.CreatedBy = userId
	schedule.Status = StatusPending
	schedule.Active = true
	schedule.CreatedAt = s.clock.Now().UTC().Truncate(time.Microsecond)

	id, err := s.repo.StoreSchedule(ctx, schedule)
	if err != nil {
		return Schedule{}, fmt.Errorf("failed to store custody schedule: %w", err)
	}
	schedule.Id = id
	log.Infof("custody schedule %d created by user %d", id, userId)
	return schedule, nil
}

func (s *Service) GetSchedule(ctx context.Context, id int) (Schedule, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Schedule{}, fmt.Errorf("failed to get current user: %w", err)
	}
	schedule, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if !schedule.hasParent(userId) {
		return Schedule{}, ErrScheduleNotFound
	}
	return schedule, nil
}

func (s *Service) ListSchedules(ctx context.Context) ([]Schedule, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.repo.ListSchedules(ctx, userId)
}

// SetStatus approves or rejects a schedule. The creator cannot approve their own schedule unless they are its only parent.
// Approval validates the pattern and materializes the upcoming window.
func (s *Service) SetStatus(ctx context.Context, id int, status Status) (Schedule, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return Schedule{}, fmt.Errorf("failed to get current user: %w", err)
	}
	if status != StatusApproved && status != StatusRejected {
		return Schedule{}, fmt.Errorf("%w: unsupported status %q", ErrInvalidSchedule, status)
	}

	var previous Status
	var updated Schedule
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		schedule, err := repo.GetScheduleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !schedule.hasParent(userId) {
			return ErrScheduleNotFound
		}
		if schedule.CreatedBy == userId && len(schedule.ParentIds) > 1 {
			return fmt.Errorf("%w: the other parent must decide on this schedule", ErrPermissionDenied)
		}
		if status == StatusApproved {
			if err := Validate(schedule.Pattern, schedule.ParentIds); err != nil {
				return err
			}
		}
		previous = schedule.Status
		schedule.Status = status
		updated = schedule
		return repo.UpdateStatus(ctx, id, status)
	})
	if err != nil {
		return Schedule{}, err
	}

	switch {
	case status == StatusApproved:
		from := s.today(ctx)
		if _, err := s.MaterializeWindow(ctx, id, from, from.AddDate(0, 0, s.cfg.MaterializeDays)); err != nil {
			return Schedule{}, err
		}
	case previous == StatusApproved:
		if _, err := s.events.DeleteScheduleEvents(ctx, id); err != nil {
			return Schedule{}, err
		}
	}
	return updated, nil
}

// DeleteSchedule removes the schedule together with its events that were not edited individually.
func (s *Service) DeleteSchedule(ctx context.Context, id int) error {
	schedule, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	deleted, err := s.events.DeleteScheduleEvents(ctx, schedule.Id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSchedule(ctx, schedule.Id); err != nil {
		return fmt.Errorf("failed to delete custody schedule: %w", err)
	}
	log.Infof("custody schedule %d deleted with %d events", id, deleted)
	return nil
}

// MaterializeWindow generates the events of one effective schedule between from and to.
func (s *Service) MaterializeWindow(ctx context.Context, scheduleId int, from, to time.Time) (int, error) {
	schedule, err := s.repo.GetSchedule(ctx, scheduleId)
	if err != nil {
		return 0, err
	}
	if !schedule.effective() {
		return 0, nil
	}
	return s.materialize(ctx, schedule, utils.CivilDate(from), utils.CivilDate(to))
}

// MaterializeForUser generates the events of all effective schedules of the current user overlapping the window.
func (s *Service) MaterializeForUser(ctx context.Context, from, to time.Time) error {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	from, to = utils.CivilDate(from), utils.CivilDate(to)
	schedules, err := s.repo.ListEffectiveSchedules(ctx, userId, from, to)
	if err != nil {
		return fmt.Errorf("failed to list custody schedules: %w", err)
	}
	for _, schedule := range schedules {
		if _, err := s.materialize(ctx, schedule, from, to); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) materialize(ctx context.Context, schedule Schedule, from, to time.Time) (int, error) {
	instances := Expand(schedule, from, to)
	if len(instances) == 0 {
		return 0, nil
	}
	events := make([]calendar.Event, 0, len(instances))
	for _, instance := range instances {
		events = append(events, instanceEvent(schedule, instance))
	}
	stored, err := s.events.AddScheduleEvents(ctx, events)
	if err != nil {
		return 0, fmt.Errorf("failed to materialize custody schedule %d: %w", schedule.Id, err)
	}
	log.Debugf("custody schedule %d: %d of %d instances materialized", schedule.Id, len(stored), len(instances))
	return len(stored), nil
}

func instanceEvent(schedule Schedule, instance Instance) calendar.Event {
	scheduleId := schedule.Id
	date := instance.Date
	responsible := instance.ResponsibleParentId
	return calendar.Event{
		Title:               schedule.Title,
		Description:         schedule.Description,
		StartTime:           date,
		EndTime:             date.Add(day),
		AllDay:              true,
		Type:                calendar.EventTypeCustodyTransfer,
		ResponsibleParentId: &responsible,
		CreatedBy:           schedule.CreatedBy,
		Status:              calendar.StatusApproved,
		ChildIds:            slices.Clone(schedule.ChildIds),
		ScheduleId:          &scheduleId,
		ScheduleDate:        &date,
	}
}

// today is the current civil date in the user's timezone.
func (s *Service) today(ctx context.Context) time.Time {
	now := s.clock.Now()
	if u, err := user.CurrentUser(ctx); err == nil {
		now = now.In(u.Settings.Location())
	}
	return utils.CivilDate(now)
}
