package agenda

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kinsync/kinsync/pkg/calendar"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/user"
	"github.com/kinsync/kinsync/pkg/visibility"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Entry is one agenda item, either a stored event or an event read live from an external calendar.
type Entry struct {
	Event    calendar.Event
	External bool
	// ExternalId is set for live external events.
	ExternalId string
}

func (e Entry) SourceCalendar() string {
	return e.Event.SourceCalendarId
}

func (e Entry) ColorOverride() string {
	return e.Event.Color
}

type Materializer interface {
	MaterializeForUser(ctx context.Context, from, to time.Time) error
}

type EventReader interface {
	GetEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error)
}

type CalendarLister interface {
	CalendarsOf(ctx context.Context, userId int) ([]visibility.Calendar, error)
	Selections(ctx context.Context, userId int) ([]visibility.Selection, error)
}

type TokenVault interface {
	GetValidToken(ctx context.Context, userId int) (*oauth2.Token, error)
}

type Service struct {
	schedules Materializer
	events    EventReader
	calendars CalendarLister
	vault     TokenVault
	client    google.Client
}

func NewService(schedules Materializer, events EventReader, calendars CalendarLister, vault TokenVault, client google.Client) *Service {
	return &Service{
		schedules: schedules,
		events:    events,
		calendars: calendars,
		vault:     vault,
		client:    client,
	}
}

// GetEvents returns the visible agenda of the current user between start and end with display colors.
// Failing external calendars are logged and left out.
func (s *Service) GetEvents(ctx context.Context, start, end time.Time) ([]visibility.Projected[Entry], error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	if end.Before(start) {
		return nil, calendar.ErrInvalidTimeRange
	}

	if err := s.schedules.MaterializeForUser(ctx, start, end); err != nil {
		log.Errorf("failed to materialize custody schedules of user %d: %v", userId, err)
	}
	stored, err := s.events.GetEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, Entry{Event: e})
	}

	selections, providerColors, overlay := s.overlay(ctx, userId, start, end)
	entries = append(entries, overlay...)
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return a.Event.StartTime.Compare(b.Event.StartTime)
	})
	return visibility.Visible(visibility.Project(entries, selections, providerColors)), nil
}

// overlay reads the selected external calendars other than the sync target.
func (s *Service) overlay(ctx context.Context, userId int, start, end time.Time) ([]visibility.Selection, map[string]string, []Entry) {
	selections, err := s.calendars.Selections(ctx, userId)
	if err != nil {
		log.Errorf("failed to read calendar selections of user %d: %v", userId, err)
		return nil, nil, nil
	}
	calendars, err := s.calendars.CalendarsOf(ctx, userId)
	if errors.Is(err, external_account.ErrNotConnected) || errors.Is(err, external_account.ErrReauthRequired) {
		return selections, nil, nil
	}
	if err != nil {
		log.Warnf("failed to list external calendars of user %d: %v", userId, err)
		return selections, nil, nil
	}

	providerColors := make(map[string]string, len(calendars))
	var entries []Entry
	var token *oauth2.Token
	for _, c := range calendars {
		providerColors[c.Id] = c.ProviderColor
		if !c.Selected || c.Target {
			continue
		}
		if token == nil {
			if token, err = s.vault.GetValidToken(ctx, userId); err != nil {
				log.Warnf("failed to get token of user %d: %v", userId, err)
				return selections, providerColors, nil
			}
		}
		events, err := s.client.ListEvents(ctx, token, c.Id, start, end)
		if err != nil {
			log.Warnf("failed to read external calendar %q of user %d: %v", c.Id, userId, err)
			continue
		}
		for _, e := range events {
			entries = append(entries, externalEntry(c.Id, e))
		}
	}
	return selections, providerColors, entries
}

func externalEntry(calendarId string, e google.RemoteEvent) Entry {
	return Entry{
		External:   true,
		ExternalId: e.Id,
		Event: calendar.Event{
			Title:            e.Summary,
			Description:      e.Description,
			Location:         e.Location,
			StartTime:        e.Start,
			EndTime:          e.End,
			AllDay:           e.AllDay,
			Type:             calendar.EventTypeOther,
			Status:           calendar.StatusApproved,
			SourceCalendarId: calendarId,
			UpdatedAt:        e.Updated,
		},
	}
}
