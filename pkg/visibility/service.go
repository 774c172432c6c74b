package visibility

import (
	"context"
	"fmt"
	"strings"

	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/user"
	"golang.org/x/oauth2"
)

type TokenVault interface {
	GetValidToken(ctx context.Context, userId int) (*oauth2.Token, error)
	Account(ctx context.Context, userId int) (external_account.Account, error)
}

// Calendar is a provider calendar merged with the user's selection.
type Calendar struct {
	Id            string
	Summary       string
	Primary       bool
	// Target is the calendar internal events are synchronized to.
	Target        bool
	Selected      bool
	Color         string
	ProviderColor string
}

type Service struct {
	repo   Repository
	vault  TokenVault
	client google.Client
}

func NewService(repo Repository, vault TokenVault, client google.Client) *Service {
	return &Service{repo: repo, vault: vault, client: client}
}

// Calendars lists the provider calendars of the current user. Calendars without a stored
// selection are reported as not selected.
func (s *Service) Calendars(ctx context.Context) ([]Calendar, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return s.CalendarsOf(ctx, userId)
}

func (s *Service) CalendarsOf(ctx context.Context, userId int) ([]Calendar, error) {
	account, err := s.vault.Account(ctx, userId)
	if err != nil {
		return nil, err
	}
	token, err := s.vault.GetValidToken(ctx, userId)
	if err != nil {
		return nil, err
	}
	items, err := s.client.ListCalendars(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars of user %d: %w", userId, err)
	}
	selections, err := s.repo.ListSelections(ctx, userId)
	if err != nil {
		return nil, err
	}
	byCalendar := make(map[string]Selection, len(selections))
	for _, sel := range selections {
		byCalendar[sel.CalendarId] = sel
	}

	calendars := make([]Calendar, 0, len(items))
	for _, item := range items {
		selection := byCalendar[item.Id]
		calendar := Calendar{
			Id:            item.Id,
			Summary:       item.Summary,
			Primary:       item.Primary,
			Target:        item.Id == account.CalendarId || (item.Primary && account.CalendarId == external_account.DefaultCalendarId),
			Selected:      selection.Selected,
			Color:         selection.Color,
			ProviderColor: item.BackgroundColor,
		}
		if calendar.Color == "" {
			calendar.Color = item.BackgroundColor
		}
		calendars = append(calendars, calendar)
	}
	return calendars, nil
}

func (s *Service) Selections(ctx context.Context, userId int) ([]Selection, error) {
	return s.repo.ListSelections(ctx, userId)
}

func (s *Service) SaveSelections(ctx context.Context, selections []Selection) ([]Selection, error) {
	userId, err := user.CurrentId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	for _, sel := range selections {
		if strings.TrimSpace(sel.CalendarId) == "" {
			return nil, fmt.Errorf("%w: calendar id is required", ErrInvalidSelection)
		}
	}
	if err := s.repo.SaveSelections(ctx, userId, selections); err != nil {
		return nil, err
	}
	return s.repo.ListSelections(ctx, userId)
}
