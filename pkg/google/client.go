package google

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const pageSize = 250

// Client is the Google Calendar v3 surface used by sync and the agenda overlay.
type Client interface {
	ListCalendars(ctx context.Context, token *oauth2.Token) ([]CalendarItem, error)
	// ListEventChanges returns changes since syncToken, or every event ending after timeMin when syncToken is empty.
	ListEventChanges(ctx context.Context, token *oauth2.Token, calendarId, syncToken string, timeMin time.Time) (ChangeSet, error)
	ListEvents(ctx context.Context, token *oauth2.Token, calendarId string, from, to time.Time) ([]RemoteEvent, error)
	InsertEvent(ctx context.Context, token *oauth2.Token, calendarId string, event RemoteEvent) (RemoteEvent, error)
	UpdateEvent(ctx context.Context, token *oauth2.Token, calendarId string, event RemoteEvent) (RemoteEvent, error)
	DeleteEvent(ctx context.Context, token *oauth2.Token, calendarId, eventId string) error
}

type ClientImpl struct {
	options []option.ClientOption
}

// NewClient accepts extra client options, e.g. option.WithEndpoint in tests.
func NewClient(options ...option.ClientOption) *ClientImpl {
	return &ClientImpl{options: options}
}

func (c *ClientImpl) service(ctx context.Context, token *oauth2.Token) (*gcal.Service, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	options := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, c.options...)
	return gcal.NewService(ctx, options...)
}

func (c *ClientImpl) ListCalendars(ctx context.Context, token *oauth2.Token) ([]CalendarItem, error) {
	service, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}
	var calendars []CalendarItem
	err = service.CalendarList.List().Context(ctx).Pages(ctx, func(list *gcal.CalendarList) error {
		for _, item := range list.Items {
			calendars = append(calendars, CalendarItem{
				Id:              item.Id,
				Summary:         item.Summary,
				BackgroundColor: item.BackgroundColor,
				Primary:         item.Primary,
			})
		}
		return nil
	})
	if err != nil {
		return nil, mapError("unable to list calendars", err)
	}
	return calendars, nil
}

func (c *ClientImpl) ListEventChanges(ctx context.Context, token *oauth2.Token, calendarId, syncToken string, timeMin time.Time) (ChangeSet, error) {
	service, err := c.service(ctx, token)
	if err != nil {
		return ChangeSet{}, err
	}
	call := service.Events.List(calendarId).
		ShowDeleted(true).
		SingleEvents(true).
		MaxResults(pageSize).
		Context(ctx)
	// the API rejects timeMin together with a sync token
	if syncToken != "" {
		call = call.SyncToken(syncToken)
	} else {
		call = call.TimeMin(timeMin.Format(time.RFC3339))
	}

	var changes ChangeSet
	err = call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			changes.Events = append(changes.Events, fromGoogleEvent(item))
		}
		if page.NextSyncToken != "" {
			changes.NextSyncToken = page.NextSyncToken
		}
		return nil
	})
	if err != nil {
		return ChangeSet{}, mapListError("unable to list event changes", err)
	}
	return changes, nil
}

func (c *ClientImpl) ListEvents(ctx context.Context, token *oauth2.Token, calendarId string, from, to time.Time) ([]RemoteEvent, error) {
	service, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}
	var events []RemoteEvent
	err = service.Events.List(calendarId).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(pageSize).
		Context(ctx).
		Pages(ctx, func(page *gcal.Events) error {
			for _, item := range page.Items {
				event := fromGoogleEvent(item)
				if !event.Cancelled() {
					events = append(events, event)
				}
			}
			return nil
		})
	if err != nil {
		return nil, mapError("unable to list events", err)
	}
	return events, nil
}

func (c *ClientImpl) InsertEvent(ctx context.Context, token *oauth2.Token, calendarId string, event RemoteEvent) (RemoteEvent, error) {
	service, err := c.service(ctx, token)
	if err != nil {
		return RemoteEvent{}, err
	}
	created, err := service.Events.Insert(calendarId, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return RemoteEvent{}, mapError("unable to insert event", err)
	}
	return fromGoogleEvent(created), nil
}

func (c *ClientImpl) UpdateEvent(ctx context.Context, token *oauth2.Token, calendarId string, event RemoteEvent) (RemoteEvent, error) {
	service, err := c.service(ctx, token)
	if err != nil {
		return RemoteEvent{}, err
	}
	updated, err := service.Events.Update(calendarId, event.Id, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return RemoteEvent{}, mapError("unable to update event", err)
	}
	return fromGoogleEvent(updated), nil
}

func (c *ClientImpl) DeleteEvent(ctx context.Context, token *oauth2.Token, calendarId, eventId string) error {
	service, err := c.service(ctx, token)
	if err != nil {
		return err
	}
	err = service.Events.Delete(calendarId, eventId).Context(ctx).Do()
	return mapError("unable to delete event", err)
}
