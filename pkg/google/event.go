package google

import (
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

const (
	// InternalIdProperty is the private extended property carrying our event id on pushed events.
	InternalIdProperty = "kinsyncEventId"
	statusCancelled    = "cancelled"
	dateLayout         = "2006-01-02"
)

// RemoteEvent is the provider-neutral view of a Google Calendar event.
type RemoteEvent struct {
	Id          string
	Etag        string
	Status      string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	InternalId  string
	Updated     time.Time
}

func (e RemoteEvent) Cancelled() bool {
	return e.Status == statusCancelled
}

// ChangeSet is one incremental listing. NextSyncToken is used for the next listing.
type ChangeSet struct {
	Events        []RemoteEvent
	NextSyncToken string
}

type CalendarItem struct {
	Id              string
	Summary         string
	BackgroundColor string
	Primary         bool
}

func toGoogleEvent(e RemoteEvent) *gcal.Event {
	event := &gcal.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
	}
	if e.AllDay {
		// all-day end dates are exclusive
		end := e.End
		if !end.After(e.Start) {
			end = e.Start.AddDate(0, 0, 1)
		}
		event.Start = &gcal.EventDateTime{Date: e.Start.Format(dateLayout)}
		event.End = &gcal.EventDateTime{Date: end.Format(dateLayout)}
	} else {
		event.Start = &gcal.EventDateTime{DateTime: e.Start.Format(time.RFC3339)}
		event.End = &gcal.EventDateTime{DateTime: e.End.Format(time.RFC3339)}
	}
	if e.InternalId != "" {
		event.ExtendedProperties = &gcal.EventExtendedProperties{
			Private: map[string]string{InternalIdProperty: e.InternalId},
		}
	}
	return event
}

func fromGoogleEvent(item *gcal.Event) RemoteEvent {
	e := RemoteEvent{
		Id:          item.Id,
		Etag:        item.Etag,
		Status:      item.Status,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	e.Start, e.AllDay = parseEventTime(item.Start)
	e.End, _ = parseEventTime(item.End)
	if item.ExtendedProperties != nil {
		e.InternalId = item.ExtendedProperties.Private[InternalIdProperty]
	}
	if item.Updated != "" {
		e.Updated, _ = time.Parse(time.RFC3339, item.Updated)
	}
	return e
}

func parseEventTime(t *gcal.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.Date != "" {
		date, err := time.Parse(dateLayout, t.Date)
		if err != nil {
			return time.Time{}, true
		}
		return date, true
	}
	parsed, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), false
}
