package calendar

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidTimeRange = errors.New("event end must not be before its start")
	ErrEventNotFound    = errors.New("event not found")
	ErrInvalidStatus    = errors.New("invalid event status")
	ErrInvalidEventType = errors.New("invalid event type")
)

type EventType string

const (
	EventTypeCustodyTransfer EventType = "custody_transfer"
	EventTypeAppointment     EventType = "appointment"
	EventTypeActivity        EventType = "activity"
	EventTypeSchool          EventType = "school"
	EventTypeOther           EventType = "other"
)

var eventTypes = []EventType{EventTypeCustodyTransfer, EventTypeAppointment, EventTypeActivity, EventTypeSchool, EventTypeOther}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Event struct {
	Id                  uuid.UUID
	Title               string
	Description         string
	StartTime           time.Time
	EndTime             time.Time
	AllDay              bool
	Location            string
	Type                EventType
	ResponsibleParentId *int
	CreatedBy           int
	Status              Status
	Color               string
	Notes               string
	ChildIds            []int
	// ScheduleId and ScheduleDate are set on events materialized from a custody schedule.
	ScheduleId   *int
	ScheduleDate *time.Time
	// Detached marks a schedule-derived event that was edited and no longer follows its schedule.
	Detached bool
	// SourceCalendarId is the external calendar the event was imported from.
	SourceCalendarId string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	// OutOfSync is true when the last sync pass found concurrent changes on both sides.
	OutOfSync bool
}

func (e Event) canBeModifiedBy(userId int) bool {
	if e.CreatedBy == userId {
		return true
	}
	return e.ResponsibleParentId != nil && *e.ResponsibleParentId == userId
}

func (e Event) canBeApprovedBy(userId int) bool {
	if e.ResponsibleParentId == nil {
		return e.CreatedBy == userId
	}
	return *e.ResponsibleParentId == userId
}

func (e Event) validate() error {
	if e.EndTime.Before(e.StartTime) {
		return ErrInvalidTimeRange
	}
	return nil
}

func (e Event) fromSchedule() bool {
	return e.ScheduleId != nil
}

func (e Event) SourceCalendar() string {
	return e.SourceCalendarId
}

func (e Event) ColorOverride() string {
	return e.Color
}

func validType(t EventType) bool {
	return slices.Contains(eventTypes, t)
}

// RemoteChange holds the fields an external calendar is allowed to change.
type RemoteChange struct {
	Title       string
	Description string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
	AllDay      bool
}

func (c RemoteChange) applyTo(e *Event) {
	e.Title = c.Title
	e.Description = c.Description
	e.Location = c.Location
	e.StartTime = c.StartTime
	e.EndTime = c.EndTime
	e.AllDay = c.AllDay
}
