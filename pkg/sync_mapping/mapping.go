package sync_mapping

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrMappingNotFound = errors.New("sync mapping not found")

// Mapping links an internal event to its copy in a user's external calendar.
type Mapping struct {
	Id              int
	UserId          int
	EventId         uuid.UUID
	CalendarId      string
	ExternalEventId string
	// LastSynced is the internal updated_at that was last reconciled with the external copy.
	LastSynced time.Time
	Etag       string
	Conflict   bool
}
