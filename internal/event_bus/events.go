package event_bus

const (
	CalendarEventsChangedType  EventType = "calendar.events.changed"
	ExternalAccountChangedType EventType = "external_account.changed"
)

// CalendarEventsChanged is published after calendar events were created, updated or deleted.
type CalendarEventsChanged struct {
	EventIds []string
	// UserIds are the users who can see the changed events.
	UserIds []int
	// SyncedFromUserId is set when the change was pulled from that user's external calendar.
	SyncedFromUserId int
}

// ExternalAccountChanged is published when a user connects an account or changes its sync settings.
type ExternalAccountChanged struct {
	UserId      int
	SyncEnabled bool
}
