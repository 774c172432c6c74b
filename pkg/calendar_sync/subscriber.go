package calendar_sync

import (
	"github.com/kinsync/kinsync/internal/event_bus"
)

// Subscribe triggers passes for users affected by calendar changes and for newly enabled accounts.
// The user whose external calendar produced a change is skipped, the change already is in sync there.
func (o *Orchestrator) Subscribe(bus *event_bus.EventBus) (unsubscribe func()) {
	unsubscribeEvents := event_bus.SubscribeTyped(bus, event_bus.CalendarEventsChangedType,
		func(e event_bus.EventT[event_bus.CalendarEventsChanged]) error {
			for _, userId := range e.Data.UserIds {
				if userId != e.Data.SyncedFromUserId {
					o.Trigger(userId)
				}
			}
			return nil
		})
	unsubscribeAccounts := event_bus.SubscribeTyped(bus, event_bus.ExternalAccountChangedType,
		func(e event_bus.EventT[event_bus.ExternalAccountChanged]) error {
			if e.Data.SyncEnabled {
				o.Trigger(e.Data.UserId)
			}
			return nil
		})
	return func() {
		unsubscribeEvents()
		unsubscribeAccounts()
	}
}
