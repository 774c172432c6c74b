package app

import (
	"github.com/gorilla/mux"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all endpoints. The OAuth callback and metrics live outside
// the user middleware, the callback resolves its user from the state nonce.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc(google.CallbackPath, deps.ExternalAccountHandler.Callback).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	SetupMiddleware(api, deps)

	// Users and children
	api.HandleFunc("/user/current", deps.UserHandler.CurrentUser).Methods("GET")
	api.HandleFunc("/user", deps.UserHandler.CreateUser).Methods("POST")
	api.HandleFunc("/user", deps.UserHandler.GetAvailableUsers).Methods("GET")
	api.HandleFunc("/children", deps.ChildHandler.GetChildren).Methods("GET")
	api.HandleFunc("/children", deps.ChildHandler.CreateChild).Methods("POST")

	// Calendar
	api.HandleFunc("/calendar/events", deps.AgendaHandler.GetEvents).Queries("start", "{start}", "end", "{end}").Methods("GET")
	api.HandleFunc("/calendar/events", deps.CalendarHandler.CreateEvent).Methods("POST")
	api.HandleFunc("/calendar/events/{eventId}", deps.CalendarHandler.UpdateEvent).Methods("PUT")
	api.HandleFunc("/calendar/events/{eventId}", deps.CalendarHandler.DeleteEvent).Methods("DELETE")
	api.HandleFunc("/calendar/events/{eventId}/status", deps.CalendarHandler.SetStatus).Methods("PUT")

	// Custody schedules
	api.HandleFunc("/calendar/custody-schedules", deps.CustodyHandler.ListSchedules).Methods("GET")
	api.HandleFunc("/calendar/custody-schedules", deps.CustodyHandler.CreateSchedule).Methods("POST")
	api.HandleFunc("/calendar/custody-schedules/{scheduleId}", deps.CustodyHandler.GetSchedule).Methods("GET")
	api.HandleFunc("/calendar/custody-schedules/{scheduleId}/status", deps.CustodyHandler.SetStatus).Methods("PUT")
	api.HandleFunc("/calendar/custody-schedules/{scheduleId}", deps.CustodyHandler.DeleteSchedule).Methods("DELETE")

	// External calendar
	api.HandleFunc("/external-calendar/auth/login", deps.ExternalAccountHandler.Login).Methods("GET")
	api.HandleFunc("/external-calendar/connect", deps.ExternalAccountHandler.Connect).Methods("POST")
	api.HandleFunc("/external-calendar/disconnect", deps.ExternalAccountHandler.Disconnect).Methods("POST")
	api.HandleFunc("/external-calendar/settings", deps.ExternalAccountHandler.UpdateSettings).Methods("PUT")
	api.HandleFunc("/external-calendar/status", deps.SyncHandler.Status).Methods("GET")
	api.HandleFunc("/external-calendar/sync", deps.SyncHandler.Sync).Methods("POST")
	api.HandleFunc("/external-calendar/calendars", deps.VisibilityHandler.ListCalendars).Methods("GET")
	api.HandleFunc("/external-calendar/selection", deps.VisibilityHandler.SaveSelections).Methods("POST")
}
