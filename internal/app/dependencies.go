package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kinsync/kinsync/internal/config"
	"github.com/kinsync/kinsync/internal/event_bus"
	"github.com/kinsync/kinsync/internal/utils"
	"github.com/kinsync/kinsync/pkg/agenda"
	"github.com/kinsync/kinsync/pkg/calendar"
	"github.com/kinsync/kinsync/pkg/calendar_sync"
	"github.com/kinsync/kinsync/pkg/child"
	"github.com/kinsync/kinsync/pkg/custody"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/sync_mapping"
	"github.com/kinsync/kinsync/pkg/user"
	"github.com/kinsync/kinsync/pkg/visibility"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock    utils.Clock
	EventBus *event_bus.EventBus

	UserService user.Service
	UserHandler *user.Handler

	ChildService *child.Service
	ChildHandler *child.Handler

	CalendarService *calendar.Service
	CalendarHandler *calendar.Handler

	CustodyService *custody.Service
	CustodyHandler *custody.Handler

	GoogleClient google.Client
	GoogleOAuth  *google.OAuth

	Vault                  *external_account.Vault
	ExternalAccountHandler *external_account.Handler

	SyncOrchestrator *calendar_sync.Orchestrator
	SyncScheduler    *calendar_sync.Scheduler
	SyncHandler      *calendar_sync.Handler

	VisibilityService *visibility.Service
	VisibilityHandler *visibility.Handler

	AgendaService *agenda.Service
	AgendaHandler *agenda.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(db *pgxpool.Pool, cfg config.Application) *Dependencies {
	deps := &Dependencies{}

	deps.Clock = utils.SystemClock{}
	deps.EventBus = event_bus.NewEventBus()

	deps.UserService = user.NewUserService(user.NewUserRepo(db))
	deps.UserHandler = user.NewHandler(deps.UserService)

	deps.ChildService = child.NewService(child.NewRepository(db), deps.UserService)
	deps.ChildHandler = child.NewHandler(deps.ChildService)

	deps.CalendarService = calendar.NewService(calendar.NewRepository(db), deps.EventBus, deps.Clock)
	deps.CalendarHandler = calendar.NewHandler(deps.CalendarService)

	deps.CustodyService = custody.NewService(custody.NewRepository(db), deps.CalendarService, deps.Clock, cfg.Custody)
	deps.CustodyHandler = custody.NewHandler(deps.CustodyService)

	deps.GoogleClient = google.NewClient()
	deps.GoogleOAuth = google.NewOAuth(cfg)

	deps.Vault = external_account.NewVault(external_account.NewRepository(db), deps.GoogleOAuth, deps.EventBus, deps.Clock, cfg.Sync)
	deps.ExternalAccountHandler = external_account.NewHandler(deps.Vault, cfg.Host)

	deps.SyncOrchestrator = calendar_sync.NewOrchestrator(
		deps.Vault,
		deps.CalendarService,
		sync_mapping.NewRepository(db),
		deps.GoogleClient,
		deps.Clock,
		cfg.Sync,
	)
	deps.SyncScheduler = calendar_sync.NewScheduler(deps.SyncOrchestrator, cfg.Sync)
	deps.SyncHandler = calendar_sync.NewHandler(deps.SyncOrchestrator, deps.Vault)

	deps.VisibilityService = visibility.NewService(visibility.NewRepository(db), deps.Vault, deps.GoogleClient)
	deps.VisibilityHandler = visibility.NewHandler(deps.VisibilityService)

	deps.AgendaService = agenda.NewService(deps.CustodyService, deps.CalendarService, deps.VisibilityService, deps.Vault, deps.GoogleClient)
	deps.AgendaHandler = agenda.NewHandler(deps.AgendaService)

	return deps
}
