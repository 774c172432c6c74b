package calendar_sync

import (
	"context"
	"errors"
	"net/http"

	"github.com/kinsync/kinsync/internal/rest"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/user"
	log "github.com/sirupsen/logrus"
)

type ResultDTO struct {
	Pushed         int      `json:"pushed"`
	Pulled         int      `json:"pulled"`
	Deleted        int      `json:"deleted"`
	Conflicts      int      `json:"conflicts"`
	FailedEventIds []string `json:"failedEventIds"`
}

type StatusDTO struct {
	external_account.StatusDTO
	State State `json:"state"`
}

type StatusReader interface {
	Status(ctx context.Context, userId int) (external_account.Status, error)
}

type Handler struct {
	orchestrator *Orchestrator
	accounts     StatusReader
}

func NewHandler(orchestrator *Orchestrator, accounts StatusReader) *Handler {
	return &Handler{orchestrator: orchestrator, accounts: accounts}
}

// Sync godoc
// @Summary Synchronize with the external calendar now
// @Description With async=true the pass runs in the background and 202 is returned right away.
// @Tags ExternalCalendar
// @Produce json
// @Param async query bool false "Run in background"
// @Success 200 {object} ResultDTO
// @Success 202
// @Failure 404 {object} rest.ErrorResponse
// @Failure 409 {object} rest.ErrorResponse
// @Router /api/external-calendar/sync [post]
// @Security XUserId
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	userId, err := user.CurrentId(r.Context())
	if err != nil {
		http.Error(w, "unable to retrieve current user", http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("async") == "true" {
		h.orchestrator.Trigger(userId)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	result, err := h.orchestrator.RunSync(r.Context(), userId)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ResultDTO{
		Pushed:         result.Pushed,
		Pulled:         result.Pulled,
		Deleted:        result.Deleted,
		Conflicts:      result.Conflicts,
		FailedEventIds: result.FailedEventIds,
	})
}

// Status godoc
// @Summary External calendar connection and sync state
// @Tags ExternalCalendar
// @Produce json
// @Success 200 {object} StatusDTO
// @Router /api/external-calendar/status [get]
// @Security XUserId
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userId, err := user.CurrentId(r.Context())
	if err != nil {
		http.Error(w, "unable to retrieve current user", http.StatusInternalServerError)
		return
	}
	status, err := h.accounts.Status(r.Context(), userId)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	state, err := h.orchestrator.State(r.Context(), userId)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, StatusDTO{
		StatusDTO: external_account.StatusToDTO(status),
		State:     state,
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, external_account.ErrNotConnected):
		rest.WriteError(w, http.StatusNotFound, "External calendar is not connected", err.Error())
	case errors.Is(err, external_account.ErrReauthRequired):
		rest.WriteError(w, http.StatusConflict, "External calendar needs to be connected again", err.Error())
	case errors.Is(err, ErrSyncDisabled):
		rest.WriteError(w, http.StatusConflict, "External calendar sync is disabled", err.Error())
	default:
		log.Errorf("external calendar sync failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
