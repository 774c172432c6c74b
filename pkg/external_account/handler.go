package external_account

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kinsync/kinsync/internal/rest"
	"github.com/kinsync/kinsync/pkg/google"
	"github.com/kinsync/kinsync/pkg/user"
	log "github.com/sirupsen/logrus"
)

type authRedirectDTO struct {
	RedirectUrl string `json:"redirectUrl"`
}

type ConnectDTO struct {
	Code       string `json:"code"`
	CalendarId string `json:"calendarId"`
}

type SettingsDTO struct {
	CalendarId  string `json:"calendarId"`
	SyncEnabled bool   `json:"syncEnabled"`
}

type StatusDTO struct {
	Connected      bool       `json:"connected"`
	SyncEnabled    bool       `json:"syncEnabled"`
	ReauthRequired bool       `json:"reauthRequired"`
	CalendarId     string     `json:"calendarId,omitempty"`
	LastSyncedAt   *time.Time `json:"lastSyncedAt,omitempty"`
}

func StatusToDTO(s Status) StatusDTO {
	return StatusDTO{
		Connected:      s.Connected,
		SyncEnabled:    s.SyncEnabled,
		ReauthRequired: s.ReauthRequired,
		CalendarId:     s.CalendarId,
		LastSyncedAt:   s.LastSyncedAt,
	}
}

type Handler struct {
	vault *Vault
	host  string
}

func NewHandler(vault *Vault, host string) *Handler {
	return &Handler{vault: vault, host: host}
}

// Login godoc
// @Summary Start the Google Calendar authorization
// @Tags ExternalCalendar
// @Produce json
// @Param finalUrl query string false "Where the browser lands after the callback"
// @Success 200 {object} authRedirectDTO
// @Router /api/external-calendar/auth/login [get]
// @Security XUserId
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	finalUrl := r.URL.Query().Get("finalUrl")
	if !strings.HasPrefix(finalUrl, h.host) {
		finalUrl = h.host
	}
	authUrl, err := h.vault.AuthURL(r.Context(), finalUrl)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	log.Tracef("redirecting to external calendar authorization")
	rest.WriteJSON(w, http.StatusOK, authRedirectDTO{RedirectUrl: authUrl})
}

// Callback godoc
// @Summary Google authorization redirect target
// @Tags ExternalCalendar
// @Param code query string true "Authorization code"
// @Param state query string true "State"
// @Success 302
// @Router /api/external-calendar/auth/callback [get]
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	finalUrl, err := h.vault.CompleteAuth(r.Context(), r.FormValue("state"), r.FormValue("code"))
	if !strings.HasPrefix(finalUrl, h.host) {
		finalUrl = h.host
	}
	if err != nil {
		log.Errorf("external calendar authorization failed: %v", err)
		http.Redirect(w, r, finalUrl+"?success=false", http.StatusFound)
		return
	}
	http.Redirect(w, r, finalUrl+"?success=true", http.StatusFound)
}

// Connect godoc
// @Summary Connect Google Calendar with an authorization code
// @Tags ExternalCalendar
// @Accept json
// @Produce json
// @Param connect body ConnectDTO true "Authorization code and calendar"
// @Success 200 {object} StatusDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/external-calendar/connect [post]
// @Security XUserId
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	userId, err := user.CurrentId(r.Context())
	if err != nil {
		http.Error(w, "unable to retrieve current user", http.StatusInternalServerError)
		return
	}
	var dto ConnectDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil || dto.Code == "" {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", "'code' is required")
		return
	}
	status, err := h.vault.Connect(r.Context(), userId, dto.Code, dto.CalendarId)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, StatusToDTO(status))
}

// Disconnect godoc
// @Summary Disconnect Google Calendar
// @Description Events stay in both calendars, only the link between them is removed.
// @Tags ExternalCalendar
// @Success 204
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/external-calendar/disconnect [post]
// @Security XUserId
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userId, err := user.CurrentId(r.Context())
	if err != nil {
		http.Error(w, "unable to retrieve current user", http.StatusInternalServerError)
		return
	}
	if err := h.vault.Disconnect(r.Context(), userId); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSettings godoc
// @Summary Choose the synchronized calendar and toggle synchronization
// @Tags ExternalCalendar
// @Accept json
// @Produce json
// @Param settings body SettingsDTO true "Settings"
// @Success 200 {object} StatusDTO
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/external-calendar/settings [put]
// @Security XUserId
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userId, err := user.CurrentId(r.Context())
	if err != nil {
		http.Error(w, "unable to retrieve current user", http.StatusInternalServerError)
		return
	}
	var dto SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	status, err := h.vault.UpdateSettings(r.Context(), userId, dto.CalendarId, dto.SyncEnabled)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, StatusToDTO(status))
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotConnected):
		rest.WriteError(w, http.StatusNotFound, "External calendar is not connected", err.Error())
	case errors.Is(err, ErrReauthRequired):
		rest.WriteError(w, http.StatusConflict, "External calendar needs to be connected again", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, google.ErrInvalidGrant):
		rest.WriteError(w, http.StatusBadRequest, "Authorization failed", err.Error())
	default:
		log.Errorf("external calendar request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
