package visibility

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kinsync/kinsync/internal/rest"
	"github.com/kinsync/kinsync/pkg/external_account"
	"github.com/kinsync/kinsync/pkg/google"
	log "github.com/sirupsen/logrus"
)

type CalendarDTO struct {
	Id            string `json:"id"`
	Summary       string `json:"summary"`
	Primary       bool   `json:"primary"`
	Target        bool   `json:"target"`
	Selected      bool   `json:"selected"`
	Color         string `json:"color"`
	ProviderColor string `json:"providerColor"`
}

type SelectionDTO struct {
	CalendarId string `json:"calendarId"`
	Selected   bool   `json:"selected"`
	Color      string `json:"color"`
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListCalendars godoc
// @Summary List calendars of the connected Google account with selection and color
// @Tags ExternalCalendar
// @Produce json
// @Success 200 {array} CalendarDTO
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/external-calendar/calendars [get]
// @Security XUserId
func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	calendars, err := h.service.Calendars(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dtos := make([]CalendarDTO, 0, len(calendars))
	for _, c := range calendars {
		dtos = append(dtos, CalendarDTO{
			Id:            c.Id,
			Summary:       c.Summary,
			Primary:       c.Primary,
			Target:        c.Target,
			Selected:      c.Selected,
			Color:         c.Color,
			ProviderColor: c.ProviderColor,
		})
	}
	rest.WriteJSON(w, http.StatusOK, dtos)
}

// SaveSelections godoc
// @Summary Select external calendars shown in the agenda and their colors
// @Tags ExternalCalendar
// @Accept json
// @Produce json
// @Param selections body []SelectionDTO true "Selections"
// @Success 200 {array} SelectionDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/external-calendar/selection [post]
// @Security XUserId
func (h *Handler) SaveSelections(w http.ResponseWriter, r *http.Request) {
	var dtos []SelectionDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	selections := make([]Selection, 0, len(dtos))
	for _, dto := range dtos {
		selections = append(selections, Selection{CalendarId: dto.CalendarId, Selected: dto.Selected, Color: dto.Color})
	}
	saved, err := h.service.SaveSelections(r.Context(), selections)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result := make([]SelectionDTO, 0, len(saved))
	for _, s := range saved {
		result = append(result, SelectionDTO{CalendarId: s.CalendarId, Selected: s.Selected, Color: s.Color})
	}
	rest.WriteJSON(w, http.StatusOK, result)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidSelection):
		rest.WriteError(w, http.StatusBadRequest, "Invalid calendar selection", err.Error())
	case errors.Is(err, external_account.ErrNotConnected):
		rest.WriteError(w, http.StatusNotFound, "External calendar is not connected", err.Error())
	case errors.Is(err, external_account.ErrReauthRequired), errors.Is(err, google.ErrUnauthorized):
		rest.WriteError(w, http.StatusConflict, "External calendar needs to be connected again", err.Error())
	case errors.Is(err, google.ErrRateLimited):
		rest.WriteError(w, http.StatusServiceUnavailable, "External calendar is busy", err.Error())
	default:
		log.Errorf("external calendar request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
