package agenda

import (
	"errors"
	"net/http"
	"time"

	"github.com/kinsync/kinsync/internal/rest"
	"github.com/kinsync/kinsync/pkg/calendar"
	log "github.com/sirupsen/logrus"
)

type EntryDTO struct {
	calendar.EventDTO
	External bool `json:"external"`
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetEvents godoc
// @Summary Agenda of the current parent
// @Description Stored events, materialized custody days and selected external calendars. Colors are resolved per calendar.
// @Tags Calendar
// @Produce json
// @Param start query string true "Start (RFC3339)"
// @Param end query string true "End (RFC3339)"
// @Success 200 {array} EntryDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/calendar/events [get]
// @Security XUserId
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid start", "'start' must be an RFC3339 timestamp")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid end", "'end' must be an RFC3339 timestamp")
		return
	}

	entries, err := h.service.GetEvents(r.Context(), start, end)
	if err != nil {
		if errors.Is(err, calendar.ErrInvalidTimeRange) {
			rest.WriteError(w, http.StatusBadRequest, "Invalid time range", err.Error())
			return
		}
		log.Errorf("failed to read agenda: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	dtos := make([]EntryDTO, 0, len(entries))
	for _, p := range entries {
		dto := EntryDTO{EventDTO: calendar.EventToDTO(p.Item.Event), External: p.Item.External}
		if p.Item.External {
			dto.Id = p.Item.ExternalId
		}
		dto.Color = p.Color
		dtos = append(dtos, dto)
	}
	rest.WriteJSON(w, http.StatusOK, dtos)
}
