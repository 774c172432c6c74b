package calendar

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/kinsync/kinsync/internal/rest"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	calendar *Service
}

type EventDTO struct {
	Id                  string    `json:"id"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	StartTime           time.Time `json:"startTime"`
	EndTime             time.Time `json:"endTime"`
	AllDay              bool      `json:"allDay"`
	Location            string    `json:"location"`
	EventType           string    `json:"eventType"`
	ResponsibleParentId *int      `json:"responsibleParentId,omitempty"`
	CreatedBy           int       `json:"createdBy"`
	Status              string    `json:"status"`
	Color               string    `json:"color"`
	Notes               string    `json:"notes"`
	ChildIds            []int     `json:"childIds"`
	ScheduleId          *int      `json:"scheduleId,omitempty"`
	Detached            bool      `json:"detached"`
	SourceCalendarId    string    `json:"sourceCalendarId,omitempty"`
	OutOfSync           bool      `json:"outOfSync"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

type StatusDTO struct {
	Status string `json:"status"`
}

func NewHandler(s *Service) *Handler {
	return &Handler{s}
}

// CreateEvent godoc
// @Summary Create a calendar event
// @Tags Calendar
// @Accept json
// @Produce json
// @Param event body EventDTO true "Event"
// @Success 201 {object} EventDTO
// @Failure 400 {object} rest.ErrorResponse
// @Failure 422 {object} rest.ErrorResponse
// @Router /api/calendar/events [post]
// @Security XUserId
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var eventDTO EventDTO
	if err := json.NewDecoder(r.Body).Decode(&eventDTO); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}

	created, err := h.calendar.CreateEvent(r.Context(), DTOToEvent(eventDTO))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, EventToDTO(created))
}

// UpdateEvent godoc
// @Summary Update a calendar event
// @Tags Calendar
// @Accept json
// @Produce json
// @Param eventId path string true "Event ID"
// @Param event body EventDTO true "Event"
// @Success 200 {object} EventDTO
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Failure 422 {object} rest.ErrorResponse
// @Router /api/calendar/events/{eventId} [put]
// @Security XUserId
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	eventId, ok := eventIdFromPath(w, r)
	if !ok {
		return
	}
	var eventDTO EventDTO
	if err := json.NewDecoder(r.Body).Decode(&eventDTO); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	event := DTOToEvent(eventDTO)
	event.Id = eventId

	updated, err := h.calendar.UpdateEvent(r.Context(), event)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, EventToDTO(updated))
}

// DeleteEvent godoc
// @Summary Delete a calendar event
// @Tags Calendar
// @Param eventId path string true "Event ID"
// @Success 204
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/calendar/events/{eventId} [delete]
// @Security XUserId
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventId, ok := eventIdFromPath(w, r)
	if !ok {
		return
	}
	if err := h.calendar.DeleteEvent(r.Context(), eventId); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus godoc
// @Summary Approve or reject a calendar event
// @Tags Calendar
// @Accept json
// @Produce json
// @Param eventId path string true "Event ID"
// @Param status body StatusDTO true "New status"
// @Success 200 {object} EventDTO
// @Failure 403 {object} rest.ErrorResponse
// @Router /api/calendar/events/{eventId}/status [put]
// @Security XUserId
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	eventId, ok := eventIdFromPath(w, r)
	if !ok {
		return
	}
	var statusDTO StatusDTO
	if err := json.NewDecoder(r.Body).Decode(&statusDTO); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	updated, err := h.calendar.SetStatus(r.Context(), eventId, Status(statusDTO.Status))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, EventToDTO(updated))
}

func eventIdFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	eventId, err := uuid.Parse(mux.Vars(r)["eventId"])
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid event id", "'eventId' must be a UUID")
		return uuid.Nil, false
	}
	return eventId, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		rest.WriteError(w, http.StatusForbidden, "Permission denied", err.Error())
	case errors.Is(err, ErrEventNotFound):
		rest.WriteError(w, http.StatusNotFound, "Event not found", err.Error())
	case errors.Is(err, ErrInvalidTimeRange):
		rest.WriteError(w, http.StatusUnprocessableEntity, "Invalid time range", err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidEventType):
		rest.WriteError(w, http.StatusBadRequest, "Invalid event data", err.Error())
	default:
		log.Errorf("calendar request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func EventToDTO(e Event) EventDTO {
	childIds := e.ChildIds
	if childIds == nil {
		childIds = []int{}
	}
	return EventDTO{
		Id:                  e.Id.String(),
		Title:               e.Title,
		Description:         e.Description,
		StartTime:           e.StartTime,
		EndTime:             e.EndTime,
		AllDay:              e.AllDay,
		Location:            e.Location,
		EventType:           string(e.Type),
		ResponsibleParentId: e.ResponsibleParentId,
		CreatedBy:           e.CreatedBy,
		Status:              string(e.Status),
		Color:               e.Color,
		Notes:               e.Notes,
		ChildIds:            childIds,
		ScheduleId:          e.ScheduleId,
		Detached:            e.Detached,
		SourceCalendarId:    e.SourceCalendarId,
		OutOfSync:           e.OutOfSync,
		UpdatedAt:           e.UpdatedAt,
	}
}

func DTOToEvent(dto EventDTO) Event {
	return Event{
		Title:               dto.Title,
		Description:         dto.Description,
		StartTime:           dto.StartTime,
		EndTime:             dto.EndTime,
		AllDay:              dto.AllDay,
		Location:            dto.Location,
		Type:                EventType(dto.EventType),
		ResponsibleParentId: dto.ResponsibleParentId,
		Color:               dto.Color,
		Notes:               dto.Notes,
		ChildIds:            dto.ChildIds,
	}
}
