package custody

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/kinsync/kinsync/internal/rest"
	log "github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

type ScheduleDTO struct {
	Id           int             `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	StartDate    string          `json:"startDate"`
	EndDate      string          `json:"endDate,omitempty"`
	ScheduleType string          `json:"scheduleType"`
	Pattern      json.RawMessage `json:"pattern"`
	Active       bool            `json:"active"`
	Status       string          `json:"status"`
	CreatedBy    int             `json:"createdBy"`
	ParentIds    []int           `json:"parentIds"`
	ChildIds     []int           `json:"childIds"`
	Exclusions   []string        `json:"exclusions"`
}

type StatusDTO struct {
	Status string `json:"status"`
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListSchedules godoc
// @Summary List custody schedules of the current parent
// @Tags Custody
// @Produce json
// @Success 200 {array} ScheduleDTO
// @Router /api/calendar/custody-schedules [get]
// @Security XUserId
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.service.ListSchedules(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dtos := make([]ScheduleDTO, 0, len(schedules))
	for _, s := range schedules {
		dto, err := scheduleToDTO(s)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		dtos = append(dtos, dto)
	}
	rest.WriteJSON(w, http.StatusOK, dtos)
}

// CreateSchedule godoc
// @Summary Create a custody schedule
// @Description The schedule starts as pending and has to be approved by the other parent.
// @Tags Custody
// @Accept json
// @Produce json
// @Param schedule body ScheduleDTO true "Schedule"
// @Success 201 {object} ScheduleDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/calendar/custody-schedules [post]
// @Security XUserId
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var dto ScheduleDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	schedule, err := dtoToSchedule(dto)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	created, err := h.service.CreateSchedule(r.Context(), schedule)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result, err := scheduleToDTO(created)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, result)
}

// GetSchedule godoc
// @Summary Get a custody schedule
// @Tags Custody
// @Produce json
// @Param scheduleId path int true "Schedule ID"
// @Success 200 {object} ScheduleDTO
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/calendar/custody-schedules/{scheduleId} [get]
// @Security XUserId
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIdFromPath(w, r)
	if !ok {
		return
	}
	schedule, err := h.service.GetSchedule(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	dto, err := scheduleToDTO(schedule)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, dto)
}

// SetStatus godoc
// @Summary Approve or reject a custody schedule
// @Description Approving validates the pattern and materializes the upcoming events.
// @Tags Custody
// @Accept json
// @Produce json
// @Param scheduleId path int true "Schedule ID"
// @Param status body StatusDTO true "New status"
// @Success 200 {object} ScheduleDTO
// @Failure 403 {object} rest.ErrorResponse
// @Failure 422 {object} rest.ErrorResponse
// @Router /api/calendar/custody-schedules/{scheduleId}/status [put]
// @Security XUserId
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIdFromPath(w, r)
	if !ok {
		return
	}
	var dto StatusDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	updated, err := h.service.SetStatus(r.Context(), id, Status(dto.Status))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	result, err := scheduleToDTO(updated)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, result)
}

// DeleteSchedule godoc
// @Summary Delete a custody schedule
// @Description Events of the schedule are deleted unless they were edited individually.
// @Tags Custody
// @Param scheduleId path int true "Schedule ID"
// @Success 204
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/calendar/custody-schedules/{scheduleId} [delete]
// @Security XUserId
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleIdFromPath(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteSchedule(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func scheduleIdFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["scheduleId"])
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid schedule id", "'scheduleId' must be a number")
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPattern), errors.Is(err, ErrInvalidSchedule):
		rest.WriteError(w, http.StatusBadRequest, "Invalid custody schedule", err.Error())
	case errors.Is(err, ErrInvalidRecurrence):
		rest.WriteError(w, http.StatusUnprocessableEntity, "Invalid custody recurrence", err.Error())
	case errors.Is(err, ErrPermissionDenied):
		rest.WriteError(w, http.StatusForbidden, "Permission denied", err.Error())
	case errors.Is(err, ErrScheduleNotFound):
		rest.WriteError(w, http.StatusNotFound, "Custody schedule not found", err.Error())
	default:
		log.Errorf("custody schedule request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func scheduleToDTO(s Schedule) (ScheduleDTO, error) {
	pattern, err := EncodePattern(s.Pattern)
	if err != nil {
		return ScheduleDTO{}, err
	}
	dto := ScheduleDTO{
		Id:           s.Id,
		Title:        s.Title,
		Description:  s.Description,
		StartDate:    s.StartDate.Format(dateLayout),
		ScheduleType: string(s.Type()),
		Pattern:      pattern,
		Active:       s.Active,
		Status:       string(s.Status),
		CreatedBy:    s.CreatedBy,
		ParentIds:    nonNil(s.ParentIds),
		ChildIds:     nonNil(s.ChildIds),
		Exclusions:   make([]string, 0, len(s.Exclusions)),
	}
	if s.EndDate != nil {
		dto.EndDate = s.EndDate.Format(dateLayout)
	}
	for _, date := range s.Exclusions {
		dto.Exclusions = append(dto.Exclusions, date.Format(dateLayout))
	}
	return dto, nil
}

func dtoToSchedule(dto ScheduleDTO) (Schedule, error) {
	pattern, err := ParsePattern(PatternType(dto.ScheduleType), dto.Pattern)
	if err != nil {
		return Schedule{}, err
	}
	startDate, err := time.Parse(dateLayout, dto.StartDate)
	if err != nil {
		return Schedule{}, errors.Join(ErrInvalidSchedule, errors.New("'startDate' must be in YYYY-MM-DD format"))
	}
	schedule := Schedule{
		Title:       dto.Title,
		Description: dto.Description,
		StartDate:   startDate,
		Pattern:     pattern,
		ParentIds:   dto.ParentIds,
		ChildIds:    dto.ChildIds,
	}
	if dto.EndDate != "" {
		endDate, err := time.Parse(dateLayout, dto.EndDate)
		if err != nil {
			return Schedule{}, errors.Join(ErrInvalidSchedule, errors.New("'endDate' must be in YYYY-MM-DD format"))
		}
		schedule.EndDate = &endDate
	}
	return schedule, nil
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}
