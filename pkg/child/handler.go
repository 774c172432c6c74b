package child

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kinsync/kinsync/internal/rest"
)

const dateLayout = "2006-01-02"

type ChildDTO struct {
	Id           int      `json:"id"`
	FirstName    string   `json:"firstName"`
	LastName     string   `json:"lastName"`
	BirthDate    string   `json:"birthDate,omitempty"`
	Color        string   `json:"color"`
	UserId       *int     `json:"userId,omitempty"`
	ParentIds    []int    `json:"parentIds"`
	CoParentUids []string `json:"coParentUids,omitempty"`
}

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetChildren godoc
// @Summary List children of the current parent
// @Tags Children
// @Produce json
// @Success 200 {array} ChildDTO
// @Router /api/children [get]
// @Security XUserId
func (h *Handler) GetChildren(w http.ResponseWriter, r *http.Request) {
	children, err := h.service.GetChildren(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	dtos := make([]ChildDTO, 0, len(children))
	for _, c := range children {
		dtos = append(dtos, childToDTO(c))
	}
	rest.WriteJSON(w, http.StatusOK, dtos)
}

// CreateChild godoc
// @Summary Register a child
// @Tags Children
// @Accept json
// @Produce json
// @Param child body ChildDTO true "Child"
// @Success 201 {object} ChildDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/children [post]
// @Security XUserId
func (h *Handler) CreateChild(w http.ResponseWriter, r *http.Request) {
	var dto ChildDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body format", err.Error())
		return
	}
	child, err := dtoToChild(dto)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid birth date", "'birthDate' must be in YYYY-MM-DD format")
		return
	}

	created, err := h.service.CreateChild(r.Context(), child, dto.CoParentUids)
	if err != nil {
		if errors.Is(err, ErrInvalidChild) {
			rest.WriteError(w, http.StatusBadRequest, "Invalid child", err.Error())
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, childToDTO(created))
}

func childToDTO(c Child) ChildDTO {
	dto := ChildDTO{
		Id:        c.Id,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Color:     c.Color,
		UserId:    c.UserId,
		ParentIds: c.ParentIds,
	}
	if c.BirthDate != nil {
		dto.BirthDate = c.BirthDate.Format(dateLayout)
	}
	return dto
}

func dtoToChild(dto ChildDTO) (Child, error) {
	c := Child{
		FirstName: dto.FirstName,
		LastName:  dto.LastName,
		Color:     dto.Color,
		UserId:    dto.UserId,
	}
	if dto.BirthDate != "" {
		birthDate, err := time.Parse(dateLayout, dto.BirthDate)
		if err != nil {
			return Child{}, err
		}
		c.BirthDate = &birthDate
	}
	return c, nil
}
