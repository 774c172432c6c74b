package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlerTest(t *testing.T) (*Handler, *UserServiceImpl) {
	service := NewUserService(NewStubUserRepository())
	return NewHandler(service), service
}

func TestHandler_CreateUser(t *testing.T) {
	t.Run("should create user", func(t *testing.T) {
		// given
		handler, _ := setupHandlerTest(t)
		body, _ := json.Marshal(UserDTO{Username: "anna", DisplayName: "Anna", Settings: SettingsDTO{Timezone: "Europe/Oslo"}})
		req := httptest.NewRequest(http.MethodPost, "/api/user", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		// when
		handler.CreateUser(w, req)

		// then
		require.Equal(t, http.StatusCreated, w.Code)
		var created UserDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
		assert.Equal(t, "anna", created.Username)
		assert.NotEmpty(t, created.Uid)
		assert.Equal(t, "Europe/Oslo", created.Settings.Timezone)
	})

	t.Run("should reject user without username", func(t *testing.T) {
		// given
		handler, _ := setupHandlerTest(t)
		body, _ := json.Marshal(UserDTO{DisplayName: "Anna"})
		req := httptest.NewRequest(http.MethodPost, "/api/user", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		// when
		handler.CreateUser(w, req)

		// then
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_CurrentUser(t *testing.T) {
	t.Run("should return user from context", func(t *testing.T) {
		// given
		handler, service := setupHandlerTest(t)
		created, err := service.CreateUser(context.Background(), User{Username: "ben", DisplayName: "Ben"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/user/current", nil)
		req = req.WithContext(WithUser(req.Context(), created))
		w := httptest.NewRecorder()

		// when
		handler.CurrentUser(w, req)

		// then
		require.Equal(t, http.StatusOK, w.Code)
		var dto UserDTO
		require.NoError(t, json.NewDecoder(w.Body).Decode(&dto))
		assert.Equal(t, created.Id, dto.Id)
	})

	t.Run("should return 404 without user in context", func(t *testing.T) {
		// given
		handler, _ := setupHandlerTest(t)
		req := httptest.NewRequest(http.MethodGet, "/api/user/current", nil)
		w := httptest.NewRecorder()

		// when
		handler.CurrentUser(w, req)

		// then
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
