package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-ident/internal/api/dto"
	"github.com/hugh/go-ident/internal/api/middleware"
	"github.com/hugh/go-ident/internal/auth"
)

type UserHandler struct {
	authService *auth.Service
	logger      *slog.Logger
}

func NewUserHandler(authService *auth.Service, logger *slog.Logger) *UserHandler {
	return &UserHandler{authService: authService, logger: logger}
}

// Me handles GET /api/v1/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	user, err := h.authService.GetUserByID(r.Context(), userID, false)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, dto.UserToDTO(user))
}

// UpdateMe handles PUT /api/v1/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	userID := middleware.GetUserID(r.Context())
	user, err := h.authService.UpdateProfile(r.Context(), userID, auth.UpdateProfileInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		h.writeServiceError(w, err, "Profile update failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.UserToDTO(user))
}

// ChangePassword handles PUT /api/v1/me/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.authService.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeServiceError(w, err, "Password change failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Password changed"})
}

// DeactivateMe handles DELETE /api/v1/me (soft delete of own account)
func (h *UserHandler) DeactivateMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.authService.Deactivate(r.Context(), userID); err != nil {
		h.writeServiceError(w, err, "Deactivation failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Account deactivated"})
}

// List handles GET /api/v1/users (admin). Inactive accounts only show up
// when include_inactive=true is passed explicitly.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	pagination := dto.ParsePagination(r.URL.Query())
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	users, total, err := h.authService.ListUsers(r.Context(), auth.ListUsersInput{
		Query:           r.URL.Query().Get("q"),
		IncludeInactive: includeInactive,
		Page:            pagination.Page,
		PerPage:         pagination.PerPage,
	})
	if err != nil {
		h.writeServiceError(w, err, "Failed to list users")
		return
	}

	data := make([]dto.UserDTO, 0, len(users))
	for i := range users {
		data = append(data, dto.UserToDTO(&users[i]))
	}

	writeJSON(w, http.StatusOK, dto.NewPaginatedResponse(data, total, pagination))
}

// Get handles GET /api/v1/users/{id} (admin)
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	user, err := h.authService.GetUserByID(r.Context(), id, true)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, dto.UserToDTO(user))
}

// Deactivate handles POST /api/v1/users/{id}/deactivate (admin)
func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.authService.Deactivate(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Deactivation failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Account deactivated"})
}

// Reactivate handles POST /api/v1/users/{id}/reactivate (admin)
func (h *UserHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.authService.Reactivate(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Reactivation failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Account reactivated"})
}

// Delete handles DELETE /api/v1/users/{id} (admin, irreversible)
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.authService.PermanentDelete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Deletion failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Account permanently deleted"})
}

func (h *UserHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid user ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *UserHandler) writeServiceError(w http.ResponseWriter, err error, generic string) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Email already in use"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid email or password"})
	case errors.Is(err, auth.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "User not found"})
	default:
		h.logger.Error(generic, "error", err)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: generic})
	}
}
