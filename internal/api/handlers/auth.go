package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-ident/internal/api/dto"
	"github.com/hugh/go-ident/internal/api/middleware"
	"github.com/hugh/go-ident/internal/auth"
)

type AuthHandler struct {
	authService *auth.Service
	logger      *slog.Logger
}

func NewAuthHandler(authService *auth.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, logger: logger}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	resp, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, err, "Registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, dto.AuthResponse{
		User:         dto.UserToDTO(resp.User),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Verification token is required"})
		return
	}

	user, err := h.authService.VerifyEmail(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "Email verification failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.UserToDTO(user))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	resp, err := h.authService.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, err, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.AuthResponse{
		User:         dto.UserToDTO(resp.User),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req dto.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	resp, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, err, "Refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.AuthResponse{
		User:         dto.UserToDTO(resp.User),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.authService.Logout(r.Context(), userID); err != nil {
		h.writeServiceError(w, err, "Logout failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Successfully logged out"})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	if _, err := h.authService.ForgotPassword(r.Context(), req.Email); err != nil {
		h.writeServiceError(w, err, "Password reset request failed")
		return
	}

	// Identical response whether or not the email exists.
	writeJSON(w, http.StatusOK, dto.SuccessResponse{
		Message: "If that email is registered, a reset link has been sent",
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeServiceError(w, err, "Password reset failed")
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Password has been reset"})
}

// writeServiceError maps lifecycle errors onto status codes. Unknown
// errors are logged in full and surfaced with a generic message.
func (h *AuthHandler) writeServiceError(w http.ResponseWriter, err error, generic string) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Email already in use"})
	case errors.Is(err, auth.ErrVerifyTokenInvalid):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid or expired verification token"})
	case errors.Is(err, auth.ErrResetTokenInvalid):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid or expired reset token"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid email or password"})
	case errors.Is(err, auth.ErrAccountDeactivated):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Account is deactivated"})
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrWrongTokenKind):
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid token"})
	case errors.Is(err, auth.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "User not found"})
	default:
		h.logger.Error(generic, "error", err)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: generic})
	}
}
