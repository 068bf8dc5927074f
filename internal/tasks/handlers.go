package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-ident/internal/mailer"
)

type Handler struct {
	mailer  mailer.Mailer
	logger  *slog.Logger
	baseURL string
}

func NewHandler(m mailer.Mailer, logger *slog.Logger, baseURL string) *Handler {
	return &Handler{
		mailer:  m,
		logger:  logger,
		baseURL: baseURL,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeVerificationEmail, h.HandleVerificationEmail)
	mux.HandleFunc(TypePasswordResetEmail, h.HandlePasswordResetEmail)
	mux.HandleFunc(TypeWelcomeEmail, h.HandleWelcomeEmail)
}

func (h *Handler) HandleVerificationEmail(ctx context.Context, t *asynq.Task) error {
	var payload EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	link := fmt.Sprintf("%s/api/v1/auth/verify-email/%s", h.baseURL, payload.Token)
	body := fmt.Sprintf(
		"Hi %s,\n\nPlease confirm your email address by opening the link below:\n\n%s\n\nThe link expires in 24 hours. If you did not create an account, ignore this message.\n",
		payload.Name, link,
	)

	if err := h.mailer.Send(payload.Email, "Verify your email address", body); err != nil {
		h.logger.Error("verification email delivery failed", "user_id", payload.UserID, "error", err)
		return err
	}

	h.logger.Info("verification email sent", "user_id", payload.UserID)
	return nil
}

func (h *Handler) HandlePasswordResetEmail(ctx context.Context, t *asynq.Task) error {
	var payload EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", h.baseURL, payload.Token)
	body := fmt.Sprintf(
		"Hi %s,\n\nA password reset was requested for your account. Open the link below to choose a new password:\n\n%s\n\nThe link expires in 1 hour. If you did not request a reset, ignore this message; your password is unchanged.\n",
		payload.Name, link,
	)

	if err := h.mailer.Send(payload.Email, "Reset your password", body); err != nil {
		h.logger.Error("reset email delivery failed", "user_id", payload.UserID, "error", err)
		return err
	}

	h.logger.Info("password reset email sent", "user_id", payload.UserID)
	return nil
}

func (h *Handler) HandleWelcomeEmail(ctx context.Context, t *asynq.Task) error {
	var payload EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	body := fmt.Sprintf("Hi %s,\n\nYour email address is verified and your account is ready to use.\n", payload.Name)

	if err := h.mailer.Send(payload.Email, "Welcome aboard", body); err != nil {
		h.logger.Error("welcome email delivery failed", "user_id", payload.UserID, "error", err)
		return err
	}

	return nil
}
