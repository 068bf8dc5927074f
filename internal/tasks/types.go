package tasks

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-ident/pkg/queue"
)

// Task type names
const (
	TypeVerificationEmail  = "email:verification"
	TypePasswordResetEmail = "email:password_reset"
	TypeWelcomeEmail       = "email:welcome"
)

// EmailPayload carries everything a mail task needs. Token is the raw
// single-use token for verification/reset links; only its digest lives in
// the database.
type EmailPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Token  string    `json:"token,omitempty"`
}

func NewVerificationEmailTask(payload EmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeVerificationEmail, data), nil
}

func NewPasswordResetEmailTask(payload EmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	// Reset links expire within the hour; don't let them sit behind
	// lower-priority work.
	return asynq.NewTask(TypePasswordResetEmail, data, asynq.Queue(queue.QueueCritical)), nil
}

func NewWelcomeEmailTask(payload EmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeWelcomeEmail, data, asynq.Queue(queue.QueueLow)), nil
}
