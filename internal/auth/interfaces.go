package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/hugh/go-ident/internal/database/models"
)

// Lifecycle defines the user account state machine operations.
type Lifecycle interface {
	Register(ctx context.Context, input RegisterInput) (*RegisterResult, error)
	VerifyEmail(ctx context.Context, token string) (*models.User, error)
	Login(ctx context.Context, input LoginInput) (*AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error)
	Logout(ctx context.Context, userID uuid.UUID) error
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, input UpdateProfileInput) (*models.User, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, newPassword string) error
	Deactivate(ctx context.Context, userID uuid.UUID) error
	Reactivate(ctx context.Context, userID uuid.UUID) error
	PermanentDelete(ctx context.Context, userID uuid.UUID) error
	GetUserByID(ctx context.Context, id uuid.UUID, includeInactive bool) (*models.User, error)
	ListUsers(ctx context.Context, input ListUsersInput) ([]models.User, int64, error)
}

// TokenService defines the interface for JWT token operations.
type TokenService interface {
	GenerateAccessToken(user *models.User) (string, error)
	GenerateRefreshToken(user *models.User) (string, error)
	ValidateToken(tokenString string, kind TokenKind) (*Claims, error)
}

// Compile-time interface satisfaction checks
var (
	_ Lifecycle    = (*Service)(nil)
	_ TokenService = (*JWTService)(nil)
)
