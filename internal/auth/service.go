package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/go-ident/internal/database/models"
	"github.com/hugh/go-ident/internal/tasks"
	"github.com/hugh/go-ident/pkg/crypto"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDeactivated = errors.New("account is deactivated")
	ErrVerifyTokenInvalid = errors.New("invalid or expired verification token")
	ErrResetTokenInvalid  = errors.New("invalid or expired reset token")
)

const actionTokenBytes = 32

// NormalizeEmail lowercases and trims an email address. Every read and
// write of the email column goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Service owns the user lifecycle: registration, email verification,
// login, refresh rotation, logout, password reset, deactivation and
// permanent deletion.
type Service struct {
	db           *gorm.DB
	jwt          *JWTService
	queue        *asynq.Client
	logger       *slog.Logger
	bcryptCost   int
	verifyExpiry time.Duration
	resetExpiry  time.Duration
}

type ServiceOptions struct {
	Queue             *asynq.Client // optional; emails are skipped when nil
	Logger            *slog.Logger
	BcryptCost        int
	VerifyTokenExpiry time.Duration
	ResetTokenExpiry  time.Duration
}

func NewService(db *gorm.DB, jwt *JWTService, opts ServiceOptions) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.VerifyTokenExpiry == 0 {
		opts.VerifyTokenExpiry = 24 * time.Hour
	}
	if opts.ResetTokenExpiry == 0 {
		opts.ResetTokenExpiry = time.Hour
	}
	return &Service{
		db:           db,
		jwt:          jwt,
		queue:        opts.Queue,
		logger:       opts.Logger,
		bcryptCost:   opts.BcryptCost,
		verifyExpiry: opts.VerifyTokenExpiry,
		resetExpiry:  opts.ResetTokenExpiry,
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// RegisterResult carries the raw verification token alongside the session
// so the caller (and the email task) can hand it to the user. It is never
// serialized.
type RegisterResult struct {
	AuthResponse
	VerificationToken string `json:"-"`
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	hash, err := HashPasswordCost(input.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	verifyToken, err := crypto.GenerateToken(actionTokenBytes)
	if err != nil {
		return nil, err
	}
	verifyExpires := time.Now().Add(s.verifyExpiry)

	user := models.User{
		Name:               strings.TrimSpace(input.Name),
		Email:              NormalizeEmail(input.Email),
		PasswordHash:       hash,
		Role:               models.RoleUser,
		IsActive:           true,
		EmailVerifyHash:    crypto.HashToken(verifyToken),
		EmailVerifyExpires: &verifyExpires,
	}

	// The unique index is the source of truth for email uniqueness; a
	// lost race between two concurrent registrations surfaces here as a
	// translated duplicate-key error, not a 500.
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	session, err := s.issueSession(ctx, &user, false)
	if err != nil {
		return nil, err
	}

	s.enqueueEmail(tasks.NewVerificationEmailTask(tasks.EmailPayload{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Token:  verifyToken,
	}))

	return &RegisterResult{AuthResponse: *session, VerificationToken: verifyToken}, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email_verify_hash = ? AND email_verify_expires > ?", crypto.HashToken(token), time.Now()).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVerifyTokenInvalid
		}
		return nil, err
	}

	updates := map[string]interface{}{
		"is_email_verified":    true,
		"email_verify_hash":    "",
		"email_verify_expires": nil,
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}

	s.enqueueEmail(tasks.NewWelcomeEmailTask(tasks.EmailPayload{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
	}))

	user.IsEmailVerified = true
	user.EmailVerifyHash = ""
	user.EmailVerifyExpires = nil
	return &user, nil
}

func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ?", NormalizeEmail(input.Email)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Same error for unknown email and wrong password so the
			// endpoint cannot be used to enumerate accounts.
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !CheckPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}

	return s.issueSession(ctx, &user, true)
}

// Refresh rotates the refresh token: the presented token must both verify
// and match the single stored current token, and the swap is a conditional
// update so concurrent refreshes cannot both win.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwt.ValidateToken(refreshToken, TokenKindRefresh)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	// Deactivation, logout and password reset all clear the stored token,
	// so those sessions fail the conditional update below.
	newRefresh, err := s.jwt.GenerateRefreshToken(&user)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND refresh_token_current = ?", user.ID, refreshToken).
		Update("refresh_token_current", newRefresh)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Stale or already-rotated token.
		return nil, ErrInvalidToken
	}

	access, err := s.jwt.GenerateAccessToken(&user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{User: &user, AccessToken: access, RefreshToken: newRefresh}, nil
}

func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("refresh_token_current", "").Error
}

// ForgotPassword issues a reset token for the given email. It succeeds
// silently for unknown or inactive accounts; the returned raw token is
// empty in that case.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ? AND is_active = ?", NormalizeEmail(email), true).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Debug("password reset requested for unknown email")
			return "", nil
		}
		return "", err
	}

	resetToken, err := crypto.GenerateToken(actionTokenBytes)
	if err != nil {
		return "", err
	}
	expires := time.Now().Add(s.resetExpiry)

	updates := map[string]interface{}{
		"reset_token_hash":    crypto.HashToken(resetToken),
		"reset_token_expires": &expires,
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return "", err
	}

	s.enqueueEmail(tasks.NewPasswordResetEmailTask(tasks.EmailPayload{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Token:  resetToken,
	}))

	return resetToken, nil
}

// ResetPassword consumes a reset token. The token fields are cleared and
// the current refresh token is revoked, ending any open session.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("reset_token_hash = ? AND reset_token_expires > ?", crypto.HashToken(token), time.Now()).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}

	hash, err := HashPasswordCost(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"password_hash":         hash,
		"reset_token_hash":      "",
		"reset_token_expires":   nil,
		"refresh_token_current": "",
	}
	return s.db.WithContext(ctx).Model(&user).Updates(updates).Error
}

type UpdateProfileInput struct {
	Name  *string
	Email *string
}

// UpdateProfile applies name/email changes. An email change drops the
// verified flag and starts a fresh verification round.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, input UpdateProfileInput) (*models.User, error) {
	user, err := s.GetUserByID(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		updates["name"] = strings.TrimSpace(*input.Name)
	}

	var verifyToken string
	if input.Email != nil {
		email := NormalizeEmail(*input.Email)
		if email != user.Email {
			verifyToken, err = crypto.GenerateToken(actionTokenBytes)
			if err != nil {
				return nil, err
			}
			expires := time.Now().Add(s.verifyExpiry)
			updates["email"] = email
			updates["is_email_verified"] = false
			updates["email_verify_hash"] = crypto.HashToken(verifyToken)
			updates["email_verify_expires"] = &expires
		}
	}

	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	if verifyToken != "" {
		s.enqueueEmail(tasks.NewVerificationEmailTask(tasks.EmailPayload{
			UserID: user.ID,
			Name:   user.Name,
			Email:  user.Email,
			Token:  verifyToken,
		}))
	}

	return s.GetUserByID(ctx, userID, true)
}

// ChangePassword rotates the password for an authenticated user and
// revokes the current refresh token.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, newPassword string) error {
	user, err := s.GetUserByID(ctx, userID, true)
	if err != nil {
		return err
	}

	if !CheckPassword(current, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := HashPasswordCost(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"password_hash":         hash,
		"refresh_token_current": "",
	}
	return s.db.WithContext(ctx).Model(user).Updates(updates).Error
}

// Deactivate soft-deletes the account. The record keeps its email slot so
// the address cannot be re-registered.
func (s *Service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	now := time.Now()
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND is_active = ?", userID, true).
		Updates(map[string]interface{}{
			"is_active":             false,
			"deactivated_at":        &now,
			"refresh_token_current": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) Reactivate(ctx context.Context, userID uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND is_active = ?", userID, false).
		Updates(map[string]interface{}{
			"is_active":      true,
			"deactivated_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// PermanentDelete irreversibly removes the record.
func (s *Service) PermanentDelete(ctx context.Context, userID uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&models.User{}, "id = ?", userID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetUserByID loads a user. Inactive records are only returned when
// includeInactive is set; there is no implicit filter anywhere else.
func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID, includeInactive bool) (*models.User, error) {
	query := s.db.WithContext(ctx).Where("id = ?", id)
	if !includeInactive {
		query = query.Where("is_active = ?", true)
	}

	var user models.User
	if err := query.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

type ListUsersInput struct {
	Query           string
	IncludeInactive bool
	Page            int
	PerPage         int
}

// ListUsers returns a page of users with a case-insensitive substring
// search over name and email.
func (s *Service) ListUsers(ctx context.Context, input ListUsersInput) ([]models.User, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.User{})
	if !input.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}
	if input.Query != "" {
		pattern := "%" + strings.ToLower(input.Query) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if input.Page < 1 {
		input.Page = 1
	}
	if input.PerPage < 1 {
		input.PerPage = 20
	}

	var users []models.User
	err := query.
		Order("created_at DESC").
		Limit(input.PerPage).
		Offset((input.Page - 1) * input.PerPage).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

// issueSession generates an access/refresh pair and stores the refresh
// token as the single current one, replacing whatever was there.
func (s *Service) issueSession(ctx context.Context, user *models.User, touchLogin bool) (*AuthResponse, error) {
	access, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.jwt.GenerateRefreshToken(user)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"refresh_token_current": refresh,
	}
	if touchLogin {
		now := time.Now()
		updates["last_login_at"] = &now
		user.LastLoginAt = &now
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, err
	}

	user.RefreshTokenCurrent = refresh
	return &AuthResponse{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) enqueueEmail(task *asynq.Task, err error) {
	if err != nil {
		s.logger.Error("building email task", "error", err)
		return
	}
	if s.queue == nil {
		return
	}
	if _, err := s.queue.Enqueue(task); err != nil {
		// Email delivery is best-effort; the lifecycle operation itself
		// already succeeded.
		s.logger.Error("enqueueing email task", "type", task.Type(), "error", err)
	}
}
