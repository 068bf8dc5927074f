package auth_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-ident/internal/auth"
	"github.com/hugh/go-ident/internal/database/models"
	"github.com/hugh/go-ident/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*gorm.DB, *auth.Service) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	svc := auth.NewService(db, testutil.CreateTestJWTService(), auth.ServiceOptions{
		BcryptCost: bcrypt.MinCost,
	})
	return db, svc
}

func registerInput(email string) auth.RegisterInput {
	return auth.RegisterInput{
		Name:     "Alice",
		Email:    email,
		Password: "P@ssw0rd1",
	}
}

func TestService_Register(t *testing.T) {
	t.Run("creates pending-verification record", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		assert.Equal(t, "alice@x.com", res.User.Email)
		assert.Equal(t, models.RoleUser, res.User.Role)
		assert.True(t, res.User.IsActive)
		assert.False(t, res.User.IsEmailVerified)
		assert.NotEmpty(t, res.AccessToken)
		assert.NotEmpty(t, res.RefreshToken)
		assert.NotEmpty(t, res.VerificationToken)
		assert.NotEqual(t, "P@ssw0rd1", res.User.PasswordHash)
	})

	t.Run("normalizes email casing and whitespace", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("  Alice@X.COM "))
		require.NoError(t, err)
		assert.Equal(t, "alice@x.com", res.User.Email)
	})

	t.Run("duplicate email fails regardless of case", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		_, err = svc.Register(ctx, registerInput("ALICE@x.com"))
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})

	t.Run("deactivated account still holds its email", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		require.NoError(t, svc.Deactivate(ctx, res.User.ID))

		_, err = svc.Register(ctx, registerInput("alice@x.com"))
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})
}

func TestService_VerifyEmail(t *testing.T) {
	t.Run("correct token verifies and clears fields", func(t *testing.T) {
		db, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		user, err := svc.VerifyEmail(ctx, res.VerificationToken)
		require.NoError(t, err)
		assert.True(t, user.IsEmailVerified)

		var stored models.User
		require.NoError(t, db.First(&stored, "id = ?", res.User.ID).Error)
		assert.True(t, stored.IsEmailVerified)
		assert.Empty(t, stored.EmailVerifyHash)
		assert.Nil(t, stored.EmailVerifyExpires)
	})

	t.Run("wrong token fails", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		_, err = svc.VerifyEmail(ctx, "bogus-token")
		assert.ErrorIs(t, err, auth.ErrVerifyTokenInvalid)
	})

	t.Run("expired token fails", func(t *testing.T) {
		db, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		past := time.Now().Add(-time.Hour)
		require.NoError(t, db.Model(&models.User{}).
			Where("id = ?", res.User.ID).
			Update("email_verify_expires", &past).Error)

		_, err = svc.VerifyEmail(ctx, res.VerificationToken)
		assert.ErrorIs(t, err, auth.ErrVerifyTokenInvalid)
	})

	t.Run("token is single use", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		_, err = svc.VerifyEmail(ctx, res.VerificationToken)
		require.NoError(t, err)

		_, err = svc.VerifyEmail(ctx, res.VerificationToken)
		assert.ErrorIs(t, err, auth.ErrVerifyTokenInvalid)
	})
}

func TestService_Login(t *testing.T) {
	t.Run("valid credentials return fresh session", func(t *testing.T) {
		db, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		resp, err := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.NotNil(t, resp.User.LastLoginAt)

		var stored models.User
		require.NoError(t, db.First(&stored, "id = ?", resp.User.ID).Error)
		assert.Equal(t, resp.RefreshToken, stored.RefreshTokenCurrent)
	})

	t.Run("email is matched case-insensitively", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		_, err = svc.Login(ctx, auth.LoginInput{Email: "ALICE@X.com", Password: "P@ssw0rd1"})
		assert.NoError(t, err)
	})

	t.Run("wrong password and unknown email fail identically", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		_, errWrongPass := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "nope"})
		_, errNoUser := svc.Login(ctx, auth.LoginInput{Email: "ghost@x.com", Password: "nope"})

		assert.ErrorIs(t, errWrongPass, auth.ErrInvalidCredentials)
		assert.ErrorIs(t, errNoUser, auth.ErrInvalidCredentials)
		assert.Equal(t, errWrongPass.Error(), errNoUser.Error())
	})

	t.Run("deactivated account cannot log in", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		require.NoError(t, svc.Deactivate(ctx, res.User.ID))

		_, err = svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
		assert.ErrorIs(t, err, auth.ErrAccountDeactivated)
	})
}

func TestService_Refresh(t *testing.T) {
	t.Run("rotates the stored refresh token", func(t *testing.T) {
		db, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		login, err := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
		require.NoError(t, err)

		refreshed, err := svc.Refresh(ctx, login.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

		var stored models.User
		require.NoError(t, db.First(&stored, "id = ?", login.User.ID).Error)
		assert.Equal(t, refreshed.RefreshToken, stored.RefreshTokenCurrent)
	})

	t.Run("stale token fails after rotation", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		login, err := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, login.RefreshToken)
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, login.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("garbage token fails", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Refresh(ctx, "garbage")
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("access token cannot be used to refresh", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		_, err = svc.Refresh(ctx, res.AccessToken)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("deactivated account cannot refresh", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		login, err := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
		require.NoError(t, err)

		require.NoError(t, svc.Deactivate(ctx, login.User.ID))

		_, err = svc.Refresh(ctx, login.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestService_Logout(t *testing.T) {
	db, svc := newTestService(t)
	ctx := testutil.TestContext(t)

	_, err := svc.Register(ctx, registerInput("alice@x.com"))
	require.NoError(t, err)
	login, err := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, login.User.ID))

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", login.User.ID).Error)
	assert.Empty(t, stored.RefreshTokenCurrent)

	// The old refresh token is gone for good
	_, err = svc.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestService_PasswordReset(t *testing.T) {
	t.Run("reset token changes password and revokes sessions", func(t *testing.T) {
		db, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		login, err := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
		require.NoError(t, err)

		token, err := svc.ForgotPassword(ctx, "alice@x.com")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		require.NoError(t, svc.ResetPassword(ctx, token, "N3w!passwd"))

		_, err = svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

		_, err = svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "N3w!passwd"})
		assert.NoError(t, err)

		// Old session is dead and the token fields are cleared
		_, err = svc.Refresh(ctx, login.RefreshToken)
		assert.ErrorIs(t, err, auth.ErrInvalidToken)

		var stored models.User
		require.NoError(t, db.First(&stored, "email = ?", "alice@x.com").Error)
		assert.Empty(t, stored.ResetTokenHash)
		assert.Nil(t, stored.ResetTokenExpires)
	})

	t.Run("unknown email succeeds silently", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		token, err := svc.ForgotPassword(ctx, "ghost@x.com")
		assert.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("reset token is single use", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		token, err := svc.ForgotPassword(ctx, "alice@x.com")
		require.NoError(t, err)

		require.NoError(t, svc.ResetPassword(ctx, token, "N3w!passwd"))
		err = svc.ResetPassword(ctx, token, "An0ther!pw")
		assert.ErrorIs(t, err, auth.ErrResetTokenInvalid)
	})
}

func TestService_UpdateProfile(t *testing.T) {
	t.Run("updates name", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		name := "Alice Cooper"
		user, err := svc.UpdateProfile(ctx, res.User.ID, auth.UpdateProfileInput{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "Alice Cooper", user.Name)
	})

	t.Run("email change restarts verification", func(t *testing.T) {
		db, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		_, err = svc.VerifyEmail(ctx, res.VerificationToken)
		require.NoError(t, err)

		email := "alice@new.com"
		user, err := svc.UpdateProfile(ctx, res.User.ID, auth.UpdateProfileInput{Email: &email})
		require.NoError(t, err)
		assert.Equal(t, "alice@new.com", user.Email)
		assert.False(t, user.IsEmailVerified)

		var stored models.User
		require.NoError(t, db.First(&stored, "id = ?", res.User.ID).Error)
		assert.NotEmpty(t, stored.EmailVerifyHash)
	})

	t.Run("email taken by another record fails", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		_, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		res, err := svc.Register(ctx, auth.RegisterInput{Name: "Bob", Email: "bob@x.com", Password: "P@ssw0rd1"})
		require.NoError(t, err)

		email := "alice@x.com"
		_, err = svc.UpdateProfile(ctx, res.User.ID, auth.UpdateProfileInput{Email: &email})
		assert.ErrorIs(t, err, auth.ErrEmailTaken)
	})

	t.Run("unknown user fails", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		name := "Nobody"
		_, err := svc.UpdateProfile(ctx, uuid.New(), auth.UpdateProfileInput{Name: &name})
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})
}

func TestService_ChangePassword(t *testing.T) {
	_, svc := newTestService(t)
	ctx := testutil.TestContext(t)

	res, err := svc.Register(ctx, registerInput("alice@x.com"))
	require.NoError(t, err)

	t.Run("wrong current password fails", func(t *testing.T) {
		err := svc.ChangePassword(ctx, res.User.ID, "wrong", "N3w!passwd")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("correct current password rotates", func(t *testing.T) {
		require.NoError(t, svc.ChangePassword(ctx, res.User.ID, "P@ssw0rd1", "N3w!passwd"))

		_, err := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "N3w!passwd"})
		assert.NoError(t, err)
	})
}

func TestService_DeactivateReactivate(t *testing.T) {
	t.Run("deactivate sets flag and timestamp", func(t *testing.T) {
		db, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		require.NoError(t, svc.Deactivate(ctx, res.User.ID))

		var stored models.User
		require.NoError(t, db.First(&stored, "id = ?", res.User.ID).Error)
		assert.False(t, stored.IsActive)
		assert.NotNil(t, stored.DeactivatedAt)
		assert.Empty(t, stored.RefreshTokenCurrent)
	})

	t.Run("deactivate twice reports not found", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		require.NoError(t, svc.Deactivate(ctx, res.User.ID))

		assert.ErrorIs(t, svc.Deactivate(ctx, res.User.ID), auth.ErrUserNotFound)
	})

	t.Run("reactivate restores login", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		require.NoError(t, svc.Deactivate(ctx, res.User.ID))
		require.NoError(t, svc.Reactivate(ctx, res.User.ID))

		_, err = svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
		assert.NoError(t, err)
	})

	t.Run("reactivating an active account reports not found", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)

		assert.ErrorIs(t, svc.Reactivate(ctx, res.User.ID), auth.ErrUserNotFound)
	})
}

func TestService_PermanentDelete(t *testing.T) {
	t.Run("removes the record and frees the email", func(t *testing.T) {
		db, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		res, err := svc.Register(ctx, registerInput("alice@x.com"))
		require.NoError(t, err)
		require.NoError(t, svc.PermanentDelete(ctx, res.User.ID))

		var count int64
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", res.User.ID).Count(&count).Error)
		assert.Zero(t, count)

		// The email can be registered again
		_, err = svc.Register(ctx, registerInput("alice@x.com"))
		assert.NoError(t, err)
	})

	t.Run("unknown user reports not found", func(t *testing.T) {
		_, svc := newTestService(t)
		ctx := testutil.TestContext(t)

		assert.ErrorIs(t, svc.PermanentDelete(ctx, uuid.New()), auth.ErrUserNotFound)
	})
}

func TestService_GetUserByID(t *testing.T) {
	_, svc := newTestService(t)
	ctx := testutil.TestContext(t)

	res, err := svc.Register(ctx, registerInput("alice@x.com"))
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, res.User.ID))

	t.Run("inactive user hidden by default", func(t *testing.T) {
		_, err := svc.GetUserByID(ctx, res.User.ID, false)
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})

	t.Run("inactive user visible when requested", func(t *testing.T) {
		user, err := svc.GetUserByID(ctx, res.User.ID, true)
		require.NoError(t, err)
		assert.False(t, user.IsActive)
	})
}

func TestService_ListUsers(t *testing.T) {
	_, svc := newTestService(t)
	ctx := testutil.TestContext(t)

	alice, err := svc.Register(ctx, auth.RegisterInput{Name: "Alice", Email: "alice@x.com", Password: "P@ssw0rd1"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, auth.RegisterInput{Name: "Bob", Email: "bob@y.com", Password: "P@ssw0rd1"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, auth.RegisterInput{Name: "Carol", Email: "carol@z.com", Password: "P@ssw0rd1"})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, alice.User.ID))

	t.Run("excludes inactive by default", func(t *testing.T) {
		users, total, err := svc.ListUsers(ctx, auth.ListUsersInput{})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		for _, u := range users {
			assert.True(t, u.IsActive)
		}
	})

	t.Run("includes inactive on request", func(t *testing.T) {
		_, total, err := svc.ListUsers(ctx, auth.ListUsersInput{IncludeInactive: true})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
	})

	t.Run("searches name and email", func(t *testing.T) {
		users, total, err := svc.ListUsers(ctx, auth.ListUsersInput{Query: "bob"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		require.Len(t, users, 1)
		assert.Equal(t, "Bob", users[0].Name)

		_, total, err = svc.ListUsers(ctx, auth.ListUsersInput{Query: "@z.com"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
	})

	t.Run("paginates", func(t *testing.T) {
		users, total, err := svc.ListUsers(ctx, auth.ListUsersInput{IncludeInactive: true, Page: 2, PerPage: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		assert.Len(t, users, 1)
	})
}

// Full lifecycle walk: register, verify, login, refresh, logout.
func TestService_LifecycleScenario(t *testing.T) {
	_, svc := newTestService(t)
	ctx := testutil.TestContext(t)

	res, err := svc.Register(ctx, auth.RegisterInput{
		Name:     "Alice",
		Email:    "alice@x.com",
		Password: "P@ssw0rd1",
	})
	require.NoError(t, err)
	assert.False(t, res.User.IsEmailVerified)

	verified, err := svc.VerifyEmail(ctx, res.VerificationToken)
	require.NoError(t, err)
	assert.True(t, verified.IsEmailVerified)

	login, err := svc.Login(ctx, auth.LoginInput{Email: "alice@x.com", Password: "P@ssw0rd1"})
	require.NoError(t, err)
	assert.NotEmpty(t, login.AccessToken)
	assert.NotEmpty(t, login.RefreshToken)

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	require.NoError(t, svc.Logout(ctx, login.User.ID))

	_, err = svc.Refresh(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
