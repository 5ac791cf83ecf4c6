package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/pkg/config"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
)

type mockAuthRepo struct {
	user *models.User

	updatedHash string
}

func (m *mockAuthRepo) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	if m.user == nil || m.user.Phone != phone {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	m.updatedHash = passwordHash
	return nil
}

type mockRegistrar struct {
	user *models.User
	err  error
}

func (m *mockRegistrar) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

type mockCodeVerifier struct {
	err      error
	verified []string
}

func (m *mockCodeVerifier) Verify(ctx context.Context, phone, purpose, code string) error {
	if m.err != nil {
		return m.err
	}
	m.verified = append(m.verified, purpose)
	return nil
}

type mockGradeChecker struct {
	newGrade *string
	err      error
}

func (m *mockGradeChecker) CheckAndUpgradeOnLogin(ctx context.Context, user *models.User) (*string, error) {
	return m.newGrade, m.err
}

func authTestConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "test-secret", Issuer: "paperclip-test", Expiration: time.Hour}
}

func newAuthService(repo *mockAuthRepo, registrar *mockRegistrar, sms *mockCodeVerifier, grades *mockGradeChecker) *AuthService {
	if registrar == nil {
		registrar = &mockRegistrar{}
	}
	if sms == nil {
		sms = &mockCodeVerifier{}
	}
	var gradeChecker loginGradeChecker
	if grades != nil {
		gradeChecker = grades
	}
	return NewAuthService(repo, registrar, sms, gradeChecker, authTestConfig(), nil, nil)
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func activeUser(t *testing.T) *models.User {
	return &models.User{
		ID:           "u-1",
		Phone:        "13800138000",
		PasswordHash: hashed(t, "secret1"),
		Nickname:     "mei",
		Role:         models.RoleMember,
		ChildGrade:   "Elementary 3",
		Active:       true,
	}
}

func TestAuthLoginIssuesValidToken(t *testing.T) {
	repo := &mockAuthRepo{user: activeUser(t)}
	svc := newAuthService(repo, nil, nil, nil)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Phone: "13800138000", Password: "secret1"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "u-1", resp.User.ID)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "13800138000", claims.Phone)
	assert.Equal(t, models.RoleMember, claims.Role)
	assert.Equal(t, "paperclip-test", claims.Issuer)
}

func TestAuthLoginWrongPassword(t *testing.T) {
	repo := &mockAuthRepo{user: activeUser(t)}
	svc := newAuthService(repo, nil, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Phone: "13800138000", Password: "wrong-1"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestAuthLoginUnknownPhone(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{}, nil, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Phone: "13800138000", Password: "secret1"})
	// Unknown phone reads the same as a wrong password.
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)
}

func TestAuthLoginInactiveAccount(t *testing.T) {
	user := activeUser(t)
	user.Active = false
	svc := newAuthService(&mockAuthRepo{user: user}, nil, nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Phone: "13800138000", Password: "secret1"})
	assert.ErrorIs(t, err, appErrors.ErrInactiveAccount)
}

func TestAuthLoginSurfacesGradeUpgrade(t *testing.T) {
	upgraded := "Elementary 4"
	repo := &mockAuthRepo{user: activeUser(t)}
	svc := newAuthService(repo, nil, nil, &mockGradeChecker{newGrade: &upgraded})

	resp, err := svc.Login(context.Background(), models.LoginRequest{Phone: "13800138000", Password: "secret1"})
	require.NoError(t, err)
	require.NotNil(t, resp.NewGrade)
	assert.Equal(t, "Elementary 4", *resp.NewGrade)
}

func TestAuthLoginGradeCheckFailureDoesNotBlock(t *testing.T) {
	repo := &mockAuthRepo{user: activeUser(t)}
	svc := newAuthService(repo, nil, nil, &mockGradeChecker{err: sql.ErrConnDone})

	resp, err := svc.Login(context.Background(), models.LoginRequest{Phone: "13800138000", Password: "secret1"})
	require.NoError(t, err)
	assert.Nil(t, resp.NewGrade)
}

func TestAuthRegisterVerifiesSMSCode(t *testing.T) {
	sms := &mockCodeVerifier{}
	registrar := &mockRegistrar{user: activeUser(t)}
	svc := newAuthService(&mockAuthRepo{}, registrar, sms, nil)

	resp, err := svc.Register(context.Background(), validRegisterRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"register"}, sms.verified)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthRegisterRejectedCode(t *testing.T) {
	sms := &mockCodeVerifier{err: appErrors.Clone(appErrors.ErrValidation, "verification code is incorrect")}
	registrar := &mockRegistrar{user: activeUser(t)}
	svc := newAuthService(&mockAuthRepo{}, registrar, sms, nil)

	_, err := svc.Register(context.Background(), validRegisterRequest())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestAuthChangePassword(t *testing.T) {
	repo := &mockAuthRepo{user: activeUser(t)}
	svc := newAuthService(repo, nil, nil, nil)

	err := svc.ChangePassword(context.Background(), "u-1", ChangePasswordRequest{OldPassword: "secret1", NewPassword: "secret2"})
	require.NoError(t, err)

	require.NotEmpty(t, repo.updatedHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.updatedHash), []byte("secret2")))
}

func TestAuthChangePasswordWrongOld(t *testing.T) {
	repo := &mockAuthRepo{user: activeUser(t)}
	svc := newAuthService(repo, nil, nil, nil)

	err := svc.ChangePassword(context.Background(), "u-1", ChangePasswordRequest{OldPassword: "wrong-1", NewPassword: "secret2"})

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	assert.Empty(t, repo.updatedHash)
}

func TestAuthResetPassword(t *testing.T) {
	sms := &mockCodeVerifier{}
	repo := &mockAuthRepo{user: activeUser(t)}
	svc := newAuthService(repo, nil, sms, nil)

	err := svc.ResetPassword(context.Background(), ResetPasswordRequest{Phone: "13800138000", SMSCode: "123456", NewPassword: "secret3"})
	require.NoError(t, err)

	assert.Equal(t, []string{"reset_password"}, sms.verified)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.updatedHash), []byte("secret3")))
}

func TestAuthValidateTokenRejectsForgery(t *testing.T) {
	repo := &mockAuthRepo{user: activeUser(t)}
	svc := newAuthService(repo, nil, nil, nil)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Phone: "13800138000", Password: "secret1"})
	require.NoError(t, err)

	other := NewAuthService(repo, &mockRegistrar{}, &mockCodeVerifier{}, nil, config.JWTConfig{Secret: "different", Issuer: "paperclip-test", Expiration: time.Hour}, nil, nil)
	_, err = other.ValidateToken(resp.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
