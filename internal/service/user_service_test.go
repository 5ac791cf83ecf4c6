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

type mockUserRepo struct {
	byPhone *models.User
	byID    *models.User

	created     *models.User
	createdWith *models.PointTransaction
	signInDate  *time.Time
	deactivated bool
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User, bonus *models.PointTransaction) error {
	user.ID = "u-1"
	m.created = user
	m.createdWith = bonus
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.byID == nil {
		return nil, sql.ErrNoRows
	}
	copied := *m.byID
	return &copied, nil
}

func (m *mockUserRepo) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	if m.byPhone == nil {
		return nil, sql.ErrNoRows
	}
	return m.byPhone, nil
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return nil, 0, nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest) error {
	return nil
}

func (m *mockUserRepo) Deactivate(ctx context.Context, id string) error {
	m.deactivated = true
	return nil
}

func (m *mockUserRepo) SetSignInDate(ctx context.Context, id string, day time.Time) error {
	m.signInDate = &day
	return nil
}

type mockPointsEngine struct {
	credits []models.PointTransaction
	earned  int64
	spent   int64
}

func (m *mockPointsEngine) Credit(ctx context.Context, userID string, amount int64, kind models.TxKind, description string, refs models.TxRefs) (*models.PointTransaction, error) {
	entry := models.PointTransaction{UserID: userID, Kind: kind, Amount: amount, Description: description}
	m.credits = append(m.credits, entry)
	return &entry, nil
}

func (m *mockPointsEngine) Stats(ctx context.Context, userID string) (int64, int64, error) {
	return m.earned, m.spent, nil
}

type mockUploadCounter struct{ uploads, downloads int }

func (m *mockUploadCounter) CountByUploader(ctx context.Context, userID string) (int, error) {
	return m.uploads, nil
}

func (m *mockUploadCounter) CountDownloadsBy(ctx context.Context, userID string) (int, error) {
	return m.downloads, nil
}

type mockBountyCounter struct{ created, won int }

func (m *mockBountyCounter) CountCreatedBy(ctx context.Context, userID string) (int, error) {
	return m.created, nil
}

func (m *mockBountyCounter) CountWonBy(ctx context.Context, userID string) (int, error) {
	return m.won, nil
}

func userTestRules() config.PointsConfig {
	return config.PointsConfig{RegisterBonus: 100, SignInBonus: 5}
}

func newUserService(repo *mockUserRepo, points *mockPointsEngine, now time.Time) *UserService {
	if points == nil {
		points = &mockPointsEngine{}
	}
	svc := NewUserService(repo, points, &mockUploadCounter{}, &mockBountyCounter{}, userTestRules(), nil, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func validRegisterRequest() models.RegisterRequest {
	return models.RegisterRequest{
		Phone:      "13800138000",
		Password:   "secret1",
		Nickname:   "mei",
		ChildGrade: "Elementary 3",
		SMSCode:    "123456",
	}
}

func TestUserRegister(t *testing.T) {
	repo := &mockUserRepo{}
	svc := newUserService(repo, nil, time.Now())

	user, err := svc.Register(context.Background(), validRegisterRequest())
	require.NoError(t, err)

	assert.Equal(t, models.RoleMember, user.Role)
	assert.True(t, user.Active)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")))

	require.NotNil(t, repo.createdWith)
	assert.Equal(t, models.TxRegister, repo.createdWith.Kind)
	assert.Equal(t, int64(100), repo.createdWith.Amount)
}

func TestUserRegisterDuplicatePhone(t *testing.T) {
	repo := &mockUserRepo{byPhone: &models.User{ID: "u-existing", Phone: "13800138000"}}
	svc := newUserService(repo, nil, time.Now())

	_, err := svc.Register(context.Background(), validRegisterRequest())

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Nil(t, repo.created)
}

func TestUserRegisterValidation(t *testing.T) {
	repo := &mockUserRepo{}
	svc := newUserService(repo, nil, time.Now())

	req := validRegisterRequest()
	req.Phone = "555"
	_, err := svc.Register(context.Background(), req)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestUserSignInCreditsOncePerDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 30, 0, 0, time.Local)
	repo := &mockUserRepo{byID: &models.User{ID: "u-1", Active: true}}
	points := &mockPointsEngine{}
	svc := newUserService(repo, points, now)

	entry, err := svc.SignIn(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.TxSignIn, entry.Kind)
	assert.Equal(t, int64(5), entry.Amount)
	require.NotNil(t, repo.signInDate)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local), *repo.signInDate)
}

func TestUserSignInTwiceSameDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.Local)
	earlier := time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)
	repo := &mockUserRepo{byID: &models.User{ID: "u-1", Active: true, LastSignInDate: &earlier}}
	points := &mockPointsEngine{}
	svc := newUserService(repo, points, now)

	_, err := svc.SignIn(context.Background(), "u-1")

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Empty(t, points.credits)
}

func TestUserSignInNextDay(t *testing.T) {
	yesterday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.Local)
	now := time.Date(2026, 3, 10, 0, 5, 0, 0, time.Local)
	repo := &mockUserRepo{byID: &models.User{ID: "u-1", Active: true, LastSignInDate: &yesterday}}
	points := &mockPointsEngine{}
	svc := newUserService(repo, points, now)

	_, err := svc.SignIn(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Len(t, points.credits, 1)
}

func TestUserSignInUnknownAccount(t *testing.T) {
	svc := newUserService(&mockUserRepo{}, nil, time.Now())

	_, err := svc.SignIn(context.Background(), "ghost")
	assert.ErrorIs(t, err, appErrors.ErrAccountNotFound)
}

func TestUserDeactivateUnknownAccount(t *testing.T) {
	repo := &mockUserRepo{}
	svc := newUserService(repo, nil, time.Now())

	err := svc.Deactivate(context.Background(), "ghost")
	assert.ErrorIs(t, err, appErrors.ErrAccountNotFound)
	assert.False(t, repo.deactivated)
}

func TestUserStats(t *testing.T) {
	repo := &mockUserRepo{byID: &models.User{ID: "u-1"}}
	points := &mockPointsEngine{earned: 350, spent: 120}
	svc := NewUserService(repo, points, &mockUploadCounter{uploads: 4, downloads: 9}, &mockBountyCounter{created: 2, won: 1}, userTestRules(), nil, nil)

	stats, err := svc.Stats(context.Background(), "u-1")
	require.NoError(t, err)

	assert.Equal(t, 4, stats.TotalUploads)
	assert.Equal(t, 9, stats.TotalDownloads)
	assert.Equal(t, int64(350), stats.TotalPointsEarned)
	assert.Equal(t, int64(120), stats.TotalPointsSpent)
	assert.Equal(t, 2, stats.BountiesCreated)
	assert.Equal(t, 1, stats.BountiesWon)
}
