package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/pkg/config"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
)

type userAccountRepo interface {
	Create(ctx context.Context, user *models.User, bonus *models.PointTransaction) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest) error
	Deactivate(ctx context.Context, id string) error
	SetSignInDate(ctx context.Context, id string, day time.Time) error
}

type pointsEngine interface {
	Credit(ctx context.Context, userID string, amount int64, kind models.TxKind, description string, refs models.TxRefs) (*models.PointTransaction, error)
	Stats(ctx context.Context, userID string) (earned, spent int64, err error)
}

type uploadCounter interface {
	CountByUploader(ctx context.Context, userID string) (int, error)
	CountDownloadsBy(ctx context.Context, userID string) (int, error)
}

type bountyCounter interface {
	CountCreatedBy(ctx context.Context, userID string) (int, error)
	CountWonBy(ctx context.Context, userID string) (int, error)
}

// UserService covers account lifecycle: registration with the opening bonus,
// daily sign-in, profile maintenance and activity stats.
type UserService struct {
	users     userAccountRepo
	points    pointsEngine
	resources uploadCounter
	bounties  bountyCounter
	rules     config.PointsConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewUserService constructs UserService.
func NewUserService(users userAccountRepo, points pointsEngine, resources uploadCounter, bounties bountyCounter, rules config.PointsConfig, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		users:     users,
		points:    points,
		resources: resources,
		bounties:  bounties,
		rules:     rules,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates the account. The registration bonus is written as the
// account's first ledger entry inside the creation transaction, so a new
// account's balance already equals its ledger sum.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	if _, err := s.users.FindByPhone(ctx, req.Phone); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "phone already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check phone")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Nickname:     req.Nickname,
		Role:         models.RoleMember,
		ChildGrade:   req.ChildGrade,
		Active:       true,
	}
	bonus := &models.PointTransaction{
		Kind:        models.TxRegister,
		Amount:      s.rules.RegisterBonus,
		Description: "Registration bonus",
	}
	if err := s.users.Create(ctx, user, bonus); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}
	return user, nil
}

// SignIn credits the daily sign-in bonus, once per calendar day.
func (s *UserService) SignIn(ctx context.Context, userID string) (*models.PointTransaction, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAccountNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	today := s.today()
	if user.LastSignInDate != nil && sameDate(*user.LastSignInDate, today) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already signed in today")
	}

	entry, err := s.points.Credit(ctx, userID, s.rules.SignInBonus, models.TxSignIn, "Daily sign-in bonus", models.TxRefs{})
	if err != nil {
		return nil, err
	}
	if err := s.users.SetSignInDate(ctx, userID, today); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record sign-in")
	}
	return entry, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAccountNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return user, nil
}

// UpdateProfile writes the allow-listed profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	if err := s.users.UpdateProfile(ctx, id, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}
	return s.Get(ctx, id)
}

// List returns users matching the filter.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Deactivate soft-deletes an account. Accounts are never hard-deleted.
func (s *UserService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.users.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate account")
	}
	return nil
}

// Stats aggregates the user's activity for the profile page.
func (s *UserService) Stats(ctx context.Context, userID string) (*models.UserStats, error) {
	earned, spent, err := s.points.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	uploads, err := s.resources.CountByUploader(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count uploads")
	}
	downloads, err := s.resources.CountDownloadsBy(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count downloads")
	}
	created, err := s.bounties.CountCreatedBy(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count bounties")
	}
	won, err := s.bounties.CountWonBy(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count won bounties")
	}
	return &models.UserStats{
		TotalUploads:      uploads,
		TotalDownloads:    downloads,
		TotalPointsEarned: earned,
		TotalPointsSpent:  spent,
		BountiesCreated:   created,
		BountiesWon:       won,
	}, nil
}

func (s *UserService) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
