package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/pkg/config"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
)

// GradeTerminal is the final grade label; it never advances.
const GradeTerminal = "High 3"

// gradeSuccessor is the fixed progression ladder. Unknown labels are treated
// as their own successor so malformed data never crashes a sweep.
var gradeSuccessor = map[string]string{
	"Elementary 1": "Elementary 2",
	"Elementary 2": "Elementary 3",
	"Elementary 3": "Elementary 4",
	"Elementary 4": "Elementary 5",
	"Elementary 5": "Pre-Middle",
	"Pre-Middle":   "Middle 1",
	"Middle 1":     "Middle 2",
	"Middle 2":     "Middle 3",
	"Middle 3":     "High 1",
	"High 1":       "High 2",
	"High 2":       "High 3",
	GradeTerminal:  GradeTerminal,
}

type gradeAccountRepo interface {
	UpdateGrade(ctx context.Context, id, grade string, year int) error
	ListGradeUpgradeCandidates(ctx context.Context, year int) ([]models.User, error)
}

// GradeService advances student grades once per calendar year. It has no
// internal scheduler; callers are the login hook and the operator-invoked
// batch sweep.
type GradeService struct {
	users   gradeAccountRepo
	cfg     config.GradesConfig
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewGradeService constructs GradeService.
func NewGradeService(users gradeAccountRepo, cfg config.GradesConfig, metrics *MetricsService, logger *zap.Logger) *GradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UpgradeMonth < time.January || cfg.UpgradeMonth > time.December {
		cfg.UpgradeMonth = time.July
	}
	if cfg.UpgradeDay < 1 || cfg.UpgradeDay > 31 {
		cfg.UpgradeDay = 1
	}
	return &GradeService{users: users, cfg: cfg, metrics: metrics, logger: logger, now: time.Now}
}

// NextGrade returns the successor of the given grade label. Terminal and
// unknown labels map to themselves.
func (s *GradeService) NextGrade(current string) string {
	if next, ok := gradeSuccessor[current]; ok {
		return next
	}
	return current
}

// EligibleWindow reports whether the wall clock has passed this year's
// upgrade cutoff. Evaluated fresh on every call.
func (s *GradeService) EligibleWindow() bool {
	now := s.now()
	cutoff := time.Date(now.Year(), s.cfg.UpgradeMonth, s.cfg.UpgradeDay, 0, 0, 0, 0, now.Location())
	return !now.Before(cutoff)
}

// UpgradeOne advances a single account by one grade. Returns false without
// mutation when outside the window (unless forced), when the account was
// already upgraded this year, or when the grade is terminal.
func (s *GradeService) UpgradeOne(ctx context.Context, user *models.User, force bool) (bool, error) {
	if !force && !s.EligibleWindow() {
		return false, nil
	}

	currentYear := s.now().Year()
	if user.LastGradeUpgradeYear != nil && *user.LastGradeUpgradeYear == currentYear {
		return false, nil
	}

	next := s.NextGrade(user.ChildGrade)
	if next == user.ChildGrade {
		return false, nil
	}

	if err := s.users.UpdateGrade(ctx, user.ID, next, currentYear); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upgrade grade")
	}
	user.ChildGrade = next
	user.LastGradeUpgradeYear = &currentYear
	if s.metrics != nil {
		s.metrics.ObserveGradeUpgrade()
	}
	return true, nil
}

// UpgradeAll applies UpgradeOne semantics to every active account and
// returns the number actually changed. Safe to invoke repeatedly inside the
// same window: the per-year stamp makes every later call a no-op.
func (s *GradeService) UpgradeAll(ctx context.Context, force bool) (int, error) {
	if !force && !s.EligibleWindow() {
		return 0, nil
	}

	currentYear := s.now().Year()
	candidates, err := s.users.ListGradeUpgradeCandidates(ctx, currentYear)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list upgrade candidates")
	}

	upgraded := 0
	for i := range candidates {
		user := &candidates[i]
		next := s.NextGrade(user.ChildGrade)
		if next == user.ChildGrade {
			continue
		}
		if err := s.users.UpdateGrade(ctx, user.ID, next, currentYear); err != nil {
			return upgraded, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upgrade grade")
		}
		if s.metrics != nil {
			s.metrics.ObserveGradeUpgrade()
		}
		upgraded++
	}

	s.logger.Info("grade sweep finished", zap.Int("upgraded", upgraded), zap.Int("candidates", len(candidates)))
	return upgraded, nil
}

// CheckAndUpgradeOnLogin runs the non-forced upgrade at authentication time
// and returns the new grade only when it changed.
func (s *GradeService) CheckAndUpgradeOnLogin(ctx context.Context, user *models.User) (*string, error) {
	changed, err := s.UpgradeOne(ctx, user, false)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	grade := user.ChildGrade
	return &grade, nil
}
