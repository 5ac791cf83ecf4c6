package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/internal/repository"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
)

// transferRetries bounds automatic retries on serialization conflicts.
const transferRetries = 3

type pointLedger interface {
	Apply(ctx context.Context, entry *models.PointTransaction) (*models.PointTransaction, error)
	Transfer(ctx context.Context, out, in *models.PointTransaction) (*models.PointTransaction, *models.PointTransaction, error)
	History(ctx context.Context, filter models.TransactionFilter) ([]models.PointTransaction, int, error)
	SumByUser(ctx context.Context, userID string) (int64, error)
	EarnedAndSpent(ctx context.Context, userID string) (int64, int64, error)
}

type quotaAccountRepo interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ResetDailyDownloads(ctx context.Context, id string, day time.Time) error
	IncrementDailyDownloads(ctx context.Context, id string, day time.Time) error
}

// PointsService is the points engine: the only caller-facing surface for
// balance mutation, plus the per-day download quota tracker.
type PointsService struct {
	ledger  pointLedger
	users   quotaAccountRepo
	tiers   models.TierTable
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewPointsService constructs PointsService with the injected tier table.
func NewPointsService(ledger pointLedger, users quotaAccountRepo, tiers models.TierTable, metrics *MetricsService, logger *zap.Logger) *PointsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PointsService{
		ledger:  ledger,
		users:   users,
		tiers:   tiers,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Credit adds points to an account. Amount must be positive; validation runs
// before any storage access.
func (s *PointsService) Credit(ctx context.Context, userID string, amount int64, kind models.TxKind, description string, refs models.TxRefs) (*models.PointTransaction, error) {
	if amount <= 0 {
		return nil, appErrors.ErrInvalidAmount
	}
	entry := &models.PointTransaction{
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		ResourceID:  refs.ResourceID,
		BountyID:    refs.BountyID,
	}
	applied, err := s.ledger.Apply(ctx, entry)
	if err != nil {
		return nil, s.mapLedgerError(err, "credit failed")
	}
	s.observeLedger(kind, applied.Amount)
	return applied, nil
}

// Debit removes points from an account. Fails with InsufficientBalance when
// the account holds less than amount; a debit of the exact balance succeeds
// and leaves the balance at zero.
func (s *PointsService) Debit(ctx context.Context, userID string, amount int64, kind models.TxKind, description string, refs models.TxRefs) (*models.PointTransaction, error) {
	if amount <= 0 {
		return nil, appErrors.ErrInvalidAmount
	}
	entry := &models.PointTransaction{
		UserID:      userID,
		Kind:        kind,
		Amount:      -amount,
		Description: description,
		ResourceID:  refs.ResourceID,
		BountyID:    refs.BountyID,
	}
	applied, err := s.ledger.Apply(ctx, entry)
	if err != nil {
		return nil, s.mapLedgerError(err, "debit failed")
	}
	s.observeLedger(kind, applied.Amount)
	return applied, nil
}

// Transfer moves points between two accounts as one atomic unit, retrying a
// bounded number of times on serialization conflicts.
func (s *PointsService) Transfer(ctx context.Context, fromID, toID string, amount int64, description string, refs models.TxRefs) (*models.PointTransaction, *models.PointTransaction, error) {
	if amount <= 0 {
		return nil, nil, appErrors.ErrInvalidAmount
	}

	var lastErr error
	for attempt := 0; attempt < transferRetries; attempt++ {
		out := &models.PointTransaction{
			UserID:      fromID,
			Kind:        models.TxTransferOut,
			Amount:      -amount,
			Description: description,
			ResourceID:  refs.ResourceID,
			BountyID:    refs.BountyID,
		}
		in := &models.PointTransaction{
			UserID:      toID,
			Kind:        models.TxTransferIn,
			Amount:      amount,
			Description: description,
			ResourceID:  refs.ResourceID,
			BountyID:    refs.BountyID,
		}
		appliedOut, appliedIn, err := s.ledger.Transfer(ctx, out, in)
		if err == nil {
			s.observeLedger(models.TxTransferOut, appliedOut.Amount)
			s.observeLedger(models.TxTransferIn, appliedIn.Amount)
			return appliedOut, appliedIn, nil
		}
		if !repository.IsSerializationFailure(err) {
			return nil, nil, s.mapLedgerError(err, "transfer failed")
		}
		lastErr = err
		s.logger.Warn("transfer conflict, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, nil, appErrors.Wrap(lastErr, appErrors.ErrTxConflict.Code, appErrors.ErrTxConflict.Status, appErrors.ErrTxConflict.Message)
}

// History returns a page of the account's ledger.
func (s *PointsService) History(ctx context.Context, filter models.TransactionFilter) ([]models.PointTransaction, *models.Pagination, error) {
	entries, total, err := s.ledger.History(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list point history")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Reconcile recomputes the ledger sum for an account and reports it next to
// the cached balance. The two are equal after every committed operation.
func (s *PointsService) Reconcile(ctx context.Context, userID string) (cached int64, ledger int64, err error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, appErrors.ErrAccountNotFound
		}
		return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	sum, err := s.ledger.SumByUser(ctx, userID)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum ledger")
	}
	return user.Points, sum, nil
}

// CheckDownloadQuota resets the stale daily counter if the calendar day has
// rolled over and reports whether the account may start another paid
// download today. The reset commits even when the check then fails. The
// quota is read from the account's tier at this moment, so a tier change
// takes effect on the very next check.
func (s *PointsService) CheckDownloadQuota(ctx context.Context, userID string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.ErrAccountNotFound
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	today := s.today()
	count := user.DailyDownloads
	if user.LastDownloadDate == nil || !sameDate(*user.LastDownloadDate, today) {
		if err := s.users.ResetDailyDownloads(ctx, userID, today); err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset daily downloads")
		}
		count = 0
	}

	quota := s.tiers.QuotaFor(user.Level)
	if quota == models.UnlimitedQuota {
		return true, nil
	}
	if count >= quota {
		if s.metrics != nil {
			s.metrics.ObserveQuotaRejection()
		}
		return false, nil
	}
	return true, nil
}

// IncrementDownloads consumes one unit of today's quota. Callers invoke it
// only after the paid download transaction has committed, so a failed
// payment never costs quota.
func (s *PointsService) IncrementDownloads(ctx context.Context, userID string) error {
	if err := s.users.IncrementDailyDownloads(ctx, userID, s.today()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to increment daily downloads")
	}
	return nil
}

// Stats returns lifetime earned and spent totals from the ledger.
func (s *PointsService) Stats(ctx context.Context, userID string) (earned, spent int64, err error) {
	earned, spent, err = s.ledger.EarnedAndSpent(ctx, userID)
	if err != nil {
		return 0, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate ledger")
	}
	return earned, spent, nil
}

func (s *PointsService) today() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// observeLedger forwards a committed entry to the metrics collector. Services
// that settle entries in their own transactions call this too.
func (s *PointsService) observeLedger(kind models.TxKind, amount int64) {
	if s.metrics != nil {
		s.metrics.ObserveLedgerEntry(kind, amount)
	}
}

func (s *PointsService) mapLedgerError(err error, msg string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.ErrAccountNotFound
	case errors.Is(err, repository.ErrInsufficientPoints):
		return appErrors.ErrInsufficientBalance
	case repository.IsSerializationFailure(err):
		return appErrors.Wrap(err, appErrors.ErrTxConflict.Code, appErrors.ErrTxConflict.Status, appErrors.ErrTxConflict.Message)
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
	}
}

func sameDate(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}
