package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/k12share/paperclip-api/internal/models"
)

// ErrInsufficientPoints is returned when a debit would take an account's
// balance below zero. The enclosing transaction is rolled back in full.
var ErrInsufficientPoints = errors.New("insufficient points")

// IsSerializationFailure reports whether err is a Postgres serialization or
// deadlock failure, the only class a caller may retry.
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// PointRepository owns the points ledger. Every balance mutation in the
// system funnels through applyPointChange in this file: balance update,
// ledger insert and level recompute happen inside one transaction and either
// all commit or none do.
type PointRepository struct {
	db    *sqlx.DB
	tiers models.TierTable
}

// NewPointRepository constructs the repository with the injected tier table.
func NewPointRepository(db *sqlx.DB, tiers models.TierTable) *PointRepository {
	return &PointRepository{db: db, tiers: tiers}
}

// applyPointChange locks the account row, applies the signed amount, inserts
// the ledger entry and persists the recomputed level. It must be called
// inside an open transaction; callers own commit/rollback. Returns the new
// balance. sql.ErrNoRows propagates when the account is missing.
func applyPointChange(ctx context.Context, tx *sqlx.Tx, tiers models.TierTable, entry *models.PointTransaction) (int64, error) {
	var balance int64
	if err := tx.GetContext(ctx, &balance, `SELECT points FROM users WHERE id = $1 FOR UPDATE`, entry.UserID); err != nil {
		if err == sql.ErrNoRows {
			return 0, err
		}
		return 0, fmt.Errorf("lock account row: %w", err)
	}

	newBalance := balance + entry.Amount
	if newBalance < 0 {
		return 0, ErrInsufficientPoints
	}

	now := time.Now().UTC()
	level := tiers.Classify(newBalance)
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET points = $2, level = $3, updated_at = $4 WHERE id = $1`,
		entry.UserID, newBalance, level, now,
	); err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.BalanceAfter = newBalance
	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO point_transactions (id, user_id, kind, amount, balance_after, description, resource_id, bounty_id, created_at)
         VALUES (:id, :user_id, :kind, :amount, :balance_after, :description, :resource_id, :bounty_id, :created_at)`,
		entry,
	); err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	return newBalance, nil
}

// Apply commits a single signed balance change with its ledger entry.
func (r *PointRepository) Apply(ctx context.Context, entry *models.PointTransaction) (*models.PointTransaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin point tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := applyPointChange(ctx, tx, r.tiers, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit point tx: %w", err)
	}
	return entry, nil
}

// Transfer applies a debit and a credit as one atomic unit. Account rows are
// locked in ascending ID order so reversed concurrent transfers cannot
// deadlock. If either leg fails nothing is committed.
func (r *PointRepository) Transfer(ctx context.Context, out, in *models.PointTransaction) (*models.PointTransaction, *models.PointTransaction, error) {
	if out.Amount >= 0 || in.Amount <= 0 {
		return nil, nil, fmt.Errorf("transfer legs must be a debit and a credit")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	first, second := out, in
	if strings.Compare(in.UserID, out.UserID) < 0 {
		first, second = in, out
	}
	if _, err := applyPointChange(ctx, tx, r.tiers, first); err != nil {
		return nil, nil, err
	}
	if _, err := applyPointChange(ctx, tx, r.tiers, second); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit transfer tx: %w", err)
	}
	return out, in, nil
}

// History returns a page of an account's ledger, newest first.
func (r *PointRepository) History(ctx context.Context, filter models.TransactionFilter) ([]models.PointTransaction, int, error) {
	base := `FROM point_transactions WHERE user_id = $1`
	args := []interface{}{filter.UserID}

	if filter.Kind != "" {
		base += fmt.Sprintf(" AND kind = $%d", len(args)+1)
		args = append(args, filter.Kind)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, user_id, kind, amount, balance_after, description, resource_id, bounty_id, created_at %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, base, size, offset)

	var entries []models.PointTransaction
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	return entries, total, nil
}

// HistoryBetween returns every ledger entry for an account in [from, to),
// oldest first. Statement rendering reads the full period without paging.
func (r *PointRepository) HistoryBetween(ctx context.Context, userID string, from, to time.Time) ([]models.PointTransaction, error) {
	const query = `SELECT id, user_id, kind, amount, balance_after, description, resource_id, bounty_id, created_at
        FROM point_transactions
        WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
        ORDER BY created_at ASC`
	var entries []models.PointTransaction
	if err := r.db.SelectContext(ctx, &entries, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("list ledger period: %w", err)
	}
	return entries, nil
}

// SumByUser reconstructs a balance from the ledger. Used by reconciliation
// checks; the users.points column is authoritative for reads.
func (r *PointRepository) SumByUser(ctx context.Context, userID string) (int64, error) {
	var sum int64
	if err := r.db.GetContext(ctx, &sum,
		`SELECT COALESCE(SUM(amount), 0) FROM point_transactions WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return sum, nil
}

// EarnedAndSpent returns the account's lifetime credited and debited totals.
// The spent figure is reported as a positive number.
func (r *PointRepository) EarnedAndSpent(ctx context.Context, userID string) (int64, int64, error) {
	var totals struct {
		Earned int64 `db:"earned"`
		Spent  int64 `db:"spent"`
	}
	const query = `SELECT
        COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0) AS earned,
        COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0) AS spent
        FROM point_transactions WHERE user_id = $1`
	if err := r.db.GetContext(ctx, &totals, query, userID); err != nil {
		return 0, 0, fmt.Errorf("aggregate ledger entries: %w", err)
	}
	return totals.Earned, totals.Spent, nil
}
