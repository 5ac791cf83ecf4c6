package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/k12share/paperclip-api/internal/models"
)

// UserRepository provides database access for platform accounts.
type UserRepository struct {
	db    *sqlx.DB
	tiers models.TierTable
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB, tiers models.TierTable) *UserRepository {
	return &UserRepository{db: db, tiers: tiers}
}

const userColumns = `id, phone, password_hash, nickname, avatar_url, city, role, child_grade, points, level, daily_downloads, last_download_date, last_signin_date, last_grade_upgrade_year, active, created_at, updated_at`

// Create inserts a new account and credits the registration bonus as the
// account's opening ledger entry, all in one transaction.
func (r *UserRepository) Create(ctx context.Context, user *models.User, bonus *models.PointTransaction) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Points = 0
	user.Level = r.tiers.Classify(0)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO users (id, phone, password_hash, nickname, avatar_url, city, role, child_grade, points, level, daily_downloads, active, created_at, updated_at)
        VALUES (:id, :phone, :password_hash, :nickname, :avatar_url, :city, :role, :child_grade, :points, :level, :daily_downloads, :active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	if bonus != nil {
		bonus.UserID = user.ID
		balance, err := applyPointChange(ctx, tx, r.tiers, bonus)
		if err != nil {
			return err
		}
		user.Points = balance
		user.Level = r.tiers.Classify(balance)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create user tx: %w", err)
	}
	return nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByPhone returns a user by phone number.
func (r *UserRepository) FindByPhone(ctx context.Context, phone string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE phone = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, phone); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by phone: %w", err)
	}
	return &user, nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Grade != "" {
		conditions = append(conditions, fmt.Sprintf("child_grade = $%d", len(args)+1))
		args = append(args, filter.Grade)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(phone LIKE $%d OR LOWER(nickname) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"points":     true,
		"nickname":   true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// UpdateProfile writes the allow-listed profile fields only.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest) error {
	sets := []string{}
	args := []interface{}{id}

	if req.Nickname != nil {
		sets = append(sets, fmt.Sprintf("nickname = $%d", len(args)+1))
		args = append(args, *req.Nickname)
	}
	if req.AvatarURL != nil {
		sets = append(sets, fmt.Sprintf("avatar_url = $%d", len(args)+1))
		args = append(args, *req.AvatarURL)
	}
	if req.City != nil {
		sets = append(sets, fmt.Sprintf("city = $%d", len(args)+1))
		args = append(args, *req.City)
	}
	if req.ChildGrade != nil {
		sets = append(sets, fmt.Sprintf("child_grade = $%d", len(args)+1))
		args = append(args, *req.ChildGrade)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, time.Now().UTC())

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $1", strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Deactivate performs a soft delete by marking the user inactive.
func (r *UserRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return nil
}

// SetSignInDate records the day of the user's last daily sign-in.
func (r *UserRepository) SetSignInDate(ctx context.Context, id string, day time.Time) error {
	const query = `UPDATE users SET last_signin_date = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, day, time.Now().UTC()); err != nil {
		return fmt.Errorf("set signin date: %w", err)
	}
	return nil
}

// ResetDailyDownloads zeroes the daily counter and stamps the given day. The
// reset commits independently of whatever check follows it.
func (r *UserRepository) ResetDailyDownloads(ctx context.Context, id string, day time.Time) error {
	const query = `UPDATE users SET daily_downloads = 0, last_download_date = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, day, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset daily downloads: %w", err)
	}
	return nil
}

// IncrementDailyDownloads bumps the daily counter, restarting it at 1 when
// the stored date is not the given day.
func (r *UserRepository) IncrementDailyDownloads(ctx context.Context, id string, day time.Time) error {
	const query = `UPDATE users SET
        daily_downloads = CASE WHEN last_download_date = $2 THEN daily_downloads + 1 ELSE 1 END,
        last_download_date = $2,
        updated_at = $3
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, day, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment daily downloads: %w", err)
	}
	return nil
}

// UpdateGrade advances a user's grade and stamps the upgrade year.
func (r *UserRepository) UpdateGrade(ctx context.Context, id, grade string, year int) error {
	const query = `UPDATE users SET child_grade = $2, last_grade_upgrade_year = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, grade, year, time.Now().UTC()); err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	return nil
}

// ListGradeUpgradeCandidates returns active accounts that have not been
// upgraded in the given year.
func (r *UserRepository) ListGradeUpgradeCandidates(ctx context.Context, year int) ([]models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE active = TRUE AND (last_grade_upgrade_year IS NULL OR last_grade_upgrade_year <> $1)`, userColumns)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, year); err != nil {
		return nil, fmt.Errorf("list grade upgrade candidates: %w", err)
	}
	return users, nil
}
