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

// ResourceRepository handles persistence of study resources and downloads.
type ResourceRepository struct {
	db    *sqlx.DB
	tiers models.TierTable
}

// NewResourceRepository constructs the repository.
func NewResourceRepository(db *sqlx.DB, tiers models.TierTable) *ResourceRepository {
	return &ResourceRepository{db: db, tiers: tiers}
}

const resourceColumns = `id, uploader_id, title, description, grade, subject, resource_type, file_path, file_type, file_size, download_count, active, created_at, updated_at`

// CreateWithBonus inserts the resource and credits the uploader's upload
// bonus in one transaction.
func (r *ResourceRepository) CreateWithBonus(ctx context.Context, resource *models.Resource, bonus *models.PointTransaction) error {
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = now
	}
	resource.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create resource tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO resources (id, uploader_id, title, description, grade, subject, resource_type, file_path, file_type, file_size, download_count, active, created_at, updated_at)
        VALUES (:id, :uploader_id, :title, :description, :grade, :subject, :resource_type, :file_path, :file_type, :file_size, :download_count, :active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, resource); err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	if bonus != nil {
		bonus.ResourceID = &resource.ID
		if _, err := applyPointChange(ctx, tx, r.tiers, bonus); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create resource tx: %w", err)
	}
	return nil
}

// FindByID returns an active resource by identifier.
func (r *ResourceRepository) FindByID(ctx context.Context, id string) (*models.Resource, error) {
	query := fmt.Sprintf(`SELECT %s FROM resources WHERE id = $1 AND active = TRUE LIMIT 1`, resourceColumns)
	var resource models.Resource
	if err := r.db.GetContext(ctx, &resource, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find resource by id: %w", err)
	}
	return &resource, nil
}

// List returns active resources filtered by the provided criteria.
func (r *ResourceRepository) List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, int, error) {
	base := `FROM resources WHERE active = TRUE`
	var conditions []string
	var args []interface{}

	if filter.Grade != "" {
		conditions = append(conditions, fmt.Sprintf("grade = $%d", len(args)+1))
		args = append(args, filter.Grade)
	}
	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf("subject = $%d", len(args)+1))
		args = append(args, filter.Subject)
	}
	if filter.ResourceType != "" {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", len(args)+1))
		args = append(args, filter.ResourceType)
	}
	if filter.UploaderID != "" {
		conditions = append(conditions, fmt.Sprintf("uploader_id = $%d", len(args)+1))
		args = append(args, filter.UploaderID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(title) LIKE $%d OR LOWER(description) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"created_at":     true,
		"download_count": true,
		"title":          true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`, resourceColumns, base+clause, sortBy, order, size, offset)

	var resources []models.Resource
	if err := r.db.SelectContext(ctx, &resources, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list resources: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count resources: %w", err)
	}
	return resources, total, nil
}

// HasDownload reports whether the user already paid for this resource.
func (r *ResourceRepository) HasDownload(ctx context.Context, userID, resourceID string) (bool, error) {
	var count int
	const query = `SELECT COUNT(*) FROM downloads WHERE user_id = $1 AND resource_id = $2`
	if err := r.db.GetContext(ctx, &count, query, userID, resourceID); err != nil {
		return false, fmt.Errorf("check download: %w", err)
	}
	return count > 0, nil
}

// RecordPaidDownload settles a paid download in one transaction: the
// downloader's debit, the uploader's reward credit, the download row and the
// resource counter bump commit together or not at all. Account rows are
// locked in ascending ID order, same as Transfer, so two users concurrently
// downloading each other's resources cannot deadlock.
func (r *ResourceRepository) RecordPaidDownload(ctx context.Context, download *models.Download, debit, reward *models.PointTransaction) error {
	if download.ID == "" {
		download.ID = uuid.NewString()
	}
	if download.CreatedAt.IsZero() {
		download.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin download tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	debit.ResourceID = &download.ResourceID
	reward.ResourceID = &download.ResourceID

	first, second := debit, reward
	if strings.Compare(reward.UserID, debit.UserID) < 0 {
		first, second = reward, debit
	}
	if _, err := applyPointChange(ctx, tx, r.tiers, first); err != nil {
		return err
	}
	if _, err := applyPointChange(ctx, tx, r.tiers, second); err != nil {
		return err
	}

	const insert = `INSERT INTO downloads (id, user_id, resource_id, points_cost, created_at)
        VALUES (:id, :user_id, :resource_id, :points_cost, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, download); err != nil {
		return fmt.Errorf("record download: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE resources SET download_count = download_count + 1, updated_at = $2 WHERE id = $1`,
		download.ResourceID, time.Now().UTC()); err != nil {
		return fmt.Errorf("bump download count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit download tx: %w", err)
	}
	return nil
}

// Deactivate takes a resource out of circulation. The row and its ledger
// references survive; only the active flag flips, so past downloads keep
// resolving in statements. sql.ErrNoRows when no active row matched.
func (r *ResourceRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE resources SET active = FALSE, updated_at = $2 WHERE id = $1 AND active = TRUE`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate resource: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate resource result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByUploader returns how many resources the user has uploaded.
func (r *ResourceRepository) CountByUploader(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM resources WHERE uploader_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("count uploads: %w", err)
	}
	return count, nil
}

// CountDownloadsBy returns how many paid downloads the user has made.
func (r *ResourceRepository) CountDownloadsBy(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM downloads WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("count downloads: %w", err)
	}
	return count, nil
}
