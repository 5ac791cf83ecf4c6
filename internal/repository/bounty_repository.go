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

// BountyRepository handles persistence of bounties and their responses.
type BountyRepository struct {
	db    *sqlx.DB
	tiers models.TierTable
}

// NewBountyRepository constructs the repository.
func NewBountyRepository(db *sqlx.DB, tiers models.TierTable) *BountyRepository {
	return &BountyRepository{db: db, tiers: tiers}
}

const bountyColumns = `id, creator_id, title, description, grade, subject, points_reward, status, winner_id, winning_resource_id, expires_at, created_at, updated_at`

// CreateWithEscrow inserts the bounty and debits the creator's escrow in one
// transaction. If the bounty insert fails the debit never becomes visible.
func (r *BountyRepository) CreateWithEscrow(ctx context.Context, bounty *models.Bounty, escrow *models.PointTransaction) error {
	if bounty.ID == "" {
		bounty.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if bounty.CreatedAt.IsZero() {
		bounty.CreatedAt = now
	}
	bounty.UpdatedAt = now
	bounty.Status = models.BountyActive

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create bounty tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	escrow.BountyID = &bounty.ID
	if _, err := applyPointChange(ctx, tx, r.tiers, escrow); err != nil {
		return err
	}

	const query = `INSERT INTO bounties (id, creator_id, title, description, grade, subject, points_reward, status, expires_at, created_at, updated_at)
        VALUES (:id, :creator_id, :title, :description, :grade, :subject, :points_reward, :status, :expires_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, bounty); err != nil {
		return fmt.Errorf("create bounty: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create bounty tx: %w", err)
	}
	return nil
}

// FindByID returns a bounty by identifier.
func (r *BountyRepository) FindByID(ctx context.Context, id string) (*models.Bounty, error) {
	query := fmt.Sprintf(`SELECT %s FROM bounties WHERE id = $1 LIMIT 1`, bountyColumns)
	var bounty models.Bounty
	if err := r.db.GetContext(ctx, &bounty, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find bounty by id: %w", err)
	}
	return &bounty, nil
}

// List returns bounties filtered by the provided criteria.
func (r *BountyRepository) List(ctx context.Context, filter models.BountyFilter) ([]models.Bounty, int, error) {
	base := `FROM bounties WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Grade != "" {
		conditions = append(conditions, fmt.Sprintf("grade = $%d", len(args)+1))
		args = append(args, filter.Grade)
	}
	if filter.Subject != "" {
		conditions = append(conditions, fmt.Sprintf("subject = $%d", len(args)+1))
		args = append(args, filter.Subject)
	}
	if filter.CreatorID != "" {
		conditions = append(conditions, fmt.Sprintf("creator_id = $%d", len(args)+1))
		args = append(args, filter.CreatorID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " AND " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf(`SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, bountyColumns, base+clause, size, offset)

	var bounties []models.Bounty
	if err := r.db.SelectContext(ctx, &bounties, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bounties: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bounties: %w", err)
	}
	return bounties, total, nil
}

// MarkExpired persists the lazily-observed expired state. The guard on
// status keeps a concurrent selection from being overwritten.
func (r *BountyRepository) MarkExpired(ctx context.Context, id string) error {
	const query = `UPDATE bounties SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	if _, err := r.db.ExecContext(ctx, query, id, models.BountyExpired, time.Now().UTC(), models.BountyActive); err != nil {
		return fmt.Errorf("mark bounty expired: %w", err)
	}
	return nil
}

// CreateResponse stores a new bounty response.
func (r *BountyRepository) CreateResponse(ctx context.Context, response *models.BountyResponse) error {
	if response.ID == "" {
		response.ID = uuid.NewString()
	}
	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO bounty_responses (id, bounty_id, responder_id, resource_id, message, selected, created_at)
        VALUES (:id, :bounty_id, :responder_id, :resource_id, :message, :selected, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, response); err != nil {
		return fmt.Errorf("create bounty response: %w", err)
	}
	return nil
}

// FindResponseByID returns a response by identifier.
func (r *BountyRepository) FindResponseByID(ctx context.Context, id string) (*models.BountyResponse, error) {
	const query = `SELECT id, bounty_id, responder_id, resource_id, message, selected, created_at FROM bounty_responses WHERE id = $1 LIMIT 1`
	var response models.BountyResponse
	if err := r.db.GetContext(ctx, &response, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find bounty response: %w", err)
	}
	return &response, nil
}

// HasResponse reports whether the responder already answered the bounty.
func (r *BountyRepository) HasResponse(ctx context.Context, bountyID, responderID string) (bool, error) {
	var count int
	const query = `SELECT COUNT(*) FROM bounty_responses WHERE bounty_id = $1 AND responder_id = $2`
	if err := r.db.GetContext(ctx, &count, query, bountyID, responderID); err != nil {
		return false, fmt.Errorf("check bounty response: %w", err)
	}
	return count > 0, nil
}

// ListResponses returns all responses for a bounty, newest first.
func (r *BountyRepository) ListResponses(ctx context.Context, bountyID string) ([]models.BountyResponse, error) {
	const query = `SELECT id, bounty_id, responder_id, resource_id, message, selected, created_at FROM bounty_responses WHERE bounty_id = $1 ORDER BY created_at DESC`
	var responses []models.BountyResponse
	if err := r.db.SelectContext(ctx, &responses, query, bountyID); err != nil {
		return nil, fmt.Errorf("list bounty responses: %w", err)
	}
	return responses, nil
}

// SelectWinner completes the bounty: marks the response selected, records the
// winner and credits the responder with the escrowed reward, all in one
// transaction. The status guard makes a second selection a no-op failure.
func (r *BountyRepository) SelectWinner(ctx context.Context, bounty *models.Bounty, response *models.BountyResponse, reward *models.PointTransaction) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin select winner tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE bounties SET status = $2, winner_id = $3, winning_resource_id = $4, updated_at = $5 WHERE id = $1 AND status = $6`,
		bounty.ID, models.BountyCompleted, response.ResponderID, response.ResourceID, now, models.BountyActive,
	)
	if err != nil {
		return fmt.Errorf("complete bounty: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete bounty result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bounty_responses SET selected = TRUE WHERE id = $1`, response.ID); err != nil {
		return fmt.Errorf("mark response selected: %w", err)
	}

	reward.BountyID = &bounty.ID
	if _, err := applyPointChange(ctx, tx, r.tiers, reward); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit select winner tx: %w", err)
	}
	return nil
}

// CountCreatedBy returns how many bounties the user has created.
func (r *BountyRepository) CountCreatedBy(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM bounties WHERE creator_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("count created bounties: %w", err)
	}
	return count, nil
}

// CountWonBy returns how many bounties the user has won.
func (r *BountyRepository) CountWonBy(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM bounties WHERE winner_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("count won bounties: %w", err)
	}
	return count, nil
}
