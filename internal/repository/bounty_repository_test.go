package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/k12share/paperclip-api/internal/models"
)

func newBountyRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestBountyRepositoryCreateWithEscrow(t *testing.T) {
	db, mock, cleanup := newBountyRepoMock(t)
	defer cleanup()

	repo := NewBountyRepository(db, models.DefaultTierTable())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("creator-1").
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(200))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET points = $2, level = $3")).
		WithArgs("creator-1", 120, "Novice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO point_transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bounties")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	bounty := &models.Bounty{
		CreatorID:    "creator-1",
		Title:        "Fractions worksheet",
		Description:  "need practice sheets",
		Grade:        "Elementary 4",
		Subject:      "Math",
		PointsReward: 80,
		ExpiresAt:    time.Now().Add(7 * 24 * time.Hour),
	}
	escrow := &models.PointTransaction{
		UserID: "creator-1",
		Kind:   models.TxBountyCreate,
		Amount: -80,
	}
	require.NoError(t, repo.CreateWithEscrow(context.Background(), bounty, escrow))
	require.NotEmpty(t, bounty.ID)
	require.Equal(t, models.BountyActive, bounty.Status)
	require.NotNil(t, escrow.BountyID)
	require.Equal(t, bounty.ID, *escrow.BountyID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBountyRepositoryCreateWithEscrowInsufficient(t *testing.T) {
	db, mock, cleanup := newBountyRepoMock(t)
	defer cleanup()

	repo := NewBountyRepository(db, models.DefaultTierTable())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("creator-1").
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(40))
	mock.ExpectRollback()

	bounty := &models.Bounty{CreatorID: "creator-1", Title: "t", PointsReward: 80}
	escrow := &models.PointTransaction{UserID: "creator-1", Kind: models.TxBountyCreate, Amount: -80}

	err := repo.CreateWithEscrow(context.Background(), bounty, escrow)
	require.ErrorIs(t, err, ErrInsufficientPoints)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBountyRepositoryMarkExpiredGuardsStatus(t *testing.T) {
	db, mock, cleanup := newBountyRepoMock(t)
	defer cleanup()

	repo := NewBountyRepository(db, models.DefaultTierTable())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE bounties SET status = $2")).
		WithArgs("b-1", string(models.BountyExpired), sqlmock.AnyArg(), string(models.BountyActive)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkExpired(context.Background(), "b-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBountyRepositorySelectWinner(t *testing.T) {
	db, mock, cleanup := newBountyRepoMock(t)
	defer cleanup()

	repo := NewBountyRepository(db, models.DefaultTierTable())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bounties SET status = $2, winner_id = $3")).
		WithArgs("b-1", string(models.BountyCompleted), "other-1", "res-1", sqlmock.AnyArg(), string(models.BountyActive)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bounty_responses SET selected = TRUE")).
		WithArgs("r-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("other-1").
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(20))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET points = $2, level = $3")).
		WithArgs("other-1", 100, "Novice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO point_transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	bounty := &models.Bounty{ID: "b-1", PointsReward: 80, Status: models.BountyActive}
	response := &models.BountyResponse{ID: "r-1", BountyID: "b-1", ResponderID: "other-1", ResourceID: "res-1"}
	reward := &models.PointTransaction{UserID: "other-1", Kind: models.TxBountyReward, Amount: 80}

	require.NoError(t, repo.SelectWinner(context.Background(), bounty, response, reward))
	require.NotNil(t, reward.BountyID)
	require.Equal(t, "b-1", *reward.BountyID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBountyRepositorySelectWinnerAlreadyCompleted(t *testing.T) {
	db, mock, cleanup := newBountyRepoMock(t)
	defer cleanup()

	repo := NewBountyRepository(db, models.DefaultTierTable())

	// The status guard matches no rows; the reward must never be applied.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bounties SET status = $2, winner_id = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	bounty := &models.Bounty{ID: "b-1", PointsReward: 80, Status: models.BountyActive}
	response := &models.BountyResponse{ID: "r-1", BountyID: "b-1", ResponderID: "other-1", ResourceID: "res-1"}
	reward := &models.PointTransaction{UserID: "other-1", Kind: models.TxBountyReward, Amount: 80}

	err := repo.SelectWinner(context.Background(), bounty, response, reward)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBountyRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newBountyRepoMock(t)
	defer cleanup()

	repo := NewBountyRepository(db, models.DefaultTierTable())

	rows := sqlmock.NewRows([]string{"id", "creator_id", "title", "description", "grade", "subject", "points_reward", "status", "winner_id", "winning_resource_id", "expires_at", "created_at", "updated_at"}).
		AddRow("b-1", "creator-1", "Fractions worksheet", "d", "Elementary 4", "Math", 80, "active", nil, nil, time.Now().Add(time.Hour), time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, creator_id, title")).
		WithArgs(string(models.BountyActive), "Math").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bounties")).
		WithArgs(string(models.BountyActive), "Math").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	bounties, total, err := repo.List(context.Background(), models.BountyFilter{
		Status:  models.BountyActive,
		Subject: "Math",
	})
	require.NoError(t, err)
	require.Len(t, bounties, 1)
	require.Equal(t, 1, total)
	require.Equal(t, "b-1", bounties[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
