package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/k12share/paperclip-api/internal/models"
)

func TestResourceRepositoryPaidDownloadLocksAscending(t *testing.T) {
	db, mock, cleanup := newPointRepoMock(t)
	defer cleanup()

	repo := NewResourceRepository(db, models.DefaultTierTable())

	// The uploader has the lower ID, so their reward leg is applied first
	// even though the downloader's debit came first in the call.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("u-aaa").
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(100))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET points = $2, level = $3")).
		WithArgs("u-aaa", 102, "Novice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO point_transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT points FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("u-bbb").
		WillReturnRows(sqlmock.NewRows([]string{"points"}).AddRow(50))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET points = $2, level = $3")).
		WithArgs("u-bbb", 40, "Novice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO point_transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO downloads")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE resources SET download_count = download_count + 1")).
		WithArgs("res-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	download := &models.Download{UserID: "u-bbb", ResourceID: "res-1", PointsCost: 10}
	debit := &models.PointTransaction{UserID: "u-bbb", Kind: models.TxDownload, Amount: -10}
	reward := &models.PointTransaction{UserID: "u-aaa", Kind: models.TxDownloadReward, Amount: 2}

	err := repo.RecordPaidDownload(context.Background(), download, debit, reward)
	require.NoError(t, err)
	require.Equal(t, int64(40), debit.BalanceAfter)
	require.Equal(t, int64(102), reward.BalanceAfter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceRepositoryDeactivate(t *testing.T) {
	db, mock, cleanup := newPointRepoMock(t)
	defer cleanup()

	repo := NewResourceRepository(db, models.DefaultTierTable())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE resources SET active = FALSE, updated_at = $2 WHERE id = $1 AND active = TRUE")).
		WithArgs("res-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Deactivate(context.Background(), "res-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceRepositoryDeactivateAlreadyInactive(t *testing.T) {
	db, mock, cleanup := newPointRepoMock(t)
	defer cleanup()

	repo := NewResourceRepository(db, models.DefaultTierTable())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE resources SET active = FALSE, updated_at = $2 WHERE id = $1 AND active = TRUE")).
		WithArgs("res-gone", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Deactivate(context.Background(), "res-gone")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
