package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k12share/paperclip-api/internal/models"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
	"github.com/k12share/paperclip-api/pkg/storage"
)

type mockStatementLedger struct {
	entries []models.PointTransaction
}

func (m *mockStatementLedger) HistoryBetween(ctx context.Context, userID string, from, to time.Time) ([]models.PointTransaction, error) {
	return m.entries, nil
}

type mockStatementAccounts struct {
	user *models.User
}

func (m *mockStatementAccounts) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.user == nil {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

type mockStatementStorage struct {
	saved   map[string][]byte
	cleaned bool
}

func (m *mockStatementStorage) Save(filename string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[filename] = data
	return filename, nil
}

func (m *mockStatementStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	m.cleaned = true
	return nil, nil
}

func newStatementService(ledger *mockStatementLedger, accounts *mockStatementAccounts, files *mockStatementStorage) *StatementService {
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewStatementService(ledger, accounts, files, signer, StatementConfig{APIPrefix: "/api/v1"}, nil)
}

func statementEntries() []models.PointTransaction {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return []models.PointTransaction{
		{ID: "t-1", UserID: "u-1", Kind: models.TxSignIn, Amount: 2, BalanceAfter: 102, Description: "Daily sign-in bonus", CreatedAt: base},
		{ID: "t-2", UserID: "u-1", Kind: models.TxDownload, Amount: -10, BalanceAfter: 92, Description: "Download: Atlas", CreatedAt: base.Add(time.Hour)},
	}
}

func TestStatementGenerateCSV(t *testing.T) {
	files := &mockStatementStorage{}
	svc := newStatementService(
		&mockStatementLedger{entries: statementEntries()},
		&mockStatementAccounts{user: &models.User{ID: "u-1", Nickname: "mei", Points: 92}},
		files,
	)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	result, err := svc.Generate(context.Background(), "u-1", from, to, StatementFormatCSV)
	require.NoError(t, err)

	assert.Equal(t, StatementFormatCSV, result.Format)
	assert.Equal(t, 2, result.Entries)
	assert.Contains(t, result.URL, "/api/v1/admin/statements/")

	require.Len(t, files.saved, 1)
	for name, payload := range files.saved {
		assert.True(t, strings.HasPrefix(name, "statements/u-1_20260301_"))
		assert.True(t, strings.HasSuffix(name, ".csv"))
		body := string(payload)
		assert.Contains(t, body, "Daily sign-in bonus")
		assert.Contains(t, body, "-10")
		assert.Contains(t, body, "Earned: 2, Spent: 10, Closing balance: 92")
	}

	// The embedded token must round-trip through ParseToken.
	relPath, err := svc.ParseToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.RelativePath, relPath)
}

func TestStatementGeneratePDF(t *testing.T) {
	files := &mockStatementStorage{}
	svc := newStatementService(
		&mockStatementLedger{entries: statementEntries()},
		&mockStatementAccounts{user: &models.User{ID: "u-1", Nickname: "mei", Points: 92}},
		files,
	)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	result, err := svc.Generate(context.Background(), "u-1", from, to, StatementFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, StatementFormatPDF, result.Format)

	require.Len(t, files.saved, 1)
	for _, payload := range files.saved {
		assert.True(t, strings.HasPrefix(string(payload), "%PDF"))
	}
}

func TestStatementGenerateEmptyPeriod(t *testing.T) {
	svc := newStatementService(&mockStatementLedger{}, &mockStatementAccounts{}, &mockStatementStorage{})

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Generate(context.Background(), "u-1", at, at, StatementFormatCSV)

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestStatementGenerateUnknownUser(t *testing.T) {
	svc := newStatementService(&mockStatementLedger{}, &mockStatementAccounts{}, &mockStatementStorage{})

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Generate(context.Background(), "ghost", from, from.AddDate(0, 1, 0), StatementFormatCSV)
	assert.ErrorIs(t, err, appErrors.ErrAccountNotFound)
}

func TestStatementGenerateUnsupportedFormat(t *testing.T) {
	svc := newStatementService(
		&mockStatementLedger{},
		&mockStatementAccounts{user: &models.User{ID: "u-1", Nickname: "mei"}},
		&mockStatementStorage{},
	)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Generate(context.Background(), "u-1", from, from.AddDate(0, 1, 0), StatementFormat("xlsx"))

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestStatementParseTokenRejectsGarbage(t *testing.T) {
	svc := newStatementService(&mockStatementLedger{}, &mockStatementAccounts{}, &mockStatementStorage{})

	_, err := svc.ParseToken("bogus")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
