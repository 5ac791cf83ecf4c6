package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/k12share/paperclip-api/internal/models"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
	"github.com/k12share/paperclip-api/pkg/export"
	"github.com/k12share/paperclip-api/pkg/storage"
)

// StatementFormat identifies the rendered statement file type.
type StatementFormat string

const (
	StatementFormatCSV StatementFormat = "csv"
	StatementFormatPDF StatementFormat = "pdf"
)

type statementLedger interface {
	HistoryBetween(ctx context.Context, userID string, from, to time.Time) ([]models.PointTransaction, error)
}

type statementAccountReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type statementFileStorage interface {
	Save(filename string, data []byte) (string, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// StatementConfig tunes statement generation.
type StatementConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// StatementResult captures the generated file and its signed link.
type StatementResult struct {
	RelativePath string          `json:"-"`
	Token        string          `json:"-"`
	URL          string          `json:"url"`
	Format       StatementFormat `json:"format"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Entries      int             `json:"entries"`
}

// StatementService renders a user's ledger over a period into a CSV or PDF
// statement and stores it behind a signed URL. Admin-only surface.
type StatementService struct {
	ledger  statementLedger
	users   statementAccountReader
	storage statementFileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     StatementConfig
	now     func() time.Time
}

// NewStatementService constructs a StatementService.
func NewStatementService(ledger statementLedger, users statementAccountReader, files statementFileStorage, signer *storage.SignedURLSigner, cfg StatementConfig, logger *zap.Logger) *StatementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &StatementService{
		ledger:  ledger,
		users:   users,
		storage: files,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Generate renders the statement for one account over [from, to).
func (s *StatementService) Generate(ctx context.Context, userID string, from, to time.Time, format StatementFormat) (*StatementResult, error) {
	if !to.After(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "statement period is empty")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAccountNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	entries, err := s.ledger.HistoryBetween(ctx, userID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger")
	}

	dataset := buildStatementDataset(user, entries, from, to)
	title := fmt.Sprintf("Point statement for %s", user.Nickname)

	var payload []byte
	switch format {
	case StatementFormatCSV:
		payload, err = s.csv.Render(dataset)
	case StatementFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
	}

	refID := uuid.NewString()
	filename := fmt.Sprintf("statements/%s_%s_%s.%s", userID, from.Format("20060102"), refID[:8], format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store statement")
	}

	token, expiresAt, err := s.signer.Generate(refID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign statement link")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &StatementResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/admin/statements/%s", prefix, token),
		Format:       format,
		ExpiresAt:    expiresAt,
		Entries:      len(entries),
	}, nil
}

// ParseToken validates a statement download token.
func (s *StatementService) ParseToken(token string) (relPath string, err error) {
	_, relPath, _, err = s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired statement link")
	}
	return relPath, nil
}

// Cleanup deletes statements older than the configured TTL.
func (s *StatementService) Cleanup() {
	deleted, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("statement cleanup failed", zap.Error(err))
		return
	}
	if len(deleted) > 0 {
		s.logger.Info("statement cleanup", zap.Int("deleted", len(deleted)))
	}
}

func buildStatementDataset(user *models.User, entries []models.PointTransaction, from, to time.Time) export.Dataset {
	rows := make([][]string, 0, len(entries))

	var earned, spent int64
	for _, entry := range entries {
		if entry.Amount > 0 {
			earned += entry.Amount
		} else {
			spent += -entry.Amount
		}
		rows = append(rows, []string{
			entry.CreatedAt.Format("2006-01-02 15:04"),
			string(entry.Kind),
			fmt.Sprintf("%+d", entry.Amount),
			fmt.Sprintf("%d", entry.BalanceAfter),
			entry.Description,
		})
	}

	return export.Dataset{
		Columns: []export.Column{
			{Name: "Date", Weight: 2},
			{Name: "Kind", Weight: 2},
			{Name: "Amount", Weight: 1, Align: export.AlignRight},
			{Name: "Balance", Weight: 1, Align: export.AlignRight},
			{Name: "Description", Weight: 4},
		},
		Rows: rows,
		Summary: []string{
			fmt.Sprintf("Account: %s (%s)", user.Nickname, user.ID),
			fmt.Sprintf("Period: %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02")),
			fmt.Sprintf("Earned: %d, Spent: %d, Closing balance: %d", earned, spent, user.Points),
		},
	}
}
