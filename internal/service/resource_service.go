package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/internal/repository"
	"github.com/k12share/paperclip-api/pkg/config"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
	"github.com/k12share/paperclip-api/pkg/storage"
)

type resourceStoreRepo interface {
	CreateWithBonus(ctx context.Context, resource *models.Resource, bonus *models.PointTransaction) error
	FindByID(ctx context.Context, id string) (*models.Resource, error)
	List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, int, error)
	HasDownload(ctx context.Context, userID, resourceID string) (bool, error)
	RecordPaidDownload(ctx context.Context, download *models.Download, debit, reward *models.PointTransaction) error
	Deactivate(ctx context.Context, id string) error
}

type downloadQuota interface {
	CheckDownloadQuota(ctx context.Context, userID string) (bool, error)
	IncrementDownloads(ctx context.Context, userID string) error
}

// UploadResourceRequest carries the metadata of an uploaded file.
type UploadResourceRequest struct {
	Title        string `json:"title" validate:"required,min=1,max=200"`
	Description  string `json:"description" validate:"required"`
	Grade        string `json:"grade" validate:"required,max=20"`
	Subject      string `json:"subject" validate:"required,max=20"`
	ResourceType string `json:"resource_type" validate:"required,max=20"`
	Filename     string `json:"-"`
	FileSize     int64  `json:"-"`
}

// DownloadResult tells the caller where to fetch the file and whether points
// were spent.
type DownloadResult struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Paid      bool      `json:"paid"`
	Cost      int64     `json:"cost"`
}

// ResourceService covers the upload/download economy: upload bonus, paid
// downloads with uploader reward, daily quota enforcement and signed
// download links.
type ResourceService struct {
	resources resourceStoreRepo
	points    *PointsService
	quota     downloadQuota
	files     *storage.LocalStorage
	signer    *storage.SignedURLSigner
	rules     config.PointsConfig
	uploads   config.UploadsConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewResourceService constructs ResourceService.
func NewResourceService(resources resourceStoreRepo, points *PointsService, files *storage.LocalStorage, signer *storage.SignedURLSigner, rules config.PointsConfig, uploads config.UploadsConfig, validate *validator.Validate, logger *zap.Logger) *ResourceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceService{
		resources: resources,
		points:    points,
		quota:     points,
		files:     files,
		signer:    signer,
		rules:     rules,
		uploads:   uploads,
		validator: validate,
		logger:    logger,
	}
}

// Upload stores the file and creates the resource, crediting the uploader's
// bonus in the same transaction as the resource row.
func (s *ResourceService) Upload(ctx context.Context, uploaderID string, req UploadResourceRequest, file io.Reader) (*models.Resource, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resource payload")
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(req.Filename)), ".")
	if !s.typeAllowed(ext) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %q is not allowed", ext))
	}
	if req.FileSize > s.uploads.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum upload size")
	}

	relPath := filepath.Join("resources", uuid.NewString()+"."+ext)
	if _, err := s.files.SaveStream(relPath, file); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	resource := &models.Resource{
		UploaderID:   uploaderID,
		Title:        req.Title,
		Description:  req.Description,
		Grade:        req.Grade,
		Subject:      req.Subject,
		ResourceType: req.ResourceType,
		FilePath:     relPath,
		FileType:     ext,
		FileSize:     req.FileSize,
		Active:       true,
	}
	bonus := &models.PointTransaction{
		UserID:      uploaderID,
		Kind:        models.TxUpload,
		Amount:      s.rules.UploadBonus,
		Description: "Upload bonus: " + req.Title,
	}
	if err := s.resources.CreateWithBonus(ctx, resource, bonus); err != nil {
		if cleanupErr := s.files.Delete(relPath); cleanupErr != nil {
			s.logger.Warn("failed to remove orphaned upload", zap.String("path", relPath), zap.Error(cleanupErr))
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAccountNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create resource")
	}
	s.points.observeLedger(models.TxUpload, bonus.Amount)
	return resource, nil
}

// Get returns an active resource.
func (s *ResourceService) Get(ctx context.Context, id string) (*models.Resource, error) {
	resource, err := s.resources.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resource")
	}
	return resource, nil
}

// Deactivate takes a resource down. Moderation-only: the uploaded file and
// the ledger entries it earned stay in place.
func (s *ResourceService) Deactivate(ctx context.Context, id string) error {
	if err := s.resources.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate resource")
	}
	s.logger.Info("resource deactivated", zap.String("resource_id", id))
	return nil
}

// List returns active resources matching the filter.
func (s *ResourceService) List(ctx context.Context, filter models.ResourceFilter) ([]models.Resource, *models.Pagination, error) {
	resources, total, err := s.resources.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list resources")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return resources, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Download settles a download. The uploader's own resources and repeat
// downloads are free. A paid download checks the daily quota first, then
// debits the downloader and credits the uploader in one transaction, and
// only after that commit consumes a unit of quota.
func (s *ResourceService) Download(ctx context.Context, userID, resourceID string) (*DownloadResult, error) {
	resource, err := s.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	if resource.UploaderID == userID {
		return s.signedResult(resource, false, 0)
	}

	already, err := s.resources.HasDownload(ctx, userID, resourceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check downloads")
	}
	if already {
		return s.signedResult(resource, false, 0)
	}

	ok, err := s.quota.CheckDownloadQuota(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.ErrQuotaExceeded
	}

	download := &models.Download{
		UserID:     userID,
		ResourceID: resourceID,
		PointsCost: s.rules.DownloadCost,
	}
	debit := &models.PointTransaction{
		UserID:      userID,
		Kind:        models.TxDownload,
		Amount:      -s.rules.DownloadCost,
		Description: "Download: " + resource.Title,
	}
	reward := &models.PointTransaction{
		UserID:      resource.UploaderID,
		Kind:        models.TxDownloadReward,
		Amount:      s.rules.DownloadReward,
		Description: "Resource downloaded: " + resource.Title,
	}
	if err := s.resources.RecordPaidDownload(ctx, download, debit, reward); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.ErrAccountNotFound
		case errors.Is(err, repository.ErrInsufficientPoints):
			return nil, appErrors.Clone(appErrors.ErrInsufficientBalance, fmt.Sprintf("downloading costs %d points", s.rules.DownloadCost))
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle download")
		}
	}

	s.points.observeLedger(models.TxDownload, debit.Amount)
	s.points.observeLedger(models.TxDownloadReward, reward.Amount)

	if err := s.quota.IncrementDownloads(ctx, userID); err != nil {
		return nil, err
	}

	return s.signedResult(resource, true, s.rules.DownloadCost)
}

func (s *ResourceService) signedResult(resource *models.Resource, paid bool, cost int64) (*DownloadResult, error) {
	token, expiresAt, err := s.signer.Generate(resource.ID, resource.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	prefix := strings.TrimRight(s.uploads.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &DownloadResult{
		URL:       prefix + "/files/" + token,
		ExpiresAt: expiresAt,
		Paid:      paid,
		Cost:      cost,
	}, nil
}

// OpenByToken validates a signed token and opens the underlying file.
func (s *ResourceService) OpenByToken(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link")
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return file, filepath.Base(relPath), nil
}

func (s *ResourceService) typeAllowed(ext string) bool {
	if ext == "" {
		return false
	}
	for _, allowed := range s.uploads.AllowedTypes {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}
