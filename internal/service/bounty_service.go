package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/internal/repository"
	"github.com/k12share/paperclip-api/pkg/config"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
)

type bountyRepo interface {
	CreateWithEscrow(ctx context.Context, bounty *models.Bounty, escrow *models.PointTransaction) error
	FindByID(ctx context.Context, id string) (*models.Bounty, error)
	List(ctx context.Context, filter models.BountyFilter) ([]models.Bounty, int, error)
	MarkExpired(ctx context.Context, id string) error
	CreateResponse(ctx context.Context, response *models.BountyResponse) error
	FindResponseByID(ctx context.Context, id string) (*models.BountyResponse, error)
	HasResponse(ctx context.Context, bountyID, responderID string) (bool, error)
	ListResponses(ctx context.Context, bountyID string) ([]models.BountyResponse, error)
	SelectWinner(ctx context.Context, bounty *models.Bounty, response *models.BountyResponse, reward *models.PointTransaction) error
}

type bountyResourceReader interface {
	FindByID(ctx context.Context, id string) (*models.Resource, error)
}

// CreateBountyRequest is the payload for posting a new bounty.
type CreateBountyRequest struct {
	Title        string `json:"title" validate:"required,min=1,max=200"`
	Description  string `json:"description" validate:"required"`
	Grade        string `json:"grade" validate:"required,max=20"`
	Subject      string `json:"subject" validate:"required,max=20"`
	PointsReward int64  `json:"points_reward" validate:"required,gt=0"`
}

// RespondBountyRequest offers a resource in answer to a bounty.
type RespondBountyRequest struct {
	ResourceID string  `json:"resource_id" validate:"required"`
	Message    *string `json:"message"`
}

// BountyService runs the bounty workflow on top of the points engine: escrow
// at creation, single release at selection, lazy expiry on every read.
type BountyService struct {
	bounties  bountyRepo
	resources bountyResourceReader
	points    config.PointsConfig
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewBountyService constructs BountyService.
func NewBountyService(bounties bountyRepo, resources bountyResourceReader, points config.PointsConfig, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *BountyService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BountyService{
		bounties:  bounties,
		resources: resources,
		points:    points,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Create escrows the reward from the creator and stores the bounty as one
// atomic unit. An insufficient balance aborts with nothing persisted.
func (s *BountyService) Create(ctx context.Context, creatorID string, req CreateBountyRequest) (*models.Bounty, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bounty payload")
	}
	if req.PointsReward < s.points.MinBounty {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("bounty reward must be at least %d points", s.points.MinBounty))
	}

	bounty := &models.Bounty{
		CreatorID:    creatorID,
		Title:        req.Title,
		Description:  req.Description,
		Grade:        req.Grade,
		Subject:      req.Subject,
		PointsReward: req.PointsReward,
		ExpiresAt:    s.now().Add(s.points.BountyTTL),
	}
	escrow := &models.PointTransaction{
		UserID:      creatorID,
		Kind:        models.TxBountyCreate,
		Amount:      -req.PointsReward,
		Description: "Bounty escrow: " + req.Title,
	}

	if err := s.bounties.CreateWithEscrow(ctx, bounty, escrow); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.ErrAccountNotFound
		case errors.Is(err, repository.ErrInsufficientPoints):
			return nil, appErrors.ErrInsufficientBalance
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create bounty")
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveBountyEvent("created")
		s.metrics.ObserveLedgerEntry(models.TxBountyCreate, escrow.Amount)
	}
	return bounty, nil
}

// Get returns a bounty, applying lazy expiry before the caller sees it.
func (s *BountyService) Get(ctx context.Context, id string) (*models.Bounty, error) {
	return s.loadWithExpiry(ctx, id)
}

// List returns bounties matching the filter.
func (s *BountyService) List(ctx context.Context, filter models.BountyFilter) ([]models.Bounty, *models.Pagination, error) {
	bounties, total, err := s.bounties.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bounties")
	}
	now := s.now()
	for i := range bounties {
		if bounties[i].ExpiredAt(now) {
			bounties[i].Status = models.BountyExpired
		}
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return bounties, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Respond submits a resource against an active bounty.
func (s *BountyService) Respond(ctx context.Context, bountyID, responderID string, req RespondBountyRequest) (*models.BountyResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid response payload")
	}

	bounty, err := s.loadWithExpiry(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if bounty.Status == models.BountyExpired {
		return nil, appErrors.ErrBountyExpired
	}
	if bounty.Status != models.BountyActive {
		return nil, appErrors.ErrBountyNotActive
	}
	if bounty.CreatorID == responderID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot respond to your own bounty")
	}

	resource, err := s.resources.FindByID(ctx, req.ResourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resource")
	}
	if resource.UploaderID != responderID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "resource does not belong to you")
	}

	exists, err := s.bounties.HasResponse(ctx, bountyID, responderID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check responses")
	}
	if exists {
		return nil, appErrors.ErrDuplicateResponse
	}

	response := &models.BountyResponse{
		BountyID:    bountyID,
		ResponderID: responderID,
		ResourceID:  req.ResourceID,
		Message:     req.Message,
	}
	if err := s.bounties.CreateResponse(ctx, response); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create response")
	}
	if s.metrics != nil {
		s.metrics.ObserveBountyEvent("responded")
	}
	return response, nil
}

// Responses lists a bounty's responses; only the creator may see them.
func (s *BountyService) Responses(ctx context.Context, bountyID, callerID string) ([]models.BountyResponse, error) {
	bounty, err := s.loadWithExpiry(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if bounty.CreatorID != callerID {
		return nil, appErrors.ErrNotBountyOwner
	}
	responses, err := s.bounties.ListResponses(ctx, bountyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list responses")
	}
	return responses, nil
}

// Select completes a bounty: the creator picks one response, the responder
// is credited exactly the escrowed reward, once. An overdue bounty cannot be
// selected even while its stored status still reads active.
func (s *BountyService) Select(ctx context.Context, bountyID, responseID, callerID string) (*models.Bounty, error) {
	bounty, err := s.loadWithExpiry(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if bounty.CreatorID != callerID {
		return nil, appErrors.ErrNotBountyOwner
	}
	if bounty.Status == models.BountyExpired {
		return nil, appErrors.ErrBountyExpired
	}
	if bounty.Status != models.BountyActive {
		return nil, appErrors.ErrBountyNotActive
	}

	response, err := s.bounties.FindResponseByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load response")
	}
	if response.BountyID != bountyID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "response not found")
	}

	// The credited amount is the escrow recorded at creation, never
	// recomputed. The creator was already debited then; no second debit.
	reward := &models.PointTransaction{
		UserID:      response.ResponderID,
		Kind:        models.TxBountyReward,
		Amount:      bounty.PointsReward,
		Description: "Bounty reward: " + bounty.Title,
	}
	if err := s.bounties.SelectWinner(ctx, bounty, response, reward); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrBountyNotActive
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select response")
	}

	bounty.Status = models.BountyCompleted
	bounty.WinnerID = &response.ResponderID
	bounty.WinningResourceID = &response.ResourceID
	response.Selected = true
	if s.metrics != nil {
		s.metrics.ObserveBountyEvent("completed")
		s.metrics.ObserveLedgerEntry(models.TxBountyReward, reward.Amount)
	}
	return bounty, nil
}

func (s *BountyService) loadWithExpiry(ctx context.Context, id string) (*models.Bounty, error) {
	bounty, err := s.bounties.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bounty not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bounty")
	}
	if bounty.ExpiredAt(s.now()) {
		if err := s.bounties.MarkExpired(ctx, bounty.ID); err != nil {
			s.logger.Warn("failed to persist bounty expiry", zap.String("bounty_id", bounty.ID), zap.Error(err))
		}
		bounty.Status = models.BountyExpired
		if s.metrics != nil {
			s.metrics.ObserveBountyEvent("expired")
		}
	}
	return bounty, nil
}
