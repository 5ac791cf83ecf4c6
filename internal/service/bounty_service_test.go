package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/internal/repository"
	"github.com/k12share/paperclip-api/pkg/config"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
)

type mockBountyRepo struct {
	bounty    *models.Bounty
	response  *models.BountyResponse
	responses []models.BountyResponse
	hasResp   bool

	createErr error
	selectErr error

	escrow  *models.PointTransaction
	reward  *models.PointTransaction
	expired []string
	created *models.BountyResponse
}

func (m *mockBountyRepo) CreateWithEscrow(ctx context.Context, bounty *models.Bounty, escrow *models.PointTransaction) error {
	if m.createErr != nil {
		return m.createErr
	}
	bounty.ID = "b-1"
	bounty.Status = models.BountyActive
	m.escrow = escrow
	return nil
}

func (m *mockBountyRepo) FindByID(ctx context.Context, id string) (*models.Bounty, error) {
	if m.bounty == nil {
		return nil, sql.ErrNoRows
	}
	copied := *m.bounty
	return &copied, nil
}

func (m *mockBountyRepo) List(ctx context.Context, filter models.BountyFilter) ([]models.Bounty, int, error) {
	if m.bounty == nil {
		return nil, 0, nil
	}
	return []models.Bounty{*m.bounty}, 1, nil
}

func (m *mockBountyRepo) MarkExpired(ctx context.Context, id string) error {
	m.expired = append(m.expired, id)
	return nil
}

func (m *mockBountyRepo) CreateResponse(ctx context.Context, response *models.BountyResponse) error {
	response.ID = "r-1"
	m.created = response
	return nil
}

func (m *mockBountyRepo) FindResponseByID(ctx context.Context, id string) (*models.BountyResponse, error) {
	if m.response == nil || m.response.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *m.response
	return &copied, nil
}

func (m *mockBountyRepo) HasResponse(ctx context.Context, bountyID, responderID string) (bool, error) {
	return m.hasResp, nil
}

func (m *mockBountyRepo) ListResponses(ctx context.Context, bountyID string) ([]models.BountyResponse, error) {
	return m.responses, nil
}

func (m *mockBountyRepo) SelectWinner(ctx context.Context, bounty *models.Bounty, response *models.BountyResponse, reward *models.PointTransaction) error {
	if m.selectErr != nil {
		return m.selectErr
	}
	m.reward = reward
	return nil
}

type mockBountyResources struct {
	resource *models.Resource
}

func (m *mockBountyResources) FindByID(ctx context.Context, id string) (*models.Resource, error) {
	if m.resource == nil || m.resource.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.resource, nil
}

func bountyTestConfig() config.PointsConfig {
	return config.PointsConfig{MinBounty: 50, BountyTTL: 7 * 24 * time.Hour}
}

func newBountyService(repo *mockBountyRepo, resources *mockBountyResources, now time.Time) *BountyService {
	if resources == nil {
		resources = &mockBountyResources{}
	}
	svc := NewBountyService(repo, resources, bountyTestConfig(), nil, nil, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func activeBounty(creatorID string, expiresAt time.Time) *models.Bounty {
	return &models.Bounty{
		ID:           "b-1",
		CreatorID:    creatorID,
		Title:        "Fractions worksheet",
		Description:  "need practice sheets",
		Grade:        "Elementary 4",
		Subject:      "Math",
		PointsReward: 80,
		Status:       models.BountyActive,
		ExpiresAt:    expiresAt,
	}
}

func TestBountyCreateEscrowsReward(t *testing.T) {
	repo := &mockBountyRepo{}
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newBountyService(repo, nil, now)

	bounty, err := svc.Create(context.Background(), "creator-1", CreateBountyRequest{
		Title:        "Fractions worksheet",
		Description:  "need practice sheets",
		Grade:        "Elementary 4",
		Subject:      "Math",
		PointsReward: 80,
	})
	require.NoError(t, err)

	assert.Equal(t, now.Add(7*24*time.Hour), bounty.ExpiresAt)
	require.NotNil(t, repo.escrow)
	assert.Equal(t, models.TxBountyCreate, repo.escrow.Kind)
	assert.Equal(t, int64(-80), repo.escrow.Amount)
	assert.Equal(t, "creator-1", repo.escrow.UserID)
}

func TestBountyCreateBelowMinimum(t *testing.T) {
	repo := &mockBountyRepo{}
	svc := newBountyService(repo, nil, time.Now())

	_, err := svc.Create(context.Background(), "creator-1", CreateBountyRequest{
		Title:        "Cheap ask",
		Description:  "anything",
		Grade:        "High 1",
		Subject:      "Physics",
		PointsReward: 49,
	})

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Nil(t, repo.escrow)
}

func TestBountyCreateInsufficientBalance(t *testing.T) {
	repo := &mockBountyRepo{createErr: repository.ErrInsufficientPoints}
	svc := newBountyService(repo, nil, time.Now())

	_, err := svc.Create(context.Background(), "creator-1", CreateBountyRequest{
		Title:        "Fractions worksheet",
		Description:  "need practice sheets",
		Grade:        "Elementary 4",
		Subject:      "Math",
		PointsReward: 500,
	})
	assert.ErrorIs(t, err, appErrors.ErrInsufficientBalance)
}

func TestBountyGetLazyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(-time.Hour))}
	svc := newBountyService(repo, nil, now)

	bounty, err := svc.Get(context.Background(), "b-1")
	require.NoError(t, err)

	assert.Equal(t, models.BountyExpired, bounty.Status)
	assert.Equal(t, []string{"b-1"}, repo.expired)
}

func TestBountyRespondToExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(-time.Minute))}
	svc := newBountyService(repo, nil, now)

	_, err := svc.Respond(context.Background(), "b-1", "other-1", RespondBountyRequest{ResourceID: "res-1"})
	assert.ErrorIs(t, err, appErrors.ErrBountyExpired)
}

func TestBountyRespondToOwnBounty(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(time.Hour))}
	svc := newBountyService(repo, nil, now)

	_, err := svc.Respond(context.Background(), "b-1", "creator-1", RespondBountyRequest{ResourceID: "res-1"})

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestBountyRespondWithForeignResource(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(time.Hour))}
	resources := &mockBountyResources{resource: &models.Resource{ID: "res-1", UploaderID: "someone-else"}}
	svc := newBountyService(repo, resources, now)

	_, err := svc.Respond(context.Background(), "b-1", "other-1", RespondBountyRequest{ResourceID: "res-1"})

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestBountyRespondDuplicate(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(time.Hour)), hasResp: true}
	resources := &mockBountyResources{resource: &models.Resource{ID: "res-1", UploaderID: "other-1"}}
	svc := newBountyService(repo, resources, now)

	_, err := svc.Respond(context.Background(), "b-1", "other-1", RespondBountyRequest{ResourceID: "res-1"})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateResponse)
}

func TestBountyRespond(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(time.Hour))}
	resources := &mockBountyResources{resource: &models.Resource{ID: "res-1", UploaderID: "other-1"}}
	svc := newBountyService(repo, resources, now)

	response, err := svc.Respond(context.Background(), "b-1", "other-1", RespondBountyRequest{ResourceID: "res-1"})
	require.NoError(t, err)

	assert.Equal(t, "b-1", response.BountyID)
	assert.Equal(t, "other-1", response.ResponderID)
	assert.Equal(t, "res-1", response.ResourceID)
	require.NotNil(t, repo.created)
}

func TestBountyResponsesCreatorOnly(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(time.Hour))}
	svc := newBountyService(repo, nil, now)

	_, err := svc.Responses(context.Background(), "b-1", "other-1")
	assert.ErrorIs(t, err, appErrors.ErrNotBountyOwner)

	_, err = svc.Responses(context.Background(), "b-1", "creator-1")
	assert.NoError(t, err)
}

func TestBountySelectCreditsResponderOnce(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{
		bounty:   activeBounty("creator-1", now.Add(time.Hour)),
		response: &models.BountyResponse{ID: "r-1", BountyID: "b-1", ResponderID: "other-1", ResourceID: "res-1"},
	}
	svc := newBountyService(repo, nil, now)

	bounty, err := svc.Select(context.Background(), "b-1", "r-1", "creator-1")
	require.NoError(t, err)

	require.NotNil(t, repo.reward)
	assert.Equal(t, models.TxBountyReward, repo.reward.Kind)
	assert.Equal(t, int64(80), repo.reward.Amount)
	assert.Equal(t, "other-1", repo.reward.UserID)

	assert.Equal(t, models.BountyCompleted, bounty.Status)
	require.NotNil(t, bounty.WinnerID)
	assert.Equal(t, "other-1", *bounty.WinnerID)
	require.NotNil(t, bounty.WinningResourceID)
	assert.Equal(t, "res-1", *bounty.WinningResourceID)
}

func TestBountySelectByNonOwner(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(time.Hour))}
	svc := newBountyService(repo, nil, now)

	_, err := svc.Select(context.Background(), "b-1", "r-1", "other-1")
	assert.ErrorIs(t, err, appErrors.ErrNotBountyOwner)
}

func TestBountySelectOnOverdueBounty(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(-time.Minute))}
	svc := newBountyService(repo, nil, now)

	_, err := svc.Select(context.Background(), "b-1", "r-1", "creator-1")
	assert.ErrorIs(t, err, appErrors.ErrBountyExpired)
}

func TestBountySelectConcurrentDoubleSelect(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{
		bounty:    activeBounty("creator-1", now.Add(time.Hour)),
		response:  &models.BountyResponse{ID: "r-1", BountyID: "b-1", ResponderID: "other-1", ResourceID: "res-1"},
		selectErr: sql.ErrNoRows,
	}
	svc := newBountyService(repo, nil, now)

	_, err := svc.Select(context.Background(), "b-1", "r-1", "creator-1")
	assert.ErrorIs(t, err, appErrors.ErrBountyNotActive)
}

func TestBountySelectResponseFromOtherBounty(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{
		bounty:   activeBounty("creator-1", now.Add(time.Hour)),
		response: &models.BountyResponse{ID: "r-1", BountyID: "b-other", ResponderID: "other-1", ResourceID: "res-1"},
	}
	svc := newBountyService(repo, nil, now)

	_, err := svc.Select(context.Background(), "b-1", "r-1", "creator-1")

	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestBountyListOverlaysExpiry(t *testing.T) {
	now := time.Now()
	repo := &mockBountyRepo{bounty: activeBounty("creator-1", now.Add(-time.Hour))}
	svc := newBountyService(repo, nil, now)

	bounties, page, err := svc.List(context.Background(), models.BountyFilter{})
	require.NoError(t, err)
	require.Len(t, bounties, 1)
	assert.Equal(t, models.BountyExpired, bounties[0].Status)
	assert.Equal(t, 1, page.TotalCount)
	// List never writes expiry back, only read paths through FindByID do.
	assert.Empty(t, repo.expired)
}
