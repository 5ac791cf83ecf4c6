package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/k12share/paperclip-api/internal/models"
	"github.com/k12share/paperclip-api/internal/service"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
	"github.com/k12share/paperclip-api/pkg/response"
)

// PointsHandler exposes the ledger: history, transfers and admin adjustments.
type PointsHandler struct {
	service *service.PointsService
}

// NewPointsHandler creates a new points handler.
func NewPointsHandler(svc *service.PointsService) *PointsHandler {
	return &PointsHandler{service: svc}
}

// TransferRequest moves points to another member.
type TransferRequest struct {
	ToUserID    string `json:"to_user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// AdjustRequest is an admin-issued balance correction. Amount is signed.
type AdjustRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// History godoc
// @Summary Ledger history
// @Description Page through the authenticated user's ledger, newest first
// @Tags Points
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param kind query string false "Entry kind filter"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /points/history [get]
func (h *PointsHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.TransactionFilter{UserID: claims.UserID}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if kind := c.Query("kind"); kind != "" {
		k := models.TxKind(kind)
		if !k.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown entry kind"))
			return
		}
		filter.Kind = k
	}

	entries, pagination, err := h.service.History(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entries, pagination)
}

// Transfer godoc
// @Summary Transfer points
// @Description Move points from the authenticated user to another member
// @Tags Points
// @Accept json
// @Produce json
// @Param payload body handler.TransferRequest true "Transfer payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /points/transfer [post]
func (h *PointsHandler) Transfer(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transfer payload"))
		return
	}
	if req.ToUserID == claims.UserID {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "cannot transfer points to yourself"))
		return
	}

	out, in, err := h.service.Transfer(c.Request.Context(), claims.UserID, req.ToUserID, req.Amount, req.Description, models.TxRefs{})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"out": out, "in": in}, nil)
}

// Adjust godoc
// @Summary Adjust balance
// @Description Apply a signed admin correction to a member's balance
// @Tags Points
// @Accept json
// @Produce json
// @Param payload body handler.AdjustRequest true "Adjustment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/points/adjust [post]
func (h *PointsHandler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid adjustment payload"))
		return
	}

	var entry *models.PointTransaction
	var err error
	if req.Amount >= 0 {
		entry, err = h.service.Credit(c.Request.Context(), req.UserID, req.Amount, models.TxAdminAdjustment, req.Description, models.TxRefs{})
	} else {
		entry, err = h.service.Debit(c.Request.Context(), req.UserID, -req.Amount, models.TxAdminAdjustment, req.Description, models.TxRefs{})
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, entry, nil)
}

// Reconcile godoc
// @Summary Reconcile balance
// @Description Compare the cached balance with the ledger sum for one account
// @Tags Points
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/points/{id}/reconcile [get]
func (h *PointsHandler) Reconcile(c *gin.Context) {
	cached, ledger, err := h.service.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"cached_balance": cached,
		"ledger_balance": ledger,
		"consistent":     cached == ledger,
	}, nil)
}
