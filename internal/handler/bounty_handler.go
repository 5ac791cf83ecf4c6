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

// BountyHandler handles the bounty workflow endpoints.
type BountyHandler struct {
	service *service.BountyService
}

// NewBountyHandler creates a new bounty handler.
func NewBountyHandler(svc *service.BountyService) *BountyHandler {
	return &BountyHandler{service: svc}
}

// Create godoc
// @Summary Create bounty
// @Description Post a request for a resource; the reward is escrowed immediately
// @Tags Bounties
// @Accept json
// @Produce json
// @Param payload body service.CreateBountyRequest true "Bounty payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /bounties [post]
func (h *BountyHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateBountyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bounty payload"))
		return
	}

	bounty, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, bounty)
}

// Get godoc
// @Summary Get bounty
// @Description Get bounty detail; overdue bounties are reported as expired
// @Tags Bounties
// @Produce json
// @Param id path string true "Bounty ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bounties/{id} [get]
func (h *BountyHandler) Get(c *gin.Context) {
	bounty, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, bounty, nil)
}

// List godoc
// @Summary List bounties
// @Description Browse bounties with filtering
// @Tags Bounties
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter"
// @Param grade query string false "Grade filter"
// @Param subject query string false "Subject filter"
// @Param creator_id query string false "Creator filter"
// @Success 200 {object} response.Envelope
// @Router /bounties [get]
func (h *BountyHandler) List(c *gin.Context) {
	var filter models.BountyFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.Status = models.BountyStatus(c.Query("status"))
	filter.Grade = c.Query("grade")
	filter.Subject = c.Query("subject")
	filter.CreatorID = c.Query("creator_id")

	bounties, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, bounties, pagination)
}

// Respond godoc
// @Summary Respond to bounty
// @Description Offer one of your uploaded resources as an answer
// @Tags Bounties
// @Accept json
// @Produce json
// @Param id path string true "Bounty ID"
// @Param payload body service.RespondBountyRequest true "Response payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bounties/{id}/responses [post]
func (h *BountyHandler) Respond(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RespondBountyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid response payload"))
		return
	}

	resp, err := h.service.Respond(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, resp)
}

// Responses godoc
// @Summary List bounty responses
// @Description List responses to a bounty; creator only
// @Tags Bounties
// @Produce json
// @Param id path string true "Bounty ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /bounties/{id}/responses [get]
func (h *BountyHandler) Responses(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	responses, err := h.service.Responses(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, responses, nil)
}

// Select godoc
// @Summary Select winning response
// @Description Choose the winner; releases the escrowed reward to the responder
// @Tags Bounties
// @Produce json
// @Param id path string true "Bounty ID"
// @Param responseId path string true "Response ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /bounties/{id}/responses/{responseId}/select [post]
func (h *BountyHandler) Select(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	bounty, err := h.service.Select(c.Request.Context(), c.Param("id"), c.Param("responseId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, bounty, nil)
}
