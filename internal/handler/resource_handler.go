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

// ResourceHandler handles resource upload, browsing and download endpoints.
type ResourceHandler struct {
	service *service.ResourceService
}

// NewResourceHandler creates a new resource handler.
func NewResourceHandler(svc *service.ResourceService) *ResourceHandler {
	return &ResourceHandler{service: svc}
}

// Upload godoc
// @Summary Upload resource
// @Description Upload a file with metadata; credits the upload bonus
// @Tags Resources
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Resource file"
// @Param title formData string true "Title"
// @Param description formData string true "Description"
// @Param grade formData string true "Target grade"
// @Param subject formData string true "Subject"
// @Param resource_type formData string true "Resource type"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /resources [post]
func (h *ResourceHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read file"))
		return
	}
	defer file.Close() //nolint:errcheck

	req := service.UploadResourceRequest{
		Title:        c.PostForm("title"),
		Description:  c.PostForm("description"),
		Grade:        c.PostForm("grade"),
		Subject:      c.PostForm("subject"),
		ResourceType: c.PostForm("resource_type"),
		Filename:     fileHeader.Filename,
		FileSize:     fileHeader.Size,
	}

	resource, err := h.service.Upload(c.Request.Context(), claims.UserID, req, file)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, resource)
}

// Get godoc
// @Summary Get resource
// @Description Get resource detail
// @Tags Resources
// @Produce json
// @Param id path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /resources/{id} [get]
func (h *ResourceHandler) Get(c *gin.Context) {
	resource, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, resource, nil)
}

// List godoc
// @Summary List resources
// @Description Browse active resources with filtering
// @Tags Resources
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param grade query string false "Grade filter"
// @Param subject query string false "Subject filter"
// @Param resource_type query string false "Type filter"
// @Param uploader_id query string false "Uploader filter"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Router /resources [get]
func (h *ResourceHandler) List(c *gin.Context) {
	var filter models.ResourceFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.Grade = c.Query("grade")
	filter.Subject = c.Query("subject")
	filter.ResourceType = c.Query("resource_type")
	filter.UploaderID = c.Query("uploader_id")
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	resources, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, resources, pagination)
}

// Download godoc
// @Summary Download resource
// @Description Settle a download and return a signed file link; paid unless owned or re-downloaded
// @Tags Resources
// @Produce json
// @Param id path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /resources/{id}/download [post]
func (h *ResourceHandler) Download(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.service.Download(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// File godoc
// @Summary Fetch file
// @Description Stream a file referenced by a signed download token
// @Tags Resources
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200
// @Failure 403 {object} response.Envelope
// @Router /files/{token} [get]
func (h *ResourceHandler) File(c *gin.Context) {
	file, name, err := h.service.OpenByToken(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file"))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", file, nil)
}

// Deactivate godoc
// @Summary Deactivate resource
// @Description Take a resource out of circulation (admin only)
// @Tags Admin
// @Produce json
// @Param id path string true "Resource ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /admin/resources/{id} [delete]
func (h *ResourceHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
