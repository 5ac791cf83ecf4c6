package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/k12share/paperclip-api/internal/service"
	appErrors "github.com/k12share/paperclip-api/pkg/errors"
	"github.com/k12share/paperclip-api/pkg/response"
	"github.com/k12share/paperclip-api/pkg/storage"
)

// AdminHandler covers admin-only operations: grade upgrade runs and point
// statement exports.
type AdminHandler struct {
	grades     *service.GradeService
	statements *service.StatementService
	files      *storage.LocalStorage
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(grades *service.GradeService, statements *service.StatementService, files *storage.LocalStorage) *AdminHandler {
	return &AdminHandler{grades: grades, statements: statements, files: files}
}

// StatementRequest asks for a rendered point statement.
type StatementRequest struct {
	UserID string `json:"user_id" binding:"required"`
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
	Format string `json:"format" binding:"required,oneof=csv pdf"`
}

// UpgradeGrades godoc
// @Summary Run grade upgrades
// @Description Advance every eligible account's child grade for the current school year
// @Tags Admin
// @Produce json
// @Param force query bool false "Skip the July window check"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/grades/upgrade [post]
func (h *AdminHandler) UpgradeGrades(c *gin.Context) {
	force := c.Query("force") == "true"

	upgraded, err := h.grades.UpgradeAll(c.Request.Context(), force)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"upgraded": upgraded}, nil)
}

// GenerateStatement godoc
// @Summary Generate point statement
// @Description Render one account's ledger over a period as CSV or PDF
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body handler.StatementRequest true "Statement payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/statements [post]
func (h *AdminHandler) GenerateStatement(c *gin.Context) {
	var req StatementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid statement payload"))
		return
	}

	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be YYYY-MM-DD"))
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be YYYY-MM-DD"))
		return
	}

	result, err := h.statements.Generate(c.Request.Context(), req.UserID, from, to, service.StatementFormat(req.Format))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// DownloadStatement godoc
// @Summary Download statement
// @Description Stream a generated statement referenced by its signed token
// @Tags Admin
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200
// @Failure 403 {object} response.Envelope
// @Router /admin/statements/{token} [get]
func (h *AdminHandler) DownloadStatement(c *gin.Context) {
	relPath, err := h.statements.ParseToken(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}

	file, err := h.files.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "statement not found"))
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat statement"))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", file, nil)
}
