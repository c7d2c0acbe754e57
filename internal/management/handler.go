package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"labflow/internal/constants"
	"labflow/internal/logger"
	"labflow/pkg/errors"
)

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		flagging := v1.Group("/flagging")
		{
			flagging.GET("/versions", h.ListVersions)
			flagging.POST("/versions", h.CreateVersion)
			flagging.GET("/versions/:id", h.GetVersion)
			flagging.POST("/versions/:id/rules", h.AddRule)
			flagging.POST("/versions/:id/activate", h.Activate)
			flagging.GET("/versions/:id/audit", h.GetVersionAuditLogs)
			flagging.GET("/current", h.Current)
		}

		audit := v1.Group("/audit")
		{
			audit.GET("/logs", h.GetAuditLogs)
		}
	}
}

// ListVersions returns versions newest first. ?limit caps the page (1-1000).
func (h *Handler) ListVersions(c *gin.Context) {
	versions, err := h.Service.ListVersions(c.Request.Context(), parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, versions)
}

func (h *Handler) CreateVersion(c *gin.Context) {
	var req CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	version, err := h.Service.CreateVersion(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, version)
}

func (h *Handler) GetVersion(c *gin.Context) {
	version, err := h.Service.GetVersion(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func (h *Handler) AddRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.Service.AddRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// Activate makes the version current. The body is optional.
func (h *Handler) Activate(c *gin.Context) {
	var req ActivateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}
	}

	version, err := h.Service.Activate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func (h *Handler) Current(c *gin.Context) {
	version, err := h.Service.Current(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func (h *Handler) GetVersionAuditLogs(c *gin.Context) {
	id := c.Param("id")

	logs, err := h.Service.GetAuditLogs(c.Request.Context(), &id, EntityTypeFlaggingVersion, parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetAuditLogs filters by ?entity_id or ?entity_type, newest first.
func (h *Handler) GetAuditLogs(c *gin.Context) {
	entityID := c.Query("entity_id")
	entityType := c.Query("entity_type")

	var entityIDPtr *string
	if entityID != "" {
		entityIDPtr = &entityID
	}

	logs, err := h.Service.GetAuditLogs(c.Request.Context(), entityIDPtr, entityType, parseLimit(c.Query("limit")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
