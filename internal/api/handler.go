// Package api exposes ingestion and dispatch over HTTP.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"labflow/internal/hl7"
	"labflow/internal/ingestion"
	"labflow/internal/logger"
	"labflow/pkg/errors"
	"labflow/pkg/models"
)

type Ingestor interface {
	ProcessInbound(ctx context.Context, raw string) (ingestion.Outcome, error)
}

type AuditReader interface {
	ListAudits(ctx context.Context, messageID string) ([]models.IngestAudit, error)
}

type ResultReader interface {
	ResultsByMessage(ctx context.Context, messageID string) ([]models.ParsedResult, error)
}

type OrderDispatcher interface {
	SendAndProcess(ctx context.Context, orderID string) (ingestion.Outcome, error)
}

type Handler struct {
	ingestor   Ingestor
	audits     AuditReader
	results    ResultReader
	dispatcher OrderDispatcher
	maxBody    int64
	logger     logger.Logger
}

// NewHandler wires the HTTP surface. dispatcher may be nil when no
// instruments are configured; the dispatch route then answers 503.
func NewHandler(ingestor Ingestor, audits AuditReader, results ResultReader, dispatcher OrderDispatcher, log logger.Logger) *Handler {
	return &Handler{
		ingestor:   ingestor,
		audits:     audits,
		results:    results,
		dispatcher: dispatcher,
		maxBody:    int64(hl7.DefaultMaxFrameBytes),
		logger:     log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		{
			messages.POST("", h.IngestMessage)
			messages.GET("/:id/audits", h.ListAudits)
			messages.GET("/:id/results", h.ListResults)
		}

		orders := v1.Group("/orders")
		{
			orders.POST("/:id/dispatch", h.DispatchOrder)
		}
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

// IngestMessage runs a text/plain HL7 body through ingestion. Every
// outcome, quarantine included, is a 200.
func (h *Handler) IngestMessage(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if int64(len(body)) > h.maxBody {
		c.JSON(http.StatusRequestEntityTooLarge, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "message body too large"),
		))
		return
	}

	outcome, err := h.ingestor.ProcessInbound(c.Request.Context(), string(body))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (h *Handler) ListAudits(c *gin.Context) {
	id := c.Param("id")
	audits, err := h.audits.ListAudits(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if len(audits) == 0 {
		h.HandleError(c, errors.ErrNotFound.WithDetail("message_id", id))
		return
	}

	c.JSON(http.StatusOK, audits)
}

func (h *Handler) ListResults(c *gin.Context) {
	results, err := h.results.ResultsByMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if results == nil {
		results = []models.ParsedResult{}
	}

	c.JSON(http.StatusOK, results)
}

func (h *Handler) DispatchOrder(c *gin.Context) {
	if h.dispatcher == nil {
		h.HandleError(c, errors.ErrServiceUnavailable.WithDetail("message", "dispatch is not configured"))
		return
	}

	outcome, err := h.dispatcher.SendAndProcess(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == ingestion.OutcomeFailed && outcome.Err != nil {
		status = errors.ToHTTPStatus(outcome.Err)
	}
	c.JSON(status, outcome)
}
