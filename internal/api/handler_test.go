package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/ingestion"
	"labflow/internal/logger"
	apperrors "labflow/pkg/errors"
	"labflow/pkg/models"
)

type stubIngestor struct {
	outcome ingestion.Outcome
	err     error
	raw     string
}

func (s *stubIngestor) ProcessInbound(ctx context.Context, raw string) (ingestion.Outcome, error) {
	s.raw = raw
	return s.outcome, s.err
}

type stubAudits map[string][]models.IngestAudit

func (s stubAudits) ListAudits(ctx context.Context, messageID string) ([]models.IngestAudit, error) {
	return s[messageID], nil
}

type stubResults map[string][]models.ParsedResult

func (s stubResults) ResultsByMessage(ctx context.Context, messageID string) ([]models.ParsedResult, error) {
	return s[messageID], nil
}

type stubDispatcher struct {
	outcome ingestion.Outcome
	err     error
	orderID string
}

func (s *stubDispatcher) SendAndProcess(ctx context.Context, orderID string) (ingestion.Outcome, error) {
	s.orderID = orderID
	return s.outcome, s.err
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.RegisterRoutes(router)
	return router
}

func TestHandler_IngestMessage(t *testing.T) {
	ingestor := &stubIngestor{outcome: ingestion.Outcome{
		Status:    ingestion.OutcomeSucceeded,
		State:     ingestion.StatePublished,
		MessageID: "MSG-1",
		ResultIDs: []string{"r-1", "r-2"},
	}}
	router := newRouter(NewHandler(ingestor, stubAudits{}, stubResults{}, nil, logger.NopLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader("MSH|^~\\&|LIS"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MSH|^~\\&|LIS", ingestor.raw)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SUCCEEDED", body["status"])
	assert.Equal(t, "MSG-1", body["message_id"])
	assert.Len(t, body["result_ids"], 2)
}

func TestHandler_IngestMessage_Errors(t *testing.T) {
	t.Run("processor error maps to status", func(t *testing.T) {
		ingestor := &stubIngestor{err: apperrors.ErrServiceUnavailable.WithCause(errors.New("db down"))}
		router := newRouter(NewHandler(ingestor, stubAudits{}, stubResults{}, nil, logger.NopLogger()))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader("x")))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")
	})

	t.Run("body too large", func(t *testing.T) {
		ingestor := &stubIngestor{}
		h := NewHandler(ingestor, stubAudits{}, stubResults{}, nil, logger.NopLogger())
		h.maxBody = 8
		router := newRouter(h)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader("0123456789")))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, ingestor.raw)
	})
}

func TestHandler_ListAudits(t *testing.T) {
	audits := stubAudits{
		"MSG-1": {{ID: "a-1", MessageID: "MSG-1", Outcome: models.AuditSucceeded}},
	}
	router := newRouter(NewHandler(&stubIngestor{}, audits, stubResults{}, nil, logger.NopLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages/MSG-1/audits", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "a-1", body[0]["id"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages/UNKNOWN/audits", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ListResults_Empty(t *testing.T) {
	router := newRouter(NewHandler(&stubIngestor{}, stubAudits{}, stubResults{}, nil, logger.NopLogger()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages/MSG-9/results", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandler_DispatchOrder(t *testing.T) {
	tests := []struct {
		name       string
		dispatcher *stubDispatcher
		wantStatus int
	}{
		{
			name:       "succeeded",
			dispatcher: &stubDispatcher{outcome: ingestion.Outcome{Status: ingestion.OutcomeSucceeded}},
			wantStatus: http.StatusOK,
		},
		{
			name: "transport failure",
			dispatcher: &stubDispatcher{outcome: ingestion.Outcome{
				Status: ingestion.OutcomeFailed,
				Err:    apperrors.ErrTransport.WithDetail("instrument", "chem-1"),
			}},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unknown order",
			dispatcher: &stubDispatcher{err: apperrors.ErrNotFound.WithDetail("message", "order ORD-1 not found")},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(NewHandler(&stubIngestor{}, stubAudits{}, stubResults{}, tt.dispatcher, logger.NopLogger()))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-1/dispatch", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "ORD-1", tt.dispatcher.orderID)
		})
	}

	t.Run("not configured", func(t *testing.T) {
		router := newRouter(NewHandler(&stubIngestor{}, stubAudits{}, stubResults{}, nil, logger.NopLogger()))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-1/dispatch", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
