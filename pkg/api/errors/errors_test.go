package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suiteshq/suites-backend/pkg/models"
)

// newContext creates an echo.Context backed by an httptest.NewRecorder for the
// given HTTP method and path. It returns both the context and the recorder so
// callers can inspect the written response.
func newContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// parseBody is a small helper that unmarshals the recorder body into an
// ErrorResponse, failing the test on any JSON error.
func parseBody(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// captureLog redirects the standard logger to a buffer for the duration of fn
// and returns everything that was logged.
func captureLog(fn func()) string {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)
	fn()
	return buf.String()
}

func TestValidationError_StatusCode(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/billing/trial/start")
	err := ValidationError(c, errors.New("field 'toolId' is required"))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationError_NoInternalDetails(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/billing/trial/start")
	_ = ValidationError(c, errors.New("pq: column users.email does not exist"))
	resp := parseBody(t, rec)
	assert.Equal(t, "validation_error", resp.Error)
	assert.NotContains(t, resp.Message, "pq:")
}

func TestValidationError_LogsInternalError(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/billing/trial/start")
	logged := captureLog(func() {
		_ = ValidationError(c, errors.New("field 'planCode' is required"))
	})
	assert.Contains(t, logged, "planCode")
	assert.Contains(t, logged, "/api/billing/trial/start")
}

func TestDatabaseError_StatusAndBody(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/billing/me/entitlements")
	_ = DatabaseError(c, errors.New("connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := parseBody(t, rec)
	assert.Equal(t, "database_error", resp.Error)
	assert.NotContains(t, resp.Message, "connection refused")
}

func TestInternalError_StatusAndBody(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/billing/subscribe")
	_ = InternalError(c, errors.New("stripe: boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := parseBody(t, rec)
	assert.Equal(t, "internal_error", resp.Error)
	assert.NotContains(t, resp.Message, "stripe")
}

func TestUnauthorizedError(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/billing/invoices")
	_ = UnauthorizedError(c, "missing token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", parseBody(t, rec).Error)
}

func TestForbiddenError(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/billing/create-portal-session")
	_ = ForbiddenError(c, "role SALES_REP cannot manage billing")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", parseBody(t, rec).Error)
}

func TestNotFoundError(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/billing/pricing")
	_ = NotFoundError(c, "tool")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", parseBody(t, rec).Error)
}

func TestConflictError_MessageExposed(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/billing/trial/start")
	_ = ConflictError(c, "Trial already used")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Trial already used", parseBody(t, rec).Message)
}

func TestDomainError_StableCode(t *testing.T) {
	c, rec := newContext(http.MethodPost, "/api/billing/trial/start")
	_ = DomainError(c, http.StatusConflict, "ALREADY_SUBSCRIBED_OR_TRIALING")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_SUBSCRIBED_OR_TRIALING", parseBody(t, rec).Error)
}
