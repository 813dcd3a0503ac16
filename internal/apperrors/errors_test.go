package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/icenimbus/pkg/iceberg"
	"github.com/3leaps/icenimbus/pkg/locator"
	"github.com/3leaps/icenimbus/pkg/provider"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "not found", err: fmt.Errorf("get: %w", provider.ErrNotFound), wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "denied", err: provider.ErrAccessDenied, wantStatus: http.StatusForbidden, wantCode: "ACCESS_DENIED"},
		{name: "bad locator", err: locator.ErrInvalidLocator, wantStatus: http.StatusBadRequest, wantCode: "INVALID_ARGUMENT"},
		{name: "old format", err: iceberg.ErrUnsupportedVersion, wantStatus: http.StatusUnprocessableEntity, wantCode: "UNSUPPORTED"},
		{name: "bad json", err: iceberg.ErrMetadataJSON, wantStatus: http.StatusBadGateway, wantCode: "DECODE"},
		{name: "deadline", err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout, wantCode: "TIMEOUT"},
		{name: "throttled", err: provider.ErrThrottled, wantStatus: http.StatusTooManyRequests, wantCode: "THROTTLED"},
		{name: "other", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/table", nil)
			req = req.WithContext(WithRequestID(req.Context(), "req-1"))
			rec := httptest.NewRecorder()

			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decode(t, rec)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.err.Error(), body.Error.Message)
			assert.Equal(t, "req-1", body.Error.RequestID)
		})
	}
}

func TestRouteHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFoundHandler(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec).Error.Code)

	rec = httptest.NewRecorder()
	MethodNotAllowedHandler(rec, httptest.NewRequest(http.MethodPost, "/version", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
	assert.Equal(t, "POST not allowed on /version", body.Error.Message)

	rec = httptest.NewRecorder()
	BadRequest(rec, nil, "uri is required")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decode(t, rec).Error.Code)
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	assert.Equal(t, "abc", RequestID(WithRequestID(context.Background(), "abc")))
}
