// Package apperrors renders failures of the read API as a JSON error
// envelope:
//
//	{"error":{"code":"NOT_FOUND","message":"...","request_id":"..."}}
//
// Codes for domain failures are the ones the CLI emits in error records.
package apperrors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/3leaps/icenimbus/pkg/output"
)

// HTTP-only codes. Domain failures use the output.ErrCode constants.
const (
	CodeRouteNotFound      = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = output.ErrCodeInternal
)

// HTTPError is the body of an error envelope.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the error envelope.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

type requestIDKey struct{}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// StatusForCode maps an error code to its HTTP status.
func StatusForCode(code string) int {
	switch code {
	case output.ErrCodeNotFound:
		return http.StatusNotFound
	case output.ErrCodeAccessDenied:
		return http.StatusForbidden
	case output.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case output.ErrCodeUnsupported:
		return http.StatusUnprocessableEntity
	case output.ErrCodeDecode:
		return http.StatusBadGateway
	case output.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case output.ErrCodeThrottled:
		return http.StatusTooManyRequests
	case output.ErrCodeUnavailable, CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Write sends body with status. The request id of r, if any, is filled in.
func Write(w http.ResponseWriter, r *http.Request, status int, body HTTPError) {
	if body.RequestID == "" && r != nil {
		body.RequestID = RequestID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}

// RespondWithError classifies err and writes the matching envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := output.ErrorCode(err)
	if code == "" {
		code = CodeInternal
	}
	Write(w, r, StatusForCode(code), HTTPError{Code: code, Message: err.Error()})
}

// BadRequest writes an INVALID_ARGUMENT envelope.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	Write(w, r, http.StatusBadRequest, HTTPError{Code: output.ErrCodeInvalidArgument, Message: message})
}

// NotFoundHandler answers unknown routes.
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusNotFound, HTTPError{
		Code:    CodeRouteNotFound,
		Message: "no route for " + r.URL.Path,
	})
}

// MethodNotAllowedHandler answers known routes called with the wrong
// method.
func MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusMethodNotAllowed, HTTPError{
		Code:    CodeMethodNotAllowed,
		Message: r.Method + " not allowed on " + r.URL.Path,
	})
}
