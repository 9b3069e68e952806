package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. The HTTP status is derived from the error's type
//  4. Error is mapped via core.MapError to get a user-friendly message
//  5. Technical error is logged with the request ID for correlation
//  6. The user message is returned as JSON

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/feedmap/internal/core"
	"github.com/JonMunkholm/feedmap/internal/logging"
)

// ErrorResponse is the JSON body of every API error.
// Includes both machine-readable (Code, Reason) and human-readable
// (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"` // Validation sub-reason, e.g. "DuplicateName"
	Field   string `json:"field,omitempty"`
}

// statusFor derives the HTTP status of an error.
func statusFor(err error) int {
	var (
		ve *core.ValidationError
		fe *core.FetchError
		pe *core.ParseError
		me *core.MappingError
	)
	switch {
	case errors.Is(err, core.ErrDuplicateName), errors.Is(err, core.ErrGroupInUse):
		return http.StatusConflict
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrUnknownGroup):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunInFlight), errors.As(err, &me):
		return http.StatusConflict
	case errors.Is(err, core.ErrPoolExhausted), errors.Is(err, core.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &fe), errors.As(err, &pe):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= 500 {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	body := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		body.Reason = ve.ReasonName()
		body.Field = ve.Field
		body.Error = ve.Message
	}

	writeJSONStatus(w, status, body)
}

// respondBadRequest reports a malformed request body or parameter.
func respondBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	logging.FromContext(r.Context()).Warn("bad request", "path", r.URL.Path, "error", message)
	writeJSONStatus(w, http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Message: "The request is malformed",
		Action:  "Check the request body and parameters",
		Code:    "REQ003",
	})
}

// writeJSONStatus encodes v as JSON with the given status.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// writeJSON encodes v as a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}
