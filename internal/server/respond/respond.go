// Package respond implements the common HTTP response envelope and the
// error-kind to status mapping used by all API handlers.
package respond

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/domain"
)

// Envelope wraps every API payload. Code is 0 on success and mirrors the
// HTTP status on failure.
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type contextKey struct{}

var traceIDKey contextKey

// TraceID is middleware that assigns each request a trace id and echoes it
// in the X-Trace-Id response header.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Trace-Id", id)
		ctx := context.WithValue(r.Context(), traceIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTraceID returns the request's trace id, or "" outside a request.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// OK writes a 200 envelope with code 0.
func OK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Envelope{Code: 0, Message: "ok", Data: data})
}

// Error maps err's kind to an HTTP status and writes the failure envelope.
// Internal errors include the trace id and are logged at error level; the
// other kinds carry their own message and are the caller's to log.
func Error(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	status := statusFor(domain.KindOf(err))
	if status == http.StatusInternalServerError {
		traceID := GetTraceID(r.Context())
		log.Error().Err(err).Str("trace_id", traceID).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, status, Envelope{
			Code:    status,
			Message: "internal server error",
			Data:    map[string]string{"trace_id": traceID},
		})
		return
	}
	writeJSON(w, status, Envelope{Code: status, Message: err.Error()})
}

func statusFor(kind domain.ErrKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusUnprocessableEntity
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindBusiness:
		return http.StatusBadRequest
	case domain.KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
