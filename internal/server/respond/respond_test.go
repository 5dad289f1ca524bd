package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketd/internal/domain"
)

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]int{"n": 1})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, "ok", env.Message)
}

func TestError_KindMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", domain.Validationf("bad input"), http.StatusUnprocessableEntity},
		{"not found", domain.NotFoundf("missing"), http.StatusNotFound},
		{"business", domain.Businessf("precondition"), http.StatusBadRequest},
		{"upstream", domain.Upstreamf("no provider"), http.StatusServiceUnavailable},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			rec := httptest.NewRecorder()
			Error(rec, req, zerolog.Nop(), tt.err)

			assert.Equal(t, tt.status, rec.Code)

			var env Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tt.status, env.Code)
			if tt.status != http.StatusInternalServerError {
				assert.Equal(t, tt.err.Error(), env.Message)
			}
		})
	}
}

func TestError_InternalHidesDetailAndCarriesTraceID(t *testing.T) {
	handler := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, zerolog.Nop(), errors.New("sql: table vanished"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	headerID := rec.Header().Get("X-Trace-Id")
	require.NotEmpty(t, headerID)

	var env struct {
		Code    int               `json:"code"`
		Message string            `json:"message"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "internal server error", env.Message)
	assert.NotContains(t, env.Message, "vanished")
	assert.Equal(t, headerID, env.Data["trace_id"])
}

func TestGetTraceID_OutsideRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Empty(t, GetTraceID(req.Context()))
}
