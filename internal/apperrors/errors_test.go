package apperrors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteError_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/tenant", nil)

	WriteError(w, r, http.StatusForbidden, "forbidden", "Only admins can manage members")

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "forbidden", resp.Error.Code)
	require.Equal(t, "Only admins can manage members", resp.Error.Message)
}

func TestWriteSuccess_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/tenant", nil)

	WriteSuccess(w, r, http.StatusCreated, map[string]string{"slug": "city-library"})

	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		RequestID string            `json:"request_id"`
		Data      map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "city-library", resp.Data["slug"])
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, seen)
	require.Equal(t, seen, w.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddleware_ErrorEnvelopeCarriesID(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteBadRequest(w, r, "Invalid request body")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, w.Header().Get("X-Request-ID"), resp.Error.RequestID)
}
