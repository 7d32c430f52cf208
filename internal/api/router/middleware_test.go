package router

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger_RequestID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil, nil)
	generated := w.Header().Get(requestIDHeader)
	_, err := uuid.Parse(generated)
	require.NoError(t, err, "a request id is generated when none is sent")

	const supplied = "6f1c2b8e-0d4a-4b7e-9a31-2c5d8e7f9a10"
	w = s.do(t, http.MethodGet, "/health", nil, map[string]string{requestIDHeader: supplied})
	assert.Equal(t, supplied, w.Header().Get(requestIDHeader))

	w = s.do(t, http.MethodGet, "/health", nil, map[string]string{requestIDHeader: "not-a-uuid"})
	assert.NotEqual(t, "not-a-uuid", w.Header().Get(requestIDHeader))
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodOptions, "/api/v1/uploads", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-File-Name")
}
