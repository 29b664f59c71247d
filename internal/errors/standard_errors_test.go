package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err    *StandardError
		status int
	}{
		{NewBadRequestError("bad"), http.StatusBadRequest},
		{NewNotFoundError("collection", "missing"), http.StatusNotFound},
		{NewStoreUnavailableError("vector", nil), http.StatusServiceUnavailable},
		{NewEmbedFailedError("embed", nil), http.StatusInternalServerError},
		{NewGenFailedError("gen", nil), http.StatusInternalServerError},
		{NewInvariantViolationError("broken"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.ToHTTPStatus(), string(tc.err.Code()))
	}
}

func TestFromExtractsWrappedError(t *testing.T) {
	base := NewStoreUnavailableError("vector", fmt.Errorf("dial tcp: refused"))
	wrapped := fmt.Errorf("search: %w", base)

	se := From(wrapped)
	assert.Equal(t, ErrorCodeStoreUnavailable, se.Code())
	assert.True(t, Is(wrapped, ErrorCodeStoreUnavailable))
	assert.False(t, Is(wrapped, ErrorCodeBadRequest))
}

func TestFromUnknownError(t *testing.T) {
	se := From(fmt.Errorf("plain failure"))
	assert.Equal(t, ErrorCodeInvariantViolation, se.Code())
	assert.Contains(t, se.Error(), "plain failure")
}

func TestWriteHTTPError(t *testing.T) {
	rec := httptest.NewRecorder()
	NewNotFoundError("collection", "nope").WithTraceID("trace-1").WriteHTTPError(rec)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "trace-1", rec.Header().Get("X-Trace-ID"))

	var body struct {
		Error ErrorDetails `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrorCodeNotFound, body.Error.Code)
	assert.Equal(t, "trace-1", body.Error.TraceID)
}

func TestIsIgnoresNonStandardErrors(t *testing.T) {
	assert.False(t, Is(fmt.Errorf("plain"), ErrorCodeBadRequest))
	assert.False(t, Is(nil, ErrorCodeBadRequest))
}
