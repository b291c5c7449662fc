package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/farmerp/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/require"
)

// Envelope is dto.Response with a typed payload.
type Envelope[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data"`
	Error   *dto.ErrorInfo `json:"error"`
	Meta    *dto.Meta      `json:"meta"`
}

// APIClient sends JSON requests to an in-process handler.
type APIClient struct {
	Handler http.Handler
	// Token is sent as a bearer token when set.
	Token string
}

// Do sends body (marshalled to JSON when non-nil) and returns the recorder.
func (c *APIClient) Do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err, "Failed to marshal request body")
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	w := httptest.NewRecorder()
	c.Handler.ServeHTTP(w, req)
	return w
}

// Decode parses a response envelope with payload type T.
func Decode[T any](t *testing.T, w *httptest.ResponseRecorder) Envelope[T] {
	t.Helper()
	var env Envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "Failed to parse response: %s", w.Body.String())
	return env
}

// RequireStatus fails with the response body when the status differs.
func RequireStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, w.Code, "unexpected status, body: %s", w.Body.String())
}

// RequireErrorCode asserts an error envelope carrying code.
func RequireErrorCode(t *testing.T, w *httptest.ResponseRecorder, code string) *dto.ErrorInfo {
	t.Helper()
	env := Decode[json.RawMessage](t, w)
	require.False(t, env.Success)
	require.NotNil(t, env.Error, "expected error object in response")
	require.Equal(t, code, env.Error.Code)
	return env.Error
}
