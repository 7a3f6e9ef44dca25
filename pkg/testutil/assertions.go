package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertJSONResponse checks the status code and content type and decodes the body into out
func AssertJSONResponse(t testing.TB, w *httptest.ResponseRecorder, expectedStatus int, out interface{}) {
	t.Helper()

	require.Equal(t, expectedStatus, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "unexpected content type")

	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
}

// AssertErrorResponse checks an {"error": ...} body whose message contains expectedMessage
func AssertErrorResponse(t testing.TB, w *httptest.ResponseRecorder, expectedStatus int, expectedMessage string) {
	t.Helper()

	var response struct {
		Error string `json:"error"`
	}
	AssertJSONResponse(t, w, expectedStatus, &response)
	require.NotEmpty(t, response.Error, "missing error message")
	if expectedMessage != "" {
		assert.Contains(t, response.Error, expectedMessage, "unexpected error message")
	}
}
