package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		method     string
		wantStatus int
		wantCode   string
	}{
		{"api error", NewNotFoundError("widget", "abc"), http.MethodGet, http.StatusNotFound, "NOT_FOUND"},
		{"wrapped api error", fmt.Errorf("outer: %w", NewValidationError("name")), http.MethodGet, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.MethodGet, http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{"unknown error", errors.New("boom"), http.MethodGet, http.StatusInternalServerError, "UNKNOWN_ERROR"},
		{"head request", NewNotFoundError("preview", "t"), http.MethodHead, http.StatusNotFound, ""},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(tt.method, "/", nil), rec)

			ErrorHandler(tt.err, c)
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantCode == "" {
				assert.Empty(t, rec.Body.String())
				return
			}
			var body APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestNewInternalError_Details(t *testing.T) {
	cause := errors.New("disk full")

	assert.Empty(t, NewInternalError("failed", cause).Details)

	ExposeErrorDetails = true
	defer func() { ExposeErrorDetails = false }()
	assert.Equal(t, "disk full", NewInternalError("failed", cause).Details)
}

func TestNewUnsupportedMediaTypeError(t *testing.T) {
	err := NewUnsupportedMediaTypeError("text/plain")
	assert.Equal(t, http.StatusUnsupportedMediaType, err.Status)
	assert.Contains(t, err.Error(), "text/plain")
}
