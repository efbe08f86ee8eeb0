package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	assert.Equal(t, "INVALID_INPUT: test error", err.Error())
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	assert.Same(t, originalErr, err.Cause)
	assert.Contains(t, err.Error(), "original error")
	assert.ErrorIs(t, err, originalErr)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	assert.Equal(t, "value", err.Context["field"])
	assert.Equal(t, 42, err.Context["count"])
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("bad"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("source"), ErrCodeNotFound, http.StatusNotFound},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("oops"), ErrCodeInternal, http.StatusInternalServerError},
		{NewServiceUnavailableError("down"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.HTTPStatus)
		})
	}
	assert.Equal(t, "source not found", NewNotFoundError("source").Message)
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(NewAppError(ErrCodeInvalidInput, "test", 400)))
	assert.False(t, IsAppError(errors.New("regular error")))
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	assert.Same(t, appErr, GetAppError(appErr))

	wrapped := fmt.Errorf("handler: %w", appErr)
	assert.Same(t, appErr, GetAppError(wrapped))

	assert.Nil(t, GetAppError(errors.New("regular error")))
	assert.Nil(t, GetAppError(nil))
}

func TestFromError(t *testing.T) {
	errGone := errors.New("gone")
	errBusy := errors.New("busy")
	mappings := []Mapping{
		{Target: errGone, Code: ErrCodeEngineStopped, HTTPStatus: http.StatusServiceUnavailable},
		{Target: errBusy, Code: ErrCodeInvalidState, HTTPStatus: http.StatusConflict},
	}

	assert.Nil(t, FromError(nil, mappings...))

	got := FromError(fmt.Errorf("%w: suspended -> idle", errBusy), mappings...)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeInvalidState, got.Code)
	assert.Equal(t, http.StatusConflict, got.HTTPStatus)
	assert.Equal(t, "busy: suspended -> idle", got.Message)

	got = FromError(errGone, mappings...)
	assert.Equal(t, ErrCodeEngineStopped, got.Code)

	existing := NewRateLimitError()
	assert.Same(t, existing, FromError(existing, mappings...))

	mystery := errors.New("mystery")
	got = FromError(mystery, mappings...)
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)
	assert.Equal(t, "internal error", got.Message)
	assert.ErrorIs(t, got, mystery)
}
