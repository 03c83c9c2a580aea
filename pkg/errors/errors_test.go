package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_HTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		CodeAuthRequired:       http.StatusUnauthorized,
		CodeForbidden:          http.StatusForbidden,
		CodeInvalidCredentials: http.StatusUnauthorized,
		CodeValidation:         http.StatusUnprocessableEntity,
		CodeConflict:           http.StatusConflict,
		CodeUpstreamFailure:    http.StatusInternalServerError,
		ErrorCode("UNKNOWN"):   http.StatusInternalServerError,
	}

	for code, status := range cases {
		assert.Equal(t, status, NewAppError(code, "x", nil).HTTPStatus(), string(code))
	}
}

func TestAppError_UnwrapAndAs(t *testing.T) {
	cause := stderrors.New("db down")
	err := fmt.Errorf("register: %w", Upstream(cause))

	appErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeUpstreamFailure, appErr.Code)
	assert.Equal(t, "Internal server error", appErr.Message)
	assert.ErrorIs(t, err, cause)

	_, ok = As(cause)
	assert.False(t, ok)
}

func TestToErrorResponse(t *testing.T) {
	resp := NewAppError(CodeAuthRequired, "Token required", nil).ToErrorResponse("trace-1")
	assert.Equal(t, ErrorResponse{Message: "Token required", Code: CodeAuthRequired, TraceID: "trace-1"}, resp)
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeForStatus(404))
	assert.Equal(t, CodeBadRequest, CodeForStatus(405))
	assert.Equal(t, CodeRateLimited, CodeForStatus(429))
	assert.Equal(t, CodeInternalError, CodeForStatus(503))
}
