package platformerrors_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmatch/castmatch-server/internal/utils/platformerrors"
)

func TestAsErrorKeepsType(t *testing.T) {
	ctx := platformerrors.WithRequestID(context.Background(), "req-1")
	base := platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeForbidden, "not yours", nil, "b7a1c3e2-0f44-4c1d-9a0e-4b2f6f3b1c11")

	wrapped := platformerrors.AsError(ctx, platformerrors.LayerHandler, base, "get messages")

	require.NotNil(t, wrapped)
	assert.Equal(t, platformerrors.ErrorTypeForbidden, wrapped.Type)
	assert.Equal(t, "not yours", wrapped.Message)
	assert.Equal(t, "req-1", wrapped.RequestID)
	assert.True(t, platformerrors.IsErrorType(wrapped, platformerrors.ErrorTypeForbidden))
}

func TestAsErrorWrapsPlainErrorsAsInternal(t *testing.T) {
	wrapped := platformerrors.AsError(context.Background(), platformerrors.LayerRepository, errors.New("boom"), "insert failed")

	assert.Equal(t, platformerrors.ErrorTypeInternal, wrapped.Type)
	assert.Nil(t, platformerrors.AsError(context.Background(), platformerrors.LayerRepository, nil, "noop"))
}

func TestToHTTPResponse(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		err         *platformerrors.PlatformError
		wantStatus  int
		wantCode    string
		wantMessage string
		wantRetry   int
	}{
		{
			name:        "not found",
			err:         platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound, "Conversation not found", nil, ""),
			wantStatus:  http.StatusNotFound,
			wantCode:    "NOT_FOUND",
			wantMessage: "Conversation not found",
		},
		{
			name:        "rate limited",
			err:         platformerrors.NewRateLimitedError(ctx, platformerrors.LayerDomain, "Too many requests", 42, ""),
			wantStatus:  http.StatusTooManyRequests,
			wantCode:    "RATE_LIMIT_EXCEEDED",
			wantMessage: "Too many requests",
			wantRetry:   42,
		},
		{
			name:        "database errors are hidden",
			err:         platformerrors.NewError(ctx, platformerrors.LayerRepository, platformerrors.ErrorTypeDatabaseError, "pq: relation missing", nil, ""),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "INTERNAL_ERROR",
			wantMessage: "An internal error occurred",
		},
		{
			name:        "upstream errors keep their message",
			err:         platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "AI provider unavailable", nil, ""),
			wantStatus:  http.StatusBadGateway,
			wantCode:    "UPSTREAM_ERROR",
			wantMessage: "AI provider unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := platformerrors.ToHTTPResponse(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.Equal(t, tt.wantRetry, resp.RetryAfter)
		})
	}
}
