package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := RateLimit(errors.New("status 429"))
	wrapped := fmt.Errorf("generate: %w", base)

	require.Equal(t, KindRateLimit, KindOf(wrapped))
	require.True(t, Is(wrapped, KindRateLimit))
	require.Equal(t, MsgRateLimit, UserMessage(wrapped))
	require.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	require.False(t, Is(nil, KindUnknown))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:     http.StatusBadRequest,
		KindAuthentication: http.StatusUnauthorized,
		KindAuthorization:  http.StatusForbidden,
		KindRateLimit:      http.StatusTooManyRequests,
		KindQuotaExhausted: http.StatusPaymentRequired,
		KindConflict:       http.StatusConflict,
		KindNotFound:       http.StatusNotFound,
		KindUpstream:       http.StatusInternalServerError,
		KindUnknown:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		require.Equal(t, want, HTTPStatus(kind), kind)
	}
}

func TestClassifyUpstream(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   Kind
	}{
		{name: "status 429", status: 429, err: errors.New("boom"), want: KindRateLimit},
		{name: "status 402", status: 402, err: errors.New("boom"), want: KindQuotaExhausted},
		{name: "message rate limit", err: errors.New("Error 429, Message: Resource has been exhausted"), want: KindRateLimit},
		{name: "message quota", err: errors.New("payment required"), want: KindQuotaExhausted},
		{name: "status 500", status: 500, err: errors.New("internal"), want: KindUpstream},
		{name: "status 503 with 429 in body", status: 503, err: errors.New("upstream unavailable (trace 84291)"), want: KindUpstream},
		{name: "status 400 with quota text", status: 400, err: errors.New("quota exceeded"), want: KindUpstream},
		{name: "no status, stray digits", err: errors.New("dial tcp 10.0.4.29:4290: connection refused"), want: KindUpstream},
		{name: "no status, status code text", err: errors.New("gateway returned status 429"), want: KindRateLimit},
		{name: "no status, resource exhausted", err: errors.New("RESOURCE_EXHAUSTED"), want: KindRateLimit},
		{name: "no status, quota exceeded", err: errors.New("Quota exceeded for project"), want: KindQuotaExhausted},
		{name: "nil error", status: 0, err: nil, want: KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyUpstream(tt.status, tt.err).Kind)
		})
	}
}

func TestUserMessageDefaults(t *testing.T) {
	require.Equal(t, MsgGeneric, UserMessage(errors.New("x")))
	require.Equal(t, MsgGenerateFailed, UserMessage(Upstream(errors.New("x"))))
	require.Equal(t, MsgUnauthorized, UserMessage(Authentication("")))
	require.Equal(t, "prompt is required", UserMessage(Validation("prompt is required")))
}
