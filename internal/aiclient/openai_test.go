package aiclient

import (
	"net/http"
	"testing"

	sdk "github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/require"

	"intelhub/internal/hubtypes"
)

func TestClassifyHTTPError_BadRequestIsTerminalSensitive(t *testing.T) {
	err := &sdk.Error{StatusCode: http.StatusBadRequest}
	ce := classifyHTTPError(err)
	require.Equal(t, VerdictTerminalSensitive, ce.Verdict)
	require.False(t, ce.Retryable())
	require.ErrorIs(t, ce, hubtypes.ErrSensitiveProvider)
}

func TestClassifyHTTPError_UnauthorizedIsTerminalAuth(t *testing.T) {
	err := &sdk.Error{StatusCode: http.StatusUnauthorized}
	ce := classifyHTTPError(err)
	require.Equal(t, VerdictTerminalAuth, ce.Verdict)
	require.False(t, ce.Retryable())
}

func TestClassifyHTTPError_RateLimitIsTransient(t *testing.T) {
	err := &sdk.Error{StatusCode: http.StatusTooManyRequests}
	ce := classifyHTTPError(err)
	require.Equal(t, VerdictTransient, ce.Verdict)
	require.True(t, ce.Retryable())
}

func TestClassifyHTTPError_ServerErrorIsTransient(t *testing.T) {
	err := &sdk.Error{StatusCode: http.StatusInternalServerError}
	ce := classifyHTTPError(err)
	require.Equal(t, VerdictTransient, ce.Verdict)
	require.True(t, ce.Retryable())
}

func TestSelfRotatingClient_RotatesModelAfterNRequests(t *testing.T) {
	c := NewSelfRotatingClient("ms", hubtypes.PriorityFreebie, "g", "http://fake",
		[]string{"tok1"}, []string{"model-a", "model-b"}, 2, 100, nil, nil)

	var models []string
	for i := 0; i < 4; i++ {
		m, _ := c.current()
		models = append(models, m)
	}
	require.Equal(t, []string{"model-a", "model-a", "model-b", "model-b"}, models)
}
