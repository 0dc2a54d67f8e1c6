package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient_Nil(t *testing.T) {
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_TransientError(t *testing.T) {
	err := NewTransientError(errors.New("rate limited"), 429)
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("overloaded"), 529)
	wrapped := eris.Wrap(inner, "query county")
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransient_FatalNeverTransient(t *testing.T) {
	// A fatal error stays fatal even when it wraps a transient-looking cause.
	err := NewFatalError(errors.New("i/o timeout"), 401)
	assert.False(t, IsTransient(err))
	assert.True(t, IsFatal(err))
}

func TestIsTransient_StringHeuristics(t *testing.T) {
	for _, msg := range []string{
		"read tcp: connection reset by peer",
		"write: broken pipe",
		"dial tcp: lookup api.example.com: no such host",
		"net/http: TLS handshake timeout",
		"read: i/o timeout",
	} {
		assert.True(t, IsTransient(fmt.Errorf("call failed: %s", msg)), msg)
	}
}

func TestIsTransient_PlainError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("invalid argument")))
}

func TestIsFatal_Wrapped(t *testing.T) {
	inner := NewFatalError(errors.New("invalid x-api-key"), 401)
	wrapped := eris.Wrap(inner, "research")
	assert.True(t, IsFatal(wrapped))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "%d", code)
	}
	for _, code := range []int{0, 200, 400, 401, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), "%d", code)
	}
}

func TestIsFatalHTTPStatus(t *testing.T) {
	assert.True(t, IsFatalHTTPStatus(401))
	assert.True(t, IsFatalHTTPStatus(403))
	assert.False(t, IsFatalHTTPStatus(429))
	assert.False(t, IsFatalHTTPStatus(500))
	assert.False(t, IsFatalHTTPStatus(0))
}

func TestTransientError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewTransientError(cause, 503)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "boom", err.Error())
}
