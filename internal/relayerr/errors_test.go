package relayerr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	bare := New(CodeInvalidTransaction, "bad tx", NonRetryable, nil)
	assert.Equal(t, "INVALID_TRANSACTION: bad tx", bare.Error())

	wrapped := New(CodeInvalidTransaction, "bad tx", NonRetryable, errors.New("decode failed"))
	assert.Contains(t, wrapped.Error(), "decode failed")
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(CodeInternalError, "oops", Retryable, cause)
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatusMapsKnownAndUnknownCodes(t *testing.T) {
	assert.Equal(t, 409, New(CodeNonceConflict, "", Retryable, nil).HTTPStatus())
	assert.Equal(t, 500, (&RelayError{Code: Code("NOT_IN_TABLE")}).HTTPStatus())
}

func TestNewRetryableSetsRetryAfter(t *testing.T) {
	err := NewRetryable(CodeBroadcastFailed, "try later", 2*time.Second, nil)
	require.NotNil(t, err.RetryAfter)
	assert.Equal(t, 2*time.Second, *err.RetryAfter)
	assert.True(t, IsRetryable(err))
}

func TestNewNonceConflictSetsFlagAndClassification(t *testing.T) {
	err := NewNonceConflict("conflict", nil)
	assert.True(t, IsNonceConflict(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, CodeNonceConflict, err.Code)
}

func TestIsRetryableFalseForNonRelayError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsNonceConflict(errors.New("plain error")))
}

func TestAsRelayErrorWrapsUnknownErrors(t *testing.T) {
	wrapped := AsRelayError(errors.New("boom"))
	require.NotNil(t, wrapped)
	assert.Equal(t, CodeInternalError, wrapped.Code)

	assert.Nil(t, AsRelayError(nil))

	already := New(CodeNotFound, "missing", NonRetryable, nil)
	assert.Same(t, already, AsRelayError(already))
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "Retryable", Retryable.String())
	assert.Equal(t, "NonRetryable", NonRetryable.String())
	assert.Equal(t, "UserIntervention", UserIntervention.String())
	assert.Equal(t, "Unknown", Classification(99).String())
}
