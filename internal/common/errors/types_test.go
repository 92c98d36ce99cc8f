package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := ValidationError("wrapper must have exactly one child element, found 2")
		assert.Equal(t, "validation: wrapper must have exactly one child element, found 2", err.Error())
	})

	t.Run("with cause code and context", func(t *testing.T) {
		err := EnqueueError("publish failed", stderrors.New("channel closed")).
			WithCode("E42").
			WithContext("queue", "hostA").
			WithContext("attempt", 2)

		assert.Equal(t,
			"enqueue: publish failed: code=E42: cause=channel closed: context={attempt=2, queue=hostA}",
			err.Error())
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := HostUnreachableError("hostA", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "hostA", err.Context["host"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected ErrorType
	}{
		{"connection", ConnectionError("dial", nil), ErrTypeConnection},
		{"validation", ValidationError("bad"), ErrTypeValidation},
		{"config", ConfigError("missing"), ErrTypeConfig},
		{"not found", NotFoundError("host"), ErrTypeNotFound},
		{"internal", InternalError("oops", nil), ErrTypeInternal},
		{"timeout", TimeoutError("delivery"), ErrTypeTimeout},
		{"routing", RoutingError("no route"), ErrTypeRouting},
		{"enqueue", EnqueueError("publish", nil), ErrTypeEnqueue},
		{"request creation", RequestCreationError("payload", nil), ErrTypeRequestCreation},
		{"host unreachable", HostUnreachableError("h", nil), ErrTypeHostUnreachable},
		{"message rejected", MessageRejectedError("NACK"), ErrTypeMessageRejected},
		{"response processing", ResponseProcessingError("garbled", nil), ErrTypeResponseProcessing},
		{"unsupported", UnsupportedError("compressed"), ErrTypeUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Type)
			assert.True(t, IsType(tt.err, tt.expected))
		})
	}

	assert.Equal(t, "host not found", NotFoundError("host").Message)
	assert.Equal(t, "compressed messages are not supported", UnsupportedError("compressed").Message)
}

func TestIsType_Wrapped(t *testing.T) {
	inner := RequestCreationError("payload is not XML", nil)
	wrapped := fmt.Errorf("delivering M-1: %w", inner)

	assert.True(t, IsType(wrapped, ErrTypeRequestCreation))
	assert.False(t, IsType(wrapped, ErrTypeHostUnreachable))
	assert.False(t, IsType(nil, ErrTypeRequestCreation))
	assert.False(t, IsType(stderrors.New("plain"), ErrTypeInternal))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorType(""), GetType(nil))
	assert.Equal(t, ErrTypeInternal, GetType(stderrors.New("plain")))
	assert.Equal(t, ErrTypeMessageRejected, GetType(fmt.Errorf("x: %w", MessageRejectedError("NACK"))))
}

func TestUnrecoverableHostError(t *testing.T) {
	err := UnrecoverableHostError("hostA", fmt.Errorf("parse \"::\": missing protocol scheme"))

	assert.True(t, IsType(err, ErrTypeHostUnreachable))
	assert.True(t, IsUnrecoverable(fmt.Errorf("deliver: %w", err)))
	assert.False(t, IsUnrecoverable(HostUnreachableError("hostA", nil)))
	assert.False(t, IsUnrecoverable(fmt.Errorf("plain")))
}
