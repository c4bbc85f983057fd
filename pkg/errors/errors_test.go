package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_MessageAndCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewProcessError("failed to spawn process", cause)

	assert.Contains(t, err.Error(), "failed to spawn process")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestDomainError_TypeChecks(t *testing.T) {
	assert.True(t, IsValidationError(NewValidationError("bad", nil)))
	assert.True(t, IsNotFoundError(NewNotFoundError("missing", nil)))
	assert.True(t, IsConflictError(NewConflictError("busy", nil)))
	assert.True(t, IsProcessError(NewProcessError("died", nil)))
	assert.True(t, IsTimeoutError(NewTimeoutError("slow", nil)))

	assert.False(t, IsNotFoundError(NewValidationError("bad", nil)))
	assert.False(t, IsNotFoundError(stderrors.New("plain")))
	assert.False(t, IsNotFoundError(nil))
}

func TestDomainError_TypeCheckThroughWrapping(t *testing.T) {
	inner := NewNotFoundError("unknown service", nil)
	wrapped := fmt.Errorf("handling request: %w", inner)

	assert.True(t, IsNotFoundError(wrapped))
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewProcessError("spawn failed", nil).
		WithContext("service", "web_server").
		WithContext("pid", 1234)

	assert.Equal(t, "web_server", err.Context["service"])
	assert.Equal(t, 1234, err.Context["pid"])
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.NoError(t, collection.ToError())

	collection.Add(NewProcessError("one", nil))
	collection.Add(nil)
	collection.Add(NewProcessError("two", nil))

	require.True(t, collection.HasErrors())
	err := collection.ToError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one")
	assert.Contains(t, err.Error(), "two")
}
