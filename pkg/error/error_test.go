package error

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	err := NewError("CACHE_BACKEND", "save failed")
	assert.Equal(t, ErrorCode("CACHE_BACKEND"), err.Code)
	assert.Equal(t, "CACHE_BACKEND: save failed", err.Error())
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := WrapError(cause, "CACHE_BACKEND", "save failed")

	assert.Equal(t, "CACHE_BACKEND: save failed: disk full", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestErrorIs_ComparesCodes(t *testing.T) {
	err1 := NewError("SERVICE_NOT_FOUND", "service a")
	err2 := NewError("SERVICE_NOT_FOUND", "service b")
	other := NewError("FACTORY_FAILED", "boom")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, other))
}

func TestWithContext(t *testing.T) {
	err := NewError("CACHE_BACKEND", "save failed").
		WithContext("cache_key", "90d_prod").
		WithContext("attempt", 2)

	require.NotNil(t, err.Context)
	assert.Equal(t, "90d_prod", err.Context["cache_key"])
	assert.Equal(t, 2, err.Context["attempt"])
}
