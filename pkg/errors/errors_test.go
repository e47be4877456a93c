package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodesMatchByIs(t *testing.T) {
	err := Newf(ErrCodeCacheCapacity, "payload of %d bytes exceeds layer capacity", 1<<30)
	assert.True(t, IsCapacity(err))
	assert.False(t, IsInvalidPattern(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrCodeStoreWrite, "writing chunk payload", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "STORE_WRITE")
	assert.Contains(t, err.Error(), "disk full")
}

func TestWrappedSentinelSurvivesFmtErrorf(t *testing.T) {
	inner := New(ErrCodeInvalidPattern, "unterminated group")
	outer := fmt.Errorf("invalidate: %w", inner)
	assert.True(t, IsInvalidPattern(outer))
}

func TestCategoryAssignment(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeCacheCapacity, CategoryResource},
		{ErrCodeUnsizedValue, CategoryResource},
		{ErrCodeInvalidPattern, CategoryInput},
		{ErrCodeFetchFailed, CategoryTransport},
		{ErrCodeStoreCorrupt, CategoryPersistence},
		{ErrCodeClosed, CategoryState},
		{ErrCodeInternalError, CategoryInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, New(tt.code, "x").Category, "code %s", tt.code)
	}
}

func TestComponentTagging(t *testing.T) {
	err := New(ErrCodeFetchFailed, "GET /chunks/3_1_0 returned 503").
		WithComponent("streamer").
		WithContext("chunk", "3_1_0")

	assert.Contains(t, err.Error(), "[streamer]")
	assert.Equal(t, "3_1_0", err.Context["chunk"])
	assert.True(t, err.Retryable)
}
