package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNormalDDQueueError(t *testing.T) {
	assert.True(t, IsNormalDDQueueError(ErrMoveKeysConflict))
	assert.True(t, IsNormalDDQueueError(fmt.Errorf("wrapped: %w", ErrBrokenPromise)))
	assert.False(t, IsNormalDDQueueError(ErrTimedOut))
	assert.False(t, IsNormalDDQueueError(errors.New("unrelated")))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrActorCancelled))
	assert.False(t, IsRetryable(ErrMoveKeysConflict))
	assert.True(t, IsRetryable(ErrTimedOut))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("transient fdb error")))
}
