package systemkeys

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryLoopReturnsNilOnFirstSuccess(t *testing.T) {
	calls := 0
	err := RetryLoop(context.Background(), func(error) bool { return true }, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryLoopStopsImmediatelyOnNonRetryableError(t *testing.T) {
	permanent := errors.New("not_found")
	calls := 0
	err := RetryLoop(context.Background(), func(error) bool { return false }, func() error {
		calls++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryLoopRetriesUntilSuccess(t *testing.T) {
	transient := errors.New("conflict")
	calls := 0
	err := RetryLoop(context.Background(), func(error) bool { return true }, func() error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryLoopRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transient := errors.New("conflict")
	err := RetryLoop(ctx, func(error) bool { return true }, func() error {
		return transient
	})
	require.Error(t, err)
}
