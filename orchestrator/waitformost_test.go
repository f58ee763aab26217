package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errQuorumFailed = errors.New("quorum failed")

func fastOK(d time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func fastErr(d time.Duration, err error) func(context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TestWaitForMostThreeGoodTolerantOfOneSlow covers tolerance=1,
// multiplier=0: with 3 successes required down to 2, and no straggler
// grace period, WaitForMost returns as soon as need is met.
func TestWaitForMostThreeGoodTolerantOfOneSlow(t *testing.T) {
	tasks := []func(context.Context) error{
		fastOK(5 * time.Millisecond),
		fastOK(5 * time.Millisecond),
		fastOK(200 * time.Millisecond),
	}
	start := time.Now()
	err := WaitForMost(context.Background(), tasks, 1, errQuorumFailed, 0)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

// TestWaitForMostZeroToleranceWaitsForAll covers tolerance=0: every task
// must complete before success is declared.
func TestWaitForMostZeroToleranceWaitsForAll(t *testing.T) {
	tasks := []func(context.Context) error{
		fastOK(5 * time.Millisecond),
		fastOK(5 * time.Millisecond),
		fastOK(50 * time.Millisecond),
	}
	start := time.Now()
	err := WaitForMost(context.Background(), tasks, 0, errQuorumFailed, 0)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

// TestWaitForMostOneBadToleratedWithFaultTolerance covers tolerance=1
// with one failing task: quorum is still reached via the remaining
// successes.
func TestWaitForMostOneBadToleratedWithFaultTolerance(t *testing.T) {
	tasks := []func(context.Context) error{
		fastOK(5 * time.Millisecond),
		fastOK(5 * time.Millisecond),
		fastErr(5*time.Millisecond, errors.New("task failed")),
	}
	err := WaitForMost(context.Background(), tasks, 1, errQuorumFailed, 0)
	assert.NoError(t, err)
}

// TestWaitForMostOneBadFailsFastWithZeroTolerance covers tolerance=0 with
// one failing task: WaitForMost fails fast on the first failure rather
// than waiting for the rest.
func TestWaitForMostOneBadFailsFastWithZeroTolerance(t *testing.T) {
	tasks := []func(context.Context) error{
		fastErr(5*time.Millisecond, errors.New("task failed")),
		fastOK(200 * time.Millisecond),
		fastOK(200 * time.Millisecond),
	}
	start := time.Now()
	err := WaitForMost(context.Background(), tasks, 0, errQuorumFailed, 0)
	elapsed := time.Since(start)
	assert.Equal(t, errQuorumFailed, err)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func TestWaitForMostRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	neverReturns := func(context.Context) error {
		block := make(chan struct{})
		<-block // ignores ctx on purpose, simulating a wedged worker
		return nil
	}
	tasks := []func(context.Context) error{neverReturns, neverReturns}
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := WaitForMost(ctx, tasks, 0, errQuorumFailed, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
