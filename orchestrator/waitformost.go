package orchestrator

import (
	"context"
	"time"
)

// WaitForMost is the quorum-with-stragglers primitive of spec §4.5: it
// succeeds once n-faultTolerance tasks have completed without error,
// fails fast once more than faultTolerance have failed, and otherwise
// gives the remaining stragglers up to elapsed*slowMultiplier extra time
// without letting them affect the outcome.
//
// Grounded on the errgroup-style fan-out used across the example pack for
// "run N things, tolerate some failures" (e.g. QuangTung97-sm's worker
// dispatch), generalized with the straggler-timeout phase spec §4.5
// requires and none of the pack's fan-out helpers implement.
func WaitForMost(ctx context.Context, tasks []func(context.Context) error, faultTolerance int, onQuorumFailure error, slowMultiplier float64) error {
	n := len(tasks)
	need := n - faultTolerance
	if need < 0 {
		need = 0
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, n)
	for _, t := range tasks {
		t := t
		go func() { results <- t(taskCtx) }()
	}

	start := time.Now()
	successes, failures := 0, 0
	for successes+failures < n && successes < need {
		select {
		case err := <-results:
			if err == nil {
				successes++
			} else {
				failures++
				if failures > faultTolerance {
					return onQuorumFailure
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if successes < need {
		return onQuorumFailure
	}

	if slowMultiplier <= 0 {
		return nil
	}
	remaining := n - successes - failures
	if remaining <= 0 {
		return nil
	}
	stragglerTimeout := time.Duration(float64(time.Since(start)) * slowMultiplier)
	timer := time.NewTimer(stragglerTimeout)
	defer timer.Stop()
	for remaining > 0 {
		select {
		case <-results:
			remaining--
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
