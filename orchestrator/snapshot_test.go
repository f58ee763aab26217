package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kakaiu/datadistribution/errs"
)

func TestClassifySnapErr(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{errs.ErrSnapDisableTLogPopFailed, "disable_tlog_pop"},
		{errs.ErrSnapStorageFailed, "storage"},
		{errs.ErrSnapTLogFailed, "tlog"},
		{errs.ErrSnapEnableTLogPopFailed, "enable_tlog_pop"},
		{errs.ErrSnapCoordFailed, "coord"},
		{errs.ErrTimedOut, "timed_out"},
		{errors.New("something else"), "other"},
	}
	for _, c := range cases {
		assert.Equal(t, c.kind, classifySnapErr(c.err))
	}
}

type fakeWorkerRPC struct {
	failAddr string
	failErr  error
}

func (f *fakeWorkerRPC) DisablePop(ctx context.Context, addr string, snapUID uuid.UUID) error {
	return f.maybeFail(addr)
}
func (f *fakeWorkerRPC) EnablePop(ctx context.Context, addr string, snapUID uuid.UUID) error {
	return f.maybeFail(addr)
}
func (f *fakeWorkerRPC) Snap(ctx context.Context, kind, addr string, snapUID uuid.UUID) error {
	return f.maybeFail(addr)
}
func (f *fakeWorkerRPC) maybeFail(addr string) error {
	if f.failAddr != "" && addr == f.failAddr {
		return f.failErr
	}
	return nil
}

func TestSnapTasksInvokeSnapWithKindAndAddr(t *testing.T) {
	w := &fakeWorkerRPC{}
	tasks := snapTasks(w, "storage", []string{"a:1", "b:2"}, uuid.New())
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.NoError(t, task(context.Background()))
	}
}

func TestFanOutAllSucceedsWhenEveryWorkerSucceeds(t *testing.T) {
	s := &SnapshotCoordinator{Workers: &fakeWorkerRPC{}}
	err := s.fanOutAll(context.Background(), []string{"a:1", "b:2", "c:3"}, func(ctx context.Context, addr string) error {
		return s.Workers.DisablePop(ctx, addr, uuid.Nil)
	})
	assert.NoError(t, err)
}

func TestFanOutAllFailsIfAnyWorkerFails(t *testing.T) {
	fake := &fakeWorkerRPC{failAddr: "b:2", failErr: errors.New("down")}
	s := &SnapshotCoordinator{Workers: fake}
	err := s.fanOutAll(context.Background(), []string{"a:1", "b:2", "c:3"}, func(ctx context.Context, addr string) error {
		return s.Workers.DisablePop(ctx, addr, uuid.Nil)
	})
	assert.Error(t, err)
}
