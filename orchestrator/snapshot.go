// Package orchestrator is the DD top-level supervisory loop (spec §4.5):
// the outer recovery loop, inner steady-state loop, snapshot protocol,
// exclusion safety check, cache-server watcher, and ddGetMetrics.
//
// Grounded on weed/server/master_grpc_server.go's top-level gRPC service
// loop (lock-guarded state, fan-out RPCs to worker nodes, structured
// error replies) generalized from SeaweedFS's volume/master relationship
// to DD's orchestrator/tlog+storage+coordinator-worker relationship.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/google/uuid"

	"github.com/kakaiu/datadistribution/errs"
	"github.com/kakaiu/datadistribution/internal/config"
	"github.com/kakaiu/datadistribution/internal/glog"
	"github.com/kakaiu/datadistribution/internal/metrics"
	"github.com/kakaiu/datadistribution/systemkeys"
)

// WorkerRPC is the outbound snapshot-control surface DD drives against
// transaction-log, storage, and coordinator workers (spec §4.5 b-f). A
// concrete implementation lives in rpcsvc, kept as an interface here so
// orchestrator never imports the transport package (rpcsvc imports
// orchestrator instead, to invoke CreateSnapshot from the inbound RPC
// handler).
type WorkerRPC interface {
	DisablePop(ctx context.Context, addr string, snapUID uuid.UUID) error
	EnablePop(ctx context.Context, addr string, snapUID uuid.UUID) error
	Snap(ctx context.Context, kind, addr string, snapUID uuid.UUID) error
}

// SnapshotCoordinator drives ddSnapCreate (spec §4.5).
type SnapshotCoordinator struct {
	Enabled *EnabledState
	Client  *systemkeys.Client
	Config  *config.Proxy
	Workers WorkerRPC

	ListTLogWorkers    func() []string
	ListStorageWorkers func() []string
	ListCoordinators   func() []string
	FailedStorageCount func() int
	StorageTeamSize    func() int
	Simulation         bool
}

// CreateSnapshot runs the full snapshot protocol for snapUID (spec §4.5
// steps a-g), enforcing the outer SNAP_CREATE_MAX_TIMEOUT / simulation
// timeout and guaranteeing DDEnabledState is restored to Enabled on every
// exit path including cancellation.
func (s *SnapshotCoordinator) CreateSnapshot(ctx context.Context, snapUID uuid.UUID) error {
	if !s.Enabled.DisableBySnapshot(snapUID) {
		return errs.ErrOperationFailed
	}
	defer s.Enabled.RestoreEnabled()

	timeoutKey := "snapshot.create_max_timeout"
	if s.Simulation {
		timeoutKey = "snapshot.create_max_timeout_simulation"
	}
	timeout := s.Config.GetDuration(timeoutKey)
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := s.runProtocol(ctx, snapUID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errs.ErrTimedOut
		}
		metrics.SnapshotFailures.WithLabelValues(classifySnapErr(err)).Inc()
		glog.Warningf("ddSnapCreate %s failed: %v", snapUID, err)
		return err
	}
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	return nil
}

func classifySnapErr(err error) string {
	switch err {
	case errs.ErrSnapDisableTLogPopFailed:
		return "disable_tlog_pop"
	case errs.ErrSnapStorageFailed:
		return "storage"
	case errs.ErrSnapTLogFailed:
		return "tlog"
	case errs.ErrSnapEnableTLogPopFailed:
		return "enable_tlog_pop"
	case errs.ErrSnapCoordFailed:
		return "coord"
	case errs.ErrTimedOut:
		return "timed_out"
	default:
		return "other"
	}
}

func (s *SnapshotCoordinator) runProtocol(ctx context.Context, snapUID uuid.UUID) error {
	tlogs := s.ListTLogWorkers()

	// a. Set writeRecovery.
	if err := s.setWriteRecovery(ctx, true); err != nil {
		return err
	}

	// b. disablePop on every tlog; all must succeed.
	if err := s.fanOutAll(ctx, tlogs, func(c context.Context, addr string) error {
		return s.Workers.DisablePop(c, addr, snapUID)
	}); err != nil {
		s.reenablePopsBestEffort(context.Background(), tlogs, snapUID)
		return errs.ErrSnapDisableTLogPopFailed
	}

	// c. snap storage workers with bounded fault tolerance.
	storage := s.ListStorageWorkers()
	teamSize := 3
	if s.StorageTeamSize != nil {
		teamSize = s.StorageTeamSize()
	}
	faultTolerance := s.Config.GetInt("snapshot.max_storage_fault_tolerance")
	if teamSize-1 < faultTolerance {
		faultTolerance = teamSize - 1
	}
	if s.FailedStorageCount != nil {
		faultTolerance -= s.FailedStorageCount()
	}
	if faultTolerance < 0 {
		s.reenablePopsBestEffort(context.Background(), tlogs, snapUID)
		return errs.ErrSnapStorageFailed
	}
	storageTasks := snapTasks(s.Workers, "storage", storage, snapUID)
	slowMultiplier := s.Config.GetFloat64("snapshot.wait_for_most_slow_multiplier")
	if err := WaitForMost(ctx, storageTasks, faultTolerance, errs.ErrSnapStorageFailed, slowMultiplier); err != nil {
		s.reenablePopsBestEffort(context.Background(), tlogs, snapUID)
		return err
	}

	// d. snap every tlog; all must succeed.
	if err := s.fanOutAll(ctx, tlogs, func(c context.Context, addr string) error {
		return s.Workers.Snap(c, "tlog", addr, snapUID)
	}); err != nil {
		s.reenablePopsBestEffort(context.Background(), tlogs, snapUID)
		return errs.ErrSnapTLogFailed
	}

	// e. enablePop on every tlog; all must succeed.
	if err := s.fanOutAll(ctx, tlogs, func(c context.Context, addr string) error {
		return s.Workers.EnablePop(c, addr, snapUID)
	}); err != nil {
		return errs.ErrSnapEnableTLogPopFailed
	}

	// f. snap coordinators with fault tolerance min(max(0,n/2-1), MAX_COORD).
	coords := s.ListCoordinators()
	coordFaultTolerance := len(coords)/2 - 1
	if coordFaultTolerance < 0 {
		coordFaultTolerance = 0
	}
	maxCoord := s.Config.GetInt("snapshot.max_coordinator_fault_tolerance")
	if coordFaultTolerance > maxCoord {
		coordFaultTolerance = maxCoord
	}
	coordTasks := snapTasks(s.Workers, "coord", coords, snapUID)
	if err := WaitForMost(ctx, coordTasks, coordFaultTolerance, errs.ErrSnapCoordFailed, slowMultiplier); err != nil {
		return err
	}

	// g. clear writeRecovery.
	return s.setWriteRecovery(ctx, false)
}

func snapTasks(w WorkerRPC, kind string, addrs []string, snapUID uuid.UUID) []func(context.Context) error {
	tasks := make([]func(context.Context) error, len(addrs))
	for i, addr := range addrs {
		addr := addr
		tasks[i] = func(c context.Context) error { return w.Snap(c, kind, addr, snapUID) }
	}
	return tasks
}

func (s *SnapshotCoordinator) fanOutAll(ctx context.Context, addrs []string, call func(context.Context, string) error) error {
	tasks := make([]func(context.Context) error, len(addrs))
	for i, addr := range addrs {
		addr := addr
		tasks[i] = func(c context.Context) error { return call(c, addr) }
	}
	return WaitForMost(ctx, tasks, 0, errs.ErrOperationFailed, 0)
}

func (s *SnapshotCoordinator) reenablePopsBestEffort(ctx context.Context, tlogs []string, snapUID uuid.UUID) {
	for _, addr := range tlogs {
		if err := s.Workers.EnablePop(ctx, addr, snapUID); err != nil {
			glog.Warningf("ddSnapCreate %s: best-effort re-enable pop on %s failed: %v", snapUID, addr, err)
		}
	}
}

func (s *SnapshotCoordinator) setWriteRecovery(ctx context.Context, on bool) error {
	_, err := s.Client.Transact(func(tr fdb.Transaction) (interface{}, error) {
		if on {
			tr.Set(s.Client.WriteRecoveryKey(), []byte{1})
		} else {
			tr.Clear(s.Client.WriteRecoveryKey())
		}
		return nil, nil
	})
	return err
}
