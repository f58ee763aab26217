package orchestrator

import (
	"context"
	"math/rand"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/google/uuid"

	"github.com/kakaiu/datadistribution/distribution"
	"github.com/kakaiu/datadistribution/errs"
	"github.com/kakaiu/datadistribution/internal/cell"
	"github.com/kakaiu/datadistribution/internal/config"
	"github.com/kakaiu/datadistribution/internal/glog"
	"github.com/kakaiu/datadistribution/internal/metrics"
	"github.com/kakaiu/datadistribution/lock"
	"github.com/kakaiu/datadistribution/shardmap"
	"github.com/kakaiu/datadistribution/systemkeys"
	"github.com/kakaiu/datadistribution/wiggler"
)

// RelocationPriority mirrors the priority band a relocation is enqueued
// at (spec §4.5 step 5).
type RelocationPriority int

const (
	PriorityRecoverMove RelocationPriority = iota
	PriorityTeamUnhealthy
)

// Relocation is one entry on the orchestrator's output stream: a shard
// range that some collaborator (out of scope; represented here by the
// Relocations channel consumer) must plan and execute a move for (spec
// §4.5 steps 5-6).
type Relocation struct {
	Range      distribution.KeyRange
	Priority   RelocationPriority
	MoveID     uuid.UUID // uuid.Nil for a freshly recovered untracked move
	DestTeams  []distribution.Team
	Cancelling bool
}

// Orchestrator is the DD top-level supervisory loop (spec §2 component 5,
// §4.5).
type Orchestrator struct {
	Client      *systemkeys.Client
	Config      *config.Proxy
	DDID        uuid.UUID
	Enabled     *EnabledState
	Relocations chan Relocation

	// ShardEncodeLocationMetadata gates the loader's post-Phase-B
	// cross-check, mirrored here since the orchestrator decides whether
	// cancelled-but-not-cross-checked moves get a cancelling relocation
	// too (spec §4.5 step 6).
	ShardEncodeLocationMetadata bool

	// Simulation selects the synchronous shard-map teardown path (spec
	// §4.5, §5: "synchronously under simulation to avoid use-after-free").
	Simulation bool

	trackerCancelled *cell.Cell[bool]
	tracker          *shardmap.Tracker
	wigglerPrimary   *wiggler.Wiggler
	wigglerRemote    *wiggler.Wiggler
	lastServers      []distribution.ServerInfo
}

// Servers returns the server list from the most recently loaded
// InitialDataDistribution snapshot, the data ExclusionChecker.Servers
// needs to translate exclusion addresses to server ids (spec §4.5).
func (o *Orchestrator) Servers() []distribution.ServerInfo {
	return o.lastServers
}

// WigglerPrimary returns the current epoch's primary-namespace wiggler, or
// nil before the first epoch completes loading or after teardown — the
// data storageWigglerState needs (spec §6), wired the same way Servers
// feeds ExclusionChecker.
func (o *Orchestrator) WigglerPrimary() *wiggler.Wiggler {
	return o.wigglerPrimary
}

// WigglerRemote is WigglerPrimary's remote-namespace counterpart.
func (o *Orchestrator) WigglerRemote() *wiggler.Wiggler {
	return o.wigglerRemote
}

// Run is the outer recovery loop: it repeatedly executes one inner-loop
// epoch, tearing down and restarting on any error in
// errs.IsNormalDDQueueError and propagating everything else (spec §4.5).
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		err := o.runEpoch(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}
		if !errs.IsNormalDDQueueError(err) {
			return err
		}
		glog.Warningf("orchestrator: restarting after collaborator-recoverable error: %v", err)
		metrics.RestartCounter.WithLabelValues(restartReason(err)).Inc()
		o.teardown(ctx)
	}
}

func restartReason(err error) string {
	switch err {
	case errs.ErrMoveKeysConflict:
		return "movekeys_conflict"
	case errs.ErrBrokenPromise:
		return "broken_promise"
	case errs.ErrDataMoveCancelled:
		return "data_move_cancelled"
	case errs.ErrDataMoveDestTeamNotFound:
		return "data_move_dest_team_not_found"
	default:
		return "other"
	}
}

// teardown flips trackerCancelled, drops collaborator references, and
// clears the shard map — asynchronously, except under simulation where
// it happens inline (spec §4.5, §5).
func (o *Orchestrator) teardown(ctx context.Context) {
	if o.trackerCancelled != nil {
		o.trackerCancelled.Set(true)
	}
	clearFn := func() {
		o.tracker = nil
		o.wigglerPrimary = nil
		o.wigglerRemote = nil
	}
	if o.Simulation {
		clearFn()
		return
	}
	go clearFn()
}

// Loader abstracts distribution.Loader.Load so tests can substitute a
// fake loader without pulling in an FDB cluster.
type Loader interface {
	Load(ctx context.Context) (*distribution.InitialDataDistribution, error)
}

// loaderFor, when set, supplies the Loader runEpoch uses; while it is nil
// (nothing in this module sets it) runEpoch builds a real
// *distribution.Loader.
var loaderFor func(o *Orchestrator, l lock.Lock) Loader

func (o *Orchestrator) runEpoch(ctx context.Context) error {
	l, err := lock.Take(o.Client, o.DDID)
	if err != nil {
		return err
	}

	storageTeamSize := o.Config.GetInt("dd.storage_team_size")

	if err := o.reconcileDatacenterReplicas(l, storageTeamSize); err != nil {
		return err
	}

	var ld Loader
	if loaderFor != nil {
		ld = loaderFor(o, l)
	} else {
		ld = &distribution.Loader{
			Client:                      o.Client,
			Lock:                        l,
			Config:                      o.Config,
			Enabled:                     o.Enabled.IsEnabled,
			ShardEncodeLocationMetadata: o.ShardEncodeLocationMetadata,
		}
	}

	idd, err := ld.Load(ctx)
	if err != nil {
		return err
	}
	if idd.Mode == 0 {
		glog.V(0).Infof("orchestrator: empty DD (mode=0), waiting for enable before retrying")
		return o.waitForEnabled(ctx)
	}

	metrics.ShardCount.Set(float64(len(idd.Shards)))
	metrics.InFlightMoves.Set(float64(len(idd.DataMoves)))

	o.lastServers = idd.AllServers
	o.trackerCancelled = cell.New(false)
	o.tracker = shardmap.Restore(nil, nil, idd.Shards)
	o.wigglerPrimary = wiggler.New(o.Config.GetString("wiggler.namespace.primary"))
	o.wigglerRemote = wiggler.New(o.Config.GetString("wiggler.namespace.remote"))
	now := time.Now()
	for _, s := range idd.AllServers {
		o.wigglerPrimary.AddServer(s.ID, distribution.StorageMetadata{CreationTime: now.UnixNano()}, now)
	}

	o.enqueueUntrackedMoves(idd, storageTeamSize)
	if err := o.enqueueDataMoveRecoveries(idd); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		lock.Poll(ctx, o.Client, l, o.Config.GetDuration("movekeys.lock_polling_delay"), func(pollErr error) {
			if pollErr == errs.ErrMoveKeysConflict {
				metrics.MoveKeysLockLost.Inc()
			}
			select {
			case errCh <- pollErr:
			default:
			}
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (o *Orchestrator) reconcileDatacenterReplicas(l lock.Lock, storageTeamSize int) error {
	_, err := o.Client.Transact(func(tr fdb.Transaction) (interface{}, error) {
		if err := lock.CheckReadOnly(tr, o.Client, l); err != nil {
			return nil, err
		}
		kvs, err := tr.GetRange(o.Client.DataCenterReplicasRange(), fdb.RangeOptions{}).GetSliceWithError()
		if err != nil {
			return nil, err
		}
		for _, kv := range kvs {
			count := decodeReplicaCount(kv.Value)
			if count > storageTeamSize {
				tr.Set(kv.Key, encodeReplicaCount(storageTeamSize))
			}
		}
		return nil, nil
	})
	return err
}

func decodeReplicaCount(raw []byte) int {
	if len(raw) != 4 {
		return 0
	}
	return int(uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24)
}

func encodeReplicaCount(n int) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

// enqueueUntrackedMoves is spec §4.5 step 5: shards with hasDest but no
// tracked move get a recovery relocation, upgraded to
// PriorityTeamUnhealthy when either src team's size differs from
// storageTeamSize.
func (o *Orchestrator) enqueueUntrackedMoves(idd *distribution.InitialDataDistribution, storageTeamSize int) {
	for _, shard := range idd.Shards {
		if !shard.HasDest || shard.DestID != distribution.AnonymousShardID {
			continue
		}
		priority := PriorityRecoverMove
		if len(shard.PrimarySrc.Servers) != storageTeamSize ||
			(shard.HasRemote && len(shard.RemoteSrc.Servers) != storageTeamSize) {
			priority = PriorityTeamUnhealthy
		}
		o.send(Relocation{Range: shard.Range, Priority: priority})
	}
}

// enqueueDataMoveRecoveries is spec §4.5 step 6.
func (o *Orchestrator) enqueueDataMoveRecoveries(idd *distribution.InitialDataDistribution) error {
	for _, dm := range idd.DataMoves {
		if dm.Cancelled || (dm.Valid && !o.ShardEncodeLocationMetadata) {
			o.send(Relocation{Range: dm.Range, Cancelling: true, MoveID: dm.ID})
			continue
		}
		if !dm.Valid {
			continue
		}
		dest := []distribution.Team{dm.PrimaryDest}
		if len(dm.RemoteDest.Servers) > 0 {
			dest = append(dest, dm.RemoteDest)
		}
		// A DataMove can cover more than one existing shard (e.g. during a
		// merge), so whatever is tracking this range's metrics must be
		// told to re-observe before the assignment underneath it changes
		// (spec §4.3, §4.5 step 6).
		o.tracker.RestartShardTracker(dm.Range)
		o.tracker.DefineShard(dm.Range)
		o.tracker.MoveShard(dm.Range, shardmap.Assignment{
			Primary: dm.PrimaryDest, Remote: dm.RemoteDest, HasRemote: len(dm.RemoteDest.Servers) > 0,
		})
		o.send(Relocation{Range: dm.Range, MoveID: dm.ID, DestTeams: dest, Priority: PriorityRecoverMove})
	}
	return nil
}

func (o *Orchestrator) send(r Relocation) {
	if o.Relocations == nil {
		return
	}
	select {
	case o.Relocations <- r:
	default:
		glog.Warningf("orchestrator: relocation stream full, dropping enqueue for range [%x,%x)", r.Range.Begin, r.Range.End)
	}
}

func (o *Orchestrator) waitForEnabled(ctx context.Context) error {
	delay := o.Config.GetDuration("dd.enabled_check_delay")
	if delay <= 0 {
		delay = time.Second
	}
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		if o.Enabled.IsEnabled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RemoveFailedServer implements spec §4.5's removeFailedServer handling:
// first removeKeysFromFailedServer (reassign any uniquely-owned ranges to
// a random healthy team), then removeStorageServer, both under the
// current lock.
func (o *Orchestrator) RemoveFailedServer(l lock.Lock, failed distribution.ServerID, healthyTeams []distribution.Team) error {
	if o.tracker != nil && len(healthyTeams) > 0 {
		failedTeam := distribution.NewTeam(failed)
		for _, r := range o.tracker.RangesForTeam(failedTeam) {
			replacement := healthyTeams[rand.Intn(len(healthyTeams))]
			o.tracker.MoveShard(r, shardmap.Assignment{Primary: replacement})
			o.send(Relocation{Range: r, DestTeams: []distribution.Team{replacement}, Priority: PriorityTeamUnhealthy})
		}
	}
	_, err := o.Client.Transact(func(tr fdb.Transaction) (interface{}, error) {
		if err := lock.CheckReadOnly(tr, o.Client, l); err != nil {
			return nil, err
		}
		tr.Clear(o.Client.ServerListKey(failed.String()))
		tr.Clear(o.Client.ServerTagKey(failed.String()))
		return nil, nil
	})
	if err != nil {
		return err
	}
	if o.wigglerPrimary != nil {
		o.wigglerPrimary.RemoveServer(failed)
	}
	if o.wigglerRemote != nil {
		o.wigglerRemote.RemoveServer(failed)
	}
	return nil
}
