package orchestrator

import (
	"context"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"

	"github.com/kakaiu/datadistribution/internal/config"
	"github.com/kakaiu/datadistribution/internal/glog"
	"github.com/kakaiu/datadistribution/systemkeys"
)

// CacheServerFailureWatcher is a single cache-server's waitFailure
// endpoint, the out-of-scope tenant-cache collaborator's interface DD
// depends on only for its failure signal (spec §4.5).
type CacheServerFailureWatcher func(ctx context.Context, serverID string) error

// CacheWatcher watches the storageCacheServers keyspace: every new entry
// gets a per-entry watcher that clears its key transactionally once the
// cache server reports failure; the known set is reconciled on a fixed
// interval (spec §4.5: "known-set is reconciled every 5s").
type CacheWatcher struct {
	Client      *systemkeys.Client
	Config      *config.Proxy
	WaitFailure CacheServerFailureWatcher

	cancelByID map[string]context.CancelFunc
}

// Run blocks reconciling the known set until ctx is cancelled.
func (w *CacheWatcher) Run(ctx context.Context) {
	if w.cancelByID == nil {
		w.cancelByID = map[string]context.CancelFunc{}
	}
	interval := w.Config.GetDuration("cache.watch_reconcile_interval")
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.reconcile(ctx)
		select {
		case <-ctx.Done():
			for _, cancel := range w.cancelByID {
				cancel()
			}
			return
		case <-ticker.C:
		}
	}
}

func (w *CacheWatcher) reconcile(ctx context.Context) {
	result, err := w.Client.ReadTransact(func(tr fdb.ReadTransaction) (interface{}, error) {
		return tr.GetRange(w.Client.StorageCacheServersRange(), fdb.RangeOptions{}).GetSliceWithError()
	})
	if err != nil {
		glog.Warningf("cache watcher: reconcile scan failed: %v", err)
		return
	}
	kvs := result.([]fdb.KeyValue)

	seen := map[string]bool{}
	for _, kv := range kvs {
		id, unpackErr := w.Client.UnpackServerID(kv.Key)
		if unpackErr != nil {
			glog.Warningf("cache watcher: unpacking cache server key: %v", unpackErr)
			continue
		}
		seen[id] = true
		if _, ok := w.cancelByID[id]; ok {
			continue
		}
		watchCtx, cancel := context.WithCancel(ctx)
		w.cancelByID[id] = cancel
		go w.watchOne(watchCtx, id)
	}

	for id, cancel := range w.cancelByID {
		if !seen[id] {
			cancel()
			delete(w.cancelByID, id)
		}
	}
}

func (w *CacheWatcher) watchOne(ctx context.Context, serverID string) {
	if err := w.WaitFailure(ctx, serverID); err != nil {
		if ctx.Err() != nil {
			return // watcher cancelled, not a real failure
		}
		glog.Warningf("cache watcher: waitFailure for %s errored: %v", serverID, err)
		return
	}
	_, err := w.Client.Transact(func(tr fdb.Transaction) (interface{}, error) {
		tr.Clear(w.Client.StorageCacheServerKey(serverID))
		return nil, nil
	})
	if err != nil {
		glog.Warningf("cache watcher: clearing failed cache server %s: %v", serverID, err)
	}
}
