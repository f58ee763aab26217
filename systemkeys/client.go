// Package systemkeys is DD's transactional client over the persisted
// system keyspace named in spec §6 (move-keys lock owner key,
// dataDistributionMode, healthyZone, datacenterReplicas, keyServers,
// serverList, serverTagKeys, dataMoveKeys, storageCacheServers,
// writeRecovery, snapshotEndVersion).
//
// It is grounded on weed/filer/foundationdb/foundationdb_store.go: the same
// fdb.Database/directory-subspace/tuple-packed-key idiom, generalized from a
// single filer keyspace to DD's several named sub-keyspaces.
package systemkeys

import (
	"context"
	"fmt"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/apple/foundationdb/bindings/go/src/fdb/directory"
	"github.com/apple/foundationdb/bindings/go/src/fdb/tuple"
	"github.com/cenkalti/backoff/v4"

	"github.com/kakaiu/datadistribution/internal/glog"
)

const (
	// DefaultAPIVersion mirrors the teacher's store.Initialize default.
	DefaultAPIVersion = 730

	subLock          = "lock"
	subMode          = "mode"
	subHealthyZone   = "healthy_zone"
	subDCReplicas    = "dc_replicas"
	subKeyServers    = "key_servers"
	subServerList    = "server_list"
	subServerTags    = "server_tags"
	subDataMove      = "data_move"
	subCacheServers  = "cache_servers"
	subWriteRecovery = "write_recovery"
	subSnapEndVer    = "snapshot_end_version"
)

// Client wraps an open FDB database plus the directory subspaces DD's
// system keys live under.
type Client struct {
	db  fdb.Database
	dir directory.DirectorySubspace
}

// Open mirrors FoundationDBStore.initialize: set the API version, open the
// database from clusterFile, and create/open DD's root directory.
func Open(clusterFile string, apiVersion int, rootDir string) (*Client, error) {
	if apiVersion == 0 {
		apiVersion = DefaultAPIVersion
	}
	if err := fdb.APIVersion(apiVersion); err != nil {
		return nil, fmt.Errorf("failed to set FoundationDB API version %d: %w", apiVersion, err)
	}
	db, err := fdb.OpenDatabase(clusterFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open FoundationDB database: %w", err)
	}
	if rootDir == "" {
		rootDir = "datadistribution"
	}
	dir, err := directory.CreateOrOpen(db, []string{rootDir}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/open %s directory: %w", rootDir, err)
	}
	glog.V(0).Infof("systemkeys: opened cluster file %s under directory %s", clusterFile, rootDir)
	return &Client{db: db, dir: dir}, nil
}

func (c *Client) key(sub string, parts ...interface{}) fdb.Key {
	t := tuple.Tuple{sub}
	t = append(t, parts...)
	return c.dir.Pack(t)
}

// LockOwnerKey is the MoveKeysLock owner key (§4.1, §6).
func (c *Client) LockOwnerKey() fdb.Key { return c.key(subLock) }

// ModeKey is dataDistributionMode (§4.2, §6); absent means mode=1.
func (c *Client) ModeKey() fdb.Key { return c.key(subMode) }

// HealthyZoneKey is the healthyZone override value+expiration marker.
func (c *Client) HealthyZoneKey() fdb.Key { return c.key(subHealthyZone) }

// DataCenterReplicasKey is the per-DC replica count (§6).
func (c *Client) DataCenterReplicasKey(dcID string) fdb.Key {
	return c.key(subDCReplicas, dcID)
}

// DataCenterReplicasRange returns the full range of datacenterReplicas keys.
func (c *Client) DataCenterReplicasRange() fdb.KeyRange {
	return c.prefixRange(subDCReplicas)
}

// KeyServersKey packs a keyServers row key at the given range-start key.
func (c *Client) KeyServersKey(rangeStart []byte) fdb.Key {
	return c.key(subKeyServers, rangeStart)
}

// KeyServersRange returns the full keyServers keyspace range.
func (c *Client) KeyServersRange() fdb.KeyRange {
	return c.prefixRange(subKeyServers)
}

// ServerListKey is a per-server interface blob (§6).
func (c *Client) ServerListKey(serverID string) fdb.Key {
	return c.key(subServerList, serverID)
}

// ServerListRange returns the full serverList keyspace range.
func (c *Client) ServerListRange() fdb.KeyRange {
	return c.prefixRange(subServerList)
}

// ServerTagKey is a server's serverTagKeys entry (process class, locality).
func (c *Client) ServerTagKey(serverID string) fdb.Key {
	return c.key(subServerTags, serverID)
}

// ServerTagRange returns the full serverTagKeys keyspace range.
func (c *Client) ServerTagRange() fdb.KeyRange {
	return c.prefixRange(subServerTags)
}

// DataMoveKey packs a dataMoveKeys row key at the given range-start key.
func (c *Client) DataMoveKey(rangeStart []byte) fdb.Key {
	return c.key(subDataMove, rangeStart)
}

// DataMoveRange returns the full dataMoveKeys keyspace range.
func (c *Client) DataMoveRange() fdb.KeyRange {
	return c.prefixRange(subDataMove)
}

// StorageCacheServerKey is a storageCacheServers entry.
func (c *Client) StorageCacheServerKey(serverID string) fdb.Key {
	return c.key(subCacheServers, serverID)
}

// StorageCacheServersRange returns the full storageCacheServers keyspace range.
func (c *Client) StorageCacheServersRange() fdb.KeyRange {
	return c.prefixRange(subCacheServers)
}

// WriteRecoveryKey is the snapshot protocol's writeRecovery flag (§4.5 a/g).
func (c *Client) WriteRecoveryKey() fdb.Key { return c.key(subWriteRecovery) }

// SnapshotEndVersionKey records the commit version at snapshot time.
func (c *Client) SnapshotEndVersionKey() fdb.Key { return c.key(subSnapEndVer) }

// UnpackRangeStart recovers the range-start []byte element packed into a
// keyServers or dataMoveKeys row key by KeyServersKey/DataMoveKey.
func (c *Client) UnpackRangeStart(key fdb.Key) ([]byte, error) {
	t, err := c.dir.Unpack(key)
	if err != nil {
		return nil, fmt.Errorf("systemkeys: unpacking range-start key: %w", err)
	}
	if len(t) < 2 {
		return nil, fmt.Errorf("systemkeys: key %q has no range-start element", key)
	}
	b, ok := t[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("systemkeys: key %q range-start element has type %T, want []byte", key, t[1])
	}
	return b, nil
}

// UnpackServerID recovers the server id string element packed into a
// serverList or serverTagKeys row key by ServerListKey/ServerTagKey.
func (c *Client) UnpackServerID(key fdb.Key) (string, error) {
	t, err := c.dir.Unpack(key)
	if err != nil {
		return "", fmt.Errorf("systemkeys: unpacking server id key: %w", err)
	}
	if len(t) < 2 {
		return "", fmt.Errorf("systemkeys: key %q has no server id element", key)
	}
	s, ok := t[1].(string)
	if !ok {
		return "", fmt.Errorf("systemkeys: key %q server id element has type %T, want string", key, t[1])
	}
	return s, nil
}

func (c *Client) prefixRange(sub string) fdb.KeyRange {
	pr, err := fdb.PrefixRange(c.dir.Pack(tuple.Tuple{sub}))
	if err != nil {
		// Pack never produces an invalid prefix for a bare tuple; this
		// mirrors the teacher's own un-recovered PrefixRange error path.
		panic(fmt.Sprintf("systemkeys: invalid prefix range for %s: %v", sub, err))
	}
	return pr
}

// Transact runs fn inside a single FDB transaction, committing on success.
func (c *Client) Transact(fn func(tr fdb.Transaction) (interface{}, error)) (interface{}, error) {
	return c.db.Transact(fn)
}

// ReadTransact runs fn inside a read-only FDB transaction.
func (c *Client) ReadTransact(fn func(tr fdb.ReadTransaction) (interface{}, error)) (interface{}, error) {
	return c.db.ReadTransact(fn)
}

// RetryLoop runs fn repeatedly, applying the transactional-retry zone's
// (§7) exponential-backoff policy to retryable errors via
// github.com/cenkalti/backoff/v4 — the same retry-with-backoff idiom the
// foundationdb store package and the rest of the pack use around
// transient transaction conflicts. fn must discard any partially
// accumulated local state before returning a retryable error, mirroring
// the loader's "succeeded" assertion in §4.2.
func RetryLoop(ctx context.Context, isRetryable func(error) bool, fn func() error) error {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(10*time.Millisecond),
		backoff.WithMaxInterval(1*time.Second),
	), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		glog.V(1).Infof("systemkeys: retrying after transient error: %v", err)
		return err
	}, policy)
}
