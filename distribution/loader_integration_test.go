//go:build foundationdb
// +build foundationdb

package distribution

import (
	"context"
	"os"
	"testing"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kakaiu/datadistribution/internal/config"
	"github.com/kakaiu/datadistribution/lock"
	"github.com/kakaiu/datadistribution/systemkeys"
)

// Requires a running FoundationDB cluster reachable via FDB_CLUSTER_FILE,
// mirroring weed/test/foundationdb's `foundationdb` build-tag convention
// for tests that need a live database rather than a mock.
func openTestClient(t *testing.T) *systemkeys.Client {
	clusterFile := os.Getenv("FDB_CLUSTER_FILE")
	if clusterFile == "" {
		t.Skip("FDB_CLUSTER_FILE not set, skipping live FoundationDB test")
	}
	client, err := systemkeys.Open(clusterFile, 0, "datadistribution_loader_test")
	require.NoError(t, err)
	return client
}

func TestLoadReturnsEmptySnapshotWhenModeIsZero(t *testing.T) {
	client := openTestClient(t)
	_, err := client.Transact(func(tr fdb.Transaction) (interface{}, error) {
		tr.Set(client.ModeKey(), []byte{0, 0, 0, 0})
		return nil, nil
	})
	require.NoError(t, err)

	l, err := lock.Take(client, uuid.New())
	require.NoError(t, err)

	ld := &Loader{Client: client, Lock: l, Config: config.Get(), Enabled: func() bool { return true }}
	idd, err := ld.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, idd.Mode)
	require.Empty(t, idd.Shards)
}
