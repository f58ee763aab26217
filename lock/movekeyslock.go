// Package lock implements MoveKeysLock (spec §4.1): the cluster-wide
// single-writer token that every DD instance must take before mutating
// shard placement and revalidate before every write.
//
// Grounded on weed/wdclient/exclusive_locks/exclusive_locker.go (token +
// timestamp pair, request/renew/release lifecycle) and
// weed/cluster/lock_manager/lock_manager.go (owner/token compare-and-set,
// sentinel errors for lock-state violations).
package lock

import (
	"context"
	"time"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/google/uuid"

	"github.com/kakaiu/datadistribution/errs"
	"github.com/kakaiu/datadistribution/internal/glog"
	"github.com/kakaiu/datadistribution/systemkeys"
)

// Lock is the value returned by Take: the owner id DD believes is
// currently live, established at Take time.
type Lock struct {
	PrevOwner uuid.UUID
	NewOwner  uuid.UUID
}

// NewOwnerID mints a fresh lock owner id, analogous to the renew token
// minted by lock_manager.Lock.
func NewOwnerID() uuid.UUID {
	return uuid.New()
}

// Take transactionally reads the current owner, writes ddID as the new
// owner, and returns both (spec §4.1).
func Take(client *systemkeys.Client, ddID uuid.UUID) (Lock, error) {
	result, err := client.Transact(func(tr fdb.Transaction) (interface{}, error) {
		prev, readErr := readOwnerTxn(tr, client)
		if readErr != nil {
			return nil, readErr
		}
		tr.Set(client.LockOwnerKey(), ddID[:])
		return prev, nil
	})
	if err != nil {
		return Lock{}, err
	}
	prev, _ := result.(uuid.UUID)
	glog.V(0).Infof("movekeys lock: %s took lock from %s", ddID, prev)
	return Lock{PrevOwner: prev, NewOwner: ddID}, nil
}

// CheckReadOnly reads the owner within tr and fails with
// errs.ErrMoveKeysConflict if it has changed since l.NewOwner took it
// (spec §4.1).
func CheckReadOnly(tr fdb.Transaction, client *systemkeys.Client, l Lock) error {
	owner, err := readOwnerTxn(tr, client)
	if err != nil {
		return err
	}
	if owner != l.NewOwner {
		return errs.ErrMoveKeysConflict
	}
	return nil
}

func readOwnerTxn(tr fdb.Transaction, client *systemkeys.Client) (uuid.UUID, error) {
	raw, err := tr.Get(client.LockOwnerKey()).Get()
	if err != nil {
		return uuid.UUID{}, err
	}
	return decodeOwner(raw), nil
}

func decodeOwner(raw []byte) uuid.UUID {
	var id uuid.UUID
	if len(raw) == len(id) {
		copy(id[:], raw)
	}
	return id
}

// Poll is the periodic background task of spec §4.1: every interval, read
// the owner key in a read-only transaction and compare it against
// l.NewOwner, the same check CheckReadOnly makes; on failure, invoke
// onLost (which the orchestrator wires to terminate the owning DD
// instance) and stop polling.
func Poll(ctx context.Context, client *systemkeys.Client, l Lock, interval time.Duration, onLost func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := client.ReadTransact(func(tr fdb.ReadTransaction) (interface{}, error) {
				raw, getErr := tr.Get(client.LockOwnerKey()).Get()
				if getErr != nil {
					return nil, getErr
				}
				if decodeOwner(raw) != l.NewOwner {
					return nil, errs.ErrMoveKeysConflict
				}
				return nil, nil
			})
			if err != nil {
				glog.Warningf("movekeys lock: poll failed for owner %s: %v", l.NewOwner, err)
				onLost(err)
				return
			}
		}
	}
}
