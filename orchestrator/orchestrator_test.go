package orchestrator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kakaiu/datadistribution/distribution"
	"github.com/kakaiu/datadistribution/errs"
	"github.com/kakaiu/datadistribution/shardmap"
)

func sidFor(n byte) distribution.ServerID {
	var id distribution.ServerID
	id[0] = n
	return id
}

func TestEncodeDecodeReplicaCountRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 3, 255, 1 << 20} {
		assert.Equal(t, n, decodeReplicaCount(encodeReplicaCount(n)))
	}
}

func TestDecodeReplicaCountRejectsWrongLength(t *testing.T) {
	assert.Equal(t, 0, decodeReplicaCount(nil))
	assert.Equal(t, 0, decodeReplicaCount([]byte{1, 2, 3}))
}

func TestRestartReasonMapsKnownErrors(t *testing.T) {
	assert.Equal(t, "movekeys_conflict", restartReason(errs.ErrMoveKeysConflict))
	assert.Equal(t, "broken_promise", restartReason(errs.ErrBrokenPromise))
	assert.Equal(t, "data_move_cancelled", restartReason(errs.ErrDataMoveCancelled))
	assert.Equal(t, "data_move_dest_team_not_found", restartReason(errs.ErrDataMoveDestTeamNotFound))
	assert.Equal(t, "other", restartReason(errs.ErrOperationFailed))
}

func TestSendDropsSilentlyWithNilChannel(t *testing.T) {
	o := &Orchestrator{}
	o.send(Relocation{})
}

func TestSendDropsWhenChannelFull(t *testing.T) {
	o := &Orchestrator{Relocations: make(chan Relocation, 1)}
	o.send(Relocation{Priority: PriorityRecoverMove})
	o.send(Relocation{Priority: PriorityTeamUnhealthy})

	require.Len(t, o.Relocations, 1)
	assert.Equal(t, PriorityRecoverMove, (<-o.Relocations).Priority)
}

func TestEnqueueUntrackedMovesSkipsTrackedShards(t *testing.T) {
	o := &Orchestrator{Relocations: make(chan Relocation, 8)}
	idd := &distribution.InitialDataDistribution{
		Shards: []distribution.DDShardInfo{
			{HasDest: true, DestID: uuid.New()}, // already has a tracked move
		},
	}
	o.enqueueUntrackedMoves(idd, 3)
	assert.Empty(t, o.Relocations)
}

func TestEnqueueUntrackedMovesUpgradesPriorityWhenTeamShort(t *testing.T) {
	o := &Orchestrator{Relocations: make(chan Relocation, 8)}
	idd := &distribution.InitialDataDistribution{
		Shards: []distribution.DDShardInfo{
			{
				HasDest:    true,
				DestID:     distribution.AnonymousShardID,
				PrimarySrc: distribution.NewTeam(sidFor(1), sidFor(2)), // only 2, short of team size 3
			},
		},
	}
	o.enqueueUntrackedMoves(idd, 3)
	require.Len(t, o.Relocations, 1)
	assert.Equal(t, PriorityTeamUnhealthy, (<-o.Relocations).Priority)
}

func TestEnqueueUntrackedMovesNormalPriorityWhenTeamFull(t *testing.T) {
	o := &Orchestrator{Relocations: make(chan Relocation, 8)}
	idd := &distribution.InitialDataDistribution{
		Shards: []distribution.DDShardInfo{
			{
				HasDest:    true,
				DestID:     distribution.AnonymousShardID,
				PrimarySrc: distribution.NewTeam(sidFor(1), sidFor(2), sidFor(3)),
			},
		},
	}
	o.enqueueUntrackedMoves(idd, 3)
	require.Len(t, o.Relocations, 1)
	assert.Equal(t, PriorityRecoverMove, (<-o.Relocations).Priority)
}

func TestEnqueueDataMoveRecoveriesCancelsCancelledMoves(t *testing.T) {
	o := &Orchestrator{Relocations: make(chan Relocation, 8)}
	moveID := uuid.New()
	idd := &distribution.InitialDataDistribution{
		DataMoves: map[uuid.UUID]*distribution.DataMove{
			moveID: {ID: moveID, Cancelled: true},
		},
	}
	require.NoError(t, o.enqueueDataMoveRecoveries(idd))
	require.Len(t, o.Relocations, 1)
	r := <-o.Relocations
	assert.True(t, r.Cancelling)
	assert.Equal(t, moveID, r.MoveID)
}

func TestEnqueueDataMoveRecoveriesSkipsInvalidUncancelledMoves(t *testing.T) {
	o := &Orchestrator{Relocations: make(chan Relocation, 8)}
	moveID := uuid.New()
	idd := &distribution.InitialDataDistribution{
		DataMoves: map[uuid.UUID]*distribution.DataMove{
			moveID: {ID: moveID, Valid: false, Cancelled: false},
		},
	}
	require.NoError(t, o.enqueueDataMoveRecoveries(idd))
	assert.Empty(t, o.Relocations)
}

func TestEnqueueDataMoveRecoveriesRecoversValidMoveAndUpdatesTracker(t *testing.T) {
	o := &Orchestrator{
		Relocations: make(chan Relocation, 8),
		tracker:     shardmap.Restore(nil, nil, nil),
	}
	var restarted distribution.KeyRange
	o.tracker.OnRestartTracker = func(r distribution.KeyRange) { restarted = r }

	moveID := uuid.New()
	primaryDest := distribution.NewTeam(sidFor(1), sidFor(2))
	moveRange := distribution.KeyRange{Begin: []byte("a"), End: []byte("b")}
	idd := &distribution.InitialDataDistribution{
		DataMoves: map[uuid.UUID]*distribution.DataMove{
			moveID: {
				ID:          moveID,
				Range:       moveRange,
				Valid:       true,
				PrimaryDest: primaryDest,
			},
		},
	}
	require.NoError(t, o.enqueueDataMoveRecoveries(idd))
	require.Len(t, o.Relocations, 1)
	r := <-o.Relocations
	assert.False(t, r.Cancelling)
	assert.Equal(t, moveID, r.MoveID)
	require.Len(t, r.DestTeams, 1)
	assert.Equal(t, primaryDest, r.DestTeams[0])
	assert.Equal(t, moveRange, restarted)
}
