package orchestrator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/kakaiu/datadistribution/distribution"
)

type fakeTeamCollection struct {
	teamCount int
	safeIDs   map[uuid.UUID]bool
}

func (f *fakeTeamCollection) TeamCount() int { return f.teamCount }
func (f *fakeTeamCollection) ExclusionSafetyCheck(ids []distribution.ServerID) bool {
	for _, id := range ids {
		if !f.safeIDs[id] {
			return false
		}
	}
	return true
}

func TestCheckSafeFalseWithoutTeamCollection(t *testing.T) {
	c := &ExclusionChecker{Servers: func() []distribution.ServerInfo { return nil }}
	assert.False(t, c.CheckSafe([]string{"1.2.3.4:1"}))
}

func TestCheckSafeFalseWithSingleTeam(t *testing.T) {
	c := &ExclusionChecker{
		Servers:      func() []distribution.ServerInfo { return nil },
		PrimaryTeams: &fakeTeamCollection{teamCount: 1},
	}
	assert.False(t, c.CheckSafe([]string{"1.2.3.4:1"}))
}

func TestCheckSafeTranslatesAddressesToServerIDs(t *testing.T) {
	id := uuid.New()
	servers := []distribution.ServerInfo{
		{ID: id, PrimaryAddress: "1.2.3.4:1", SecondaryAddress: "1.2.3.4:2"},
	}
	c := &ExclusionChecker{
		Servers: func() []distribution.ServerInfo { return servers },
		PrimaryTeams: &fakeTeamCollection{
			teamCount: 3,
			safeIDs:   map[uuid.UUID]bool{id: true},
		},
	}
	assert.True(t, c.CheckSafe([]string{"1.2.3.4:2"}))
}

func TestCheckSafeDelegatesFailureFromTeamCollection(t *testing.T) {
	id := uuid.New()
	servers := []distribution.ServerInfo{{ID: id, PrimaryAddress: "1.2.3.4:1"}}
	c := &ExclusionChecker{
		Servers: func() []distribution.ServerInfo { return servers },
		PrimaryTeams: &fakeTeamCollection{
			teamCount: 3,
			safeIDs:   map[uuid.UUID]bool{},
		},
	}
	assert.False(t, c.CheckSafe([]string{"1.2.3.4:1"}))
}
