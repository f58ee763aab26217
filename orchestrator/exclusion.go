package orchestrator

import (
	"github.com/kakaiu/datadistribution/distribution"
)

// TeamCollection is the subset of the (out-of-scope, per spec §1) team
// collection's interface DD's exclusion check depends on.
type TeamCollection interface {
	ExclusionSafetyCheck(serverIDs []distribution.ServerID) bool
	TeamCount() int
}

// ExclusionChecker answers distributorExclCheckReq (spec §4.5, §6).
type ExclusionChecker struct {
	Servers      func() []distribution.ServerInfo
	PrimaryTeams TeamCollection // nil if no team collection exists yet
}

// CheckSafe translates address exclusions to server ids by matching
// primary-or-secondary address against the current server list, then
// delegates to the team collection's own exclusion-safety check. It
// returns false outright if no team collection exists yet or there is
// <=1 team overall (spec §4.5).
func (c *ExclusionChecker) CheckSafe(addresses []string) bool {
	if c.PrimaryTeams == nil || c.PrimaryTeams.TeamCount() <= 1 {
		return false
	}

	want := make(map[string]bool, len(addresses))
	for _, a := range addresses {
		want[a] = true
	}

	var ids []distribution.ServerID
	for _, s := range c.Servers() {
		if want[s.PrimaryAddress] || (s.SecondaryAddress != "" && want[s.SecondaryAddress]) {
			ids = append(ids, s.ID)
		}
	}

	return c.PrimaryTeams.ExclusionSafetyCheck(ids)
}
