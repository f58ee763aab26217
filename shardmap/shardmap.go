// Package shardmap implements ShardsAffectedByTeamFailure (spec §4.3): the
// in-memory range map from key range to the team(s) currently serving it,
// plus its inverse index from team to the set of ranges it serves, so a
// team failure can be translated into the exact ranges that need
// relocation without a full scan.
//
// Grounded on rangemap.Map for the forward direction, generalized with a
// second index the way weed/filer2/memdb/memdb_store.go pairs its btree
// with a sidecar map for reverse lookups (there, block-garbage-collection
// candidates; here, team membership).
package shardmap

import (
	"bytes"
	"sort"
	"sync"

	"github.com/kakaiu/datadistribution/distribution"
	"github.com/kakaiu/datadistribution/rangemap"
)

// Assignment is the set of teams currently responsible for a range: the
// primary team and, if the configuration replicates remotely, the remote
// team (spec §3, §4.3).
type Assignment struct {
	Primary   distribution.Team
	Remote    distribution.Team
	HasRemote bool
}

func (a Assignment) equal(b Assignment) bool {
	return a.Primary.Equal(b.Primary) && a.HasRemote == b.HasRemote && a.Remote.Equal(b.Remote)
}

// rangeKey is a canonical comparable form of a KeyRange for use in the
// inverse index's range sets.
type rangeKey struct {
	begin, end string
}

func keyOf(r distribution.KeyRange) rangeKey {
	return rangeKey{begin: string(r.Begin), end: string(r.End)}
}

// Tracker is ShardsAffectedByTeamFailure: a forward range map plus an
// inverse team -> ranges index, safe for concurrent use the way the
// teacher's topology maps are guarded by a single mutex.
type Tracker struct {
	mu      sync.RWMutex
	forward *rangemap.Map[Assignment]
	inverse map[string]map[rangeKey]distribution.KeyRange // team key -> ranges it serves

	// OnRestartTracker is the hook RestartShardTracker fires, wired to
	// whatever out-of-scope shard-metrics tracker is observing this
	// Tracker's ranges (spec §4.3, §1: shard-metrics collection itself is
	// incidental to this repo). Nil is a valid no-op default.
	OnRestartTracker func(r distribution.KeyRange)
}

// Restore rebuilds a Tracker from a fully reconstructed shard list, the
// one-shot repopulation the orchestrator runs once per epoch from loader
// output: for each shard, defineShard then moveShard (spec §4.2, §4.5 step
// 4). It is the only way a Tracker is populated at startup; DefineShard and
// MoveShard mutate it afterwards.
func Restore(allKeysBegin, allKeysEnd []byte, shards []distribution.DDShardInfo) *Tracker {
	t := &Tracker{
		forward: rangemap.New(func(a, b Assignment) bool { return a.equal(b) }),
		inverse: map[string]map[rangeKey]distribution.KeyRange{},
	}
	t.forward.Reset(allKeysBegin, allKeysEnd, Assignment{})
	for _, s := range shards {
		if len(s.PrimarySrc.Servers) == 0 {
			continue // sentinel tail shard
		}
		t.forward.Split(s.Range.Begin)
		if s.Range.End != nil {
			t.forward.Split(s.Range.End)
		}
		t.moveShardLocked(s.Range, Assignment{
			Primary:   s.PrimarySrc,
			Remote:    s.RemoteSrc,
			HasRemote: s.HasRemote,
		})
	}
	return t
}

// RestartShardTracker is spec §4.3's one-shot signal operation: it tells
// whatever shard tracker is observing r that it must re-observe metrics,
// fired just before a range's assignment changes out from under it (e.g.
// restoring a DataMove that covers more than one existing shard, spec
// §4.5 step 6).
func (t *Tracker) RestartShardTracker(r distribution.KeyRange) {
	if t.OnRestartTracker != nil {
		t.OnRestartTracker(r)
	}
}

// New builds an empty tracker covering [allKeysBegin, allKeysEnd).
func New(allKeysBegin, allKeysEnd []byte) *Tracker {
	t := &Tracker{
		forward: rangemap.New(func(a, b Assignment) bool { return a.equal(b) }),
		inverse: map[string]map[rangeKey]distribution.KeyRange{},
	}
	t.forward.Reset(allKeysBegin, allKeysEnd, Assignment{})
	return t
}

// DefineShard ensures [r.Begin, r.End) exists as a contiguous range-map
// entry, splitting at r.Begin/r.End if an existing entry straddles either
// boundary, without touching any assignment value (spec §4.3: "ensures
// the range is one contiguous entry; splits or merges at boundaries as
// needed; preserves team assignments of any sub-ranges exactly"). Callers
// pair this with MoveShard over the same range, per spec §4.5 steps 4/6.
func (t *Tracker) DefineShard(r distribution.KeyRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forward.Split(r.Begin)
	if r.End != nil {
		t.forward.Split(r.End)
	}
}

// MoveShard reassigns [r.Begin, r.End) from whatever team currently serves
// it to dest, used when a data move completes (spec §4.3: "moveShard...
// replaces the team list over range with teams; updates the inverse
// index; drops previous teams from the inverse index where no range
// remains for them").
func (t *Tracker) MoveShard(r distribution.KeyRange, dest Assignment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.moveShardLocked(r, dest)
}

func (t *Tracker) moveShardLocked(r distribution.KeyRange, a Assignment) {
	t.removeRangeFromInverseLocked(r.Begin, r.End)
	t.forward.Assign(r.Begin, r.End, a)
	t.addToInverseLocked(a.Primary, r)
	if a.HasRemote {
		t.addToInverseLocked(a.Remote, r)
	}
}

// removeRangeFromInverseLocked drops every inverse-index entry touching
// [begin, end) before the forward map is overwritten, so the inverse
// index never holds a stale range for a team no longer serving it.
func (t *Tracker) removeRangeFromInverseLocked(begin, end []byte) {
	t.forward.Each(begin, end, func(rStart, rEnd []byte, a Assignment) bool {
		r := distribution.KeyRange{Begin: rStart, End: rEnd}
		t.removeFromInverseLocked(a.Primary, r)
		if a.HasRemote {
			t.removeFromInverseLocked(a.Remote, r)
		}
		return true
	})
}

func (t *Tracker) addToInverseLocked(team distribution.Team, r distribution.KeyRange) {
	if len(team.Servers) == 0 {
		return
	}
	k := team.Key()
	set := t.inverse[k]
	if set == nil {
		set = map[rangeKey]distribution.KeyRange{}
		t.inverse[k] = set
	}
	set[keyOf(r)] = r
}

func (t *Tracker) removeFromInverseLocked(team distribution.Team, r distribution.KeyRange) {
	if len(team.Servers) == 0 {
		return
	}
	k := team.Key()
	set := t.inverse[k]
	if set == nil {
		return
	}
	delete(set, keyOf(r))
	if len(set) == 0 {
		delete(t.inverse, k)
	}
}

// RangesForTeam returns every range currently served (as primary or
// remote) by team, sorted by range start — the query the orchestrator
// issues when a team is declared failed (spec §4.3).
func (t *Tracker) RangesForTeam(team distribution.Team) []distribution.KeyRange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.inverse[team.Key()]
	out := make([]distribution.KeyRange, 0, len(set))
	for _, r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Begin, out[j].Begin) < 0 })
	return out
}

// AssignmentFor returns the assignment covering key, if any.
func (t *Tracker) AssignmentFor(key []byte) (Assignment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var found Assignment
	var ok bool
	t.forward.Each(key, nil, func(start, end []byte, a Assignment) bool {
		found = a
		ok = true
		return false
	})
	return found, ok
}

// Len reports the number of range-map entries currently tracked.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.forward.Len()
}
