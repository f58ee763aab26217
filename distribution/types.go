// Package distribution holds DD's data model (spec §3) and the
// InitialDataDistribution loader (spec §4.2).
//
// The value types here are grounded on weed/topology/node.go's server/DC
// locality attributes, generalized from SeaweedFS's volume-server
// identity to spec §3's ServerId/Team/DataCenter/Shard/DataMove model.
package distribution

import (
	"sort"

	"github.com/google/uuid"
)

// ServerID is the opaque 128-bit identifier of a storage server.
type ServerID = uuid.UUID

// AnonymousShardID is the sentinel data-move id meaning "no tracked move"
// (spec §3, Shard).
var AnonymousShardID = uuid.Nil

// ServerInfo is everything DD needs to know about a storage server to
// place it into teams and data centers (spec §3).
type ServerInfo struct {
	ID               ServerID
	PrimaryAddress   string
	SecondaryAddress string // empty if none
	DCID             string
	ProcessID        string
	ZoneID           string
	ProcessClass     string
	IsTSS            bool // test-storage-server twin; excluded from team formation
}

// StorageMetadata is the per-server bookkeeping the wiggler orders its
// rejuvenation queue by (spec §3): CreationTime is a monotone clock value
// captured at first contact, StoreType names the storage engine, and
// WrongConfigured marks a server whose on-disk configuration no longer
// matches the cluster's desired configuration and so should be wiggled
// ahead of correctly-configured peers.
type StorageMetadata struct {
	CreationTime    int64
	StoreType       string
	WrongConfigured bool
}

// Team is an ordered-by-id set of ServerIDs of size equal to the
// configured replication factor. Teams are value objects: two teams with
// equal member sets compare equal (spec §3).
type Team struct {
	Servers []ServerID
}

// NewTeam builds a Team with its members sorted for canonical comparison.
func NewTeam(members ...ServerID) Team {
	sorted := make([]ServerID, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		return lessID(sorted[i], sorted[j])
	})
	return Team{Servers: sorted}
}

func lessID(a, b ServerID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Equal reports whether two teams have the same member set (spec §3:
// "two teams with equal member sets compare equal").
func (t Team) Equal(o Team) bool {
	if len(t.Servers) != len(o.Servers) {
		return false
	}
	for i := range t.Servers {
		if t.Servers[i] != o.Servers[i] {
			return false
		}
	}
	return true
}

// Key returns a canonical comparable string key for t, used as a map key
// in the shard map's inverse index (spec §4.3).
func (t Team) Key() string {
	buf := make([]byte, 0, len(t.Servers)*16)
	for _, s := range t.Servers {
		buf = append(buf, s[:]...)
	}
	return string(buf)
}

// IsPrimary reports whether every member of t belongs to primaryDC (spec
// §3: "A team is either primary... or remote").
func (t Team) IsPrimary(serverDC map[ServerID]string, primaryDC string) bool {
	for _, s := range t.Servers {
		if serverDC[s] != primaryDC {
			return false
		}
	}
	return true
}

// KeyRange is a half-open key range [Begin, End). A nil End means "to the
// end of the keyspace" (allKeys.end, spec §3).
type KeyRange struct {
	Begin []byte
	End   []byte
}

// DDShardInfo is one row of the shard map reconstructed by the loader
// (spec §3, §4.2).
type DDShardInfo struct {
	Range       KeyRange
	PrimarySrc  Team
	RemoteSrc   Team
	HasRemote   bool // whether RemoteSrc is meaningful
	PrimaryDest Team
	RemoteDest  Team
	HasDest     bool
	SrcID       uuid.UUID
	DestID      uuid.UUID // AnonymousShardID if no tracked move
}

// DataMove is an in-flight or orphaned relocation (spec §3).
type DataMove struct {
	ID          uuid.UUID
	Range       KeyRange
	PrimarySrc  Team
	RemoteSrc   Team
	PrimaryDest Team
	RemoteDest  Team
	Valid       bool
	Cancelled   bool
}

// ValidateShard cross-checks shard against the DataMove that is supposed
// to cover it (spec §4.2: "cross-checked against its covering DataMove via
// DataMove::validateShard"). Violations mark dm.Cancelled = true and
// return a non-empty violation kind; they never panic or return an error —
// recovery is left to the orchestrator's cancel path. The complementary
// case — a shard claiming a dest with no covering DataMove at all — has
// no dm to call this on and is reported as "no-data-move" by the caller
// directly (distribution/loader.go's crossCheckDataMoves).
func (dm *DataMove) ValidateShard(shard DDShardInfo) (violation string) {
	if !dm.Valid {
		return ""
	}
	if !shard.HasDest {
		dm.Cancelled = true
		return "missing-dest"
	}
	if shard.DestID != dm.ID {
		dm.Cancelled = true
		return "id-mismatch"
	}
	if !teamSubset(shard.PrimaryDest, dm.PrimaryDest) {
		dm.Cancelled = true
		return "dest-not-superset"
	}
	if shard.HasRemote && !teamSubset(shard.RemoteDest, dm.RemoteDest) {
		dm.Cancelled = true
		return "dest-not-superset"
	}
	return ""
}

// teamSubset reports whether every member of sub is also a member of
// super (spec §3 invariant iii: "the shard's dest server set is a subset
// of the move's dest set").
func teamSubset(sub, super Team) bool {
	set := make(map[ServerID]bool, len(super.Servers))
	for _, s := range super.Servers {
		set[s] = true
	}
	for _, s := range sub.Servers {
		if !set[s] {
			return false
		}
	}
	return true
}

// HealthyZoneValue is the operator-set healthy-zone override (spec §3,
// §4.2): a zone id whose failure-triggered relocations are suppressed
// until Expiration, or the ignore-failures sentinel.
type HealthyZoneValue struct {
	ZoneID         string
	Expiration     uint64 // commit version
	IgnoreFailures bool
}

// IgnoreSSFailuresZoneID is the sentinel healthy-zone value meaning
// "ignore all storage-server failures" (spec §4.2).
const IgnoreSSFailuresZoneID = "IgnoreSSFailures"

// InitialDataDistribution is the consistent snapshot the loader produces
// (spec §3).
type InitialDataDistribution struct {
	Mode                 int
	InitHealthyZoneValue *HealthyZoneValue // nil means absent
	AllServers           []ServerInfo      // non-TSS servers first, TSS appended after team reconstruction
	Shards               []DDShardInfo     // ordered by range, ends with a sentinel empty shard at allKeys.end
	PrimaryTeams         []Team
	RemoteTeams          []Team
	DataMoves            map[uuid.UUID]*DataMove
}
