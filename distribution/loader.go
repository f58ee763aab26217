package distribution

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/google/uuid"

	"github.com/kakaiu/datadistribution/errs"
	"github.com/kakaiu/datadistribution/internal/config"
	"github.com/kakaiu/datadistribution/internal/glog"
	"github.com/kakaiu/datadistribution/lock"
	"github.com/kakaiu/datadistribution/rangemap"
	"github.com/kakaiu/datadistribution/systemkeys"
)

// Loader is the two-phase InitialDataDistribution reconstruction of spec
// §4.2, grounded on weed/filer/foundationdb/foundationdb_store.go's
// transaction-retry idiom generalized from a single read to the loader's
// bounded multi-transaction walk of keyServers.
type Loader struct {
	Client  *systemkeys.Client
	Lock    lock.Lock
	Config  *config.Proxy
	Enabled func() bool // the in-memory dataDistributionMode toggle (spec §4.2 step "or the in-memory toggle is off")

	// ShardEncodeLocationMetadata gates the post-Phase-B cross-check
	// against dataMoveMap (spec §4.2).
	ShardEncodeLocationMetadata bool

	// tssServers holds the TSS servers read during Phase A, appended to
	// AllServers by Load only after team reconstruction completes so
	// they never participate in a team (spec §4.2, §9 ambiguity (b)).
	tssServers []ServerInfo
}

// serverDCIndex is the server -> DC id map built in Phase A and reused in
// Phase B to partition team members by DC without re-scanning serverList.
type serverDCIndex map[ServerID]string

// Load runs Phase A then Phase B, retrying each transaction's retryable
// errors per spec §4.2's recovery rule ("any error deemed retryable by
// onError is retried after back-off; accumulated local state must be
// discarded before retry").
func (l *Loader) Load(ctx context.Context) (*InitialDataDistribution, error) {
	idd, dcIndex, err := l.loadPhaseA(ctx)
	if err != nil {
		return nil, err
	}
	if idd.Mode == 0 {
		glog.V(0).Infof("loader: dataDistributionMode=0, returning empty snapshot")
		return idd, nil
	}

	if err := l.loadPhaseB(ctx, idd, dcIndex); err != nil {
		return nil, err
	}

	if l.ShardEncodeLocationMetadata {
		l.crossCheckDataMoves(idd)
	}

	// TSS servers are appended after team reconstruction so they never
	// participate in teams (spec §4.2, §9 ambiguity (b)).
	idd.AllServers = append(idd.AllServers, l.tssServers...)

	return idd, nil
}

func (l *Loader) loadPhaseA(ctx context.Context) (*InitialDataDistribution, serverDCIndex, error) {
	var idd *InitialDataDistribution
	var dcIndex serverDCIndex

	err := systemkeys.RetryLoop(ctx, errs.IsRetryable, func() error {
		// Discard any partial state accumulated by a previous attempt
		// before retrying, per spec §4.2's "succeeded" assertion.
		idd = &InitialDataDistribution{Mode: 1}
		dcIndex = serverDCIndex{}
		l.tssServers = nil

		result, txErr := l.Client.Transact(func(tr fdb.Transaction) (interface{}, error) {
			if err := lock.CheckReadOnly(tr, l.Client, l.Lock); err != nil {
				return nil, err
			}

			mode, err := readMode(tr, l.Client)
			if err != nil {
				return nil, err
			}
			idd.Mode = mode
			if mode == 0 || (l.Enabled != nil && !l.Enabled()) {
				idd.Mode = 0
				return nil, nil
			}

			hz, err := readHealthyZone(tr, l.Client)
			if err != nil {
				return nil, err
			}
			idd.InitHealthyZoneValue = hz

			servers, err := readServerList(tr, l.Client)
			if err != nil {
				return nil, err
			}
			normal, tss := partitionTSS(servers)
			idd.AllServers = normal
			l.tssServers = tss
			for _, s := range normal {
				dcIndex[s.ID] = s.DCID
			}
			for _, s := range tss {
				dcIndex[s.ID] = s.DCID
			}

			moves, err := readDataMoveMap(tr, l.Client, dcIndex, l.Config.GetString("dd.region.primary_dc"))
			if err != nil {
				return nil, err
			}
			idd.DataMoves = moves
			return nil, nil
		})
		_ = result
		return txErr
	})
	if err != nil {
		return nil, nil, err
	}
	return idd, dcIndex, nil
}

func readMode(tr fdb.Transaction, c *systemkeys.Client) (int, error) {
	raw, err := tr.Get(c.ModeKey()).Get()
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 1, nil // absent ⇔ 1 (spec §4.2)
	}
	return decodeMode(raw)
}

func readHealthyZone(tr fdb.Transaction, c *systemkeys.Client) (*HealthyZoneValue, error) {
	raw, err := tr.Get(c.HealthyZoneKey()).Get()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	hz, err := decodeHealthyZone(raw)
	if err != nil {
		return nil, err
	}
	if hz.IgnoreFailures || hz.ZoneID == IgnoreSSFailuresZoneID {
		return &hz, nil
	}
	readVersion, err := tr.GetReadVersion().Get()
	if err != nil {
		return nil, err
	}
	if hz.Expiration > uint64(readVersion) {
		return &hz, nil
	}
	return nil, nil // expired: surface absent
}

func readServerList(tr fdb.Transaction, c *systemkeys.Client) ([]ServerInfo, error) {
	kvs, err := tr.GetRange(c.ServerListRange(), fdb.RangeOptions{}).GetSliceWithError()
	if err != nil {
		return nil, err
	}
	tagKVs, err := tr.GetRange(c.ServerTagRange(), fdb.RangeOptions{}).GetSliceWithError()
	if err != nil {
		return nil, err
	}
	processClassByID := map[string]string{}
	for _, kv := range tagKVs {
		id, unpackErr := c.UnpackServerID(kv.Key)
		if unpackErr != nil {
			return nil, unpackErr
		}
		processClassByID[id] = string(kv.Value)
	}
	servers := make([]ServerInfo, 0, len(kvs))
	for _, kv := range kvs {
		s, decErr := decodeServerRecord(kv.Value)
		if decErr != nil {
			return nil, fmt.Errorf("decoding server record: %w", decErr)
		}
		if pc, ok := processClassByID[s.ProcessID]; ok {
			s.ProcessClass = pc
		}
		servers = append(servers, s)
	}
	return servers, nil
}

func partitionTSS(servers []ServerInfo) (normal, tss []ServerInfo) {
	for _, s := range servers {
		if s.IsTSS {
			tss = append(tss, s)
		} else {
			normal = append(normal, s)
		}
	}
	return
}

func readDataMoveMap(tr fdb.Transaction, c *systemkeys.Client, dcIndex serverDCIndex, primaryDC string) (map[uuid.UUID]*DataMove, error) {
	kvs, err := tr.GetRange(c.DataMoveRange(), fdb.RangeOptions{}).GetSliceWithError()
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*DataMove, len(kvs))
	overlap := rangemap.New(func(a, b *DataMove) bool { return a == b })
	overlap.Reset(nil, nil, nil)
	for _, kv := range kvs {
		rec, decErr := decodeDataMoveRecord(kv.Value)
		if decErr != nil {
			return nil, fmt.Errorf("decoding data move record: %w", decErr)
		}
		rangeStart, unpackErr := c.UnpackRangeStart(kv.Key)
		if unpackErr != nil {
			return nil, unpackErr
		}
		dm := &DataMove{
			ID:    rec.ID,
			Range: KeyRange{Begin: rangeStart, End: rec.EndKey},
			Valid: rec.Valid, Cancelled: rec.Cancelled,
		}
		dm.PrimarySrc, dm.RemoteSrc = partitionByDC(rec.SrcServers, dcIndex, primaryDC)
		dm.PrimaryDest, dm.RemoteDest = partitionByDC(rec.DestServers, dcIndex, primaryDC)
		out[dm.ID] = dm

		if dm.Valid {
			var conflict bool
			overlap.Each(dm.Range.Begin, dm.Range.End, func(_, _ []byte, existing *DataMove) bool {
				if existing != nil {
					conflict = true
					return false
				}
				return true
			})
			if conflict {
				return nil, fmt.Errorf("data move %s intersects another valid move (invariant i)", dm.ID)
			}
			overlap.Assign(dm.Range.Begin, dm.Range.End, dm)
		}
	}
	return out, nil
}

// partitionByDC splits ids into the subset whose server lives in
// primaryDC and the remainder (spec §3: "A team is either primary...or
// remote"). An empty primaryDC (unconfigured) treats every server as
// primary, matching a single-DC deployment.
func partitionByDC(ids []uuid.UUID, dcIndex serverDCIndex, primaryDC string) (primary, remote Team) {
	var primaryIDs, remoteIDs []ServerID
	for _, id := range ids {
		if primaryDC == "" || dcIndex[id] == primaryDC {
			primaryIDs = append(primaryIDs, id)
		} else {
			remoteIDs = append(remoteIDs, id)
		}
	}
	return NewTeam(primaryIDs...), NewTeam(remoteIDs...)
}

func (l *Loader) loadPhaseB(ctx context.Context, idd *InitialDataDistribution, dcIndex serverDCIndex) error {
	limit := l.Config.GetInt("movekeys.krm_limit")
	limitBytes := l.Config.GetInt("movekeys.krm_limit_bytes")
	if limit <= 0 {
		limit = 2000
	}
	if limitBytes <= 0 {
		limitBytes = 1_000_000
	}

	primaryDC := l.Config.GetString("dd.region.primary_dc")
	teamMemo := map[string][2]Team{} // ids-key -> (primary, remote)
	primarySeen := map[string]bool{}
	remoteSeen := map[string]bool{}
	var beginKey fdb.Key = l.Client.KeyServersRange().Begin.(fdb.Key)
	endKey := l.Client.KeyServersRange().End

	for {
		var rowsThisSlice []fdb.KeyValue
		err := systemkeys.RetryLoop(ctx, errs.IsRetryable, func() error {
			result, txErr := l.Client.Transact(func(tr fdb.Transaction) (interface{}, error) {
				if err := lock.CheckReadOnly(tr, l.Client, l.Lock); err != nil {
					return nil, err
				}
				kr := fdb.KeyRange{Begin: beginKey, End: endKey}
				return tr.GetRange(kr, fdb.RangeOptions{Limit: limit}).GetSliceWithError()
			})
			if txErr != nil {
				return txErr
			}
			rowsThisSlice = result.([]fdb.KeyValue)
			return nil
		})
		if err != nil {
			return err
		}
		if len(rowsThisSlice) == 0 {
			break
		}

		byteCount := 0
		processed := 0
		for _, kv := range rowsThisSlice {
			processed++
			byteCount += len(kv.Key) + len(kv.Value)
			row, decErr := decodeKeyServersRow(kv.Value)
			if decErr != nil {
				return fmt.Errorf("decoding keyServers row: %w", decErr)
			}

			srcPrimary, srcRemote := memoTeam(teamMemo, row.Src, dcIndex, primaryDC)
			destPrimary, destRemote := memoTeam(teamMemo, row.Dest, dcIndex, primaryDC)

			addTeam(idd, &idd.PrimaryTeams, primarySeen, srcPrimary)
			addTeam(idd, &idd.PrimaryTeams, primarySeen, destPrimary)
			addTeam(idd, &idd.RemoteTeams, remoteSeen, srcRemote)
			addTeam(idd, &idd.RemoteTeams, remoteSeen, destRemote)

			rangeStart, unpackErr := l.Client.UnpackRangeStart(kv.Key)
			if unpackErr != nil {
				return fmt.Errorf("unpacking keyServers row key: %w", unpackErr)
			}
			shard := DDShardInfo{
				Range:       KeyRange{Begin: rangeStart},
				PrimarySrc:  srcPrimary,
				RemoteSrc:   srcRemote,
				HasRemote:   len(srcRemote.Servers) > 0 || len(destRemote.Servers) > 0,
				PrimaryDest: destPrimary,
				RemoteDest:  destRemote,
				HasDest:     len(row.Dest) > 0,
				SrcID:       row.SrcID,
				DestID:      row.DestID,
			}
			idd.Shards = append(idd.Shards, shard)

			if byteCount >= limitBytes {
				break
			}
		}

		// Resume after the last row actually processed, so rows left
		// unprocessed by the byte limit are read again in the next slice.
		last := rowsThisSlice[processed-1]
		beginKey = append(append(fdb.Key{}, []byte(last.Key)...), 0x00)
		if processed == len(rowsThisSlice) && len(rowsThisSlice) < limit {
			break
		}
	}

	// Fix up each shard's Range.End now that every row's start key is
	// known, and append the sentinel empty shard at allKeys.end (spec
	// §4.2: "uniform shards[i].key .. shards[i+1].key iteration").
	for i := 0; i+1 < len(idd.Shards); i++ {
		idd.Shards[i].Range.End = idd.Shards[i+1].Range.Begin
	}
	idd.Shards = append(idd.Shards, DDShardInfo{Range: KeyRange{Begin: nil, End: nil}})

	return nil
}

func memoTeam(memo map[string][2]Team, ids []uuid.UUID, dcIndex serverDCIndex, primaryDC string) (primary, remote Team) {
	key := teamMemoKey(ids)
	if cached, ok := memo[key]; ok {
		return cached[0], cached[1]
	}
	primary, remote = partitionByDC(ids, dcIndex, primaryDC)
	memo[key] = [2]Team{primary, remote}
	return
}

func teamMemoKey(ids []uuid.UUID) string {
	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })
	buf := make([]byte, 0, len(sorted)*16)
	for _, id := range sorted {
		buf = append(buf, id[:]...)
	}
	return string(buf)
}

func addTeam(idd *InitialDataDistribution, into *[]Team, seen map[string]bool, t Team) {
	if len(t.Servers) == 0 {
		return
	}
	k := t.Key()
	if seen[k] {
		return
	}
	seen[k] = true
	*into = append(*into, t)
	sort.Slice(*into, func(i, j int) bool { return (*into)[i].Key() < (*into)[j].Key() })
}

// crossCheckDataMoves validates every shard against the DataMove covering
// its range — not the DataMove named by shard.DestID, mirroring the
// original's dataMoveMap[keys.begin]->validateShard(iShard, keys) lookup
// by range rather than by id, so a shard that claims a dest whose id
// matches no persisted move is still caught instead of silently skipped.
func (l *Loader) crossCheckDataMoves(idd *InitialDataDistribution) {
	covering := rangemap.New(func(a, b *DataMove) bool { return a == b })
	covering.Reset(nil, nil, (*DataMove)(nil))
	for _, dm := range idd.DataMoves {
		if dm.Valid {
			covering.Assign(dm.Range.Begin, dm.Range.End, dm)
		}
	}

	for i := 0; i+1 < len(idd.Shards); i++ {
		shard := idd.Shards[i]
		dm := dataMoveCovering(covering, shard.Range.Begin)
		if dm == nil {
			if shard.HasDest && shard.DestID != AnonymousShardID {
				glog.Warningf("DataMoveValidationError range=[%x,%x) kind=no-data-move", shard.Range.Begin, shard.Range.End)
			}
			continue
		}
		if violation := dm.ValidateShard(shard); violation != "" {
			glog.Warningf("DataMoveValidationError move=%s range=[%x,%x) kind=%s", dm.ID, shard.Range.Begin, shard.Range.End, violation)
		}
	}
}

func dataMoveCovering(m *rangemap.Map[*DataMove], key []byte) *DataMove {
	var found *DataMove
	m.Each(key, nil, func(start, end []byte, v *DataMove) bool {
		found = v
		return false
	})
	return found
}
