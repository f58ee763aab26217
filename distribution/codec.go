package distribution

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Wire records for the system keys this package reads/writes. Using
// msgpack (github.com/vmihailenco/msgpack/v5, pulled from the rest of the
// pack's dependency surface — seaweedfs uses it for its RDMA sidecar's
// binary KV protocol) rather than a hand-rolled binary format keeps the
// system-key encoding in the same idiom as the rest of the corpus's
// compact-binary-over-a-KV-store code.

type serverRecord struct {
	ID               uuid.UUID `msgpack:"id"`
	PrimaryAddress   string    `msgpack:"primary_address"`
	SecondaryAddress string    `msgpack:"secondary_address"`
	DCID             string    `msgpack:"dc_id"`
	ProcessID        string    `msgpack:"process_id"`
	ZoneID           string    `msgpack:"zone_id"`
	ProcessClass     string    `msgpack:"process_class"`
	IsTSS            bool      `msgpack:"is_tss"`
}

func encodeServerRecord(s ServerInfo) ([]byte, error) {
	return msgpack.Marshal(serverRecord{
		ID:               s.ID,
		PrimaryAddress:   s.PrimaryAddress,
		SecondaryAddress: s.SecondaryAddress,
		DCID:             s.DCID,
		ProcessID:        s.ProcessID,
		ZoneID:           s.ZoneID,
		ProcessClass:     s.ProcessClass,
		IsTSS:            s.IsTSS,
	})
}

func decodeServerRecord(raw []byte) (ServerInfo, error) {
	var rec serverRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return ServerInfo{}, err
	}
	return ServerInfo{
		ID:               rec.ID,
		PrimaryAddress:   rec.PrimaryAddress,
		SecondaryAddress: rec.SecondaryAddress,
		DCID:             rec.DCID,
		ProcessID:        rec.ProcessID,
		ZoneID:           rec.ZoneID,
		ProcessClass:     rec.ProcessClass,
		IsTSS:            rec.IsTSS,
	}, nil
}

type keyServersRow struct {
	Src    []uuid.UUID `msgpack:"src"`
	Dest   []uuid.UUID `msgpack:"dest"`
	SrcID  uuid.UUID   `msgpack:"src_id"`
	DestID uuid.UUID   `msgpack:"dest_id"`
}

func encodeKeyServersRow(src, dest []uuid.UUID, srcID, destID uuid.UUID) ([]byte, error) {
	return msgpack.Marshal(keyServersRow{Src: src, Dest: dest, SrcID: srcID, DestID: destID})
}

func decodeKeyServersRow(raw []byte) (keyServersRow, error) {
	var row keyServersRow
	err := msgpack.Unmarshal(raw, &row)
	return row, err
}

type dataMoveRecord struct {
	ID          uuid.UUID   `msgpack:"id"`
	EndKey      []byte      `msgpack:"end_key"`
	SrcServers  []uuid.UUID `msgpack:"src_servers"`
	DestServers []uuid.UUID `msgpack:"dest_servers"`
	Valid       bool        `msgpack:"valid"`
	Cancelled   bool        `msgpack:"cancelled"`
}

func encodeDataMoveRecord(dm *DataMove) ([]byte, error) {
	rec := dataMoveRecord{
		ID:        dm.ID,
		EndKey:    dm.Range.End,
		Valid:     dm.Valid,
		Cancelled: dm.Cancelled,
	}
	rec.SrcServers = append(rec.SrcServers, dm.PrimarySrc.Servers...)
	rec.SrcServers = append(rec.SrcServers, dm.RemoteSrc.Servers...)
	rec.DestServers = append(rec.DestServers, dm.PrimaryDest.Servers...)
	rec.DestServers = append(rec.DestServers, dm.RemoteDest.Servers...)
	return msgpack.Marshal(rec)
}

func decodeDataMoveRecord(raw []byte) (dataMoveRecord, error) {
	var rec dataMoveRecord
	err := msgpack.Unmarshal(raw, &rec)
	return rec, err
}

// dataDistributionMode is not a msgpack record: its value is a single
// little-endian 32-bit integer.
func encodeMode(mode int) ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(mode)))
	return buf, nil
}

func decodeMode(raw []byte) (int, error) {
	if len(raw) < 4 {
		return 0, fmt.Errorf("dataDistributionMode value has %d bytes, want 4", len(raw))
	}
	return int(int32(binary.LittleEndian.Uint32(raw))), nil
}

type healthyZoneRecord struct {
	ZoneID         string `msgpack:"zone_id"`
	Expiration     uint64 `msgpack:"expiration"`
	IgnoreFailures bool   `msgpack:"ignore_failures"`
}

func encodeHealthyZone(v HealthyZoneValue) ([]byte, error) {
	return msgpack.Marshal(healthyZoneRecord{ZoneID: v.ZoneID, Expiration: v.Expiration, IgnoreFailures: v.IgnoreFailures})
}

func decodeHealthyZone(raw []byte) (HealthyZoneValue, error) {
	var rec healthyZoneRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return HealthyZoneValue{}, err
	}
	return HealthyZoneValue{ZoneID: rec.ZoneID, Expiration: rec.Expiration, IgnoreFailures: rec.IgnoreFailures}, nil
}
