package rpcsvc

import "github.com/google/uuid"

// Request/reply shapes for the table in spec §6. Field names are JSON
// tags because the transport codec is encoding/json (see codec.go).

type HaltRequest struct {
	RequesterID uuid.UUID `json:"requester_id"`
}

type HaltReply struct{}

type MetricsRequest struct {
	KeyBegin   []byte `json:"key_begin"`
	KeyEnd     []byte `json:"key_end"`
	ShardLimit int    `json:"shard_limit"`
	MidOnly    bool   `json:"mid_only"`
}

type ShardMetricWire struct {
	Begin []byte `json:"begin"`
	End   []byte `json:"end"`
	Bytes int64  `json:"bytes"`
}

type MetricsReply struct {
	Shards       []ShardMetricWire `json:"shards,omitempty"`
	MidShardSize int64             `json:"mid_shard_size,omitempty"`
}

type SnapRequest struct {
	SnapPayload []byte    `json:"snap_payload"`
	SnapUID     uuid.UUID `json:"snap_uid"`
}

type SnapReply struct {
	ErrorKind string `json:"error_kind,omitempty"`
}

type ExclCheckRequest struct {
	Exclusions []string `json:"exclusions"`
}

type ExclCheckReply struct {
	Safe bool `json:"safe"`
}

type WigglerStateRequest struct{}

type WigglerStateReply struct {
	Primary                bool  `json:"primary"`
	LastStateChangePrimary int64 `json:"last_state_change_primary"`
	Remote                 bool  `json:"remote"`
	LastStateChangeRemote  int64 `json:"last_state_change_remote"`
}

// Worker-control messages, the outbound half of the snapshot protocol
// (spec §4.5 b-f): one request/reply pair reused for disablePop/snap/
// enablePop by varying Kind.
type WorkerControlRequest struct {
	Kind    string    `json:"kind"`             // "disable_pop" | "enable_pop" | "snap"
	Target  string    `json:"target,omitempty"` // "tlog" | "storage" | "coord", for Kind=="snap"
	SnapUID uuid.UUID `json:"snap_uid"`
}

type WorkerControlReply struct {
	ErrorKind string `json:"error_kind,omitempty"`
}
