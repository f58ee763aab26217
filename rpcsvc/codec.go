// Package rpcsvc is DD's RPC boundary (spec §6): the inbound service that
// answers haltDataDistributor / dataDistributorMetrics /
// distributorSnapReq / distributorExclCheckReq / storageWigglerState, and
// the outbound client DD uses to drive tlog/storage/coordinator workers
// during the snapshot protocol.
//
// Grounded on weed/util/grpc_client_server.go for the server/dial
// plumbing and weed/pb's protoc-generated service pattern, generalized to
// a hand-registered grpc.ServiceDesc with a JSON wire codec in place of
// protobuf-generated stubs (protoc cannot be invoked to regenerate real
// .pb.go files here; see DESIGN.md).
package rpcsvc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "dd-json"

// jsonCodec implements grpc/encoding.Codec over encoding/json, registered
// under jsonCodecName so DD's client and server agree on it via
// grpc.CallContentSubtype/grpc.ForceServerCodec without requiring
// protobuf code generation.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
