package rpcsvc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/kakaiu/datadistribution/internal/glog"
	"github.com/kakaiu/datadistribution/orchestrator"
	"github.com/kakaiu/datadistribution/wiggler"
)

// Handlers implements the five RPC endpoints of spec §6 against a running
// Orchestrator and its collaborators.
type Handlers struct {
	Snapshot       *orchestrator.SnapshotCoordinator
	Exclusion      *orchestrator.ExclusionChecker
	WigglerPrimary func() *wiggler.Wiggler
	WigglerRemote  func() *wiggler.Wiggler
	ShardMetrics   func(begin, end []byte, limit int) []orchestrator.ShardMetric
	Halt           func(requesterID uuid.UUID)
}

// HandleHalt answers haltDataDistributor: reply, log, then exit the inner loop
// (spec §6) by invoking h.Halt, which the caller wires to cancel the
// orchestrator's run context.
func (h *Handlers) HandleHalt(ctx context.Context, req *HaltRequest) (*HaltReply, error) {
	glog.V(0).Infof("rpcsvc: haltDataDistributor requested by %s", req.RequesterID)
	if h.Halt != nil {
		h.Halt(req.RequesterID)
	}
	return &HaltReply{}, nil
}

// HandleMetrics answers dataDistributorMetrics (spec §4.5, §6).
func (h *Handlers) HandleMetrics(ctx context.Context, req *MetricsRequest) (*MetricsReply, error) {
	all := h.ShardMetrics(req.KeyBegin, req.KeyEnd, req.ShardLimit)
	shards, mid := orchestrator.GetMetrics(all, req.MidOnly)
	reply := &MetricsReply{MidShardSize: mid}
	for _, s := range shards {
		reply.Shards = append(reply.Shards, ShardMetricWire{Begin: s.Begin, End: s.End, Bytes: s.Bytes})
	}
	return reply, nil
}

// HandleSnap answers distributorSnapReq by driving the snapshot protocol
// (spec §4.5, §6).
func (h *Handlers) HandleSnap(ctx context.Context, req *SnapRequest) (*SnapReply, error) {
	if err := h.Snapshot.CreateSnapshot(ctx, req.SnapUID); err != nil {
		return &SnapReply{ErrorKind: err.Error()}, nil
	}
	return &SnapReply{}, nil
}

// HandleExclCheck answers distributorExclCheckReq (spec §4.5, §6).
func (h *Handlers) HandleExclCheck(ctx context.Context, req *ExclCheckRequest) (*ExclCheckReply, error) {
	return &ExclCheckReply{Safe: h.Exclusion.CheckSafe(req.Exclusions)}, nil
}

// HandleWigglerState answers storageWigglerState (spec §4.5, §6).
func (h *Handlers) HandleWigglerState(ctx context.Context, req *WigglerStateRequest) (*WigglerStateReply, error) {
	reply := &WigglerStateReply{}
	if h.WigglerPrimary != nil {
		if primary := h.WigglerPrimary(); primary != nil {
			reply.Primary = primary.Len() > 0
			if changed := primary.LastStateChange(); !changed.IsZero() {
				reply.LastStateChangePrimary = changed.Unix()
			}
		}
	}
	if h.WigglerRemote != nil {
		if remote := h.WigglerRemote(); remote != nil {
			reply.Remote = remote.Len() > 0
			if changed := remote.LastStateChange(); !changed.IsZero() {
				reply.LastStateChangeRemote = changed.Unix()
			}
		}
	}
	return reply, nil
}

// ServiceDesc is DD's hand-registered grpc.ServiceDesc, standing in for
// the protoc-generated descriptor a .proto file would normally produce
// (see DESIGN.md for why protobuf codegen isn't used here).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "dd.DataDistributor",
	HandlerType: (*Handlers)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Halt", Handler: haltHandler},
		{MethodName: "Metrics", Handler: metricsHandler},
		{MethodName: "Snap", Handler: snapHandler},
		{MethodName: "ExclCheck", Handler: exclCheckHandler},
		{MethodName: "WigglerState", Handler: wigglerStateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dd_distributor.proto",
}

func haltHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HaltRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Handlers).HandleHalt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dd.DataDistributor/Halt"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Handlers).HandleHalt(ctx, req.(*HaltRequest))
	})
}

func metricsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MetricsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Handlers).HandleMetrics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dd.DataDistributor/Metrics"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Handlers).HandleMetrics(ctx, req.(*MetricsRequest))
	})
}

func snapHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SnapRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Handlers).HandleSnap(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dd.DataDistributor/Snap"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Handlers).HandleSnap(ctx, req.(*SnapRequest))
	})
}

func exclCheckHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExclCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Handlers).HandleExclCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dd.DataDistributor/ExclCheck"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Handlers).HandleExclCheck(ctx, req.(*ExclCheckRequest))
	})
}

func wigglerStateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(WigglerStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Handlers).HandleWigglerState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/dd.DataDistributor/WigglerState"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Handlers).HandleWigglerState(ctx, req.(*WigglerStateRequest))
	})
}

// NewServer builds a *grpc.Server with the JSON codec forced and DD's
// service registered. No keepalive or other server options are set.
func NewServer(h *Handlers) *grpc.Server {
	s := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.RegisterService(&ServiceDesc, h)
	return s
}
