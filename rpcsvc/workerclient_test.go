package rpcsvc

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// fakeWorker answers the outbound worker-control service DD drives during
// the snapshot protocol (spec §4.5 b-f), standing in for a real
// tlog/storage/coordinator worker process.
type fakeWorker struct {
	failKind string
}

func (w *fakeWorker) handle(ctx context.Context, req *WorkerControlRequest) (*WorkerControlReply, error) {
	if req.Kind == w.failKind {
		return &WorkerControlReply{ErrorKind: "boom"}, nil
	}
	return &WorkerControlReply{}, nil
}

var fakeWorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: workerControlService,
	HandlerType: (*fakeWorker)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DisablePop", Handler: fakeWorkerHandler},
		{MethodName: "EnablePop", Handler: fakeWorkerHandler},
		{MethodName: "Snap", Handler: fakeWorkerHandler},
	},
	Metadata: "dd_worker.proto",
}

func fakeWorkerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(WorkerControlRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(*fakeWorker).handle(ctx, in)
}

func startFakeWorker(t *testing.T, failKind string) (addr string, stop func()) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.RegisterService(&fakeWorkerServiceDesc, &fakeWorker{failKind: failKind})

	go s.Serve(lis)

	return lis.Addr().String(), func() {
		s.Stop()
		lis.Close()
	}
}

func TestWorkerClientDisablePopAndEnablePopSucceed(t *testing.T) {
	addr, stop := startFakeWorker(t, "")
	defer stop()

	c := NewWorkerClient()
	defer c.Close()

	snapUID := uuid.New()
	require.NoError(t, c.DisablePop(context.Background(), addr, snapUID))
	require.NoError(t, c.EnablePop(context.Background(), addr, snapUID))
}

func TestWorkerClientSnapPropagatesWorkerError(t *testing.T) {
	addr, stop := startFakeWorker(t, "snap")
	defer stop()

	c := NewWorkerClient()
	defer c.Close()

	err := c.Snap(context.Background(), "storage", addr, uuid.New())
	require.Error(t, err)
}

func TestWorkerClientReusesConnectionPerAddress(t *testing.T) {
	addr, stop := startFakeWorker(t, "")
	defer stop()

	c := NewWorkerClient()
	defer c.Close()

	snapUID := uuid.New()
	require.NoError(t, c.DisablePop(context.Background(), addr, snapUID))

	c.mu.Lock()
	n := len(c.conns)
	c.mu.Unlock()
	require.Equal(t, 1, n)

	require.NoError(t, c.EnablePop(context.Background(), addr, snapUID))

	c.mu.Lock()
	n = len(c.conns)
	c.mu.Unlock()
	require.Equal(t, 1, n)
}
