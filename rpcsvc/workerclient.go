package rpcsvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// workerControlService is the outbound service name DD dials against
// tlog/storage/coordinator workers for the snapshot protocol (spec §4.5
// b-f). A real worker process would register a Handlers-shaped service
// under this name; here DD only needs the client half.
const workerControlService = "dd.WorkerControl"

// WorkerClient implements orchestrator.WorkerRPC by dialing each worker
// address with grpc, caching connections the way
// weed/server/volume_grpc_client_to_master.go keeps one dialed connection
// per peer rather than redialing per call.
type WorkerClient struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewWorkerClient returns an empty client; connections are dialed lazily
// on first use per address.
func NewWorkerClient() *WorkerClient {
	return &WorkerClient{conns: map[string]*grpc.ClientConn{}}
}

func (c *WorkerClient) connFor(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("rpcsvc: dialing worker %s: %w", addr, err)
	}
	c.conns[addr] = conn
	return conn, nil
}

func (c *WorkerClient) invoke(ctx context.Context, addr, method string, req *WorkerControlRequest) error {
	conn, err := c.connFor(addr)
	if err != nil {
		return err
	}
	reply := new(WorkerControlReply)
	if err := conn.Invoke(ctx, "/"+workerControlService+"/"+method, req, reply, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return err
	}
	if reply.ErrorKind != "" {
		return fmt.Errorf("rpcsvc: worker %s %s: %s", addr, method, reply.ErrorKind)
	}
	return nil
}

// DisablePop implements orchestrator.WorkerRPC.
func (c *WorkerClient) DisablePop(ctx context.Context, addr string, snapUID uuid.UUID) error {
	return c.invoke(ctx, addr, "DisablePop", &WorkerControlRequest{Kind: "disable_pop", SnapUID: snapUID})
}

// EnablePop implements orchestrator.WorkerRPC.
func (c *WorkerClient) EnablePop(ctx context.Context, addr string, snapUID uuid.UUID) error {
	return c.invoke(ctx, addr, "EnablePop", &WorkerControlRequest{Kind: "enable_pop", SnapUID: snapUID})
}

// Snap implements orchestrator.WorkerRPC.
func (c *WorkerClient) Snap(ctx context.Context, kind, addr string, snapUID uuid.UUID) error {
	return c.invoke(ctx, addr, "Snap", &WorkerControlRequest{Kind: "snap", Target: kind, SnapUID: snapUID})
}

// Close tears down every cached connection.
func (c *WorkerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.conns, addr)
	}
	return first
}
