// Command datadist runs the Data Distribution control plane: it takes
// the move-keys lock, loads the initial shard/team/data-move snapshot,
// seeds the shard tracker and storage wigglers, and serves the DD RPC
// interface (spec §2, §4.5, §6).
//
// Grounded on weed/command/master.go's flag-based entrypoint: the
// teacher does not use a CLI framework (cobra et al. appear only in an
// unrelated sidecar module elsewhere in the pack), just package flag and
// a small run function, which this mirrors.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kakaiu/datadistribution/internal/config"
	"github.com/kakaiu/datadistribution/internal/glog"
	"github.com/kakaiu/datadistribution/internal/metrics"
	"github.com/kakaiu/datadistribution/orchestrator"
	"github.com/kakaiu/datadistribution/rpcsvc"
	"github.com/kakaiu/datadistribution/systemkeys"
)

func main() {
	var (
		clusterFile = flag.String("cluster_file", "", "path to the fdb.cluster file")
		rootDir     = flag.String("root_dir", "datadistribution", "directory subspace DD's system keys live under")
		apiVersion  = flag.Int("api_version", 0, "FoundationDB client API version (0 = default)")
		listen      = flag.String("listen", ":4500", "address the DD RPC service listens on")
		metricsAddr = flag.String("metrics_listen", ":4501", "address the Prometheus metrics endpoint listens on")
		simulation  = flag.Bool("simulation", false, "use simulation timeouts/teardown semantics")
	)
	flag.Parse()

	if err := run(*clusterFile, *rootDir, *apiVersion, *listen, *metricsAddr, *simulation); err != nil {
		glog.Fatalf("datadist: %v", err)
	}
}

func run(clusterFile, rootDir string, apiVersion int, listen, metricsAddr string, simulation bool) error {
	client, err := systemkeys.Open(clusterFile, apiVersion, rootDir)
	if err != nil {
		return fmt.Errorf("opening system keys client: %w", err)
	}

	cfg := config.Get()
	ddID := uuid.New()
	enabled := orchestrator.NewEnabledState()

	o := &orchestrator.Orchestrator{
		Client:                      client,
		Config:                      cfg,
		DDID:                        ddID,
		Enabled:                     enabled,
		Relocations:                 make(chan orchestrator.Relocation, 4096),
		ShardEncodeLocationMetadata: true,
		Simulation:                  simulation,
	}

	workers := rpcsvc.NewWorkerClient()
	defer workers.Close()

	snap := &orchestrator.SnapshotCoordinator{
		Enabled:            enabled,
		Client:             client,
		Config:             cfg,
		Workers:            workers,
		ListTLogWorkers:    func() []string { return cfg.GetStringSlice("cluster.tlog_workers") },
		ListStorageWorkers: func() []string { return cfg.GetStringSlice("cluster.storage_workers") },
		ListCoordinators:   func() []string { return cfg.GetStringSlice("cluster.coordinators") },
		StorageTeamSize:    func() int { return cfg.GetInt("dd.storage_team_size") },
		Simulation:         simulation,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.V(0).Infof("datadist: received shutdown signal")
		cancel()
	}()

	handlers := &rpcsvc.Handlers{
		Snapshot: snap,
		Exclusion: &orchestrator.ExclusionChecker{
			Servers: o.Servers,
		},
		WigglerPrimary: o.WigglerPrimary,
		WigglerRemote:  o.WigglerRemote,
		ShardMetrics:   func(begin, end []byte, limit int) []orchestrator.ShardMetric { return nil },
		Halt: func(requesterID uuid.UUID) {
			glog.V(0).Infof("datadist: halt requested by %s", requesterID)
			cancel()
		},
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listen, err)
	}
	grpcServer := rpcsvc.NewServer(handlers)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			glog.Warningf("datadist: grpc server stopped: %v", err)
		}
	}()
	defer grpcServer.GracefulStop()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metrics.Gather, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Warningf("datadist: metrics server stopped: %v", err)
		}
	}()
	defer metricsServer.Close()

	glog.V(0).Infof("datadist: serving RPC on %s, metrics on %s (dd id %s)", listen, metricsAddr, ddID)
	return o.Run(ctx)
}
