package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Omkar110401/raft-distributed-key-vault/pkg/api"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/bench"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/chaos"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/cluster"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/kv"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/metrics"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/raft"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/rpc"
	"github.com/Omkar110401/raft-distributed-key-vault/pkg/wal"
)

func main() {
	root := &cobra.Command{
		Use:   "keyvault",
		Short: "Replicated key-value vault with leader-based consensus",
	}
	root.AddCommand(serveCmd(), benchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	var (
		nodeID            string
		configPath        string
		listen            string
		dataDir           string
		logLevel          string
		heartbeat         time.Duration
		electionMin       time.Duration
		electionMax       time.Duration
		snapshotThreshold uint64
		enableChaos       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one cluster node",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel)

			topo, err := cluster.Load(configPath, nodeID)
			if err != nil {
				return err
			}

			if listen == "" {
				self, err := url.Parse(topo.URL(nodeID))
				if err != nil {
					return fmt.Errorf("derive listen address: %w", err)
				}
				listen = self.Host
			}
			if dataDir == "" {
				dataDir = fmt.Sprintf("data/%s", nodeID)
			}

			stable, err := wal.New(dataDir)
			if err != nil {
				return err
			}

			vault := kv.NewVault()

			cfg := raft.DefaultConfig(nodeID, topo.Peers())
			if heartbeat > 0 {
				cfg.HeartbeatInterval = heartbeat
			}
			if electionMin > 0 {
				cfg.ElectionTimeoutMin = electionMin
			}
			if electionMax > 0 {
				cfg.ElectionTimeoutMax = electionMax
			}
			if snapshotThreshold > 0 {
				cfg.SnapshotThreshold = snapshotThreshold
			}

			var transport raft.Transport = rpc.NewHTTPTransport(topo.URLs(), cfg.RPCTimeout)
			var chaosTransport *chaos.Transport
			if enableChaos {
				chaosTransport = chaos.Wrap(transport)
				transport = chaosTransport
				logger.Warn().Msg("chaos fault injection enabled; do not use in production")
			}

			node := raft.NewNode(cfg, transport, stable, vault, logger)

			registry := prometheus.NewRegistry()
			recorder := metrics.NewRecorder(4096, registry)
			node.SetObserver(recorder)

			server := api.NewServer(node, vault, recorder, registry, logger)

			benchTargets := make([]string, 0, topo.Size())
			for _, u := range topo.URLs() {
				benchTargets = append(benchTargets, u)
			}
			benchRunner := bench.NewRunner(logger)
			server.Mount(func(r gin.IRoutes) { bench.RegisterRoutes(r, benchRunner, benchTargets) })

			if chaosTransport != nil {
				server.Mount(func(r gin.IRoutes) { chaos.RegisterRoutes(r, chaosTransport) })
			}

			if err := node.Start(); err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:    listen,
				Handler: server.Handler(),
			}

			go func() {
				logger.Info().Str("listen", listen).Msg("http server listening")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("http server failed")
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info().Msg("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			httpServer.Shutdown(ctx)
			node.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "id", "", "this node's id (required)")
	cmd.Flags().StringVar(&configPath, "config", "cluster.yaml", "cluster topology file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address; defaults to the host of this node's configured url")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "durable state directory (default data/<id>)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "zerolog level")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 0, "heartbeat interval override")
	cmd.Flags().DurationVar(&electionMin, "election-min", 0, "election timeout lower bound override")
	cmd.Flags().DurationVar(&electionMax, "election-max", 0, "election timeout upper bound override")
	cmd.Flags().Uint64Var(&snapshotThreshold, "snapshot-threshold", 0, "entries applied past the last snapshot before compaction")
	cmd.Flags().BoolVar(&enableChaos, "enable-chaos", false, "mount the fault-injection endpoints (testing only)")
	cmd.MarkFlagRequired("id")

	return cmd
}

func benchCmd() *cobra.Command {
	var (
		configPath  string
		writes      int
		reads       int
		concurrency int
		keySpace    int
		logLevel    string
		asCSV       bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic workload against the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel)

			topo, err := cluster.Load(configPath, "")
			if err != nil {
				return err
			}
			targets := make([]string, 0, topo.Size())
			for _, u := range topo.URLs() {
				targets = append(targets, u)
			}

			runner := bench.NewRunner(logger)
			summary, err := runner.Run(cmd.Context(), bench.Options{
				Targets:     targets,
				Writes:      writes,
				Reads:       reads,
				Concurrency: concurrency,
				KeySpace:    keySpace,
			})
			if err != nil {
				return err
			}

			if asCSV {
				fmt.Print(summary.CSV())
				return nil
			}
			fmt.Printf("run %s against %s: %d writes, %d reads, %d errors in %v (p50=%v p95=%v p99=%v)\n",
				summary.RunID, summary.Leader, summary.Writes, summary.Reads,
				summary.Errors, summary.Elapsed, summary.P50, summary.P95, summary.P99)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "cluster.yaml", "cluster topology file")
	cmd.Flags().IntVar(&writes, "writes", 1000, "number of writes")
	cmd.Flags().IntVar(&reads, "reads", 0, "number of reads")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "concurrent workers")
	cmd.Flags().IntVar(&keySpace, "keys", 256, "distinct keys in the workload")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "zerolog level")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "emit the summary as CSV")

	return cmd
}
