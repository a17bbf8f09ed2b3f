package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/a2a-memory-core/internal/config"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/api"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/auth"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/crdt"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/memory"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/metrics"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/persistence"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/transport"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/types"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/vclock"
)

var (
	version = "0.1.0-dev"
	rootCmd *cobra.Command
)

func main() {
	rootCmd = &cobra.Command{
		Use:   "a2a-memory",
		Short: "a2a-memory-core - distributed shared memory for agent swarms",
		Long: `a2a-memory-core - distributed shared memory for agent swarms

A CRDT-backed, gossip-replicated key/value store that lets a swarm of
autonomous agents share state without a central coordinator: vector-clock
causality tracking, automatic conflict resolution, consistent-hash
sharding, and a REST/WebSocket surface for put/get/delete/merge.

Quick Start:
  a2a-memory start --config config.yaml   # Start a node
  a2a-memory status --addr http://127.0.0.1:8743 # Query a running node
  a2a-memory validate --config config.yaml # Check a config file

API Endpoint: http://localhost:8743`,
		Version: version,
	}

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(benchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an a2a-memory node",
		Long:  `Starts the gossip worker pool, the optional persistence sink, and the REST/WebSocket API server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")

	return cmd
}

func statusCmd() *cobra.Command {
	var addr string
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running node's status",
		Long:  `Fetches GET /api/v1/status from a running node and prints topology, shard, and conflict-resolution metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(addr, outputFormat)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8743", "Node API base address")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json")

	return cmd
}

func validateCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long:  `Loads the configuration and checks required fields: agent ID, listen address, JWT secret, and (if enabled) persistence DSN fields.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(configFile)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path")

	return cmd
}

func benchCmd() *cobra.Command {
	var ops int
	var agentCount int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure local put/get latency",
		Long:  `Runs a fixed number of put/get operations against an in-process Manager (no network, no persistence) and reports latency percentiles. Not a substitute for a cluster load test.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(ops, agentCount)
		},
	}

	cmd.Flags().IntVar(&ops, "ops", 1000, "Number of put operations to run")
	cmd.Flags().IntVar(&agentCount, "agents", 3, "Simulated topology size")

	return cmd
}

// runBench exercises memory.Manager.Put/Get directly against a discarding
// gossip.Sender, reporting latency percentiles for a quick local sanity
// check. It is deliberately not a cluster load-test harness.
func runBench(ops, agentCount int) error {
	if ops < 1 {
		return fmt.Errorf("ops must be at least 1")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	manager := memory.NewManager(memory.Config{
		AgentID:           "bench-agent",
		Topology:          memory.TopologyInputs{AgentCount: agentCount, Consistency: memory.ConsistencyEventual},
		ShardConfig:       config.DefaultConfig().Sharding,
		GossipConfig:      config.DefaultConfig().Gossip,
		ConflictRateConst: 10,
		EmergencyPressure: 0.9,
	}, discardSender{}, nil, logger)

	durations := make([]time.Duration, 0, ops)
	for i := 0; i < ops; i++ {
		key := fmt.Sprintf("bench/%d", i)
		start := time.Now()
		if _, err := manager.Put(context.Background(), auth.RoleAdmin, key, types.IntValue(int64(i)), memory.EntryMetadata{}); err != nil {
			return fmt.Errorf("put %d: %w", i, err)
		}
		if _, err := manager.Get(auth.RoleAdmin, key); err != nil {
			return fmt.Errorf("get %d: %w", i, err)
		}
		durations = append(durations, time.Since(start))
	}

	fmt.Printf("ops=%d\n", ops)
	fmt.Printf("min=%s p50=%s p99=%s max=%s\n",
		percentile(durations, 0), percentile(durations, 0.50), percentile(durations, 0.99), percentile(durations, 1))
	return nil
}

func percentile(durations []time.Duration, p float64) time.Duration {
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// discardSender is bench's gossip.Sender: bench runs against a single
// in-process Manager, so outbound frames have nowhere to go.
type discardSender struct{}

func (discardSender) Send(ctx context.Context, targetAgent string, frame []byte) error { return nil }

// runStart assembles the full node: memory.Manager over a libp2p transport,
// an optional Postgres persistence sink, and the REST/WebSocket API server
// fed by a fanned-out metric sink (Prometheus + live dashboard feed).
func runStart(configFile string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("agent_id", cfg.AgentID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := transport.New(ctx, cfg.Transport)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer host.Close()

	manager := memory.NewManager(memory.Config{
		AgentID:           cfg.AgentID,
		Topology:          cfg.Topology,
		ShardConfig:       cfg.Sharding,
		GossipConfig:      cfg.Gossip,
		ConflictRateConst: cfg.Conflict.RateConstant,
		EmergencyPressure: 0.9,
	}, host, nil, logger)

	host.SetReceiveHandler(func(ctx context.Context, from string, payload []byte) {
		msg, err := memory.DecodeMessage(payload)
		if err != nil {
			logger.Warn("drop malformed gossip frame", "from", from, "error", err)
			return
		}
		manager.Receive(ctx, from, msg)
	})

	registry := auth.NewRegistry()
	if err := registry.Register(&auth.Agent{ID: cfg.AgentID, Role: auth.RoleAdmin, Active: true}); err != nil {
		logger.Warn("register local agent", "error", err)
	}
	manager.SetAgentRegistry(registry)

	if cfg.Persistence.Enabled {
		sink, err := persistence.New(ctx, cfg.Persistence.Postgres, logger)
		if err != nil {
			return fmt.Errorf("start persistence: %w", err)
		}
		defer sink.Close()

		manager.SetOperationSink(func(ctx context.Context, agentID, key string, opType crdt.OpType, value types.MetaValue, clock map[vclock.AgentID]uint64) {
			if err := sink.AppendOperation(ctx, agentID, key, int(opType), value, clock); err != nil {
				logger.Warn("persist operation", "key", key, "error", err)
			}
		})
		logger.Info("persistence sink enabled")
	}

	apiServer, err := api.NewServer(cfg, manager, registry, metrics.Handler(), logger)
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}

	manager.SetMetricSink(metrics.Fanout(metrics.Sink, apiServer.WebSocketHub().MetricSink))
	manager.Protocol().SetMetricSink(metrics.Fanout(metrics.Sink, apiServer.WebSocketHub().MetricSink))

	manager.Run(ctx, 4)
	defer manager.Stop(context.Background())

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("node started", "listen_addr", cfg.API.ListenAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiServer.Stop(shutdownCtx)
}

// runStatus fetches and prints a running node's status.
func runStatus(addr, outputFormat string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/api/v1/status")
	if err != nil {
		return fmt.Errorf("reach node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned %s", resp.Status)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Println("a2a-memory node status")
	fmt.Println("----------------------")
	for _, key := range []string{"agent_id", "topology", "shards", "metrics"} {
		if v, ok := status[key]; ok {
			b, _ := json.Marshal(v)
			fmt.Printf("%-10s %s\n", key+":", b)
		}
	}
	return nil
}

// runValidate loads a config file and checks the fields a running node
// actually depends on, rather than simulating fake diagnostic output.
func runValidate(configFile string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var problems []string

	if cfg.AgentID == "" {
		problems = append(problems, "agent_id must not be empty")
	}
	if cfg.API.ListenAddr == "" {
		problems = append(problems, "api.listen_addr must not be empty")
	}
	if cfg.Auth.Enabled && cfg.JWT.SecretKey == "change-this-in-production" {
		problems = append(problems, "jwt.secret_key is still the default; set JWT_SECRET_KEY before deploying")
	}
	if cfg.Topology.AgentCount < 1 {
		problems = append(problems, "topology.agent_count must be at least 1")
	}
	if cfg.Persistence.Enabled {
		if cfg.Persistence.Postgres.Host == "" {
			problems = append(problems, "persistence.postgres.host must not be empty when persistence is enabled")
		}
		if cfg.Persistence.Postgres.Name == "" {
			problems = append(problems, "persistence.postgres.name must not be empty when persistence is enabled")
		}
	}

	if len(problems) == 0 {
		fmt.Println("configuration valid")
		return nil
	}

	fmt.Println("configuration problems found:")
	for _, p := range problems {
		fmt.Printf("  - %s\n", p)
	}
	return fmt.Errorf("%d configuration problem(s)", len(problems))
}
