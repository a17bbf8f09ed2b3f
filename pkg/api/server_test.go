package api

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/a2a-memory-core/internal/config"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/auth"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/gossip"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/memory"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/sharding"
)

type noopSender struct{}

func (noopSender) Send(ctx context.Context, targetAgent string, frame []byte) error { return nil }

type noopMetricsHandler struct{}

func (noopMetricsHandler) ServeHTTP(http.ResponseWriter, *http.Request) {}

func testManager(t *testing.T) *memory.Manager {
	t.Helper()
	cfg := memory.Config{
		AgentID:           "agent-test",
		Topology:          memory.TopologyInputs{AgentCount: 1, Consistency: memory.ConsistencyEventual},
		ShardConfig:       sharding.DefaultConfig(),
		GossipConfig:      gossip.DefaultConfig(),
		ConflictRateConst: 10,
		EmergencyPressure: 0.95,
	}
	return memory.NewManager(cfg, noopSender{}, nil, slog.Default())
}

func TestNewServerBuildsRouter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.ListenAddr = "127.0.0.1:0"

	m := testManager(t)
	registry := auth.NewRegistry()
	require.NoError(t, registry.Register(&auth.Agent{ID: "agent-test", Role: auth.RoleAgent, Active: true}))

	srv, err := NewServer(cfg, m, registry, noopMetricsHandler{}, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, srv)

	router := srv.setupRouter()
	assert.NotNil(t, router)
}

func TestServerManagerReportsTopology(t *testing.T) {
	cfg := config.DefaultConfig()
	m := testManager(t)
	registry := auth.NewRegistry()

	srv, err := NewServer(cfg, m, registry, noopMetricsHandler{}, slog.Default())
	require.NoError(t, err)

	topo := srv.manager.TopologyState()
	assert.NotEmpty(t, topo.Type)
}

func TestWebSocketHubMetricSinkRoutesByEventName(t *testing.T) {
	hub := NewWebSocketHub(slog.Default())
	client := &WebSocketClient{
		ID:            "client-1",
		Send:          make(chan WebSocketMessage, 4),
		Hub:           hub,
		Subscriptions: map[string]bool{MessageTypeConflict: true, MessageTypeMemoryPressure: true},
	}
	hub.clients[client] = true

	hub.MetricSink(gossip.MetricEvent{Name: "a2a.conflict.resolved", Value: 1})
	hub.MetricSink(gossip.MetricEvent{Name: "a2a.memory.pressure", Value: 0.5})
	hub.MetricSink(gossip.MetricEvent{Name: "a2a.gossip.sent", Value: 1})

	require.Len(t, client.Send, 2)
	assert.Equal(t, MessageTypeConflict, (<-client.Send).Type)
	assert.Equal(t, MessageTypeMemoryPressure, (<-client.Send).Type)
}
