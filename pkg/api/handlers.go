package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/auth"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/memory"
	"github.com/khryptorgraphics/a2a-memory-core/pkg/types"
)

// httpStatusFor maps an a2aerr.Kind to the HTTP status a REST caller should see.
func httpStatusFor(err error) int {
	switch a2aerr.KindOf(err) {
	case a2aerr.Forbidden:
		return http.StatusForbidden
	case a2aerr.NotFound:
		return http.StatusNotFound
	case a2aerr.Backpressure:
		return http.StatusTooManyRequests
	case a2aerr.Timeout, a2aerr.Cancelled:
		return http.StatusGatewayTimeout
	case a2aerr.InvalidConfig, a2aerr.MalformedClock, a2aerr.InvalidDelta, a2aerr.UnknownAlgorithm:
		return http.StatusBadRequest
	case a2aerr.ConflictNeedsReview:
		return http.StatusConflict
	case a2aerr.QuorumUnavailable, a2aerr.ShardMissing, a2aerr.MigrationFailed, a2aerr.TransportError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c *gin.Context, err error) {
	c.JSON(httpStatusFor(err), gin.H{
		"error": string(a2aerr.KindOf(err)),
		"message": err.Error(),
	})
}

// roleFromContext returns the authenticated agent's role, or "anonymous" for
// routes mounted under OptionalAuth.
func roleFromContext(c *gin.Context) string {
	if claims, ok := auth.GetCurrentClaims(c); ok {
		return claims.Role
	}
	return "anonymous"
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"agent_id":  s.config.AgentID,
	})
}

func (s *Server) metricsHandler(c *gin.Context) {
	s.metricsHTTP.ServeHTTP(c.Writer, c.Request)
}

// entryResponse renders a memory.Entry for JSON transport; Entry embeds an
// unexported-field vclock.Clock, so the wire form snapshots it instead of
// relying on struct tags.
func entryResponse(e *memory.Entry) gin.H {
	return gin.H{
		"key":   e.Key,
		"value": e.Value,
		"clock": e.Clock.Snapshot(),
		"metadata": gin.H{
			"namespace":    e.Metadata.Namespace,
			"source_agent": e.Metadata.SourceAgent,
			"priority":     e.Metadata.Priority,
			"ttl_seconds":  e.Metadata.TTL.Seconds(),
			"content_type": e.Metadata.ContentType,
			"checksum":     e.Metadata.Checksum,
			"created_at":   e.Metadata.CreatedAt,
		},
	}
}

type putRequest struct {
	Value       types.MetaValue `json:"value"`
	Priority    int             `json:"priority"`
	TTLSeconds  int64           `json:"ttl_seconds"`
	ContentType string          `json:"content_type"`
}

func (s *Server) putHandler(c *gin.Context) {
	key := c.Param("key")
	var req putRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	meta := memory.EntryMetadata{
		Priority:    req.Priority,
		ContentType: req.ContentType,
		CreatedAt:   time.Now(),
	}
	if req.TTLSeconds > 0 {
		meta.TTL = time.Duration(req.TTLSeconds) * time.Second
	}

	entry, err := s.manager.Put(c.Request.Context(), roleFromContext(c), key, req.Value, meta)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entryResponse(entry))
}

func (s *Server) getHandler(c *gin.Context) {
	key := c.Param("key")
	entry, err := s.manager.Get(roleFromContext(c), key)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, entryResponse(entry))
}

func (s *Server) deleteHandler(c *gin.Context) {
	key := c.Param("key")
	if err := s.manager.Delete(c.Request.Context(), roleFromContext(c), key); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted", "key": key})
}

type mergeRequest struct {
	Value types.MetaValue   `json:"value"`
	Clock map[string]uint64 `json:"clock" binding:"required"`
	Agent string            `json:"agent" binding:"required"`
}

func (s *Server) mergeHandler(c *gin.Context) {
	key := c.Param("key")
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if err := s.manager.Merge(c.Request.Context(), roleFromContext(c), key, req.Value, req.Clock, req.Agent); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "merge accepted", "key": key})
}

// statusHandler reports topology, shard, and metrics state for operational
// dashboards (spec §4.7 "Metrics" / §4.6 "Shard").
func (s *Server) statusHandler(c *gin.Context) {
	topo := s.manager.TopologyState()
	shards := s.manager.Shards().Shards()
	snap := s.manager.SnapshotMetrics()

	shardViews := make([]gin.H, 0, len(shards))
	for _, sh := range shards {
		shardViews = append(shardViews, gin.H{
			"shard_id":      sh.ShardID,
			"start_key":     sh.StartKey,
			"end_key":       sh.EndKey,
			"primary_node":  sh.PrimaryNode,
			"replicas":      sh.Replicas,
			"key_count":     sh.KeyCount,
			"size":          sh.Size,
			"status":        sh.Status,
			"version":       sh.Version,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"agent_id": s.config.AgentID,
		"topology": gin.H{
			"type":               topo.Type,
			"nodes":              topo.Nodes,
			"replication_factor": topo.ReplicationFactor,
			"consistency":        topo.Consistency,
			"efficiency":         topo.Efficiency(),
		},
		"shards": shardViews,
		"metrics": gin.H{
			"total_memory_usage":      snap.TotalMemoryUsage,
			"replicated_memory_usage": snap.ReplicatedMemoryUsage,
			"compression_savings":     snap.CompressionSavings,
			"sync_latency": gin.H{
				"min": snap.SyncLatency.Min.String(),
				"max": snap.SyncLatency.Max.String(),
				"avg": snap.SyncLatency.Avg.String(),
			},
			"topology_efficiency": snap.TopologyEfficiency,
			"partition_balance":   snap.PartitionBalance,
			"conflict_rate":       snap.ConflictRate,
			"throughput":          snap.Throughput,
		},
		"connected_clients": s.websocket.GetConnectedClients(),
	})
}

type loginRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// loginHandler issues a token for a pre-registered agent. There is no
// password: trust establishment for the swarm happens out of band when an
// operator registers the agent into the Registry (spec has no notion of
// end-user credentials, only agent identity).
func (s *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	agent, err := s.registry.Get(req.AgentID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown_agent", "message": "agent is not registered"})
		return
	}
	if !agent.Active {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "inactive_agent", "message": "agent is deactivated"})
		return
	}

	pair, err := s.jwtSvc.GenerateToken(agent.ID, agent.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_generation_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (s *Server) refreshHandler(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	pair, err := s.jwtSvc.RefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pair)
}
