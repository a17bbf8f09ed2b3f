package gossip

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// Sender delivers a frame to a target agent; implemented by pkg/transport
// (spec §6 "Transport hook. A single abstraction send(targetAgent, bytes)
// -> Result is provided by the host").
type Sender interface {
	Send(ctx context.Context, targetAgent string, frame []byte) error
}

// MetricEvent is emitted to an injected sink (spec §6 "Metrics sink").
type MetricEvent struct {
	Name  string
	Value float64
	Tags  map[string]string
}

// MetricSink receives metric events; nil is a valid no-op sink.
type MetricSink func(MetricEvent)

// Config configures a Protocol (spec §6 gossip.* keys).
type Config struct {
	Fanout               int
	GossipInterval       time.Duration
	SyncInterval         time.Duration
	MaxTTL               int
	CompressionThreshold int
	AdaptiveGossip       bool
	MinQuorumThreshold   float64
	FailureThreshold     int
	QueueCapacity        int // batchSize * K, spec §4.6
	SendRateLimit        rate.Limit
	SendBurst            int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Fanout:               3,
		GossipInterval:       200 * time.Millisecond,
		SyncInterval:         2 * time.Second,
		MaxTTL:               6,
		CompressionThreshold: 4096,
		AdaptiveGossip:       true,
		MinQuorumThreshold:   0.5,
		FailureThreshold:     3,
		QueueCapacity:        500,
		SendRateLimit:        rate.Limit(200),
		SendBurst:            50,
	}
}

// EncodeFunc canonically serializes a Message to bytes (the payload the
// Sender transmits); supplied by the caller so Protocol has no wire-format
// opinion beyond what pkg/transport's frame wraps around it.
type EncodeFunc func(Message) ([]byte, error)

// SyncRequestHandler answers an incoming sync_request with the local
// operations the requester is missing, keyed by the requester's
// per-agent sync vector; owned by the memory manager.
type SyncRequestHandler func(ctx context.Context, from string, syncVector map[string]uint64) ([]byte, error)

// Protocol is the gossip layer (spec §4.6, C6). It owns no reference back
// to the memory manager: callers subscribe via OnDeliver, matching the
// redesign in spec §7 ("gossip knows only the callback, not the
// manager").
type Protocol struct {
	agentID    string
	cfg        Config
	table      *Table
	history    *History
	quorum     *QuorumTracker
	queue      *PendingQueue
	sender     Sender
	encode     EncodeFunc
	metrics    MetricSink
	classifier PriorityClassifier
	limiter    *rate.Limiter

	mu         sync.Mutex
	syncVector map[string]uint64 // per-agent last-known sync point
	onDeliver  func(Message)
	onSyncReq  SyncRequestHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Protocol for agentID.
func New(agentID string, cfg Config, sender Sender, encode EncodeFunc) *Protocol {
	table := NewTable()
	p := &Protocol{
		agentID:    agentID,
		cfg:        cfg,
		table:      table,
		history:    NewHistory(5 * time.Minute),
		quorum:     NewQuorumTracker(table, cfg.MinQuorumThreshold),
		queue:      NewPendingQueue(cfg.QueueCapacity),
		sender:     sender,
		encode:     encode,
		classifier: DefaultPriorityClassifier,
		limiter:    rate.NewLimiter(cfg.SendRateLimit, cfg.SendBurst),
		syncVector: make(map[string]uint64),
	}
	return p
}

// OnDeliver registers the callback invoked for every message that reaches
// this node for local application (update, sync reply, etc). Only one
// callback is supported; the memory manager is the sole owner.
func (p *Protocol) OnDeliver(fn func(Message)) { p.onDeliver = fn }

// OnSyncRequest registers the handler answering incoming sync_requests.
func (p *Protocol) OnSyncRequest(fn SyncRequestHandler) { p.onSyncReq = fn }

// SetMetricSink installs (or replaces) the metrics callback.
func (p *Protocol) SetMetricSink(sink MetricSink) { p.metrics = sink }

// SetPriorityClassifier overrides the default ad-hoc classifier (spec §7
// open question).
func (p *Protocol) SetPriorityClassifier(c PriorityClassifier) { p.classifier = c }

// Table exposes the node table (peer management, e.g. initial seeding).
func (p *Protocol) Table() *Table { return p.table }

// Quorum exposes the quorum tracker.
func (p *Protocol) Quorum() *QuorumTracker { return p.quorum }

func (p *Protocol) emit(name string, value float64, tags map[string]string) {
	if p.metrics != nil {
		p.metrics(MetricEvent{Name: name, Value: value, Tags: tags})
	}
}

// PropagateUpdate enqueues msg for fanout propagation, assigning a fresh ID
// and TTL if unset, and setting Priority from the installed classifier
// (any Priority already on msg is overwritten) (spec §4.6 "propagateUpdate returns
// immediately after enqueueing").
func (p *Protocol) PropagateUpdate(msg Message, namespace string, metadata map[string]string) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.TTL == 0 {
		msg.TTL = p.cfg.MaxTTL
	}
	if msg.Origin == "" {
		msg.Origin = p.agentID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Priority = p.classifier(msg.Type, namespace, metadata)

	if err := p.queue.Enqueue(msg); err != nil {
		p.emit("a2a.gossip.failed", 1, map[string]string{"reason": "backpressure"})
		return err
	}
	return nil
}

// RunWorkers starts n worker goroutines draining the pending queue plus
// the heartbeat/anti-entropy periodic tasks. Call Stop to cancel.
func (p *Protocol) RunWorkers(ctx context.Context, n int) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.drainLoop(ctx)
	}
	p.wg.Add(2)
	go p.heartbeatLoop(ctx)
	go p.antiEntropyLoop(ctx)
}

// Stop cancels all background tasks, flushes a farewell rumor best-effort,
// then waits for workers to exit (spec §6 "Shutdown propagates
// cancellation, flushes farewell messages best-effort, then releases
// resources").
func (p *Protocol) Stop(ctx context.Context) {
	p.Farewell(ctx)
	if p.cancel != nil {
		p.cancel()
	}
	p.queue.Close()
	p.wg.Wait()
}

func (p *Protocol) drainLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		msg, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.disseminate(ctx, msg)
	}
}

// disseminate forwards msg to a fanout of active peers, honoring TTL and
// no-echo (spec §4.6, §8 "Gossip no-echo").
func (p *Protocol) disseminate(ctx context.Context, msg Message) {
	now := time.Now()
	if p.history.SeenBefore(msg.ID, now) {
		p.emit("a2a.gossip.dup", 1, nil)
		return
	}
	if msg.HasVisited(p.agentID) {
		return
	}
	if msg.TTL <= 0 {
		return
	}

	if p.onDeliver != nil {
		p.onDeliver(msg)
	}

	fwd := msg.Forwarded(p.agentID)
	if fwd.TTL <= 0 {
		return
	}

	active := p.table.Active()
	targets := SelectFanout(active, p.cfg.Fanout, msg.Priority, p.cfg.AdaptiveGossip)
	payload, err := p.encode(fwd)
	if err != nil {
		p.emit("a2a.gossip.failed", 1, map[string]string{"reason": "encode"})
		return
	}
	for _, n := range targets {
		if fwd.HasVisited(n.AgentID) {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		if err := p.sender.Send(ctx, n.AgentID, payload); err != nil {
			p.emit("a2a.gossip.failed", 1, map[string]string{"target": n.AgentID})
			continue
		}
		p.emit("a2a.gossip.sent", 1, map[string]string{"target": n.AgentID})
	}
}

// Receive is called by the transport layer when a frame arrives from
// peer. It recovers the peer in the node table and routes the decoded
// message: node_leaving removes its origin from the node table,
// sync_request goes to the registered sync handler, and every other type
// goes to disseminate.
func (p *Protocol) Receive(ctx context.Context, from string, msg Message) {
	p.table.Recover(from)
	p.emit("a2a.gossip.received", 1, map[string]string{"from": from})

	switch msg.Type {
	case MessageNodeLeaving:
		p.table.Remove(msg.Origin)
		return
	case MessageSyncRequest:
		p.handleSyncRequest(ctx, from, msg)
		return
	default:
		p.disseminate(ctx, msg)
	}
}

func (p *Protocol) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			failed := p.table.DetectFailures(time.Now(), p.cfg.GossipInterval, p.cfg.FailureThreshold)
			for range failed {
				p.emit("a2a.gossip.failed", 1, map[string]string{"reason": "peer_inactive"})
			}
		}
	}
}

// antiEntropyLoop runs the periodic reconciliation sweep (spec §4.6
// "Anti-entropy").
func (p *Protocol) antiEntropyLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runAntiEntropyRound(ctx)
		}
	}
}

func (p *Protocol) runAntiEntropyRound(ctx context.Context) {
	targets := stalestLiveNodes(p.table.Active(), 3)
	p.mu.Lock()
	vector := cloneVector(p.syncVector)
	p.mu.Unlock()

	payload, err := json.Marshal(vector)
	if err != nil {
		p.emit("a2a.gossip.failed", 1, map[string]string{"reason": "anti_entropy_encode"})
		return
	}

	for _, n := range targets {
		msg := Message{
			ID:        uuid.NewString(),
			Type:      MessageSyncRequest,
			Priority:  PriorityMedium,
			Origin:    p.agentID,
			TTL:       1,
			Payload:   payload,
			CreatedAt: time.Now(),
		}
		frame, err := p.encode(msg)
		if err != nil {
			continue
		}
		if err := p.sender.Send(ctx, n.AgentID, frame); err != nil {
			p.emit("a2a.gossip.failed", 1, map[string]string{"target": n.AgentID, "reason": "anti_entropy"})
		}
	}
}

// handleSyncRequest decodes the requester's own sync vector from msg.Payload
// (populated by runAntiEntropyRound) and hands it to the registered handler,
// which diffs it against this node's operation log.
func (p *Protocol) handleSyncRequest(ctx context.Context, from string, msg Message) {
	if p.onSyncReq == nil {
		return
	}
	vector := make(map[string]uint64)
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &vector); err != nil {
			p.emit("a2a.gossip.failed", 1, map[string]string{"reason": "sync_request_decode"})
			return
		}
	}
	reply, err := p.onSyncReq(ctx, from, vector)
	if err != nil {
		p.emit("a2a.gossip.failed", 1, map[string]string{"reason": "sync_request"})
		return
	}
	_ = p.sender.Send(ctx, from, reply)
}

// SendDirect delivers msg straight to target, bypassing the fanout queue
// (used for point-to-point sync replies and delta pushes rather than rumor
// propagation). ID/TTL/Origin/CreatedAt are filled in if unset.
func (p *Protocol) SendDirect(ctx context.Context, target string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.TTL == 0 {
		msg.TTL = 1
	}
	if msg.Origin == "" {
		msg.Origin = p.agentID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	frame, err := p.encode(msg)
	if err != nil {
		return err
	}
	return p.sender.Send(ctx, target, frame)
}

// UpdateSyncVector records the latest known counter for agent, used by the
// next anti-entropy round (called by the memory manager after applying an
// operation).
func (p *Protocol) UpdateSyncVector(agent string, counter uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syncVector[agent] < counter {
		p.syncVector[agent] = counter
	}
}

// Farewell sends a best-effort node_leaving rumor with TTL=3 to every
// active peer (spec §4.6 "Farewell").
func (p *Protocol) Farewell(ctx context.Context) {
	msg := Message{
		ID:        uuid.NewString(),
		Type:      MessageNodeLeaving,
		Priority:  PriorityHigh,
		Origin:    p.agentID,
		TTL:       3,
		CreatedAt: time.Now(),
	}
	payload, err := p.encode(msg)
	if err != nil {
		return
	}
	for _, n := range p.table.Active() {
		_ = p.sender.Send(ctx, n.AgentID, payload)
	}
}

func stalestLiveNodes(active []*Node, k int) []*Node {
	sorted := make([]*Node, len(active))
	copy(sorted, active)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].LastSeen.Before(sorted[j-1].LastSeen); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[:k]
}

func cloneVector(v map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// RequestFreshAntiEntropy is called by the memory manager when it detects
// a corrupt delta, per spec §6: "CorruptBlob/InvalidDelta => increment
// failedSyncs, request a fresh anti-entropy round".
func (p *Protocol) RequestFreshAntiEntropy(ctx context.Context, fromAgent string) error {
	n, ok := p.table.Get(fromAgent)
	if !ok || !n.Active {
		return a2aerr.New(a2aerr.NotFound, "target agent not known or inactive: "+fromAgent)
	}
	msg := Message{
		ID:        uuid.NewString(),
		Type:      MessageSyncRequest,
		Priority:  PriorityHigh,
		Origin:    p.agentID,
		TTL:       1,
		CreatedAt: time.Now(),
	}
	payload, err := p.encode(msg)
	if err != nil {
		return a2aerr.Wrap(a2aerr.Internal, "encode sync request", err)
	}
	return p.sender.Send(ctx, fromAgent, payload)
}
