package transport

import (
	"bufio"
	"context"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"

	"github.com/khryptorgraphics/a2a-memory-core/pkg/a2aerr"
)

// ReceiveHandler is invoked for every frame that arrives on the gossip
// protocol stream.
type ReceiveHandler func(ctx context.Context, from string, payload []byte)

// Host wraps a libp2p host.Host, implementing gossip.Sender's
// Send(ctx, targetAgent, frame) and routing inbound streams to an
// injected ReceiveHandler (spec §6 "Transport hook").
type Host struct {
	mu       sync.RWMutex
	h        host.Host
	cfg      Config
	protoID  protocol.ID
	onRecv   ReceiveHandler
	peerAddr map[string]peer.AddrInfo // agentID -> resolved multiaddr, seeded by bootstrap/Connect
}

// New bootstraps a libp2p host per cfg (spec §6, grounded on the teacher's
// NewP2PHost option assembly: tcp transport, noise security, a
// low/high-watermark connection manager).
func New(ctx context.Context, cfg Config) (*Host, error) {
	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Listen))
	for _, a := range cfg.Listen {
		maddr, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			continue
		}
		listenAddrs = append(listenAddrs, maddr)
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Transport(tcp.NewTCPTransport),
	}
	if cfg.EnableNoise {
		opts = append(opts, libp2p.Security(noise.ID, noise.New))
	}
	if cfg.EnableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	if cfg.ConnMgrHigh > 0 {
		mgr, err := connmgr.NewConnManager(cfg.ConnMgrLow, cfg.ConnMgrHigh, connmgr.WithGracePeriod(cfg.ConnMgrGrace))
		if err != nil {
			return nil, a2aerr.Wrap(a2aerr.InvalidConfig, "build connection manager", err)
		}
		opts = append(opts, libp2p.ConnectionManager(mgr))
	}

	libp2pHost, err := libp2p.New(opts...)
	if err != nil {
		return nil, a2aerr.Wrap(a2aerr.TransportError, "create libp2p host", err)
	}

	h := &Host{
		h:        libp2pHost,
		cfg:      cfg,
		protoID:  protocol.ID(cfg.ProtocolID),
		peerAddr: make(map[string]peer.AddrInfo),
	}
	libp2pHost.SetStreamHandler(h.protoID, h.handleStream)

	for _, addr := range cfg.BootstrapPeers {
		if err := h.Connect(ctx, addr); err != nil {
			continue
		}
	}
	return h, nil
}

// SetReceiveHandler installs the callback invoked for every inbound frame.
func (h *Host) SetReceiveHandler(fn ReceiveHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecv = fn
}

// ID returns this host's peer ID string, used as its gossip agent ID.
func (h *Host) ID() string { return h.h.ID().String() }

// Connect parses a multiaddr (including its /p2p/<id> suffix), dials it,
// and remembers the peer under its agent ID for future Send calls.
func (h *Host) Connect(ctx context.Context, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return a2aerr.Wrap(a2aerr.InvalidConfig, "parse peer address", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return a2aerr.Wrap(a2aerr.InvalidConfig, "resolve peer info", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, h.cfg.DialTimeout)
	defer cancel()
	if err := h.h.Connect(dialCtx, *info); err != nil {
		return a2aerr.Wrap(a2aerr.TransportError, "dial peer", err)
	}
	h.mu.Lock()
	h.peerAddr[info.ID.String()] = *info
	h.mu.Unlock()
	return nil
}

// Send implements gossip.Sender: open a fresh stream to targetAgent, write
// one frame, close. Streams are not kept open between calls; gossip's own
// send-rate limiter bounds how often this runs.
func (h *Host) Send(ctx context.Context, targetAgent string, payload []byte) error {
	h.mu.RLock()
	info, ok := h.peerAddr[targetAgent]
	h.mu.RUnlock()
	if !ok {
		pid, err := peer.Decode(targetAgent)
		if err != nil {
			return a2aerr.New(a2aerr.TransportError, "unknown target agent: "+targetAgent)
		}
		info = peer.AddrInfo{ID: pid}
	}

	dialCtx, cancel := context.WithTimeout(ctx, h.cfg.DialTimeout)
	defer cancel()
	stream, err := h.h.NewStream(dialCtx, info.ID, h.protoID)
	if err != nil {
		return a2aerr.Wrap(a2aerr.TransportError, "open stream", err)
	}
	defer stream.Close()

	if err := writeFrame(stream, FlagNone, payload); err != nil {
		return err
	}
	return nil
}

func (h *Host) handleStream(s network.Stream) {
	defer s.Close()
	from := s.Conn().RemotePeer().String()
	r := bufio.NewReader(s)
	_, payload, err := readFrame(r)
	if err != nil {
		return
	}
	h.mu.RLock()
	fn := h.onRecv
	h.mu.RUnlock()
	if fn != nil {
		fn(context.Background(), from, payload)
	}
}

// Close shuts down the underlying libp2p host.
func (h *Host) Close() error {
	return h.h.Close()
}
