// Package transport provides the libp2p-backed implementation of the core's
// single transport hook, send(targetAgent, bytes) -> Result. It is one
// optional concrete transport; pkg/memory and pkg/gossip depend only on the
// gossip.Sender interface, never on this package.
//
// Grounded on pkg/p2p/config.go's NodeConfig (listen addrs, noise/relay/NAT
// toggles, connection-manager watermarks) and the nested ollama-distributed
// module's pkg/p2p/host/host.go bootstrap sequence (libp2p.New option
// assembly), consulted as reference only since that file lives in a
// separate go.mod.
package transport

import "time"

// Config configures a libp2p Host (spec §6 "transport" config keys).
type Config struct {
	Listen          []string
	EnableNoise     bool
	EnableRelay     bool
	ConnMgrLow      int
	ConnMgrHigh     int
	ConnMgrGrace    time.Duration
	BootstrapPeers  []string
	ProtocolID      string
	DialTimeout     time.Duration
}

// DefaultConfig mirrors the teacher's DefaultNodeConfig defaults, scoped to
// what this transport actually uses.
func DefaultConfig() Config {
	return Config{
		Listen:         []string{"/ip4/0.0.0.0/tcp/0"},
		EnableNoise:    true,
		EnableRelay:    true,
		ConnMgrLow:     10,
		ConnMgrHigh:    100,
		ConnMgrGrace:   30 * time.Second,
		BootstrapPeers: []string{},
		ProtocolID:     "/a2a-memory/gossip/1.0.0",
		DialTimeout:    5 * time.Second,
	}
}
