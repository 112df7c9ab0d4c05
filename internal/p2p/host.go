package p2p

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	host "github.com/libp2p/go-libp2p/core/host"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/nmxmxh/cmesh/internal/logx"
)

// Host is a listening libp2p node plus a best-effort record of the peers
// this process has been told to dial. It satisfies spec.md §6.2's
// "inbound TCP listener with bind ip, bind port, enabled flag".
type Host struct {
	inner  host.Host
	logger *logx.Logger

	mu      sync.Mutex
	dialSet map[string]struct{}
}

// Listen starts a libp2p host bound to bindAddr:bindPort using identity's
// keypair. If enabled is false, the host still exists (so PeerID/HexSuffix
// are available) but binds to an OS-assigned loopback port rather than the
// requested listener, matching "inbound TCP listener ... enabled flag".
func Listen(bindAddr string, bindPort int, enabled bool, identity *Identity, logger *logx.Logger) (*Host, error) {
	listenAddr := fmt.Sprintf("/ip4/%s/tcp/%d", bindAddr, bindPort)
	if !enabled {
		listenAddr = "/ip4/127.0.0.1/tcp/0"
	}
	if _, err := ma.NewMultiaddr(listenAddr); err != nil {
		return nil, fmt.Errorf("p2p: invalid listen address %q: %w", listenAddr, err)
	}

	h, err := libp2p.New(
		libp2p.Identity(identity.PrivKey),
		libp2p.ListenAddrStrings(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("p2p: start libp2p host: %w", err)
	}

	logger.Info("libp2p host listening",
		logx.String("peer_id", identity.PeerID.String()),
		logx.String("addr", listenAddr))

	return &Host{
		inner:   h,
		logger:  logger,
		dialSet: make(map[string]struct{}),
	}, nil
}

// AddDialTarget records addr ("host:port") in this process's dial set and
// kicks off a best-effort reachability probe. Failure to connect is logged,
// never fatal: the lifecycle state machine never waits on real network
// connectivity, only on replicated-document state (spec.md §4.3/§4.7).
func (h *Host) AddDialTarget(addr string) {
	h.mu.Lock()
	if _, already := h.dialSet[addr]; already {
		h.mu.Unlock()
		return
	}
	h.dialSet[addr] = struct{}{}
	h.mu.Unlock()

	go h.probe(addr)
}

func (h *Host) probe(addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		h.logger.Warn("dial target unreachable", logx.String("addr", addr), logx.Err(err))
		return
	}
	conn.Close()
	h.logger.Debug("dial target reachable", logx.String("addr", addr))
}

// ListenPort returns the TCP port this host actually bound to, resolving an
// ephemeral (":0") request to whatever port the OS assigned.
func (h *Host) ListenPort() int {
	for _, addr := range h.inner.Addrs() {
		if port, err := addr.ValueForProtocol(ma.P_TCP); err == nil {
			var p int
			fmt.Sscanf(port, "%d", &p)
			return p
		}
	}
	return 0
}

// DialSet returns a snapshot of every address added via AddDialTarget.
func (h *Host) DialSet() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.dialSet))
	for addr := range h.dialSet {
		out = append(out, addr)
	}
	return out
}

func (h *Host) Close() error {
	return h.inner.Close()
}
