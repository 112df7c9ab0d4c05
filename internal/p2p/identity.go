// Package p2p gives coordinator and peer processes a real libp2p network
// identity and listener, adapted from the teacher's internal/network
// (StartNodeWithStreams, SaveIdentity/LoadIdentity): an ed25519 keypair
// backs a libp2p host bound to the CLI's --bind-addr/--bind-port, and the
// resulting peer ID's hash supplies the 64-bit hex suffix spec.md §3
// recommends for PeerId ("<device_name>_<64-bit hex>").
//
// Full mesh dialing between peers is explicitly out of core scope
// (spec.md §1: "network transport configuration, treated as a capability
// surface"); this package's dial-set bookkeeping (host.go) is a best-effort
// connectivity probe layered on top of a real listener, not a requirement
// the lifecycle protocol depends on.
package p2p

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity wraps a generated libp2p keypair and the peer ID derived from it.
type Identity struct {
	PrivKey crypto.PrivKey
	PeerID  peer.ID
}

// NewIdentity generates a fresh ed25519 libp2p identity, matching the
// teacher's crypto.GenerateEd25519Key(nil) call in internal/network/mesh.go.
func NewIdentity() (*Identity, error) {
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("p2p: generate identity: %w", err)
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("p2p: derive peer id: %w", err)
	}
	return &Identity{PrivKey: priv, PeerID: pid}, nil
}

// HexSuffix derives a stable 64-bit hex string from the libp2p peer ID, for
// use as the "<64-bit hex>" half of a PeerId (spec.md §3).
func (id *Identity) HexSuffix() string {
	sum := sha256.Sum256([]byte(id.PeerID))
	return hex.EncodeToString(sum[:8])
}
