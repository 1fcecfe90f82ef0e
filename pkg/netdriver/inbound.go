package netdriver

import (
	"context"
	"crypto/ed25519"

	"github.com/meshkernel/node/pkg/kmsg"
)

// HandleInbound is fed by the ws/tcp accept loops for every frame read off
// a peer's session. It verifies the message's signed capability list before
// admitting it anywhere, then hands it to Kernel.Send, which delivers it to
// a local mailbox if this node is the target or, if not, calls back into
// Deliver to relay it onward — this node acting as an intermediate router
// (§4.5 "via routers by delegating").
func (d *Driver) HandleInbound(km kmsg.KernelMessage) {
	if !d.verifyCaps(km) {
		d.logger.Debug().Str("source", km.Source.String()).Str("target", km.Target.String()).Msg("dropping message with invalid capability signature")
		return
	}

	if err := d.kernel.Send(km); err != nil {
		d.logger.Debug().Err(err).Str("target", km.Target.String()).Msg("inbound routing failed")
	}
}

// verifyCaps checks every signed capability's signature against its
// issuer's net public key, resolved via the indexer (§4.5).
func (d *Driver) verifyCaps(km kmsg.KernelMessage) bool {
	for _, signed := range km.Caps {
		issuerNode := signed.Capability.Issuer.Node
		var pub ed25519.PublicKey
		if issuerNode == d.selfNode {
			pub = d.netPriv.Public().(ed25519.PublicKey)
		} else {
			info, ok, err := d.routes.NodeInfo(context.Background(), issuerNode)
			if err != nil || !ok || len(info.PublicKey) != ed25519.PublicKeySize {
				return false
			}
			pub = ed25519.PublicKey(info.PublicKey)
		}
		if !signed.Verify(pub) {
			return false
		}
	}
	return true
}
