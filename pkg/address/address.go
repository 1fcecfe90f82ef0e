// Package address defines the kernel's addressing and capability model:
// ProcessId, Address, and Capability, per the data model in §3.
package address

import (
	"crypto/ed25519"
	"fmt"
	"strings"
)

// ProcessId uniquely names a process within a node: name:package:publisher.
type ProcessId struct {
	Name      string
	Package   string
	Publisher string
}

// String renders the canonical "name:package:publisher" form.
func (p ProcessId) String() string {
	return p.Name + ":" + p.Package + ":" + p.Publisher
}

// ParseProcessId parses the canonical three-field form produced by String.
func ParseProcessId(s string) (ProcessId, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return ProcessId{}, fmt.Errorf("malformed process id %q: expected name:package:publisher", s)
	}
	for _, p := range parts {
		if p == "" {
			return ProcessId{}, fmt.Errorf("malformed process id %q: empty field", s)
		}
	}
	return ProcessId{Name: parts[0], Package: parts[1], Publisher: parts[2]}, nil
}

// Reserved process names are claimed by kernel-resident modules and cannot
// be installed by user packages.
var Reserved = map[string]bool{
	"kernel":    true,
	"eth":       true,
	"indexer":   true,
	"cacher":    true,
	"net":       true,
	"terminal":  true,
}

// Address is a (node, process) pair. It is a value type with no lifecycle of
// its own.
type Address struct {
	Node    string
	Process ProcessId
}

// String renders "node@name:package:publisher".
func (a Address) String() string {
	return a.Node + "@" + a.Process.String()
}

// Local reports whether this address names a process on the given node.
func (a Address) Local(selfNode string) bool {
	return a.Node == selfNode
}

// Capability is an unforgeable (issuer, params) pair. Two capabilities with
// equal Key() are the same grant regardless of how they were minted.
type Capability struct {
	Issuer Address
	Params string // opaque JSON, compared by value
}

// Key returns the de-duplication/map key for this capability.
func (c Capability) Key() string {
	return c.Issuer.String() + "\x00" + c.Params
}

// Signed wraps a Capability together with the issuing kernel's signature
// over Key(), minted when the capability is granted (§4.1 grant_capabilities)
// and carried over the wire by the net driver so a remote kernel can verify
// admission without a round trip to the issuer.
type Signed struct {
	Capability Capability
	Signature  []byte // ed25519 signature over Capability.Key()
}

// Sign produces a Signed capability using the issuing kernel's net keypair.
func Sign(cap Capability, priv ed25519.PrivateKey) Signed {
	sig := ed25519.Sign(priv, []byte(cap.Key()))
	return Signed{Capability: cap, Signature: sig}
}

// Verify checks that Signature is a valid ed25519 signature over Key() by
// the given public key.
func (s Signed) Verify(pub ed25519.PublicKey) bool {
	return ed25519.Verify(pub, []byte(s.Capability.Key()), s.Signature)
}

// RootCapability builds the standard "root" capability a caller must hold to
// perform a kernel-resident process's privileged operations (config
// changes, resets) per §6's "all require root capability".
func RootCapability(issuer Address) Capability {
	return Capability{Issuer: issuer, Params: `{"kind":"root"}`}
}
