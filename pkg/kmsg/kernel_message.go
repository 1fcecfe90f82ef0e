package kmsg

import "github.com/meshkernel/node/pkg/address"

// KernelMessage is the envelope the kernel routes: (id, source, target,
// rsvp?, Message, lazy_blob?) per §3.
type KernelMessage struct {
	ID       uint64           `json:"id"`
	Source   address.Address  `json:"source"`
	Target   address.Address  `json:"target"`
	Rsvp     *address.Address `json:"rsvp,omitempty"`
	Message  Message          `json:"message"`
	LazyBlob []byte           `json:"lazy_blob,omitempty"`

	// Caps is the signed capability list accompanying this message across
	// the net driver (§4.5); empty for purely local delivery where the
	// kernel's own cap table is authoritative.
	Caps []address.Signed `json:"caps,omitempty"`
}

// ResponseTarget returns where a response to this message should be routed:
// Rsvp if set (the message was relayed on someone else's behalf), otherwise
// Source.
func (km KernelMessage) ResponseTarget() address.Address {
	if km.Rsvp != nil {
		return *km.Rsvp
	}
	return km.Source
}

// SendErrorKind enumerates the per-message failure kinds from §7.
type SendErrorKind string

const (
	SendErrorOffline           SendErrorKind = "offline"
	SendErrorTimeout           SendErrorKind = "timeout"
	SendErrorPermissionDenied  SendErrorKind = "permission_denied"
)

// SendError is the body of a Response synthesized by the kernel when it
// cannot deliver a message that expected one (§4.1 "Failure semantics").
type SendError struct {
	Kind   SendErrorKind `json:"kind"`
	Reason string        `json:"reason,omitempty"`
}

func (e SendError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Reason
}
