// Package sysproc wires the kernel-resident components (eth, indexer,
// cacher) onto the message bus: each gets a reserved ProcessId, registers a
// mailbox with the kernel, and runs a dispatch loop translating inbound
// KernelMessages into calls against the component's own API and a Response
// back to the caller (§6). One goroutine per registered handler, reading
// off a channel until it closes.
package sysproc

import (
	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/kernel"
	"github.com/meshkernel/node/pkg/kmsg"
)

// Kernel is the subset of *kernel.Kernel a system process needs: register a
// mailbox, send its responses, and check the root capability gating
// privileged requests.
type Kernel interface {
	Register(p *kernel.Process) (chan kmsg.KernelMessage, error)
	Send(km kmsg.KernelMessage) error
	HasCapability(holder address.Address, cap address.Capability) bool
}

// systemPackage and systemPublisher are the fixed package/publisher pair
// every kernel-resident process uses for its ProcessId (§3: name:package:
// publisher). There is no package manifest for code that is compiled into
// the node rather than loaded as wasm, so both are the literal "sys".
const (
	systemPackage   = "sys"
	systemPublisher = "sys"
)

// processID builds one of the reserved kernel-resident ProcessIds.
func processID(name string) address.ProcessId {
	return address.ProcessId{Name: name, Package: systemPackage, Publisher: systemPublisher}
}

// replyTo sends a Response-kind KernelMessage carrying body back to km's
// response target (§4.1 rsvp semantics), logging but not failing the
// caller's request loop if delivery itself fails (the requester simply times
// out, matching the kernel's own best-effort respondError behavior).
func replyTo(k Kernel, self address.Address, km kmsg.KernelMessage, body interface{}, logger zerolog.Logger) {
	if !km.Message.ExpectsResponse {
		return
	}
	msg, err := kmsg.NewResponse(body)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal response body")
		return
	}
	resp := kmsg.KernelMessage{
		ID:      km.ID,
		Source:  self,
		Target:  km.ResponseTarget(),
		Message: msg,
	}
	if err := k.Send(resp); err != nil {
		logger.Debug().Err(err).Str("target", resp.Target.String()).Msg("failed to deliver response")
	}
}
