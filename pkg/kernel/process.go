// Package kernel implements the node's message kernel: mailbox-based
// routing, the capability table, process lifecycle, and on-panic recovery,
// per §3 (pkg/kernel) and §4.1.
package kernel

import "github.com/meshkernel/node/pkg/address"

// OnPanicKind enumerates a process's declared panic policy (§4.1).
type OnPanicKind string

const (
	OnPanicNone     OnPanicKind = "none"
	OnPanicRestart  OnPanicKind = "restart"
	OnPanicRequests OnPanicKind = "requests"
)

// OnPanic is a process's full panic-policy declaration.
type OnPanic struct {
	Kind     OnPanicKind
	Requests []PendingRequest // used when Kind == OnPanicRequests
}

// PendingRequest is one message the kernel emits on a process's death, for
// processes declaring OnPanicRequests.
type PendingRequest struct {
	Target  address.Address
	Message []byte // JSON-encoded kmsg.Message
}

// Process is the kernel's bookkeeping record for one running process. The
// wasm runtime itself is out of this module's scope (§4.1's spawn contract
// treats wasm_path as opaque); Process only tracks what the kernel needs to
// route messages and enforce lifecycle policy.
type Process struct {
	ID         address.ProcessId
	WasmPath   string
	OnExit     OnPanic
	Public     bool
	RequestCaps []address.Capability
	GrantCaps   []address.Capability

	// killed is set by Kill and cleared when a Restart policy reinstalls the
	// process. Send does not read it: Kill removes the process from the
	// kernel's table, and that removal is what rejects later sends.
	killed bool
}
