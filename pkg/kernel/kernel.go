package kernel

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/backoff"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/log"
	"github.com/meshkernel/node/pkg/metrics"
)

// NetDriver is the kernel's outbound view of pkg/netdriver: hand a message
// to a remote node, or report the peer unreachable. Declared here (rather
// than imported from pkg/netdriver) so pkg/kernel does not import
// pkg/netdriver; netdriver in turn reaches the kernel only through its own
// LocalKernel interface, so neither package imports the other.
type NetDriver interface {
	Deliver(km kmsg.KernelMessage) error
}

// Spawner installs and starts a process's wasm module. The wasm runtime
// itself is out of this module's scope (§4.1); Spawner is the seam a host
// integration fills in.
type Spawner interface {
	Start(id address.ProcessId, wasmPath string) error
	Kill(id address.ProcessId) error
}

// Kernel is the node's message kernel (§4.1): mailbox routing, capability
// checks, and process lifecycle.
type Kernel struct {
	selfNode string

	mu        sync.RWMutex
	processes map[address.ProcessId]*Process

	mailboxes *mailboxRegistry
	caps      *capTable

	pendingMu sync.Mutex
	pending   map[uint64]chan kmsg.Message
	nextID    uint64

	net     NetDriver
	spawner Spawner

	restartLimiter *backoff.Limiter

	logger zerolog.Logger
}

// New constructs a Kernel for selfNode. net and spawner may be nil in tests
// that only exercise local routing and capability checks.
func New(selfNode string, net NetDriver, spawner Spawner) *Kernel {
	return &Kernel{
		selfNode:       selfNode,
		processes:      make(map[address.ProcessId]*Process),
		mailboxes:      newMailboxRegistry(),
		caps:           newCapTable(),
		pending:        make(map[uint64]chan kmsg.Message),
		net:            net,
		spawner:        spawner,
		restartLimiter: backoff.NewLimiter(),
		logger:         log.WithComponent("kernel"),
	}
}

func (k *Kernel) nextRequestID() uint64 {
	return atomic.AddUint64(&k.nextID, 1)
}

// Register installs a Process record and opens its mailbox without invoking
// Spawner; used for kernel-resident processes (eth, indexer, cacher, net)
// that are compiled in rather than loaded as wasm.
func (k *Kernel) Register(p *Process) (chan kmsg.KernelMessage, error) {
	k.mu.Lock()
	if _, exists := k.processes[p.ID]; exists {
		k.mu.Unlock()
		return nil, fmt.Errorf("process %s already installed", p.ID)
	}
	k.processes[p.ID] = p
	k.mu.Unlock()

	self := address.Address{Node: k.selfNode, Process: p.ID}
	return k.mailboxes.create(p.ID), k.grantSelf(self)
}

func (k *Kernel) grantSelf(self address.Address) error {
	k.caps.grantTo(self, []address.Capability{messagingCapability(self, self)})
	return nil
}

// Spawn implements §4.1's spawn contract: installs and starts a process,
// auto-granting parent<->child messaging and package-drive access.
func (k *Kernel) Spawn(parent address.Address, name, wasmPath string, onExit OnPanic, requestCaps, grantCaps []address.Capability, public bool) (address.ProcessId, error) {
	if wasmPath == "" {
		return address.ProcessId{}, fmt.Errorf("spawn: wasm_path is required")
	}
	id := address.ProcessId{Name: name, Package: parent.Process.Package, Publisher: parent.Process.Publisher}
	if address.Reserved[id.Name] {
		return address.ProcessId{}, fmt.Errorf("spawn: process name %q is reserved", id.Name)
	}

	k.mu.Lock()
	if _, exists := k.processes[id]; exists {
		k.mu.Unlock()
		return address.ProcessId{}, fmt.Errorf("spawn: process %s already exists", id)
	}
	proc := &Process{ID: id, WasmPath: wasmPath, OnExit: onExit, Public: public, RequestCaps: requestCaps, GrantCaps: grantCaps}
	k.processes[id] = proc
	k.mu.Unlock()

	self := address.Address{Node: k.selfNode, Process: id}
	k.mailboxes.create(id)

	k.caps.grantTo(self, []address.Capability{messagingCapability(parent, self)})
	k.caps.grantTo(parent, []address.Capability{messagingCapability(self, parent)})

	packageDrive := address.Address{Node: k.selfNode, Process: address.ProcessId{Name: "vfs", Package: id.Package, Publisher: id.Publisher}}
	k.caps.grantTo(self, []address.Capability{
		{Issuer: packageDrive, Params: `{"kind":"read"}`},
		{Issuer: packageDrive, Params: `{"kind":"write"}`},
	})

	if k.spawner != nil {
		if err := k.spawner.Start(id, wasmPath); err != nil {
			k.mu.Lock()
			delete(k.processes, id)
			k.mu.Unlock()
			k.mailboxes.remove(id)
			return address.ProcessId{}, fmt.Errorf("spawn: failed to start %s: %w", id, err)
		}
	}

	k.logger.Info().Str("process", id.String()).Msg("spawned process")
	return id, nil
}

// Kill implements §4.1's process teardown: stops the wasm module, drops its
// mailbox and capabilities, and applies its declared on-panic policy.
func (k *Kernel) Kill(id address.ProcessId) error {
	k.mu.Lock()
	proc, ok := k.processes[id]
	if !ok {
		k.mu.Unlock()
		return fmt.Errorf("kill: process %s not found", id)
	}
	proc.killed = true
	delete(k.processes, id)
	k.mu.Unlock()

	self := address.Address{Node: k.selfNode, Process: id}
	k.caps.dropAll(self)
	k.mailboxes.remove(id)

	if k.spawner != nil {
		if err := k.spawner.Kill(id); err != nil {
			k.logger.Warn().Err(err).Str("process", id.String()).Msg("spawner kill returned error")
		}
	}

	k.applyOnExit(proc)
	return nil
}

// applyOnExit runs a killed process's declared panic policy (§4.1).
func (k *Kernel) applyOnExit(proc *Process) {
	switch proc.OnExit.Kind {
	case OnPanicNone:
		return
	case OnPanicRestart:
		if !k.restartLimiter.Allow(proc.ID.String()) {
			k.logger.Warn().Str("process", proc.ID.String()).Msg("restart suppressed by backoff")
			return
		}
		k.restartLimiter.RecordFailure(proc.ID.String())
		if k.spawner != nil {
			if err := k.spawner.Start(proc.ID, proc.WasmPath); err != nil {
				k.logger.Error().Err(err).Str("process", proc.ID.String()).Msg("restart failed")
				return
			}
		}
		k.mu.Lock()
		proc.killed = false
		k.processes[proc.ID] = proc
		k.mu.Unlock()
		k.mailboxes.create(proc.ID)
	case OnPanicRequests:
		for _, req := range proc.OnExit.Requests {
			var msg kmsg.Message
			if err := json.Unmarshal(req.Message, &msg); err != nil {
				k.logger.Error().Err(err).Msg("malformed on-exit request payload")
				continue
			}
			km := kmsg.KernelMessage{
				ID:      k.nextRequestID(),
				Source:  address.Address{Node: k.selfNode, Process: proc.ID},
				Target:  req.Target,
				Message: msg,
			}
			if err := k.Send(km); err != nil {
				k.logger.Debug().Err(err).Str("target", req.Target.String()).Msg("on-exit request delivery failed")
			}
		}
	}
}

// Send implements §4.1's routing algorithm.
func (k *Kernel) Send(km kmsg.KernelMessage) error {
	if km.Message.Kind == kmsg.KindResponse {
		k.pendingMu.Lock()
		ch, ok := k.pending[km.ID]
		if ok {
			delete(k.pending, km.ID)
		}
		k.pendingMu.Unlock()
		if !ok {
			k.logger.Debug().Uint64("id", km.ID).Msg("dropped unmatched response")
			metrics.KernelMessagesRoutedTotal.WithLabelValues("dropped_unmatched_response").Inc()
			return nil
		}
		ch <- km.Message
		metrics.KernelMessagesRoutedTotal.WithLabelValues("delivered_response").Inc()
		return nil
	}

	if !km.Target.Local(k.selfNode) {
		if k.net == nil {
			metrics.KernelMessagesRoutedTotal.WithLabelValues("offline").Inc()
			return k.respondError(km, kmsg.SendErrorOffline, "no net driver configured")
		}
		if err := k.net.Deliver(km); err != nil {
			metrics.KernelMessagesRoutedTotal.WithLabelValues("offline").Inc()
			return k.respondError(km, kmsg.SendErrorOffline, err.Error())
		}
		metrics.KernelMessagesRoutedTotal.WithLabelValues("delivered_remote").Inc()
		return nil
	}

	k.mu.RLock()
	proc, exists := k.processes[km.Target.Process]
	k.mu.RUnlock()
	if !exists {
		metrics.KernelMessagesRoutedTotal.WithLabelValues("no_such_process").Inc()
		return k.respondError(km, kmsg.SendErrorOffline, fmt.Sprintf("no such process %s", km.Target.Process))
	}

	if !proc.Public {
		required := messagingCapability(km.Target, km.Source)
		if km.Source != km.Target && !k.caps.has(km.Source, required) {
			metrics.KernelMessagesRoutedTotal.WithLabelValues("permission_denied").Inc()
			return k.respondError(km, kmsg.SendErrorPermissionDenied, "missing messaging capability")
		}
	}

	mailbox, ok := k.mailboxes.get(km.Target.Process)
	if !ok {
		metrics.KernelMessagesRoutedTotal.WithLabelValues("no_such_process").Inc()
		return k.respondError(km, kmsg.SendErrorOffline, fmt.Sprintf("mailbox for %s not open", km.Target.Process))
	}

	select {
	case mailbox <- km:
		metrics.KernelMessagesRoutedTotal.WithLabelValues("delivered_local").Inc()
		return nil
	case <-time.After(5 * time.Second):
		metrics.KernelMessagesRoutedTotal.WithLabelValues("timeout").Inc()
		return k.respondError(km, kmsg.SendErrorTimeout, "mailbox full")
	}
}

// respondError synthesizes an error Response and, if a SendAndAwait caller
// is waiting on km.ID, hands it to that caller's channel, per §4.1's failure
// semantics. It is a best-effort delivery: if no caller awaits a response,
// nothing observes it. The SendError is returned to Send's caller either way.
func (k *Kernel) respondError(km kmsg.KernelMessage, kind kmsg.SendErrorKind, reason string) error {
	sendErr := kmsg.SendError{Kind: kind, Reason: reason}
	if !km.Message.ExpectsResponse {
		return sendErr
	}
	body, err := kmsg.NewResponse(sendErr)
	if err != nil {
		return sendErr
	}
	k.pendingMu.Lock()
	ch, ok := k.pending[km.ID]
	k.pendingMu.Unlock()
	if ok {
		ch <- body
	}
	return sendErr
}

// SendAndAwait sends km (which must expect a response) and blocks until a
// matching Response arrives, times out, or ctx-equivalent caller-supplied
// deadline elapses.
func (k *Kernel) SendAndAwait(km kmsg.KernelMessage, timeout time.Duration) (kmsg.Message, error) {
	km.Message.ExpectsResponse = true
	if km.ID == 0 {
		km.ID = k.nextRequestID()
	}

	ch := make(chan kmsg.Message, 1)
	k.pendingMu.Lock()
	k.pending[km.ID] = ch
	k.pendingMu.Unlock()

	if err := k.Send(km); err != nil {
		k.pendingMu.Lock()
		delete(k.pending, km.ID)
		k.pendingMu.Unlock()
		return kmsg.Message{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		k.pendingMu.Lock()
		delete(k.pending, km.ID)
		k.pendingMu.Unlock()
		return kmsg.Message{}, kmsg.SendError{Kind: kmsg.SendErrorTimeout, Reason: "no response before deadline"}
	}
}

// Receive blocks until id's mailbox has an item, matching §4.1's
// receive() contract.
func (k *Kernel) Receive(id address.ProcessId) (kmsg.KernelMessage, bool) {
	mailbox, ok := k.mailboxes.get(id)
	if !ok {
		return kmsg.KernelMessage{}, false
	}
	km, ok := <-mailbox
	return km, ok
}

// GrantCapabilities implements §4.1's grant_capabilities: caller must hold
// (or issue) every capability it grants.
func (k *Kernel) GrantCapabilities(caller, target address.Address, caps []address.Capability) error {
	for _, c := range caps {
		if c.Issuer != caller && !k.caps.has(caller, c) {
			return fmt.Errorf("grant_capabilities: caller does not hold or issue capability %s", c.Key())
		}
	}
	k.caps.grantTo(target, caps)
	return nil
}

// HasCapability exposes a read-only capability check for other kernel-
// resident components (e.g. the indexer's Reset, gated on the root cap).
func (k *Kernel) HasCapability(holder address.Address, cap address.Capability) bool {
	return k.caps.has(holder, cap)
}
