package main

import (
	"fmt"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/indexer"
	"github.com/meshkernel/node/pkg/kmsg"
	"github.com/meshkernel/node/pkg/netdriver"
)

// netBridge breaks the kernel/net-driver construction cycle: the kernel
// needs a NetDriver at New time, and the net driver needs the kernel (as a
// LocalKernel and a RouteResolver-backed resolver) at its own New time. A
// bridge is built first and handed to the kernel; its concrete driver is
// filled in once constructed, immediately after.
type netBridge struct {
	driver *netdriver.Driver
}

func (b *netBridge) Deliver(km kmsg.KernelMessage) error {
	if b.driver == nil {
		return fmt.Errorf("net bridge: driver not yet attached")
	}
	return b.driver.Deliver(km)
}

func (b *netBridge) Broadcast(update indexer.HnsUpdate) {
	if b.driver != nil {
		b.driver.Broadcast(update)
	}
}

// noopSpawner satisfies kernel.Spawner without a wasm runtime to host
// processes in, matching §4.1's note that process execution itself is a
// host integration concern this module leaves to its caller.
type noopSpawner struct{}

func (noopSpawner) Start(id address.ProcessId, wasmPath string) error {
	return fmt.Errorf("spawn: no wasm runtime configured for process %s", id)
}

func (noopSpawner) Kill(id address.ProcessId) error {
	return fmt.Errorf("kill: no wasm runtime configured for process %s", id)
}
