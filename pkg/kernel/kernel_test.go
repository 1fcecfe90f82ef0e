package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/kmsg"
)

func procAddr(node, name string) address.Address {
	return address.Address{Node: node, Process: address.ProcessId{Name: name, Package: "test", Publisher: "sys"}}
}

func TestRegisterAndLocalDelivery(t *testing.T) {
	k := New("alice", nil, nil)
	alice := procAddr("alice", "pinger")
	bob := procAddr("alice", "ponger")

	_, err := k.Register(&Process{ID: alice.Process, Public: true})
	require.NoError(t, err)
	_, err = k.Register(&Process{ID: bob.Process, Public: true})
	require.NoError(t, err)

	msg, err := kmsg.NewRequest(map[string]string{"hello": "world"}, false)
	require.NoError(t, err)
	km := kmsg.KernelMessage{ID: 1, Source: alice, Target: bob, Message: msg}
	require.NoError(t, k.Send(km))

	got, ok := k.Receive(bob.Process)
	require.True(t, ok)
	require.Equal(t, alice, got.Source)
}

func TestSendRejectsUnknownTarget(t *testing.T) {
	k := New("alice", nil, nil)
	alice := procAddr("alice", "pinger")
	ghost := procAddr("alice", "ghost")

	msg, err := kmsg.NewRequest(struct{}{}, false)
	require.NoError(t, err)
	err = k.Send(kmsg.KernelMessage{ID: 1, Source: alice, Target: ghost, Message: msg})
	require.Error(t, err)

	var sendErr kmsg.SendError
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, kmsg.SendErrorOffline, sendErr.Kind)
}

func TestSendDeniesWithoutMessagingCapability(t *testing.T) {
	k := New("alice", nil, nil)
	alice := procAddr("alice", "pinger")
	bob := procAddr("alice", "private")

	_, err := k.Register(&Process{ID: alice.Process, Public: true})
	require.NoError(t, err)
	_, err = k.Register(&Process{ID: bob.Process, Public: false})
	require.NoError(t, err)

	msg, err := kmsg.NewRequest(struct{}{}, false)
	require.NoError(t, err)
	err = k.Send(kmsg.KernelMessage{ID: 1, Source: alice, Target: bob, Message: msg})
	require.Error(t, err)

	var sendErr kmsg.SendError
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, kmsg.SendErrorPermissionDenied, sendErr.Kind)
}

func TestGrantCapabilitiesAllowsSubsequentSend(t *testing.T) {
	k := New("alice", nil, nil)
	alice := procAddr("alice", "pinger")
	bob := procAddr("alice", "private")

	_, err := k.Register(&Process{ID: alice.Process, Public: true})
	require.NoError(t, err)
	_, err = k.Register(&Process{ID: bob.Process, Public: false})
	require.NoError(t, err)

	cap := messagingCapability(bob, alice)
	require.NoError(t, k.GrantCapabilities(bob, alice, []address.Capability{cap}))

	msg, err := kmsg.NewRequest(struct{}{}, false)
	require.NoError(t, err)
	require.NoError(t, k.Send(kmsg.KernelMessage{ID: 1, Source: alice, Target: bob, Message: msg}))
}

func TestGrantCapabilitiesRejectsUnheldCapability(t *testing.T) {
	k := New("alice", nil, nil)
	alice := procAddr("alice", "pinger")
	bob := procAddr("alice", "private")
	mallory := procAddr("alice", "mallory")

	cap := messagingCapability(bob, alice)
	err := k.GrantCapabilities(mallory, alice, []address.Capability{cap})
	require.Error(t, err)
}

func TestSpawnGrantsParentChildMessaging(t *testing.T) {
	k := New("alice", nil, nil)
	parent := procAddr("alice", "parent")
	_, err := k.Register(&Process{ID: parent.Process, Public: true})
	require.NoError(t, err)

	childID, err := k.Spawn(parent, "child", "/pkg/child.wasm", OnPanic{Kind: OnPanicNone}, nil, nil, false)
	require.NoError(t, err)

	child := address.Address{Node: "alice", Process: childID}
	msg, err := kmsg.NewRequest(struct{}{}, false)
	require.NoError(t, err)
	require.NoError(t, k.Send(kmsg.KernelMessage{ID: 1, Source: parent, Target: child, Message: msg}))

	_, err = k.Receive(childID)
	_ = err
}

func TestSpawnRejectsMissingWasmPath(t *testing.T) {
	k := New("alice", nil, nil)
	parent := procAddr("alice", "parent")
	_, err := k.Spawn(parent, "child", "", OnPanic{Kind: OnPanicNone}, nil, nil, false)
	require.Error(t, err)
}

func TestSpawnRejectsReservedName(t *testing.T) {
	k := New("alice", nil, nil)
	parent := procAddr("alice", "parent")
	_, err := k.Spawn(parent, "kernel", "/pkg/evil.wasm", OnPanic{Kind: OnPanicNone}, nil, nil, false)
	require.Error(t, err)
}

func TestSendAndAwaitReceivesResponse(t *testing.T) {
	k := New("alice", nil, nil)
	alice := procAddr("alice", "client")
	bob := procAddr("alice", "server")

	_, err := k.Register(&Process{ID: alice.Process, Public: true})
	require.NoError(t, err)
	_, err = k.Register(&Process{ID: bob.Process, Public: true})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		km, ok := k.Receive(bob.Process)
		if !ok {
			return
		}
		resp, _ := kmsg.NewResponse(map[string]string{"status": "ok"})
		_ = k.Send(kmsg.KernelMessage{ID: km.ID, Source: bob, Target: km.ResponseTarget(), Message: resp})
	}()

	req, err := kmsg.NewRequest(struct{}{}, true)
	require.NoError(t, err)
	resp, err := k.SendAndAwait(kmsg.KernelMessage{Source: alice, Target: bob, Message: req}, time.Second)
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, resp.Decode(&body))
	require.Equal(t, "ok", body["status"])

	<-done
}

func TestSendAndAwaitTimesOutWhenNoResponse(t *testing.T) {
	k := New("alice", nil, nil)
	alice := procAddr("alice", "client")
	bob := procAddr("alice", "silent")

	_, err := k.Register(&Process{ID: alice.Process, Public: true})
	require.NoError(t, err)
	_, err = k.Register(&Process{ID: bob.Process, Public: true})
	require.NoError(t, err)

	req, err := kmsg.NewRequest(struct{}{}, true)
	require.NoError(t, err)
	_, err = k.SendAndAwait(kmsg.KernelMessage{Source: alice, Target: bob, Message: req}, 20*time.Millisecond)
	require.Error(t, err)
}

func TestKillDropsMailboxAndCapabilities(t *testing.T) {
	k := New("alice", nil, nil)
	alice := procAddr("alice", "client")
	bob := procAddr("alice", "server")

	_, err := k.Register(&Process{ID: alice.Process, Public: true})
	require.NoError(t, err)
	_, err = k.Register(&Process{ID: bob.Process, Public: true, OnExit: OnPanic{Kind: OnPanicNone}})
	require.NoError(t, err)

	require.NoError(t, k.Kill(bob.Process))

	msg, err := kmsg.NewRequest(struct{}{}, false)
	require.NoError(t, err)
	err = k.Send(kmsg.KernelMessage{ID: 1, Source: alice, Target: bob, Message: msg})
	require.Error(t, err)
}
