package kernel

import (
	"sync"

	"github.com/meshkernel/node/pkg/address"
	"github.com/meshkernel/node/pkg/kmsg"
)

// mailboxCapacity bounds how many undelivered messages a process's mailbox
// holds before Send blocks the sender: a buffered channel per subscriber,
// not an unbounded queue.
const mailboxCapacity = 64

// mailboxRegistry owns every local process's mailbox channel.
type mailboxRegistry struct {
	mu    sync.RWMutex
	boxes map[address.ProcessId]chan kmsg.KernelMessage
}

func newMailboxRegistry() *mailboxRegistry {
	return &mailboxRegistry{boxes: make(map[address.ProcessId]chan kmsg.KernelMessage)}
}

func (r *mailboxRegistry) create(id address.ProcessId) chan kmsg.KernelMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan kmsg.KernelMessage, mailboxCapacity)
	r.boxes[id] = ch
	return ch
}

func (r *mailboxRegistry) get(id address.ProcessId) (chan kmsg.KernelMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.boxes[id]
	return ch, ok
}

func (r *mailboxRegistry) remove(id address.ProcessId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.boxes[id]; ok {
		close(ch)
		delete(r.boxes, id)
	}
}
