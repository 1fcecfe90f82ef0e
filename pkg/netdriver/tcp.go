package netdriver

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/meshkernel/node/pkg/kmsg"
)

const maxFrameSize = 16 << 20

// tcpTransport frames KernelMessages as a 4-byte big-endian length prefix
// followed by its JSON encoding, with the same net.Dialer timeout
// convention used elsewhere for outbound TCP health checks.
type tcpTransport struct {
	conn net.Conn
	w    *bufio.Writer

	mu sync.Mutex
}

func newTCPTransport(conn net.Conn) *tcpTransport {
	return &tcpTransport{conn: conn, w: bufio.NewWriter(conn)}
}

func (t *tcpTransport) Send(km kmsg.KernelMessage) error {
	data, err := json.Marshal(km)
	if err != nil {
		return fmt.Errorf("tcp transport: encode message: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("tcp transport: frame too large (%d bytes)", len(data))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := t.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("tcp transport: write length prefix: %w", err)
	}
	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("tcp transport: write frame: %w", err)
	}
	return t.w.Flush()
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

// readFrame blocks for one length-prefixed JSON frame off r.
func readFrame(r *bufio.Reader) (kmsg.KernelMessage, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return kmsg.KernelMessage{}, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return kmsg.KernelMessage{}, fmt.Errorf("tcp transport: frame too large (%d bytes)", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return kmsg.KernelMessage{}, err
	}
	var km kmsg.KernelMessage
	if err := json.Unmarshal(buf, &km); err != nil {
		return kmsg.KernelMessage{}, fmt.Errorf("tcp transport: decode frame: %w", err)
	}
	return km, nil
}

// TCPDialer implements Dialer over raw TCP sockets. Every connection it
// opens also gets its own read loop, since a session is used for both
// outbound sends and the responses/relays that arrive back over it.
type TCPDialer struct {
	OnMessage func(kmsg.KernelMessage)
}

// NewTCPDialer constructs a TCPDialer that hands every frame read off a
// dialed connection to onMessage (typically Driver.HandleInbound).
func NewTCPDialer(onMessage func(kmsg.KernelMessage)) *TCPDialer {
	return &TCPDialer{OnMessage: onMessage}
}

// DialDirect implements Dialer.
func (d *TCPDialer) DialDirect(ctx context.Context, ip string, port uint16) (Transport, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s:%d: %w", ip, port, err)
	}
	t := newTCPTransport(conn)
	go tcpReadLoop(conn, d.OnMessage)
	return t, nil
}

func tcpReadLoop(conn net.Conn, handle func(kmsg.KernelMessage)) {
	r := bufio.NewReader(conn)
	for {
		km, err := readFrame(r)
		if err != nil {
			return
		}
		handle(km)
	}
}

// ListenTCP listens on addr and accepts connections in a background
// goroutine, dispatching every inbound frame to handle. It returns the
// listener at once; closing it stops the accept loop.
func ListenTCP(addr string, handle func(kmsg.KernelMessage)) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	go acceptLoop(ln, handle)
	return ln, nil
}

func acceptLoop(ln net.Listener, handle func(kmsg.KernelMessage)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go tcpReadLoop(conn, handle)
	}
}
