package netdriver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshkernel/node/pkg/kmsg"
)

// wsTransport frames KernelMessages as individual JSON text frames over a
// gorilla/websocket connection. Used for peers reached over HTTP-friendly
// infrastructure (proxies, load balancers) where a raw TCP session would be
// blocked; the wire payload is otherwise identical to the tcp transport.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(km kmsg.KernelMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.WriteJSON(km); err != nil {
		return fmt.Errorf("ws transport: write: %w", err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func wsReadLoop(conn *websocket.Conn, handle func(kmsg.KernelMessage)) {
	for {
		var km kmsg.KernelMessage
		if err := conn.ReadJSON(&km); err != nil {
			return
		}
		handle(km)
	}
}

// WSDialer implements Dialer over gorilla/websocket client connections.
type WSDialer struct {
	OnMessage func(kmsg.KernelMessage)
	dialer    websocket.Dialer
}

// NewWSDialer constructs a WSDialer that hands every frame read off a
// dialed connection to onMessage (typically Driver.HandleInbound).
func NewWSDialer(onMessage func(kmsg.KernelMessage)) *WSDialer {
	return &WSDialer{
		OnMessage: onMessage,
		dialer:    websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
}

// DialDirect implements Dialer.
func (d *WSDialer) DialDirect(ctx context.Context, ip string, port uint16) (Transport, error) {
	url := fmt.Sprintf("ws://%s:%d/mesh", ip, port)
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", url, err)
	}
	t := newWSTransport(conn)
	go wsReadLoop(conn, d.OnMessage)
	return t, nil
}

// WSServer upgrades inbound HTTP connections to websockets and feeds every
// frame to onMessage, mirroring DialDirect's session lifecycle for the
// accepting side.
type WSServer struct {
	upgrader  websocket.Upgrader
	onMessage func(kmsg.KernelMessage)
}

// NewWSServer constructs a WSServer handler suitable for http.Handle.
func NewWSServer(onMessage func(kmsg.KernelMessage)) *WSServer {
	return &WSServer{
		upgrader:  websocket.Upgrader{HandshakeTimeout: 10 * time.Second},
		onMessage: onMessage,
	}
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go wsReadLoop(conn, s.onMessage)
}
