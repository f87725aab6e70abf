// Package wsconn implements component N: WebSocket upgrade handling, JSON
// message framing, and cancellation propagation for long-lived handlers.
//
// Grounded on cli/daemon/dash/server.go's upgrader (CheckOrigin always true,
// the dev dashboard has no origin to check because it's local-only; API
// server endpoints instead rely on the gateway's CORS policy having already
// run before the Handshake, so wsconn itself stays origin-agnostic) and its
// wsStream's ReadMessage/WriteMessage loop, generalized from jsonrpc2
// envelopes to arbitrary JSON-tagged messages and from one hard-coded dev
// client to a reusable Dial for service-to-service streaming calls.
package wsconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Upgrader wraps a gorilla/websocket.Upgrader, defaulting CheckOrigin to
// always-allow since CORS is already enforced upstream by the gateway
// (cors.Wrap runs before the handshake ever reaches an endpoint).
type Upgrader struct {
	underlying websocket.Upgrader
}

func NewUpgrader() *Upgrader {
	return &Upgrader{underlying: websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}}
}

// Upgrade hijacks the HTTP connection and returns a Conn wrapping it.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	c, err := u.underlying.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newConn(c), nil
}

// Dial opens a client-side WebSocket connection, the counterpart used when
// the request-plane itself acts as a WebSocket client against another
// service (the dial idiom in cli/cmd/encore/logs.go, generalized beyond a
// single hard-coded log-stream URL).
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	d := websocket.Dialer{}
	c, _, err := d.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return newConn(c), nil
}

// Conn is a bidirectional JSON message stream over a WebSocket, safe for
// concurrent Send calls from multiple goroutines (gorilla/websocket permits
// only one concurrent writer and one concurrent reader, so writes serialize
// through writeMu while reads stay single-goroutine per Recv's contract).
type Conn struct {
	writeMu sync.Mutex
	c       *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func newConn(c *websocket.Conn) *Conn {
	return &Conn{c: c}
}

// Send JSON-encodes v and writes it as a single text message.
func (conn *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	return conn.c.WriteMessage(websocket.TextMessage, data)
}

// Recv blocks for the next message and JSON-decodes it into v. It is not
// safe to call Recv from more than one goroutine at a time.
func (conn *Conn) Recv(v any) error {
	typ, data, err := conn.c.ReadMessage()
	if err != nil {
		return err
	}
	if typ != websocket.TextMessage {
		return fmt.Errorf("wsconn: got non-text message type %d", typ)
	}
	return json.Unmarshal(data, v)
}

// Close closes the underlying connection. Safe to call multiple times and
// concurrently with Send/Recv; a blocked Recv returns an error once the
// close completes.
func (conn *Conn) Close() error {
	conn.closeOnce.Do(func() {
		conn.closeErr = conn.c.Close()
	})
	return conn.closeErr
}

// IsNormalClose reports whether err is the close error produced by a
// graceful WebSocket shutdown (close code 1000), as opposed to a dropped
// connection or protocol violation.
func IsNormalClose(err error) bool {
	ce, ok := err.(*websocket.CloseError)
	return ok && ce.Code == websocket.CloseNormalClosure
}

// Serve upgrades the request and runs handle with the resulting Conn,
// closing the connection when handle returns or when ctx is canceled —
// whichever comes first. A canceled ctx unblocks a handler stuck in Recv by
// forcing the underlying connection closed (§5's cancellation-propagation
// requirement: a WebSocket handler must not outlive its request context).
func Serve(ctx context.Context, u *Upgrader, w http.ResponseWriter, r *http.Request, handle func(ctx context.Context, conn *Conn) error) error {
	conn, err := u.Upgrade(w, r)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	err = handle(ctx, conn)
	close(done)
	return err
}
