package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// WebSocketPath is where viewers connect.
const WebSocketPath = "/frames"

const (
	wsSendQueue    = 4
	wsWriteTimeout = 5 * time.Second
)

// WireFrame is the msgpack message sent to viewers, one per binary
// WebSocket message.
type WireFrame struct {
	Seq      uint64 `msgpack:"seq"`
	Time     int64  `msgpack:"ts"`
	Width    int    `msgpack:"w"`
	Height   int    `msgpack:"h"`
	Channels int    `msgpack:"c"`
	X        int    `msgpack:"x"`
	Y        int    `msgpack:"y"`
	Scale    int    `msgpack:"s"`
	Data     []byte `msgpack:"data"`
}

// EncodeFrame encodes f as a WireFrame.
func EncodeFrame(f Frame) ([]byte, error) {
	return msgpack.Marshal(&WireFrame{
		Seq:      f.Seq,
		Time:     f.Time.UnixNano(),
		Width:    f.Width,
		Height:   f.Height,
		Channels: f.Channels,
		X:        f.X,
		Y:        f.Y,
		Scale:    f.Scale,
		Data:     f.Data,
	})
}

// DecodeFrame decodes a WireFrame message.
func DecodeFrame(b []byte) (Frame, error) {
	var w WireFrame
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return Frame{}, fmt.Errorf("sink: decode frame: %w", err)
	}
	return Frame{
		Data:     w.Data,
		Width:    w.Width,
		Height:   w.Height,
		Channels: w.Channels,
		X:        w.X,
		Y:        w.Y,
		Scale:    w.Scale,
		Seq:      w.Seq,
		Time:     time.Unix(0, w.Time),
	}, nil
}

// WebSocketOptions configures a WebSocket sink.
type WebSocketOptions struct {
	// Addr is the listen address. Default "127.0.0.1:8765".
	Addr string

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// WebSocket serves frames to remote viewers. Each Write is broadcast to
// every connected viewer; a viewer that falls behind loses frames instead
// of slowing the stream.
type WebSocket struct {
	logger   *slog.Logger
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool

	dropped atomic.Uint64
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewWebSocket starts listening and serving viewers.
func NewWebSocket(opts WebSocketOptions) (*WebSocket, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:8765"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sink: websocket: listen %s: %w", addr, err)
	}
	ws := &WebSocket{
		logger:  logger,
		ln:      ln,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, ws.handle)
	ws.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("sink: websocket: serve", "error", err)
		}
	}()
	logger.Info("sink: websocket listening", "addr", ln.Addr().String(), "path", WebSocketPath)
	return ws, nil
}

// Addr returns the listen address.
func (ws *WebSocket) Addr() string { return ws.ln.Addr().String() }

func (ws *WebSocket) Name() string { return KindWebSocket }

// Clients returns the number of connected viewers.
func (ws *WebSocket) Clients() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.clients)
}

// Dropped returns the number of frames not delivered to slow viewers.
func (ws *WebSocket) Dropped() uint64 { return ws.dropped.Load() }

func (ws *WebSocket) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendQueue), done: make(chan struct{})}

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		conn.Close()
		return
	}
	ws.clients[c] = struct{}{}
	ws.mu.Unlock()
	ws.logger.Debug("sink: websocket viewer connected", "remote", r.RemoteAddr)

	go ws.writeLoop(c)
	// Viewers only listen; reading detects when they leave.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	ws.remove(c)
}

func (ws *WebSocket) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				ws.remove(c)
				return
			}
		}
	}
}

func (ws *WebSocket) remove(c *wsClient) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, ok := ws.clients[c]; !ok {
		return
	}
	delete(ws.clients, c)
	close(c.done)
}

// Write broadcasts f to every viewer.
func (ws *WebSocket) Write(_ context.Context, f Frame) error {
	msg, err := EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("sink: websocket: %w", err)
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	for c := range ws.clients {
		select {
		case c.send <- msg:
		default:
			ws.dropped.Add(1)
		}
	}
	return nil
}

// Close disconnects every viewer and stops the server.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	for c := range ws.clients {
		delete(ws.clients, c)
		close(c.done)
	}
	ws.mu.Unlock()
	return ws.server.Close()
}
