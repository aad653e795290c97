package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/linkbroker/internal/dispatch"
	"github.com/nugget/linkbroker/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 16 * 1024 * 1024
)

// Link is one attached WebSocket connection. It implements
// dispatch.Link: Name and Send are the only methods the router calls.
type Link struct {
	name string
	conn *websocket.Conn

	out    chan wire.Envelope
	closed chan struct{}
	once   sync.Once

	logger *slog.Logger
}

func newLink(name string, conn *websocket.Conn, logger *slog.Logger) *Link {
	return &Link{
		name:   name,
		conn:   conn,
		out:    make(chan wire.Envelope, 256),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// Name returns the link's handshake-declared name.
func (l *Link) Name() string { return l.name }

// Send queues env for delivery to the link's write pump. It never
// blocks on network I/O: a full outbound queue means the peer is not
// draining fast enough, which is treated the same as a dead connection.
func (l *Link) Send(env wire.Envelope) error {
	select {
	case l.out <- env:
		return nil
	case <-l.closed:
		return fmt.Errorf("link %q closed", l.name)
	default:
		return fmt.Errorf("link %q outbound queue full", l.name)
	}
}

func (l *Link) close() {
	l.once.Do(func() {
		close(l.closed)
		l.conn.Close()
	})
}

// readPump decodes inbound frames and hands them to the router until
// the connection errors or closes. It owns nothing but the socket.
func (l *Link) readPump(router *dispatch.Router) {
	defer func() {
		l.close()
		router.Disconnect(l.name)
	}()

	l.conn.SetReadLimit(maxMessage)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.logger.Debug("link read closed", "link", l.name, "error", err)
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			l.logger.Warn("malformed envelope dropped", "link", l.name, "error", err)
			continue
		}
		router.Deliver(l.name, env)
	}
}

// writePump serializes every Send call onto the socket and keeps the
// connection alive with periodic pings. gorilla/websocket requires all
// writes to come from a single goroutine, hence the pump.
func (l *Link) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.close()
	}()

	for {
		select {
		case env, ok := <-l.out:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				l.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := l.conn.WriteJSON(env); err != nil {
				l.logger.Debug("link write failed", "link", l.name, "error", err)
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-l.closed:
			return
		}
	}
}
