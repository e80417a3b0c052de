package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/protocol"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Conn wraps a raw WebSocket connection into the adapter shape spec.md 4.2 requires: an outbound broadcaster any
// holder can publish to, an inbound broadcaster any holder can subscribe to, and a kill signal any holder can fire.
// One internal goroutine drains outbound and writes the socket; one reads the socket and publishes to inbound. If
// either the write or the read fails, the adapter fires kill and exits -- callers observing kill must treat the
// socket as dead.
type Conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	outbound *broadcaster[[]byte]
	inbound  *broadcaster[[]byte]

	killOnce sync.Once
	killCh   chan struct{}

	readErrOnce sync.Once
	readErr     error
}

// NewConn starts a Conn's reader and writer goroutines over an already-upgraded WebSocket connection.
func NewConn(ws *websocket.Conn, bufSize int, logger zerolog.Logger) *Conn {
	c := &Conn{
		ws:       ws,
		log:      logger,
		outbound: newBroadcaster[[]byte](bufSize),
		inbound:  newBroadcaster[[]byte](bufSize),
		killCh:   make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Kill fires the adapter's cancellation signal. Safe to call more than once and from multiple goroutines. Callers
// that want a close frame sent to the peer must write it themselves before calling Kill -- Kill alone never touches
// the socket.
func (c *Conn) Kill() {
	c.killOnce.Do(func() { close(c.killCh) })
}

// Killed returns a channel that is closed once Kill has fired.
func (c *Conn) Killed() <-chan struct{} {
	return c.killCh
}

// Send publishes a frame on the outbound broadcaster; the writer goroutine picks it up and writes it to the socket.
func (c *Conn) Send(frame []byte) {
	select {
	case <-c.killCh:
		return
	default:
	}
	c.outbound.publish(frame)
}

// Subscribe registers a new inbound consumer. Multiple tasks (handshake, session loop) may each hold their own
// subscription over the connection's lifetime.
func (c *Conn) Subscribe() (int, <-chan []byte) {
	return c.inbound.subscribe()
}

// Unsubscribe removes an inbound consumer registered by Subscribe.
func (c *Conn) Unsubscribe(id int) {
	c.inbound.unsubscribe(id)
}

// WriteClose sends a WebSocket close frame with the given code and reason. It does not fire Kill; callers decide
// when to do that separately, since a close frame can legitimately precede further (drained) writes.
func (c *Conn) WriteClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// CloseNow closes the underlying socket immediately without sending a close frame.
func (c *Conn) CloseNow() {
	_ = c.ws.Close()
}

func (c *Conn) writeLoop() {
	defer c.Kill()

	id, ch := c.outbound.subscribe()
	defer c.outbound.unsubscribe(id)

	for {
		select {
		case <-c.killCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// readLoop owns the raw socket's read side exclusively (spec.md 4.2's ownership rule). On a peer-initiated close
// frame it exits quietly -- no reciprocal close is owed. On any other transport error it writes a 4000 close frame
// itself before tearing the connection down, since by the time an error surfaces here the socket may no longer be
// writable from any other task.
func (c *Conn) readLoop() {
	defer func() {
		_ = c.ws.Close()
		c.Kill()
	}()

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.readErrOnce.Do(func() { c.readErr = err })
			if _, isCloseFrame := err.(*websocket.CloseError); !isCloseFrame {
				c.log.Debug().Err(err).Msg("websocket transport error")
				c.WriteClose(protocol.CloseInternalError, "internal server error")
			}
			return
		}
		c.inbound.publish(message)
	}
}

// ReadError returns the error that terminated the read loop, or nil if the connection is still alive or was only
// ever killed from elsewhere. Safe to call only after Killed() has fired.
func (c *Conn) ReadError() error {
	return c.readErr
}
