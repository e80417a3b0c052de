package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/auth"
)

// defaultSendBufferSize bounds every per-connection and per-user broadcast channel when Config.SendBufferSize is
// zero. A slow consumer drops its oldest buffered frame rather than stalling a publisher (spec.md 5's ordering
// guarantee).
const defaultSendBufferSize = 64

// Config holds the runtime-tunable knobs spec.md 6.2 names, with their documented defaults.
type Config struct {
	HeartbeatInterval time.Duration // default 45s
	ResumableWindow   time.Duration // default 90s
	SendBufferSize    int           // default 64
}

// DefaultConfig returns the gateway's documented defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 45 * time.Second,
		ResumableWindow:   90 * time.Second,
		SendBufferSize:    defaultSendBufferSize,
	}
}

// Gateway wires the C2-C8 components into the single entry point the HTTP layer's WebSocket upgrade route calls.
// It holds the one ConnectedUsers singleton instance for the process, passed by handle rather than kept as
// package-level state (spec.md 9).
type Gateway struct {
	Registry      *Registry
	authenticator *auth.Authenticator
	config        Config
	log           zerolog.Logger

	mu           sync.Mutex
	conns        map[*Conn]struct{}
	evictionStop context.CancelFunc
}

// New builds a Gateway. Call Start before serving any connections and Shutdown when the process is stopping.
func New(authenticator *auth.Authenticator, config Config, logger zerolog.Logger) *Gateway {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if config.ResumableWindow == 0 {
		config.ResumableWindow = DefaultConfig().ResumableWindow
	}
	if config.SendBufferSize == 0 {
		config.SendBufferSize = defaultSendBufferSize
	}

	return &Gateway{
		Registry:      NewRegistry(config.SendBufferSize, logger),
		authenticator: authenticator,
		config:        config,
		log:           logger.With().Str("component", "gateway").Logger(),
		conns:         make(map[*Conn]struct{}),
	}
}

// Start launches the C8 eviction loop. It must be called once, before the first connection is served.
func (g *Gateway) Start(ctx context.Context) {
	evictCtx, cancel := context.WithCancel(ctx)
	g.evictionStop = cancel
	eviction := NewEviction(g.Registry, g.config.ResumableWindow, g.log)
	go eviction.Run(evictCtx)
}

// ServeWebSocket drives one connection end to end: adapter construction, handshake, and (on success) the session
// task, blocking until the connection dies. Callers register this as the handler for an already-upgraded socket.
func (g *Gateway) ServeWebSocket(ws *websocket.Conn) {
	conn := NewConn(ws, g.config.SendBufferSize, g.log)
	g.trackConn(conn)
	defer g.untrackConn(conn)
	defer conn.CloseNow()

	handshake := NewHandshake(conn, g.Registry, g.authenticator, g.config.HeartbeatInterval, g.log)
	result, err := handshake.Run()
	if err != nil {
		g.log.Debug().Err(err).Msg("handshake did not complete")
		return
	}

	session := NewSession(g.Registry, result.User, result.Session, conn, result.Heartbeat, g.log)
	session.Run()
}

// Shutdown fires every live connection's kill signal after sending it a close frame, then stops the eviction loop.
// It does not wait for session tasks to finish draining; callers that need a bounded wait should give the caller's
// own context a deadline before calling Shutdown.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.WriteClose(websocket.CloseGoingAway, "server shutting down")
		c.Kill()
	}

	if g.evictionStop != nil {
		g.evictionStop()
	}
}

func (g *Gateway) trackConn(c *Conn) {
	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrackConn(c *Conn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
}
