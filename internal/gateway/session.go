package gateway

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/protocol"
)

// Session is the C5 steady-state task pair for one connected device: an inbound loop reading client frames and an
// outbound loop forwarding the user's inbox to the socket. Both loops share one Conn and one Registry; cleanup
// runs once, after both have exited.
type Session struct {
	registry *Registry
	user     *GatewayUser
	session  *GatewaySession
	conn     *Conn
	hb       *heartbeat
	log      zerolog.Logger
}

// NewSession builds the C5 task for an already-registered session coming out of a successful handshake.
func NewSession(registry *Registry, user *GatewayUser, session *GatewaySession, conn *Conn, hb *heartbeat, logger zerolog.Logger) *Session {
	return &Session{
		registry: registry,
		user:     user,
		session:  session,
		conn:     conn,
		hb:       hb,
		log:      logger.With().Str("component", "session").Str("session", session.Token).Logger(),
	}
}

// Run blocks until the session's connection dies, running the inbound and outbound loops concurrently and
// performing registry cleanup exactly once afterward.
func (s *Session) Run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.inboundLoop()
	}()
	go func() {
		defer wg.Done()
		s.outboundLoop()
	}()
	wg.Wait()
	s.cleanup()
}

// inboundLoop reads client frames: it forwards heartbeats to C3, rejects opcodes illegal after the handshake
// (client-sent DISPATCH, a repeated IDENTIFY/RESUME), and quietly ignores recognized-but-unimplemented opcodes.
// Transport-level close/error handling already happened inside Conn's own reader task (spec.md 4.2's ownership
// rule); this loop only reacts to well-formed application frames.
func (s *Session) inboundLoop() {
	subID, frames := s.conn.Subscribe()
	defer s.conn.Unsubscribe(subID)

	for {
		select {
		case <-s.conn.Killed():
			return

		case raw, ok := <-frames:
			if !ok {
				return
			}

			env, decErr := protocol.Decode(raw)
			if decErr != nil {
				s.conn.WriteClose(decErr.CloseCode, decErr.Reason)
				s.conn.Kill()
				return
			}

			switch protocol.ClassifyOpcode(env.Op) {
			case protocol.OpcodeKindHeartbeat:
				seq, err := protocol.DecodeHeartbeatSequence(env)
				if err != nil {
					s.conn.WriteClose(protocol.CloseDecodeError, "malformed heartbeat")
					s.conn.Kill()
					return
				}
				s.hb.notify(seq)

			case protocol.OpcodeKindDispatch:
				s.conn.WriteClose(protocol.CloseDecodeError, "clients may not send dispatch frames")
				s.conn.Kill()
				return

			case protocol.OpcodeKindIdentify, protocol.OpcodeKindResume:
				s.conn.WriteClose(protocol.CloseAlreadyAuthed, "session is already identified")
				s.conn.Kill()
				return

			case protocol.OpcodeKindRecognizedOther:
				s.log.Debug().Int("op", int(env.Op)).Msg("recognized opcode not implemented by the gateway core, ignoring")

			default:
				s.log.Debug().Int("op", int(env.Op)).Msg("ignoring opcode")
			}
		}
	}
}

// outboundLoop subscribes to the user's shared inbox, stamps each event with this session's own sequence number,
// and writes it to the socket.
func (s *Session) outboundLoop() {
	subID, events := s.user.SubscribeInbox()
	defer s.user.UnsubscribeInbox(subID)

	for {
		select {
		case <-s.conn.Killed():
			return

		case event, ok := <-events:
			if !ok {
				return
			}

			env, err := protocol.NewDispatchEnvelope(s.session.NextSequence(), event.Name, event.Data)
			if err != nil {
				s.log.Warn().Err(err).Str("event", string(event.Name)).Msg("failed to build dispatch envelope")
				continue
			}
			frame, err := protocol.Encode(env)
			if err != nil {
				s.log.Warn().Err(err).Str("event", string(event.Name)).Msg("failed to encode dispatch frame")
				s.conn.WriteClose(protocol.CloseInternalError, "internal server error")
				s.conn.Kill()
				return
			}
			s.conn.Send(frame)
		}
	}
}

// cleanup removes the session from the registry and records a resumable tombstone, dropping the user's inbox
// entirely only when this was its last live session (spec.md 4.5).
func (s *Session) cleanup() {
	_, _, ok := s.registry.DeregisterSession(s.session.Token)
	if !ok {
		return
	}
	s.registry.InsertResumable(s.session.Token, s.session.UserID, s.session.CurrentSequence())
	s.log.Info().Int64("last_sequence", s.session.CurrentSequence()).Msg("session disconnected")
}
