package gateway

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/auth"
	"github.com/lattice-chat/lattice-gateway/internal/protocol"
)

// handshakeTimeout is the 30 s silence deadline from HELLO to the first recognized client frame.
const handshakeTimeout = 30 * time.Second

// Handshake is the C4 coordinator: it owns a connection from the moment it is upgraded until either a registered
// session exists or the socket is closed. It leaves no registry state behind on failure.
type Handshake struct {
	conn              *Conn
	registry          *Registry
	authenticator     *auth.Authenticator
	heartbeatInterval time.Duration
	log               zerolog.Logger
}

// NewHandshake builds a Handshake for one freshly-upgraded connection.
func NewHandshake(conn *Conn, registry *Registry, authenticator *auth.Authenticator, heartbeatInterval time.Duration, logger zerolog.Logger) *Handshake {
	return &Handshake{
		conn:              conn,
		registry:          registry,
		authenticator:     authenticator,
		heartbeatInterval: heartbeatInterval,
		log:               logger.With().Str("component", "handshake").Logger(),
	}
}

// HandshakeResult is what a successful Run hands back to the caller so it can spawn the session task.
type HandshakeResult struct {
	User      *GatewayUser
	Session   *GatewaySession
	Heartbeat *heartbeat
	Resumed   bool
}

// Run drives the opening protocol. Per spec.md 4.4's invariant, it either returns a result with a session already
// registered in the Registry, or it returns an error having registered nothing and having left the socket closed.
func (h *Handshake) Run() (*HandshakeResult, error) {
	if err := h.sendHello(); err != nil {
		h.conn.Kill()
		return nil, err
	}

	subID, frames := h.conn.Subscribe()
	defer h.conn.Unsubscribe(subID)

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	var hb *heartbeat
	var preSession *GatewaySession

	ensureHeartbeat := func() *heartbeat {
		if hb == nil {
			preSession = &GatewaySession{Conn: h.conn}
			hb = newHeartbeat(preSession, h.conn, h.heartbeatInterval, h.log)
			go hb.run()
		}
		return hb
	}

	for {
		select {
		case <-timer.C:
			h.conn.Kill()
			return nil, ErrHandshakeTimeout

		case <-h.conn.Killed():
			return nil, ErrAdapterClosed

		case raw, ok := <-frames:
			if !ok {
				return nil, ErrAdapterClosed
			}

			env, decErr := protocol.Decode(raw)
			if decErr != nil {
				h.conn.WriteClose(decErr.CloseCode, decErr.Reason)
				h.conn.Kill()
				return nil, decErr
			}

			switch protocol.ClassifyOpcode(env.Op) {
			case protocol.OpcodeKindHeartbeat:
				seq, err := protocol.DecodeHeartbeatSequence(env)
				if err != nil {
					h.conn.WriteClose(protocol.CloseDecodeError, "malformed heartbeat")
					h.conn.Kill()
					return nil, err
				}
				ensureHeartbeat().notify(seq)
				// Heartbeat alone does not complete the handshake; keep waiting for IDENTIFY or RESUME.

			case protocol.OpcodeKindIdentify:
				var identify protocol.IdentifyData
				if err := protocol.DecodeData(env, &identify); err != nil {
					h.conn.WriteClose(protocol.CloseDecodeError, "malformed identify")
					h.conn.Kill()
					return nil, err
				}
				return h.completeIdentify(identify, hb, preSession)

			case protocol.OpcodeKindResume:
				var resume protocol.ResumeData
				if err := protocol.DecodeData(env, &resume); err != nil {
					h.conn.WriteClose(protocol.CloseDecodeError, "malformed resume")
					h.conn.Kill()
					return nil, err
				}
				return h.completeResume(resume, hb, preSession)

			default:
				h.conn.WriteClose(protocol.CloseDecodeError, "expected heartbeat, identify, or resume")
				h.conn.Kill()
				return nil, ErrHandshakeRejected
			}
		}
	}
}

func (h *Handshake) sendHello() error {
	env, err := protocol.NewOpEnvelope(protocol.OpcodeHello, protocol.HelloData{
		HeartbeatIntervalMS: h.heartbeatInterval.Milliseconds(),
	})
	if err != nil {
		return err
	}
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	h.conn.Send(frame)
	return nil
}

// completeIdentify verifies the token, registers a new session, and sends READY. hb/preSession are non-nil only
// if the client sent a heartbeat before identifying.
func (h *Handshake) completeIdentify(identify protocol.IdentifyData, hb *heartbeat, preSession *GatewaySession) (*HandshakeResult, error) {
	userID, err := h.authenticator.Verify(identify.Token)
	if err != nil {
		h.conn.WriteClose(protocol.CloseAuthFailed, "authentication failed")
		h.conn.Kill()
		return nil, err
	}

	session := preSession
	if session == nil {
		session = &GatewaySession{Conn: h.conn}
	}
	session.Token = identify.Token
	session.UserID = userID

	user := h.registry.GetOrCreateUser(userID)
	h.registry.RegisterSession(user, session)

	if hb == nil {
		hb = newHeartbeat(session, h.conn, h.heartbeatInterval, h.log)
		go hb.run()
	}

	readyEnv, err := protocol.NewDispatchEnvelope(session.NextSequence(), protocol.DispatchReady, protocol.ReadyData{
		SessionID: session.Token,
		User:      protocol.User{ID: userID.String()},
	})
	if err != nil {
		return nil, err
	}
	frame, err := protocol.Encode(readyEnv)
	if err != nil {
		return nil, err
	}
	h.conn.Send(frame)

	h.log.Info().Str("user_id", userID.String()).Msg("session identified")
	return &HandshakeResult{User: user, Session: session, Heartbeat: hb}, nil
}

// completeResume implements RESUME per the chosen design (spec.md 9, option a): look up the session token in the
// resumable table, and if present, re-subscribe a new session to the same user's inbox starting fresh -- there is
// no buffered replay of events missed while disconnected. If the token is unknown or already evicted, the client
// is told to start over with IDENTIFY.
func (h *Handshake) completeResume(resume protocol.ResumeData, hb *heartbeat, preSession *GatewaySession) (*HandshakeResult, error) {
	resumable, ok := h.registry.LookupResumable(resume.SessionID)
	if !ok || resumable.Token != resume.Token {
		env, _ := protocol.NewOpEnvelope(protocol.OpcodeInvalidSession, protocol.InvalidSessionData{Resumable: false})
		frame, _ := protocol.Encode(env)
		h.conn.Send(frame)
		h.conn.WriteClose(protocol.CloseNotAuthenticated, "resume declined, identify instead")
		h.conn.Kill()
		return nil, ErrSessionNotFound
	}

	h.registry.RemoveResumable(resume.SessionID)

	session := preSession
	if session == nil {
		session = &GatewaySession{Conn: h.conn}
	}
	session.Token = resume.Token
	session.UserID = resumable.UserID

	user := h.registry.GetOrCreateUser(resumable.UserID)
	h.registry.RegisterSession(user, session)

	if hb == nil {
		hb = newHeartbeat(session, h.conn, h.heartbeatInterval, h.log)
		go hb.run()
	}

	resumedEnv, err := protocol.NewDispatchEnvelope(session.NextSequence(), protocol.DispatchResumed, protocol.ResumedData{
		SessionID: session.Token,
	})
	if err != nil {
		return nil, err
	}
	frame, err := protocol.Encode(resumedEnv)
	if err != nil {
		return nil, err
	}
	h.conn.Send(frame)

	h.log.Info().Str("user_id", resumable.UserID.String()).Msg("session resumed")
	return &HandshakeResult{User: user, Session: session, Heartbeat: hb, Resumed: true}, nil
}
