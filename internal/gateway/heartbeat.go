package gateway

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/protocol"
)

// heartbeatTickInterval is how often the liveness timer checks the deadline. It is much shorter than
// heartbeatInterval so that a timeout is detected "within one second of the deadline".
const heartbeatTickInterval = 1 * time.Second

// heartbeat is the C3 controller: one per session, fed client heartbeat sequence numbers over heartbeats, and
// torn down by the connection's kill signal.
type heartbeat struct {
	session  *GatewaySession
	conn     *Conn
	interval time.Duration
	log      zerolog.Logger

	heartbeats chan int64
}

func newHeartbeat(session *GatewaySession, conn *Conn, interval time.Duration, logger zerolog.Logger) *heartbeat {
	return &heartbeat{
		session:    session,
		conn:       conn,
		interval:   interval,
		log:        logger.With().Str("component", "heartbeat").Str("session", session.Token).Logger(),
		heartbeats: make(chan int64, 1),
	}
}

// notify forwards a client-sent heartbeat sequence number to the controller. Non-blocking: if the controller
// already has one queued it is fine to drop this one, another will follow on the next HEARTBEAT_INTERVAL.
func (h *heartbeat) notify(seq int64) {
	select {
	case h.heartbeats <- seq:
	default:
	}
}

// run drives the heartbeat loop until the connection is killed. It must be started as its own goroutine.
func (h *heartbeat) run() {
	lastHeartbeat := time.Now()
	ticker := time.NewTicker(heartbeatTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.conn.Killed():
			return

		case seq := <-h.heartbeats:
			switch classifySequenceDrift(seq, h.session.CurrentSequence()) {
			case driftReconnect:
				h.log.Warn().Int64("client_seq", seq).Int64("last_sequence", h.session.CurrentSequence()).
					Msg("heartbeat sequence out of sync, requesting reconnect")
				h.conn.WriteClose(protocol.CloseInvalidSequence, "sequence out of sync, reconnect")
				h.conn.Kill()
				return
			}

			lastHeartbeat = time.Now()
			if err := h.sendAck(); err != nil {
				h.log.Warn().Err(err).Msg("failed to send heartbeat ack")
				h.conn.WriteClose(protocol.CloseInternalError, "internal server error")
				h.conn.Kill()
				return
			}

		case <-ticker.C:
			if time.Since(lastHeartbeat) > h.interval {
				h.log.Info().Msg("heartbeat liveness deadline exceeded")
				h.conn.WriteClose(protocol.CloseHeartbeatTimedOut, "heartbeat timeout")
				h.conn.Kill()
				return
			}
		}
	}
}

func (h *heartbeat) sendAck() error {
	env, err := protocol.NewOpEnvelope(protocol.OpcodeHeartbeatACK, nil)
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

type sequenceDrift int

const (
	driftInSync sequenceDrift = iota
	driftAcceptable
	driftReconnect
)

// classifySequenceDrift compares a client-reported sequence number against the server's last_sequence, per
// spec.md 4.3: equal is in sync, off by 1-2 is acceptable latency, off by 3 or more calls for a reconnect.
func classifySequenceDrift(clientSeq, serverSeq int64) sequenceDrift {
	diff := clientSeq - serverSeq
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff == 0:
		return driftInSync
	case diff <= 2:
		return driftAcceptable
	default:
		return driftReconnect
	}
}
