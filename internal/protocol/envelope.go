package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire frame every gateway message is carried in: {"op":..,"d":..,"s":..,"t":..}. Field presence
// varies by opcode -- Sequence and Event are only set on OpcodeDispatch.
type Envelope struct {
	Op       Opcode          `json:"op"`
	Data     json.RawMessage `json:"d,omitempty"`
	Sequence *int64          `json:"s,omitempty"`
	Event    *DispatchName   `json:"t,omitempty"`
}

// DecodeError reports why a raw frame failed to decode, carrying the close code the session task should send
// before terminating the connection.
type DecodeError struct {
	Reason    string
	CloseCode int
}

func (e *DecodeError) Error() string {
	return e.Reason
}

func newDecodeError(closeCode int, format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...), CloseCode: closeCode}
}

// rawEnvelope mirrors Envelope's wire shape but leaves Event as a string so Decode can validate it against the
// known dispatch-name set before committing to the typed DispatchName.
type rawEnvelope struct {
	Op       Opcode          `json:"op"`
	Data     json.RawMessage `json:"d,omitempty"`
	Sequence *int64          `json:"s,omitempty"`
	Event    *string         `json:"t,omitempty"`
}

// Decode parses a raw client frame into an Envelope, enforcing the closed decode contract: the opcode must be
// recognizable and not deprecated, and an op=0 dispatch frame must carry a known dispatch name. It does not
// validate the shape of Data -- callers decode Data into the opcode-specific payload type once they know which one
// to expect.
func Decode(raw []byte) (Envelope, *DecodeError) {
	var re rawEnvelope
	if err := json.Unmarshal(raw, &re); err != nil {
		return Envelope{}, newDecodeError(CloseDecodeError, "malformed envelope: %v", err)
	}

	switch ClassifyOpcode(re.Op) {
	case OpcodeKindUnknown:
		return Envelope{}, newDecodeError(CloseUnknownOpcode, "unknown opcode %d", re.Op)
	case OpcodeKindDeprecated:
		return Envelope{}, newDecodeError(CloseDecodeError, "opcode %d is deprecated and no longer accepted", re.Op)
	}

	env := Envelope{Op: re.Op, Data: re.Data, Sequence: re.Sequence}

	if re.Op == OpcodeDispatch {
		if re.Event == nil {
			return Envelope{}, newDecodeError(CloseDecodeError, "dispatch frame missing event name")
		}
		name, ok := ParseDispatchName(*re.Event)
		if !ok {
			return Envelope{}, newDecodeError(CloseDecodeError, "unknown dispatch event name %q", *re.Event)
		}
		env.Event = &name
	}

	return env, nil
}

// Encode serializes an Envelope for writing to the client. Callers build Envelope values with NewDispatchEnvelope
// and NewOpEnvelope below rather than constructing the struct literal directly, to keep the optional-field plumbing
// in one place.
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// NewDispatchEnvelope builds a dispatch (op=0) frame carrying sequence number seq and event name t, with payload
// marshaled from data.
func NewDispatchEnvelope(seq int64, t DispatchName, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal dispatch payload for %s: %w", t, err)
	}
	return Envelope{Op: OpcodeDispatch, Data: raw, Sequence: &seq, Event: &t}, nil
}

// NewOpEnvelope builds a non-dispatch frame (hello, heartbeat ack, invalid session, reconnect, ...) carrying
// payload data and no sequence number or event name.
func NewOpEnvelope(op Opcode, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Op: op}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload for opcode %d: %w", op, err)
	}
	return Envelope{Op: op, Data: raw}, nil
}

// DecodeHeartbeatSequence extracts the client's last-known sequence number from a heartbeat (op=1) frame. A null
// or absent payload (the client's first heartbeat, before it has seen any dispatch) decodes as 0.
func DecodeHeartbeatSequence(env Envelope) (int64, error) {
	if len(env.Data) == 0 {
		return 0, nil
	}
	var seq *int64
	if err := json.Unmarshal(env.Data, &seq); err != nil {
		return 0, fmt.Errorf("decode heartbeat sequence: %w", err)
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}

// DecodeData unmarshals an envelope's Data field into out. It is a no-op returning nil if Data is empty, since
// some opcodes (heartbeat ack, reconnect) carry no payload.
func DecodeData(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
