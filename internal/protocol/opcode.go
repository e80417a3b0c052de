// Package protocol implements the gateway's event envelope codec: opcode and close-code tables, the closed
// dispatch-name enumeration, and encode/decode of the wire envelope described by the gateway wire protocol.
package protocol

// Opcode identifies the kind of a gateway frame. Numeric values are stable and part of the wire contract.
type Opcode int

const (
	OpcodeDispatch            Opcode = 0
	OpcodeHeartbeat           Opcode = 1
	OpcodeIdentify            Opcode = 2
	OpcodePresenceUpdate      Opcode = 3
	OpcodeVoiceStateUpdate    Opcode = 4
	OpcodeResume              Opcode = 6
	OpcodeReconnect           Opcode = 7
	OpcodeRequestGuildMembers Opcode = 8
	OpcodeInvalidSession      Opcode = 9
	OpcodeHello               Opcode = 10
	OpcodeHeartbeatACK        Opcode = 11
	OpcodeRequestSoundboard   Opcode = 31

	// opcodeDeprecatedGuildSync and opcodeDeprecatedGuildAppCommands are legacy opcodes that Decode always rejects
	// as a decode error (close 4002) rather than an unknown opcode (close 4001).
	opcodeDeprecatedGuildSync          Opcode = 12
	opcodeDeprecatedGuildAppCommands   Opcode = 24
	opcodeStreamCreate                 Opcode = 18
	opcodeStreamDelete                 Opcode = 19
	opcodeStreamWatch                  Opcode = 20
	opcodeStreamPing                   Opcode = 21
	opcodeEmbeddedActivityLaunch       Opcode = 22
	opcodeSpeedTestCreate              Opcode = 30
	opcodeLobbyConnect                 Opcode = 32
	opcodeLobbyDisconnect              Opcode = 33
	opcodeLobbyVoiceStatesUpdate       Opcode = 34
	opcodeCallConnect                  Opcode = 13
	opcodeGuildSubscriptionsBulkUpdate Opcode = 37
)

// OpcodeKind buckets an opcode into the handling category the session task dispatches on.
type OpcodeKind int

const (
	OpcodeKindHello OpcodeKind = iota
	OpcodeKindHeartbeat
	OpcodeKindHeartbeatACK
	OpcodeKindDispatch
	OpcodeKindIdentify
	OpcodeKindResume
	OpcodeKindReconnect
	OpcodeKindInvalidSession
	// OpcodeKindRecognizedOther covers opcodes the protocol names (presence, voice, request-guild-members, stream
	// ops, embedded activities, speedtest, soundboard, lobby/call ops) whose concrete handling lives outside the
	// gateway core; the session task logs and ignores these rather than closing the connection.
	OpcodeKindRecognizedOther
	OpcodeKindDeprecated
	OpcodeKindUnknown
)

var recognizedOtherOpcodes = map[Opcode]struct{}{
	OpcodePresenceUpdate:               {},
	OpcodeVoiceStateUpdate:             {},
	OpcodeRequestGuildMembers:          {},
	OpcodeRequestSoundboard:            {},
	opcodeStreamCreate:                 {},
	opcodeStreamDelete:                 {},
	opcodeStreamWatch:                  {},
	opcodeStreamPing:                   {},
	opcodeEmbeddedActivityLaunch:       {},
	opcodeSpeedTestCreate:              {},
	opcodeLobbyConnect:                 {},
	opcodeLobbyDisconnect:              {},
	opcodeLobbyVoiceStatesUpdate:       {},
	opcodeCallConnect:                  {},
	opcodeGuildSubscriptionsBulkUpdate: {},
}

var deprecatedOpcodes = map[Opcode]struct{}{
	opcodeDeprecatedGuildSync:        {},
	opcodeDeprecatedGuildAppCommands: {},
}

// ClassifyOpcode maps a raw opcode to its handling bucket.
func ClassifyOpcode(op Opcode) OpcodeKind {
	switch op {
	case OpcodeHello:
		return OpcodeKindHello
	case OpcodeHeartbeat:
		return OpcodeKindHeartbeat
	case OpcodeHeartbeatACK:
		return OpcodeKindHeartbeatACK
	case OpcodeDispatch:
		return OpcodeKindDispatch
	case OpcodeIdentify:
		return OpcodeKindIdentify
	case OpcodeResume:
		return OpcodeKindResume
	case OpcodeReconnect:
		return OpcodeKindReconnect
	case OpcodeInvalidSession:
		return OpcodeKindInvalidSession
	}
	if _, ok := deprecatedOpcodes[op]; ok {
		return OpcodeKindDeprecated
	}
	if _, ok := recognizedOtherOpcodes[op]; ok {
		return OpcodeKindRecognizedOther
	}
	return OpcodeKindUnknown
}
