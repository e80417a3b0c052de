package protocol

// HelloData is the op=10 HELLO payload sent immediately on connect, advertising the heartbeat interval the client
// must honor.
type HelloData struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval_ms"`
}

// IdentifyData is the op=2 IDENTIFY payload a fresh connection sends to authenticate and open a new session.
type IdentifyData struct {
	Token      string             `json:"token"`
	Properties IdentifyProperties `json:"properties"`
	Compress   bool               `json:"compress,omitempty"`
}

// IdentifyProperties carries client-reported metadata that never affects routing or auth decisions, only logging.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// ResumeData is the op=6 RESUME payload a reconnecting client sends to rejoin an existing session instead of
// re-identifying.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// ReadyData is the op=0 READY dispatch payload delivered on successful IDENTIFY, carrying the session id the
// client must present on RESUME.
type ReadyData struct {
	SessionID string `json:"session_id"`
	User      User   `json:"user"`
}

// ResumedData is the op=0 RESUMED dispatch payload delivered on successful RESUME.
type ResumedData struct {
	SessionID string `json:"session_id"`
}

// User is the minimal identity shape the gateway echoes back in READY; richer profile fields live outside the
// gateway core and are not modeled here.
type User struct {
	ID string `json:"id"`
}

// InvalidSessionData is the op=9 INVALID_SESSION payload. Resumable reports whether the client may retry with
// IDENTIFY (false) or should attempt RESUME again after a short delay (true) -- the gateway always sends false and
// closes the connection when a RESUME is declined.
type InvalidSessionData struct {
	Resumable bool `json:"resumable"`
}

// PresenceUpdateData is the op=3 PRESENCE_UPDATE payload a client sends to report its own status. The gateway core
// does not decode it: the session task logs and ignores op=3 frames like the other recognized-but-unhandled
// opcodes, and keeps no presence state.
type PresenceUpdateData struct {
	Status     string `json:"status"`
	AFK        bool   `json:"afk"`
	Since      *int64 `json:"since"`
}
