package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Session routing/state.
	ErrSessionBusy   = "E_SESSION_BUSY"
	ErrSessionClosed = "E_SESSION_CLOSED"

	// Command layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownPreset = "E_UNKNOWN_PRESET"
	ErrNoAgent       = "E_NO_AGENT"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrSessionBusy:     {},
	ErrSessionClosed:   {},
	ErrBadRequest:      {},
	ErrUnknownPreset:   {},
	ErrNoAgent:         {},
	ErrInvalidTarget:   {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
