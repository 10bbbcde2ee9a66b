package observerproto

// Version is the observer protocol version (separate from the play WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// OmitPaths empties per-gadget traversal lists in streamed states.
	OmitPaths bool `json:"omit_paths,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	PuzzleID        string   `json:"puzzle_id"`
	Step            uint64   `json:"step"`
	Gadgets         int      `json:"gadgets"`
	HasAgent        bool     `json:"has_agent"`
	Presets         []string `json:"presets"`
	GadgetsDigest   string   `json:"gadgets_digest"`
}
