package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	ClientName        string   `json:"client_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	PuzzleID        string         `json:"puzzle_id"`
	Catalog         CatalogDigests `json:"catalog"`
	Limits          Limits         `json:"limits"`
}

type CatalogDigests struct {
	GadgetsDigest string   `json:"gadgets_digest"`
	Presets       []string `json:"presets"`
	TuningDigest  string   `json:"tuning_digest,omitempty"`
}

type Limits struct {
	InputsPerSecond float64 `json:"inputs_per_second"`
	InputBurst      int     `json:"input_burst"`
}

// INPUT (client -> server): a requested direction for the agent.
type InputMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Dir             [2]int `json:"dir"`
}

// EDIT (client -> server): change the field between moves.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Op              string `json:"op"`
	Preset          string `json:"preset,omitempty"`
	// Pos is a doubled edge position for AGENT and a cell for every other op. For
	// region ops it is the lowest cell of the block.
	Pos    [2]int `json:"pos"`
	Turns  int    `json:"turns,omitempty"`
	Facing [2]int `json:"facing,omitempty"`

	// MOVE, PASTE and FILL.
	Size [2]int `json:"size,omitempty"`
	// To is where the block's lowest cell lands, or its center when Center is set.
	To     [2]int `json:"to,omitempty"`
	FlipX  bool   `json:"flip_x,omitempty"`
	FlipY  bool   `json:"flip_y,omitempty"`
	Center bool   `json:"center,omitempty"`
}

// UNDO, REDO and SAVE (client -> server) carry no payload.
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
}

// STATE (server -> client): the full field after a command.
type StateMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Seq             uint64        `json:"seq"`
	Step            uint64        `json:"step"`
	Moved           bool          `json:"moved"`
	Agent           *AgentState   `json:"agent,omitempty"`
	Gadgets         []GadgetState `json:"gadgets"`
	CanUndo         bool          `json:"can_undo"`
	CanRedo         bool          `json:"can_redo"`
	SavedPath       string        `json:"saved_path,omitempty"`
}

type AgentState struct {
	Pos    [2]float64 `json:"pos"`
	Facing [2]int     `json:"facing"`
}

type GadgetState struct {
	Origin    [2]int       `json:"origin"`
	Size      [2]int       `json:"size"`
	State     int          `json:"state"`
	NumStates int          `json:"num_states"`
	Ports     [][2]float64 `json:"ports"`
	// Paths lists [from_port, to_port] traversals legal in the current state.
	Paths   [][2]int `json:"paths"`
	Version uint64   `json:"version"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
