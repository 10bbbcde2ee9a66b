package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeInput   = "INPUT"
	TypeEdit    = "EDIT"
	TypeUndo    = "UNDO"
	TypeRedo    = "REDO"
	TypeSave    = "SAVE"
	TypeState   = "STATE"
	TypeError   = "ERROR"
)

// Edit operations.
const (
	OpPlace  = "PLACE"
	OpRemove = "REMOVE"
	OpCycle  = "CYCLE"
	OpAgent  = "AGENT"

	// Reorient the gadget covering pos.
	OpRotate = "ROTATE"
	OpFlipX  = "FLIP_X"
	OpFlipY  = "FLIP_Y"
	OpTwist  = "TWIST"

	// Region edits over the cells pos .. pos+size-1.
	OpMove  = "MOVE"
	OpPaste = "PASTE"
	OpFill  = "FILL"
)

// IsRegionOp reports whether op takes a size and works on a block of cells.
func IsRegionOp(op string) bool {
	return op == OpMove || op == OpPaste || op == OpFill
}

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Seq             uint64 `json:"seq,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsCardinal reports whether d is one of the four unit directions.
func IsCardinal(d [2]int) bool {
	return (d[0] == 0) != (d[1] == 0) && d[0]*d[0]+d[1]*d[1] == 1
}
