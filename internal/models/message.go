package models

/*
LEARNING: WIRE PROTOCOL

Binary frames carry document traffic and start with a one byte opcode:

  0x00 SYNC       server → client, full document state (first frame after join)
  0x01 AWARENESS  client ↔ server, cursors/pointers; relayed, never stored
  0x02 UPDATE     client ↔ server, document update; merged then relayed

Text frames carry JSON control messages (session, user_count, error).
*/

// Opcode is the first byte of every binary frame.
type Opcode byte

const (
	OpSync      Opcode = 0x00
	OpAwareness Opcode = 0x01
	OpUpdate    Opcode = 0x02
)

// FrameKind tells the write pump which WebSocket message type to use.
type FrameKind int

const (
	FrameBinary FrameKind = iota
	FrameText
)

// Frame is one outbound WebSocket message.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// BinaryFrame prefixes payload with op.
func BinaryFrame(op Opcode, payload []byte) Frame {
	data := make([]byte, 0, len(payload)+1)
	data = append(data, byte(op))
	data = append(data, payload...)
	return Frame{Kind: FrameBinary, Data: data}
}

// ControlType names the JSON control messages.
type ControlType string

const (
	ControlSession   ControlType = "session"
	ControlUserCount ControlType = "user_count"
	ControlError     ControlType = "error"
)

// ControlMessage is the JSON body of a text frame.
type ControlMessage struct {
	Type       ControlType `json:"type"`
	SessionID  string      `json:"sessionId,omitempty"`
	UserID     string      `json:"userId,omitempty"`
	Nickname   string      `json:"nickname,omitempty"`
	Permission Permission  `json:"permission,omitempty"`
	Count      int         `json:"count,omitempty"`
	Code       string      `json:"code,omitempty"`
	Message    string      `json:"message,omitempty"`
	Revision   *uint64     `json:"revision,omitempty"`
}
