package stream

// FrameType is the websocket opcode class of a raw frame.
type FrameType uint8

const (
	TextFrame FrameType = iota + 1
	BinaryFrame
	PingFrame
	PongFrame
)

func (t FrameType) String() string {
	switch t {
	case TextFrame:
		return "text"
	case BinaryFrame:
		return "binary"
	case PingFrame:
		return "ping"
	case PongFrame:
		return "pong"
	default:
		return "unknown"
	}
}

// Frame is one raw message read from a connection.
type Frame struct {
	Type FrameType
	Data []byte
}
