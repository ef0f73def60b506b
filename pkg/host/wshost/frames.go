package wshost

import "time"

// Inbound frame types sent by the device side.
const (
	FrameTranscription = "transcription"
	FramePing          = "ping"
)

// Outbound frame types.
const (
	FrameConnected = "connected"
	FrameDisplay   = "display"
	FramePong      = "pong"
	FrameError     = "error"
)

type inboundFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// ConnectedFrame is the first frame written on a new connection.
type ConnectedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// DisplayFrame asks the device to show a text wall for DurationMs.
type DisplayFrame struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	DurationMs int    `json:"durationMs"`
}

type pongFrame struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newPong() pongFrame {
	return pongFrame{Type: FramePong, ServerTime: time.Now().UnixMilli()}
}
