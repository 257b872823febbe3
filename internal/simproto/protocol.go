// Package simproto defines the websocket protocol spoken between trajreplay and a
// simulator host. One HELLO/WELCOME handshake is followed by CALL/RESULT round trips.
package simproto

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCall    = "CALL"
	TypeResult  = "RESULT"
)

// Image origins a host may report in WELCOME.
const (
	OriginTopLeft    = "top-left"
	OriginBottomLeft = "bottom-left"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
