package viewer

// Version is the viewer protocol version.
const Version = "0.1"

// Client -> Server. First message on the viewer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// Server -> Client. Sent when a replay episode starts.
type EpisodeStartMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Episode         int    `json:"episode"`
}

// Server -> Client. One per replay step.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Episode         int    `json:"episode"`
	Seq             uint64 `json:"seq"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	PNG             []byte `json:"png"`
}

type EpisodeEndMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Episode         int    `json:"episode"`
	Frames          uint64 `json:"frames"`
}

const (
	TypeSubscribe    = "SUBSCRIBE"
	TypeEpisodeStart = "EPISODE_START"
	TypeFrame        = "FRAME"
	TypeEpisodeEnd   = "EPISODE_END"
)
