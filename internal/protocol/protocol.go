package protocol

import "encoding/json"

const Version = "1.0"

// Reliable message types travel as JSON text frames, in order.
const (
	TypeLogin              = "LOGIN"
	TypeGameSync           = "GAME_SYNC"
	TypePlayerConnected    = "PLAYER_CONNECTED"
	TypePlayerDisconnected = "PLAYER_DISCONNECTED"
	TypeError              = "ERROR"
)

// Unreliable message types travel as msgpack binary frames and may be
// dropped or superseded. GAME_SYNC is sent on both channels.
const (
	TypeInput       = "INPUT"
	TypePlayerInput = "PLAYER_INPUT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type" msgpack:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty" msgpack:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
