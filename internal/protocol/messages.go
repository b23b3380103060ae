package protocol

// LOGIN (client -> server, reliable)
type LoginMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        uint64 `json:"player_id"`
	Name            string `json:"name,omitempty"`
}

type Vec3 [3]float64

type TransformState struct {
	Translation Vec3 `json:"translation" msgpack:"t"`
}

type PlayerState struct {
	ID    uint64  `json:"id" msgpack:"id"`
	Speed float64 `json:"speed" msgpack:"speed"`
}

// SyncObject is one networked object in a GAME_SYNC. ObjectID is the
// server-minted stable id.
type SyncObject struct {
	ObjectID  string          `json:"object_id" msgpack:"oid"`
	Transform *TransformState `json:"transform,omitempty" msgpack:"tr,omitempty"`
	Player    *PlayerState    `json:"player,omitempty" msgpack:"pl,omitempty"`
}

// GAME_SYNC (server -> client). Sent reliably once after LOGIN and
// unreliably at a fixed cadence afterwards. Frame is the last frame the
// server simulated; UnixMillis is when the server captured it.
type GameSyncMsg struct {
	Type            string       `json:"type" msgpack:"type"`
	ProtocolVersion string       `json:"protocol_version" msgpack:"protocol_version"`
	Frame           uint64       `json:"frame" msgpack:"frame"`
	UnixMillis      int64        `json:"unix_ms" msgpack:"unix_ms"`
	TickRateHz      int          `json:"tick_rate_hz,omitempty" msgpack:"tick_rate_hz,omitempty"`
	Window          int          `json:"rollback_window,omitempty" msgpack:"rollback_window,omitempty"`
	Objects         []SyncObject `json:"objects" msgpack:"objects"`
}

// PLAYER_CONNECTED (server -> client, reliable)
type PlayerConnectedMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	PlayerID        uint64         `json:"player_id"`
	ObjectID        string         `json:"object_id"`
	Frame           uint64         `json:"frame"`
	Transform       TransformState `json:"transform"`
	Player          PlayerState    `json:"player"`
}

// PLAYER_DISCONNECTED (server -> client, reliable)
type PlayerDisconnectedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        uint64 `json:"player_id"`
	ObjectID        string `json:"object_id"`
	Frame           uint64 `json:"frame"`
}

// ERROR (server -> client, reliable)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	Frame           uint64 `json:"frame,omitempty"`
}

// INPUT (client -> server, unreliable). The sender is implied by the
// session.
type InputMsg struct {
	Type  string `msgpack:"type"`
	Frame uint64 `msgpack:"frame"`
	X     int8   `msgpack:"x"`
	Y     int8   `msgpack:"y"`
}

// PLAYER_INPUT (server -> client, unreliable): another player's input.
type PlayerInputMsg struct {
	Type     string `msgpack:"type"`
	PlayerID uint64 `msgpack:"player_id"`
	Frame    uint64 `msgpack:"frame"`
	X        int8   `msgpack:"x"`
	Y        int8   `msgpack:"y"`
}

func NewErrorMsg(code, message string, frame uint64) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message, Frame: frame}
}
