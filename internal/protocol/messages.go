// ABOUTME: Muzicynk wire protocol message definitions
// ABOUTME: Typed JSON envelopes plus the binary PCM frame formats
package protocol

import (
	"encoding/json"
	"fmt"
)

// JSON message types. Client-to-server requests and server-to-client
// notifications share one envelope; audio travels as binary frames.
const (
	TypeCreateRoom        = "create-room"
	TypeJoinRoom          = "join-room"
	TypeSyncState         = "sync-state"
	TypeRoomJoined        = "room-joined"
	TypeRoomCountUpdate   = "room-count-update"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeRoomClosed        = "room-closed"
	TypeStateUpdate       = "state-update"
	TypeError             = "error"
)

// Binary frame type tags (first byte of every binary message).
const (
	// FrameAudioData is host-to-server: [tag:1][len(roomCode):1][roomCode][pcm]
	FrameAudioData byte = 1
	// FrameAudioStream is server-to-listener: [tag:1][pcm]
	FrameAudioStream byte = 2
)

// MaxFrameBytes bounds a single binary frame. Enforced through the
// transport read limit on both ends.
const MaxFrameBytes = 10_000_000

// MaxRoomCodeLen bounds the room code carried in an audio-data frame.
const MaxRoomCodeLen = 255

// Message is the top-level wrapper for all JSON protocol messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CreateRoom registers a new session keyed by RoomCode.
type CreateRoom struct {
	RoomCode string `json:"roomCode"`
}

// JoinRoom adds the sender to an existing session.
type JoinRoom struct {
	RoomCode string `json:"roomCode"`
}

// RoomJoined acknowledges a successful join.
type RoomJoined struct {
	RoomCode string `json:"roomCode"`
}

// RoomCount carries the current room occupancy, host included.
type RoomCount struct {
	Count int `json:"count"`
}

// ParticipantEvent is host-directed and reports a membership change.
type ParticipantEvent struct {
	ConnectionID string `json:"connectionId"`
}

// PlaybackState is the host's playback-control state. It is replaced
// wholesale on every update; there is no merge and no versioning.
type PlaybackState struct {
	IsPlaying bool    `json:"isPlaying"`
	Position  float64 `json:"position"` // seconds
}

// SyncState publishes the host's playback state to a room.
type SyncState struct {
	RoomCode string        `json:"roomCode"`
	State    PlaybackState `json:"state"`
}

// ErrorMessage reports a request-level failure.
type ErrorMessage struct {
	Message string `json:"message"`
}

// ProtocolError marks input rejected at the deserialization boundary.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol: " + e.Reason
}

// Encode marshals a typed payload into an envelope ready for the wire.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		raw = data
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// DecodeEnvelope parses the outer message envelope.
func DecodeEnvelope(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, &ProtocolError{Reason: "malformed envelope"}
	}
	if msg.Type == "" {
		return Message{}, &ProtocolError{Reason: "missing message type"}
	}
	return msg, nil
}

// DecodePayload parses an envelope payload into a typed struct.
func DecodePayload(msg Message, v interface{}) error {
	if len(msg.Payload) == 0 {
		return &ProtocolError{Reason: "missing payload for " + msg.Type}
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return &ProtocolError{Reason: "malformed payload for " + msg.Type}
	}
	return nil
}
