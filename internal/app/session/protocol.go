package session

import (
	"encoding/json"
	"fmt"

	"animstream/internal/domain/animation"
)

type MessageType string

const (
	MessageConnect          MessageType = "connect"
	MessageDisconnect       MessageType = "disconnect"
	MessageAnimationCommand MessageType = "animation_command"
	MessageCharacterUpdate  MessageType = "character_update"
	MessageSessionStatus    MessageType = "session_status"
	MessageError            MessageType = "error"
	MessagePing             MessageType = "ping"
	MessagePong             MessageType = "pong"
)

// Frame is the JSON envelope used in both directions on a channel.
type Frame struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

type CommandPayload struct {
	CharacterID string         `json:"characterId"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
	Duration    *float64       `json:"duration,omitempty"`
}

type clientPayload struct {
	ClientID string `json:"clientId"`
}

type removedPayload struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

type statusPayload struct {
	Status animation.Status `json:"status"`
}

type metadataPayload struct {
	Metadata map[string]any `json:"metadata"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func encodeFrame(t MessageType, sessionID string, payload any, ts int64) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return json.Marshal(Frame{Type: t, SessionID: sessionID, Payload: raw, Timestamp: ts})
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: malformed frame: %v", ErrInvalidRequest, err)
	}
	return f, nil
}
