package ws

import "encoding/json"

// Message represents a WebSocket message with type-based routing.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// payload keeps the typed value for codecs other than JSON.
	payload any
}

// Message types - Session
const (
	TypeHello   = "hello"
	TypeWelcome = "welcome"
	TypePose    = "pose"
)

// Message types - Actions and events
const (
	TypeAction       = "action"
	TypePoseUpdate   = "pose_update"
	TypeShot         = "shot"
	TypeChat         = "chat"
	TypeInjectScript = "inject_script"
)

// Message types - System
const (
	TypeError = "error"
)

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	Message string `json:"message"`
}

// NewErrorMessage creates a Message with an error payload.
func NewErrorMessage(msg string) Message {
	payload := ErrorMessage{Message: msg}
	data, _ := json.Marshal(payload)
	return Message{Type: TypeError, Data: data, payload: payload}
}

// NewMessage creates a Message with a typed payload.
func NewMessage(msgType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: msgType, Data: data, payload: payload}, nil
}
