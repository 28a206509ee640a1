package models

import "encoding/json"

// EventType names a realtime event carried over the persistent connection.
type EventType string

const (
	// Client -> Server
	EventIdentify      EventType = "identify"
	EventJoinRoom      EventType = "joinRoom"
	EventTypingStarted EventType = "typingStarted"
	EventTypingStopped EventType = "typingStopped"
	EventMessageSent   EventType = "messageSent"

	// Server -> Client
	EventIdentified      EventType = "identified"
	EventMessageReceived EventType = "messageReceived"
	EventError           EventType = "error"
)

// Event wraps every realtime payload with its type.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an Event of the given type.
func NewEvent(t EventType, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Data: raw}, nil
}

// ParseEvent decodes a raw frame into an Event.
func ParseEvent(frame []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(frame, &e)
	return e, err
}

type IdentifyPayload struct {
	UserID string `json:"user_id"`
}

type IdentifiedPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type RoomPayload struct {
	ChatID string `json:"chat_id" validate:"required"`
}

type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id,omitempty"`
}

type MessagePayload struct {
	Message MessageView `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes sent in ErrorPayload.
const (
	ErrCodeInvalid       = "invalid_message"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeNotIdentified = "not_identified"
	ErrCodeInternal      = "internal_error"
)
