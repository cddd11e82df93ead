package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event names.
const (
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"
	EventUpdate    = "update"
	EventPing      = "ping"
)

// Outbound event names.
const (
	EventConnected    = "connected"
	EventJoined       = "joined"
	EventLeft         = "left"
	EventUpdated      = "updated"
	EventMemberJoined = "member-joined"
	EventMemberLeft   = "member-left"
	EventNotification = "notification"
	EventError        = "error"
	EventPong         = "pong"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is one of JoinRoom, LeaveRoom, Update or Ping.
type Inbound interface {
	eventName() string
}

// JoinRoom asks to subscribe to a trip room.
type JoinRoom struct {
	RoomTarget Target `json:"roomTarget"`
}

// LeaveRoom asks to unsubscribe.
type LeaveRoom struct {
	RoomTarget Target `json:"roomTarget"`
}

// Update asks to broadcast a change to a room.
type Update struct {
	RoomTarget Target          `json:"roomTarget"`
	UpdateType string          `json:"updateType"`
	Payload    json.RawMessage `json:"payload"`
}

// Ping refreshes liveness.
type Ping struct{}

func (JoinRoom) eventName() string  { return EventJoinRoom }
func (LeaveRoom) eventName() string { return EventLeaveRoom }
func (Update) eventName() string    { return EventUpdate }
func (Ping) eventName() string      { return EventPing }

// Target is a room target that clients may send as a string or a bare number.
type Target string

func (t *Target) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Target(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("roomTarget must be a string or number")
	}
	*t = Target(n.String())
	return nil
}

// DecodeInbound parses a client frame into its typed message.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", ErrBadRequest, err)
	}

	var msg Inbound
	switch env.Event {
	case EventJoinRoom:
		var m JoinRoom
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		msg = m
	case EventLeaveRoom:
		var m LeaveRoom
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		msg = m
	case EventUpdate:
		var m Update
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		msg = m
	case EventPing:
		msg = Ping{}
	case "":
		return nil, fmt.Errorf("%w: missing event", ErrBadRequest)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrBadRequest, env.Event)
	}
	return msg, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrBadRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid data: %v", ErrBadRequest, err)
	}
	return nil
}

// Outbound payloads.

type connectedEvent struct {
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type roomAckEvent struct {
	RoomTarget RoomID    `json:"roomTarget"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

type updatedEvent struct {
	RoomTarget RoomID          `json:"roomTarget"`
	UpdateType UpdateType      `json:"updateType"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedBy  *UserRef        `json:"updatedBy,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

type memberEvent struct {
	RoomTarget RoomID    `json:"roomTarget"`
	User       UserRef   `json:"user"`
	Timestamp  time.Time `json:"timestamp"`
}

type errorEvent struct {
	Context string `json:"context"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type pongEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// encodeFrame wraps data in an Envelope.
func encodeFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		raw = d
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// withTimestamp adds a timestamp field to a JSON object payload. Non-object
// payloads are wrapped as {"payload": ..., "timestamp": ...}.
func withTimestamp(payload json.RawMessage, ts time.Time) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: invalid payload: %v", ErrBadRequest, err)
		}
		if _, ok := obj["timestamp"]; !ok {
			stamp, _ := json.Marshal(ts)
			obj["timestamp"] = stamp
		}
		return json.Marshal(obj)
	}
	if len(trimmed) > 0 && !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid payload", ErrBadRequest)
	}
	wrapped := struct {
		Payload   json.RawMessage `json:"payload,omitempty"`
		Timestamp time.Time       `json:"timestamp"`
	}{Payload: trimmed, Timestamp: ts}
	return json.Marshal(wrapped)
}
