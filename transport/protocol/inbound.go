package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/wricardo/worldsync/game/engine"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// MessageType discriminates inbound messages
type MessageType string

const (
	TypeRegister  MessageType = "register"
	TypeUpdate    MessageType = "update"
	TypeHeartbeat MessageType = "heartbeat"
)

// RegisterRequest asks for a new session or the resume of a known one
type RegisterRequest struct {
	Type     MessageType `json:"type" jsonschema:"required,enum=register"`
	Username string      `json:"username,omitempty"`
	UUID     string      `json:"uuid,omitempty"`
}

// UpdateRequest carries one transform sample. Only the transform fields
// of State are applied; its username is ignored.
type UpdateRequest struct {
	Type MessageType `json:"type" jsonschema:"required,enum=update"`
	engine.PlayerState
}

// HeartbeatRequest keeps a session online without changing its state
type HeartbeatRequest struct {
	Type MessageType `json:"type" jsonschema:"required,enum=heartbeat"`
	UUID string      `json:"uuid" jsonschema:"required"`
}

// Inbound is one decoded datagram. Exactly one of the request fields is set,
// matching Type.
type Inbound struct {
	Type      MessageType
	Register  *RegisterRequest
	Update    *UpdateRequest
	Heartbeat *HeartbeatRequest
}

// SessionID returns the session the message refers to, if any
func (in Inbound) SessionID() string {
	switch {
	case in.Register != nil:
		return in.Register.UUID
	case in.Update != nil:
		return in.Update.UUID
	case in.Heartbeat != nil:
		return in.Heartbeat.UUID
	}
	return ""
}

type envelope struct {
	Type MessageType `json:"type"`
}

// Decode parses one datagram. It returns an error wrapping ErrMalformed
// when the payload is not a valid JSON object of the expected shape, and
// ErrUnknownType when the type field is missing or unrecognized.
func Decode(payload []byte) (Inbound, error) {
	if !utf8.Valid(payload) {
		return Inbound{}, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	in := Inbound{Type: env.Type}
	var err error
	switch env.Type {
	case TypeRegister:
		in.Register = &RegisterRequest{}
		err = json.Unmarshal(payload, in.Register)
	case TypeUpdate:
		in.Update = &UpdateRequest{}
		err = json.Unmarshal(payload, in.Update)
	case TypeHeartbeat:
		in.Heartbeat = &HeartbeatRequest{}
		err = json.Unmarshal(payload, in.Heartbeat)
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return in, nil
}
