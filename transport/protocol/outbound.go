package protocol

import (
	"encoding/json"

	"github.com/wricardo/worldsync/game/engine"
)

// Action discriminates outbound messages
type Action string

const (
	ActionRegistered       Action = "registered"
	ActionNameConflict     Action = "name_conflict"
	ActionUUIDNotFound     Action = "uuid_not_found"
	ActionUsernameRequired Action = "username_required"
	ActionCorrection       Action = "correction"
	ActionOffline          Action = "offline"
	ActionRemoved          Action = "removed"
)

const (
	ReasonInvalidMovement = "invalid_movement"
	ReasonInactivity      = "inactivity"
	ReasonTimeout         = "timeout"
)

type Registered struct {
	Action   Action             `json:"action" jsonschema:"required"`
	UUID     string             `json:"uuid" jsonschema:"required"`
	Username string             `json:"username" jsonschema:"required"`
	State    engine.PlayerState `json:"state"`
	Resumed  bool               `json:"resumed"`
}

type NameConflict struct {
	Action    Action `json:"action" jsonschema:"required"`
	Suggested string `json:"suggested" jsonschema:"required"`
}

type UUIDNotFound struct {
	Action  Action `json:"action" jsonschema:"required"`
	UUID    string `json:"uuid" jsonschema:"required"`
	Message string `json:"message"`
}

type UsernameRequired struct {
	Action  Action `json:"action" jsonschema:"required"`
	Message string `json:"message"`
}

// CorrectedState is the authoritative transform sent back to a client
// whose movement was rejected. It carries the id under both "id" and
// "uuid" for older clients.
type CorrectedState struct {
	ID       string  `json:"id"`
	UUID     string  `json:"uuid"`
	Username string  `json:"username,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	VX       float64 `json:"vx"`
	VY       float64 `json:"vy"`
	VZ       float64 `json:"vz"`
	TS       uint64  `json:"ts"`
}

type Correction struct {
	Action    Action         `json:"action" jsonschema:"required"`
	Reason    string         `json:"reason" jsonschema:"required"`
	Corrected CorrectedState `json:"corrected" jsonschema:"required"`
}

type Offline struct {
	Action  Action `json:"action" jsonschema:"required"`
	Reason  string `json:"reason" jsonschema:"required"`
	UUID    string `json:"uuid" jsonschema:"required"`
	Message string `json:"message"`
}

type Removed struct {
	Action Action `json:"action" jsonschema:"required"`
	Reason string `json:"reason" jsonschema:"required"`
}

// Snapshot is the world broadcast: every online player keyed by session id
type Snapshot struct {
	Players map[string]engine.PlayerState `json:"players" jsonschema:"required"`
}

func NewRegistered(state engine.PlayerState, resumed bool) Registered {
	return Registered{
		Action:   ActionRegistered,
		UUID:     state.UUID,
		Username: state.Username,
		State:    state,
		Resumed:  resumed,
	}
}

func NewNameConflict(suggested string) NameConflict {
	return NameConflict{Action: ActionNameConflict, Suggested: suggested}
}

func NewUUIDNotFound(uuid string) UUIDNotFound {
	return UUIDNotFound{
		Action:  ActionUUIDNotFound,
		UUID:    uuid,
		Message: "unknown session id, register with a username",
	}
}

func NewUsernameRequired() UsernameRequired {
	return UsernameRequired{Action: ActionUsernameRequired, Message: "username is required to register"}
}

// NewCorrection builds the correction for a stored state whose position
// was clamped; absent velocity components are sent as 0
func NewCorrection(state engine.PlayerState) Correction {
	pos := state.PositionOr(engine.Vec3{})
	vel := state.Velocity()
	c := CorrectedState{
		ID:       state.UUID,
		UUID:     state.UUID,
		Username: state.Username,
		X:        pos.X,
		Y:        pos.Y,
		Z:        pos.Z,
		VX:       vel.X,
		VY:       vel.Y,
		VZ:       vel.Z,
	}
	if state.TS != nil {
		c.TS = *state.TS
	}
	return Correction{Action: ActionCorrection, Reason: ReasonInvalidMovement, Corrected: c}
}

func NewOffline(uuid string) Offline {
	return Offline{
		Action:  ActionOffline,
		Reason:  ReasonInactivity,
		UUID:    uuid,
		Message: "session marked offline after inactivity, register with your uuid to resume",
	}
}

func NewRemoved() Removed {
	return Removed{Action: ActionRemoved, Reason: ReasonTimeout}
}

func NewSnapshot(players map[string]engine.PlayerState) Snapshot {
	if players == nil {
		players = map[string]engine.PlayerState{}
	}
	return Snapshot{Players: players}
}

// Encode marshals an outbound message
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
