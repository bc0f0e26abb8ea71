package engine

import "math"

const (
	// MovementTolerance is the absolute slack in meters allowed on top of
	// the distance implied by the reported velocity.
	MovementTolerance = 0.5

	// MaxValidationWindowMs is the sample spacing at or beyond which a
	// candidate is accepted without judgement.
	MaxValidationWindowMs = 60000

	// MaxNameSuffix bounds the numeric suffix search of SuggestName.
	MaxNameSuffix = 9999
)

// Vec3 is a plain 3D vector
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v * s
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Norm returns the Euclidean length of v
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// PlayerState is the latest transform sample of one session.
// Every transform component is independently optional; absent components
// are encoded as null.
type PlayerState struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`

	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`

	// TS is the client clock in milliseconds since epoch. Not monotonic.
	TS *uint64 `json:"ts"`

	RX *float64 `json:"rx"`
	RY *float64 `json:"ry"`
	RZ *float64 `json:"rz"`

	VX *float64 `json:"vx"`
	VY *float64 `json:"vy"`
	VZ *float64 `json:"vz"`

	Action *string `json:"action,omitempty"`
}

// NewPlayerState returns an empty-transform state for a session
func NewPlayerState(uuid, username string) PlayerState {
	return PlayerState{UUID: uuid, Username: username}
}

// Position returns the position when all three components are present
func (p *PlayerState) Position() (Vec3, bool) {
	if p.X == nil || p.Y == nil || p.Z == nil {
		return Vec3{}, false
	}
	return Vec3{X: *p.X, Y: *p.Y, Z: *p.Z}, true
}

// PositionOr returns the position, substituting fallback for each absent component
func (p *PlayerState) PositionOr(fallback Vec3) Vec3 {
	return Vec3{
		X: valueOr(p.X, fallback.X),
		Y: valueOr(p.Y, fallback.Y),
		Z: valueOr(p.Z, fallback.Z),
	}
}

// SetPosition overwrites all three position components
func (p *PlayerState) SetPosition(v Vec3) {
	p.X, p.Y, p.Z = Float(v.X), Float(v.Y), Float(v.Z)
}

// Velocity returns the reported velocity; absent components count as 0
func (p *PlayerState) Velocity() Vec3 {
	return Vec3{X: valueOr(p.VX, 0), Y: valueOr(p.VY, 0), Z: valueOr(p.VZ, 0)}
}

// Clone returns a deep copy so callers can hand the state out of a lock
func (p PlayerState) Clone() PlayerState {
	c := p
	c.X, c.Y, c.Z = cloneFloat(p.X), cloneFloat(p.Y), cloneFloat(p.Z)
	c.RX, c.RY, c.RZ = cloneFloat(p.RX), cloneFloat(p.RY), cloneFloat(p.RZ)
	c.VX, c.VY, c.VZ = cloneFloat(p.VX), cloneFloat(p.VY), cloneFloat(p.VZ)
	if p.TS != nil {
		ts := *p.TS
		c.TS = &ts
	}
	if p.Action != nil {
		a := *p.Action
		c.Action = &a
	}
	return c
}

// Float returns a pointer to f
func Float(f float64) *float64 {
	return &f
}

// Millis returns a pointer to ms
func Millis(ms uint64) *uint64 {
	return &ms
}

func valueOr(f *float64, fallback float64) float64 {
	if f == nil {
		return fallback
	}
	return *f
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
