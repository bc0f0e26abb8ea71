// Package engine provides the pure world-state logic for the synchronizer.
//
// The engine package implements:
//   - PlayerState, the per-session transform sample clients push
//   - Vector helpers over optional position/velocity components
//   - The movement validator (anti-cheat displacement check)
//   - The suggested-name rule used on username conflicts
//
// Nothing in this package holds locks or performs I/O. The session package
// owns the mutable maps and calls into engine while holding its guard.
//
// Movement Validation:
//
// A candidate sample is compared against the previous stored sample. When
// the client-supplied timestamps are 0ms or at least 60s apart the sample is
// not judged. Otherwise the displacement may exceed the distance implied by
// the reported velocity by at most MovementTolerance meters; beyond that the
// position is clamped to prev + velocity*dt.
//
//	res := engine.ValidateMovement(prevPos, prevTS, candPos, candTS, vel)
//	if !res.Accepted {
//		stored.SetPosition(*res.Corrected)
//	}
package engine
