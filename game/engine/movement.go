package engine

// MovementResult is the verdict of ValidateMovement
type MovementResult struct {
	Accepted bool
	// Corrected is set only when the candidate was rejected
	Corrected *Vec3
	// Expected and Actual are the compared distances in meters; both are 0
	// when the sample was not judged.
	Expected float64
	Actual   float64
}

// ValidateMovement checks a candidate position against the previous sample.
//
// Samples with no forward time (reordered or equal timestamps) and samples
// spaced MaxValidationWindowMs or more apart are accepted unconditionally.
// Otherwise the candidate is rejected when its displacement exceeds
// |velocity|*dt + MovementTolerance, and the corrected position is
// prev + velocity*dt.
func ValidateMovement(prevPos Vec3, prevTS uint64, candPos Vec3, candTS uint64, velocity Vec3) MovementResult {
	var dtMs uint64
	if candTS > prevTS {
		dtMs = candTS - prevTS
	}
	if dtMs == 0 || dtMs >= MaxValidationWindowMs {
		return MovementResult{Accepted: true}
	}

	dt := float64(dtMs) / 1000.0
	expected := velocity.Norm() * dt
	actual := candPos.Sub(prevPos).Norm()

	if actual > expected+MovementTolerance {
		corrected := prevPos.Add(velocity.Scale(dt))
		return MovementResult{
			Accepted:  false,
			Corrected: &corrected,
			Expected:  expected,
			Actual:    actual,
		}
	}

	return MovementResult{Accepted: true, Expected: expected, Actual: actual}
}

// ValidateSample runs ValidateMovement for a candidate sample against a
// previous one. The previous sample must carry a full position and a
// timestamp, and the candidate a timestamp; otherwise the candidate is
// trusted. Absent candidate coordinates default to the previous ones.
func ValidateSample(prev, cand *PlayerState) MovementResult {
	prevPos, ok := prev.Position()
	if !ok || prev.TS == nil || cand.TS == nil {
		return MovementResult{Accepted: true}
	}
	return ValidateMovement(prevPos, *prev.TS, cand.PositionOr(prevPos), *cand.TS, cand.Velocity())
}
