// Package escalation maps clinical acuity to response-time pressure: how
// long a notified hospital may take to answer, and how many consecutive
// rejections a case tolerates before a dispatcher is forced in.
package escalation

import "time"

// Params are the acuity-scaled limits for one notification cycle.
type Params struct {
	ResponseTimeout  time.Duration
	RejectionCeiling int
}

// policyTable is keyed by acuity level, 1 most severe. Lower acuity numbers
// get shorter timeouts and lower ceilings.
var policyTable = map[int]Params{
	1: {ResponseTimeout: 2 * time.Minute, RejectionCeiling: 1},
	2: {ResponseTimeout: 5 * time.Minute, RejectionCeiling: 2},
	3: {ResponseTimeout: 10 * time.Minute, RejectionCeiling: 3},
	4: {ResponseTimeout: 15 * time.Minute, RejectionCeiling: 4},
	5: {ResponseTimeout: 20 * time.Minute, RejectionCeiling: 5},
}

// ParamsFor returns the limits for an acuity level. Out-of-range levels are
// clamped to the nearest defined severity so a malformed case still escalates.
func ParamsFor(acuity int) Params {
	if acuity < 1 {
		acuity = 1
	}
	if acuity > 5 {
		acuity = 5
	}
	return policyTable[acuity]
}

// TimeoutRemaining reports how long the current notification cycle may still
// wait for a hospital response. A nil awaitingSince means no cycle is open
// and the zero duration is returned. Negative results are clamped to zero;
// zero therefore means "escalation due".
func TimeoutRemaining(awaitingSince *time.Time, acuity int, now time.Time) time.Duration {
	if awaitingSince == nil {
		return 0
	}
	deadline := awaitingSince.Add(ParamsFor(acuity).ResponseTimeout)
	remaining := deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Due reports whether the open notification cycle has run out of time.
func Due(awaitingSince *time.Time, acuity int, now time.Time) bool {
	if awaitingSince == nil {
		return false
	}
	return TimeoutRemaining(awaitingSince, acuity, now) == 0
}
