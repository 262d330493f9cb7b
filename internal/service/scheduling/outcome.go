package scheduling

// Outcome reports how a best-effort lifecycle phase ended. The engine
// swallows failures in secondary phases rather than aborting the caller, so
// an explicit tri-state lets tests and metrics tell a recoverable skip apart
// from a success or a swallowed failure.
type Outcome int

const (
	// OutcomeApplied means the phase performed its state transition.
	OutcomeApplied Outcome = iota
	// OutcomeSkipped means there was nothing to do (e.g. no open alert, no
	// log for the timestamp). Skips are expected and never errors.
	OutcomeSkipped
	// OutcomeFailed means the phase hit an error that was logged and
	// contained instead of propagated.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
