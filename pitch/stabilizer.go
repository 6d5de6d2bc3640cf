package pitch

import "time"

// StabilizerParams configures the event-level filtering applied between
// raw estimates and tracking decisions
type StabilizerParams struct {
	MinConfidence   float64       `json:"min_confidence"`   // reject estimates below this confidence
	StabilityWindow time.Duration `json:"stability_window"` // candidate must hold this long before emission
	Debounce        time.Duration `json:"debounce"`         // minimum spacing between emitted events
}

// DefaultStabilizerParams returns the reference stabilizer settings.
// Together these add up to ~150ms of worst-case latency, budgeted
// against the end-to-end target.
func DefaultStabilizerParams() StabilizerParams {
	return StabilizerParams{
		MinConfidence:   0.7,
		StabilityWindow: 50 * time.Millisecond,
		Debounce:        100 * time.Millisecond,
	}
}

// Stabilizer filters a stream of raw pitch estimates down to settled
// events: transient glides between notes and re-attacks of the same note
// inside the debounce window never reach the tracker. All timing is
// driven by estimate timestamps, not the wall clock, so behaviour is
// deterministic for a given input stream.
type Stabilizer struct {
	params StabilizerParams

	candidate    int
	hasCandidate bool
	stableSince  time.Time

	lastEmit   time.Time
	hasEmitted bool
}

// NewStabilizer creates a stabilizer, clamping nonsensical parameters to
// their defaults
func NewStabilizer(params StabilizerParams) *Stabilizer {
	if params.MinConfidence < 0 || params.MinConfidence > 1 {
		params.MinConfidence = DefaultStabilizerParams().MinConfidence
	}
	if params.StabilityWindow < 0 {
		params.StabilityWindow = DefaultStabilizerParams().StabilityWindow
	}
	if params.Debounce < 0 {
		params.Debounce = DefaultStabilizerParams().Debounce
	}
	return &Stabilizer{params: params}
}

// Params returns the stabilizer configuration
func (st *Stabilizer) Params() StabilizerParams {
	return st.params
}

// Offer feeds one raw estimate through the filter chain. It returns the
// estimate unchanged with true when the estimate has settled into an
// emittable event, and false otherwise.
func (st *Stabilizer) Offer(e Estimate) (Estimate, bool) {
	if e.Confidence < st.params.MinConfidence {
		return Estimate{}, false
	}
	if e.MidiNote < 0 || e.MidiNote > 127 {
		return Estimate{}, false
	}

	if !st.hasCandidate || e.MidiNote != st.candidate {
		st.candidate = e.MidiNote
		st.hasCandidate = true
		st.stableSince = e.Timestamp
		return Estimate{}, false
	}

	if e.Timestamp.Sub(st.stableSince) < st.params.StabilityWindow {
		return Estimate{}, false
	}

	if st.hasEmitted && e.Timestamp.Sub(st.lastEmit) < st.params.Debounce {
		return Estimate{}, false
	}

	st.lastEmit = e.Timestamp
	st.hasEmitted = true
	return e, true
}

// Reset clears candidate and debounce state, e.g. on practice restart
func (st *Stabilizer) Reset() {
	st.hasCandidate = false
	st.hasEmitted = false
	st.candidate = 0
	st.stableSince = time.Time{}
	st.lastEmit = time.Time{}
}
