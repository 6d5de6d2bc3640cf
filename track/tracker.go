package track

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tigrino/music-sheet-flow/logging"
	"github.com/tigrino/music-sheet-flow/score"
)

// TimingSource reports the signed offset between an actual play instant
// and the expected instant for a note index. The reference clock
// implements it; tests substitute fakes. Looking timing up per matched
// index keeps lookahead matches timed against their own note, not the
// note that was expected when the event arrived.
type TimingSource interface {
	TimingOffset(noteIndex int, actual time.Time) time.Duration
}

// Params configures the state machine
type Params struct {
	SemitoneTolerance int           `json:"semitone_tolerance"` // pitch match tolerance in semitones
	LookaheadWindow   int           `json:"lookahead_window"`   // notes ahead a match may tentatively land on
	TimingTolerance   time.Duration `json:"timing_tolerance"`   // |offset| at or below this is on time
}

// DefaultParams returns the reference tracker settings: one semitone of
// pitch tolerance to absorb detection jitter, a two-note lookahead, and
// a 100ms on-time window.
func DefaultParams() Params {
	return Params{
		SemitoneTolerance: 1,
		LookaheadWindow:   2,
		TimingTolerance:   100 * time.Millisecond,
	}
}

// Verdict is the outcome of processing one event
type Verdict struct {
	Result       MatchResult   `json:"result"`
	NoteIndex    int           `json:"note_index"`    // the note the verdict applies to, -1 for no-ops
	NextIndex    int           `json:"next_index"`    // tracker position after the transition
	ExpectedMidi int           `json:"expected_midi"` // -1 for no-ops
	DetectedMidi int           `json:"detected_midi"`
	TimingOffset time.Duration `json:"timing_offset"`
	Advanced     bool          `json:"advanced"`  // position moved forward
	Tentative    bool          `json:"tentative"` // the advance is provisional
	Complete     bool          `json:"complete"`
}

// tentativeState carries the rollback bookkeeping for a provisional
// lookahead advance, including the verdict recorded for the tentative
// note itself. Nothing in it reaches SessionStats until confirmed.
type tentativeState struct {
	index         int
	skipped       int
	pendingResult MatchResult
	pendingOffset time.Duration
}

// Tracker is the position-tracking state machine. All mutation happens
// under one mutex on the control-rate path; concurrent readers use the
// atomically published snapshot.
type Tracker struct {
	mu     sync.Mutex
	logger logging.Logger
	params Params
	timing TimingSource

	sc     *score.Score
	index  int
	states []NoteState
	tent   *tentativeState
	last   MatchResult
	stats  statsAccum

	published atomic.Pointer[State]
}

// New creates a tracker with no score loaded. The timing source is
// normally the reference clock.
func New(timing TimingSource, params Params) *Tracker {
	if params.SemitoneTolerance < 0 {
		params.SemitoneTolerance = DefaultParams().SemitoneTolerance
	}
	if params.LookaheadWindow < 0 {
		params.LookaheadWindow = DefaultParams().LookaheadWindow
	}
	if params.TimingTolerance <= 0 {
		params.TimingTolerance = DefaultParams().TimingTolerance
	}

	t := &Tracker{
		logger: logging.WithFields(logging.Fields{"component": "position_tracker"}),
		params: params,
		timing: timing,
	}
	t.publishLocked()
	return t
}

// Load installs a score and resets all tracking state
func (t *Tracker) Load(sc *score.Score) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sc = sc
	t.resetLocked()

	if sc != nil {
		t.logger.Info("score loaded", logging.Fields{"notes": sc.Len()})
	}
}

// Reset rewinds tracking to the start of the loaded score
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	t.index = 0
	t.tent = nil
	t.last = MatchNone
	t.stats.reset()

	if t.sc == nil {
		t.states = nil
	} else {
		t.states = make([]NoteState, t.sc.Len())
	}
	t.relabelLocked()
	t.publishLocked()
}

// Snapshot returns the most recently published tracking state. The
// returned value is immutable and safe to read from any goroutine.
func (t *Tracker) Snapshot() *State {
	return t.published.Load()
}

// Complete reports whether the position has reached the end of the score
func (t *Tracker) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sc != nil && t.index >= t.sc.Len()
}

// Process runs one stabilized pitch event through the state machine.
// Calling it before a score is loaded or after tracking completed is a
// defined no-op, not an error.
func (t *Tracker) Process(midiNote int, at time.Time) Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sc == nil || t.index >= t.sc.Len() {
		return Verdict{
			Result:       MatchNone,
			NoteIndex:    -1,
			NextIndex:    t.index,
			ExpectedMidi: -1,
			DetectedMidi: midiNote,
			Complete:     t.sc != nil && t.sc.Len() > 0 && t.index >= t.sc.Len(),
		}
	}

	var v Verdict
	if t.tent != nil {
		v = t.processTentativeLocked(midiNote, at)
	} else {
		v = t.processWaitingLocked(midiNote, at)
	}

	t.last = v.Result
	t.relabelLocked()
	t.publishLocked()
	return v
}

// processWaitingLocked handles an event while expecting the note at the
// current index
func (t *Tracker) processWaitingLocked(midiNote int, at time.Time) Verdict {
	expected := t.sc.Note(t.index).MidiNote

	if t.withinTolerance(midiNote, expected) {
		offset := t.timing.TimingOffset(t.index, at)
		result := t.timingResult(offset)
		t.states[t.index] = NotePlayedCorrect
		t.stats.countMatch(result, offset)
		matched := t.index
		t.index++

		return Verdict{
			Result:       result,
			NoteIndex:    matched,
			NextIndex:    t.index,
			ExpectedMidi: expected,
			DetectedMidi: midiNote,
			TimingOffset: offset,
			Advanced:     true,
			Complete:     t.index >= t.sc.Len(),
		}
	}

	for k := 1; k <= t.params.LookaheadWindow; k++ {
		idx := t.index + k
		if idx >= t.sc.Len() {
			break
		}
		if !t.withinTolerance(midiNote, t.sc.Note(idx).MidiNote) {
			continue
		}

		offset := t.timing.TimingOffset(idx, at)
		result := t.timingResult(offset)
		t.tent = &tentativeState{
			index:         idx,
			skipped:       t.index,
			pendingResult: result,
			pendingOffset: offset,
		}
		// Provisional marks only: nothing reaches the stats until the
		// skip is confirmed by the next event
		for j := t.index; j < idx; j++ {
			t.states[j] = NoteSkipped
		}
		t.states[idx] = NoteCurrent
		t.index = idx

		return Verdict{
			Result:       result,
			NoteIndex:    idx,
			NextIndex:    t.index,
			ExpectedMidi: t.sc.Note(idx).MidiNote,
			DetectedMidi: midiNote,
			TimingOffset: offset,
			Advanced:     true,
			Tentative:    true,
		}
	}

	// No match within the lookahead window: stay put
	offset := t.timing.TimingOffset(t.index, at)
	t.states[t.index] = NotePlayedWrong
	t.stats.countWrong()

	return Verdict{
		Result:       MatchWrongPitch,
		NoteIndex:    t.index,
		NextIndex:    t.index,
		ExpectedMidi: expected,
		DetectedMidi: midiNote,
		TimingOffset: offset,
	}
}

// processTentativeLocked resolves a provisional lookahead advance. Three
// outcomes: the event confirms the skip, the event undoes it by playing
// the originally skipped note, or the speculation is reverted entirely.
func (t *Tracker) processTentativeLocked(midiNote int, at time.Time) Verdict {
	tent := t.tent
	confirmIdx := tent.index + 1

	if confirmIdx < t.sc.Len() && t.withinTolerance(midiNote, t.sc.Note(confirmIdx).MidiNote) {
		// Confirm: the skipped range becomes final, the tentative note's
		// recorded verdict counts, and the confirming note counts too
		t.stats.countSkipped(tent.index - tent.skipped)
		t.states[tent.index] = NotePlayedCorrect
		t.stats.countMatch(tent.pendingResult, tent.pendingOffset)

		offset := t.timing.TimingOffset(confirmIdx, at)
		result := t.timingResult(offset)
		t.states[confirmIdx] = NotePlayedCorrect
		t.stats.countMatch(result, offset)

		t.index = confirmIdx + 1
		t.tent = nil

		return Verdict{
			Result:       result,
			NoteIndex:    confirmIdx,
			NextIndex:    t.index,
			ExpectedMidi: t.sc.Note(confirmIdx).MidiNote,
			DetectedMidi: midiNote,
			TimingOffset: offset,
			Advanced:     true,
			Complete:     t.index >= t.sc.Len(),
		}
	}

	if t.withinTolerance(midiNote, t.sc.Note(tent.skipped).MidiNote) {
		// Undo: the player backtracked and played the skipped note. Any
		// notes between it and the tentative position stay skipped; play
		// resumes where the lookahead landed.
		offset := t.timing.TimingOffset(tent.skipped, at)
		result := t.timingResult(offset)
		t.states[tent.skipped] = NotePlayedCorrect
		t.stats.countMatch(result, offset)
		t.stats.countSkipped(tent.index - tent.skipped - 1)

		t.index = tent.index
		skipped := tent.skipped
		t.tent = nil

		return Verdict{
			Result:       result,
			NoteIndex:    skipped,
			NextIndex:    t.index,
			ExpectedMidi: t.sc.Note(skipped).MidiNote,
			DetectedMidi: midiNote,
			TimingOffset: offset,
			Advanced:     true,
		}
	}

	// Revert the speculation entirely and report the wrong pitch against
	// the note that was expected before the lookahead fired
	for j := tent.skipped; j <= tent.index; j++ {
		t.states[j] = NoteUpcoming
	}
	t.index = tent.skipped
	t.tent = nil
	t.stats.countWrong()

	expected := t.sc.Note(t.index).MidiNote
	return Verdict{
		Result:       MatchWrongPitch,
		NoteIndex:    t.index,
		NextIndex:    t.index,
		ExpectedMidi: expected,
		DetectedMidi: midiNote,
		TimingOffset: t.timing.TimingOffset(t.index, at),
	}
}

// SkipCurrent skips the expected note unconditionally, the user-driven
// control. A pending tentative advance is discarded first, so the note
// being skipped is the one that was expected before any speculation.
// Returns false when there is nothing to skip.
func (t *Tracker) SkipCurrent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sc == nil || t.index >= t.sc.Len() {
		return false
	}

	if t.tent != nil {
		for j := t.tent.skipped; j <= t.tent.index; j++ {
			t.states[j] = NoteUpcoming
		}
		t.index = t.tent.skipped
		t.tent = nil
	}

	t.states[t.index] = NoteSkipped
	t.stats.countSkipped(1)
	t.index++
	t.last = MatchNone

	t.relabelLocked()
	t.publishLocked()

	t.logger.Debug("note skipped manually", logging.Fields{"index": t.index - 1})
	return true
}

// Index returns the current position
func (t *Tracker) Index() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index
}

func (t *Tracker) withinTolerance(midiNote, expected int) bool {
	diff := midiNote - expected
	if diff < 0 {
		diff = -diff
	}
	return diff <= t.params.SemitoneTolerance
}

// timingResult classifies a timing offset: within tolerance either way
// is on time, too negative is early, too positive is late
func (t *Tracker) timingResult(offset time.Duration) MatchResult {
	switch {
	case offset < -t.params.TimingTolerance:
		return MatchEarly
	case offset > t.params.TimingTolerance:
		return MatchLate
	default:
		return MatchOnTime
	}
}

// relabelLocked recomputes the derived labels around the position
// pointer. Settled labels (played, skipped) are preserved; the current
// note keeps a wrong-pitch mark until it is resolved.
func (t *Tracker) relabelLocked() {
	n := len(t.states)
	if t.index < n && t.states[t.index] != NotePlayedWrong {
		t.states[t.index] = NoteCurrent
	}
	for j := t.index + 1; j < n; j++ {
		switch t.states[j] {
		case NotePlayedCorrect, NotePlayedWrong, NoteSkipped:
			// settled
		default:
			if j <= t.index+t.params.LookaheadWindow {
				t.states[j] = NoteLookahead
			} else {
				t.states[j] = NoteUpcoming
			}
		}
	}
}

// publishLocked swaps in a fresh immutable snapshot
func (t *Tracker) publishLocked() {
	st := &State{
		Index:      t.index,
		LastResult: t.last,
		Stats:      t.stats.snapshot(),
		Complete:   t.sc != nil && t.sc.Len() > 0 && t.index >= t.sc.Len(),
	}
	if t.states != nil {
		st.Notes = make([]NoteState, len(t.states))
		copy(st.Notes, t.states)
	}
	if t.tent != nil {
		st.Tentative = &Tentative{Index: t.tent.index, Skipped: t.tent.skipped}
	}
	t.published.Store(st)
}
