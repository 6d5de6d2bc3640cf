// Package follow wires the pitch event stabilizer, the position tracker
// and the reference clock into the note-matching coordinator. One
// follower owns one practice session at a time.
package follow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigrino/music-sheet-flow/clock"
	"github.com/tigrino/music-sheet-flow/logging"
	"github.com/tigrino/music-sheet-flow/pitch"
	"github.com/tigrino/music-sheet-flow/score"
	"github.com/tigrino/music-sheet-flow/track"
)

// Params configures a follower
type Params struct {
	Stabilizer pitch.StabilizerParams `json:"stabilizer"`
	Tracker    track.Params           `json:"tracker"`
	CountIn    time.Duration          `json:"count_in"` // delay before the clock starts
}

// DefaultParams returns the reference follower configuration
func DefaultParams() Params {
	return Params{
		Stabilizer: pitch.DefaultStabilizerParams(),
		Tracker:    track.DefaultParams(),
		CountIn:    0,
	}
}

// Feedback is the combined record emitted for every processed pitch
// event, consumed by rendering and statistics collaborators. Records are
// immutable once emitted; tempo changes never rewrite history.
type Feedback struct {
	SessionID     uuid.UUID         `json:"session_id"`
	Result        track.MatchResult `json:"result"`
	NoteIndex     int               `json:"note_index"`
	ExpectedMidi  int               `json:"expected_midi"`
	DetectedMidi  int               `json:"detected_midi"`
	ExpectedNote  string            `json:"expected_note"`
	DetectedNote  string            `json:"detected_note"`
	CentDeviation int               `json:"cent_deviation"`
	TimingOffset  time.Duration     `json:"timing_offset"`
	Frequency     float64           `json:"frequency"`
	Confidence    float64           `json:"confidence"`
	Tentative     bool              `json:"tentative"`
	Complete      bool              `json:"complete"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Follower coordinates one score-following session. All event
// processing runs on a single mutation path guarded by one mutex; the
// audio-rate domain only ever touches the streamer, which hands
// estimates in through OnPitchEstimate.
type Follower struct {
	mu     sync.Mutex
	logger logging.Logger
	params Params

	clk        *clock.Clock
	tracker    *track.Tracker
	stabilizer *pitch.Stabilizer

	sessionID uuid.UUID
	loaded    bool
	running   bool

	history    []Feedback
	onFeedback func(Feedback)

	cancelCountIn context.CancelFunc
}

// New creates a follower with its own reference clock and tracker
func New(params Params) *Follower {
	return NewWithClock(params, time.Now)
}

// NewWithClock creates a follower on an injectable time source, for tests
func NewWithClock(params Params, now func() time.Time) *Follower {
	clk := clock.NewWithClock(now)
	return &Follower{
		logger:     logging.WithFields(logging.Fields{"component": "note_matcher"}),
		params:     params,
		clk:        clk,
		tracker:    track.New(clk, params.Tracker),
		stabilizer: pitch.NewStabilizer(params.Stabilizer),
	}
}

// Clock returns the follower's reference clock, e.g. for attaching a
// metronome beat consumer
func (f *Follower) Clock() *clock.Clock {
	return f.clk
}

// SetFeedbackFunc installs the feedback consumer
func (f *Follower) SetFeedbackFunc(fn func(Feedback)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFeedback = fn
}

// SessionID identifies the current practice session; it changes on
// every load and reset
func (f *Follower) SessionID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

// LoadScore installs a score into the tracker and the clock together.
// The two are never loaded separately, so they cannot reference two
// different scores. Any previous session state is discarded.
func (f *Follower) LoadScore(sc *score.Score) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.clk.Load(sc)
	f.tracker.Load(sc)
	f.stabilizer.Reset()
	f.history = nil
	f.sessionID = uuid.New()
	f.loaded = sc != nil

	if sc != nil {
		f.logger.Info("session ready", logging.Fields{
			"session": f.sessionID.String(),
			"notes":   sc.Len(),
			"bpm":     f.clk.Tempo(),
		})
	}
}

// Start begins the session, waiting out the configured count-in first.
// The wait is cancellable: cancelling ctx or calling Stop abandons the
// start without the clock ever running. Starting a running session is a
// no-op.
func (f *Follower) Start(ctx context.Context) error {
	f.mu.Lock()
	if !f.loaded || f.running {
		f.mu.Unlock()
		return nil
	}
	countIn := f.params.CountIn
	waitCtx, cancel := context.WithCancel(ctx)
	f.cancelCountIn = cancel
	f.mu.Unlock()

	if countIn > 0 {
		timer := time.NewTimer(countIn)
		defer timer.Stop()
		select {
		case <-waitCtx.Done():
			f.mu.Lock()
			f.cancelCountIn = nil
			f.mu.Unlock()
			return waitCtx.Err()
		case <-timer.C:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCountIn = nil
	if f.running || !f.loaded {
		return nil
	}
	f.clk.Start()
	f.running = true
	f.logger.Info("session started")
	return nil
}

// Stop halts the clock and cancels any in-flight count-in wait
func (f *Follower) Stop() {
	f.mu.Lock()
	cancel := f.cancelCountIn
	f.cancelCountIn = nil
	wasRunning := f.running
	f.running = false
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.clk.Stop()

	if wasRunning {
		f.logger.Info("session stopped")
	}
}

// Running reports whether the session clock is running
func (f *Follower) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Reset rewinds the session to the start of the loaded score: tracker,
// clock position and beat counter, stabilizer state and feedback history
// all restart together under a fresh session identity.
func (f *Follower) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tracker.Reset()
	f.clk.Reset()
	f.stabilizer.Reset()
	f.history = nil
	f.sessionID = uuid.New()
}

// OnPitchEstimate accepts one raw pitch estimate from the audio-rate
// front end. The estimate is stabilized, matched against the score, and
// on any decisive outcome a feedback record is emitted.
func (f *Follower) OnPitchEstimate(e pitch.Estimate) {
	f.mu.Lock()

	if !f.loaded {
		f.mu.Unlock()
		return
	}

	event, ok := f.stabilizer.Offer(e)
	if !ok {
		f.mu.Unlock()
		return
	}

	f.processLocked(event)
}

// processLocked matches one stabilized event and emits feedback.
// Called with f.mu held; releases it before invoking the callback.
func (f *Follower) processLocked(event pitch.Estimate) {
	verdict := f.tracker.Process(event.MidiNote, event.Timestamp)
	if verdict.Result == track.MatchNone {
		f.mu.Unlock()
		return
	}

	if verdict.Result.Advanced() {
		// Keep the clock's note pointer synchronized with the tracker
		f.clk.SetPosition(verdict.NextIndex)
	}

	fb := Feedback{
		SessionID:     f.sessionID,
		Result:        verdict.Result,
		NoteIndex:     verdict.NoteIndex,
		ExpectedMidi:  verdict.ExpectedMidi,
		DetectedMidi:  verdict.DetectedMidi,
		ExpectedNote:  NoteName(verdict.ExpectedMidi),
		DetectedNote:  NoteName(verdict.DetectedMidi),
		CentDeviation: event.CentDeviation,
		TimingOffset:  verdict.TimingOffset,
		Frequency:     event.Frequency,
		Confidence:    event.Confidence,
		Tentative:     verdict.Tentative,
		Complete:      verdict.Complete,
		Timestamp:     event.Timestamp,
	}
	f.history = append(f.history, fb)
	fn := f.onFeedback
	f.mu.Unlock()

	if fn != nil {
		fn(fb)
	}
}

// SkipCurrent skips the currently expected note, keeping the clock
// pointer in step. Returns false when there is nothing to skip.
func (f *Follower) SkipCurrent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.tracker.SkipCurrent() {
		return false
	}
	f.clk.SetPosition(f.tracker.Index())
	return true
}

// SetTempo changes the session tempo; the clock clamps and recomputes
// expected note timestamps. Already-recorded feedback is untouched.
func (f *Follower) SetTempo(bpm float64) {
	f.clk.SetTempo(bpm)
}

// Snapshot returns the tracker's current published state
func (f *Follower) Snapshot() *track.State {
	return f.tracker.Snapshot()
}

// History returns a copy of the feedback records emitted this session
func (f *Follower) History() []Feedback {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Feedback, len(f.history))
	copy(out, f.history)
	return out
}
