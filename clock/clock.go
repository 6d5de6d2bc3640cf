// Package clock provides the reference beat clock the tracking engine
// times performances against. The clock runs freely at a configured
// tempo; it never decides matches, it only maps note indices and beat
// numbers to wall-clock timestamps.
package clock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tigrino/music-sheet-flow/logging"
	"github.com/tigrino/music-sheet-flow/score"
)

const (
	// MinTempoBPM and MaxTempoBPM bound every tempo this clock accepts
	MinTempoBPM = 20.0
	MaxTempoBPM = 300.0

	// DefaultPollInterval is the beat poller resolution
	DefaultPollInterval = 10 * time.Millisecond
)

// Beat is a single beat-boundary notification, consumed by
// metronome-style collaborators independently of score following
type Beat struct {
	Number        int64     `json:"number"`          // beats since the clock started, from 0
	Measure       int       `json:"measure"`         // derived measure index
	BeatInMeasure int       `json:"beat_in_measure"` // zero-based beat within the measure
	Timestamp     time.Time `json:"timestamp"`       // nominal boundary time
}

// ClampTempo clamps a BPM value into the supported range
func ClampTempo(bpm float64) float64 {
	return math.Max(MinTempoBPM, math.Min(MaxTempoBPM, bpm))
}

// Clock is a free-running beat counter with per-note expected timestamps.
// The current note index pointer is advanced externally by the
// coordinator after a match; the clock only timestamps.
type Clock struct {
	mu     sync.Mutex
	logger logging.Logger
	now    func() time.Time

	pollInterval time.Duration

	sc              *score.Score
	bpm             float64
	beatsPerMeasure int
	expected        []time.Duration // per-note offset from clock start at the current tempo

	started   bool
	startTime time.Time
	lastBeat  int64
	position  int

	onBeat func(Beat)

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped clock using the system time
func New() *Clock {
	return NewWithClock(time.Now)
}

// NewWithClock creates a stopped clock with an injectable time source
func NewWithClock(now func() time.Time) *Clock {
	return &Clock{
		logger:          logging.WithFields(logging.Fields{"component": "reference_clock"}),
		now:             now,
		pollInterval:    DefaultPollInterval,
		bpm:             ClampTempo(120.0),
		beatsPerMeasure: 4,
		lastBeat:        -1,
	}
}

// SetPollInterval adjusts the beat poller resolution. Takes effect on
// the next Start.
func (c *Clock) SetPollInterval(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if interval > 0 {
		c.pollInterval = interval
	}
}

// SetBeatFunc installs the beat-tick consumer
func (c *Clock) SetBeatFunc(fn func(Beat)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBeat = fn
}

// Load installs a score: tempo and meter come from the score's timing
// metadata, and every playable note gets an expected timestamp offset
// derived from its beat offset. Resets the position pointer.
func (c *Clock) Load(sc *score.Score) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sc = sc
	c.position = 0
	c.lastBeat = -1

	if sc == nil {
		c.expected = nil
		return
	}

	timing := sc.Timing()
	c.bpm = ClampTempo(timing.TempoBPM)
	if timing.BeatsPerMeasure > 0 {
		c.beatsPerMeasure = timing.BeatsPerMeasure
	}
	c.recomputeExpectedLocked()

	c.logger.Info("score loaded", logging.Fields{
		"notes": sc.Len(),
		"bpm":   c.bpm,
	})
}

// recomputeExpectedLocked rebuilds per-note expected offsets from the
// tempo-invariant beat offsets
func (c *Clock) recomputeExpectedLocked() {
	if c.sc == nil {
		c.expected = nil
		return
	}
	nsPerBeat := c.nsPerBeatLocked()
	if cap(c.expected) < c.sc.Len() {
		c.expected = make([]time.Duration, c.sc.Len())
	}
	c.expected = c.expected[:c.sc.Len()]
	for i := range c.expected {
		c.expected[i] = time.Duration(c.sc.BeatOffset(i) * float64(nsPerBeat))
	}
}

func (c *Clock) nsPerBeatLocked() time.Duration {
	return time.Duration(60e9 / c.bpm)
}

// Start begins free-running from the current instant and launches the
// beat poller. Starting a running clock is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.startTime = c.now()
	c.lastBeat = -1

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	interval := c.pollInterval
	done := c.done
	c.mu.Unlock()

	go c.poll(ctx, interval, done)

	c.logger.Debug("clock started", logging.Fields{"bpm": c.Tempo()})
}

// Stop halts the clock and the poller. Any in-flight poll wait is
// cancelled; no beat ticks fire after Stop returns.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the clock is started
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Reset rewinds the beat counter and position pointer. A running clock
// restarts counting from the current instant.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = 0
	c.lastBeat = -1
	if c.started {
		c.startTime = c.now()
	}
}

// poll wakes on a short interval, checks for cancellation, and emits a
// tick for every beat boundary crossed since the last wake
func (c *Clock) poll(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.emitCrossedBeats()
		}
	}
}

func (c *Clock) emitCrossedBeats() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}

	elapsed := c.now().Sub(c.startTime)
	if elapsed < 0 {
		c.mu.Unlock()
		return
	}

	nsPerBeat := c.nsPerBeatLocked()
	currentBeat := int64(elapsed / nsPerBeat)

	var ticks []Beat
	for b := c.lastBeat + 1; b <= currentBeat; b++ {
		ticks = append(ticks, Beat{
			Number:        b,
			Measure:       int(b) / c.beatsPerMeasure,
			BeatInMeasure: int(b) % c.beatsPerMeasure,
			Timestamp:     c.startTime.Add(time.Duration(b) * nsPerBeat),
		})
	}
	c.lastBeat = currentBeat
	fn := c.onBeat
	c.mu.Unlock()

	if fn != nil {
		for _, tick := range ticks {
			fn(tick)
		}
	}
}

// SetTempo changes the tempo, clamped to [20, 300] BPM. The beat
// position is preserved across the change and every note's expected
// timestamp is recomputed from its fixed beat offset.
func (c *Clock) SetTempo(bpm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bpm = ClampTempo(bpm)
	if bpm == c.bpm {
		return
	}

	if c.started {
		// Rebase the start time so the current beat position carries over
		nowT := c.now()
		beats := float64(nowT.Sub(c.startTime)) / float64(c.nsPerBeatLocked())
		c.bpm = bpm
		c.startTime = nowT.Add(-time.Duration(beats * float64(c.nsPerBeatLocked())))
	} else {
		c.bpm = bpm
	}

	c.recomputeExpectedLocked()

	c.logger.Info("tempo changed", logging.Fields{"bpm": bpm})
}

// Tempo returns the current tempo in BPM
func (c *Clock) Tempo() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bpm
}

// CurrentBeat returns the fractional beat position since Start, or 0 for
// a stopped clock
func (c *Clock) CurrentBeat() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return 0
	}
	return float64(c.now().Sub(c.startTime)) / float64(c.nsPerBeatLocked())
}

// ExpectedTimestamp returns the wall-clock instant the note at the given
// index is expected to sound. The second return is false when the clock
// is stopped or the index is out of range.
func (c *Clock) ExpectedTimestamp(noteIndex int) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || noteIndex < 0 || noteIndex >= len(c.expected) {
		return time.Time{}, false
	}
	return c.startTime.Add(c.expected[noteIndex]), true
}

// TimingOffset returns actual minus expected for the note at the given
// index: positive offsets are late, negative early. A stopped clock or an
// out-of-range index yields zero.
func (c *Clock) TimingOffset(noteIndex int, actual time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || noteIndex < 0 || noteIndex >= len(c.expected) {
		return 0
	}
	return actual.Sub(c.startTime.Add(c.expected[noteIndex]))
}

// SetPosition moves the externally-owned current note pointer
func (c *Clock) SetPosition(noteIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if noteIndex < 0 {
		noteIndex = 0
	}
	c.position = noteIndex
}

// Position returns the current note pointer
func (c *Clock) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}
