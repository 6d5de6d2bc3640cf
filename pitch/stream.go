package pitch

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tigrino/music-sheet-flow/dsp"
)

// StreamerParams configures the audio-rate front end
type StreamerParams struct {
	SampleRate  int            `json:"sample_rate"`
	WindowSize  int            `json:"window_size"`
	HopSize     int            `json:"hop_size"`
	NoiseGateDB float64        `json:"noise_gate_db"`
	Detector    DetectorParams `json:"detector"`
}

// DefaultStreamerParams returns the reference front-end configuration:
// 2048-sample windows consumed with 50% overlap, so a fresh estimate is
// available roughly every 23ms at 44.1kHz.
func DefaultStreamerParams(sampleRate int) StreamerParams {
	return StreamerParams{
		SampleRate:  sampleRate,
		WindowSize:  2048,
		HopSize:     1024,
		NoiseGateDB: -46.0,
		Detector:    DefaultDetectorParams(sampleRate),
	}
}

// Streamer feeds a Detector from a continuous mono PCM stream. Process
// is intended to be called from the audio input callback: it accumulates
// samples into overlapping analysis frames, gates them on RMS energy,
// and hands completed estimates to the control-rate domain through a
// try-lock guarded callback. If the consumer side holds the lock the
// estimate is dropped; a missed detection is acceptable, blocking the
// audio thread is not.
type Streamer struct {
	detector *Detector
	window   *dsp.SlidingWindow

	gateBits atomic.Uint64

	handoff    sync.Mutex
	onEstimate func(Estimate)

	now func() time.Time
}

// NewStreamer creates a streamer with default parameters for the sample rate
func NewStreamer(sampleRate int) *Streamer {
	s, _ := NewStreamerWithParams(DefaultStreamerParams(sampleRate))
	return s
}

// NewStreamerWithParams creates a streamer with custom parameters
func NewStreamerWithParams(params StreamerParams) (*Streamer, error) {
	params.Detector.SampleRate = params.SampleRate
	params.Detector.WindowSize = params.WindowSize

	detector, err := NewDetectorWithParams(params.Detector)
	if err != nil {
		return nil, err
	}

	s := &Streamer{
		detector: detector,
		window:   dsp.NewSlidingWindow(params.WindowSize, params.HopSize),
		now:      time.Now,
	}
	s.SetNoiseGate(params.NoiseGateDB)
	return s, nil
}

// Detector returns the underlying pitch detector, for routing the
// confidence and silence settings
func (s *Streamer) Detector() *Detector {
	return s.detector
}

// SetNoiseGate updates the RMS noise gate, clamped to [-90, 0] dB
func (s *Streamer) SetNoiseGate(thresholdDB float64) {
	thresholdDB = math.Max(minSilenceDB, math.Min(maxSilenceDB, thresholdDB))
	s.gateBits.Store(math.Float64bits(dsp.DBToLinear(thresholdDB)))
}

func (s *Streamer) noiseGate() float64 {
	return math.Float64frombits(s.gateBits.Load())
}

// SetEstimateFunc installs the consumer callback for completed estimates.
// The callback runs on the audio goroutine and should only enqueue.
func (s *Streamer) SetEstimateFunc(fn func(Estimate)) {
	s.handoff.Lock()
	s.onEstimate = fn
	s.handoff.Unlock()
}

// SetClock replaces the timestamp source, for tests
func (s *Streamer) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Process consumes a chunk of mono float PCM from the audio capture
// collaborator. Chunk sizes are arbitrary; frames are cut internally.
func (s *Streamer) Process(samples []float64) {
	s.window.AddSamples(samples, s.analyzeFrame)
}

func (s *Streamer) analyzeFrame(frame []float64) {
	if dsp.RMS(frame) < s.noiseGate() {
		return
	}

	result := s.detector.Detect(frame)
	if result.MidiNote < 0 {
		return
	}

	estimate := Estimate{
		Frequency:     result.Frequency,
		Confidence:    result.Confidence,
		MidiNote:      result.MidiNote,
		CentDeviation: result.CentDeviation,
		Timestamp:     s.now(),
	}

	// Non-blocking handoff to the control-rate domain: drop on contention
	if s.handoff.TryLock() {
		fn := s.onEstimate
		if fn != nil {
			fn(estimate)
		}
		s.handoff.Unlock()
	}
}

// Reset discards any partially accumulated analysis frame
func (s *Streamer) Reset() {
	s.window.Reset()
}
