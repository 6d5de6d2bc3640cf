// Package pitch turns raw audio frames into discrete pitch observations.
// It has no knowledge of the score being followed: the detector reports
// fundamental frequency, the streamer feeds it from a continuous sample
// stream, and the stabilizer debounces the resulting estimates.
package pitch

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync/atomic"
	"time"

	"github.com/tigrino/music-sheet-flow/dsp"
)

// Result is a single-frame pitch detection outcome. The no-pitch result
// (silence, low confidence, out-of-range frequency) has Frequency 0 and
// MidiNote -1; it is a normal outcome, never an error.
type Result struct {
	Frequency     float64 `json:"frequency"`      // fundamental frequency in Hz
	Confidence    float64 `json:"confidence"`     // detection confidence (0-1)
	MidiNote      int     `json:"midi_note"`      // nearest MIDI note, -1 when no pitch
	CentDeviation int     `json:"cent_deviation"` // cents off the nearest semitone
}

// Estimate is a timestamped Result as handed to the control-rate domain
type Estimate struct {
	Frequency     float64   `json:"frequency"`
	Confidence    float64   `json:"confidence"`
	MidiNote      int       `json:"midi_note"`
	CentDeviation int       `json:"cent_deviation"`
	Timestamp     time.Time `json:"timestamp"`
}

// NoPitch returns the defined "no signal" result
func NoPitch() Result {
	return Result{MidiNote: -1}
}

// DetectorParams contains parameters for the YIN detector
type DetectorParams struct {
	SampleRate int `json:"sample_rate"`
	WindowSize int `json:"window_size"`

	// Frequency range constraints
	MinFreq float64 `json:"min_freq"` // minimum detectable frequency (Hz)
	MaxFreq float64 `json:"max_freq"` // maximum detectable frequency (Hz)

	// YIN dip threshold on the cumulative mean normalized difference
	YinThreshold float64 `json:"yin_threshold"`

	// Runtime tunables, clamped on set
	ConfidenceThreshold float64 `json:"confidence_threshold"` // default 0.3
	SilenceThresholdDB  float64 `json:"silence_threshold_db"` // default -50 dB
}

// DefaultDetectorParams returns detector defaults for the given sample
// rate: a 2048-sample window (~46ms at 44.1kHz) covering roughly the
// range of fretted and keyboard instruments.
func DefaultDetectorParams(sampleRate int) DetectorParams {
	return DetectorParams{
		SampleRate:          sampleRate,
		WindowSize:          2048,
		MinFreq:             20.0,
		MaxFreq:             4200.0,
		YinThreshold:        0.15,
		ConfidenceThreshold: 0.3,
		SilenceThresholdDB:  -50.0,
	}
}

const (
	minConfidenceThreshold = 0.1
	maxConfidenceThreshold = 0.8
	minSilenceDB           = -90.0
	maxSilenceDB           = 0.0
)

// Detector implements monophonic fundamental-frequency estimation using
// the YIN algorithm with an FFT-accelerated difference function.
//
// References:
// - de Cheveigné, A., Kawahara, H. (2002). "YIN, a fundamental frequency estimator for speech and music"
// - Brossier, P. (2006). "Automatic annotation of musical audio for interactive applications" (yinfast)
//
// Detect runs on the audio-rate path: it only writes into buffers
// reserved at construction and takes no locks. The two runtime tunables
// are read atomically so the settings thread never contends with it.
type Detector struct {
	params DetectorParams

	fft  *dsp.FFT
	hann *dsp.HannWindow

	// Pre-reserved analysis buffers
	frame   []float64
	padFull []float64
	padHalf []float64
	cumsum  []float64
	cmndf   []float64

	// Search bounds in samples
	minPeriod int
	maxPeriod int

	// Tunables shared with the settings thread
	confidenceBits  atomic.Uint64
	silenceGateBits atomic.Uint64
}

// NewDetector creates a detector with default parameters
func NewDetector(sampleRate int) *Detector {
	d, _ := NewDetectorWithParams(DefaultDetectorParams(sampleRate))
	return d
}

// NewDetectorWithParams creates a detector with custom parameters
func NewDetectorWithParams(params DetectorParams) (*Detector, error) {
	if params.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", params.SampleRate)
	}
	if params.WindowSize < 64 {
		return nil, fmt.Errorf("window size (%d) too small for pitch analysis", params.WindowSize)
	}
	if params.MinFreq <= 0 || params.MaxFreq <= params.MinFreq {
		return nil, fmt.Errorf("invalid frequency range [%.1f, %.1f]", params.MinFreq, params.MaxFreq)
	}

	half := params.WindowSize / 2

	minPeriod := int(float64(params.SampleRate) / params.MaxFreq)
	minPeriod = max(minPeriod, 2)
	maxPeriod := int(float64(params.SampleRate) / params.MinFreq)
	maxPeriod = min(maxPeriod, half-2)
	if maxPeriod <= minPeriod {
		return nil, fmt.Errorf("frequency range [%.1f, %.1f] not resolvable with window size %d",
			params.MinFreq, params.MaxFreq, params.WindowSize)
	}

	d := &Detector{
		params:    params,
		fft:       dsp.NewFFT(),
		hann:      dsp.NewHannWindow(params.WindowSize),
		frame:     make([]float64, params.WindowSize),
		padFull:   make([]float64, params.WindowSize*2),
		padHalf:   make([]float64, params.WindowSize*2),
		cumsum:    make([]float64, params.WindowSize+1),
		cmndf:     make([]float64, half),
		minPeriod: minPeriod,
		maxPeriod: maxPeriod,
	}

	d.SetConfidenceThreshold(params.ConfidenceThreshold)
	d.SetSilenceThreshold(params.SilenceThresholdDB)

	return d, nil
}

// SetConfidenceThreshold updates the minimum detection confidence,
// clamped to [0.1, 0.8]
func (d *Detector) SetConfidenceThreshold(threshold float64) {
	threshold = math.Max(minConfidenceThreshold, math.Min(maxConfidenceThreshold, threshold))
	d.confidenceBits.Store(math.Float64bits(threshold))
}

// ConfidenceThreshold returns the current confidence threshold
func (d *Detector) ConfidenceThreshold() float64 {
	return math.Float64frombits(d.confidenceBits.Load())
}

// SetSilenceThreshold updates the silence gate, clamped to [-90, 0] dB.
// The gate is stored as a linear RMS amplitude.
func (d *Detector) SetSilenceThreshold(thresholdDB float64) {
	thresholdDB = math.Max(minSilenceDB, math.Min(maxSilenceDB, thresholdDB))
	d.silenceGateBits.Store(math.Float64bits(dsp.DBToLinear(thresholdDB)))
}

func (d *Detector) silenceGate() float64 {
	return math.Float64frombits(d.silenceGateBits.Load())
}

// Params returns the detector's construction parameters
func (d *Detector) Params() DetectorParams {
	return d.params
}

// Detect estimates the fundamental frequency of one analysis frame.
// The frame length must equal the configured window size; anything else
// is a programming error and panics. Frames below the silence gate or
// the confidence threshold yield the no-pitch result.
func (d *Detector) Detect(frame []float64) Result {
	if len(frame) != d.params.WindowSize {
		panic(fmt.Sprintf("pitch: frame size %d does not match window size %d", len(frame), d.params.WindowSize))
	}

	if dsp.RMS(frame) < d.silenceGate() {
		return NoPitch()
	}

	copy(d.frame, frame)
	_ = d.hann.ApplyInPlace(d.frame)

	frequency, confidence := d.yin(d.frame)

	if frequency < d.params.MinFreq || frequency > d.params.MaxFreq {
		return NoPitch()
	}
	if confidence <= d.ConfidenceThreshold() {
		return NoPitch()
	}

	midiNote := FrequencyToMidi(frequency)
	if midiNote < 0 || midiNote > 127 {
		return NoPitch()
	}

	return Result{
		Frequency:     frequency,
		Confidence:    confidence,
		MidiNote:      midiNote,
		CentDeviation: CentDeviation(frequency, midiNote),
	}
}

// yin computes the cumulative mean normalized difference function and
// returns the interpolated frequency with its aperiodicity-derived
// confidence. The quadratic-time difference function is replaced by an
// FFT cross-correlation of the frame with its first half, which is exact
// for lags below half the window.
func (d *Detector) yin(x []float64) (float64, float64) {
	n := len(x)
	w := n / 2

	cs := d.cumsum
	cs[0] = 0.0
	for i, v := range x {
		cs[i+1] = cs[i] + v*v
	}

	for i := range d.padFull {
		d.padFull[i] = 0.0
	}
	copy(d.padFull, x)
	for i := range d.padHalf {
		d.padHalf[i] = 0.0
	}
	copy(d.padHalf, x[:w])

	fa := d.fft.Compute(d.padFull)
	fb := d.fft.Compute(d.padHalf)
	for i := range fa {
		fa[i] *= cmplx.Conj(fb[i])
	}
	cross := d.fft.ComputeInverseReal(fa)

	cmndf := d.cmndf
	cmndf[0] = 1.0
	runningSum := 0.0
	for tau := 1; tau < w; tau++ {
		// diff[tau] = sum over the first half-window of (x[j]-x[j+tau])^2
		diff := cs[w] + (cs[w+tau] - cs[tau]) - 2.0*cross[tau]
		if diff < 0 {
			diff = 0
		}
		runningSum += diff
		if runningSum > 0 {
			cmndf[tau] = diff * float64(tau) / runningSum
		} else {
			cmndf[tau] = 1.0
		}
	}

	// First dip below threshold, descended to its local minimum
	tauEst := -1
	for tau := d.minPeriod; tau <= d.maxPeriod; tau++ {
		if cmndf[tau] < d.params.YinThreshold {
			for tau+1 <= d.maxPeriod && cmndf[tau+1] < cmndf[tau] {
				tau++
			}
			tauEst = tau
			break
		}
	}

	if tauEst < 0 {
		// No dip below threshold: fall back to the global minimum
		tauEst = d.minPeriod
		for tau := d.minPeriod + 1; tau <= d.maxPeriod; tau++ {
			if cmndf[tau] < cmndf[tauEst] {
				tauEst = tau
			}
		}
	}

	period := parabolicInterpolation(cmndf, tauEst)
	confidence := 1.0 - cmndf[tauEst]
	confidence = math.Max(0.0, math.Min(1.0, confidence))

	return float64(d.params.SampleRate) / period, confidence
}

// parabolicInterpolation refines the minimum location using the two
// neighbouring CMNDF values
func parabolicInterpolation(data []float64, peakIdx int) float64 {
	if peakIdx <= 0 || peakIdx >= len(data)-1 {
		return float64(peakIdx)
	}

	y1 := data[peakIdx-1]
	y2 := data[peakIdx]
	y3 := data[peakIdx+1]

	a := (y1 - 2*y2 + y3) / 2
	b := (y3 - y1) / 2

	if a == 0 {
		return float64(peakIdx)
	}

	return float64(peakIdx) - b/(2*a)
}

// FrequencyToMidi converts a frequency to the nearest MIDI note number
func FrequencyToMidi(freq float64) int {
	if freq <= 0 {
		return -1
	}
	return int(math.Round(69.0 + 12.0*math.Log2(freq/440.0)))
}

// MidiToFrequency returns the equal-temperament frequency of a MIDI note
func MidiToFrequency(midiNote int) float64 {
	return 440.0 * math.Pow(2.0, float64(midiNote-69)/12.0)
}

// CentDeviation returns how far a frequency sits from a MIDI note's
// nominal frequency, in cents
func CentDeviation(freq float64, midiNote int) int {
	expected := MidiToFrequency(midiNote)
	return int(math.Round(1200.0 * math.Log2(freq/expected)))
}
