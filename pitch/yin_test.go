package pitch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testSampleRate = 44100

func sineFrame(freq, amplitude float64, size int) []float64 {
	frame := make([]float64, size)
	for i := range frame {
		frame[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/testSampleRate)
	}
	return frame
}

func TestDetectSineA4(t *testing.T) {
	d := NewDetector(testSampleRate)
	result := d.Detect(sineFrame(440.0, 0.5, 2048))

	assert := assert.New(t)
	assert.Equal(69, result.MidiNote)
	assert.InDelta(440.0, result.Frequency, 5.0)
	assert.Greater(result.Confidence, 0.8)
	assert.InDelta(0, float64(result.CentDeviation), 25)
}

func TestDetectSineA3(t *testing.T) {
	d := NewDetector(testSampleRate)
	result := d.Detect(sineFrame(220.0, 0.5, 2048))

	assert := assert.New(t)
	assert.Equal(57, result.MidiNote)
	assert.InDelta(220.0, result.Frequency, 3.0)
	assert.Greater(result.Confidence, 0.8)
}

func TestDetectSilence(t *testing.T) {
	d := NewDetector(testSampleRate)
	result := d.Detect(make([]float64, 2048))

	assert.Equal(t, NoPitch(), result)
}

func TestDetectBelowSilenceGate(t *testing.T) {
	d := NewDetector(testSampleRate)
	// -63dB sine sits below the -50dB default gate
	result := d.Detect(sineFrame(440.0, 0.001, 2048))

	assert.Equal(t, NoPitch(), result)
}

func TestDetectPanicsOnWrongFrameSize(t *testing.T) {
	d := NewDetector(testSampleRate)
	assert.Panics(t, func() {
		d.Detect(make([]float64, 1024))
	})
}

func TestConfidenceThresholdClamps(t *testing.T) {
	d := NewDetector(testSampleRate)

	assert := assert.New(t)
	d.SetConfidenceThreshold(0.05)
	assert.Equal(0.1, d.ConfidenceThreshold())
	d.SetConfidenceThreshold(0.95)
	assert.Equal(0.8, d.ConfidenceThreshold())
	d.SetConfidenceThreshold(0.3)
	assert.Equal(0.3, d.ConfidenceThreshold())
}

func TestDetectRejectsAtMaxConfidenceThreshold(t *testing.T) {
	d := NewDetector(testSampleRate)
	d.SetConfidenceThreshold(0.8)

	// a clean sine still clears a 0.8 threshold
	result := d.Detect(sineFrame(440.0, 0.5, 2048))
	assert.Equal(t, 69, result.MidiNote)
}

func TestNewDetectorWithParamsValidation(t *testing.T) {
	assert := assert.New(t)

	_, err := NewDetectorWithParams(DetectorParams{SampleRate: 0, WindowSize: 2048, MinFreq: 40, MaxFreq: 4200})
	assert.Error(err)

	_, err = NewDetectorWithParams(DetectorParams{SampleRate: 44100, WindowSize: 16, MinFreq: 40, MaxFreq: 4200})
	assert.Error(err)

	_, err = NewDetectorWithParams(DetectorParams{SampleRate: 44100, WindowSize: 2048, MinFreq: 500, MaxFreq: 100})
	assert.Error(err)

	d, err := NewDetectorWithParams(DefaultDetectorParams(44100))
	assert.NoError(err)
	assert.NotNil(d)
}

func TestFrequencyToMidi(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(69, FrequencyToMidi(440.0))
	assert.Equal(60, FrequencyToMidi(261.63))
	assert.Equal(57, FrequencyToMidi(220.0))
	assert.Equal(-1, FrequencyToMidi(0))
	assert.Equal(-1, FrequencyToMidi(-100))

	// 30 cents sharp still rounds to the same note
	assert.Equal(69, FrequencyToMidi(440.0*math.Pow(2, 30.0/1200.0)))
}

func TestMidiToFrequency(t *testing.T) {
	assert := assert.New(t)
	assert.InDelta(440.0, MidiToFrequency(69), 1e-9)
	assert.InDelta(220.0, MidiToFrequency(57), 1e-9)
	assert.InDelta(261.626, MidiToFrequency(60), 1e-3)
}

func TestCentDeviation(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(0, CentDeviation(440.0, 69))
	assert.Equal(30, CentDeviation(440.0*math.Pow(2, 30.0/1200.0), 69))
	assert.Equal(-30, CentDeviation(440.0*math.Pow(2, -30.0/1200.0), 69))
}
