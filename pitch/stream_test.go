package pitch

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sineStream(freq, amplitude float64, length int) []float64 {
	samples := make([]float64, length)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/testSampleRate)
	}
	return samples
}

func fakeClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}

func TestStreamerEmitsEstimatesFromChunkedInput(t *testing.T) {
	s := NewStreamer(testSampleRate)
	s.SetClock(fakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), time.Millisecond))

	var estimates []Estimate
	s.SetEstimateFunc(func(e Estimate) {
		estimates = append(estimates, e)
	})

	// 4096 samples of A4 in audio-callback-sized chunks: frames complete
	// at samples 2048, 3072 and 4096 with the default 50% overlap
	stream := sineStream(440.0, 0.5, 4096)
	for off := 0; off < len(stream); off += 512 {
		s.Process(stream[off : off+512])
	}

	assert := assert.New(t)
	assert.Len(estimates, 3)
	for _, e := range estimates {
		assert.Equal(69, e.MidiNote)
		assert.Greater(e.Confidence, 0.8)
		assert.False(e.Timestamp.IsZero())
	}
}

func TestStreamerNoiseGateSuppressesQuietInput(t *testing.T) {
	s := NewStreamer(testSampleRate)

	count := 0
	s.SetEstimateFunc(func(Estimate) { count++ })

	// -63dB input stays below the -46dB gate
	s.Process(sineStream(440.0, 0.001, 4096))
	assert.Equal(t, 0, count)
}

func TestStreamerNoiseGateAdjustable(t *testing.T) {
	s := NewStreamer(testSampleRate)
	s.SetNoiseGate(0) // 0dB: nothing short of full scale passes

	count := 0
	s.SetEstimateFunc(func(Estimate) { count++ })

	s.Process(sineStream(440.0, 0.5, 4096))
	assert.Equal(t, 0, count)
}

func TestStreamerNoCallbackInstalled(t *testing.T) {
	s := NewStreamer(testSampleRate)

	// must not panic without a consumer
	s.Process(sineStream(440.0, 0.5, 4096))
}

func TestStreamerReset(t *testing.T) {
	s := NewStreamer(testSampleRate)

	count := 0
	s.SetEstimateFunc(func(Estimate) { count++ })

	// 2000 samples accumulated, then discarded: the next 2000 do not
	// complete a frame either
	s.Process(sineStream(440.0, 0.5, 2000))
	s.Reset()
	s.Process(sineStream(440.0, 0.5, 2000))
	assert.Equal(t, 0, count)

	s.Process(sineStream(440.0, 0.5, 48))
	assert.Equal(t, 1, count)
}

func TestNewStreamerWithParamsValidation(t *testing.T) {
	params := DefaultStreamerParams(0)
	_, err := NewStreamerWithParams(params)
	assert.Error(t, err)
}
