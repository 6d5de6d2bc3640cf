package pitch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var stabBase = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func estimateAt(midiNote int, confidence float64, offset time.Duration) Estimate {
	return Estimate{
		Frequency:  MidiToFrequency(midiNote),
		Confidence: confidence,
		MidiNote:   midiNote,
		Timestamp:  stabBase.Add(offset),
	}
}

func TestStabilizerRejectsLowConfidence(t *testing.T) {
	st := NewStabilizer(DefaultStabilizerParams())

	_, ok := st.Offer(estimateAt(69, 0.5, 0))
	assert.False(t, ok)
	_, ok = st.Offer(estimateAt(69, 0.5, 60*time.Millisecond))
	assert.False(t, ok)
}

func TestStabilizerRejectsOutOfRangeMidi(t *testing.T) {
	st := NewStabilizer(DefaultStabilizerParams())

	_, ok := st.Offer(estimateAt(-1, 0.9, 0))
	assert.False(t, ok)
	_, ok = st.Offer(estimateAt(128, 0.9, 60*time.Millisecond))
	assert.False(t, ok)
}

func TestStabilizerEmitsAfterStabilityWindow(t *testing.T) {
	st := NewStabilizer(DefaultStabilizerParams())

	_, ok := st.Offer(estimateAt(69, 0.9, 0))
	assert.False(t, ok)

	out, ok := st.Offer(estimateAt(69, 0.9, 60*time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, 69, out.MidiNote)
	assert.Equal(t, stabBase.Add(60*time.Millisecond), out.Timestamp)
}

func TestStabilizerHoldsInsideStabilityWindow(t *testing.T) {
	st := NewStabilizer(DefaultStabilizerParams())

	_, ok := st.Offer(estimateAt(69, 0.9, 0))
	assert.False(t, ok)
	_, ok = st.Offer(estimateAt(69, 0.9, 30*time.Millisecond))
	assert.False(t, ok)
}

func TestStabilizerAlternatingNotesNeverEmit(t *testing.T) {
	st := NewStabilizer(DefaultStabilizerParams())

	// a glide flipping every 25ms never holds for the 50ms window
	for i := 0; i < 20; i++ {
		note := 69
		if i%2 == 1 {
			note = 70
		}
		_, ok := st.Offer(estimateAt(note, 0.9, time.Duration(i)*25*time.Millisecond))
		assert.False(t, ok)
	}
}

func TestStabilizerCandidateChangeResetsWindow(t *testing.T) {
	st := NewStabilizer(DefaultStabilizerParams())

	st.Offer(estimateAt(69, 0.9, 0))
	st.Offer(estimateAt(71, 0.9, 40*time.Millisecond)) // new candidate

	// 69's 40ms of history does not count toward 71
	_, ok := st.Offer(estimateAt(71, 0.9, 80*time.Millisecond))
	assert.False(t, ok)
	_, ok = st.Offer(estimateAt(71, 0.9, 95*time.Millisecond))
	assert.True(t, ok)
}

func TestStabilizerDebounce(t *testing.T) {
	st := NewStabilizer(DefaultStabilizerParams())

	st.Offer(estimateAt(69, 0.9, 0))
	_, ok := st.Offer(estimateAt(69, 0.9, 60*time.Millisecond))
	assert.True(t, ok)

	// still within 100ms of the emission
	_, ok = st.Offer(estimateAt(69, 0.9, 120*time.Millisecond))
	assert.False(t, ok)

	// past the debounce interval the sustained note emits again
	_, ok = st.Offer(estimateAt(69, 0.9, 170*time.Millisecond))
	assert.True(t, ok)
}

func TestStabilizerReset(t *testing.T) {
	st := NewStabilizer(DefaultStabilizerParams())

	st.Offer(estimateAt(69, 0.9, 0))
	_, ok := st.Offer(estimateAt(69, 0.9, 60*time.Millisecond))
	assert.True(t, ok)

	st.Reset()

	// candidate history and debounce state are gone
	_, ok = st.Offer(estimateAt(69, 0.9, 70*time.Millisecond))
	assert.False(t, ok)
	_, ok = st.Offer(estimateAt(69, 0.9, 125*time.Millisecond))
	assert.True(t, ok)
}

func TestNewStabilizerClampsBadParams(t *testing.T) {
	st := NewStabilizer(StabilizerParams{MinConfidence: 1.5, StabilityWindow: -time.Second, Debounce: -1})
	assert.Equal(t, DefaultStabilizerParams(), st.Params())
}
