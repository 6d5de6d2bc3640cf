package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFiltersNonPlayableNotes(t *testing.T) {
	notes := []Note{
		{MidiNote: 60, Measure: 0, Position: 0},
		{MidiNote: -1, Measure: 0, Position: 1, IsRest: true},
		{MidiNote: 64, Measure: 0, Position: 2, ChordContinuation: true},
		{MidiNote: 62, Measure: 0, Position: 2},
		{MidiNote: 62, Measure: 0, Position: 3, TieContinuation: true},
		{MidiNote: 200, Measure: 0, Position: 4},
	}
	sc := New(notes, DefaultTiming())

	assert := assert.New(t)
	assert.Equal(2, sc.Len())
	assert.Equal(60, sc.Note(0).MidiNote)
	assert.Equal(62, sc.Note(1).MidiNote)
}

func TestNewOrdersByMeasureThenPosition(t *testing.T) {
	notes := []Note{
		{MidiNote: 67, Measure: 1, Position: 0},
		{MidiNote: 60, Measure: 0, Position: 2},
		{MidiNote: 64, Measure: 1, Position: 2},
		{MidiNote: 62, Measure: 0, Position: 0},
	}
	sc := New(notes, DefaultTiming())

	assert := assert.New(t)
	assert.Equal(4, sc.Len())
	assert.Equal(62, sc.Note(0).MidiNote)
	assert.Equal(60, sc.Note(1).MidiNote)
	assert.Equal(67, sc.Note(2).MidiNote)
	assert.Equal(64, sc.Note(3).MidiNote)
}

func TestBeatOffsets(t *testing.T) {
	timing := Timing{TempoBPM: 120, BeatsPerMeasure: 4, DivisionsPerQuarter: 2}
	notes := []Note{
		{MidiNote: 60, Measure: 0, Position: 0},
		{MidiNote: 62, Measure: 0, Position: 2}, // beat 1
		{MidiNote: 64, Measure: 0, Position: 3}, // beat 1.5
		{MidiNote: 65, Measure: 1, Position: 0}, // beat 4
	}
	sc := New(notes, timing)

	assert := assert.New(t)
	assert.InDelta(0.0, sc.BeatOffset(0), 1e-9)
	assert.InDelta(1.0, sc.BeatOffset(1), 1e-9)
	assert.InDelta(1.5, sc.BeatOffset(2), 1e-9)
	assert.InDelta(4.0, sc.BeatOffset(3), 1e-9)
}

func TestNotesReturnsCopy(t *testing.T) {
	sc := New([]Note{{MidiNote: 60}}, DefaultTiming())
	out := sc.Notes()
	out[0].MidiNote = 99

	assert.Equal(t, 60, sc.Note(0).MidiNote)
}

func TestDefaultTiming(t *testing.T) {
	timing := DefaultTiming()

	assert := assert.New(t)
	assert.Equal(120.0, timing.TempoBPM)
	assert.Equal(4, timing.BeatsPerMeasure)
	assert.Equal(4, timing.DivisionsPerQuarter)
}
