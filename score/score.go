// Package score holds the immutable playable-note sequence the tracking
// engine follows. The sequence is produced by an external score loader;
// this package does no file parsing of its own.
package score

import (
	"sort"
)

// Note is a single entry extracted from a loaded score. Rests carry no
// pitch; chord and tie continuations duplicate a pitch that is already
// sounding. None of those three take part in monophonic tracking.
type Note struct {
	MidiNote          int  `json:"midi_note"` // MIDI note number, -1 for rests
	Measure           int  `json:"measure"`   // zero-based measure index
	Position          int  `json:"position"`  // offset within the measure, in divisions
	IsRest            bool `json:"is_rest"`
	ChordContinuation bool `json:"chord_continuation"`
	TieContinuation   bool `json:"tie_continuation"`
}

// Playable reports whether the note takes part in monophonic tracking
func (n Note) Playable() bool {
	return !n.IsRest && !n.ChordContinuation && !n.TieContinuation &&
		n.MidiNote >= 0 && n.MidiNote <= 127
}

// Timing is the score-level timing metadata supplied by the loader
type Timing struct {
	TempoBPM            float64 `json:"tempo_bpm"`
	BeatsPerMeasure     int     `json:"beats_per_measure"`
	DivisionsPerQuarter int     `json:"divisions_per_quarter"`
}

// DefaultTiming returns common-time defaults for scores whose metadata
// is incomplete
func DefaultTiming() Timing {
	return Timing{
		TempoBPM:            120.0,
		BeatsPerMeasure:     4,
		DivisionsPerQuarter: 4,
	}
}

// Score is the ordered, immutable sequence of playable notes plus timing
// metadata. It is safe to share across goroutines without synchronization
// once constructed. The position tracker and the reference clock each hold
// the same Score, so both always observe identical note ordering.
type Score struct {
	notes       []Note
	beatOffsets []float64
	timing      Timing
}

// New builds a Score from raw loader output. Rests, chord continuations
// and tie continuations are dropped; the remainder is ordered by measure
// index, then position within the measure. Each playable note gets a
// tempo-invariant beat offset from the start of the score.
func New(notes []Note, timing Timing) *Score {
	if timing.BeatsPerMeasure <= 0 {
		timing.BeatsPerMeasure = DefaultTiming().BeatsPerMeasure
	}
	if timing.DivisionsPerQuarter <= 0 {
		timing.DivisionsPerQuarter = DefaultTiming().DivisionsPerQuarter
	}
	if timing.TempoBPM <= 0 {
		timing.TempoBPM = DefaultTiming().TempoBPM
	}

	playable := make([]Note, 0, len(notes))
	for _, n := range notes {
		if n.Playable() {
			playable = append(playable, n)
		}
	}

	sort.SliceStable(playable, func(i, j int) bool {
		if playable[i].Measure != playable[j].Measure {
			return playable[i].Measure < playable[j].Measure
		}
		return playable[i].Position < playable[j].Position
	})

	offsets := make([]float64, len(playable))
	for i, n := range playable {
		offsets[i] = float64(n.Measure)*float64(timing.BeatsPerMeasure) +
			float64(n.Position)/float64(timing.DivisionsPerQuarter)
	}

	return &Score{
		notes:       playable,
		beatOffsets: offsets,
		timing:      timing,
	}
}

// Len returns the number of playable notes
func (s *Score) Len() int {
	return len(s.notes)
}

// Note returns the playable note at index i
func (s *Score) Note(i int) Note {
	return s.notes[i]
}

// BeatOffset returns the note's offset from the start of the score in
// beats. Beat offsets are tempo-invariant; only their wall-clock mapping
// changes with tempo.
func (s *Score) BeatOffset(i int) float64 {
	return s.beatOffsets[i]
}

// Notes returns a copy of the playable-note sequence
func (s *Score) Notes() []Note {
	out := make([]Note, len(s.notes))
	copy(out, s.notes)
	return out
}

// Timing returns the score-level timing metadata
func (s *Score) Timing() Timing {
	return s.timing
}
