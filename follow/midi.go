package follow

import (
	"fmt"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/tigrino/music-sheet-flow/pitch"
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName renders a MIDI note number as scientific pitch notation,
// e.g. 60 -> "C4". Out-of-range values render as "-".
func NoteName(midiNote int) string {
	if midiNote < 0 || midiNote > 127 {
		return "-"
	}
	octave := midiNote/12 - 1
	return fmt.Sprintf("%s%d", noteNames[midiNote%12], octave)
}

// OnMidiMessage accepts input from a MIDI instrument as an alternative
// to the audio front end. Note-on messages are already discrete events,
// so they skip the stabilizer and match directly. Everything else is
// ignored.
func (f *Follower) OnMidiMessage(msg midi.Message, at time.Time) {
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		return
	}

	f.mu.Lock()
	if !f.loaded {
		f.mu.Unlock()
		return
	}
	f.processLocked(pitch.Estimate{
		Frequency:  pitch.MidiToFrequency(int(key)),
		Confidence: 1.0,
		MidiNote:   int(key),
		Timestamp:  at,
	})
}
