// Package track implements the position-tracking state machine that
// matches stabilized pitch events against the ordered playable-note
// sequence, including two-note lookahead with tentative rollback.
package track

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// NoteState is the per-note tracking label exposed to renderers
type NoteState int

const (
	NoteUpcoming NoteState = iota
	NoteCurrent
	NoteLookahead
	NotePlayedCorrect
	NotePlayedWrong
	NoteSkipped
)

func (s NoteState) String() string {
	switch s {
	case NoteUpcoming:
		return "upcoming"
	case NoteCurrent:
		return "current"
	case NoteLookahead:
		return "lookahead"
	case NotePlayedCorrect:
		return "played_correct"
	case NotePlayedWrong:
		return "played_wrong"
	case NoteSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MatchResult classifies the outcome of processing one pitch event
type MatchResult int

const (
	// MatchNone is the defined no-op outcome: no score loaded, tracking
	// already complete, or a manual operation with no pitch involved
	MatchNone MatchResult = iota
	MatchOnTime
	MatchEarly
	MatchLate
	MatchWrongPitch
)

func (r MatchResult) String() string {
	switch r {
	case MatchNone:
		return "none"
	case MatchOnTime:
		return "on_time"
	case MatchEarly:
		return "early"
	case MatchLate:
		return "late"
	case MatchWrongPitch:
		return "wrong_pitch"
	default:
		return "unknown"
	}
}

// Advanced reports whether the result represents a genuine position
// advance rather than a rejection or no-op
func (r MatchResult) Advanced() bool {
	return r == MatchOnTime || r == MatchEarly || r == MatchLate
}

// Tentative describes a provisional lookahead advance pending
// confirmation or rollback
type Tentative struct {
	Index   int `json:"index"`   // the provisionally accepted note
	Skipped int `json:"skipped"` // the index that was expected when lookahead matched
}

// SessionStats aggregates confirmed outcomes for the current practice
// session. Counts only ever increase; tentative marks contribute nothing
// until confirmed.
type SessionStats struct {
	OnTime  int `json:"on_time"`
	Early   int `json:"early"`
	Late    int `json:"late"`
	Wrong   int `json:"wrong"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`

	// Offset distribution over counted correct plays, in milliseconds
	MeanOffsetMs   float64 `json:"mean_offset_ms"`
	StdDevOffsetMs float64 `json:"std_dev_offset_ms"`
}

// statsAccum is the tracker-internal mutable counterpart of SessionStats
type statsAccum struct {
	onTime  int
	early   int
	late    int
	wrong   int
	skipped int
	total   int

	offsetsMs []float64
}

func (a *statsAccum) countMatch(result MatchResult, offset time.Duration) {
	switch result {
	case MatchOnTime:
		a.onTime++
	case MatchEarly:
		a.early++
	case MatchLate:
		a.late++
	default:
		return
	}
	a.total++
	a.offsetsMs = append(a.offsetsMs, float64(offset)/float64(time.Millisecond))
}

func (a *statsAccum) countWrong() {
	a.wrong++
	a.total++
}

func (a *statsAccum) countSkipped(n int) {
	a.skipped += n
	a.total += n
}

func (a *statsAccum) snapshot() SessionStats {
	s := SessionStats{
		OnTime:  a.onTime,
		Early:   a.early,
		Late:    a.late,
		Wrong:   a.wrong,
		Skipped: a.skipped,
		Total:   a.total,
	}
	if len(a.offsetsMs) > 0 {
		s.MeanOffsetMs = stat.Mean(a.offsetsMs, nil)
	}
	if len(a.offsetsMs) > 1 {
		s.StdDevOffsetMs = stat.StdDev(a.offsetsMs, nil)
	}
	return s
}

func (a *statsAccum) reset() {
	*a = statsAccum{}
}

// State is an immutable tracking snapshot, published atomically after
// every mutation. Readers on other goroutines (rendering, statistics)
// never observe a half-updated transition.
type State struct {
	Index      int          `json:"index"`       // current position in the playable sequence
	Notes      []NoteState  `json:"notes"`       // per-note labels
	Tentative  *Tentative   `json:"tentative"`   // non-nil only while a lookahead is pending
	LastResult MatchResult  `json:"last_result"`
	Stats      SessionStats `json:"stats"`
	Complete   bool         `json:"complete"`
}
