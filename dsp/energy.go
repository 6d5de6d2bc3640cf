package dsp

import "math"

// RMS calculates the root-mean-square amplitude of a frame
func RMS(frame []float64) float64 {
	if len(frame) == 0 {
		return 0.0
	}

	sumSquares := 0.0
	for _, s := range frame {
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(frame)))
}

// DBToLinear converts a decibel level to a linear amplitude
func DBToLinear(db float64) float64 {
	return math.Pow(10.0, db/20.0)
}

// LinearToDB converts a linear amplitude to decibels.
// Amplitudes at or below zero map to -inf dB clamped at the given floor.
func LinearToDB(v, floorDB float64) float64 {
	if v <= 0 {
		return floorDB
	}
	db := 20.0 * math.Log10(v)
	if db < floorDB {
		return floorDB
	}
	return db
}
