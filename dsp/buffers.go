package dsp

// SlidingWindow accumulates streaming samples into fixed-size overlapping
// analysis frames. Unlike a general-purpose circular buffer it reuses a
// single frame buffer, so feeding samples never allocates. The frame
// handed to the callback is only valid for the duration of the call.
type SlidingWindow struct {
	buffer     []float64
	windowSize int
	hopSize    int
	writePos   int
}

// NewSlidingWindow creates a sliding window with the given frame size and
// hop. A hop smaller than the window produces overlapping frames.
func NewSlidingWindow(windowSize, hopSize int) *SlidingWindow {
	if hopSize <= 0 || hopSize > windowSize {
		hopSize = windowSize
	}
	return &SlidingWindow{
		buffer:     make([]float64, windowSize),
		windowSize: windowSize,
		hopSize:    hopSize,
	}
}

// AddSamples feeds samples in and invokes onFrame for every completed
// analysis frame. onFrame must not retain the slice it is given.
func (sw *SlidingWindow) AddSamples(samples []float64, onFrame func(frame []float64)) {
	for _, sample := range samples {
		sw.buffer[sw.writePos] = sample
		sw.writePos++

		if sw.writePos >= sw.windowSize {
			onFrame(sw.buffer)

			if sw.hopSize < sw.windowSize {
				copy(sw.buffer, sw.buffer[sw.hopSize:])
				sw.writePos = sw.windowSize - sw.hopSize
			} else {
				sw.writePos = 0
			}
		}
	}
}

// Reset clears any partially accumulated frame
func (sw *SlidingWindow) Reset() {
	sw.writePos = 0
	for i := range sw.buffer {
		sw.buffer[i] = 0.0
	}
}

// WindowSize returns the frame size
func (sw *SlidingWindow) WindowSize() int {
	return sw.windowSize
}

// HopSize returns the hop size
func (sw *SlidingWindow) HopSize() int {
	return sw.hopSize
}
