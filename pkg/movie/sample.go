package movie

import "time"

// Sample is a timestamped chunk of encoded or raw media.
type Sample struct {
	// Presentation timestamp on the producer's clock.
	PTS time.Duration

	// Optional, only used for the last sample of a track.
	Duration time.Duration

	KeyFrame bool
	Data     []byte
}

// Result of a finalized recording.
type Result struct {
	Path string
	Err  error
}

// NanoToTimescale converts value in nanoseconds to a different timescale.
func NanoToTimescale(v int64, timescale int64) int64 {
	secs := v / int64(time.Second)
	dec := v % int64(time.Second)
	return secs*timescale + dec*timescale/int64(time.Second)
}
