package capture

import (
	"sync"

	"sampler/pkg/movie"
)

// SourceSample is a sample tagged with its track.
type SourceSample struct {
	movie.Sample
	IsVideo bool
}

// Source produces samples and recommends the encoder
// settings that describe them.
type Source interface {
	Samples() <-chan SourceSample
	Settings() (video movie.Settings, audio movie.Settings, err error)
}

// RotationSource emits the capture rotation angle in degrees.
type RotationSource interface {
	Angles() <-chan float64
}

// RotationCoordinator keeps the latest rotation angle and notifies a
// single observer of changes. Only the newest angle is kept if the
// observer falls behind.
type RotationCoordinator struct {
	angles chan float64
	mu     sync.Mutex
}

// NewRotationCoordinator returns a coordinator with an initial angle.
func NewRotationCoordinator(angle float64) *RotationCoordinator {
	c := &RotationCoordinator{angles: make(chan float64, 1)}
	c.angles <- angle
	return c
}

// Set updates the angle.
func (c *RotationCoordinator) Set(angle float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace the pending angle.
	select {
	case <-c.angles:
	default:
	}
	c.angles <- angle
}

// Angles implements RotationSource.
func (c *RotationCoordinator) Angles() <-chan float64 {
	return c.angles
}
