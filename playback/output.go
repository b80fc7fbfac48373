package playback

import "omnimind/pcm"

// Output is an audio context with its own monotonically advancing clock.
type Output interface {
	// CurrentTime returns the output clock in seconds.
	CurrentTime() float64
	// Play schedules buf to start at the given clock time. onEnded, if set,
	// runs once when the buffer has fully played. It is not called for
	// voices that are stopped.
	Play(buf *pcm.Buffer, at float64, onEnded func()) Voice
	Close() error
}

type Voice interface {
	Stop()
}
