package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"omnimind/playback"
	"omnimind/recorder"
	"omnimind/transport"
)

type State int

const (
	Idle State = iota
	Connecting
	Live
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

var (
	// ErrPermission wraps every failure to acquire the microphone.
	ErrPermission = errors.New("microphone access denied or unavailable")
	ErrNotIdle    = errors.New("session: start requires idle state")
)

// ReleaseError collects the resources that failed to close during a stop.
// Every resource is still attempted and the session still ends in Idle.
type ReleaseError struct {
	Errs []error
}

func (e *ReleaseError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return "release: " + strings.Join(msgs, "; ")
}

func (e *ReleaseError) Unwrap() []error { return e.Errs }

// TranscriptEntry is one transcription fragment in arrival order.
type TranscriptEntry struct {
	Speaker transport.Speaker
	Text    string
	At      time.Time
}

func (e TranscriptEntry) String() string {
	if e.Speaker == transport.Assistant {
		return "AI: " + e.Text
	}
	return "You: " + e.Text
}

// Event is published to the UI on the controller's event channel.
type Event interface {
	sessionEvent()
}

type StateChanged struct {
	From, To State
}

// Tick fires once per second while live.
type Tick struct {
	Elapsed time.Duration
}

type TranscriptAppended struct {
	Entry TranscriptEntry
}

// Level is the RMS of the latest microphone callback.
type Level struct {
	RMS float64
}

// Status carries a user-facing message, with Err set for failures.
type Status struct {
	Msg string
	Err error
}

type RecordingReady struct {
	Artifact *recorder.Artifact
}

type PlaybackScheduled struct {
	playback.Scheduled
}

func (StateChanged) sessionEvent()       {}
func (Tick) sessionEvent()               {}
func (TranscriptAppended) sessionEvent() {}
func (Level) sessionEvent()              {}
func (Status) sessionEvent()             {}
func (RecordingReady) sessionEvent()     {}
func (PlaybackScheduled) sessionEvent()  {}

// FormatElapsed renders d as mm:ss.
func FormatElapsed(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
