package playback

import (
	"omnimind/pcm"
)

// Scheduled describes one buffer handed to the output.
type Scheduled struct {
	ID       uint64
	StartAt  float64
	Duration float64
	Frames   int
}

type Option func(*Scheduler)

func WithFormat(f pcm.Format) Option {
	return func(s *Scheduler) { s.format = f }
}

// WithDispatch routes completion callbacks through fn, which must run the
// given function on the goroutine that owns the scheduler.
func WithDispatch(fn func(func())) Option {
	return func(s *Scheduler) { s.dispatch = fn }
}

// WithObserver is called for every buffer scheduled.
func WithObserver(fn func(Scheduled)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// Scheduler queues decoded buffers back to back on an Output. It is not safe
// for concurrent use; all methods and completion callbacks must run on one
// goroutine (see WithDispatch).
type Scheduler struct {
	out      Output
	format   pcm.Format
	dispatch func(func())
	observe  func(Scheduled)

	nextStartTime float64
	pending       map[uint64]Voice
	lastID        uint64
}

func NewScheduler(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:      out,
		format:   pcm.OutputFormat,
		dispatch: func(fn func()) { fn() },
		pending:  make(map[uint64]Voice),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reset anchors the schedule at the output's current time.
func (s *Scheduler) Reset() {
	s.nextStartTime = s.out.CurrentTime()
}

// Enqueue decodes one PCM16LE frame and schedules it at
// max(nextStartTime, now). A misaligned frame returns a *pcm.CodecError and
// leaves the schedule untouched.
func (s *Scheduler) Enqueue(b []byte) (Scheduled, error) {
	buf, err := pcm.ToFloat(b, s.format.SampleRate, s.format.Channels)
	if err != nil {
		return Scheduled{}, err
	}
	return s.schedule(buf), nil
}

// EnqueueEncoded is Enqueue for a base64 payload.
func (s *Scheduler) EnqueueEncoded(text string) (Scheduled, error) {
	b, err := pcm.DecodeBytes(text)
	if err != nil {
		return Scheduled{}, err
	}
	return s.Enqueue(b)
}

func (s *Scheduler) schedule(buf *pcm.Buffer) Scheduled {
	if buf.Frames() == 0 {
		return Scheduled{}
	}
	startAt := max(s.nextStartTime, s.out.CurrentTime())

	s.lastID++
	id := s.lastID
	s.pending[id] = s.out.Play(buf, startAt, func() {
		s.dispatch(func() { delete(s.pending, id) })
	})
	s.nextStartTime = startAt + buf.Seconds()

	sc := Scheduled{ID: id, StartAt: startAt, Duration: buf.Seconds(), Frames: buf.Frames()}
	if s.observe != nil {
		s.observe(sc)
	}
	return sc
}

// StopAll silences every pending buffer and clears the schedule.
func (s *Scheduler) StopAll() {
	for id, v := range s.pending {
		v.Stop()
		delete(s.pending, id)
	}
	s.nextStartTime = 0
}

// Pending returns the number of buffers scheduled but not yet finished.
func (s *Scheduler) Pending() int { return len(s.pending) }

func (s *Scheduler) NextStartTime() float64 { return s.nextStartTime }
