package transport

import (
	"context"
	"sync"

	"omnimind/capture"
	"omnimind/pcm"
)

// Fake is an in-process Transport. By default it fires Opened right after
// Open; with Echo set it answers every frame with assistant audio of the
// same duration at the output rate.
type Fake struct {
	OpenErr  error
	Manual   bool // don't fire Opened automatically
	Echo     bool
	SendErr  error
	CloseErr error

	mu       sync.Mutex
	sessions []*FakeSession
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Open(ctx context.Context, cfg Config, h Handler) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Transport: f.Name(), Op: "connect", Err: err}
	}
	if f.OpenErr != nil {
		return nil, &Error{Transport: f.Name(), Op: "connect", Err: f.OpenErr}
	}
	s := &FakeSession{
		Config:   cfg.withDefaults(),
		handler:  h,
		echo:     f.Echo,
		sendErr:  f.SendErr,
		closeErr: f.CloseErr,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.deliver()
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	if !f.Manual {
		s.Emit(Opened{})
	}
	return s, nil
}

func (f *Fake) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeSession(nil), f.sessions...)
}

// Last returns the most recently opened session, or nil.
func (f *Fake) Last() *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type FakeSession struct {
	Config   Config
	handler  Handler
	echo     bool
	sendErr  error
	closeErr error

	mu      sync.Mutex
	sent    []capture.Frame
	queue   []Event
	closed  bool
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// Emit queues ev for delivery to the handler, in order, from the session's
// delivery goroutine.
func (s *FakeSession) Emit(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	if _, ok := ev.(Closed); ok {
		s.stopped = true
	}
	if _, ok := ev.(Errored); ok {
		s.stopped = true
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *FakeSession) deliver() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		stopped := s.stopped
		s.mu.Unlock()
		for _, ev := range batch {
			if s.handler != nil {
				s.handler(ev)
			}
		}
		if stopped && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-s.wake
		}
	}
}

// Done is closed once the terminal event has been delivered.
func (s *FakeSession) Done() <-chan struct{} { return s.done }

func (s *FakeSession) SendAudio(ctx context.Context, f capture.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.sendErr != nil {
		s.mu.Unlock()
		return &Error{Transport: "fake", Op: "send", Err: s.sendErr}
	}
	s.sent = append(s.sent, f)
	echo := s.echo
	s.mu.Unlock()

	if echo {
		if audio, err := echoAudio(f.Data); err == nil {
			s.Emit(Message{Audio: audio, AudioMIME: pcm.OutputFormat.MIMEType()})
		}
	}
	return nil
}

// echoAudio stretches 16 kHz PCM to the 24 kHz output rate.
func echoAudio(b []byte) ([]byte, error) {
	in, err := pcm.Decode(b)
	if err != nil {
		return nil, err
	}
	n := len(in) * pcm.OutputSampleRate / pcm.InputSampleRate
	out := make([]int16, n)
	for i := range out {
		out[i] = in[i*pcm.InputSampleRate/pcm.OutputSampleRate]
	}
	return pcm.Encode(out), nil
}

func (s *FakeSession) Sent() []capture.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capture.Frame(nil), s.sent...)
}

func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.Emit(Closed{Reason: "closed by client"})
	return s.closeErr
}
