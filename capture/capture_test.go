package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"omnimind/pcm"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingSink) sink(f Frame) error {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) got() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func firstSample(t *testing.T, f Frame) int16 {
	t.Helper()
	s, err := pcm.Decode(f.Data)
	if err != nil {
		t.Fatalf("decode frame %d: %v", f.Seq, err)
	}
	return s[0]
}

func TestFramesArriveInCaptureOrder(t *testing.T) {
	rec := &recordingSink{}
	p := New(rec.sink, WithFrameSize(4))

	p.Write(constant(4, 0.25)) // A
	p.Write(constant(4, 0.5))  // B
	p.Write(constant(4, -0.5)) // C
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	frames := rec.got()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	want := []int16{8192, 16384, -16384}
	for i, f := range frames {
		if f.Seq != i {
			t.Errorf("frame %d: seq %d", i, f.Seq)
		}
		if got := firstSample(t, f); got != want[i] {
			t.Errorf("frame %d: sample %d, want %d", i, got, want[i])
		}
	}
}

func TestFramingSplitsAndFlushesTail(t *testing.T) {
	rec := &recordingSink{}
	p := New(rec.sink)

	p.Write(constant(3000, 0.1))
	p.Write(constant(3000, 0.1))
	p.Write(constant(4000, 0.1))
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	frames := rec.got()
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, want := range []int{4096, 4096, 10000 - 2*4096} {
		if frames[i].Samples() != want {
			t.Errorf("frame %d: %d samples, want %d", i, frames[i].Samples(), want)
		}
		if frames[i].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("frame %d: mime %q", i, frames[i].MIMEType)
		}
	}
	st := p.Stats()
	if st.Frames != 3 || st.Samples != 10000 || st.Bytes != 20000 {
		t.Errorf("stats = %+v", st)
	}
}

func TestWriteDoesNotWaitOnSink(t *testing.T) {
	release := make(chan struct{})
	var sent atomic.Int32
	p := New(func(Frame) error {
		<-release
		sent.Add(1)
		return nil
	}, WithFrameSize(2))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			p.Write(constant(2, 0.1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked on a stalled sink")
	}

	close(release)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if sent.Load() != 500 {
		t.Errorf("sent %d frames, want 500", sent.Load())
	}
}

func TestSinkErrorStopsSending(t *testing.T) {
	boom := errors.New("socket closed")
	var calls atomic.Int32
	var handled atomic.Int32
	p := New(func(Frame) error {
		calls.Add(1)
		return boom
	}, WithFrameSize(2), WithErrorHandler(func(err error) {
		if errors.Is(err, boom) {
			handled.Add(1)
		}
	}))

	p.Write(constant(6, 0.1))
	if err := p.Close(); !errors.Is(err, boom) {
		t.Fatalf("Close err = %v, want %v", err, boom)
	}
	if calls.Load() != 1 {
		t.Errorf("sink called %d times after failure, want 1", calls.Load())
	}
	if handled.Load() != 1 {
		t.Errorf("error handler called %d times, want 1", handled.Load())
	}
	p.Write(constant(6, 0.1))
	if calls.Load() != 1 {
		t.Error("Write after failure reached the sink")
	}
}

func TestCloseIdempotent(t *testing.T) {
	rec := &recordingSink{}
	p := New(rec.sink)
	p.Write(constant(10, 0.1))
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	p.Write(constant(10, 0.1))
	if len(rec.got()) != 1 {
		t.Errorf("got %d frames, want 1", len(rec.got()))
	}
}

func TestCloseWithoutAudio(t *testing.T) {
	p := New(func(Frame) error {
		t.Error("sink called without audio")
		return nil
	})
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}
