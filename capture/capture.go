package capture

import (
	"errors"
	"sync"
	"time"

	"omnimind/pcm"
)

const DefaultFrameSize = 4096

var ErrClosed = errors.New("capture: pipeline closed")

// Frame is one encoded window of microphone audio.
type Frame struct {
	Seq      int
	Data     []byte // PCM16LE
	MIMEType string
}

// Samples returns the number of 16-bit samples in the frame.
func (f Frame) Samples() int { return len(f.Data) / pcm.BytesPerSample }

// Sink receives frames in capture order from the pipeline's sender goroutine.
type Sink func(Frame) error

type Stats struct {
	Frames  int
	Bytes   uint64
	Samples int
	Queued  int // high-water mark of frames waiting for the sink
	SendDur time.Duration
}

type Option func(*Pipeline)

func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

func WithFormat(f pcm.Format) Option {
	return func(p *Pipeline) { p.format = f }
}

// WithErrorHandler registers fn to be called once, from the sender
// goroutine, with the first sink error.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pipeline) { p.onErr = fn }
}

// Pipeline cuts a live sample stream into fixed-size frames and hands them to
// a sink. Write never waits on the sink: frames are queued and a single
// sender goroutine drains the queue in order.
type Pipeline struct {
	sink      Sink
	frameSize int
	format    pcm.Format
	onErr     func(error)

	feedMu  sync.Mutex
	feedBuf []float32
	seq     int

	mu      sync.Mutex
	queue   []Frame
	closing bool
	err     error
	errOnce sync.Once
	stats   Stats

	wake      chan struct{}
	sendDone  chan struct{}
	closeOnce sync.Once
}

func New(sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:      sink,
		frameSize: DefaultFrameSize,
		format:    pcm.InputFormat,
		wake:      make(chan struct{}, 1),
		sendDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.runSender()
	return p
}

// Write accepts mono samples from the capture callback.
func (p *Pipeline) Write(samples []float32) {
	p.mu.Lock()
	stopped := p.err != nil || p.closing
	p.mu.Unlock()
	if stopped || len(samples) == 0 {
		return
	}

	p.feedMu.Lock()
	p.feedBuf = append(p.feedBuf, samples...)
	var frames []Frame
	for len(p.feedBuf) >= p.frameSize {
		frames = append(frames, p.encode(p.feedBuf[:p.frameSize]))
		p.feedBuf = p.feedBuf[p.frameSize:]
	}
	if len(p.feedBuf) == 0 {
		p.feedBuf = nil
	}
	p.feedMu.Unlock()

	p.enqueue(frames...)
}

// encode must be called with feedMu held.
func (p *Pipeline) encode(samples []float32) Frame {
	f := Frame{
		Seq:      p.seq,
		Data:     pcm.Encode(pcm.FromFloat(samples)),
		MIMEType: p.format.MIMEType(),
	}
	p.seq++
	return f
}

func (p *Pipeline) enqueue(frames ...Frame) {
	if len(frames) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, frames...)
	if len(p.queue) > p.stats.Queued {
		p.stats.Queued = len(p.queue)
	}
	p.mu.Unlock()
	p.signal()
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) runSender() {
	defer close(p.sendDone)
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		closing := p.closing
		failed := p.err != nil
		p.mu.Unlock()

		if failed {
			return
		}
		for _, f := range batch {
			start := time.Now()
			if err := p.sink(f); err != nil {
				p.setErr(err)
				return
			}
			p.mu.Lock()
			p.stats.Frames++
			p.stats.Bytes += uint64(len(f.Data))
			p.stats.Samples += f.Samples()
			p.stats.SendDur += time.Since(start)
			p.mu.Unlock()
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			return
		}
		<-p.wake
	}
}

func (p *Pipeline) setErr(err error) {
	p.errOnce.Do(func() {
		p.mu.Lock()
		p.err = err
		p.queue = nil
		p.mu.Unlock()
		if p.onErr != nil {
			p.onErr(err)
		}
	})
}

// Err returns the first sink error, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close flushes the trailing partial frame, waits for the sender to drain the
// queue, and returns the first sink error. Writes after Close are ignored.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.feedMu.Lock()
		var tail []Frame
		if len(p.feedBuf) > 0 {
			tail = append(tail, p.encode(p.feedBuf))
			p.feedBuf = nil
		}
		p.feedMu.Unlock()
		p.enqueue(tail...)

		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()
		p.signal()
	})
	<-p.sendDone
	return p.Err()
}
