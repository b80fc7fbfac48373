package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext replays PCM16 mono audio as a capture device and renders
// playback into memory. Used by tests and the -test mode.
type FakeContext struct {
	samples    []float32
	sampleRate int
	realtime   bool

	mu          sync.Mutex
	CaptureErr  error // returned by NewCapture
	PlaybackErr error // returned by NewPlayback
	CloseErr    error // returned by every device Close
	captures    []*FakeCapture
	playbacks   []*FakePlayback
}

// NewFakeContext loads a 16-bit mono WAV file. An empty path yields a
// context that only produces silence.
func NewFakeContext(wavPath string, sampleRate int, realtime bool) (*FakeContext, error) {
	f := &FakeContext{sampleRate: sampleRate, realtime: realtime}
	if wavPath == "" {
		return f, nil
	}
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	f.samples = pcm16ToFloat(data)
	return f, nil
}

// NewFakeContextSamples builds a context from in-memory samples.
func NewFakeContextSamples(samples []float32, sampleRate int, realtime bool) *FakeContext {
	return &FakeContext{samples: samples, sampleRate: sampleRate, realtime: realtime}
}

func pcm16ToFloat(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
	}
	return out
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	c := &FakeCapture{
		samples:    f.samples,
		sampleRate: f.sampleRate,
		realtime:   f.realtime,
		closeErr:   f.CloseErr,
		audioDone:  make(chan struct{}),
	}
	f.captures = append(f.captures, c)
	return c, nil
}

func (f *FakeContext) NewPlayback(config PlaybackConfig) (PlaybackDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaybackErr != nil {
		return nil, f.PlaybackErr
	}
	p := &FakePlayback{config: config, closeErr: f.CloseErr}
	f.playbacks = append(f.playbacks, p)
	return p, nil
}

// Open reports how many devices were created and not yet closed.
func (f *FakeContext) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.captures {
		if !c.isClosed() {
			n++
		}
	}
	for _, p := range f.playbacks {
		if !p.isClosed() {
			n++
		}
	}
	return n
}

func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) Playbacks() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.playbacks...)
}

type FakeCapture struct {
	samples    []float32
	sampleRate int
	realtime   bool
	closeErr   error
	audioDone  chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	closed   bool
}

func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

// Push delivers samples synchronously through the current callback.
func (f *FakeCapture) Push(samples []float32) {
	if cb := f.callback(); cb != nil {
		cb(samples)
	}
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos int) int {
	end := min(pos+fakeFrameSize, len(f.samples))
	chunk := make([]float32, end-pos)
	copy(chunk, f.samples[pos:end])
	cb(chunk)
	return end
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("%w: capture closed", ErrDeviceUnavailable)
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	audioDone, stopCh, feedDone := f.audioDone, f.stopCh, f.feedDone
	f.mu.Unlock()

	if !f.realtime {
		// Replay everything up front; tests push further samples by hand.
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.samples); {
				pos = f.feedChunk(cb, pos)
			}
		}
		close(audioDone)
		close(feedDone)
		return nil
	}

	rate := f.sampleRate
	if rate <= 0 {
		rate = 16000
	}
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(rate)
	go func() {
		defer close(feedDone)
		pos := 0
		silence := make([]float32, fakeFrameSize)
		audioFinished := false
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
			}

			cb := f.callback()
			if cb == nil {
				continue
			}
			if pos < len(f.samples) {
				pos = f.feedChunk(cb, pos)
				continue
			}
			if !audioFinished {
				audioFinished = true
				close(audioDone)
			}
			cb(silence)
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone

	f.mu.Lock()
	select {
	case <-f.audioDone:
		f.audioDone = make(chan struct{}) // reset for replay
	default:
	}
	f.mu.Unlock()
}

func (f *FakeCapture) Close() error {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.closeErr
}

func (f *FakeCapture) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakePlayback renders nothing on its own; tests call Pull to advance the
// device by a number of frames. Everything rendered is kept in Output.
type FakePlayback struct {
	config   PlaybackConfig
	closeErr error

	mu      sync.Mutex
	fill    FillCallback
	started bool
	closed  bool
	output  []float32
}

func (p *FakePlayback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: playback closed", ErrDeviceUnavailable)
	}
	p.started = true
	return nil
}

func (p *FakePlayback) Stop() {
	p.mu.Lock()
	p.started = false
	p.mu.Unlock()
}

func (p *FakePlayback) Close() error {
	p.mu.Lock()
	p.started = false
	p.closed = true
	p.mu.Unlock()
	return p.closeErr
}

func (p *FakePlayback) SetFill(fn FillCallback) {
	p.mu.Lock()
	p.fill = fn
	p.mu.Unlock()
}

// Pull renders n frames if the device is running and returns them.
func (p *FakePlayback) Pull(n int) []float32 {
	p.mu.Lock()
	fill, started := p.fill, p.started
	p.mu.Unlock()
	channels := int(p.config.Channels)
	if channels <= 0 {
		channels = 1
	}
	buf := make([]float32, n*channels)
	if !started || fill == nil {
		return buf
	}
	fill(buf)
	p.mu.Lock()
	p.output = append(p.output, buf...)
	p.mu.Unlock()
	return buf
}

func (p *FakePlayback) Output() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float32(nil), p.output...)
}

func (p *FakePlayback) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
