package playback

import (
	"sync"

	"omnimind/pcm"
)

// ManualOutput is an Output whose clock only moves when Advance is called.
type ManualOutput struct {
	mu     sync.Mutex
	now    float64
	voices []*ManualVoice
	closed bool
}

type ManualVoice struct {
	o       *ManualOutput
	At      float64
	Buffer  *pcm.Buffer
	onEnded func()
	stopped bool
	ended   bool
}

func NewManualOutput(start float64) *ManualOutput {
	return &ManualOutput{now: start}
}

func (o *ManualOutput) CurrentTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *ManualOutput) Play(buf *pcm.Buffer, at float64, onEnded func()) Voice {
	v := &ManualVoice{o: o, At: at, Buffer: buf, onEnded: onEnded}
	o.mu.Lock()
	o.voices = append(o.voices, v)
	o.mu.Unlock()
	return v
}

// Advance moves the clock forward and fires onEnded for every voice that
// finished by the new time.
func (o *ManualOutput) Advance(seconds float64) {
	o.mu.Lock()
	o.now += seconds
	var ended []func()
	for _, v := range o.voices {
		if v.stopped || v.ended || v.At+v.Buffer.Seconds() > o.now {
			continue
		}
		v.ended = true
		if v.onEnded != nil {
			ended = append(ended, v.onEnded)
		}
	}
	o.mu.Unlock()
	for _, fn := range ended {
		fn()
	}
}

// Voices returns every voice ever played, in scheduling order.
func (o *ManualOutput) Voices() []*ManualVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*ManualVoice(nil), o.voices...)
}

func (o *ManualOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return nil
}

func (o *ManualOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (v *ManualVoice) Stop() {
	v.o.mu.Lock()
	v.stopped = true
	v.o.mu.Unlock()
}

func (v *ManualVoice) Stopped() bool {
	v.o.mu.Lock()
	defer v.o.mu.Unlock()
	return v.stopped
}
