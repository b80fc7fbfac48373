package playback

import (
	"math"
	"sync"

	"omnimind/audio"
	"omnimind/pcm"
)

// Mixer renders scheduled buffers into a pull-based playback device. Its
// clock is the number of frames the device has consumed.
type Mixer struct {
	dev  audio.PlaybackDevice
	rate int

	mu     sync.Mutex
	frames int64
	voices []*mixerVoice
	closed bool
}

type mixerVoice struct {
	m       *Mixer
	start   int64
	samples []float32
	onEnded func()
}

func NewMixer(dev audio.PlaybackDevice, sampleRate int) *Mixer {
	m := &Mixer{dev: dev, rate: sampleRate}
	dev.SetFill(m.fill)
	return m
}

func (m *Mixer) Start() error {
	return m.dev.Start()
}

func (m *Mixer) SampleRate() int { return m.rate }

func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.frames) / float64(m.rate)
}

// Active reports how many voices are scheduled or playing.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

func (m *Mixer) Play(buf *pcm.Buffer, at float64, onEnded func()) Voice {
	v := &mixerVoice{
		m:       m,
		start:   int64(math.Round(at * float64(m.rate))),
		samples: downmix(buf),
		onEnded: onEnded,
	}
	m.mu.Lock()
	// A block may have been rendered since the caller read CurrentTime.
	if v.start < m.frames {
		v.start = m.frames
	}
	if !m.closed {
		m.voices = append(m.voices, v)
	}
	m.mu.Unlock()
	return v
}

func downmix(buf *pcm.Buffer) []float32 {
	if buf == nil || len(buf.Channels) == 0 {
		return nil
	}
	if len(buf.Channels) == 1 {
		return buf.Channels[0]
	}
	out := make([]float32, buf.Frames())
	scale := 1 / float32(len(buf.Channels))
	for _, ch := range buf.Channels {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}

func (v *mixerVoice) Stop() {
	v.m.remove(v)
}

func (m *Mixer) remove(v *mixerVoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.voices {
		if cur == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			return
		}
	}
}

// fill runs on the device thread.
func (m *Mixer) fill(out []float32) {
	m.mu.Lock()
	start := m.frames
	end := start + int64(len(out))
	var ended []func()
	keep := m.voices[:0]
	for _, v := range m.voices {
		vEnd := v.start + int64(len(v.samples))
		for t := max(v.start, start); t < min(vEnd, end); t++ {
			out[t-start] += v.samples[t-v.start]
		}
		if vEnd <= end {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		keep = append(keep, v)
	}
	clear(m.voices[len(keep):])
	m.voices = keep
	m.frames = end
	m.mu.Unlock()

	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}
	for _, fn := range ended {
		fn()
	}
}

// Close silences every voice and releases the device.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.voices = nil
	m.mu.Unlock()

	m.dev.SetFill(nil)
	m.dev.Stop()
	return m.dev.Close()
}
