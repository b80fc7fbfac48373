package beep

import (
	"math"
	"sync"
	"time"

	"omnimind/audio"
	"omnimind/pcm"
	"omnimind/playback"
)

type Cue int

const (
	Start Cue = iota // session went live
	End              // session stopped
	Error            // start failed or connection lost
)

type tone struct {
	freq, volume, decay float64
	dur                 float64
	gap                 float64 // >0 repeats the tone after a pause
}

var tones = map[Cue]tone{
	Start: {freq: 1200, volume: 0.5, decay: 60, dur: 0.2},
	End:   {freq: 900, volume: 0.5, decay: 40, dur: 0.2},
	Error: {freq: 350, volume: 0.6, decay: 30, dur: 0.08, gap: 0.05},
}

// Samples renders cue at the given rate as a mono buffer.
func Samples(cue Cue, rate int) *pcm.Buffer {
	t := tones[cue]
	s := tick(rate, t)
	if t.gap > 0 {
		gap := make([]float32, int(float64(rate)*t.gap))
		s = append(append(append([]float32(nil), s...), gap...), s...)
	}
	return &pcm.Buffer{SampleRate: rate, Channels: [][]float32{s}}
}

func tick(rate int, t tone) []float32 {
	n := int(float64(rate) * t.dur)
	out := make([]float32, n)
	for i := range out {
		x := float64(i) / float64(rate)
		out[i] = float32(math.Sin(2*math.Pi*t.freq*x) * t.volume * math.Exp(-x*t.decay))
	}
	return out
}

// Player plays cues on a short-lived output device so they never share the
// assistant's playback schedule.
type Player struct {
	ctx      audio.Context
	rate     int
	disabled bool
	wg       sync.WaitGroup
}

func New(ctx audio.Context) *Player {
	return &Player{ctx: ctx, rate: pcm.OutputSampleRate}
}

func (p *Player) Disable() { p.disabled = true }

// Play renders cue in the background.
func (p *Player) Play(cue Cue) {
	if p == nil || p.disabled {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.PlaySync(cue)
	}()
}

// Wait blocks until every background cue has finished.
func (p *Player) Wait() {
	if p != nil {
		p.wg.Wait()
	}
}

// PlaySync renders cue and returns once it has played out or its length
// plus a grace period has passed.
func (p *Player) PlaySync(cue Cue) error {
	dev, err := p.ctx.NewPlayback(audio.PlaybackConfig{SampleRate: uint32(p.rate), Channels: 1})
	if err != nil {
		return err
	}
	m := playback.NewMixer(dev, p.rate)
	defer m.Close()
	if err := m.Start(); err != nil {
		return err
	}

	buf := Samples(cue, p.rate)
	done := make(chan struct{})
	m.Play(buf, m.CurrentTime(), func() { close(done) })
	select {
	case <-done:
	case <-time.After(buf.Duration() + 500*time.Millisecond):
	}
	return nil
}
