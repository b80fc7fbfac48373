package playback

import (
	"testing"

	"omnimind/audio"
	"omnimind/pcm"
)

func newTestMixer(t *testing.T) (*Mixer, *audio.FakePlayback, *audio.FakeContext) {
	t.Helper()
	ctx := audio.NewFakeContextSamples(nil, pcm.OutputSampleRate, false)
	dev, err := ctx.NewPlayback(audio.PlaybackConfig{SampleRate: 10, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	m := NewMixer(dev, 10)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	return m, ctx.Playbacks()[0], ctx
}

func mono(v ...float32) *pcm.Buffer {
	return &pcm.Buffer{SampleRate: 10, Channels: [][]float32{v}}
}

func TestMixerPlaysAtScheduledFrame(t *testing.T) {
	m, dev, _ := newTestMixer(t)

	ended := 0
	m.Play(mono(0.5, 0.5), 0.3, func() { ended++ })
	got := dev.Pull(6)
	want := []float32{0, 0, 0, 0.5, 0.5, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rendered %v, want %v", got, want)
		}
	}
	if ended != 1 {
		t.Errorf("onEnded fired %d times, want 1", ended)
	}
	if m.CurrentTime() != 0.6 {
		t.Errorf("CurrentTime = %v, want 0.6", m.CurrentTime())
	}
	if m.Active() != 0 {
		t.Errorf("Active = %d, want 0", m.Active())
	}
}

func TestMixerSpansBlocksAndClamps(t *testing.T) {
	m, dev, _ := newTestMixer(t)

	m.Play(mono(0.75, 0.75, 0.75, 0.75), 0.1, nil)
	m.Play(mono(0.75), 0.2, nil)
	first := dev.Pull(3)
	if first[1] != 0.75 || first[2] != 1 {
		t.Errorf("first block = %v", first)
	}
	second := dev.Pull(3)
	if second[0] != 0.75 || second[1] != 0.75 || second[2] != 0 {
		t.Errorf("second block = %v", second)
	}
}

func TestMixerLateStartKeepsHead(t *testing.T) {
	m, dev, _ := newTestMixer(t)

	dev.Pull(4)
	ended := false
	m.Play(mono(0.5, 0.25), 0.1, func() { ended = true })
	got := dev.Pull(3)
	want := []float32{0.5, 0.25, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rendered %v, want %v", got, want)
		}
	}
	if !ended {
		t.Error("onEnded not fired")
	}
}

func TestMixerVoiceStop(t *testing.T) {
	m, dev, _ := newTestMixer(t)

	called := false
	v := m.Play(mono(1, 1, 1), 0, func() { called = true })
	dev.Pull(1)
	v.Stop()
	rest := dev.Pull(3)
	for _, s := range rest {
		if s != 0 {
			t.Fatalf("stopped voice still audible: %v", rest)
		}
	}
	if called {
		t.Error("onEnded fired for stopped voice")
	}
}

func TestMixerWithScheduler(t *testing.T) {
	m, dev, _ := newTestMixer(t)
	s := NewScheduler(m, WithFormat(pcm.Format{SampleRate: 10, Channels: 1}))
	s.Reset()

	s.Enqueue(pcm.Encode([]int16{16384, 16384}))
	s.Enqueue(pcm.Encode([]int16{-16384}))
	got := dev.Pull(4)
	want := []float32{0.5, 0.5, -0.5, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rendered %v, want %v", got, want)
		}
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", s.Pending())
	}
}

func TestMixerCloseReleasesDevice(t *testing.T) {
	m, _, ctx := newTestMixer(t)
	m.Play(mono(1), 1, nil)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if ctx.Open() != 0 {
		t.Errorf("Open = %d after Close", ctx.Open())
	}
	if m.Active() != 0 {
		t.Error("voices left after Close")
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
