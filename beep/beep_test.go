package beep

import (
	"math"
	"testing"
	"time"

	"omnimind/audio"
)

func TestSamples(t *testing.T) {
	start := Samples(Start, 24000)
	if got := start.Frames(); got != 4800 {
		t.Errorf("start frames = %d, want 4800", got)
	}
	errBuf := Samples(Error, 24000)
	if got, want := errBuf.Frames(), 1920*2+1200; got != want {
		t.Errorf("error frames = %d, want %d", got, want)
	}
	for _, s := range start.Channels[0] {
		if math.Abs(float64(s)) > 0.5 {
			t.Fatalf("sample %v exceeds cue volume", s)
		}
	}
}

func TestPlaySync(t *testing.T) {
	ctx := audio.NewFakeContextSamples(nil, 16000, false)
	p := New(ctx)

	done := make(chan error, 1)
	go func() { done <- p.PlaySync(End) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(ctx.Playbacks()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no playback device opened")
		}
		time.Sleep(time.Millisecond)
	}
	dev := ctx.Playbacks()[0]

	var err error
	for finished := false; !finished; {
		dev.Pull(1024)
		select {
		case err = <-done:
			finished = true
		case <-time.After(time.Millisecond):
		}
	}
	if err != nil {
		t.Fatalf("PlaySync: %v", err)
	}
	out := dev.Output()
	if len(out) < 4800 {
		t.Errorf("rendered %d samples, want the whole cue", len(out))
	}
	if ctx.Open() != 0 {
		t.Error("cue device left open")
	}
}

func TestDisabled(t *testing.T) {
	ctx := audio.NewFakeContextSamples(nil, 16000, false)
	p := New(ctx)
	p.Disable()
	p.Play(Start)
	p.Wait()
	if len(ctx.Playbacks()) != 0 {
		t.Error("disabled player opened a device")
	}
}

func TestPlaybackUnavailable(t *testing.T) {
	ctx := audio.NewFakeContextSamples(nil, 16000, false)
	ctx.PlaybackErr = audio.ErrDeviceUnavailable
	if err := New(ctx).PlaySync(Start); err == nil {
		t.Error("expected error")
	}
}
