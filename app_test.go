package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"omnimind/audio"
	"omnimind/beep"
	"omnimind/encoder"
	"omnimind/pcm"
	"omnimind/session"
	"omnimind/transport"
)

func newTestApp(t *testing.T) (*app, *audio.FakeContext, <-chan session.Event) {
	t.Helper()
	fakeCtx := audio.NewFakeContextSamples(make([]float32, 4096), pcm.InputSampleRate, false)
	cfg := session.Config{Transport: transport.DefaultConfig(), RecordFormat: encoder.FormatWAV}
	ctrl := session.New(session.Deps{Audio: fakeCtx, Transport: transport.NewFake()}, cfg)
	beeps := beep.New(fakeCtx)
	beeps.Disable()

	seen := make(chan session.Event, 256)
	a := &app{
		ctx:    context.Background(),
		ctrl:   ctrl,
		beeps:  beeps,
		outDir: t.TempDir(),
		show: func(ev session.Event) {
			select {
			case seen <- ev:
			default:
			}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	go a.pump(ctx)
	t.Cleanup(func() {
		ctrl.Stop()
		cancel()
	})
	return a, fakeCtx, seen
}

func waitFor(t *testing.T, seen <-chan session.Event, match func(session.Event) bool) session.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-seen:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func isState(s session.State) func(session.Event) bool {
	return func(ev session.Event) bool {
		sc, ok := ev.(session.StateChanged)
		return ok && sc.To == s
	}
}

func TestToggleSavesRecording(t *testing.T) {
	a, _, seen := newTestApp(t)

	a.toggle()
	waitFor(t, seen, isState(session.Live))
	a.toggle()
	ev := waitFor(t, seen, func(ev session.Event) bool {
		st, ok := ev.(session.Status)
		return ok && strings.HasPrefix(st.Msg, "saved ")
	})

	path := a.saved()
	if path == "" || ev.(session.Status).Msg != "saved "+path {
		t.Fatalf("saved path %q, status %q", path, ev.(session.Status).Msg)
	}
	if filepath.Ext(path) != ".wav" {
		t.Errorf("ext = %q, want .wav", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:4]) != "RIFF" {
		t.Error("saved file is not a WAV")
	}
}

func TestStartFailureShowsError(t *testing.T) {
	a, fakeCtx, seen := newTestApp(t)
	fakeCtx.CaptureErr = errors.New("access denied")

	a.toggle()
	ev := waitFor(t, seen, func(ev session.Event) bool {
		st, ok := ev.(session.Status)
		return ok && st.Err != nil
	})
	if !errors.Is(ev.(session.Status).Err, session.ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", ev.(session.Status).Err)
	}
	if a.ctrl.State() != session.Idle {
		t.Errorf("state = %v, want idle", a.ctrl.State())
	}
}

func TestSaveFailureReported(t *testing.T) {
	a, _, seen := newTestApp(t)
	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	a.outDir = filepath.Join(blocker, "sub")

	a.toggle()
	waitFor(t, seen, isState(session.Live))
	a.toggle()
	waitFor(t, seen, func(ev session.Event) bool {
		st, ok := ev.(session.Status)
		return ok && st.Err != nil && strings.HasPrefix(st.Msg, "save failed")
	})
}

func TestConsoleView(t *testing.T) {
	var buf bytes.Buffer
	show := consoleView(&buf)
	show(session.StateChanged{From: session.Idle, To: session.Connecting})
	show(session.StateChanged{From: session.Connecting, To: session.Live})
	show(session.Level{RMS: 0.5})
	show(session.TranscriptAppended{Entry: session.TranscriptEntry{Speaker: transport.User, Text: "hello"}})
	show(session.TranscriptAppended{Entry: session.TranscriptEntry{Speaker: transport.Assistant, Text: "hi"}})
	show(session.Status{Msg: "session closed: bye"})

	want := "connecting...\nlive - press Ctrl+Shift+Space to stop\nYou: hello\nAI: hi\nsession closed: bye\n"
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestShutdownSavesRecording(t *testing.T) {
	fakeCtx := audio.NewFakeContextSamples(nil, pcm.InputSampleRate, false)
	cfg := session.Config{Transport: transport.DefaultConfig(), RecordFormat: encoder.FormatWAV}
	ctrl := session.New(session.Deps{Audio: fakeCtx, Transport: transport.NewFake()}, cfg)
	beeps := beep.New(fakeCtx)
	beeps.Disable()
	a := &app{ctx: context.Background(), ctrl: ctrl, beeps: beeps, outDir: t.TempDir()}

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Flood the unread event channel before quitting.
	mic := fakeCtx.Captures()[0]
	for i := 0; i < 400; i++ {
		mic.Push(make([]float32, 160))
	}
	a.shutdown()

	if a.saved() == "" {
		t.Fatal("recording not saved on shutdown")
	}
	if ctrl.Backlog() != 0 {
		t.Errorf("backlog = %d after shutdown", ctrl.Backlog())
	}
}
