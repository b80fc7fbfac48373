package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"omnimind/audio"
	"omnimind/beep"
	"omnimind/metrics"
	"omnimind/pcm"
	"omnimind/session"
	"omnimind/transport"
)

// runTestMode drives a session headlessly: the WAV file stands in for the
// microphone, an in-process transport echoes the audio back and stdin
// carries commands. Recordings are saved to -out as usual.
func runTestMode(ctx context.Context, opts *options, cfg session.Config, m *metrics.Metrics) int {
	fakeCtx, err := audio.NewFakeContext(opts.testWAV, pcm.InputSampleRate, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}
	tr := transport.NewFake()
	tr.Echo = true

	ctrl := session.New(session.Deps{Audio: fakeCtx, Transport: tr, Metrics: m}, cfg)
	beeps := beep.New(fakeCtx)
	beeps.Disable()
	a := &app{
		ctx:    ctx,
		ctrl:   ctrl,
		beeps:  beeps,
		outDir: opts.outDir,
		copy:   opts.copy,
		show:   consoleView(os.Stdout),
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		a.pump(pumpCtx)
	}()
	go drainPlayback(pumpCtx, fakeCtx)

	code := driveTestMode(ctx, a, fakeCtx, tr, bufio.NewScanner(os.Stdin))

	cancel()
	<-pumped
	a.shutdown()
	return code
}

func driveTestMode(ctx context.Context, a *app, fakeCtx *audio.FakeContext, tr *transport.Fake, sc *bufio.Scanner) int {
	for sc.Scan() {
		if ctx.Err() != nil {
			return 0
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(sc.Text()), " ")
		switch cmd {
		case "START":
			if err := a.ctrl.Start(ctx); err != nil {
				fmt.Printf("start failed: %v\n", err)
			}
		case "STOP":
			a.stop()
		case "WAIT_AUDIO_DONE":
			if caps := fakeCtx.Captures(); len(caps) > 0 {
				<-caps[len(caps)-1].AudioDone()
			}
		case "SAY", "REPLY":
			sess := tr.Last()
			if sess == nil {
				fmt.Println("no session")
				continue
			}
			speaker := transport.User
			if cmd == "REPLY" {
				speaker = transport.Assistant
			}
			sess.Emit(transport.Message{Transcript: &transport.Transcription{Speaker: speaker, Text: arg, Finished: true}})
		case "HANGUP":
			if sess := tr.Last(); sess != nil {
				sess.Emit(transport.Closed{Reason: arg})
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return 0
		case "":
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
	return 0
}

// drainPlayback pulls the newest output device at real-time pace so
// scheduled assistant audio actually plays out.
func drainPlayback(ctx context.Context, fakeCtx *audio.FakeContext) {
	const interval = 20 * time.Millisecond
	frames := pcm.OutputSampleRate * int(interval) / int(time.Second)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if ps := fakeCtx.Playbacks(); len(ps) > 0 {
			ps[len(ps)-1].Pull(frames)
		}
	}
}
