package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"omnimind/beep"
	"omnimind/clipboard"
	"omnimind/log"
	"omnimind/session"
)

const drainQuiet = 20 * time.Millisecond

// app sits between the session controller and whichever front end is
// running. It plays cues on state changes, saves finished recordings and
// optionally copies the transcript.
type app struct {
	ctx    context.Context
	ctrl   *session.Controller
	beeps  *beep.Player
	outDir string
	copy   bool

	// show receives every event after the app has handled it.
	show func(session.Event)

	mu        sync.Mutex
	lastSaved string
}

func (a *app) toggle() {
	switch a.ctrl.State() {
	case session.Idle:
		go func() {
			if err := a.ctrl.Start(a.ctx); err != nil {
				log.Warnf("start: %v", err)
			}
		}()
	case session.Connecting, session.Live:
		go a.stop()
	}
}

func (a *app) stop() {
	if err := a.ctrl.Stop(); err != nil {
		log.Errorf("stop: %v", err)
		a.notify(session.Status{Msg: "release failed: " + err.Error(), Err: err})
	}
}

// shutdown ends any running session and handles the events its teardown
// published. Call it after pump has returned.
func (a *app) shutdown() {
	a.stop()
	for {
		select {
		case ev := <-a.ctrl.Events():
			a.handle(ev)
		case <-time.After(drainQuiet):
			if a.ctrl.Backlog() == 0 {
				a.beeps.Wait()
				return
			}
		}
	}
}

// pump handles controller events until ctx is done.
func (a *app) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.ctrl.Events():
			a.handle(ev)
		}
	}
}

func (a *app) handle(ev session.Event) {
	switch ev := ev.(type) {
	case session.StateChanged:
		switch {
		case ev.To == session.Live:
			a.beeps.Play(beep.Start)
		case ev.From == session.Live && ev.To == session.Stopping:
			a.beeps.Play(beep.End)
		}
	case session.Status:
		if ev.Err != nil {
			a.beeps.Play(beep.Error)
		}
	case session.RecordingReady:
		path, err := a.save(ev)
		if err != nil {
			log.Errorf("save recording: %v", err)
			a.notify(session.Status{Msg: "save failed: " + err.Error(), Err: err})
		} else {
			a.notify(session.Status{Msg: "saved " + path})
		}
		if a.copy {
			a.copyTranscript()
		}
	}
	a.notify(ev)
}

func (a *app) save(ev session.RecordingReady) (string, error) {
	path, err := ev.Artifact.Save(a.outDir)
	if err != nil {
		return "", err
	}
	log.Infof("recording saved: %s (%.1fs)", path, ev.Artifact.Duration.Seconds())
	a.mu.Lock()
	a.lastSaved = path
	a.mu.Unlock()
	return path, nil
}

func (a *app) copyTranscript() {
	lines := a.ctrl.Transcript()
	if len(lines) == 0 {
		return
	}
	if err := clipboard.CopyTranscript(lines); err != nil {
		log.Warnf("copy transcript: %v", err)
		return
	}
	a.notify(session.Status{Msg: fmt.Sprintf("copied %d transcript lines", len(lines))})
}

func (a *app) saved() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSaved
}

func (a *app) notify(ev session.Event) {
	if a.show != nil {
		a.show(ev)
	}
}

// consoleView prints the events that matter to a person watching a plain
// terminal.
func consoleView(w io.Writer) func(session.Event) {
	return func(ev session.Event) {
		switch ev := ev.(type) {
		case session.StateChanged:
			switch ev.To {
			case session.Connecting:
				fmt.Fprintln(w, "connecting...")
			case session.Live:
				fmt.Fprintln(w, "live - press Ctrl+Shift+Space to stop")
			case session.Idle:
				fmt.Fprintln(w, "idle")
			}
		case session.TranscriptAppended:
			fmt.Fprintln(w, ev.Entry.String())
		case session.Status:
			fmt.Fprintln(w, ev.Msg)
		}
	}
}
