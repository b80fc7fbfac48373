package session

import (
	"testing"
	"time"
)

func drain(t *testing.T, o *outbox, until func(Event) bool) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-o.out:
			got = append(got, ev)
			if until(ev) {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out after %d events", len(got))
			return nil
		}
	}
}

func TestOutboxKeepsRequiredEvents(t *testing.T) {
	o := newOutbox(2)
	for i := 0; i < 50; i++ {
		o.push(Tick{Elapsed: time.Duration(i) * time.Second})
	}
	o.push(StateChanged{From: Stopping, To: Idle})
	o.push(RecordingReady{})

	got := drain(t, o, func(ev Event) bool { _, ok := ev.(RecordingReady); return ok })
	last := got[len(got)-2]
	if sc, ok := last.(StateChanged); !ok || sc.To != Idle {
		t.Errorf("event before RecordingReady = %#v, want idle transition", last)
	}
	waitFor(t, "empty backlog", func() bool { return o.backlog() == 0 })
}

func TestOutboxCoalescesLevel(t *testing.T) {
	o := newOutbox(4)
	for i := 1; i <= 100; i++ {
		o.push(Level{RMS: float64(i)})
	}
	o.push(Status{Msg: "done"})

	got := drain(t, o, func(ev Event) bool { _, ok := ev.(Status); return ok })
	prev := 0.0
	var newest float64
	for _, ev := range got[:len(got)-1] {
		l, ok := ev.(Level)
		if !ok {
			t.Fatalf("unexpected %#v", ev)
		}
		if l.RMS <= prev {
			t.Errorf("level %v delivered after %v", l.RMS, prev)
		}
		prev, newest = l.RMS, l.RMS
	}
	if newest != 100 {
		t.Errorf("newest level = %v, want 100", newest)
	}
}
