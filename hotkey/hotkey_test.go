package hotkey

import (
	"context"
	"testing"
	"time"
)

func TestChord(t *testing.T) {
	type ev struct {
		code  uint16
		value int32
	}
	tests := []struct {
		name   string
		events []ev
		want   int
	}{
		{"ctrl shift space", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keySpace, 1}}, 1},
		{"right modifiers", []ev{{keyRCtrl, 1}, {keyRShift, 1}, {keySpace, 1}}, 1},
		{"space alone", []ev{{keySpace, 1}}, 0},
		{"ctrl only", []ev{{keyLCtrl, 1}, {keySpace, 1}}, 0},
		{"modifier released", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keyLShift, 0}, {keySpace, 1}}, 0},
		{"autorepeat", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keySpace, 1}, {keySpace, 2}, {keySpace, 2}}, 1},
		{"two presses", []ev{{keyLCtrl, 1}, {keyLShift, 1}, {keySpace, 1}, {keySpace, 0}, {keySpace, 1}}, 2},
		{"held modifier survives repeat", []ev{{keyLCtrl, 1}, {keyLCtrl, 2}, {keyLShift, 1}, {keySpace, 1}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c chord
			got := 0
			for _, e := range tt.events {
				if c.feed(e.code, e.value) {
					got++
				}
			}
			if got != tt.want {
				t.Errorf("presses = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunToggles(t *testing.T) {
	hk := NewFake()
	if err := hk.Register(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	toggled := make(chan struct{}, 4)
	done := make(chan struct{})
	go func() {
		Run(ctx, hk, func() { toggled <- struct{}{} })
		close(done)
	}()

	hk.Press()
	hk.Press()
	for i := 0; i < 2; i++ {
		select {
		case <-toggled:
		case <-time.After(time.Second):
			t.Fatalf("toggle %d not called", i)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
