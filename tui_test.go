package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"omnimind/session"
	"omnimind/transport"
)

func update(m tuiModel, msgs ...tea.Msg) tuiModel {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(tuiModel)
	}
	return m
}

func TestTUILiveView(t *testing.T) {
	m := update(tuiModel{},
		tea.WindowSizeMsg{Width: 120, Height: 40},
		eventMsg{session.StateChanged{From: session.Idle, To: session.Connecting}},
		eventMsg{session.StateChanged{From: session.Connecting, To: session.Live}},
		eventMsg{session.Tick{Elapsed: 65 * time.Second}},
		eventMsg{session.TranscriptAppended{Entry: session.TranscriptEntry{Speaker: transport.User, Text: "hello"}}},
		eventMsg{session.TranscriptAppended{Entry: session.TranscriptEntry{Speaker: transport.Assistant, Text: "hi there"}}},
	)
	view := m.View()
	for _, want := range []string{"01:05 REC", "You: hello", "AI: hi there"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestTUIConnectingClearsTranscript(t *testing.T) {
	m := update(tuiModel{},
		eventMsg{session.TranscriptAppended{Entry: session.TranscriptEntry{Text: "old"}}},
		eventMsg{session.Status{Msg: "saved x.flac"}},
		eventMsg{session.StateChanged{From: session.Idle, To: session.Connecting}},
	)
	if len(m.transcript) != 0 || m.status != "" {
		t.Errorf("transcript %v status %q not cleared", m.transcript, m.status)
	}
	if m.state != session.Connecting {
		t.Errorf("state = %v", m.state)
	}
}

func TestTUILevelOnlyWhileLive(t *testing.T) {
	m := update(tuiModel{}, eventMsg{session.Level{RMS: 0.5}})
	if m.level != 0 {
		t.Errorf("level = %v while idle", m.level)
	}
	m = update(m,
		eventMsg{session.StateChanged{From: session.Connecting, To: session.Live}},
		eventMsg{session.Level{RMS: 0.5}},
	)
	if m.level == 0 {
		t.Error("level not updated while live")
	}
	m = update(m, eventMsg{session.StateChanged{From: session.Live, To: session.Stopping}})
	if m.level != 0 {
		t.Error("level not reset after leaving live")
	}
}

func TestTUIStatusError(t *testing.T) {
	m := update(tuiModel{}, eventMsg{session.Status{Msg: "connection lost", Err: transport.ErrSessionClosed}})
	if !m.statusErr || m.status != "connection lost" {
		t.Errorf("status = %q err = %v", m.status, m.statusErr)
	}
}

func TestTUIKeys(t *testing.T) {
	toggles := 0
	m := tuiModel{toggle: func() { toggles++ }}
	m = update(m, tea.KeyMsg{Type: tea.KeyEnter})
	if toggles != 1 {
		t.Errorf("toggles = %d, want 1", toggles)
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c did not quit")
	}
}

func TestLevelBar(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{0, "▯▯▯▯▯"},
		{0.04, "▮▮▯▯▯"},
		{1, "▮▮▮▮▮"},
	}
	for _, tt := range tests {
		if got := levelBar(tt.level, 5); got != tt.want {
			t.Errorf("levelBar(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"", 10, []string{""}},
		{"short", 10, []string{"short"}},
		{"hello world foo", 11, []string{"hello world", "foo"}},
		{"hello world foo", 8, []string{"hello", "world", "foo"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
	}
	for _, tt := range tests {
		got := wrapText(tt.text, tt.width)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestRenderOrbSize(t *testing.T) {
	for _, s := range []session.State{session.Idle, session.Connecting, session.Live} {
		lines := strings.Split(strings.TrimSuffix(renderOrb(3, 0.1, s), "\n"), "\n")
		if len(lines) != 15 {
			t.Errorf("%v: %d rows, want 15", s, len(lines))
		}
	}
}
