package recorder

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"omnimind/encoder"
)

func TestRecorderWav(t *testing.T) {
	r := New(encoder.FormatWAV, 16000)
	start := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	if err := r.Start(start); err != nil {
		t.Fatal(err)
	}
	if !r.Recording() {
		t.Fatal("not recording after Start")
	}
	r.Write(make([]float32, 5000))
	r.Write(make([]float32, 3000))

	a, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if a.Samples != 8000 {
		t.Errorf("Samples = %d, want 8000", a.Samples)
	}
	if a.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", a.Duration)
	}
	if len(a.Data) != 44+16000 {
		t.Errorf("len(Data) = %d", len(a.Data))
	}
	if a.MIMEType != "audio/wav" {
		t.Errorf("MIMEType = %q", a.MIMEType)
	}
	if r.Recording() {
		t.Error("still recording after Stop")
	}
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Stop err = %v", err)
	}
}

func TestRecorderFlac(t *testing.T) {
	r := New(encoder.FormatFLAC, 16000)
	if err := r.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	r.Write(make([]float32, 4096+10))
	a, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Data[:4]) != "fLaC" || a.Ext != "flac" {
		t.Errorf("artifact = %q ext %q", a.Data[:4], a.Ext)
	}
	if a.Samples != 4106 {
		t.Errorf("Samples = %d", a.Samples)
	}
}

func TestWriteBeforeStartIgnored(t *testing.T) {
	r := New(encoder.FormatWAV, 16000)
	r.Write(make([]float32, 100))
	if err := r.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	a, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if a.Samples != 0 {
		t.Errorf("Samples = %d, want 0", a.Samples)
	}
}

func TestArtifactFileNameAndSave(t *testing.T) {
	a := &Artifact{
		Data:      []byte("abc"),
		Ext:       "wav",
		StartedAt: time.Date(2025, 3, 4, 15, 6, 7, 0, time.FixedZone("X", 3600)),
	}
	if got, want := a.FileName(), "session-recording-2025-03-04T14-06-07Z.wav"; got != want {
		t.Errorf("FileName = %q, want %q", got, want)
	}

	dir := filepath.Join(t.TempDir(), "out")
	path, err := a.Save(dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "abc" {
		t.Errorf("saved = %q, %v", data, err)
	}
}
