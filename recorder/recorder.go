package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"omnimind/encoder"
	"omnimind/pcm"
)

var ErrNotRecording = errors.New("recorder: not recording")

// Artifact is the finished recording of one session.
type Artifact struct {
	Data      []byte
	MIMEType  string
	Ext       string
	StartedAt time.Time
	Duration  time.Duration
	Samples   uint64
}

// FileName returns session-recording-<UTC timestamp>.<ext>, with ':'
// replaced so the name is valid on every filesystem.
func (a *Artifact) FileName() string {
	ts := strings.ReplaceAll(a.StartedAt.UTC().Format(time.RFC3339), ":", "-")
	return fmt.Sprintf("session-recording-%s.%s", ts, a.Ext)
}

// Save writes the artifact into dir and returns its path.
func (a *Artifact) Save(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	path := filepath.Join(dir, a.FileName())
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write recording: %w", err)
	}
	return path, nil
}

// Recorder taps the raw microphone stream and encodes it block by block.
type Recorder struct {
	format     encoder.Format
	sampleRate int

	mu        sync.Mutex
	enc       encoder.Encoder
	pending   []int16
	startedAt time.Time
	err       error
}

func New(format encoder.Format, sampleRate int) *Recorder {
	if sampleRate <= 0 {
		sampleRate = pcm.InputSampleRate
	}
	return &Recorder{format: format, sampleRate: sampleRate}
}

func (r *Recorder) Start(now time.Time) error {
	enc, err := encoder.New(r.format, r.sampleRate)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enc = enc
	r.pending = nil
	r.startedAt = now
	r.err = nil
	return nil
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc != nil
}

// Write appends normalized mono samples. Safe to call from the capture
// callback; encoding errors are reported by Stop.
func (r *Recorder) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil || r.err != nil {
		return
	}
	r.pending = append(r.pending, pcm.FromFloat(samples)...)
	start := time.Now()
	for len(r.pending) >= encoder.BlockSize {
		if err := r.enc.EncodeBlock(r.pending[:encoder.BlockSize]); err != nil {
			r.err = err
			return
		}
		r.pending = r.pending[encoder.BlockSize:]
	}
	r.enc.AddEncodeTime(time.Since(start))
}

// Stop flushes and closes the encoder and returns the finished artifact.
func (r *Recorder) Stop() (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	enc := r.enc
	if enc == nil {
		return nil, ErrNotRecording
	}
	r.enc = nil

	if r.err != nil {
		return nil, fmt.Errorf("encode recording: %w", r.err)
	}
	if len(r.pending) > 0 {
		if err := enc.EncodeBlock(r.pending); err != nil {
			return nil, fmt.Errorf("encode recording: %w", err)
		}
		r.pending = nil
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close recording: %w", err)
	}

	samples := enc.TotalFrames()
	return &Artifact{
		Data:      append([]byte(nil), enc.Bytes()...),
		MIMEType:  enc.Format().MIMEType(),
		Ext:       enc.Format().Ext(),
		StartedAt: r.startedAt,
		Duration:  time.Duration(samples) * time.Second / time.Duration(r.sampleRate),
		Samples:   samples,
	}, nil
}
