package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	diagnosticsFile = "diagnostics_log.txt"
	transcriptFile  = "transcript_log.txt"
)

var (
	diagLog   zerolog.Logger
	diagFile  *os.File
	transFile *os.File
	logMu     sync.Mutex
	logReady  atomic.Bool
	pid       int
	dir       string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: OMNIMIND_LOG_PATH environment variable
	if envPath := os.Getenv("OMNIMIND_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, diagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transFile, err = os.OpenFile(filepath.Join(dir, transcriptFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady.Store(true)
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady.Store(false)
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transFile != nil {
		transFile.Close()
		transFile = nil
	}
}

func Info(msg string) {
	if logReady.Load() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady.Load() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady.Load() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady.Load() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady.Load() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(id, transport, model, format string) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("transport", transport).
		Str("model", model).
		Str("format", format).
		Msg("session_start")
}

type SessionSummary struct {
	ID          string
	Reason      string // "stop", "closed", "error"
	Duration    time.Duration
	Transcripts int
	RecordingS  float64
	Err         error
}

func SessionEnd(s SessionSummary) {
	if !logReady.Load() {
		return
	}
	ev := diagLog.Info()
	if s.Err != nil {
		ev = diagLog.Warn().Err(s.Err)
	}
	ev.Str("session", s.ID).
		Str("reason", s.Reason).
		Float64("duration_s", s.Duration.Seconds()).
		Int("transcripts", s.Transcripts).
		Float64("recording_s", s.RecordingS).
		Msg("session_end")
}

type StreamMetricsData struct {
	ConnectMs      float64
	SentFrames     int
	SentKB         float64
	AudioS         float64
	QueuedMax      int
	RecvAudio      int
	RecvKB         float64
	PlayedS        float64
	DroppedFrames  int
	TranscriptMsgs int
}

func StreamMetrics(id string, m StreamMetricsData) {
	if !logReady.Load() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Float64("connect_ms", m.ConnectMs).
		Int("sent_frames", m.SentFrames).
		Float64("sent_kb", m.SentKB).
		Float64("audio_s", m.AudioS).
		Int("queued_max", m.QueuedMax).
		Int("recv_audio", m.RecvAudio).
		Float64("recv_kb", m.RecvKB).
		Float64("played_s", m.PlayedS).
		Int("dropped_frames", m.DroppedFrames).
		Int("transcripts", m.TranscriptMsgs).
		Msg("stream_metrics")
}

// TranscriptLine appends one speaker-tagged line to the transcript log.
func TranscriptLine(speaker, text string) {
	if !logReady.Load() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, speaker, text)
	transFile.WriteString(line)
}

func ReleaseFailure(resource string, err error) {
	if !logReady.Load() {
		return
	}
	diagLog.Warn().Str("resource", resource).Err(err).Msg("release_failed")
}

func FrameDropped(size int, err error) {
	if !logReady.Load() {
		return
	}
	diagLog.Warn().Int("bytes", size).Err(err).Msg("frame_dropped")
}
