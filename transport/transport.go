package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"omnimind/capture"
)

const (
	DefaultModel       = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultInstruction = "You are a tutoring and recording assistant. Capture key points from classes and interviews."
)

var ErrSessionClosed = errors.New("transport: session closed")

// Error is a failure reported by the streaming connection.
type Error struct {
	Transport string
	Op        string // "connect", "send", "receive"
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Transport, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Speaker int

const (
	User Speaker = iota
	Assistant
)

func (s Speaker) String() string {
	if s == Assistant {
		return "assistant"
	}
	return "user"
}

type Transcription struct {
	Speaker  Speaker
	Text     string
	Finished bool
}

// Event is one of Opened, Message, Errored or Closed.
type Event interface {
	event()
}

// Opened is delivered once the service has accepted the session setup.
type Opened struct{}

// Message carries at most one audio payload and at most one transcription
// fragment. Audio holds raw PCM16LE; transports that receive text-encoded
// audio may set AudioEncoded instead and leave decoding to the consumer.
type Message struct {
	Audio        []byte
	AudioEncoded string
	AudioMIME    string
	Transcript   *Transcription
	TurnComplete bool
	Interrupted  bool
}

func (m Message) HasAudio() bool { return len(m.Audio) > 0 || m.AudioEncoded != "" }

type Errored struct {
	Err error
}

type Closed struct {
	Reason string
}

func (Opened) event()  {}
func (Message) event() {}
func (Errored) event() {}
func (Closed) event()  {}

// Handler receives every event of one session, in order, from a single
// goroutine owned by the transport. It must not block for long.
type Handler func(Event)

type Config struct {
	Model               string
	SystemInstruction   string
	ResponseModality    string
	InputTranscription  bool
	OutputTranscription bool
}

func DefaultConfig() Config {
	return Config{
		Model:               DefaultModel,
		SystemInstruction:   DefaultInstruction,
		ResponseModality:    "AUDIO",
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.ResponseModality == "" {
		c.ResponseModality = d.ResponseModality
	}
	return c
}

// modelName returns the model with the "models/" prefix the wire protocol expects.
func (c Config) modelName() string {
	if strings.HasPrefix(c.Model, "models/") {
		return c.Model
	}
	return "models/" + c.Model
}

// Transport opens live sessions against a generative audio service.
type Transport interface {
	Name() string
	Open(ctx context.Context, cfg Config, h Handler) (Session, error)
}

type Session interface {
	// SendAudio transmits one captured frame. Frames must be sent from a
	// single goroutine to keep capture order.
	SendAudio(ctx context.Context, f capture.Frame) error
	Close() error
}

// New returns the transport registered under name.
func New(name, apiKey string) (Transport, error) {
	switch name {
	case "genai", "":
		return NewGemini(apiKey), nil
	case "ws", "websocket":
		return NewWebsocket(apiKey), nil
	case "fake":
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}
