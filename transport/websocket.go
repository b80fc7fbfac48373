package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"omnimind/capture"
	"omnimind/pcm"
)

const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Websocket speaks the BidiGenerateContent JSON protocol directly. Audio is
// carried as base64 text in both directions.
type Websocket struct {
	APIKey   string
	Endpoint string
	Dialer   *websocket.Dialer
}

func NewWebsocket(apiKey string) *Websocket {
	return &Websocket{APIKey: apiKey, Endpoint: DefaultEndpoint, Dialer: websocket.DefaultDialer}
}

func (w *Websocket) Name() string { return "ws" }

type wireBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wirePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *wireBlob `json:"inlineData,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type wireSetup struct {
	Model                    string                `json:"model"`
	GenerationConfig         *wireGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *wireContent          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}             `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}             `json:"outputAudioTranscription,omitempty"`
}

type wireClientMessage struct {
	Setup         *wireSetup         `json:"setup,omitempty"`
	RealtimeInput *wireRealtimeInput `json:"realtimeInput,omitempty"`
}

type wireRealtimeInput struct {
	Audio *wireBlob `json:"audio,omitempty"`
}

type wireTranscription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type wireServerContent struct {
	ModelTurn           *wireContent       `json:"modelTurn,omitempty"`
	InputTranscription  *wireTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *wireTranscription `json:"outputTranscription,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type wireServerMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *wireServerContent `json:"serverContent,omitempty"`
	Error         *wireError         `json:"error,omitempty"`
}

func setupMessage(cfg Config) wireClientMessage {
	setup := &wireSetup{
		Model:            cfg.modelName(),
		GenerationConfig: &wireGenerationConfig{ResponseModalities: []string{cfg.ResponseModality}},
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &wireContent{Role: "user", Parts: []wirePart{{Text: cfg.SystemInstruction}}}
	}
	if cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return wireClientMessage{Setup: setup}
}

func (w *Websocket) Open(ctx context.Context, cfg Config, h Handler) (Session, error) {
	cfg = cfg.withDefaults()
	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	endpoint := w.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	headers := http.Header{}
	if w.APIKey != "" {
		headers.Set("x-goog-api-key", w.APIKey)
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return nil, &Error{Transport: w.Name(), Op: "connect", Err: fmt.Errorf("dial live websocket: %w", err)}
	}

	s := &wsSession{stream: newStream(w.Name(), h), conn: conn}
	if err := s.send(ctx, conn, func() error { return conn.WriteJSON(setupMessage(cfg)) }); err != nil {
		conn.Close()
		return nil, &Error{Transport: w.Name(), Op: "connect", Err: err}
	}
	go s.readLoop()
	return s, nil
}

type wsSession struct {
	*stream
	conn *websocket.Conn
}

func (s *wsSession) SendAudio(ctx context.Context, f capture.Frame) error {
	msg := wireClientMessage{RealtimeInput: &wireRealtimeInput{
		Audio: &wireBlob{MIMEType: f.MIMEType, Data: pcm.EncodeBytes(f.Data)},
	}}
	return s.send(ctx, s.conn, func() error { return s.conn.WriteJSON(msg) })
}

func (s *wsSession) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *wsSession) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readFailed(err)
			return
		}
		var msg wireServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			s.emit(Errored{Err: &Error{
				Transport: s.name,
				Op:        "receive",
				Err:       fmt.Errorf("%s (%d): %s", msg.Error.Status, msg.Error.Code, msg.Error.Message),
			}})
			continue
		}
		if msg.SetupComplete != nil {
			s.opened()
		}
		for _, ev := range translateWire(msg.ServerContent) {
			s.emit(ev)
		}
	}
}

func translateWire(sc *wireServerContent) []Event {
	if sc == nil {
		return nil
	}
	var events []Event
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			events = append(events, Message{AudioEncoded: part.InlineData.Data, AudioMIME: part.InlineData.MIMEType})
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		events = append(events, Message{Transcript: &Transcription{Speaker: User, Text: t.Text, Finished: t.Finished}})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		events = append(events, Message{Transcript: &Transcription{Speaker: Assistant, Text: t.Text, Finished: t.Finished}})
	}
	if sc.TurnComplete || sc.Interrupted {
		events = append(events, Message{TurnComplete: sc.TurnComplete, Interrupted: sc.Interrupted})
	}
	return events
}
