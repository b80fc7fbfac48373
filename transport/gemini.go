package transport

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"omnimind/capture"
)

var ErrMissingAPIKey = errors.New("missing API key (set GEMINI_API_KEY)")

// Gemini talks to the Gemini Live API through the genai SDK.
type Gemini struct {
	APIKey     string
	BaseURL    string
	APIVersion string
}

func NewGemini(apiKey string) *Gemini {
	return &Gemini{APIKey: apiKey, APIVersion: "v1beta"}
}

func (g *Gemini) Name() string { return "genai" }

func (g *Gemini) Open(ctx context.Context, cfg Config, h Handler) (Session, error) {
	if g.APIKey == "" {
		return nil, &Error{Transport: g.Name(), Op: "connect", Err: ErrMissingAPIKey}
	}
	cfg = cfg.withDefaults()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    g.BaseURL,
			APIVersion: g.APIVersion,
		},
	})
	if err != nil {
		return nil, &Error{Transport: g.Name(), Op: "connect", Err: err}
	}

	// Live.Connect takes ctx but its websocket dial does not honor it, so
	// race the call against ctx to keep the caller's timeout.
	type result struct {
		conn *genai.Session
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := client.Live.Connect(ctx, cfg.Model, liveConfig(cfg))
		ch <- result{conn, err}
	}()

	var conn *genai.Session
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &Error{Transport: g.Name(), Op: "connect", Err: r.err}
		}
		conn = r.conn
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, &Error{Transport: g.Name(), Op: "connect", Err: ctx.Err()}
	}

	s := &geminiSession{stream: newStream(g.Name(), h), conn: conn}
	go s.readLoop()
	return s, nil
}

func liveConfig(cfg Config) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.Modality(cfg.ResponseModality)},
	}
	if cfg.SystemInstruction != "" {
		lc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

type geminiSession struct {
	*stream
	conn *genai.Session
}

func (s *geminiSession) SendAudio(ctx context.Context, f capture.Frame) error {
	return s.send(ctx, nil, func() error {
		return s.conn.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: f.Data, MIMEType: f.MIMEType},
		})
	})
}

func (s *geminiSession) Close() error {
	if !s.markClosed() {
		return nil
	}
	err := s.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	return err
}

func (s *geminiSession) readLoop() {
	defer close(s.done)
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			s.readFailed(err)
			return
		}
		if msg.SetupComplete != nil {
			s.opened()
		}
		for _, ev := range translate(msg) {
			s.emit(ev)
		}
	}
}

// translate flattens one server message into events: one per audio part and
// per transcription fragment.
func translate(msg *genai.LiveServerMessage) []Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}
	var events []Event
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			events = append(events, Message{Audio: part.InlineData.Data, AudioMIME: part.InlineData.MIMEType})
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
