package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"omnimind/capture"
	"omnimind/pcm"
)

type events struct {
	mu   sync.Mutex
	list []Event
	ch   chan Event
}

func newEvents() *events { return &events{ch: make(chan Event, 64)} }

func (e *events) handle(ev Event) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
	e.ch <- ev
}

func (e *events) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-e.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// liveServer answers setup with setupComplete and runs script for each
// realtime input it receives.
func liveServer(t *testing.T, script func(conn *websocket.Conn, in wireClientMessage)) (*httptest.Server, chan wireClientMessage) {
	t.Helper()
	received := make(chan wireClientMessage, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg wireClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
			if msg.Setup != nil {
				conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
				continue
			}
			if script != nil {
				script(conn, msg)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketSetupAndAudio(t *testing.T) {
	reply := pcm.Encode([]int16{1, 2, 3, 4})
	srv, received := liveServer(t, func(conn *websocket.Conn, in wireClientMessage) {
		conn.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{"parts": []any{
					map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcm.EncodeBytes(reply)}},
				}},
				"inputTranscription": map[string]any{"text": "hello"},
			},
		})
		conn.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{"text": "hi there"},
				"turnComplete":        true,
			},
		})
	})

	tr := &Websocket{APIKey: "test-key", Endpoint: wsURL(srv)}
	ev := newEvents()
	sess, err := tr.Open(context.Background(), Config{SystemInstruction: "be brief", InputTranscription: true}, ev.handle)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	setup := <-received
	if setup.Setup == nil {
		t.Fatal("first message is not setup")
	}
	if setup.Setup.Model != "models/"+DefaultModel {
		t.Errorf("model = %q", setup.Setup.Model)
	}
	if setup.Setup.InputAudioTranscription == nil || setup.Setup.OutputAudioTranscription != nil {
		t.Error("transcription flags not honored")
	}
	if got := setup.Setup.SystemInstruction.Parts[0].Text; got != "be brief" {
		t.Errorf("instruction = %q", got)
	}
	if _, ok := ev.next(t).(Opened); !ok {
		t.Fatal("first event is not Opened")
	}

	frame := capture.Frame{Data: pcm.Encode([]int16{7, -7}), MIMEType: pcm.InputFormat.MIMEType()}
	if err := sess.SendAudio(context.Background(), frame); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	in := <-received
	if in.RealtimeInput == nil || in.RealtimeInput.Audio.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("realtime input = %+v", in)
	}
	raw, err := pcm.DecodeBytes(in.RealtimeInput.Audio.Data)
	if err != nil || string(raw) != string(frame.Data) {
		t.Errorf("sent audio = % x, %v", raw, err)
	}

	audio, ok := ev.next(t).(Message)
	if !ok || !audio.HasAudio() {
		t.Fatalf("expected audio message, got %#v", audio)
	}
	decoded, err := pcm.DecodeBytes(audio.AudioEncoded)
	if err != nil || string(decoded) != string(reply) {
		t.Errorf("audio payload = % x, %v", decoded, err)
	}

	user := ev.next(t).(Message)
	if user.Transcript == nil || user.Transcript.Speaker != User || user.Transcript.Text != "hello" {
		t.Errorf("user transcript = %+v", user.Transcript)
	}
	asst := ev.next(t).(Message)
	if asst.Transcript == nil || asst.Transcript.Speaker != Assistant {
		t.Errorf("assistant transcript = %+v", asst.Transcript)
	}
	done := ev.next(t).(Message)
	if !done.TurnComplete {
		t.Error("turnComplete not delivered")
	}
}

func TestWebsocketServerClose(t *testing.T) {
	srv, _ := liveServer(t, func(conn *websocket.Conn, _ wireClientMessage) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session over"))
	})
	tr := &Websocket{APIKey: "test-key", Endpoint: wsURL(srv)}
	ev := newEvents()
	sess, err := tr.Open(context.Background(), DefaultConfig(), ev.handle)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	ev.next(t) // Opened

	sess.SendAudio(context.Background(), capture.Frame{Data: []byte{0, 0}, MIMEType: "audio/pcm;rate=16000"})
	closed, ok := ev.next(t).(Closed)
	if !ok {
		t.Fatal("expected Closed")
	}
	if closed.Reason != "session over" {
		t.Errorf("reason = %q", closed.Reason)
	}
}

func TestWebsocketServerError(t *testing.T) {
	srv, _ := liveServer(t, func(conn *websocket.Conn, _ wireClientMessage) {
		conn.WriteJSON(map[string]any{"error": map[string]any{"code": 400, "message": "bad audio", "status": "INVALID_ARGUMENT"}})
	})
	tr := &Websocket{APIKey: "test-key", Endpoint: wsURL(srv)}
	ev := newEvents()
	sess, err := tr.Open(context.Background(), DefaultConfig(), ev.handle)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	ev.next(t)

	sess.SendAudio(context.Background(), capture.Frame{Data: []byte{0, 0}})
	errored, ok := ev.next(t).(Errored)
	if !ok {
		t.Fatal("expected Errored")
	}
	var te *Error
	if !errors.As(errored.Err, &te) || te.Op != "receive" {
		t.Errorf("err = %v", errored.Err)
	}
}

func TestWebsocketDialFailure(t *testing.T) {
	srv, _ := liveServer(t, nil)
	tr := &Websocket{APIKey: "wrong", Endpoint: wsURL(srv)}
	_, err := tr.Open(context.Background(), DefaultConfig(), nil)
	var te *Error
	if !errors.As(err, &te) || te.Op != "connect" {
		t.Fatalf("err = %v, want connect *Error", err)
	}
}

func TestWebsocketSendAfterClose(t *testing.T) {
	srv, _ := liveServer(t, nil)
	tr := &Websocket{APIKey: "test-key", Endpoint: wsURL(srv)}
	ev := newEvents()
	sess, err := tr.Open(context.Background(), DefaultConfig(), ev.handle)
	if err != nil {
		t.Fatal(err)
	}
	ev.next(t)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio(context.Background(), capture.Frame{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
	if c, ok := ev.next(t).(Closed); !ok || c.Reason != "closed by client" {
		t.Errorf("terminal event = %#v", c)
	}
}

func TestSetupMessageJSON(t *testing.T) {
	b, err := json.Marshal(setupMessage(DefaultConfig()))
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"responseModalities":["AUDIO"]`, `"inputAudioTranscription":{}`, `"outputAudioTranscription":{}`} {
		if !strings.Contains(s, want) {
			t.Errorf("setup %s missing %s", s, want)
		}
	}
}
