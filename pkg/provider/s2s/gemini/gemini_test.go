package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s"
	"github.com/bad-Al-code/learnsphere-voice-gateway/pkg/provider/s2s/gemini"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func TestConnect_SendsSetupWithInstructionsAndVoice(t *testing.T) {
	t.Parallel()

	setupCh := make(chan map[string]any, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		setupCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("tutor-model"), gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{
		Instructions: "You teach Go.",
		Voice:        "Kore",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case raw := <-setupCh:
		setup, _ := raw["setup"].(map[string]any)
		if setup == nil {
			t.Fatalf("no setup object in %v", raw)
		}
		if got, want := setup["model"], "models/tutor-model"; got != want {
			t.Errorf("model = %v; want %v", got, want)
		}
		si, _ := setup["systemInstruction"].(map[string]any)
		if si == nil {
			t.Fatal("setup carries no systemInstruction")
		}
		if !strings.Contains(mustJSON(t, si), "You teach Go.") {
			t.Errorf("systemInstruction %v does not carry the instructions", si)
		}
		if !strings.Contains(mustJSON(t, setup["generationConfig"]), "Kore") {
			t.Errorf("generationConfig %v does not carry the voice", setup["generationConfig"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestSendAudio_EncodesMediaChunk(t *testing.T) {
	t.Parallel()

	chunkCh := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)

		var msg struct {
			RealtimeInput struct {
				MediaChunks []struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"mediaChunks"`
			} `json:"realtimeInput"`
		}
		readJSON(t, conn, &msg)
		if len(msg.RealtimeInput.MediaChunks) == 1 {
			chunkCh <- msg.RealtimeInput.MediaChunks[0].Data
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv)
	defer handle.Close()

	if err := handle.SendAudio([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case data := <-chunkCh:
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			t.Fatalf("chunk is not base64: %v", err)
		}
		if string(decoded) != "\x01\x02\x03" {
			t.Errorf("chunk = %v; want 01 02 03", decoded)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for media chunk")
	}
}

func TestSendText_SendsCompletedUserTurn(t *testing.T) {
	t.Parallel()

	turnCh := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)

		var msg struct {
			ClientContent struct {
				Turns []struct {
					Role  string `json:"role"`
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"turns"`
				TurnComplete bool `json:"turnComplete"`
			} `json:"clientContent"`
		}
		readJSON(t, conn, &msg)
		if msg.ClientContent.TurnComplete && len(msg.ClientContent.Turns) == 1 &&
			msg.ClientContent.Turns[0].Role == "user" && len(msg.ClientContent.Turns[0].Parts) == 1 {
			turnCh <- msg.ClientContent.Turns[0].Parts[0].Text
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv)
	defer handle.Close()

	if err := handle.SendText("Explain recursion"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case text := <-turnCh:
		if text != "Explain recursion" {
			t.Errorf("turn text = %q; want %q", text, "Explain recursion")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for client content turn")
	}
}

func TestReceive_AudioAndTranscripts(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "Explain recursion"},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{
							"mimeType": "audio/pcm",
							"data":     base64.StdEncoding.EncodeToString([]byte("pcm-bytes")),
						}},
					},
				},
				"outputTranscription": map[string]any{"text": "Recursion is"},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv)
	defer handle.Close()

	ev := recvTranscript(t, handle)
	if ev.Role != s2s.RoleUser || ev.Text != "Explain recursion" {
		t.Errorf("first event = %+v; want user/Explain recursion", ev)
	}

	select {
	case chunk := <-handle.Audio():
		if string(chunk) != "pcm-bytes" {
			t.Errorf("audio = %q; want %q", chunk, "pcm-bytes")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio chunk")
	}

	ev = recvTranscript(t, handle)
	if ev.Role != s2s.RoleModel || ev.Text != "Recursion is" {
		t.Errorf("second event = %+v; want model/Recursion is", ev)
	}
}

func TestReceive_ProtocolErrorTerminatesSession(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 8, "message": "quota exhausted"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv)
	defer handle.Close()

	select {
	case _, ok := <-handle.Audio():
		if ok {
			t.Fatal("expected audio channel to close without data")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio channel close")
	}

	err := handle.Err()
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Errorf("Err() = %v; want quota exhausted", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connect(t, srv)

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func connect(t *testing.T, srv *httptest.Server) s2s.SessionHandle {
	t.Helper()
	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), s2s.SessionConfig{Instructions: "teach"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return handle
}

func recvTranscript(t *testing.T, handle s2s.SessionHandle) s2s.TranscriptEvent {
	t.Helper()
	select {
	case ev, ok := <-handle.Transcripts():
		if !ok {
			t.Fatal("transcripts channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for transcript event")
	}
	return s2s.TranscriptEvent{}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
