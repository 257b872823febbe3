package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func connect(t *testing.T, srv *httptest.Server, s *Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(SubscribeMsg{Type: TypeSubscribe, ProtocolVersion: Version}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn, v any) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var base struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(msg, &base)
	if v != nil {
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("decode %s: %v", base.Type, err)
		}
	}
	return base.Type
}

func TestServer_EpisodeLifecycle(t *testing.T) {
	renders := 0
	s := NewServer(func(ctx context.Context) (*image.RGBA, error) {
		renders++
		img := image.NewRGBA(image.Rect(0, 0, 4, 3))
		img.SetRGBA(1, 1, color.RGBA{10, 20, 30, 255})
		return img, nil
	}, nil)
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	ctx := context.Background()
	// No subscriber yet: Update must not render.
	if err := s.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if renders != 0 {
		t.Fatalf("rendered without subscribers")
	}

	conn := connect(t, srv, s)
	if err := s.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	var start EpisodeStartMsg
	if typ := read(t, conn, &start); typ != TypeEpisodeStart || start.Episode != 1 {
		t.Fatalf("got %s %+v", typ, start)
	}

	if err := s.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	var fr FrameMsg
	if typ := read(t, conn, &fr); typ != TypeFrame || fr.Seq != 1 || fr.Width != 4 || fr.Height != 3 {
		t.Fatalf("got %s seq=%d %dx%d", typ, fr.Seq, fr.Width, fr.Height)
	}
	img, err := png.Decode(bytes.NewReader(fr.PNG))
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if r, g, b, _ := img.At(1, 1).RGBA(); r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
		t.Fatalf("pixel: %d %d %d", r>>8, g>>8, b>>8)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var end EpisodeEndMsg
	if typ := read(t, conn, &end); typ != TypeEpisodeEnd || end.Frames != 1 {
		t.Fatalf("got %s %+v", typ, end)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestServer_RejectsBadSubscribe(t *testing.T) {
	s := NewServer(nil, nil)
	srv := httptest.NewServer(s.Mux())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(SubscribeMsg{Type: "HELLO", ProtocolVersion: Version})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestServer_IndexPage(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil, nil).Mux())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("status=%d type=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:5555":     true,
		"10.0.0.7:5555":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
