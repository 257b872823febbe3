// Package viewer streams replay frames to browsers. Server implements sim.Viewer, so the
// replay driver paces it exactly like a native on-screen window.
package viewer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"image"
	"image/png"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trajreplay/internal/sim"
)

//go:embed index.html
var indexHTML []byte

// FrameSource renders the current simulator view.
type FrameSource func(ctx context.Context) (*image.RGBA, error)

type Server struct {
	source FrameSource
	log    *log.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	episode int
	seq     uint64
	open    bool
}

var _ sim.Viewer = (*Server)(nil)

func NewServer(source FrameSource, logger *log.Logger) *Server {
	return &Server{
		source:  source,
		log:     logger,
		clients: map[chan []byte]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Mux serves the viewer page at / and the frame socket at /ws.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(rw, r)
			return
		}
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = rw.Write(indexHTML)
	})
	mux.HandleFunc("/ws", s.WSHandler())
	return mux
}

// Clients reports how many subscribed viewers are connected.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != TypeSubscribe || sub.ProtocolVersion != Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		out := make(chan []byte, 8)
		s.mu.Lock()
		s.clients[out] = struct{}{}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.clients, out)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: only used to notice disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		cancel()
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// broadcastLocked fans a message out; slow clients drop frames instead of stalling replay.
func (s *Server) broadcastLocked(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		if s.log != nil {
			s.log.Printf("viewer: encode: %v", err)
		}
		return
	}
	for out := range s.clients {
		select {
		case out <- b:
		default:
		}
	}
}

func (s *Server) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episode++
	s.seq = 0
	s.open = true
	s.broadcastLocked(EpisodeStartMsg{Type: TypeEpisodeStart, ProtocolVersion: Version, Episode: s.episode})
	return nil
}

// Update renders and pushes one frame. Nothing is rendered while no browser is attached.
func (s *Server) Update(ctx context.Context) error {
	s.mu.Lock()
	s.seq++
	seq, episode, n := s.seq, s.episode, len(s.clients)
	s.mu.Unlock()
	if n == 0 || s.source == nil {
		return nil
	}

	img, err := s.source(ctx)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return err
	}
	b := img.Bounds()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(FrameMsg{
		Type:            TypeFrame,
		ProtocolVersion: Version,
		Episode:         episode,
		Seq:             seq,
		Width:           b.Dx(),
		Height:          b.Dy(),
		PNG:             buf.Bytes(),
	})
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.broadcastLocked(EpisodeEndMsg{Type: TypeEpisodeEnd, ProtocolVersion: Version, Episode: s.episode, Frames: s.seq})
	return nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
