// Package simhost serves a sim.Simulator to remote trajreplay clients over websocket.
package simhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trajreplay/internal/sim"
	"trajreplay/internal/simproto"
)

// Factory builds one simulator per connection from the client's HELLO.
type Factory func(ctx context.Context, hello simproto.HelloMsg) (sim.Simulator, error)

type Server struct {
	factory Factory
	log     *log.Logger

	// SimVersion is reported in WELCOME.
	SimVersion string
	// ImageOrigin is reported in WELCOME; bottom-left renders are flipped before sending.
	ImageOrigin string

	upgrader websocket.Upgrader
	sessions atomic.Int64
}

func NewServer(factory Factory, logger *log.Logger) *Server {
	return &Server{
		factory:     factory,
		log:         logger,
		ImageOrigin: simproto.OriginTopLeft,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 1024 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions reports the number of currently connected clients.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		simulator, sid := s.handshake(ctx, conn)
		if simulator == nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		defer func() {
			if err := simulator.Close(); err != nil && s.log != nil {
				s.log.Printf("session %s: close simulator: %v", sid, err)
			}
		}()

		d := newDispatcher(simulator, s.ImageOrigin == simproto.OriginBottomLeft)

		// Calls are served strictly in order; the protocol has one outstanding CALL at a time.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := simproto.DecodeBase(msg)
			if err != nil || base.Type != simproto.TypeCall {
				continue
			}
			var call simproto.CallMsg
			if err := json.Unmarshal(msg, &call); err != nil {
				continue
			}
			res := d.serve(ctx, call)
			if err := writeJSON(conn, res); err != nil {
				break
			}
			if call.Method == simproto.MethodClose && res.OK {
				break
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (sim.Simulator, string) {
	reject := func(reason string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, ""
	}
	base, err := simproto.DecodeBase(msg)
	if err != nil || base.Type != simproto.TypeHello {
		reject("expected HELLO")
		return nil, ""
	}
	if err := simproto.Validate(msg); err != nil {
		reject("bad HELLO")
		return nil, ""
	}
	var hello simproto.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject("bad HELLO")
		return nil, ""
	}
	if hello.ProtocolVersion != simproto.Version {
		reject("bad protocol_version")
		return nil, ""
	}

	simulator, err := s.factory(ctx, hello)
	if err != nil {
		if s.log != nil {
			s.log.Printf("create %s: %v", hello.EnvName, err)
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "simulator unavailable"), time.Now().Add(time.Second))
		return nil, ""
	}

	sid := "S" + uuid.NewString()
	welcome := simproto.WelcomeMsg{
		Type:            simproto.TypeWelcome,
		ProtocolVersion: simproto.Version,
		SessionID:       sid,
		SimVersion:      s.SimVersion,
		Capabilities:    capabilitiesOf(simulator),
		ImageOrigin:     s.ImageOrigin,
	}
	if err := writeJSON(conn, welcome); err != nil {
		_ = simulator.Close()
		return nil, ""
	}
	if s.log != nil {
		s.log.Printf("session %s: env=%s client=%s caps=%v", sid, hello.EnvName, hello.ClientName, welcome.Capabilities)
	}
	return simulator, sid
}

// capabilitiesOf lists every optional entry point the simulator implements. Unlike
// sim.NewHandle it reports both names of a pair; the client picks.
func capabilitiesOf(s sim.Simulator) []string {
	caps := []string{}
	if _, ok := s.(sim.EpisodeMetaSetter); ok {
		caps = append(caps, simproto.MethodSetEpMeta)
	}
	if _, ok := s.(sim.LegacyEpisodeMetaSetter); ok {
		caps = append(caps, simproto.MethodSetAttrsEpMeta)
	}
	if _, ok := s.(sim.StateRefresher); ok {
		caps = append(caps, simproto.MethodRefreshState)
	}
	if _, ok := s.(sim.SiteRefresher); ok {
		caps = append(caps, simproto.MethodRefreshSites)
	}
	if _, ok := s.(sim.ModelNormalizer); ok {
		caps = append(caps, simproto.MethodEditModelXML)
	}
	if _, ok := s.(sim.ViewerProvider); ok {
		caps = append(caps, simproto.CapViewer)
	}
	return caps
}

type dispatcher struct {
	sim    sim.Simulator
	flip   bool
	viewer sim.Viewer
}

func newDispatcher(s sim.Simulator, flip bool) *dispatcher {
	d := &dispatcher{sim: s, flip: flip}
	if vp, ok := s.(sim.ViewerProvider); ok {
		d.viewer = vp.Viewer()
	}
	return d
}

var errUnsupported = errors.New("method not supported by this simulator")

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }

func (d *dispatcher) serve(ctx context.Context, call simproto.CallMsg) simproto.ResultMsg {
	res := simproto.ResultMsg{Type: simproto.TypeResult, ID: call.ID}
	out, err := d.invoke(ctx, call)
	if err != nil {
		code := simproto.ErrSimFailure
		var bad badRequestError
		switch {
		case errors.Is(err, errUnsupported):
			code = simproto.ErrUnsupported
		case errors.As(err, &bad):
			code = simproto.ErrBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			code = simproto.ErrTimeout
		}
		res.Error = &simproto.ErrorBody{Code: code, Message: err.Error()}
		return res
	}
	res.OK = true
	if out != nil {
		b, err := json.Marshal(out)
		if err != nil {
			res.OK = false
			res.Error = &simproto.ErrorBody{Code: simproto.ErrInternal, Message: err.Error()}
			return res
		}
		res.Result = b
	}
	return res
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return badRequestError{fmt.Errorf("missing params")}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequestError{err}
	}
	return nil
}

func (d *dispatcher) invoke(ctx context.Context, call simproto.CallMsg) (any, error) {
	s := d.sim
	switch call.Method {
	case simproto.MethodReset:
		return nil, s.Reset(ctx)
	case simproto.MethodResetFromModel:
		var p simproto.ModelParams
		if err := decode(call.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.ResetFromModel(ctx, p.XML)
	case simproto.MethodResetPhysics:
		return nil, s.ResetPhysics(ctx)
	case simproto.MethodSetState:
		var p simproto.StateParams
		if err := decode(call.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.SetState(ctx, p.State)
	case simproto.MethodForward:
		return nil, s.Forward(ctx)
	case simproto.MethodStep:
		var p simproto.StepParams
		if err := decode(call.Params, &p); err != nil {
			return nil, err
		}
		ok, err := s.Step(ctx, p.Action)
		if err != nil {
			return nil, err
		}
		return simproto.StepResult{Success: ok}, nil
	case simproto.MethodRender:
		var p simproto.RenderParams
		if err := decode(call.Params, &p); err != nil {
			return nil, err
		}
		img, err := s.Render(ctx, p.Camera, p.Width, p.Height)
		if err != nil {
			return nil, err
		}
		return packRGB(img, d.flip), nil
	case simproto.MethodGetState:
		st, err := s.State(ctx)
		if err != nil {
			return nil, err
		}
		return simproto.StateParams{State: st}, nil
	case simproto.MethodGetModel:
		xml, err := s.Model(ctx)
		if err != nil {
			return nil, err
		}
		return simproto.ModelParams{XML: xml}, nil
	case simproto.MethodClose:
		// The connection handler closes the simulator once the session ends.
		return nil, nil

	case simproto.MethodRefreshState:
		if v, ok := s.(sim.StateRefresher); ok {
			return nil, v.RefreshState(ctx)
		}
	case simproto.MethodRefreshSites:
		if v, ok := s.(sim.SiteRefresher); ok {
			return nil, v.RefreshSites(ctx)
		}
	case simproto.MethodSetEpMeta, simproto.MethodSetAttrsEpMeta:
		var p simproto.MetaParams
		if err := decode(call.Params, &p); err != nil {
			return nil, err
		}
		if p.Meta == nil {
			p.Meta = map[string]any{}
		}
		if v, ok := s.(sim.EpisodeMetaSetter); ok && call.Method == simproto.MethodSetEpMeta {
			return nil, v.SetEpisodeMeta(ctx, p.Meta)
		}
		if v, ok := s.(sim.LegacyEpisodeMetaSetter); ok && call.Method == simproto.MethodSetAttrsEpMeta {
			return nil, v.SetAttrsFromEpisodeMeta(ctx, p.Meta)
		}
	case simproto.MethodEditModelXML:
		var p simproto.ModelParams
		if err := decode(call.Params, &p); err != nil {
			return nil, err
		}
		if v, ok := s.(sim.ModelNormalizer); ok {
			xml, err := v.NormalizeModel(ctx, p.XML)
			if err != nil {
				return nil, err
			}
			return simproto.ModelParams{XML: xml}, nil
		}
	case simproto.MethodViewerOpen:
		if d.viewer != nil {
			return nil, d.viewer.Open(ctx)
		}
	case simproto.MethodViewerUpdate:
		if d.viewer != nil {
			return nil, d.viewer.Update(ctx)
		}
	case simproto.MethodViewerClose:
		if d.viewer != nil {
			return nil, d.viewer.Close()
		}
	default:
		return nil, badRequestError{fmt.Errorf("unknown method %q", call.Method)}
	}
	return nil, fmt.Errorf("%s: %w", call.Method, errUnsupported)
}

// packRGB drops alpha and optionally flips rows so row 0 is the bottom of the image.
func packRGB(img *image.RGBA, bottomUp bool) simproto.RenderResult {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, 0, w*h*3)
	for i := 0; i < h; i++ {
		y := b.Min.Y + i
		if bottomUp {
			y = b.Max.Y - 1 - i
		}
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < w; x++ {
			out = append(out, row[x*4], row[x*4+1], row[x*4+2])
		}
	}
	return simproto.RenderResult{Width: w, Height: h, RGB: out}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
