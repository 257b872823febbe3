// Package remote drives a simulator hosted behind a simproto websocket endpoint.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trajreplay/internal/sim"
	"trajreplay/internal/simproto"
)

const DefaultCallTimeout = 30 * time.Second

type Options struct {
	// CallTimeout bounds each CALL/RESULT round trip. Zero means DefaultCallTimeout.
	CallTimeout time.Duration
	Logger      *log.Logger
}

// Client implements sim.Simulator and every optional capability; HasCapability reports
// which of those the host actually advertised.
type Client struct {
	log     *log.Logger
	timeout time.Duration
	welcome simproto.WelcomeMsg
	caps    map[string]bool
	flip    bool

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
	closed bool
	broken error
}

var _ sim.Simulator = (*Client)(nil)

// Dial connects and performs the HELLO/WELCOME handshake.
func Dial(ctx context.Context, url string, hello simproto.HelloMsg, opts Options) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello.Type = simproto.TypeHello
	hello.ProtocolVersion = simproto.Version
	if hello.ClientName == "" {
		hello.ClientName = "trajreplay"
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	base, err := simproto.DecodeBase(msg)
	if err != nil || base.Type != simproto.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
	var w simproto.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}
	if w.ProtocolVersion != simproto.Version {
		_ = conn.Close()
		return nil, fmt.Errorf("host speaks protocol %q, want %q", w.ProtocolVersion, simproto.Version)
	}

	c := &Client{
		log:     opts.Logger,
		timeout: opts.CallTimeout,
		welcome: w,
		caps:    map[string]bool{},
		flip:    w.ImageOrigin == simproto.OriginBottomLeft,
		conn:    conn,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultCallTimeout
	}
	for _, name := range w.Capabilities {
		c.caps[name] = true
	}
	if c.log != nil {
		c.log.Printf("WELCOME session=%s sim=%s caps=%v origin=%s", w.SessionID, w.SimVersion, w.Capabilities, w.ImageOrigin)
	}
	return c, nil
}

func (c *Client) Welcome() simproto.WelcomeMsg { return c.welcome }

func (c *Client) HasCapability(name string) bool { return c.caps[name] }

// call performs one round trip. A transport failure poisons the client: the handle must
// not be used after a failed restore or step.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%s: simulator connection closed", method)
	}
	if c.broken != nil {
		return fmt.Errorf("%s: %w", method, c.broken)
	}

	msg := simproto.CallMsg{Type: simproto.TypeCall, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: encode params: %w", method, err)
		}
		msg.Params = b
	}
	c.nextID++
	msg.ID = c.nextID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		c.broken = err
		return fmt.Errorf("%s: send: %w", method, err)
	}
	for {
		_ = c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.broken = err
			return fmt.Errorf("%s: %w", method, err)
		}
		base, err := simproto.DecodeBase(raw)
		if err != nil || base.Type != simproto.TypeResult {
			continue
		}
		var res simproto.ResultMsg
		if err := json.Unmarshal(raw, &res); err != nil {
			c.broken = err
			return fmt.Errorf("%s: decode RESULT: %w", method, err)
		}
		if res.ID != msg.ID {
			// Stale answer to an earlier timed-out call.
			continue
		}
		if !res.OK {
			ce := &simproto.CallError{Method: method, Code: simproto.ErrInternal, Message: "call failed"}
			if res.Error != nil {
				ce.Code, ce.Message = res.Error.Code, res.Error.Message
			}
			return ce
		}
		if result != nil {
			if len(res.Result) == 0 {
				return fmt.Errorf("%s: empty result", method)
			}
			if err := json.Unmarshal(res.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) Reset(ctx context.Context) error {
	return c.call(ctx, simproto.MethodReset, nil, nil)
}

func (c *Client) ResetFromModel(ctx context.Context, model string) error {
	return c.call(ctx, simproto.MethodResetFromModel, simproto.ModelParams{XML: model}, nil)
}

func (c *Client) ResetPhysics(ctx context.Context) error {
	return c.call(ctx, simproto.MethodResetPhysics, nil, nil)
}

func (c *Client) SetState(ctx context.Context, s sim.State) error {
	return c.call(ctx, simproto.MethodSetState, simproto.StateParams{State: s}, nil)
}

func (c *Client) Forward(ctx context.Context) error {
	return c.call(ctx, simproto.MethodForward, nil, nil)
}

func (c *Client) Step(ctx context.Context, a sim.Action) (bool, error) {
	var res simproto.StepResult
	if err := c.call(ctx, simproto.MethodStep, simproto.StepParams{Action: a}, &res); err != nil {
		return false, err
	}
	return res.Success, nil
}

func (c *Client) Render(ctx context.Context, camera string, width, height int) (*image.RGBA, error) {
	var res simproto.RenderResult
	if err := c.call(ctx, simproto.MethodRender, simproto.RenderParams{Camera: camera, Width: width, Height: height}, &res); err != nil {
		return nil, err
	}
	if res.Width <= 0 || res.Height <= 0 || len(res.RGB) != res.Width*res.Height*3 {
		return nil, fmt.Errorf("render %s: malformed image %dx%d with %d bytes", camera, res.Width, res.Height, len(res.RGB))
	}
	img := image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
	for row := 0; row < res.Height; row++ {
		y := row
		if c.flip {
			y = res.Height - 1 - row
		}
		src := res.RGB[row*res.Width*3 : (row+1)*res.Width*3]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < res.Width; x++ {
			dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = src[x*3], src[x*3+1], src[x*3+2], 0xff
		}
	}
	return img, nil
}

func (c *Client) State(ctx context.Context) (sim.State, error) {
	var res simproto.StateParams
	if err := c.call(ctx, simproto.MethodGetState, nil, &res); err != nil {
		return nil, err
	}
	return res.State, nil
}

func (c *Client) Model(ctx context.Context) (string, error) {
	var res simproto.ModelParams
	if err := c.call(ctx, simproto.MethodGetModel, nil, &res); err != nil {
		return "", err
	}
	return res.XML, nil
}

func (c *Client) RefreshState(ctx context.Context) error {
	return c.call(ctx, simproto.MethodRefreshState, nil, nil)
}

func (c *Client) RefreshSites(ctx context.Context) error {
	return c.call(ctx, simproto.MethodRefreshSites, nil, nil)
}

func (c *Client) SetEpisodeMeta(ctx context.Context, m sim.Metadata) error {
	return c.call(ctx, simproto.MethodSetEpMeta, simproto.MetaParams{Meta: m}, nil)
}

func (c *Client) SetAttrsFromEpisodeMeta(ctx context.Context, m sim.Metadata) error {
	return c.call(ctx, simproto.MethodSetAttrsEpMeta, simproto.MetaParams{Meta: m}, nil)
}

func (c *Client) NormalizeModel(ctx context.Context, model string) (string, error) {
	var res simproto.ModelParams
	if err := c.call(ctx, simproto.MethodEditModelXML, simproto.ModelParams{XML: model}, &res); err != nil {
		return "", err
	}
	return res.XML, nil
}

// Viewer returns a proxy for the host's on-screen viewer.
func (c *Client) Viewer() sim.Viewer { return hostViewer{c} }

type hostViewer struct{ c *Client }

func (v hostViewer) Open(ctx context.Context) error {
	return v.c.call(ctx, simproto.MethodViewerOpen, nil, nil)
}

func (v hostViewer) Update(ctx context.Context) error {
	return v.c.call(ctx, simproto.MethodViewerUpdate, nil, nil)
}

func (v hostViewer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return v.c.call(ctx, simproto.MethodViewerClose, nil, nil)
}

// Close ends the session. It is safe to call more than once.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var callErr error
	if c.usable() {
		callErr = c.call(ctx, simproto.MethodClose, nil, nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	err := c.conn.Close()
	var ce *simproto.CallError
	if callErr != nil && !errors.As(callErr, &ce) {
		// Transport already gone; nothing more to report than the close result.
		return err
	}
	return errors.Join(callErr, err)
}

func (c *Client) usable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.broken == nil
}
