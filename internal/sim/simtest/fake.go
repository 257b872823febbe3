// Package simtest provides a deterministic in-memory simulator for replay tests.
//
// Dynamics: Step adds the action element-wise onto the state (extra action elements are
// ignored), then adds Drift[step] if present. That makes recorded trajectories trivial to
// build by hand and divergence trivial to inject.
package simtest

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"sync"

	"trajreplay/internal/sim"
)

type Fake struct {
	mu sync.Mutex

	// LiveModel is what Model returns before any ResetFromModel call.
	LiveModel string
	// Drift is added to the state after the step with the given index (0-based).
	Drift map[int]sim.State
	// SuccessFrom is the first step index (0-based) that reports success; negative never succeeds.
	SuccessFrom int
	// FailOn makes the named call return an error.
	FailOn map[string]error

	calls  []string
	state  sim.State
	model  string
	meta   sim.Metadata
	steps  int
	closed bool
	viewer *Viewer
}

func New() *Fake {
	return &Fake{SuccessFrom: -1, LiveModel: "<mujoco model=\"live\"/>"}
}

// Calls returns the ordered call log ("reset", "reset_from_model", ...).
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) ClearCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) LoadedModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *Fake) Meta() sim.Metadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.meta
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) record(name string) error {
	f.calls = append(f.calls, name)
	if err := f.FailOn[name]; err != nil {
		return err
	}
	return nil
}

func (f *Fake) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("reset"); err != nil {
		return err
	}
	f.model = ""
	f.state = nil
	f.steps = 0
	return nil
}

func (f *Fake) ResetFromModel(ctx context.Context, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("reset_from_model"); err != nil {
		return err
	}
	f.model = model
	return nil
}

func (f *Fake) ResetPhysics(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("reset_physics")
}

func (f *Fake) SetState(ctx context.Context, s sim.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("set_state"); err != nil {
		return err
	}
	f.state = append(sim.State(nil), s...)
	return nil
}

func (f *Fake) Forward(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("forward")
}

func (f *Fake) Step(ctx context.Context, a sim.Action) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("step"); err != nil {
		return false, err
	}
	for i := range f.state {
		if i < len(a) {
			f.state[i] += a[i]
		}
	}
	if d, ok := f.Drift[f.steps]; ok {
		for i := range f.state {
			if i < len(d) {
				f.state[i] += d[i]
			}
		}
	}
	idx := f.steps
	f.steps++
	return f.SuccessFrom >= 0 && idx >= f.SuccessFrom, nil
}

// Render fills the image with a color derived from the camera name.
func (f *Fake) Render(ctx context.Context, camera string, width, height int) (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("render:" + camera); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("bad render size %dx%d", width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	c := CameraColor(camera)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

func (f *Fake) State(ctx context.Context) (sim.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_state"); err != nil {
		return nil, err
	}
	return append(sim.State(nil), f.state...), nil
}

func (f *Fake) Model(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_model"); err != nil {
		return "", err
	}
	if f.model != "" {
		return f.model, nil
	}
	return f.LiveModel, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.record("close")
}

func (f *Fake) RefreshState(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("refresh_state")
}

func (f *Fake) SetEpisodeMeta(ctx context.Context, m sim.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("set_ep_meta"); err != nil {
		return err
	}
	f.meta = m
	return nil
}

// NormalizeModel tags the model so tests can see the normalized text was loaded.
func (f *Fake) NormalizeModel(ctx context.Context, model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("edit_model_xml"); err != nil {
		return "", err
	}
	return "<!-- normalized -->" + model, nil
}

func (f *Fake) Viewer() sim.Viewer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewer == nil {
		f.viewer = &Viewer{}
	}
	return f.viewer
}

// Viewer counts lifecycle calls.
type Viewer struct {
	mu      sync.Mutex
	Opens   int
	Updates int
	Closes  int
}

func (v *Viewer) Open(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Opens++
	return nil
}

func (v *Viewer) Update(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Updates++
	return nil
}

func (v *Viewer) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Closes++
	return nil
}

func CameraColor(camera string) color.RGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(camera))
	sum := h.Sum32()
	return color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}
}
