package sim_test

import (
	"context"
	"image"
	"reflect"
	"testing"

	"trajreplay/internal/sim"
	"trajreplay/internal/sim/simtest"
)

// bare implements only the required surface.
type bare struct{ calls []string }

func (b *bare) Reset(context.Context) error { return nil }
func (b *bare) ResetFromModel(context.Context, string) error { return nil }
func (b *bare) ResetPhysics(context.Context) error { return nil }
func (b *bare) SetState(context.Context, sim.State) error { return nil }
func (b *bare) Forward(context.Context) error { return nil }
func (b *bare) Step(context.Context, sim.Action) (bool, error) { return false, nil }
func (b *bare) State(context.Context) (sim.State, error) { return nil, nil }
func (b *bare) Model(context.Context) (string, error) { return "", nil }
func (b *bare) Close() error { return nil }
func (b *bare) Render(context.Context, string, int, int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

// legacy is an older simulator generation: old metadata setter, both refresh hooks.
type legacy struct{ bare }

func (l *legacy) SetAttrsFromEpisodeMeta(context.Context, sim.Metadata) error {
	l.calls = append(l.calls, "set_attrs_from_ep_meta")
	return nil
}
func (l *legacy) RefreshSites(context.Context) error {
	l.calls = append(l.calls, "refresh_sites")
	return nil
}
func (l *legacy) RefreshState(context.Context) error {
	l.calls = append(l.calls, "refresh_state")
	return nil
}

// vetoed implements everything but reports support only for refresh_sites.
type vetoed struct{ legacy }

func (v *vetoed) HasCapability(name string) bool { return name == sim.CapRefreshSites }

func TestNewHandle_BareSimulatorHasNoOptionalCapabilities(t *testing.T) {
	h := sim.NewHandle(&bare{})
	if caps := h.Capabilities(); len(caps) != 0 {
		t.Fatalf("expected no capabilities, got %v", caps)
	}
	ctx := context.Background()
	if err := h.Refresh(ctx); err != nil {
		t.Fatalf("Refresh without capability: %v", err)
	}
	if err := h.SetEpisodeMeta(ctx, sim.Metadata{"lang": "x"}); err != nil {
		t.Fatalf("SetEpisodeMeta without capability: %v", err)
	}
	got, err := h.NormalizeModel(ctx, "<m/>")
	if err != nil || got != "<m/>" {
		t.Fatalf("NormalizeModel identity: got %q err=%v", got, err)
	}
	if _, ok := h.Viewer(); ok {
		t.Fatalf("expected no viewer")
	}
}

func TestNewHandle_PrefersNewerRefreshAndCallsOnlyOne(t *testing.T) {
	l := &legacy{}
	h := sim.NewHandle(l)
	want := []string{sim.CapLegacyEpisodeMeta, sim.CapRefreshState}
	if got := h.Capabilities(); !reflect.DeepEqual(got, want) {
		t.Fatalf("capabilities: got %v want %v", got, want)
	}
	if err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !reflect.DeepEqual(l.calls, []string{"refresh_state"}) {
		t.Fatalf("refresh calls: %v", l.calls)
	}
}

func TestNewHandle_ReporterVetoesUnsupportedMethods(t *testing.T) {
	v := &vetoed{}
	h := sim.NewHandle(v)
	if got := h.Capabilities(); !reflect.DeepEqual(got, []string{sim.CapRefreshSites}) {
		t.Fatalf("capabilities: got %v", got)
	}
	ctx := context.Background()
	_ = h.SetEpisodeMeta(ctx, sim.Metadata{})
	_ = h.Refresh(ctx)
	if !reflect.DeepEqual(v.calls, []string{"refresh_sites"}) {
		t.Fatalf("calls: %v", v.calls)
	}
}

func TestNewHandle_FakeBindsNewestCapabilities(t *testing.T) {
	h := sim.NewHandle(simtest.New())
	want := []string{sim.CapEpisodeMeta, sim.CapRefreshState, sim.CapNormalizeModel, sim.CapViewer}
	if got := h.Capabilities(); !reflect.DeepEqual(got, want) {
		t.Fatalf("capabilities: got %v want %v", got, want)
	}
}

func TestParseMetadata(t *testing.T) {
	m, err := sim.ParseMetadata(nil)
	if err != nil || m == nil || len(m) != 0 {
		t.Fatalf("empty blob: m=%v err=%v", m, err)
	}
	m, err = sim.ParseMetadata([]byte(`{"lang":"pick up the can","layout_id":3}`))
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if m.Instruction() != "pick up the can" {
		t.Fatalf("instruction: %q", m.Instruction())
	}
	m, err = sim.ParseMetadata([]byte(`null`))
	if err != nil || m == nil {
		t.Fatalf("null blob: m=%v err=%v", m, err)
	}
	if _, err := sim.ParseMetadata([]byte(`{`)); err == nil {
		t.Fatalf("expected error for malformed blob")
	}
}
