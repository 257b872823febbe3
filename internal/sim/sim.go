// Package sim describes the simulator capability surface consumed by the replay engine.
// The physics engine itself lives elsewhere (see package remote for the websocket bridge).
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
)

// State is a flattened physics snapshot. Its layout belongs to the simulator; callers only
// compare states element-wise or by distance.
type State []float64

// Action is one control input for a single simulator step.
type Action []float64

// Metadata is the free-form per-episode metadata blob.
type Metadata map[string]any

// ParseMetadata decodes a metadata blob. An empty blob yields an empty, non-nil Metadata.
func ParseMetadata(blob []byte) (Metadata, error) {
	m := Metadata{}
	if len(blob) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("episode metadata: %w", err)
	}
	if m == nil {
		m = Metadata{}
	}
	return m, nil
}

// Instruction returns the natural-language instruction ("lang"), if any.
func (m Metadata) Instruction() string {
	s, _ := m["lang"].(string)
	return s
}

// Simulator is the required capability set.
type Simulator interface {
	// Reset performs a full structural reset to the baseline scene.
	Reset(ctx context.Context) error
	// ResetFromModel loads a scene description and rebuilds the simulation around it.
	ResetFromModel(ctx context.Context, model string) error
	// ResetPhysics resets the low-level physics engine so that reads after a model load are valid.
	ResetPhysics(ctx context.Context) error
	SetState(ctx context.Context, s State) error
	// Forward propagates derived quantities (body poses, sites) from the current state.
	Forward(ctx context.Context) error
	// Step applies one action and reports whether the task success condition holds afterwards.
	Step(ctx context.Context, a Action) (success bool, err error)
	// Render returns a top-down RGBA image from the named camera.
	Render(ctx context.Context, camera string, width, height int) (*image.RGBA, error)
	State(ctx context.Context) (State, error)
	// Model returns the scene description currently loaded in the simulator.
	Model(ctx context.Context) (string, error)
	Close() error
}

// Optional capabilities. Simulator generations differ in which of these they expose.
type (
	StateRefresher interface {
		RefreshState(ctx context.Context) error
	}
	SiteRefresher interface {
		RefreshSites(ctx context.Context) error
	}
	EpisodeMetaSetter interface {
		SetEpisodeMeta(ctx context.Context, m Metadata) error
	}
	LegacyEpisodeMetaSetter interface {
		SetAttrsFromEpisodeMeta(ctx context.Context, m Metadata) error
	}
	ModelNormalizer interface {
		NormalizeModel(ctx context.Context, model string) (string, error)
	}
	ViewerProvider interface {
		Viewer() Viewer
	}
	// CapabilityReporter lets a simulator whose Go type implements every optional method
	// (e.g. a remote proxy) report which ones its peer actually supports.
	CapabilityReporter interface {
		HasCapability(name string) bool
	}
)

// Viewer is an on-screen renderer driven once per replay step.
type Viewer interface {
	Open(ctx context.Context) error
	Update(ctx context.Context) error
	Close() error
}

// Capability names, shared with the remote protocol.
const (
	CapRefreshState      = "refresh_state"
	CapRefreshSites      = "refresh_sites"
	CapEpisodeMeta       = "set_ep_meta"
	CapLegacyEpisodeMeta = "set_attrs_from_ep_meta"
	CapNormalizeModel    = "edit_model_xml"
	CapViewer            = "viewer"
)
