package sim

import "context"

// Handle wraps a Simulator with its optional capabilities resolved once at construction.
// Every later call goes through a fixed function reference; nothing is probed per step.
type Handle struct {
	Simulator

	setMeta   func(context.Context, Metadata) error
	normalize func(context.Context, string) (string, error)
	refresh   func(context.Context) error
	viewer    Viewer
	caps      []string
}

func NewHandle(s Simulator) *Handle {
	h := &Handle{Simulator: s}
	reporter, _ := s.(CapabilityReporter)
	supported := func(name string) bool {
		return reporter == nil || reporter.HasCapability(name)
	}

	// Newer entry points win over their legacy names; at most one of each pair is bound.
	if v, ok := s.(EpisodeMetaSetter); ok && supported(CapEpisodeMeta) {
		h.setMeta = v.SetEpisodeMeta
		h.caps = append(h.caps, CapEpisodeMeta)
	} else if v, ok := s.(LegacyEpisodeMetaSetter); ok && supported(CapLegacyEpisodeMeta) {
		h.setMeta = v.SetAttrsFromEpisodeMeta
		h.caps = append(h.caps, CapLegacyEpisodeMeta)
	}

	if v, ok := s.(StateRefresher); ok && supported(CapRefreshState) {
		h.refresh = v.RefreshState
		h.caps = append(h.caps, CapRefreshState)
	} else if v, ok := s.(SiteRefresher); ok && supported(CapRefreshSites) {
		h.refresh = v.RefreshSites
		h.caps = append(h.caps, CapRefreshSites)
	}

	if v, ok := s.(ModelNormalizer); ok && supported(CapNormalizeModel) {
		h.normalize = v.NormalizeModel
		h.caps = append(h.caps, CapNormalizeModel)
	}

	if v, ok := s.(ViewerProvider); ok && supported(CapViewer) {
		if vw := v.Viewer(); vw != nil {
			h.viewer = vw
			h.caps = append(h.caps, CapViewer)
		}
	}
	return h
}

// SetEpisodeMeta attaches episode metadata, or does nothing if the simulator has no such entry point.
func (h *Handle) SetEpisodeMeta(ctx context.Context, m Metadata) error {
	if h.setMeta == nil {
		return nil
	}
	return h.setMeta(ctx, m)
}

// NormalizeModel applies the simulator's version-specific model rewrite, if it has one.
func (h *Handle) NormalizeModel(ctx context.Context, model string) (string, error) {
	if h.normalize == nil {
		return model, nil
	}
	return h.normalize(ctx, model)
}

// Refresh runs the simulator's state/sites refresh hook, if it has one.
func (h *Handle) Refresh(ctx context.Context) error {
	if h.refresh == nil {
		return nil
	}
	return h.refresh(ctx)
}

// Viewer returns the simulator's own on-screen viewer, if any.
func (h *Handle) Viewer() (Viewer, bool) {
	return h.viewer, h.viewer != nil
}

// Capabilities lists the optional capabilities that were bound, in resolution order.
func (h *Handle) Capabilities() []string {
	return append([]string(nil), h.caps...)
}
