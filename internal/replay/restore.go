package replay

import (
	"context"
	"fmt"

	"trajreplay/internal/sim"
)

// RestoreRequest describes a state to put the simulator in. Model is present when non-empty,
// State when non-nil; at least one must be.
type RestoreRequest struct {
	Model string
	Meta  sim.Metadata
	State sim.State
}

func (r RestoreRequest) HasModel() bool { return r.Model != "" }

func (r RestoreRequest) HasState() bool { return r.State != nil }

// Restore puts the simulator into the requested state. The call order is fixed:
// metadata, hard reset, model load, physics reset, state injection, refresh.
// Any failure leaves the handle unusable for the rest of the run.
func Restore(ctx context.Context, h *sim.Handle, req RestoreRequest) error {
	if !req.HasModel() && !req.HasState() {
		return fmt.Errorf("%w: %w", ErrRestore, ErrEmptyRestore)
	}
	fail := func(step string, err error) error {
		return fmt.Errorf("%w: %s: %w", ErrRestore, step, err)
	}

	if req.HasModel() {
		meta := req.Meta
		if meta == nil {
			meta = sim.Metadata{}
		}
		if err := h.SetEpisodeMeta(ctx, meta); err != nil {
			return fail("set episode metadata", err)
		}
		if err := h.Reset(ctx); err != nil {
			return fail("reset", err)
		}
		model, err := h.NormalizeModel(ctx, req.Model)
		if err != nil {
			return fail("normalize model", err)
		}
		if err := h.ResetFromModel(ctx, model); err != nil {
			return fail("load model", err)
		}
		if err := h.ResetPhysics(ctx); err != nil {
			return fail("reset physics", err)
		}
	}

	if req.HasState() {
		if err := h.SetState(ctx, req.State); err != nil {
			return fail("set state", err)
		}
		if err := h.Forward(ctx); err != nil {
			return fail("forward", err)
		}
	}

	if err := h.Refresh(ctx); err != nil {
		return fail("refresh", err)
	}
	return nil
}
