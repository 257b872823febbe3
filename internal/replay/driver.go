package replay

import (
	"context"
	"fmt"
	"image"

	"trajreplay/internal/frame"
	"trajreplay/internal/sim"
)

// playEpisode replays one episode through the simulator by state injection or action replay.
func (r *Runner) playEpisode(ctx context.Context, st *run, id string) (res EpisodeResult, err error) {
	opts := st.opts
	res = EpisodeResult{ID: id, Mode: opts.Mode()}
	started := r.cfg.Now()
	defer func() { res.Elapsed = r.cfg.Now().Sub(started) }()

	h := r.cfg.Sim
	r.cfg.Printer.Progress("Playing back episode: %s", id)

	ep, err := r.cfg.Store.Episode(ctx, id)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrResource, err)
	}
	meta, err := sim.ParseMetadata(ep.Meta)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrRestore, id, err)
	}
	if opts.Verbose {
		if instr := meta.Instruction(); instr != "" {
			r.cfg.Printer.Instruction(instr)
		}
	}

	states := ep.States
	if len(states) == 0 {
		r.cfg.Printer.Warn("episode %s has no recorded states; skipping", id)
		return res, nil
	}
	if opts.ExtendStates {
		states = extend(states, ExtendCount)
	}
	if opts.UseActions && len(ep.Actions) != len(states) {
		return res, fmt.Errorf("%w: episode %s has %d actions for %d states", ErrResource, id, len(ep.Actions), len(states))
	}

	model := ep.Model
	if opts.UseLiveModel {
		if model, err = h.Model(ctx); err != nil {
			return res, fmt.Errorf("%w: read live model: %w", ErrRestore, err)
		}
	}
	if err := Restore(ctx, h, RestoreRequest{Model: model, Meta: meta, State: states[0]}); err != nil {
		return res, fmt.Errorf("episode %s: %w", id, err)
	}

	if st.viewer != nil {
		if err := st.viewer.Open(ctx); err != nil {
			return res, fmt.Errorf("episode %s: open viewer: %w", id, err)
		}
		defer func() {
			if cerr := st.viewer.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("episode %s: close viewer: %w", id, cerr)
			}
		}()
	}

	n := len(states)
	for i := 0; i < n; i++ {
		stepStart := r.cfg.Now()

		if opts.UseActions {
			ok, err := h.Step(ctx, ep.Actions[i])
			if err != nil {
				return res, fmt.Errorf("episode %s: step %d: %w", id, i, err)
			}
			res.Success = res.Success || ok
			if i < n-1 {
				cur, err := h.State(ctx)
				if err != nil {
					return res, fmt.Errorf("episode %s: read state after step %d: %w", id, i, err)
				}
				d := Compare(states[i+1], cur)
				d.Step = i + 1
				r.observeDivergence(&res, d, opts.Verbose || i == n-2)
			}
		} else {
			if err := Restore(ctx, h, RestoreRequest{State: states[i]}); err != nil {
				return res, fmt.Errorf("episode %s: step %d: %w", id, i, err)
			}
		}
		r.cfg.Metrics.ObserveStep(string(res.Mode))
		res.Steps++

		if st.shouldWrite() {
			img, err := r.renderCameras(ctx, opts)
			if err != nil {
				return res, fmt.Errorf("episode %s: step %d: %w", id, i, err)
			}
			if err := st.sink.Write(img); err != nil {
				return res, fmt.Errorf("%w: write frame: %w", ErrResource, err)
			}
			res.Frames++
			r.cfg.Metrics.ObserveFrame()
		}

		if st.viewer != nil {
			if err := st.viewer.Update(ctx); err != nil {
				return res, fmt.Errorf("episode %s: viewer update: %w", id, err)
			}
			if wait := screenPeriod() - r.cfg.Now().Sub(stepStart); wait > 0 {
				r.cfg.Sleep(wait)
			}
		}

		if opts.FirstOnly {
			break
		}
	}

	if opts.UseActions && !res.Success {
		r.cfg.Printer.Fail("Episode %s did not reach success during action replay", id)
	}
	return res, nil
}

func (r *Runner) observeDivergence(res *EpisodeResult, d Divergence, loud bool) {
	res.Checked++
	if d.Distance > res.MaxDistance {
		res.MaxDistance = d.Distance
	}
	if !d.ExactMatch {
		res.Diverged++
		if loud {
			r.cfg.Printer.Warn("warning: playback diverged by %g at step %d", d.Distance, d.Step)
		}
	}
	r.cfg.Metrics.ObserveDivergence(d.Distance, d.ExactMatch)
	if r.cfg.OnDivergence != nil {
		r.cfg.OnDivergence(res.ID, d)
	}
}

// renderCameras renders every configured camera in order and concatenates them side by side.
func (r *Runner) renderCameras(ctx context.Context, opts Options) (*image.RGBA, error) {
	imgs := make([]image.Image, 0, len(opts.Cameras))
	for _, cam := range opts.Cameras {
		img, err := r.cfg.Sim.Render(ctx, cam, opts.Width, opts.Height)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", cam, err)
		}
		imgs = append(imgs, img)
	}
	return frame.Combine(imgs)
}

// extend appends n copies of the final state.
func extend(states [][]float64, n int) [][]float64 {
	out := make([][]float64, 0, len(states)+n)
	out = append(out, states...)
	last := states[len(states)-1]
	for i := 0; i < n; i++ {
		out = append(out, append([]float64(nil), last...))
	}
	return out
}
