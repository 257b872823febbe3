package replay

import (
	"context"
	"fmt"
	"image"

	"trajreplay/internal/dataset"
	"trajreplay/internal/frame"
)

// ObservationKey maps a camera name to its stored observation key. Names that already carry
// an image modality suffix are used as is.
func ObservationKey(camera string) string {
	if dataset.ModalityOf(camera).IsImage() {
		return camera
	}
	return camera + "_image"
}

// playObservations writes the stored camera observations of one episode to the sink. The
// episode length is taken from the first camera.
func (r *Runner) playObservations(ctx context.Context, st *run, id string) (res EpisodeResult, err error) {
	opts := st.opts
	res = EpisodeResult{ID: id, Mode: ModeObservations}
	started := r.cfg.Now()
	defer func() { res.Elapsed = r.cfg.Now().Sub(started) }()

	r.cfg.Printer.Progress("Playing back episode: %s", id)

	streams := make([]dataset.Observation, 0, len(opts.Cameras))
	for _, cam := range opts.Cameras {
		obs, err := r.cfg.Store.Observation(ctx, id, ObservationKey(cam))
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrResource, err)
		}
		streams = append(streams, obs)
	}
	n := streams[0].Count
	for _, s := range streams[1:] {
		if s.Count < n {
			return res, fmt.Errorf("%w: episode %s: %s has %d frames, %s has %d", ErrResource, id, s.Key, s.Count, streams[0].Key, n)
		}
	}

	for i := 0; i < n; i++ {
		r.cfg.Metrics.ObserveStep(string(res.Mode))
		res.Steps++
		if st.shouldWrite() {
			imgs := make([]image.Image, 0, len(streams))
			for _, s := range streams {
				img, err := s.Frame(i)
				if err != nil {
					return res, fmt.Errorf("episode %s: %w", id, err)
				}
				imgs = append(imgs, img)
			}
			out, err := frame.Combine(imgs)
			if err != nil {
				return res, fmt.Errorf("episode %s: step %d: %w", id, i, err)
			}
			if err := st.sink.Write(out); err != nil {
				return res, fmt.Errorf("%w: write frame: %w", ErrResource, err)
			}
			res.Frames++
			r.cfg.Metrics.ObserveFrame()
		}
		if opts.FirstOnly {
			break
		}
	}
	return res, nil
}
