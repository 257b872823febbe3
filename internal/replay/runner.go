// Package replay replays recorded episodes against a simulator and checks the result.
package replay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math/rand"
	"time"

	"trajreplay/internal/console"
	"trajreplay/internal/dataset"
	"trajreplay/internal/metrics"
	"trajreplay/internal/sim"
)

// EpisodeSource is the read side of an episode container.
type EpisodeSource interface {
	ListEpisodes(ctx context.Context, filterKey string) ([]string, error)
	Episode(ctx context.Context, id string) (dataset.Episode, error)
	Observation(ctx context.Context, id, key string) (dataset.Observation, error)
}

// FrameSink receives combined output frames.
type FrameSink interface {
	Write(frame *image.RGBA) error
	Close() error
}

// EpisodeRecorder persists one summary per replayed episode.
type EpisodeRecorder interface {
	RecordEpisode(res EpisodeResult) error
}

type Config struct {
	Store EpisodeSource
	// Sim may be nil for observation playback only.
	Sim *sim.Handle
	// Viewer drives on-screen output. When nil the simulator's own viewer is used.
	Viewer   sim.Viewer
	OpenSink func(path string, fps int) (FrameSink, error)

	Log     *log.Logger
	Printer *console.Printer
	Metrics *metrics.Recorder
	Report  EpisodeRecorder
	// OnDivergence observes every checked transition during action replay.
	OnDivergence func(episode string, d Divergence)

	Sleep func(time.Duration)
	Now   func() time.Time
}

// EpisodeResult summarizes one replayed episode.
type EpisodeResult struct {
	ID      string
	Mode    Mode
	Steps   int
	Frames  int
	Success bool
	// Checked counts compared transitions; Diverged those that were not an exact match.
	Checked     int
	Diverged    int
	MaxDistance float64
	Elapsed     time.Duration
}

type Summary struct {
	Episodes []EpisodeResult
	Frames   int
	// VideoPath is set when frames were written to a file.
	VideoPath string
}

type Runner struct {
	cfg Config
}

func New(cfg Config) *Runner {
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{cfg: cfg}
}

// run holds the state shared by every episode of one Run call.
type run struct {
	opts   Options
	sink   FrameSink
	viewer sim.Viewer
	// videoCount advances once per step and restarts at every episode; a frame is written
	// when it is a multiple of VideoSkip, so step 0 of each episode is always sampled.
	videoCount int
}

// Run replays the selected episodes in order. Configuration errors are returned before any
// episode is touched; any simulator failure aborts the run. The sink is closed on every path.
func (r *Runner) Run(ctx context.Context, opts Options) (sum Summary, err error) {
	if err := opts.Validate(); err != nil {
		return sum, err
	}
	if r.cfg.Store == nil {
		return sum, fmt.Errorf("%w: no episode store", ErrResource)
	}
	if !opts.UseObs && r.cfg.Sim == nil {
		return sum, fmt.Errorf("%w: no simulator", ErrResource)
	}
	if opts.WritesVideo() && r.cfg.OpenSink == nil {
		return sum, fmt.Errorf("%w: no video sink available", ErrConfig)
	}

	st := &run{opts: opts}
	if opts.Screen {
		st.viewer = r.cfg.Viewer
		if st.viewer == nil {
			if v, ok := r.cfg.Sim.Viewer(); ok {
				st.viewer = v
			}
		}
		if st.viewer == nil {
			return sum, fmt.Errorf("%w: on-screen rendering requested but no viewer is available", ErrConfig)
		}
	}

	ids, err := r.cfg.Store.ListEpisodes(ctx, opts.FilterKey)
	if err != nil {
		if errors.Is(err, dataset.ErrUnknownFilter) {
			return sum, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		return sum, fmt.Errorf("%w: list episodes: %w", ErrResource, err)
	}
	ids = sample(ids, opts.Limit, opts.Seed)

	if opts.WritesVideo() {
		sink, err := r.cfg.OpenSink(opts.VideoPath, opts.FrameRate)
		if err != nil {
			return sum, fmt.Errorf("%w: open video %s: %w", ErrResource, opts.VideoPath, err)
		}
		st.sink = sink
		defer func() {
			if cerr := sink.Close(); cerr != nil {
				err = errors.Join(err, fmt.Errorf("%w: close video: %w", ErrResource, cerr))
				return
			}
			if err == nil {
				sum.VideoPath = opts.VideoPath
				r.cfg.Printer.Saved(opts.VideoPath)
			}
		}()
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		var res EpisodeResult
		st.videoCount = 0
		if opts.UseObs {
			res, err = r.playObservations(ctx, st, id)
		} else {
			res, err = r.playEpisode(ctx, st, id)
		}
		if err != nil {
			return sum, err
		}
		sum.Episodes = append(sum.Episodes, res)
		sum.Frames += res.Frames
		r.finish(res)
	}
	return sum, nil
}

func (r *Runner) finish(res EpisodeResult) {
	outcome := "n/a"
	if res.Mode == ModeActions {
		outcome = "no_success"
		if res.Success {
			outcome = "success"
		}
	}
	r.cfg.Metrics.ObserveEpisode(string(res.Mode), outcome)
	if r.cfg.Report != nil {
		if err := r.cfg.Report.RecordEpisode(res); err != nil {
			r.cfg.Printer.Warn("could not record report for %s: %v", res.ID, err)
		}
	}
	if r.cfg.Log != nil {
		r.cfg.Log.Printf("episode %s: mode=%s steps=%d frames=%d checked=%d diverged=%d max_dist=%g elapsed=%s",
			res.ID, res.Mode, res.Steps, res.Frames, res.Checked, res.Diverged, res.MaxDistance, res.Elapsed.Round(time.Millisecond))
	}
}

// sample shuffles and truncates ids when limit caps them; otherwise ids are returned as is.
func sample(ids []string, limit int, seed int64) []string {
	if limit <= 0 || limit >= len(ids) {
		return ids
	}
	out := append([]string(nil), ids...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out[:limit]
}

// shouldWrite reports whether the current step produces a video frame, then advances the count.
func (st *run) shouldWrite() bool {
	if st.sink == nil {
		return false
	}
	w := st.videoCount%st.opts.VideoSkip == 0
	st.videoCount++
	return w
}
