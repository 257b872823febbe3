package replay

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ExtendCount is how many copies of the final state extend-last-frame appends.
	ExtendCount = 50
	// ScreenRate is the on-screen pacing target in steps per second.
	ScreenRate = 60

	DefaultCamera    = "agentview"
	DefaultVideoSkip = 5
	DefaultSize      = 512
	DefaultFrameRate = 20

	// AutoVideoPath asks for a video file next to the dataset.
	AutoVideoPath = "auto"
)

type Mode string

const (
	ModeStates       Mode = "states"
	ModeActions      Mode = "actions"
	ModeObservations Mode = "observations"
)

// Options is the run configuration the driver reacts to.
type Options struct {
	FilterKey string
	// Limit caps the number of episodes; a random subsample is taken when set.
	Limit int
	Seed  int64

	UseActions bool
	// UseObs plays stored image observations instead of driving the simulator.
	UseObs bool

	Screen    bool
	VideoPath string
	VideoSkip int
	Cameras   []string
	Width     int
	Height    int
	FrameRate int

	FirstOnly    bool
	ExtendStates bool
	Verbose      bool
	UseLiveModel bool
}

func DefaultOptions() Options {
	return Options{
		VideoSkip: DefaultVideoSkip,
		Cameras:   []string{DefaultCamera},
		Width:     DefaultSize,
		Height:    DefaultSize,
		FrameRate: DefaultFrameRate,
	}
}

func (o Options) Mode() Mode {
	switch {
	case o.UseObs:
		return ModeObservations
	case o.UseActions:
		return ModeActions
	default:
		return ModeStates
	}
}

func (o Options) WritesVideo() bool { return o.VideoPath != "" }

// Validate rejects option combinations that cannot be honored. Errors wrap ErrConfig.
func (o Options) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case o.Screen && o.WritesVideo():
		return bad("on-screen rendering and video output are mutually exclusive")
	case o.UseObs && o.UseActions:
		return bad("observation playback cannot be combined with action replay")
	case o.UseObs && !o.WritesVideo():
		return bad("observation playback requires a video path")
	case o.ExtendStates && o.UseActions:
		return bad("extend-last-frame only applies to state replay")
	case o.VideoSkip < 1:
		return bad("video skip must be >= 1, got %d", o.VideoSkip)
	case len(o.Cameras) == 0:
		return bad("at least one camera is required")
	case o.Screen && len(o.Cameras) != 1:
		return bad("on-screen rendering supports exactly one camera, got %d", len(o.Cameras))
	case o.Limit < 0:
		return bad("episode cap must be >= 0, got %d", o.Limit)
	}
	for _, c := range o.Cameras {
		if strings.TrimSpace(c) == "" {
			return bad("empty camera name")
		}
	}
	if o.WritesVideo() && !o.UseObs {
		if o.Width <= 0 || o.Height <= 0 {
			return bad("render size must be positive, got %dx%d", o.Width, o.Height)
		}
	}
	if o.WritesVideo() && o.FrameRate <= 0 {
		return bad("frame rate must be positive, got %d", o.FrameRate)
	}
	return nil
}

// DefaultVideoPath derives a video path from the dataset path.
func DefaultVideoPath(dataset string, useActions bool) string {
	base := strings.TrimSuffix(dataset, filepath.Ext(dataset))
	if useActions {
		base += "_use_actions"
	}
	return base + ".frames.zst"
}

func screenPeriod() time.Duration { return time.Second / ScreenRate }
