// Package metrics collects replay counters and dumps them in Prometheus text format.
package metrics

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Recorder owns a private registry so concurrent runs in tests do not share counters.
type Recorder struct {
	reg *prometheus.Registry

	steps       *prometheus.CounterVec
	divergences *prometheus.CounterVec
	distance    prometheus.Histogram
	frames      prometheus.Counter
	episodes    *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trajreplay_steps_total",
			Help: "Replay steps executed.",
		}, []string{"mode"}), // states | actions | observations
		divergences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trajreplay_divergence_checks_total",
			Help: "Recorded-vs-simulated state comparisons.",
		}, []string{"exact"}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trajreplay_divergence_distance",
			Help:    "Euclidean distance between recorded and simulated state.",
			Buckets: []float64{0, 1e-9, 1e-6, 1e-4, 1e-3, 1e-2, 0.1, 1, 10},
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trajreplay_frames_written_total",
			Help: "Combined frames appended to the video sink.",
		}),
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trajreplay_episodes_total",
			Help: "Episodes replayed (by mode and outcome).",
		}, []string{"mode", "result"}), // success | no_success | n/a
	}
	r.reg.MustRegister(r.steps, r.divergences, r.distance, r.frames, r.episodes)
	return r
}

func (r *Recorder) ObserveStep(mode string) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(mode).Inc()
}

func (r *Recorder) ObserveDivergence(distance float64, exact bool) {
	if r == nil {
		return
	}
	label := "false"
	if exact {
		label = "true"
	}
	r.divergences.WithLabelValues(label).Inc()
	r.distance.Observe(distance)
}

func (r *Recorder) ObserveFrame() {
	if r == nil {
		return
	}
	r.frames.Inc()
}

// ObserveEpisode records a finished episode. result is "success", "no_success" or "n/a".
func (r *Recorder) ObserveEpisode(mode, result string) {
	if r == nil {
		return
	}
	r.episodes.WithLabelValues(mode, result).Inc()
}

// WritePrometheus writes the registry in text exposition format.
func (r *Recorder) WritePrometheus(w io.Writer) error {
	mfs, err := r.reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile dumps the registry to path (node_exporter textfile style), replacing it atomically.
func (r *Recorder) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
