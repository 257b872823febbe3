// Package config loads trajreplay run files.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"trajreplay/internal/replay"
)

//go:embed run.schema.json
var runSchema string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("run.schema.json", runSchema)
	})
	return schema, schemaErr
}

// RunConfig mirrors the play command's flags; yaml keys equal flag names.
type RunConfig struct {
	Dataset          string   `yaml:"dataset"`
	FilterKey        string   `yaml:"filter_key"`
	N                int      `yaml:"n"`
	Seed             int64    `yaml:"seed"`
	UseActions       bool     `yaml:"use_actions"`
	UseObs           bool     `yaml:"use_obs"`
	Render           bool     `yaml:"render"`
	VideoPath        string   `yaml:"video_path"`
	VideoSkip        int      `yaml:"video_skip"`
	RenderImageNames []string `yaml:"render_image_names"`
	Width            int      `yaml:"width"`
	Height           int      `yaml:"height"`
	FPS              int      `yaml:"fps"`
	First            bool     `yaml:"first"`
	ExtendStates     bool     `yaml:"extend_states"`
	Verbose          bool     `yaml:"verbose"`
	UseCurrentModel  bool     `yaml:"use_current_model"`

	SimURL       string `yaml:"sim_url"`
	ViewerListen string `yaml:"viewer_listen"`
	Report       string `yaml:"report"`
	MetricsOut   string `yaml:"metrics_out"`
}

func Defaults() RunConfig {
	d := replay.DefaultOptions()
	return RunConfig{
		VideoSkip:        d.VideoSkip,
		RenderImageNames: d.Cameras,
		Width:            d.Width,
		Height:           d.Height,
		FPS:              d.FrameRate,
		SimURL:           "ws://127.0.0.1:8765/sim",
		ViewerListen:     "127.0.0.1:8766",
	}
}

// Load reads a YAML run file on top of Defaults. The document is checked against the
// embedded schema first, so unknown keys and wrong types are rejected with their path.
func Load(path string) (RunConfig, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(raw); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks a YAML document against the run file schema.
func Validate(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile run schema: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	// Round-trip through JSON so the validator sees json.Number values and string keys.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("run file is not representable as JSON: %w", err)
	}
	var v any
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if err := d.Decode(&v); err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", replay.ErrConfig, err)
	}
	return nil
}

// Overlay copies the fields of src whose flag was set on the command line into dst.
func Overlay(dst *RunConfig, src RunConfig, changed func(flag string) bool) {
	set := func(flag string, apply func()) {
		if changed(flag) {
			apply()
		}
	}
	set("dataset", func() { dst.Dataset = src.Dataset })
	set("filter_key", func() { dst.FilterKey = src.FilterKey })
	set("n", func() { dst.N = src.N })
	set("seed", func() { dst.Seed = src.Seed })
	set("use-actions", func() { dst.UseActions = src.UseActions })
	set("use-obs", func() { dst.UseObs = src.UseObs })
	set("render", func() { dst.Render = src.Render })
	set("video_path", func() { dst.VideoPath = src.VideoPath })
	set("video_skip", func() { dst.VideoSkip = src.VideoSkip })
	set("render_image_names", func() { dst.RenderImageNames = src.RenderImageNames })
	set("width", func() { dst.Width = src.Width })
	set("height", func() { dst.Height = src.Height })
	set("fps", func() { dst.FPS = src.FPS })
	set("first", func() { dst.First = src.First })
	set("extend_states", func() { dst.ExtendStates = src.ExtendStates })
	set("verbose", func() { dst.Verbose = src.Verbose })
	set("use_current_model", func() { dst.UseCurrentModel = src.UseCurrentModel })
	set("sim_url", func() { dst.SimURL = src.SimURL })
	set("viewer_listen", func() { dst.ViewerListen = src.ViewerListen })
	set("report", func() { dst.Report = src.Report })
	set("metrics_out", func() { dst.MetricsOut = src.MetricsOut })
}

// Options maps the run file onto driver options and validates them.
func (c RunConfig) Options() (replay.Options, error) {
	if c.Dataset == "" {
		return replay.Options{}, fmt.Errorf("%w: dataset path is required", replay.ErrConfig)
	}
	// Without on-screen rendering, frames always go to a file.
	videoPath := c.VideoPath
	if videoPath == replay.AutoVideoPath || (videoPath == "" && !c.Render) {
		videoPath = replay.DefaultVideoPath(c.Dataset, c.UseActions)
	}
	o := replay.Options{
		FilterKey:    c.FilterKey,
		Limit:        c.N,
		Seed:         c.Seed,
		UseActions:   c.UseActions,
		UseObs:       c.UseObs,
		Screen:       c.Render,
		VideoPath:    videoPath,
		VideoSkip:    c.VideoSkip,
		Cameras:      append([]string(nil), c.RenderImageNames...),
		Width:        c.Width,
		Height:       c.Height,
		FrameRate:    c.FPS,
		FirstOnly:    c.First,
		ExtendStates: c.ExtendStates,
		Verbose:      c.Verbose,
		UseLiveModel: c.UseCurrentModel,
	}
	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}
