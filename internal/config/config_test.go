package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"trajreplay/internal/replay"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_AppliesFileOverDefaults(t *testing.T) {
	p := writeFile(t, `
dataset: /data/demo.sqlite
use_actions: true
video_path: auto
video_skip: 2
render_image_names: [agentview, robot0_eye_in_hand]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Width != 512 || cfg.FPS != 20 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	o, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if o.VideoPath != "/data/demo_use_actions.frames.zst" {
		t.Fatalf("video path: %q", o.VideoPath)
	}
	if o.Mode() != replay.ModeActions || o.VideoSkip != 2 {
		t.Fatalf("options: %+v", o)
	}
	if !reflect.DeepEqual(o.Cameras, []string{"agentview", "robot0_eye_in_hand"}) {
		t.Fatalf("cameras: %v", o.Cameras)
	}
}

func TestLoad_EmptyFileIsDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Defaults()) {
		t.Fatalf("got %+v", cfg)
	}
}

func TestLoad_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "datset: x\n",
		"wrong type":    "video_skip: two\n",
		"zero skip":     "video_skip: 0\n",
		"empty cameras": "render_image_names: []\n",
		"bad sim url":   "sim_url: http://localhost\n",
		"not an object": "- a\n- b\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, body)); !errors.Is(err, replay.ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}

func TestOverlay_OnlyChangedFlags(t *testing.T) {
	dst := Defaults()
	dst.Dataset = "/from/file.sqlite"
	dst.VideoSkip = 3

	src := Defaults()
	src.Dataset = "/from/flag.sqlite"
	src.VideoSkip = 9
	src.Verbose = true

	Overlay(&dst, src, func(flag string) bool { return flag == "video_skip" || flag == "verbose" })
	if dst.Dataset != "/from/file.sqlite" || dst.VideoSkip != 9 || !dst.Verbose {
		t.Fatalf("overlay: %+v", dst)
	}
}

func TestOptions_VideoByDefaultUnlessRendering(t *testing.T) {
	c := Defaults()
	c.Dataset = "/data/demo.sqlite"
	o, err := c.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if o.VideoPath != "/data/demo.frames.zst" || o.Screen {
		t.Fatalf("headless default: video=%q screen=%v", o.VideoPath, o.Screen)
	}

	c.Render = true
	if o, err = c.Options(); err != nil {
		t.Fatalf("Options: %v", err)
	}
	if o.VideoPath != "" || !o.Screen {
		t.Fatalf("render: video=%q screen=%v", o.VideoPath, o.Screen)
	}
}

func TestOptions_ConfigErrors(t *testing.T) {
	base := Defaults()
	base.Dataset = "/d.sqlite"

	cases := map[string]func(c *RunConfig){
		"no dataset":         func(c *RunConfig) { c.Dataset = "" },
		"screen and file":    func(c *RunConfig) { c.Render = true; c.VideoPath = "/tmp/o.frames.zst" },
		"obs and actions":    func(c *RunConfig) { c.UseObs = true; c.UseActions = true; c.VideoPath = "auto" },
		"obs on screen":      func(c *RunConfig) { c.UseObs = true; c.Render = true },
		"extend and actions": func(c *RunConfig) { c.ExtendStates = true; c.UseActions = true },
		"screen two cams":    func(c *RunConfig) { c.Render = true; c.RenderImageNames = []string{"a", "b"} },
	}
	for name, mut := range cases {
		c := base
		c.RenderImageNames = append([]string(nil), base.RenderImageNames...)
		mut(&c)
		if _, err := c.Options(); !errors.Is(err, replay.ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}
