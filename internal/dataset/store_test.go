package dataset

import (
	"bytes"
	"context"
	"errors"
	"log"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"trajreplay/internal/encoding"
)

func writeFixture(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "demos.sqlite")

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	if err := w.SetEnvArgs(ctx, EnvArgs{EnvName: "TwoArmThreading", Type: 1, EnvKwargs: map[string]any{"control_freq": 20.0}}); err != nil {
		t.Fatalf("SetEnvArgs: %v", err)
	}
	// Inserted out of numeric order on purpose.
	for _, id := range []string{"demo_10", "demo_2", "demo_1"} {
		ep := Episode{
			ID:      id,
			States:  [][]float64{{0, 1}, {2, 3}},
			Actions: [][]float64{{0.5}, {0.25}},
			Model:   "<mujoco model=\"" + id + "\"/>",
			Meta:    []byte(`{"lang":"thread the needle"}`),
		}
		if id == "demo_1" {
			ep.Actions = nil
			ep.Meta = nil
		}
		if err := w.PutEpisode(ctx, ep); err != nil {
			t.Fatalf("PutEpisode %s: %v", id, err)
		}
	}
	if err := w.PutMask(ctx, "train", "demo_10", "demo_1"); err != nil {
		t.Fatalf("PutMask: %v", err)
	}
	block := encoding.FrameBlock{Count: 2, Height: 1, Width: 2, Channels: 3, Pix: []byte{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}}
	if err := w.PutObservation(ctx, "demo_2", "agentview_image", block); err != nil {
		t.Fatalf("PutObservation: %v", err)
	}
	low := encoding.FrameBlock{Count: 2, Height: 1, Width: 3, Channels: 1, Pix: make([]byte, 6)}
	if err := w.PutObservation(ctx, "demo_2", "robot0_eef_pos", low); err != nil {
		t.Fatalf("PutObservation: %v", err)
	}
	return path
}

func openFixture(t *testing.T, logger *log.Logger) *Store {
	t.Helper()
	s, err := Open(context.Background(), writeFixture(t), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ListEpisodesSortedRegardlessOfStorageOrder(t *testing.T) {
	s := openFixture(t, nil)
	ids, err := s.ListEpisodes(context.Background(), "")
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if want := []string{"demo_1", "demo_2", "demo_10"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("got %v want %v", ids, want)
	}
}

func TestStore_ListEpisodesWithFilterKey(t *testing.T) {
	s := openFixture(t, nil)
	ctx := context.Background()
	ids, err := s.ListEpisodes(ctx, "train")
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if want := []string{"demo_1", "demo_10"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("got %v want %v", ids, want)
	}
	if _, err := s.ListEpisodes(ctx, "valid"); !errors.Is(err, ErrUnknownFilter) {
		t.Fatalf("expected ErrUnknownFilter, got %v", err)
	}
	keys, err := s.FilterKeys(ctx)
	if err != nil || !reflect.DeepEqual(keys, []string{"train"}) {
		t.Fatalf("FilterKeys: %v err=%v", keys, err)
	}
}

func TestStore_Episode(t *testing.T) {
	s := openFixture(t, nil)
	ctx := context.Background()

	ep, err := s.Episode(ctx, "demo_2")
	if err != nil {
		t.Fatalf("Episode: %v", err)
	}
	if ep.Len() != 2 || !reflect.DeepEqual(ep.States[1], []float64{2, 3}) {
		t.Fatalf("states: %v", ep.States)
	}
	if !reflect.DeepEqual(ep.Actions, [][]float64{{0.5}, {0.25}}) {
		t.Fatalf("actions: %v", ep.Actions)
	}
	if ep.Model != `<mujoco model="demo_2"/>` || string(ep.Meta) != `{"lang":"thread the needle"}` {
		t.Fatalf("model/meta: %q %q", ep.Model, ep.Meta)
	}

	bare, err := s.Episode(ctx, "demo_1")
	if err != nil {
		t.Fatalf("Episode demo_1: %v", err)
	}
	if bare.Actions != nil || bare.Meta != nil {
		t.Fatalf("expected no actions/meta, got %v %q", bare.Actions, bare.Meta)
	}

	if _, err := s.Episode(ctx, "demo_404"); !errors.Is(err, ErrEpisodeNotFound) {
		t.Fatalf("expected ErrEpisodeNotFound, got %v", err)
	}
}

func TestStore_EnvArgs(t *testing.T) {
	s := openFixture(t, nil)
	args, ok, err := s.EnvArgs(context.Background())
	if err != nil || !ok {
		t.Fatalf("EnvArgs: ok=%v err=%v", ok, err)
	}
	if args.EnvName != "TwoArmThreading" || args.EnvKwargs["control_freq"] != 20.0 {
		t.Fatalf("unexpected env args: %+v", args)
	}
}

func TestStore_ObservationFrames(t *testing.T) {
	var logs bytes.Buffer
	s := openFixture(t, log.New(&logs, "", 0))
	ctx := context.Background()

	obs, err := s.Observation(ctx, "demo_2", "agentview_image")
	if err != nil {
		t.Fatalf("Observation: %v", err)
	}
	img, err := obs.Frame(1)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if c := img.RGBAAt(1, 0); c.R != 10 || c.G != 11 || c.B != 12 || c.A != 0xff {
		t.Fatalf("pixel: %v", c)
	}
	if _, err := obs.Frame(2); err == nil {
		t.Fatalf("expected out-of-range error")
	}

	if _, err := s.Observation(ctx, "demo_2", "robot0_eef_pos"); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	if _, err := s.Observation(ctx, "demo_10", "agentview_image"); !errors.Is(err, ErrObservationNotFound) {
		t.Fatalf("expected ErrObservationNotFound, got %v", err)
	}

	keys, err := s.ObservationKeys(ctx, "demo_2")
	if err != nil {
		t.Fatalf("ObservationKeys: %v", err)
	}
	if keys["agentview_image"] != RGB || keys["robot0_eef_pos"] != LowDim {
		t.Fatalf("keys: %v", keys)
	}
	if logs.Len() != 0 {
		t.Fatalf("declared keys should not log: %q", logs.String())
	}
}

func TestOpen_RejectsMissingOrForeignFiles(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, filepath.Join(t.TempDir(), "nope.sqlite"), nil); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Open(ctx, t.TempDir(), nil); err == nil {
		t.Fatalf("expected error for directory")
	}
}

func TestModalities_LogsUnseenKeyOnce(t *testing.T) {
	var logs bytes.Buffer
	m := NewModalities(log.New(&logs, "", 0))
	for i := 0; i < 3; i++ {
		if got := m.Of("gripper_contact"); got != LowDim {
			t.Fatalf("Of: got %v", got)
		}
	}
	if n := strings.Count(logs.String(), "gripper_contact"); n != 1 {
		t.Fatalf("expected one diagnostic, got %d: %q", n, logs.String())
	}
	if ModalityOf("frontview_image") != RGB || ModalityOf("frontview_depth") != Depth || ModalityOf("lidar_scan") != Scan {
		t.Fatalf("suffix classification broken")
	}
}
