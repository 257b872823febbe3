package replay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log"
	"testing"
	"time"

	"trajreplay/internal/console"
	"trajreplay/internal/dataset"
	"trajreplay/internal/sim"
	"trajreplay/internal/sim/simtest"
)

type memStore struct {
	episodes map[string]dataset.Episode
	masks    map[string][]string
	obs      map[string]map[string]dataset.Observation
	listed   int
}

func newMemStore(eps ...dataset.Episode) *memStore {
	s := &memStore{episodes: map[string]dataset.Episode{}, masks: map[string][]string{}, obs: map[string]map[string]dataset.Observation{}}
	for _, ep := range eps {
		s.episodes[ep.ID] = ep
	}
	return s
}

func (s *memStore) ListEpisodes(ctx context.Context, filterKey string) ([]string, error) {
	s.listed++
	var ids []string
	if filterKey == "" {
		for id := range s.episodes {
			ids = append(ids, id)
		}
	} else {
		m, ok := s.masks[filterKey]
		if !ok {
			return nil, fmt.Errorf("%w: %q", dataset.ErrUnknownFilter, filterKey)
		}
		ids = append(ids, m...)
	}
	dataset.SortEpisodeIDs(ids)
	return ids, nil
}

func (s *memStore) Episode(ctx context.Context, id string) (dataset.Episode, error) {
	ep, ok := s.episodes[id]
	if !ok {
		return ep, fmt.Errorf("%w: %s", dataset.ErrEpisodeNotFound, id)
	}
	return ep, nil
}

func (s *memStore) Observation(ctx context.Context, id, key string) (dataset.Observation, error) {
	o, ok := s.obs[id][key]
	if !ok {
		return o, fmt.Errorf("%w: %s/obs/%s", dataset.ErrObservationNotFound, id, key)
	}
	return o, nil
}

type memSink struct {
	frames []*image.RGBA
	closed int
}

func (m *memSink) Write(f *image.RGBA) error {
	m.frames = append(m.frames, f)
	return nil
}

func (m *memSink) Close() error {
	m.closed++
	return nil
}

// fakeClock only moves when something sleeps or advances it.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

type harness struct {
	fake    *simtest.Fake
	store   *memStore
	sink    *memSink
	opened  int
	clock   *fakeClock
	logs    bytes.Buffer
	records []Divergence
	runner  *Runner
}

func newHarness(t *testing.T, store *memStore, mut func(*Config)) *harness {
	t.Helper()
	h := &harness{
		fake:  simtest.New(),
		store: store,
		sink:  &memSink{},
		clock: &fakeClock{now: time.Unix(1700000000, 0)},
	}
	cfg := Config{
		Store: store,
		Sim:   sim.NewHandle(h.fake),
		OpenSink: func(path string, fps int) (FrameSink, error) {
			h.opened++
			return h.sink, nil
		},
		Printer:      console.New(log.New(&h.logs, "", 0)),
		OnDivergence: func(ep string, d Divergence) { h.records = append(h.records, d) },
		Sleep:        h.clock.Sleep,
		Now:          h.clock.Now,
	}
	if mut != nil {
		mut(&cfg)
	}
	h.runner = New(cfg)
	return h
}

func (h *harness) count(call string) int {
	n := 0
	for _, c := range h.fake.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// linearEpisode has n states [i, 0] and unit actions along x, so action replay reproduces it exactly.
func linearEpisode(id string, n int) dataset.Episode {
	ep := dataset.Episode{ID: id, Model: `<mujoco model="` + id + `"/>`, Meta: []byte(`{"lang":"push the block"}`)}
	for i := 0; i < n; i++ {
		ep.States = append(ep.States, []float64{float64(i), 0})
		ep.Actions = append(ep.Actions, []float64{1, 0})
	}
	return ep
}
