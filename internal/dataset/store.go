// Package dataset reads and writes the indexed episode container (a single sqlite file).
package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"os"

	_ "modernc.org/sqlite"

	"trajreplay/internal/encoding"
)

var (
	ErrEpisodeNotFound     = errors.New("episode not found")
	ErrUnknownFilter       = errors.New("unknown filter key")
	ErrObservationNotFound = errors.New("observation not found")
	ErrNotImage            = errors.New("observation is not an image modality")
)

// Episode is one recorded demonstration. Actions is nil when none were stored.
type Episode struct {
	ID      string
	States  [][]float64
	Actions [][]float64
	Model   string
	Meta    []byte
}

func (e Episode) Len() int { return len(e.States) }

// EnvArgs describes how the recording environment was constructed.
type EnvArgs struct {
	EnvName   string         `json:"env_name"`
	Type      int            `json:"type"`
	EnvKwargs map[string]any `json:"env_kwargs"`
}

// Observation is a stored per-step array for one observation key.
type Observation struct {
	Key      string
	Modality Modality
	encoding.FrameBlock
}

// Frame returns step i as an RGBA image. 1-channel data is expanded to gray, 3-channel to opaque RGB.
func (o Observation) Frame(i int) (*image.RGBA, error) {
	if i < 0 || i >= o.Count {
		return nil, fmt.Errorf("%s: frame %d out of range [0,%d)", o.Key, i, o.Count)
	}
	if o.Channels != 1 && o.Channels != 3 && o.Channels != 4 {
		return nil, fmt.Errorf("%s: unsupported channel count %d", o.Key, o.Channels)
	}
	img := image.NewRGBA(image.Rect(0, 0, o.Width, o.Height))
	src := o.Pix[i*o.FrameSize() : (i+1)*o.FrameSize()]
	for p := 0; p < o.Height*o.Width; p++ {
		px := src[p*o.Channels : (p+1)*o.Channels]
		dst := img.Pix[p*4 : p*4+4]
		switch o.Channels {
		case 1:
			dst[0], dst[1], dst[2], dst[3] = px[0], px[0], px[0], 0xff
		case 3:
			dst[0], dst[1], dst[2], dst[3] = px[0], px[1], px[2], 0xff
		case 4:
			copy(dst, px)
		}
	}
	return img, nil
}

// Store is a read-only view of a container file.
type Store struct {
	db         *sql.DB
	path       string
	modalities *Modalities
}

func Open(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty dataset path")
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initPragmas(db, readerPragmas); err != nil {
		_ = db.Close()
		return nil, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='episodes'`).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read container schema: %w", err)
	}
	if n == 0 {
		_ = db.Close()
		return nil, fmt.Errorf("%s: not an episode container (no episodes table)", path)
	}
	return &Store{db: db, path: path, modalities: NewModalities(logger)}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

// ListEpisodes returns all episode ids, or the ids in the named subset, sorted by numeric suffix.
// Storage order is never trusted.
func (s *Store) ListEpisodes(ctx context.Context, filterKey string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filterKey == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT id FROM episodes`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT episode_id FROM masks WHERE filter_key = ?`, filterKey)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if filterKey != "" && len(ids) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, filterKey)
	}
	SortEpisodeIDs(ids)
	return ids, nil
}

// FilterKeys lists the named subsets stored in the container.
func (s *Store) FilterKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT filter_key FROM masks ORDER BY filter_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Episode(ctx context.Context, id string) (Episode, error) {
	ep := Episode{ID: id}
	var (
		meta    sql.NullString
		states  []byte
		actions []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT model, ep_meta, states, actions FROM episodes WHERE id = ?`, id,
	).Scan(&ep.Model, &meta, &states, &actions)
	if errors.Is(err, sql.ErrNoRows) {
		return ep, fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	if err != nil {
		return ep, fmt.Errorf("%s: %w", id, err)
	}
	if meta.Valid {
		ep.Meta = []byte(meta.String)
	}
	if ep.States, err = encoding.DecodeMatrix(states); err != nil {
		return ep, fmt.Errorf("%s: states: %w", id, err)
	}
	if actions != nil {
		if ep.Actions, err = encoding.DecodeMatrix(actions); err != nil {
			return ep, fmt.Errorf("%s: actions: %w", id, err)
		}
	}
	return ep, nil
}

// EnvArgs returns the recording environment description; ok is false if none is stored.
func (s *Store) EnvArgs(ctx context.Context) (args EnvArgs, ok bool, err error) {
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'env_args'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return args, false, nil
	}
	if err != nil {
		return args, false, err
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return args, false, fmt.Errorf("env_args: %w", err)
	}
	return args, true, nil
}

// ObservationKeys lists the stored observation keys of an episode with their modality.
func (s *Store) ObservationKeys(ctx context.Context, id string) (map[string]Modality, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM observations WHERE episode_id = ? ORDER BY key`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Modality{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out[k] = s.modalities.Of(k)
	}
	return out, rows.Err()
}

// Observation loads an image observation array. Non-image keys are rejected.
func (s *Store) Observation(ctx context.Context, id, key string) (Observation, error) {
	obs := Observation{Key: key, Modality: s.modalities.Of(key)}
	if !obs.Modality.IsImage() {
		return obs, fmt.Errorf("%w: %s is %s", ErrNotImage, key, obs.Modality)
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM observations WHERE episode_id = ? AND key = ?`, id, key,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return obs, fmt.Errorf("%w: %s/obs/%s", ErrObservationNotFound, id, key)
	}
	if err != nil {
		return obs, err
	}
	if obs.FrameBlock, err = encoding.DecodeFrames(blob); err != nil {
		return obs, fmt.Errorf("%s/obs/%s: %w", id, key, err)
	}
	return obs, nil
}
