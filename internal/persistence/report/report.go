// Package report appends one JSON line per replayed episode to a zstd-compressed file.
package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"trajreplay/internal/replay"
)

type Entry struct {
	RunID       string    `json:"run_id"`
	Episode     string    `json:"episode"`
	Mode        string    `json:"mode"`
	Steps       int       `json:"steps"`
	Frames      int       `json:"frames"`
	Success     *bool     `json:"success,omitempty"`
	Checked     int       `json:"checked"`
	Diverged    int       `json:"diverged"`
	MaxDistance float64   `json:"max_distance"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Writer implements replay.EpisodeRecorder. Each run appends its own zstd frame, so a file
// can collect several runs and still be read with a single decoder.
type Writer struct {
	path  string
	runID string
	now   func() time.Time

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

var _ replay.EpisodeRecorder = (*Writer)(nil)

// Open starts a new run in the report file at path. The run id is random.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		path:  path,
		runID: uuid.NewString(),
		now:   time.Now,
		f:     f,
		enc:   enc,
		w:     bufio.NewWriterSize(enc, 64*1024),
	}, nil
}

func (w *Writer) RunID() string { return w.runID }

func (w *Writer) Path() string { return w.path }

func (w *Writer) RecordEpisode(res replay.EpisodeResult) error {
	e := Entry{
		RunID:       w.runID,
		Episode:     res.ID,
		Mode:        string(res.Mode),
		Steps:       res.Steps,
		Frames:      res.Frames,
		Checked:     res.Checked,
		Diverged:    res.Diverged,
		MaxDistance: res.MaxDistance,
		ElapsedMS:   res.Elapsed.Milliseconds(),
		RecordedAt:  w.now().UTC(),
	}
	if res.Mode == replay.ModeActions {
		ok := res.Success
		e.Success = &ok
	}
	return w.Write(e)
}

func (w *Writer) Write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return fmt.Errorf("report %s is closed", w.path)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	errFlush := w.w.Flush()
	errEnc := w.enc.Close()
	errFile := w.f.Close()
	w.w, w.enc, w.f = nil, nil, nil
	return errors.Join(errFlush, errEnc, errFile)
}

// ReadEntries decodes every entry in a report file, across all runs it holds.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	jd := json.NewDecoder(bufio.NewReader(dec))
	for {
		var e Entry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%s: entry %d: %w", path, len(out), err)
		}
		out = append(out, e)
	}
}
