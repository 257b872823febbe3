// Package videosink writes and reads replay frame streams.
//
// A stream is one zstd frame holding a JSON header line followed by raw,
// row-major RGB frames of identical size.
package videosink

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const (
	Version  = 1
	Channels = 3
)

var ErrFrameSize = errors.New("frame size differs from stream header")

type Header struct {
	Version   int `json:"version"`
	FrameRate int `json:"frame_rate"`
	Width     int `json:"width"`
	Height    int `json:"height"`
	Channels  int `json:"channels"`
}

func (h Header) FrameBytes() int { return h.Width * h.Height * h.Channels }

// Writer appends frames to a stream file. The header is written with the first frame,
// so an episode set that produces no frames leaves an empty (but valid zstd) file.
type Writer struct {
	path string
	fps  int

	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer

	hdr    *Header
	frames int
	buf    []byte
}

func Create(path string, fps int) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("empty video path")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", fps)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithZeroFrames(true))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		path: path,
		fps:  fps,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 256*1024),
	}, nil
}

func (w *Writer) Path() string { return w.path }

// Frames reports how many frames were appended.
func (w *Writer) Frames() int { return w.frames }

func (w *Writer) Write(img *image.RGBA) error {
	if w.w == nil {
		return fmt.Errorf("video sink closed")
	}
	b := img.Bounds()
	if w.hdr == nil {
		h := Header{Version: Version, FrameRate: w.fps, Width: b.Dx(), Height: b.Dy(), Channels: Channels}
		hb, _ := json.Marshal(h)
		if _, err := w.w.Write(hb); err != nil {
			return err
		}
		if err := w.w.WriteByte('\n'); err != nil {
			return err
		}
		w.hdr = &h
		w.buf = make([]byte, h.FrameBytes())
	}
	if b.Dx() != w.hdr.Width || b.Dy() != w.hdr.Height {
		return fmt.Errorf("%w: got %dx%d want %dx%d", ErrFrameSize, b.Dx(), b.Dy(), w.hdr.Width, w.hdr.Height)
	}
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			w.buf[n], w.buf[n+1], w.buf[n+2] = row[x*4], row[x*4+1], row[x*4+2]
			n += 3
		}
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	w.frames++
	return nil
}

func (w *Writer) Close() error {
	if w.w == nil {
		return nil
	}
	errFlush := w.w.Flush()
	errEnc := w.enc.Close()
	errFile := w.f.Close()
	w.w, w.enc, w.f = nil, nil, nil
	return errors.Join(errFlush, errEnc, errFile)
}

// Reader iterates a stream written by Writer.
type Reader struct {
	f   *os.File
	dec *zstd.Decoder
	br  *bufio.Reader

	hdr   Header
	empty bool
	buf   []byte
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r := &Reader{f: f, dec: dec, br: bufio.NewReaderSize(dec, 256*1024)}

	line, err := r.br.ReadBytes('\n')
	switch {
	case errors.Is(err, io.EOF) && len(line) == 0:
		r.empty = true
		return r, nil
	case err != nil:
		r.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &r.hdr); err != nil {
		r.Close()
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if r.hdr.Version != Version || r.hdr.Channels != Channels || r.hdr.Width <= 0 || r.hdr.Height <= 0 {
		r.Close()
		return nil, fmt.Errorf("unsupported stream header %+v", r.hdr)
	}
	r.buf = make([]byte, r.hdr.FrameBytes())
	return r, nil
}

// Header returns the stream header; ok is false for a stream with no frames.
func (r *Reader) Header() (Header, bool) { return r.hdr, !r.empty }

// Next returns the next frame, or io.EOF after the last one.
func (r *Reader) Next() (*image.RGBA, error) {
	if r.empty {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(r.br, r.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame: %w", err)
		}
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, r.hdr.Width, r.hdr.Height))
	for p := 0; p < r.hdr.Width*r.hdr.Height; p++ {
		img.Pix[p*4], img.Pix[p*4+1], img.Pix[p*4+2], img.Pix[p*4+3] = r.buf[p*3], r.buf[p*3+1], r.buf[p*3+2], 0xff
	}
	return img, nil
}

func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
