package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	codecOnce sync.Once
	codecErr  error
	zenc      *zstd.Encoder
	zdec      *zstd.Decoder
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		zenc, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		zdec, codecErr = zstd.NewReader(nil)
	})
	return zenc, zdec, codecErr
}

// maxDim bounds every decoded header dimension.
const maxDim = math.MaxInt32

// EncodeMatrix packs a row-major float64 matrix into a zstd blob.
// Layout before compression: uvarint(rows) uvarint(cols) then rows*cols little-endian float64.
// All rows must have the same, non-zero length.
func EncodeMatrix(rows [][]float64) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
		if cols == 0 {
			return nil, fmt.Errorf("matrix has %d rows of zero width", len(rows))
		}
	}

	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(rows)))
	buf.Write(tmp[:n])
	n = binary.PutUvarint(tmp[:], uint64(cols))
	buf.Write(tmp[:n])

	var word [8]byte
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("ragged matrix: row %d has %d columns, want %d", i, len(row), cols)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint64(word[:], math.Float64bits(v))
			buf.Write(word[:])
		}
	}
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

func DecodeMatrix(blob []byte) ([][]float64, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, err
	}
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	rows, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, fmt.Errorf("bad row count")
	}
	raw = raw[n:]
	cols, n := binary.Uvarint(raw)
	if n <= 0 {
		return nil, fmt.Errorf("bad column count")
	}
	raw = raw[n:]
	if rows > maxDim || cols > maxDim {
		return nil, fmt.Errorf("matrix header %dx%d out of range", rows, cols)
	}
	if rows > 0 && cols == 0 {
		return nil, fmt.Errorf("matrix header has %d rows of zero width", rows)
	}
	if cols > 0 && rows > uint64(len(raw))/(8*cols) {
		return nil, fmt.Errorf("matrix header %dx%d exceeds %d payload bytes", rows, cols, len(raw))
	}
	if uint64(len(raw)) != rows*cols*8 {
		return nil, fmt.Errorf("matrix payload is %d bytes, want %d", len(raw), rows*cols*8)
	}

	out := make([][]float64, rows)
	for i := range out {
		row := make([]float64, cols)
		for j := range row {
			row[j] = math.Float64frombits(binary.LittleEndian.Uint64(raw))
			raw = raw[8:]
		}
		out[i] = row
	}
	return out, nil
}

// FrameBlock is a stack of equally-sized 8-bit images, frame-major then row-major (HWC).
type FrameBlock struct {
	Count    int
	Height   int
	Width    int
	Channels int
	Pix      []byte
}

func (b FrameBlock) FrameSize() int { return b.Height * b.Width * b.Channels }

func EncodeFrames(b FrameBlock) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, err
	}
	if b.Count < 0 || b.Height < 0 || b.Width < 0 || b.Channels < 0 {
		return nil, fmt.Errorf("negative frame dimensions")
	}
	if len(b.Pix) != b.Count*b.FrameSize() {
		return nil, fmt.Errorf("frame payload is %d bytes, want %d", len(b.Pix), b.Count*b.FrameSize())
	}

	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte
	for _, v := range []int{b.Count, b.Height, b.Width, b.Channels} {
		n := binary.PutUvarint(tmp[:], uint64(v))
		buf.Write(tmp[:n])
	}
	buf.Write(b.Pix)
	return enc.EncodeAll(buf.Bytes(), nil), nil
}

func DecodeFrames(blob []byte) (FrameBlock, error) {
	var b FrameBlock
	_, dec, err := codecs()
	if err != nil {
		return b, err
	}
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return b, fmt.Errorf("zstd: %w", err)
	}
	dims := [4]uint64{}
	for i := range dims {
		v, n := binary.Uvarint(raw)
		if n <= 0 {
			return b, fmt.Errorf("bad varint in frame header field %d", i)
		}
		if v > maxDim {
			return b, fmt.Errorf("frame header field %d is %d, out of range", i, v)
		}
		dims[i] = v
		raw = raw[n:]
	}
	// The product is checked against the payload before any int conversion can overflow.
	need := uint64(1)
	for _, d := range dims {
		if d == 0 {
			need = 0
			break
		}
		if need > uint64(len(raw))/d {
			return b, fmt.Errorf("frame header %v exceeds %d payload bytes", dims, len(raw))
		}
		need *= d
	}
	if need != uint64(len(raw)) {
		return b, fmt.Errorf("frame payload is %d bytes, want %d", len(raw), need)
	}
	b.Count, b.Height, b.Width, b.Channels = int(dims[0]), int(dims[1]), int(dims[2]), int(dims[3])
	b.Pix = raw
	return b, nil
}
