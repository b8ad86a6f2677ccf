package vsi

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	// Still decodes these formats.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"

	"github.com/vsi-examples/vsistream/pkg/pixfmt"
)

// Sensor register layout.
const (
	RegControl    = 0
	RegChannels   = 1
	RegSampleBits = 2
	RegSampleRate = 3

	ControlEnable uint32 = 1 << 0
)

// IntLines reads whitespace-separated integer rows from a text file, one
// row per block. Each value is stored little-endian in SAMPLE_BITS/8 bytes
// and the rest of the block is zero. At end of file the reader rewinds
// unless Once is set.
//
// The file is opened when the CONTROL enable bit is set and closed when it
// is cleared, or explicitly with Open and Close.
type IntLines struct {
	Path string

	// Prime makes the first read after Open return an all-zero block.
	Prime bool

	// Once ends the stream at end of file instead of rewinding.
	Once bool

	mu          sync.Mutex
	f           *os.File
	r           *bufio.Reader
	primed      bool
	sampleBytes int
}

// NewIntLines creates an IntLines model over path.
func NewIntLines(path string) *IntLines {
	return &IntLines{Path: path, sampleBytes: 1}
}

// Open opens the data file.
func (m *IntLines) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f != nil {
		return nil
	}
	f, err := os.Open(m.Path)
	if err != nil {
		return fmt.Errorf("vsi: open data file: %w", err)
	}
	m.f = f
	m.r = bufio.NewReader(f)
	m.primed = !m.Prime
	return nil
}

// Close closes the data file.
func (m *IntLines) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f, m.r = nil, nil
	return err
}

// WriteReg tracks CONTROL and SAMPLE_BITS.
func (m *IntLines) WriteReg(index int, value uint32) {
	switch index {
	case RegControl:
		if value&ControlEnable != 0 {
			m.Open()
		} else {
			m.Close()
		}
	case RegSampleBits:
		m.mu.Lock()
		m.sampleBytes = max(int((value+7)/8), 1)
		m.mu.Unlock()
	}
}

// ReadData fills p with the next row.
func (m *IntLines) ReadData(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return fmt.Errorf("vsi: data file %s not open", m.Path)
	}
	clear(p)
	if !m.primed {
		m.primed = true
		return nil
	}
	row, err := m.nextRow()
	if err != nil {
		return err
	}
	n := m.sampleBytes
	for i, v := range row {
		off := i * n
		if off+n > len(p) {
			break
		}
		switch n {
		case 1:
			p[off] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(p[off:], uint16(v))
		case 3, 4:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(v))
			copy(p[off:off+n], b[:n])
		}
	}
	return nil
}

func (m *IntLines) nextRow() ([]int64, error) {
	rewound := false
	for {
		line, err := m.r.ReadString('\n')
		if fields := strings.Fields(line); len(fields) > 0 {
			row := make([]int64, 0, len(fields))
			for _, s := range fields {
				v, perr := strconv.ParseInt(s, 0, 64)
				if perr != nil {
					return nil, fmt.Errorf("vsi: parse %q: %w", s, perr)
				}
				row = append(row, v)
			}
			return row, nil
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		if m.Once || rewound {
			return nil, io.EOF
		}
		if _, err := m.f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		m.r.Reset(m.f)
		rewound = true
	}
}

// WriteData is not supported.
func (m *IntLines) WriteData([]byte) error { return ErrDirection }

// RawFrames reads fixed-size raw frames from a reader. A short final frame
// ends the stream. If Loop is set and the reader is an io.Seeker, it
// rewinds instead.
type RawFrames struct {
	FrameSize int
	Loop      bool

	r      io.Reader
	closer io.Closer
}

// NewRawFrames creates a RawFrames model over r. If r is an io.Closer it
// is closed with the model.
func NewRawFrames(r io.Reader, frameSize int) *RawFrames {
	m := &RawFrames{FrameSize: frameSize, r: r}
	if c, ok := r.(io.Closer); ok {
		m.closer = c
	}
	return m
}

// OpenRawFrames opens a raw frame file.
func OpenRawFrames(path string, frameSize int) (*RawFrames, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vsi: open raw frames: %w", err)
	}
	return NewRawFrames(f, frameSize), nil
}

// ReadData reads the next frame into p. Bytes of p past FrameSize are
// zeroed.
func (m *RawFrames) ReadData(p []byte) error {
	n := min(m.FrameSize, len(p))
	clear(p[n:])
	_, err := io.ReadFull(m.r, p[:n])
	if err == nil {
		return nil
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	s, ok := m.r.(io.Seeker)
	if !m.Loop || !ok {
		return io.EOF
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(m.r, p[:n]); err != nil {
		return io.EOF
	}
	return nil
}

// WriteData is not supported.
func (m *RawFrames) WriteData([]byte) error { return ErrDirection }

// Close closes the underlying reader.
func (m *RawFrames) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// Still delivers one image, converted to a raw frame, Repeat times
// (at least once) and then ends the stream.
type Still struct {
	Repeat int

	frame []byte
	sent  int
}

// NewStill converts img to a w×h frame in format f.
func NewStill(img image.Image, f pixfmt.Format, w, h int) (*Still, error) {
	frame := make([]byte, pixfmt.FrameSize(f, w, h))
	if err := pixfmt.Encode(frame, img, f, w, h); err != nil {
		return nil, err
	}
	return &Still{frame: frame}, nil
}

// LoadStill decodes a PNG, JPEG or BMP file and converts it.
func LoadStill(path string, f pixfmt.Format, w, h int) (*Still, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vsi: open image: %w", err)
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("vsi: decode image %s: %w", path, err)
	}
	return NewStill(img, f, w, h)
}

// ReadData copies the frame into p.
func (m *Still) ReadData(p []byte) error {
	if m.sent >= max(m.Repeat, 1) {
		return io.EOF
	}
	m.sent++
	n := copy(p, m.frame)
	clear(p[n:])
	return nil
}

// WriteData is not supported.
func (m *Still) WriteData([]byte) error { return ErrDirection }

var barColors = []color.RGBA{
	{0xFF, 0xFF, 0xFF, 0xFF},
	{0xFF, 0xFF, 0x00, 0xFF},
	{0x00, 0xFF, 0xFF, 0xFF},
	{0x00, 0xFF, 0x00, 0xFF},
	{0xFF, 0x00, 0xFF, 0xFF},
	{0xFF, 0x00, 0x00, 0xFF},
	{0x00, 0x00, 0xFF, 0xFF},
	{0x00, 0x00, 0x00, 0xFF},
}

// Pattern generates colour bars with a black marker square that moves one
// step per frame. Frames limits the number of frames; zero is endless.
type Pattern struct {
	Frames int

	format pixfmt.Format
	img    *image.RGBA
	bars   []byte
	n      int
}

// NewPattern creates a w×h pattern source in format f.
func NewPattern(f pixfmt.Format, w, h int) (*Pattern, error) {
	if pixfmt.FrameSize(f, w, h) == 0 {
		return nil, fmt.Errorf("vsi: pattern: %w: %v %dx%d", pixfmt.ErrFormat, f, w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		c := barColors[x*len(barColors)/w]
		for y := 0; y < h; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	bars := make([]byte, len(img.Pix))
	copy(bars, img.Pix)
	return &Pattern{format: f, img: img, bars: bars}, nil
}

// ReadData renders the next frame into p.
func (m *Pattern) ReadData(p []byte) error {
	if m.Frames > 0 && m.n >= m.Frames {
		return io.EOF
	}
	b := m.img.Bounds()
	copy(m.img.Pix, m.bars)
	side := max(min(b.Dx(), b.Dy())/8, 1)
	span := max(b.Dx()-side, 1)
	x0 := (m.n * max(side/2, 1)) % span
	y0 := (b.Dy() - side) / 2
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			m.img.SetRGBA(x, y, color.RGBA{A: 0xFF})
		}
	}
	m.n++
	clear(p)
	return pixfmt.Encode(p, m.img, m.format, b.Dx(), b.Dy())
}

// WriteData is not supported.
func (m *Pattern) WriteData([]byte) error { return ErrDirection }

// Output is the model of an output peripheral: each block moved out of
// memory is handed to fn. The block is only valid during the call.
type Output struct {
	fn func([]byte) error
}

// NewOutput creates an Output model.
func NewOutput(fn func([]byte) error) *Output {
	return &Output{fn: fn}
}

// ReadData is not supported.
func (m *Output) ReadData([]byte) error { return ErrDirection }

// WriteData forwards p.
func (m *Output) WriteData(p []byte) error { return m.fn(p) }
