package encoder

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// PatternType selects the image drawn by a PatternSource.
type PatternType int

const (
	PatternColorBars    PatternType = iota // 75% color bars
	PatternGradient                        // Horizontal luma ramp
	PatternCheckerboard                    // Scrolling checkerboard
	PatternNoise                           // Luma noise
	PatternMovingBox                       // White box circling the center
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "bars"
	case PatternGradient:
		return "gradient"
	case PatternCheckerboard:
		return "checkerboard"
	case PatternNoise:
		return "noise"
	case PatternMovingBox:
		return "box"
	default:
		return "unknown"
	}
}

// ParsePatternType parses a pattern name as printed by String.
func ParsePatternType(s string) (PatternType, error) {
	for p := PatternColorBars; p <= PatternMovingBox; p++ {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return PatternColorBars, fmt.Errorf("unknown pattern %q", s)
}

// PatternConfig configures a PatternSource.
type PatternConfig struct {
	Width     int
	Height    int
	FrameRate float64
	Pattern   PatternType
	Frames    int  // Frames to produce before io.EOF (0 = unlimited)
	Realtime  bool // Pace ReadFrame to the frame rate
}

// PatternSource generates synthetic I420 frames. Every frame is freshly
// allocated, so frames can be handed to Encoder.Enqueue directly.
type PatternSource struct {
	config   PatternConfig
	interval time.Duration
	index    int
	start    time.Time
	rng      uint64
}

// NewPatternSource creates a source. Zero dimensions default to 1280x720
// and a zero rate to 30 fps; odd dimensions are rounded down to even.
func NewPatternSource(config PatternConfig) *PatternSource {
	if config.Width <= 0 {
		config.Width = 1280
	}
	if config.Height <= 0 {
		config.Height = 720
	}
	config.Width &^= 1
	config.Height &^= 1
	if config.FrameRate <= 0 {
		config.FrameRate = 30
	}
	return &PatternSource{
		config:   config,
		interval: time.Duration(float64(time.Second) / config.FrameRate),
		rng:      0x9E3779B97F4A7C15,
	}
}

// Config returns the effective configuration.
func (s *PatternSource) Config() PatternConfig {
	return s.config
}

// ReadFrame returns the next frame, or io.EOF once Frames frames were
// produced. In realtime mode it blocks until the frame is due.
func (s *PatternSource) ReadFrame(ctx context.Context) (*MediaFrame, error) {
	if s.config.Frames > 0 && s.index >= s.config.Frames {
		return nil, io.EOF
	}
	ts := int64(float64(s.index) * float64(time.Second) / s.config.FrameRate)

	if s.config.Realtime {
		if s.index == 0 {
			s.start = time.Now()
		}
		if wait := time.Until(s.start.Add(time.Duration(ts))); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}

	f := NewI420Frame(s.config.Width, s.config.Height, ts)
	f.Duration = int64(s.interval)
	s.draw(f)
	s.index++
	return f, nil
}

func (s *PatternSource) draw(f *MediaFrame) {
	switch s.config.Pattern {
	case PatternGradient:
		drawGradient(f)
	case PatternCheckerboard:
		drawCheckerboard(f, s.index)
	case PatternNoise:
		s.drawNoise(f)
	case PatternMovingBox:
		drawMovingBox(f, s.index)
	default:
		drawColorBars(f)
	}
}

var colorBarsRGB = [8][3]uint8{
	{192, 192, 192},
	{192, 192, 0},
	{0, 192, 192},
	{0, 192, 0},
	{192, 0, 192},
	{192, 0, 0},
	{0, 0, 192},
	{16, 16, 16},
}

func drawColorBars(f *MediaFrame) {
	barWidth := max(f.Width/len(colorBarsRGB), 1)
	for x := 0; x < f.Width; x++ {
		bar := min(x/barWidth, len(colorBarsRGB)-1)
		rgb := colorBarsRGB[bar]
		y, u, v := rgbToYUV(rgb[0], rgb[1], rgb[2])
		fillColumn(f, x, y, u, v)
	}
}

func drawGradient(f *MediaFrame) {
	for x := 0; x < f.Width; x++ {
		fillColumn(f, x, uint8(x*255/f.Width), 128, 128)
	}
}

// fillColumn paints column x of the luma plane and, on even columns, the
// matching chroma column.
func fillColumn(f *MediaFrame, x int, y, u, v uint8) {
	for row := 0; row < f.Height; row++ {
		f.Data[0][row*f.Stride[0]+x] = y
	}
	if x%2 != 0 {
		return
	}
	for row := 0; row < (f.Height+1)/2; row++ {
		f.Data[1][row*f.Stride[1]+x/2] = u
		f.Data[2][row*f.Stride[2]+x/2] = v
	}
}

const checkerSize = 32

func drawCheckerboard(f *MediaFrame, index int) {
	for row := 0; row < f.Height; row++ {
		for x := 0; x < f.Width; x++ {
			luma := uint8(16)
			if ((x+index)/checkerSize+row/checkerSize)%2 == 0 {
				luma = 235
			}
			f.Data[0][row*f.Stride[0]+x] = luma
		}
	}
	fillChroma(f)
}

// drawNoise fills luma with xorshift64 output.
func (s *PatternSource) drawNoise(f *MediaFrame) {
	for i := range f.Data[0] {
		s.rng ^= s.rng << 13
		s.rng ^= s.rng >> 7
		s.rng ^= s.rng << 17
		f.Data[0][i] = uint8(s.rng)
	}
	fillChroma(f)
}

func drawMovingBox(f *MediaFrame, index int) {
	w, h := f.Width, f.Height
	for i := range f.Data[0] {
		f.Data[0][i] = 16
	}
	fillChroma(f)

	box := max(min(w, h)/7, 2)
	radius := float64(min(w, h)) / 4
	angle := float64(index) * 0.05
	bx := w/2 + int(radius*math.Cos(angle)) - box/2
	by := h/2 + int(radius*math.Sin(angle)) - box/2

	for row := max(by, 0); row < min(by+box, h); row++ {
		for x := max(bx, 0); x < min(bx+box, w); x++ {
			f.Data[0][row*f.Stride[0]+x] = 235
		}
	}
}

func fillChroma(f *MediaFrame) {
	for i := range f.Data[1] {
		f.Data[1][i] = 128
		f.Data[2][i] = 128
	}
}

// rgbToYUV converts RGB to limited-range BT.601 YUV.
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	yf := 16 + 65.481*rf + 128.553*gf + 24.966*bf
	uf := 128 - 37.797*rf - 74.203*gf + 112.0*bf
	vf := 128 + 112.0*rf - 93.786*gf - 18.214*bf
	return uint8(clampFloat(yf, 16, 235)), uint8(clampFloat(uf, 16, 240)), uint8(clampFloat(vf, 16, 240))
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
