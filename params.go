package encoder

import (
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
)

const (
	// ticksPerFrame is the number of time-base ticks per displayed frame.
	// H.264/H.265 timestamps are field-granular.
	ticksPerFrame = 2

	// rationalMax bounds numerator and denominator when a float frame rate
	// is turned into a Rational.
	rationalMax = 1_000_000

	minAutoThreads = 4
	maxAutoThreads = 8
)

// Rational is a fraction Num/Den.
type Rational struct {
	Num int
	Den int
}

// Float64 returns the value of the fraction, 0 if Den is 0.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Invert returns Den/Num.
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

// Mul returns r*o reduced to lowest terms.
func (r Rational) Mul(o Rational) Rational {
	return Rational{Num: r.Num * o.Num, Den: r.Den * o.Den}.Reduce()
}

// Reduce returns the fraction in lowest terms with a positive denominator.
func (r Rational) Reduce() Rational {
	if r.Den == 0 {
		return r
	}
	g := gcd(abs(r.Num), abs(r.Den))
	if g == 0 {
		return Rational{Num: 0, Den: 1}
	}
	if r.Den < 0 {
		g = -g
	}
	return Rational{Num: r.Num / g, Den: r.Den / g}
}

func (r Rational) String() string {
	return strconv.Itoa(r.Num) + "/" + strconv.Itoa(r.Den)
}

// RationalFromFloat approximates f with a fraction whose numerator and
// denominator do not exceed max, using continued-fraction convergents.
// Non-positive and NaN inputs yield 0/1.
func RationalFromFloat(f float64, max int) Rational {
	if math.IsNaN(f) || f <= 0 {
		return Rational{Num: 0, Den: 1}
	}
	if f >= float64(max) {
		return Rational{Num: max, Den: 1}
	}

	h0, h1 := 0, 1
	k0, k1 := 1, 0
	x := f
	for i := 0; i < 64; i++ {
		a := int(math.Floor(x))
		h2 := a*h1 + h0
		k2 := a*k1 + k0
		if h2 > max || k2 > max {
			break
		}
		h0, h1 = h1, h2
		k0, k1 = k1, k2

		frac := x - float64(a)
		if frac < 1e-9 {
			break
		}
		x = 1 / frac
	}
	if k1 == 0 {
		return Rational{Num: max, Den: 1}
	}
	return Rational{Num: h1, Den: k1}
}

// EncodingContext is the generic request an encoder is configured from.
// It is not modified once passed to Configure.
type EncodingContext struct {
	Codec              VideoCodec
	FrameRate          float64 // Requested rate, <= 0 means use EstimatedFrameRate
	EstimatedFrameRate float64 // Rate measured upstream
	Bitrate            int64   // Target bitrate in bits per second
	Width              int
	Height             int
	Preset             string // slower|slow|medium|fast|faster
	ThreadCount        int    // 0 = derive from CPU count
	PixelFormat        PixelFormat
}

// CodecParameters is the concrete parameter set a CodecSession is opened with.
type CodecParameters struct {
	Codec       VideoCodec
	Width       int
	Height      int
	PixelFormat PixelFormat

	Framerate         Rational
	TimeBase          Rational
	TicksPerFrame     int
	SampleAspectRatio Rational

	// Constant bitrate: Bitrate == MinRate == MaxRate.
	Bitrate      int64
	MinRate      int64
	MaxRate      int64
	RCBufferSize int64

	MaxBFrames          int
	GOPSize             int
	MinKeyframeInterval int
	SceneCut            bool
	OpenGOP             bool

	Profile     Profile
	Preset      Preset
	Tune        Tune
	ThreadCount int
}

// Resolve derives codec parameters for ec using the host CPU count.
func Resolve(ec EncodingContext) CodecParameters {
	return ResolveWithCPUCount(ec, runtime.NumCPU())
}

// ResolveWithCPUCount derives codec parameters for ec. cpus is only consulted
// when ec.ThreadCount is not positive.
func ResolveWithCPUCount(ec EncodingContext, cpus int) CodecParameters {
	fps := ec.FrameRate
	if fps <= 0 {
		fps = ec.EstimatedFrameRate
	}

	framerate := RationalFromFloat(fps, rationalMax)
	timeBase := framerate.Mul(Rational{Num: ticksPerFrame, Den: 1}).Invert()

	gop := int(math.Round(fps))

	threads := ec.ThreadCount
	if threads <= 0 {
		threads = min(max(cpus/3, minAutoThreads), maxAutoThreads)
	}

	return CodecParameters{
		Codec:       ec.Codec,
		Width:       ec.Width,
		Height:      ec.Height,
		PixelFormat: ec.PixelFormat,

		Framerate:         framerate,
		TimeBase:          timeBase,
		TicksPerFrame:     ticksPerFrame,
		SampleAspectRatio: Rational{Num: 1, Den: 1},

		Bitrate:      ec.Bitrate,
		MinRate:      ec.Bitrate,
		MaxRate:      ec.Bitrate,
		RCBufferSize: ec.Bitrate / 2,

		MaxBFrames:          0,
		GOPSize:             gop,
		MinKeyframeInterval: gop,
		SceneCut:            false,
		OpenGOP:             false,

		Profile:     ProfileMain,
		Preset:      ParsePreset(ec.Preset),
		Tune:        TuneZeroLatency,
		ThreadCount: threads,
	}
}

// Validate reports parameters no session can be opened with.
func (p CodecParameters) Validate() error {
	switch {
	case p.Codec != VideoCodecH264 && p.Codec != VideoCodecH265:
		return fmt.Errorf("%w: %s", ErrCodecNotFound, p.Codec)
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("invalid dimensions %dx%d", p.Width, p.Height)
	case p.Width%2 != 0 || p.Height%2 != 0:
		return fmt.Errorf("dimensions %dx%d must be even for 4:2:0", p.Width, p.Height)
	case p.Framerate.Num <= 0 || p.Framerate.Den <= 0:
		return fmt.Errorf("invalid frame rate %s", p.Framerate)
	case p.Bitrate <= 0:
		return fmt.Errorf("invalid bitrate %d", p.Bitrate)
	case p.GOPSize <= 0:
		return fmt.Errorf("keyframe interval %d from frame rate %s must be > 0", p.GOPSize, p.Framerate)
	}
	return nil
}

// FrameDuration returns the duration of one frame in time-base ticks.
func (p CodecParameters) FrameDuration() int64 {
	return int64(p.TicksPerFrame)
}

// CodecOptions renders the codec-private option string (x264-params or
// x265-params) that pins the GOP structure.
func (p CodecParameters) CodecOptions() string {
	var opts []string
	switch p.Codec {
	case VideoCodecH265:
		opts = []string{
			"bframes=0",
			"no-scenecut=1",
			"keyint=" + strconv.Itoa(p.GOPSize),
			"min-keyint=" + strconv.Itoa(p.MinKeyframeInterval),
			"level-idc=4",
			"no-open-gop=1",
			"aud=1",
			"repeat-headers=1",
		}
	default:
		opts = []string{
			"bframes=0",
			"scenecut=0",
			"keyint=" + strconv.Itoa(p.GOPSize),
			"min-keyint=" + strconv.Itoa(p.MinKeyframeInterval),
			"open-gop=0",
			"aud=1",
			"repeat-headers=1",
		}
	}
	return strings.Join(opts, ":")
}

// CodecOptionsKey returns the libavcodec private option that carries
// CodecOptions.
func (p CodecParameters) CodecOptionsKey() string {
	if p.Codec == VideoCodecH265 {
		return "x265-params"
	}
	return "x264-params"
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
