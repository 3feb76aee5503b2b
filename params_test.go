package encoder

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func liveContext() EncodingContext {
	return EncodingContext{
		Codec:              VideoCodecH264,
		FrameRate:          0,
		EstimatedFrameRate: 30,
		Bitrate:            2_000_000,
		Width:              1280,
		Height:             720,
		Preset:             "medium",
	}
}

func TestResolveWithCPUCount(t *testing.T) {
	p := ResolveWithCPUCount(liveContext(), 24)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Codec", p.Codec, VideoCodecH264},
		{"Width", p.Width, 1280},
		{"Height", p.Height, 720},
		{"Framerate", p.Framerate, Rational{30, 1}},
		{"TimeBase", p.TimeBase, Rational{1, 60}},
		{"TicksPerFrame", p.TicksPerFrame, 2},
		{"SampleAspectRatio", p.SampleAspectRatio, Rational{1, 1}},
		{"Bitrate", p.Bitrate, int64(2_000_000)},
		{"MinRate", p.MinRate, int64(2_000_000)},
		{"MaxRate", p.MaxRate, int64(2_000_000)},
		{"RCBufferSize", p.RCBufferSize, int64(1_000_000)},
		{"MaxBFrames", p.MaxBFrames, 0},
		{"GOPSize", p.GOPSize, 30},
		{"MinKeyframeInterval", p.MinKeyframeInterval, 30},
		{"SceneCut", p.SceneCut, false},
		{"OpenGOP", p.OpenGOP, false},
		{"Profile", p.Profile, ProfileMain},
		{"Preset", p.Preset, PresetMedium},
		{"Tune", p.Tune, TuneZeroLatency},
		{"ThreadCount", p.ThreadCount, 8},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestResolve_FrameRateSelection(t *testing.T) {
	tests := []struct {
		name      string
		requested float64
		estimated float64
		wantRate  Rational
		wantGOP   int
	}{
		{"estimate when unset", 0, 30, Rational{30, 1}, 30},
		{"estimate when negative", -1, 25, Rational{25, 1}, 25},
		{"requested wins", 60, 30, Rational{60, 1}, 60},
		{"fractional rounds GOP", 29.97, 0, Rational{2997, 100}, 30},
		{"half rate", 12.5, 0, Rational{25, 2}, 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := liveContext()
			ec.FrameRate = tt.requested
			ec.EstimatedFrameRate = tt.estimated
			p := ResolveWithCPUCount(ec, 8)
			if p.Framerate != tt.wantRate {
				t.Errorf("Framerate = %v, want %v", p.Framerate, tt.wantRate)
			}
			if p.GOPSize != tt.wantGOP || p.MinKeyframeInterval != tt.wantGOP {
				t.Errorf("GOPSize/MinKeyframeInterval = %d/%d, want %d", p.GOPSize, p.MinKeyframeInterval, tt.wantGOP)
			}
			want := tt.wantRate.Mul(Rational{2, 1}).Invert()
			if p.TimeBase != want {
				t.Errorf("TimeBase = %v, want %v", p.TimeBase, want)
			}
		})
	}
}

func TestResolve_ThreadCount(t *testing.T) {
	tests := []struct {
		name     string
		explicit int
		cpus     int
		want     int
	}{
		{"small host clamps up", 0, 6, 4},
		{"single cpu clamps up", 0, 1, 4},
		{"mid host", 0, 18, 6},
		{"large host clamps down", 0, 48, 8},
		{"explicit wins", 2, 48, 2},
		{"explicit above clamp", 16, 4, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := liveContext()
			ec.ThreadCount = tt.explicit
			if got := ResolveWithCPUCount(ec, tt.cpus).ThreadCount; got != tt.want {
				t.Errorf("ThreadCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolve_DoesNotModifyContext(t *testing.T) {
	ec := liveContext()
	before := ec
	_ = ResolveWithCPUCount(ec, 4)
	if ec != before {
		t.Errorf("EncodingContext changed: %+v, want %+v", ec, before)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	a := ResolveWithCPUCount(liveContext(), 12)
	b := ResolveWithCPUCount(liveContext(), 12)
	if a != b {
		t.Errorf("Resolve not deterministic: %+v vs %+v", a, b)
	}
}

func TestResolve_UnknownPresetDefaultsToFaster(t *testing.T) {
	ec := liveContext()
	ec.Preset = "placebo"
	if got := ResolveWithCPUCount(ec, 8).Preset; got != PresetFaster {
		t.Errorf("Preset = %v, want faster", got)
	}
}

func TestCodecParameters_Validate(t *testing.T) {
	valid := ResolveWithCPUCount(liveContext(), 8)

	tests := []struct {
		name    string
		mutate  func(*CodecParameters)
		wantErr bool
	}{
		{"valid", func(*CodecParameters) {}, false},
		{"h265", func(p *CodecParameters) { p.Codec = VideoCodecH265 }, false},
		{"unknown codec", func(p *CodecParameters) { p.Codec = VideoCodecUnknown }, true},
		{"zero width", func(p *CodecParameters) { p.Width = 0 }, true},
		{"odd height", func(p *CodecParameters) { p.Height = 721 }, true},
		{"zero frame rate", func(p *CodecParameters) { p.Framerate = Rational{0, 1} }, true},
		{"zero bitrate", func(p *CodecParameters) { p.Bitrate = 0 }, true},
		{"zero gop", func(p *CodecParameters) { p.GOPSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	p := valid
	p.Codec = VideoCodecUnknown
	if err := p.Validate(); !errors.Is(err, ErrCodecNotFound) {
		t.Errorf("Validate() unknown codec error = %v, want ErrCodecNotFound", err)
	}

	// Below 0.5 fps the keyframe interval rounds to zero.
	slow := liveContext()
	slow.FrameRate = 0.4
	p = ResolveWithCPUCount(slow, 8)
	if p.GOPSize != 0 {
		t.Fatalf("GOPSize at 0.4 fps = %d, want 0", p.GOPSize)
	}
	if err := p.Validate(); err == nil {
		t.Error("Validate() at 0.4 fps error = nil")
	}
}

func TestCodecParameters_CodecOptions(t *testing.T) {
	p := ResolveWithCPUCount(liveContext(), 8)

	if got := p.CodecOptionsKey(); got != "x264-params" {
		t.Errorf("CodecOptionsKey() = %q, want x264-params", got)
	}
	opts := p.CodecOptions()
	for _, want := range []string{"bframes=0", "scenecut=0", "keyint=30", "min-keyint=30", "open-gop=0", "aud=1", "repeat-headers=1"} {
		if !strings.Contains(opts, want) {
			t.Errorf("CodecOptions() = %q, missing %q", opts, want)
		}
	}

	p.Codec = VideoCodecH265
	if got := p.CodecOptionsKey(); got != "x265-params" {
		t.Errorf("CodecOptionsKey() = %q, want x265-params", got)
	}
	opts = p.CodecOptions()
	for _, want := range []string{"no-scenecut=1", "no-open-gop=1", "level-idc=4", "keyint=30"} {
		if !strings.Contains(opts, want) {
			t.Errorf("CodecOptions() = %q, missing %q", opts, want)
		}
	}
}

func TestRationalFromFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want Rational
	}{
		{30, Rational{30, 1}},
		{25, Rational{25, 1}},
		{12.5, Rational{25, 2}},
		{0.5, Rational{1, 2}},
		{0, Rational{0, 1}},
		{-5, Rational{0, 1}},
		{math.NaN(), Rational{0, 1}},
		{2e6, Rational{rationalMax, 1}},
	}

	for _, tt := range tests {
		if got := RationalFromFloat(tt.in, rationalMax); got != tt.want {
			t.Errorf("RationalFromFloat(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	ntsc := RationalFromFloat(30000.0/1001.0, rationalMax)
	if math.Abs(ntsc.Float64()-30000.0/1001.0) > 1e-9 {
		t.Errorf("RationalFromFloat(29.97...) = %v (%v)", ntsc, ntsc.Float64())
	}
}

func TestRational_Reduce(t *testing.T) {
	tests := []struct {
		in   Rational
		want Rational
	}{
		{Rational{2, 120}, Rational{1, 60}},
		{Rational{3, -6}, Rational{-1, 2}},
		{Rational{0, 5}, Rational{0, 1}},
		{Rational{7, 0}, Rational{7, 0}},
	}
	for _, tt := range tests {
		if got := tt.in.Reduce(); got != tt.want {
			t.Errorf("%v.Reduce() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
