package encoder

// VideoCodec identifies the output codec of an encoder session.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecH264
	VideoCodecH265
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "H264"
	case VideoCodecH265:
		return "H265"
	default:
		return "Unknown"
	}
}

// Supported reports whether sessions can be opened for c.
func (c VideoCodec) Supported() bool {
	return c == VideoCodecH264 || c == VideoCodecH265
}

// ParseVideoCodec parses a codec name as written in configuration files.
func ParseVideoCodec(s string) VideoCodec {
	switch s {
	case "h264", "H264", "avc", "AVC":
		return VideoCodecH264
	case "h265", "H265", "hevc", "HEVC":
		return VideoCodecH265
	default:
		return VideoCodecUnknown
	}
}

// MimeType returns the MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecH264:
		return "video/H264"
	case VideoCodecH265:
		return "video/H265"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for this codec.
func (c VideoCodec) ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// DefaultPayloadType returns a typical payload type for this codec.
// Note: Actual payload type is negotiated via SDP.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecH265:
		return 104
	default:
		return 102
	}
}

// BitstreamFormat returns the byte-stream framing produced for this codec.
func (c VideoCodec) BitstreamFormat() BitstreamFormat {
	switch c {
	case VideoCodecH264:
		return BitstreamFormatH264AnnexB
	case VideoCodecH265:
		return BitstreamFormatH265AnnexB
	default:
		return BitstreamFormatUnknown
	}
}

// encoderName returns the libavcodec encoder backing this codec.
func (c VideoCodec) encoderName() string {
	switch c {
	case VideoCodecH264:
		return "libx264"
	case VideoCodecH265:
		return "libx265"
	default:
		return ""
	}
}

// Preset is the encoder speed/efficiency trade-off.
type Preset int

const (
	PresetFaster Preset = iota // Default: real-time delivery favours throughput
	PresetFast
	PresetMedium
	PresetSlow
	PresetSlower
)

// presetNames is the exhaustive name table for Preset.
var presetNames = map[string]Preset{
	"slower": PresetSlower,
	"slow":   PresetSlow,
	"medium": PresetMedium,
	"fast":   PresetFast,
	"faster": PresetFaster,
}

// ParsePreset maps a preset name to a Preset. Unknown and empty names map to
// PresetFaster.
func ParsePreset(s string) Preset {
	if p, ok := presetNames[s]; ok {
		return p
	}
	return PresetFaster
}

func (p Preset) String() string {
	switch p {
	case PresetSlower:
		return "slower"
	case PresetSlow:
		return "slow"
	case PresetMedium:
		return "medium"
	case PresetFast:
		return "fast"
	default:
		return "faster"
	}
}

// Profile is the codec profile requested from the session.
type Profile int

const (
	// ProfileMain is used for both H.264 and H.265 for broad decoder
	// compatibility.
	ProfileMain Profile = iota
)

func (p Profile) String() string {
	return "main"
}

// Tune is the encoder tuning mode.
type Tune int

const (
	// TuneZeroLatency disables lookahead and frame-threading delay.
	TuneZeroLatency Tune = iota
)

func (t Tune) String() string {
	return "zerolatency"
}
