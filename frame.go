// Core frame and packet types used across the encoder package.
package encoder

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                    // YUV 4:2:0 semi-planar (Y + interleaved UV)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// ParsePixelFormat parses a pixel format name. Unknown names map to I420.
func ParsePixelFormat(s string) PixelFormat {
	switch s {
	case "nv12", "NV12":
		return PixelFormatNV12
	default:
		return PixelFormatI420
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	default:
		return 0
	}
}

// MediaType classifies a packet's elementary stream.
type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeVideo
)

func (m MediaType) String() string {
	if m == MediaTypeVideo {
		return "video"
	}
	return "unknown"
}

// BitstreamFormat identifies the framing of a packet payload.
type BitstreamFormat int

const (
	BitstreamFormatUnknown    BitstreamFormat = iota
	BitstreamFormatH264AnnexB                 // Start-code delimited H.264 NAL units
	BitstreamFormatH265AnnexB                 // Start-code delimited H.265 NAL units
)

func (b BitstreamFormat) String() string {
	switch b {
	case BitstreamFormatH264AnnexB:
		return "H264_ANNEXB"
	case BitstreamFormatH265AnnexB:
		return "H265_ANNEXB"
	default:
		return "Unknown"
	}
}

// PacketType identifies the unit carried by a packet.
type PacketType int

const (
	PacketTypeUnknown PacketType = iota
	PacketTypeNALU
)

func (p PacketType) String() string {
	if p == PacketTypeNALU {
		return "NALU"
	}
	return "Unknown"
}

// MediaFrame represents a decoded video frame handed to the encoder.
// Ownership passes to the encoder on Enqueue; callers must not modify the
// planes afterwards.
type MediaFrame struct {
	Data      [][]byte    // Plane data (2-3 planes depending on format)
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Presentation timestamp in nanoseconds
	Duration  int64       // Frame duration in nanoseconds (optional)
}

// Clone creates a deep copy of the frame.
func (f *MediaFrame) Clone() *MediaFrame {
	clone := &MediaFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// NewI420Frame allocates a tightly packed I420 frame.
func NewI420Frame(width, height int, timestamp int64) *MediaFrame {
	uvW, uvH := (width+1)/2, (height+1)/2
	return &MediaFrame{
		Data: [][]byte{
			make([]byte, width*height),
			make([]byte, uvW*uvH),
			make([]byte, uvW*uvH),
		},
		Stride:    []int{width, uvW, uvW},
		Width:     width,
		Height:    height,
		Format:    PixelFormatI420,
		Timestamp: timestamp,
	}
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	uvW, uvH := (width+1)/2, (height+1)/2
	return width*height + uvW*uvH*2
}

// MediaPacket is one compressed access unit emitted by the encoder.
type MediaPacket struct {
	Data            []byte          // Annex-B payload
	PTS             int64           // Presentation timestamp in nanoseconds
	DTS             int64           // Decode timestamp in nanoseconds
	Duration        int64           // Duration in nanoseconds
	MediaType       MediaType       // Always MediaTypeVideo
	Codec           VideoCodec      // Codec of the payload
	BitstreamFormat BitstreamFormat // Annex-B framing of Codec
	PacketType      PacketType      // Always PacketTypeNALU
	Keyframe        bool            // Independently decodable
}

// Clone creates a deep copy of the packet.
func (p *MediaPacket) Clone() *MediaPacket {
	clone := *p
	if p.Data != nil {
		clone.Data = make([]byte, len(p.Data))
		copy(clone.Data, p.Data)
	}
	return &clone
}

// NativeFrame is the session-facing frame: tightly packed I420 planes with the
// presentation timestamp expressed in time-base ticks.
type NativeFrame struct {
	Y, U, V  []byte
	StrideY  int
	StrideUV int
	Width    int
	Height   int
	PTS      int64
}

// NativePacket is a packet as returned by a CodecSession, timestamps in
// time-base ticks.
type NativePacket struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
	Keyframe bool
}

func (f *MediaFrame) timestamp() int64 {
	if f == nil {
		return 0
	}
	return f.Timestamp
}
