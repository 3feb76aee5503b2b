package encoder

import (
	"fmt"
	"math"
	"math/bits"
)

const nanosPerSecond = 1_000_000_000

// convertFrame copies a MediaFrame into the packed I420 layout sessions
// consume and rescales its timestamp from nanoseconds to time-base ticks.
func convertFrame(f *MediaFrame, p CodecParameters) (*NativeFrame, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrFrameConversion)
	}
	if f.Width != p.Width || f.Height != p.Height {
		return nil, fmt.Errorf("%w: frame is %dx%d, session expects %dx%d",
			ErrFrameConversion, f.Width, f.Height, p.Width, p.Height)
	}
	if f.Format.PlaneCount() == 0 {
		return nil, fmt.Errorf("%w: unsupported pixel format %s", ErrFrameConversion, f.Format)
	}
	if len(f.Data) < f.Format.PlaneCount() || len(f.Stride) < f.Format.PlaneCount() {
		return nil, fmt.Errorf("%w: %s frame has %d planes", ErrFrameConversion, f.Format, len(f.Data))
	}

	w, h := f.Width, f.Height
	uvW, uvH := (w+1)/2, (h+1)/2
	out := &NativeFrame{
		Y:        make([]byte, w*h),
		U:        make([]byte, uvW*uvH),
		V:        make([]byte, uvW*uvH),
		StrideY:  w,
		StrideUV: uvW,
		Width:    w,
		Height:   h,
		PTS:      nanosToTicks(f.Timestamp, p.TimeBase),
	}

	if err := copyPlane(out.Y, w, f.Data[0], f.Stride[0], w, h); err != nil {
		return nil, fmt.Errorf("%w: Y plane: %v", ErrFrameConversion, err)
	}

	switch f.Format {
	case PixelFormatI420:
		if err := copyPlane(out.U, uvW, f.Data[1], f.Stride[1], uvW, uvH); err != nil {
			return nil, fmt.Errorf("%w: U plane: %v", ErrFrameConversion, err)
		}
		if err := copyPlane(out.V, uvW, f.Data[2], f.Stride[2], uvW, uvH); err != nil {
			return nil, fmt.Errorf("%w: V plane: %v", ErrFrameConversion, err)
		}
	case PixelFormatNV12:
		src, stride := f.Data[1], f.Stride[1]
		if err := checkPlane(src, stride, uvW*2, uvH); err != nil {
			return nil, fmt.Errorf("%w: UV plane: %v", ErrFrameConversion, err)
		}
		for row := 0; row < uvH; row++ {
			line := src[row*stride : row*stride+uvW*2]
			u := out.U[row*uvW : (row+1)*uvW]
			v := out.V[row*uvW : (row+1)*uvW]
			for i := 0; i < uvW; i++ {
				u[i] = line[2*i]
				v[i] = line[2*i+1]
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported pixel format %s", ErrFrameConversion, f.Format)
	}

	return out, nil
}

func checkPlane(src []byte, stride, rowBytes, rows int) error {
	if stride < rowBytes {
		return fmt.Errorf("stride %d shorter than row %d", stride, rowBytes)
	}
	if rows > 0 && len(src) < stride*(rows-1)+rowBytes {
		return fmt.Errorf("plane has %d bytes, need %d", len(src), stride*(rows-1)+rowBytes)
	}
	return nil
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride, rowBytes, rows int) error {
	if err := checkPlane(src, srcStride, rowBytes, rows); err != nil {
		return err
	}
	if srcStride == dstStride {
		copy(dst, src[:len(dst)])
		return nil
	}
	for row := 0; row < rows; row++ {
		copy(dst[row*dstStride:row*dstStride+rowBytes], src[row*srcStride:row*srcStride+rowBytes])
	}
	return nil
}

// convertPacket turns session output into a MediaPacket. The payload is
// copied; sessions may reuse their output buffers.
func convertPacket(np *NativePacket, p CodecParameters) (*MediaPacket, error) {
	if np == nil || len(np.Data) == 0 {
		return nil, fmt.Errorf("%w: empty packet", ErrPacketConversion)
	}
	if p.TimeBase.Num <= 0 || p.TimeBase.Den <= 0 {
		return nil, fmt.Errorf("%w: invalid time base %s", ErrPacketConversion, p.TimeBase)
	}

	data := make([]byte, len(np.Data))
	copy(data, np.Data)

	dur := np.Duration
	if dur <= 0 {
		dur = p.FrameDuration()
	}

	return &MediaPacket{
		Data:            data,
		PTS:             ticksToNanos(np.PTS, p.TimeBase),
		DTS:             ticksToNanos(np.DTS, p.TimeBase),
		Duration:        ticksToNanos(dur, p.TimeBase),
		MediaType:       MediaTypeVideo,
		Codec:           p.Codec,
		BitstreamFormat: p.Codec.BitstreamFormat(),
		PacketType:      PacketTypeNALU,
		Keyframe:        np.Keyframe,
	}, nil
}

func nanosToTicks(ns int64, tb Rational) int64 {
	return rescale(ns, int64(tb.Den), int64(tb.Num)*nanosPerSecond)
}

func ticksToNanos(ticks int64, tb Rational) int64 {
	return rescale(ticks, int64(tb.Num)*nanosPerSecond, int64(tb.Den))
}

// rescale returns a*b/c rounded to nearest, computed in 128 bits.
// b and c must be positive.
func rescale(a, b, c int64) int64 {
	if c <= 0 || b <= 0 {
		return 0
	}
	neg := a < 0
	ua := uint64(a)
	if neg {
		ua = uint64(-a)
	}
	hi, lo := bits.Mul64(ua, uint64(b))
	lo, carry := bits.Add64(lo, uint64(c)/2, 0)
	hi += carry
	if hi >= uint64(c) {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		q = math.MaxInt64
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}
