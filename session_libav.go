//go:build libav

// In-process codec sessions via libavcodec (go-astiav, requires cgo and the
// FFmpeg development libraries).

package encoder

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/asticode/go-astiav"
)

type libavSession struct {
	codec   VideoCodec
	encoder *astiav.Codec
	ctx     *astiav.CodecContext
	frame   *astiav.Frame
	packet  *astiav.Packet
	planes  []byte
	eof     bool
}

func newLibavSession(codec VideoCodec) (CodecSession, error) {
	enc := astiav.FindEncoderByName(codec.encoderName())
	if enc == nil {
		return nil, fmt.Errorf("%w: libavcodec has no %s", ErrCodecNotFound, codec.encoderName())
	}
	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return nil, fmt.Errorf("%w: codec context", ErrSessionAlloc)
	}
	return &libavSession{
		codec:   codec,
		encoder: enc,
		ctx:     ctx,
		frame:   astiav.AllocFrame(),
		packet:  astiav.AllocPacket(),
	}, nil
}

// libavOptions returns the avcodec_open2 options for p. Rate control and
// GOP settings go through generic AVCodecContext options.
func libavOptions(p CodecParameters) map[string]string {
	opts := map[string]string{
		"preset":       p.Preset.String(),
		"tune":         p.Tune.String(),
		"profile":      p.Profile.String(),
		"minrate":      strconv.FormatInt(p.MinRate, 10),
		"maxrate":      strconv.FormatInt(p.MaxRate, 10),
		"bufsize":      strconv.FormatInt(p.RCBufferSize, 10),
		"g":            strconv.Itoa(p.GOPSize),
		"keyint_min":   strconv.Itoa(p.MinKeyframeInterval),
		"bf":           strconv.Itoa(p.MaxBFrames),
		"sc_threshold": "0",
		"threads":      strconv.Itoa(p.ThreadCount),
	}
	opts[p.CodecOptionsKey()] = p.CodecOptions()
	return opts
}

// Open implements CodecSession.
func (s *libavSession) Open(p CodecParameters) error {
	if s.ctx == nil {
		return ErrSessionClosed
	}

	s.ctx.SetWidth(p.Width)
	s.ctx.SetHeight(p.Height)
	s.ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	s.ctx.SetTimeBase(astiav.NewRational(p.TimeBase.Num, p.TimeBase.Den))
	s.ctx.SetFramerate(astiav.NewRational(p.Framerate.Num, p.Framerate.Den))
	s.ctx.SetSampleAspectRatio(astiav.NewRational(p.SampleAspectRatio.Num, p.SampleAspectRatio.Den))
	s.ctx.SetBitRate(p.Bitrate)
	s.ctx.SetGopSize(p.GOPSize)
	s.ctx.SetMaxBFrames(p.MaxBFrames)
	s.ctx.SetThreadCount(p.ThreadCount)

	dict := astiav.NewDictionary()
	defer dict.Free()
	for k, v := range libavOptions(p) {
		if err := dict.Set(k, v, 0); err != nil {
			return fmt.Errorf("%w: option %s: %v", ErrSessionOpen, k, err)
		}
	}
	if err := s.ctx.Open(s.encoder, dict); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionOpen, err)
	}

	s.frame.SetWidth(p.Width)
	s.frame.SetHeight(p.Height)
	s.frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := s.frame.AllocBuffer(0); err != nil {
		return fmt.Errorf("%w: frame buffer: %v", ErrSessionOpen, err)
	}
	s.planes = make([]byte, 0, I420Size(p.Width, p.Height))
	return nil
}

// SendFrame implements CodecSession.
func (s *libavSession) SendFrame(f *NativeFrame) error {
	if s.ctx == nil {
		return ErrSessionClosed
	}
	if err := s.frame.MakeWritable(); err != nil {
		return fmt.Errorf("make frame writable: %w", err)
	}

	s.planes = append(s.planes[:0], f.Y...)
	s.planes = append(s.planes, f.U...)
	s.planes = append(s.planes, f.V...)
	if err := s.frame.Data().SetBytes(s.planes, 1); err != nil {
		return fmt.Errorf("copy frame planes: %w", err)
	}
	s.frame.SetPts(f.PTS)

	return s.ctx.SendFrame(s.frame)
}

// ReceivePacket implements CodecSession.
func (s *libavSession) ReceivePacket() (*NativePacket, error) {
	if s.ctx == nil {
		return nil, ErrSessionClosed
	}
	if s.eof {
		return nil, ErrEndOfStream
	}

	s.packet.Unref()
	if err := s.ctx.ReceivePacket(s.packet); err != nil {
		switch {
		case errors.Is(err, astiav.ErrEagain):
			return nil, ErrNeedMoreInput
		case errors.Is(err, astiav.ErrEof):
			s.eof = true
			return nil, ErrEndOfStream
		default:
			return nil, err
		}
	}

	return &NativePacket{
		Data:     s.packet.Data(),
		PTS:      s.packet.Pts(),
		DTS:      s.packet.Dts(),
		Duration: s.packet.Duration(),
		Keyframe: s.packet.Flags().Has(astiav.PacketFlagKey),
	}, nil
}

// Close implements CodecSession.
func (s *libavSession) Close() error {
	if s.packet != nil {
		s.packet.Free()
		s.packet = nil
	}
	if s.frame != nil {
		s.frame.Free()
		s.frame = nil
	}
	if s.ctx != nil {
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}

func init() {
	for _, codec := range []VideoCodec{VideoCodecH264, VideoCodecH265} {
		if astiav.FindEncoderByName(codec.encoderName()) == nil {
			continue
		}
		setProviderAvailable(ProviderLibav)
		registerSession(codec, ProviderLibav, newLibavSession)
	}
}
