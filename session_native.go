//go:build (darwin || linux) && !nonative

// Native codec sessions via libmedia_encoder using purego.
//
// libmedia_encoder is a flat C wrapper over libavcodec (libx264/libx265).
// The library is searched in:
//   - MEDIA_ENCODER_LIB_PATH (full path to the library)
//   - MEDIA_SDK_LIB_PATH (directory)
//   - next to the executable, build/ and build/ffi under the module root
//   - system library paths

package encoder

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mediaEncoderOnce    sync.Once
	mediaEncoderHandle  uintptr
	mediaEncoderInitErr error
)

// libmedia_encoder function pointers
var (
	mediaEncoderCreate        func(codec int32) uint64
	mediaEncoderOpen          func(encoder uint64, params uintptr) int32
	mediaEncoderSendFrame     func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride int32, pts int64) int32
	mediaEncoderReceivePacket func(encoder uint64, outData uintptr, outCapacity int32, outResult uintptr) int32
	mediaEncoderMaxOutputSize func(encoder uint64) int32
	mediaEncoderDestroy       func(encoder uint64)

	mediaEncoderGetError  func() uintptr
	mediaEncoderAvailable func(codec int32) int32
)

// Constants from media_encoder.h
const (
	mediaEncoderCodecH264 = 1
	mediaEncoderCodecH265 = 2

	mediaEncoderPixFmtI420 = 0

	mediaEncoderOK             = 0
	mediaEncoderAgain          = 1
	mediaEncoderEOF            = 2
	mediaEncoderError          = -1
	mediaEncoderErrorNoMem     = -2
	mediaEncoderErrorInvalid   = -3
	mediaEncoderErrorCodec     = -4
	mediaEncoderErrorBufferCap = -5
)

// mediaEncoderParams mirrors struct media_encoder_params. It must be
// heap-allocated when passed to the library; string fields point at
// NUL-terminated buffers kept alive by the caller.
type mediaEncoderParams struct {
	Width         int32
	Height        int32
	PixFmt        int32
	FramerateNum  int32
	FramerateDen  int32
	TimeBaseNum   int32
	TimeBaseDen   int32
	TicksPerFrame int32
	SARNum        int32
	SARDen        int32
	GOPSize       int32
	MinKeyint     int32
	MaxBFrames    int32
	SceneCut      int32
	OpenGOP       int32
	Threads       int32
	Bitrate       int64
	MinRate       int64
	MaxRate       int64
	RCBufferSize  int64
	Profile       uintptr
	Preset        uintptr
	Tune          uintptr
	OptionsKey    uintptr
	Options       uintptr
}

// mediaEncoderPacketResult receives packet metadata from
// media_encoder_receive_packet.
type mediaEncoderPacketResult struct {
	Size     int32
	Keyframe int32
	PTS      int64
	DTS      int64
	Duration int64
}

func loadMediaEncoder() error {
	mediaEncoderOnce.Do(func() {
		mediaEncoderInitErr = loadMediaEncoderLib()
	})
	return mediaEncoderInitErr
}

func loadMediaEncoderLib() error {
	var lastErr error
	for _, path := range nativeLibPaths("libmedia_encoder", "MEDIA_ENCODER_LIB_PATH") {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		mediaEncoderHandle = handle
		loadMediaEncoderSymbols()
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_encoder: %w", lastErr)
	}
	return errors.New("libmedia_encoder not found in any standard location")
}

func loadMediaEncoderSymbols() {
	purego.RegisterLibFunc(&mediaEncoderCreate, mediaEncoderHandle, "media_encoder_create")
	purego.RegisterLibFunc(&mediaEncoderOpen, mediaEncoderHandle, "media_encoder_open")
	purego.RegisterLibFunc(&mediaEncoderSendFrame, mediaEncoderHandle, "media_encoder_send_frame")
	purego.RegisterLibFunc(&mediaEncoderReceivePacket, mediaEncoderHandle, "media_encoder_receive_packet")
	purego.RegisterLibFunc(&mediaEncoderMaxOutputSize, mediaEncoderHandle, "media_encoder_max_output_size")
	purego.RegisterLibFunc(&mediaEncoderDestroy, mediaEncoderHandle, "media_encoder_destroy")

	purego.RegisterLibFunc(&mediaEncoderGetError, mediaEncoderHandle, "media_encoder_get_error")
	purego.RegisterLibFunc(&mediaEncoderAvailable, mediaEncoderHandle, "media_encoder_available")
}

func nativeCodecID(codec VideoCodec) int32 {
	switch codec {
	case VideoCodecH264:
		return mediaEncoderCodecH264
	case VideoCodecH265:
		return mediaEncoderCodecH265
	default:
		return 0
	}
}

// IsNativeAvailable reports whether libmedia_encoder can encode codec.
func IsNativeAvailable(codec VideoCodec) bool {
	id := nativeCodecID(codec)
	if id == 0 || loadMediaEncoder() != nil {
		return false
	}
	return mediaEncoderAvailable(id) != 0
}

func getMediaEncoderError() string {
	ptr := mediaEncoderGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// nativeSession implements CodecSession on top of libmedia_encoder.
type nativeSession struct {
	codec     VideoCodec
	handle    uint64
	params    CodecParameters
	outputBuf []byte
	result    *mediaEncoderPacketResult
	eof       bool
}

func newNativeSession(codec VideoCodec) (CodecSession, error) {
	if err := loadMediaEncoder(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionAlloc, err)
	}
	id := nativeCodecID(codec)
	if id == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotFound, codec)
	}
	handle := mediaEncoderCreate(id)
	if handle == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlloc, getMediaEncoderError())
	}
	return &nativeSession{
		codec:  codec,
		handle: handle,
		result: &mediaEncoderPacketResult{},
	}, nil
}

// Open implements CodecSession.
func (s *nativeSession) Open(params CodecParameters) error {
	if s.handle == 0 {
		return ErrSessionClosed
	}

	profile := cString(params.Profile.String())
	preset := cString(params.Preset.String())
	tune := cString(params.Tune.String())
	optionsKey := cString(params.CodecOptionsKey())
	options := cString(params.CodecOptions())

	p := &mediaEncoderParams{
		Width:         int32(params.Width),
		Height:        int32(params.Height),
		PixFmt:        mediaEncoderPixFmtI420,
		FramerateNum:  int32(params.Framerate.Num),
		FramerateDen:  int32(params.Framerate.Den),
		TimeBaseNum:   int32(params.TimeBase.Num),
		TimeBaseDen:   int32(params.TimeBase.Den),
		TicksPerFrame: int32(params.TicksPerFrame),
		SARNum:        int32(params.SampleAspectRatio.Num),
		SARDen:        int32(params.SampleAspectRatio.Den),
		GOPSize:       int32(params.GOPSize),
		MinKeyint:     int32(params.MinKeyframeInterval),
		MaxBFrames:    int32(params.MaxBFrames),
		SceneCut:      boolToInt32(params.SceneCut),
		OpenGOP:       boolToInt32(params.OpenGOP),
		Threads:       int32(params.ThreadCount),
		Bitrate:       params.Bitrate,
		MinRate:       params.MinRate,
		MaxRate:       params.MaxRate,
		RCBufferSize:  params.RCBufferSize,
		Profile:       uintptr(unsafe.Pointer(&profile[0])),
		Preset:        uintptr(unsafe.Pointer(&preset[0])),
		Tune:          uintptr(unsafe.Pointer(&tune[0])),
		OptionsKey:    uintptr(unsafe.Pointer(&optionsKey[0])),
		Options:       uintptr(unsafe.Pointer(&options[0])),
	}

	rc := mediaEncoderOpen(s.handle, uintptr(unsafe.Pointer(p)))
	runtime.KeepAlive(p)
	runtime.KeepAlive(profile)
	runtime.KeepAlive(preset)
	runtime.KeepAlive(tune)
	runtime.KeepAlive(optionsKey)
	runtime.KeepAlive(options)
	if rc != mediaEncoderOK {
		return fmt.Errorf("%w: %s", ErrSessionOpen, getMediaEncoderError())
	}

	maxOutput := mediaEncoderMaxOutputSize(s.handle)
	if maxOutput <= 0 {
		maxOutput = int32(I420Size(params.Width, params.Height))
	}
	s.outputBuf = make([]byte, maxOutput)
	s.params = params
	return nil
}

// SendFrame implements CodecSession.
func (s *nativeSession) SendFrame(frame *NativeFrame) error {
	if s.handle == 0 {
		return ErrSessionClosed
	}
	if len(frame.Y) == 0 || len(frame.U) == 0 || len(frame.V) == 0 {
		return fmt.Errorf("empty plane in %dx%d frame", frame.Width, frame.Height)
	}

	rc := mediaEncoderSendFrame(
		s.handle,
		uintptr(unsafe.Pointer(&frame.Y[0])),
		uintptr(unsafe.Pointer(&frame.U[0])),
		uintptr(unsafe.Pointer(&frame.V[0])),
		int32(frame.StrideY),
		int32(frame.StrideUV),
		frame.PTS,
	)
	runtime.KeepAlive(frame)
	if rc != mediaEncoderOK {
		return fmt.Errorf("send frame: %s", getMediaEncoderError())
	}
	return nil
}

// ReceivePacket implements CodecSession. The packet data aliases the
// session's output buffer.
func (s *nativeSession) ReceivePacket() (*NativePacket, error) {
	if s.handle == 0 {
		return nil, ErrSessionClosed
	}
	if s.eof {
		return nil, ErrEndOfStream
	}

	*s.result = mediaEncoderPacketResult{}
	rc := mediaEncoderReceivePacket(
		s.handle,
		uintptr(unsafe.Pointer(&s.outputBuf[0])),
		int32(len(s.outputBuf)),
		uintptr(unsafe.Pointer(s.result)),
	)

	switch rc {
	case mediaEncoderOK:
	case mediaEncoderAgain:
		return nil, ErrNeedMoreInput
	case mediaEncoderEOF:
		s.eof = true
		return nil, ErrEndOfStream
	case mediaEncoderErrorBufferCap:
		return nil, fmt.Errorf("packet of %d bytes exceeds output buffer of %d", s.result.Size, len(s.outputBuf))
	default:
		return nil, fmt.Errorf("receive packet (%d): %s", rc, getMediaEncoderError())
	}

	return &NativePacket{
		Data:     s.outputBuf[:s.result.Size],
		PTS:      s.result.PTS,
		DTS:      s.result.DTS,
		Duration: s.result.Duration,
		Keyframe: s.result.Keyframe != 0,
	}, nil
}

// Close implements CodecSession.
func (s *nativeSession) Close() error {
	if s.handle != 0 {
		mediaEncoderDestroy(s.handle)
		s.handle = 0
	}
	return nil
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func init() {
	if loadMediaEncoder() != nil {
		return
	}
	for _, codec := range []VideoCodec{VideoCodecH264, VideoCodecH265} {
		if mediaEncoderAvailable(nativeCodecID(codec)) == 0 {
			continue
		}
		setProviderAvailable(ProviderNative)
		registerSession(codec, ProviderNative, newNativeSession)
	}
}
