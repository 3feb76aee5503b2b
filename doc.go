// Package encoder provides a real-time H.264/H.265 video encoder built on
// pluggable codec sessions (libx264/libx265 through libavcodec).
//
// Key pieces include:
//   - Encoder: lifecycle (Configure/Stop), bounded frame queue and a
//     dedicated worker goroutine
//   - Parameter resolution from a generic EncodingContext to CodecParameters
//   - Codec session providers: native library, libav (cgo) and ffmpeg process
//   - Output sinks: Annex-B files, fragmented MP4, RTP/WebRTC and RTMP
//   - YAML/TOML configuration for the encode command
//
// # Architecture
//
//	Enqueue -> FrameQueue -> worker -> CodecSession.SendFrame
//	                                -> CodecSession.ReceivePacket -> OutputSink
//
// The worker owns the session. Frames are converted to packed I420 with
// timestamps rescaled from nanoseconds to the session time base (two ticks
// per frame); packets are rescaled back. A frame that cannot be converted or
// a session that stops producing output faults the encoder: the worker exits,
// Err reports the fault and Config.OnFault is called once.
//
// # Providers
//
// The native provider loads libmedia_encoder with purego (CGO_ENABLED=0).
// Set MEDIA_ENCODER_LIB_PATH to the library file or MEDIA_SDK_LIB_PATH to
// the directory containing it. The ffmpeg provider runs an ffmpeg binary
// found through FFMPEG_PATH or PATH. ProviderAuto picks the first available
// of native, libav and ffmpeg.
//
// # Build Tags
//
// Optional tags change the provider set:
//   - nonative: do not build the purego provider
//   - libav: build the in-process provider on go-astiav (requires cgo and
//     FFmpeg development libraries)
//
// # Supported Codecs
//
// Video: H.264 and H.265, Main profile, constant bitrate, no B-frames.
// MP4 and RTMP outputs carry H.264 only.
package encoder
