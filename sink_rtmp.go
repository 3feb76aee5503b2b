package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// FLV video tag constants
const (
	flvFrameTypeKey   = 1
	flvFrameTypeInter = 2
	flvCodecAVC       = 7

	flvAVCSequenceHeader = 0
	flvAVCNALU           = 1

	rtmpVideoChunkStreamID = 6
	rtmpChunkSize          = 128
)

// RTMPSink publishes H.264 packets to an RTMP server as FLV AVC video
// messages. The AVC sequence header is sent ahead of the first keyframe;
// packets before it are skipped.
type RTMPSink struct {
	mu     sync.Mutex
	client *rtmp.ClientConn
	stream *rtmp.Stream

	sentHeader bool
	firstPTS   int64
	skipped    int
}

// DialRTMP connects to rawURL (rtmp://host[:port]/app/key) and starts
// publishing. logger receives the connection's diagnostics; nil discards
// them.
func DialRTMP(rawURL string, logger *slog.Logger) (*RTMPSink, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse RTMP URL: %w", err)
	}
	if u.Scheme != "rtmp" {
		return nil, fmt.Errorf("%w: RTMP scheme %q", ErrNotSupported, u.Scheme)
	}
	app, key, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || app == "" || key == "" {
		return nil, fmt.Errorf("RTMP URL %q must be rtmp://host/app/key", rawURL)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":1935"
	}

	client, err := rtmp.Dial("rtmp", host, &rtmp.ConnConfig{
		Logger: newRTMPLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}

	tcURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/" + app}).String()
	if err := client.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      app,
			Type:     "nonprivate",
			FlashVer: "FMLE/3.0 (compatible; encoder)",
			TCURL:    tcURL,
		},
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect %s: %w", app, err)
	}

	stream, err := client.CreateStream(nil, rtmpChunkSize)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}
	if err := stream.Publish(&rtmpmsg.NetStreamPublish{
		PublishingName: key,
		PublishingType: "live",
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("publish %s: %w", key, err)
	}

	return &RTMPSink{client: client, stream: stream}, nil
}

// OnPacket implements OutputSink.
func (s *RTMPSink) OnPacket(pkt *MediaPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkt.Codec != VideoCodecH264 {
		return fmt.Errorf("%w: RTMP output for %s", ErrNotSupported, pkt.Codec)
	}

	if !s.sentHeader {
		if !pkt.Keyframe {
			s.skipped++
			return nil
		}
		header, err := flvAVCSequenceHeaderTag(pkt.Data)
		if err != nil {
			return err
		}
		if err := s.write(0, header); err != nil {
			return fmt.Errorf("write sequence header: %w", err)
		}
		s.sentHeader = true
		s.firstPTS = pkt.PTS
	}

	return s.write(rtmpTimestamp(pkt.PTS, s.firstPTS), flvAVCNALUTag(pkt.Data, pkt.Keyframe))
}

// rtmpTimestamp converts pts to milliseconds since first. Packets that
// precede first are stamped 0.
func rtmpTimestamp(pts, first int64) uint32 {
	d := pts - first
	if d <= 0 {
		return 0
	}
	return uint32(d / 1_000_000)
}

func (s *RTMPSink) write(ts uint32, tag []byte) error {
	return s.stream.Write(rtmpVideoChunkStreamID, ts, &rtmpmsg.VideoMessage{
		Payload: bytes.NewReader(tag),
	})
}

// Skipped returns the number of packets sent before the first keyframe.
func (s *RTMPSink) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Close ends the stream and the connection.
func (s *RTMPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result *multierror.Error
	if err := s.stream.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close stream: %w", err))
	}
	if err := s.client.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close connection: %w", err))
	}
	return result.ErrorOrNil()
}

// flvAVCSequenceHeaderTag builds an FLV video tag carrying the
// AVCDecoderConfigurationRecord for the SPS/PPS in au.
func flvAVCSequenceHeaderTag(au []byte) ([]byte, error) {
	sps, pps := h264ParameterSets(au)
	if sps == nil || pps == nil {
		return nil, errors.New("keyframe without SPS/PPS")
	}
	avcC, err := mp4.CreateAvcC([][]byte{sps}, [][]byte{pps}, true)
	if err != nil {
		return nil, fmt.Errorf("create avcC: %w", err)
	}

	var buf bytes.Buffer
	buf.Write([]byte{flvFrameTypeKey<<4 | flvCodecAVC, flvAVCSequenceHeader, 0, 0, 0})
	if err := avcC.DecConfRec.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode AVC decoder configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// flvAVCNALUTag builds an FLV video tag carrying one access unit as
// length-prefixed NAL units. Composition time is 0: there are no B-frames.
func flvAVCNALUTag(au []byte, keyframe bool) []byte {
	frameType := byte(flvFrameTypeInter)
	if keyframe {
		frameType = flvFrameTypeKey
	}
	avcc := annexBToAVCC(VideoCodecH264, au)
	tag := make([]byte, 0, 5+len(avcc))
	tag = append(tag, frameType<<4|flvCodecAVC, flvAVCNALU, 0, 0, 0)
	return append(tag, avcc...)
}

// rtmpLogHook forwards go-rtmp's logrus entries to slog.
type rtmpLogHook struct {
	logger *slog.Logger
}

func (h *rtmpLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *rtmpLogHook) Fire(entry *logrus.Entry) error {
	level := slog.LevelDebug
	switch {
	case entry.Level <= logrus.ErrorLevel:
		level = slog.LevelError
	case entry.Level == logrus.WarnLevel:
		level = slog.LevelWarn
	case entry.Level == logrus.InfoLevel:
		level = slog.LevelInfo
	}
	attrs := make([]any, 0, len(entry.Data)*2)
	for k, v := range entry.Data {
		attrs = append(attrs, k, v)
	}
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.logger.Log(ctx, level, entry.Message, attrs...)
	return nil
}

// newRTMPLogger returns a logrus logger whose output goes to logger.
func newRTMPLogger(logger *slog.Logger) logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	if logger == nil {
		return l
	}
	l.SetLevel(logrus.DebugLevel)
	l.AddHook(&rtmpLogHook{logger: logger.With("component", "rtmp")})
	return l
}
