package encoder

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// H.264 fmtp advertising Main profile, level 3.1, non-interleaved mode.
const h264MainFmtp = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=4d001f"

// WebRTCSink writes packets to a pion local track. Add Track to a
// PeerConnection; packets written before the track is bound are discarded
// by pion.
type WebRTCSink struct {
	*RTPSink
	track *webrtc.TrackLocalStaticRTP
}

// NewWebRTCSink creates a track with the given ids and a sink feeding it.
func NewWebRTCSink(codec VideoCodec, trackID, streamID string) (*WebRTCSink, error) {
	capability := webrtc.RTPCodecCapability{
		MimeType:  codec.MimeType(),
		ClockRate: codec.ClockRate(),
	}
	if codec == VideoCodecH264 {
		capability.SDPFmtpLine = h264MainFmtp
	}

	track, err := webrtc.NewTrackLocalStaticRTP(capability, trackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("NewTrackLocalStaticRTP: %w", err)
	}

	sink, err := NewRTPSink(RTPSinkConfig{Codec: codec}, track)
	if err != nil {
		return nil, err
	}
	return &WebRTCSink{RTPSink: sink, track: track}, nil
}

// Track returns the local track to add to a PeerConnection.
func (s *WebRTCSink) Track() *webrtc.TrackLocalStaticRTP {
	return s.track
}
