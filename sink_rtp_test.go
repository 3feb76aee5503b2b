package encoder

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
)

type fakeRTPWriter struct {
	packets []*RTPPacket
	err     error
}

func (w *fakeRTPWriter) WriteRTP(p *RTPPacket) error {
	if w.err != nil {
		return w.err
	}
	w.packets = append(w.packets, p.Clone())
	return nil
}

func TestRTPSink_H264(t *testing.T) {
	w := &fakeRTPWriter{}
	s, err := NewRTPSink(RTPSinkConfig{Codec: VideoCodecH264, SSRC: 0x1234, PayloadType: 96}, w)
	if err != nil {
		t.Fatalf("NewRTPSink() error = %v", err)
	}

	if err := s.OnPacket(&MediaPacket{Data: h264KeyAU(), PTS: 0, Keyframe: true}); err != nil {
		t.Fatalf("OnPacket(key) error = %v", err)
	}
	keyPackets := len(w.packets)
	if err := s.OnPacket(&MediaPacket{Data: h264DeltaAU(), PTS: 1_000_000_000 / 30}); err != nil {
		t.Fatalf("OnPacket(delta) error = %v", err)
	}
	if keyPackets == 0 || len(w.packets) <= keyPackets {
		t.Fatalf("packets = %d after key, %d total", keyPackets, len(w.packets))
	}

	first, last := w.packets[0], w.packets[len(w.packets)-1]
	for i, p := range w.packets {
		if p.SSRC != 0x1234 || p.PayloadType != 96 {
			t.Errorf("packet %d SSRC/PT = %#x/%d", i, p.SSRC, p.PayloadType)
		}
		if i > 0 && p.SequenceNumber != w.packets[i-1].SequenceNumber+1 {
			t.Errorf("packet %d sequence %d after %d", i, p.SequenceNumber, w.packets[i-1].SequenceNumber)
		}
	}
	if !w.packets[keyPackets-1].Marker || !last.Marker {
		t.Error("last packet of an access unit is not marked")
	}
	if got := last.Timestamp - first.Timestamp; got != 3000 {
		t.Errorf("timestamp delta = %d, want 3000", got)
	}

	stats := s.Stats()
	if stats.FramesSent != 2 || stats.KeyframesSent != 1 || stats.PacketsSent != uint64(len(w.packets)) {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRTPSink_Fragmentation(t *testing.T) {
	w := &fakeRTPWriter{}
	s, err := NewRTPSink(RTPSinkConfig{Codec: VideoCodecH264}, w)
	if err != nil {
		t.Fatalf("NewRTPSink() error = %v", err)
	}

	big := append([]byte{0x65}, bytes.Repeat([]byte{0xAB}, 5000)...)
	if err := s.OnPacket(&MediaPacket{Data: annexB(big), Keyframe: true}); err != nil {
		t.Fatalf("OnPacket() error = %v", err)
	}
	if len(w.packets) < 5 {
		t.Fatalf("packets = %d, want FU-A fragments", len(w.packets))
	}
	for i, p := range w.packets {
		if p.MarshalSize() > DefaultMTU {
			t.Errorf("packet %d is %d bytes, above MTU %d", i, p.MarshalSize(), DefaultMTU)
		}
		if p.PayloadType != VideoCodecH264.DefaultPayloadType() {
			t.Errorf("packet %d PayloadType = %d", i, p.PayloadType)
		}
	}
}

func TestRTPSink_Errors(t *testing.T) {
	if _, err := NewRTPSink(RTPSinkConfig{Codec: VideoCodecUnknown}, &fakeRTPWriter{}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("NewRTPSink(unknown) error = %v, want ErrNotSupported", err)
	}

	errWrite := errors.New("socket closed")
	s, err := NewRTPSink(RTPSinkConfig{Codec: VideoCodecH264}, &fakeRTPWriter{err: errWrite})
	if err != nil {
		t.Fatalf("NewRTPSink() error = %v", err)
	}
	if err := s.OnPacket(&MediaPacket{Data: h264DeltaAU()}); !errors.Is(err, errWrite) {
		t.Errorf("OnPacket() error = %v, want write error", err)
	}
}

func TestRTPSink_H265(t *testing.T) {
	w := &fakeRTPWriter{}
	s, err := NewRTPSink(RTPSinkConfig{Codec: VideoCodecH265}, w)
	if err != nil {
		t.Fatalf("NewRTPSink() error = %v", err)
	}
	au := annexB([]byte{0x26, 0x01, 0xAF, 0x10})
	if err := s.OnPacket(&MediaPacket{Data: au, Keyframe: true}); err != nil {
		t.Fatalf("OnPacket() error = %v", err)
	}
	if len(w.packets) == 0 || w.packets[0].PayloadType != 104 {
		t.Errorf("packets = %v", w.packets)
	}
}

func TestUDPWriter(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer conn.Close()

	w, err := DialUDP(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer w.Close()

	sent := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 102, SequenceNumber: 7, Timestamp: 90000, SSRC: 42},
		Payload: []byte{1, 2, 3},
	}
	if err := w.WriteRTP(sent); err != nil {
		t.Fatalf("WriteRTP() error = %v", err)
	}

	buf := make([]byte, 1500)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	var got rtp.Packet
	if err := got.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.SequenceNumber != 7 || got.SSRC != 42 || !bytes.Equal(got.Payload, sent.Payload) {
		t.Errorf("received %+v, want %+v", got, sent)
	}
}

func TestWebRTCSink(t *testing.T) {
	s, err := NewWebRTCSink(VideoCodecH264, "video", "encoder")
	if err != nil {
		t.Fatalf("NewWebRTCSink() error = %v", err)
	}
	track := s.Track()
	if track.ID() != "video" || track.StreamID() != "encoder" {
		t.Errorf("track ids = %q/%q", track.ID(), track.StreamID())
	}
	if got := track.Codec().MimeType; got != "video/H264" {
		t.Errorf("track MimeType = %q, want video/H264", got)
	}

	// Unbound tracks accept and discard packets.
	if err := s.OnPacket(&MediaPacket{Data: h264KeyAU(), Keyframe: true}); err != nil {
		t.Fatalf("OnPacket() error = %v", err)
	}
	if got := s.Stats().FramesSent; got != 1 {
		t.Errorf("FramesSent = %d, want 1", got)
	}
}
