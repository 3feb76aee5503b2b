package encoder

import (
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// Re-export pion/rtp types for convenience
type (
	// RTPPacket is an alias to pion's rtp.Packet
	RTPPacket = rtp.Packet

	// RTPHeader is an alias to pion's rtp.Header
	RTPHeader = rtp.Header
)

// Default MTU for RTP packets (UDP safe)
const DefaultMTU = 1200

// RTPWriter is an interface for writing RTP packets.
type RTPWriter interface {
	// WriteRTP writes an RTP packet.
	WriteRTP(packet *RTPPacket) error
}

// RTPSinkConfig configures an RTPSink.
type RTPSinkConfig struct {
	Codec       VideoCodec
	SSRC        uint32 // 0 = random
	PayloadType uint8  // 0 = codec default
	MTU         int    // 0 = DefaultMTU
}

// RTPSinkStats provides RTP sink statistics.
type RTPSinkStats struct {
	PacketsSent   uint64
	BytesSent     uint64
	FramesSent    uint64
	KeyframesSent uint64
}

// RTPSink packetizes Annex-B access units into RTP (RFC 6184 / RFC 7798)
// and hands the packets to an RTPWriter. Timestamps are derived from packet
// PTS on the codec's 90 kHz clock.
type RTPSink struct {
	writer     RTPWriter
	packetizer rtp.Packetizer
	clockRate  uint32
	baseTS     uint32

	mu sync.Mutex

	packetsSent   atomic.Uint64
	bytesSent     atomic.Uint64
	framesSent    atomic.Uint64
	keyframesSent atomic.Uint64
}

// NewRTPSink creates an RTP sink writing to w.
func NewRTPSink(config RTPSinkConfig, w RTPWriter) (*RTPSink, error) {
	var payloader rtp.Payloader
	switch config.Codec {
	case VideoCodecH264:
		payloader = &codecs.H264Payloader{}
	case VideoCodecH265:
		payloader = &codecs.H265Payloader{}
	default:
		return nil, fmt.Errorf("%w: no RTP payloader for %s", ErrNotSupported, config.Codec)
	}

	mtu := config.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	pt := config.PayloadType
	if pt == 0 {
		pt = config.Codec.DefaultPayloadType()
	}
	ssrc := config.SSRC
	if ssrc == 0 {
		ssrc = randomUint32()
	}

	return &RTPSink{
		writer:     w,
		packetizer: rtp.NewPacketizer(uint16(mtu), pt, ssrc, payloader, rtp.NewRandomSequencer(), config.Codec.ClockRate()),
		clockRate:  config.Codec.ClockRate(),
		baseTS:     randomUint32(),
	}, nil
}

// OnPacket implements OutputSink.
func (s *RTPSink) OnPacket(pkt *MediaPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.baseTS + uint32(rescale(pkt.PTS, int64(s.clockRate), nanosPerSecond))
	packets := s.packetizer.Packetize(pkt.Data, 0)
	if len(packets) == 0 {
		return fmt.Errorf("no NAL units in %d byte packet", len(pkt.Data))
	}

	for _, p := range packets {
		p.Timestamp = ts
		if err := s.writer.WriteRTP(p); err != nil {
			return fmt.Errorf("write RTP: %w", err)
		}
		s.packetsSent.Add(1)
		s.bytesSent.Add(uint64(len(p.Payload)))
	}

	s.framesSent.Add(1)
	if pkt.Keyframe {
		s.keyframesSent.Add(1)
	}
	return nil
}

// Stats returns sink statistics.
func (s *RTPSink) Stats() RTPSinkStats {
	return RTPSinkStats{
		PacketsSent:   s.packetsSent.Load(),
		BytesSent:     s.bytesSent.Load(),
		FramesSent:    s.framesSent.Load(),
		KeyframesSent: s.keyframesSent.Load(),
	}
}

// Close closes the writer if it implements Close.
func (s *RTPSink) Close() error {
	if c, ok := s.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func randomUint32() uint32 {
	return rand.Uint32()
}

// UDPWriter sends RTP packets over a connected UDP socket.
type UDPWriter struct {
	conn *net.UDPConn
	buf  []byte
}

// DialUDP creates a UDPWriter sending to addr (host:port).
func DialUDP(addr string) (*UDPWriter, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &UDPWriter{conn: conn, buf: make([]byte, 0, DefaultMTU+64)}, nil
}

// WriteRTP implements RTPWriter.
func (w *UDPWriter) WriteRTP(packet *RTPPacket) error {
	n := packet.MarshalSize()
	if cap(w.buf) < n {
		w.buf = make([]byte, n)
	}
	buf := w.buf[:n]
	if _, err := packet.MarshalTo(buf); err != nil {
		return err
	}
	_, err := w.conn.Write(buf)
	return err
}

// LocalAddr returns the local socket address.
func (w *UDPWriter) LocalAddr() net.Addr {
	return w.conn.LocalAddr()
}

// Close closes the socket.
func (w *UDPWriter) Close() error {
	return w.conn.Close()
}
