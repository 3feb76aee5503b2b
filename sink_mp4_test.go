package encoder

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
)

func gopPackets(n int, keyEvery int) []*MediaPacket {
	const frame = 1_000_000_000 / 30
	pkts := make([]*MediaPacket, n)
	for i := range pkts {
		data, key := h264DeltaAU(), false
		if i%keyEvery == 0 {
			data, key = h264KeyAU(), true
		}
		pkts[i] = &MediaPacket{
			Data:     data,
			PTS:      int64(i) * frame,
			DTS:      int64(i) * frame,
			Duration: frame,
			Codec:    VideoCodecH264,
			Keyframe: key,
		}
	}
	return pkts
}

func TestMP4Sink_Fragments(t *testing.T) {
	var buf bytes.Buffer
	s := NewMP4Sink(&buf, 64, 48)

	for _, pkt := range gopPackets(6, 3) {
		if err := s.OnPacket(pkt); err != nil {
			t.Fatalf("OnPacket() error = %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := s.Fragments(); got != 2 {
		t.Errorf("Fragments() = %d, want 2", got)
	}

	f, err := mp4.DecodeFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if !f.IsFragmented() || f.Init == nil {
		t.Fatal("output is not a fragmented MP4 with an init segment")
	}

	trak := f.Init.Moov.Trak
	if trak.Mdia.Mdhd.Timescale != mp4Timescale {
		t.Errorf("timescale = %d, want %d", trak.Mdia.Mdhd.Timescale, mp4Timescale)
	}
	var avcC *mp4.AvcCBox
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		if avc1, ok := child.(*mp4.VisualSampleEntryBox); ok {
			avcC = avc1.AvcC
			if avc1.Width != 64 || avc1.Height != 48 {
				t.Errorf("avc1 size = %dx%d, want 64x48", avc1.Width, avc1.Height)
			}
		}
	}
	if avcC == nil || len(avcC.SPSnalus) != 1 || !bytes.Equal(avcC.SPSnalus[0], testSPS) {
		t.Fatalf("avcC = %+v, want the stream SPS", avcC)
	}

	var samples, sync int
	trex := f.Init.Moov.Mvex.Trex
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			fs, err := frag.GetFullSamples(trex)
			if err != nil {
				t.Fatalf("GetFullSamples() error = %v", err)
			}
			for i, sample := range fs {
				samples++
				if sample.IsSync() {
					sync++
					if i != 0 {
						t.Errorf("sync sample at fragment position %d", i)
					}
				}
				if sample.Dur != 3000 {
					t.Errorf("sample duration = %d, want 3000", sample.Dur)
				}
			}
		}
	}
	if samples != 6 || sync != 2 {
		t.Errorf("samples/sync = %d/%d, want 6/2", samples, sync)
	}
}

func TestMP4Sink_SkipsUntilKeyframe(t *testing.T) {
	var buf bytes.Buffer
	s := NewMP4Sink(&buf, 64, 48)

	pkts := gopPackets(4, 2)
	if err := s.OnPacket(pkts[1]); err != nil {
		t.Fatalf("OnPacket(delta) error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes before the first keyframe", buf.Len())
	}
	for _, pkt := range pkts[2:] {
		s.OnPacket(pkt)
	}
	s.Close()
	if got := s.Fragments(); got != 1 {
		t.Errorf("Fragments() = %d, want 1", got)
	}
	if got := s.Skipped(); got != 1 {
		t.Errorf("Skipped() = %d, want 1", got)
	}
}

func TestMP4Sink_Errors(t *testing.T) {
	s := NewMP4Sink(&bytes.Buffer{}, 64, 48)
	if err := s.OnPacket(&MediaPacket{Codec: VideoCodecH265, Keyframe: true}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("OnPacket(h265) error = %v, want ErrNotSupported", err)
	}
	noPS := &MediaPacket{Codec: VideoCodecH264, Keyframe: true, Data: annexB(testIDR)}
	if err := s.OnPacket(noPS); err == nil {
		t.Error("OnPacket(keyframe without SPS/PPS) error = nil")
	}
}
