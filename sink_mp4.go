package encoder

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Eyevinn/mp4ff/mp4"
)

const mp4Timescale = 90000

// MP4Sink writes H.264 packets as fragmented MP4: an init segment built from
// the SPS/PPS of the first keyframe, then one fragment per GOP. Packets
// before the first keyframe are skipped.
type MP4Sink struct {
	mu     sync.Mutex
	w      io.Writer
	width  int
	height int

	initWritten bool
	frag        *mp4.Fragment
	seq         uint32
	firstDTS    int64
	skipped     int
	fragments   int
}

// NewMP4Sink creates an MP4 sink for a width x height H.264 stream.
func NewMP4Sink(w io.Writer, width, height int) *MP4Sink {
	return &MP4Sink{w: w, width: width, height: height}
}

// OnPacket implements OutputSink.
func (s *MP4Sink) OnPacket(pkt *MediaPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkt.Codec != VideoCodecH264 {
		return fmt.Errorf("%w: MP4 output for %s", ErrNotSupported, pkt.Codec)
	}

	if !s.initWritten {
		if !pkt.Keyframe {
			s.skipped++
			return nil
		}
		if err := s.writeInit(pkt.Data); err != nil {
			return err
		}
		s.firstDTS = pkt.DTS
	}

	if pkt.Keyframe || s.frag == nil {
		if err := s.flushFragment(); err != nil {
			return err
		}
		s.seq++
		frag, err := mp4.CreateFragment(s.seq, 1)
		if err != nil {
			return fmt.Errorf("create fragment: %w", err)
		}
		s.frag = frag
	}

	flags := mp4.NonSyncSampleFlags
	if pkt.Keyframe {
		flags = mp4.SyncSampleFlags
	}
	dur := uint32(rescale(pkt.Duration, mp4Timescale, nanosPerSecond))
	decodeTime := uint64(rescale(pkt.DTS-s.firstDTS, mp4Timescale, nanosPerSecond))
	data := annexBToAVCC(VideoCodecH264, pkt.Data)

	s.frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Size:  uint32(len(data)),
			Dur:   dur,
		},
		DecodeTime: decodeTime,
		Data:       data,
	})
	return nil
}

func (s *MP4Sink) writeInit(au []byte) error {
	sps, pps := h264ParameterSets(au)
	if sps == nil || pps == nil {
		return errors.New("keyframe without SPS/PPS")
	}

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(mp4Timescale, "video", "und")
	trak := init.Moov.Trak

	avcC, err := mp4.CreateAvcC([][]byte{sps}, [][]byte{pps}, true)
	if err != nil {
		return fmt.Errorf("create avcC: %w", err)
	}
	avc1 := mp4.CreateVisualSampleEntryBox("avc1", uint16(s.width), uint16(s.height), avcC)
	trak.Mdia.Minf.Stbl.Stsd.AddChild(avc1)
	trak.Tkhd.Width = mp4.Fixed32(s.width << 16)
	trak.Tkhd.Height = mp4.Fixed32(s.height << 16)

	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso2", "avc1", "iso6", "mp41"})
	if err := ftyp.Encode(s.w); err != nil {
		return fmt.Errorf("encode ftyp: %w", err)
	}
	if err := init.Moov.Encode(s.w); err != nil {
		return fmt.Errorf("encode moov: %w", err)
	}
	s.initWritten = true
	return nil
}

func (s *MP4Sink) flushFragment() error {
	if s.frag == nil {
		return nil
	}
	frag := s.frag
	s.frag = nil
	if err := frag.Encode(s.w); err != nil {
		return fmt.Errorf("encode fragment %d: %w", s.seq, err)
	}
	s.fragments++
	return nil
}

// Fragments returns the number of fragments written.
func (s *MP4Sink) Fragments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fragments
}

// Skipped returns the number of packets dropped while waiting for the
// first keyframe.
func (s *MP4Sink) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Close writes the pending fragment and closes w if it is an io.Closer.
func (s *MP4Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.flushFragment()
	if c, ok := s.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
