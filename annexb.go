package encoder

import "encoding/binary"

// NAL unit types used by the packet paths.
const (
	h264NALSlice = 1
	h264NALIDR   = 5
	h264NALSEI   = 6
	h264NALSPS   = 7
	h264NALPPS   = 8
	h264NALAUD   = 9

	h265NALIRAPFirst = 16 // BLA_W_LP
	h265NALIRAPLast  = 23 // RSV_IRAP_VCL23
	h265NALVPS       = 32
	h265NALSPS       = 33
	h265NALPPS       = 34
	h265NALAUD       = 35
)

// splitNALUnits splits an Annex-B byte stream into NAL units, start codes
// removed.
func splitNALUnits(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0

	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				end := i
				if end > start && data[end-1] == 0 {
					end--
				}
				if end > start {
					nalus = append(nalus, data[start:end])
				}
			}
			i += 3
			start = i
			continue
		}
		i++
	}

	if start >= 0 && start < len(data) {
		nalus = append(nalus, data[start:])
	}
	return nalus
}

// nalType returns the NAL unit type from the first header byte.
func nalType(codec VideoCodec, header byte) int {
	if codec == VideoCodecH265 {
		return int(header>>1) & 0x3F
	}
	return int(header) & 0x1F
}

func isAUD(codec VideoCodec, header byte) bool {
	if codec == VideoCodecH265 {
		return nalType(codec, header) == h265NALAUD
	}
	return nalType(codec, header) == h264NALAUD
}

func isParameterSet(codec VideoCodec, header byte) bool {
	t := nalType(codec, header)
	if codec == VideoCodecH265 {
		return t == h265NALVPS || t == h265NALSPS || t == h265NALPPS
	}
	return t == h264NALSPS || t == h264NALPPS
}

// isKeyframeAU reports whether an Annex-B access unit starts a closed GOP
// (IDR for H.264, IRAP for H.265).
func isKeyframeAU(codec VideoCodec, au []byte) bool {
	for _, nal := range splitNALUnits(au) {
		if len(nal) == 0 {
			continue
		}
		t := nalType(codec, nal[0])
		switch codec {
		case VideoCodecH265:
			if t >= h265NALIRAPFirst && t <= h265NALIRAPLast {
				return true
			}
		default:
			if t == h264NALIDR {
				return true
			}
		}
	}
	return false
}

// h264ParameterSets returns the first SPS and PPS found in an Annex-B access
// unit.
func h264ParameterSets(au []byte) (sps, pps []byte) {
	for _, nal := range splitNALUnits(au) {
		if len(nal) == 0 {
			continue
		}
		switch nalType(VideoCodecH264, nal[0]) {
		case h264NALSPS:
			if sps == nil {
				sps = append([]byte(nil), nal...)
			}
		case h264NALPPS:
			if pps == nil {
				pps = append([]byte(nil), nal...)
			}
		}
	}
	return sps, pps
}

// annexBToAVCC converts an Annex-B access unit to 4-byte length-prefixed NAL
// units, dropping access unit delimiters and parameter sets.
func annexBToAVCC(codec VideoCodec, au []byte) []byte {
	nalus := splitNALUnits(au)
	size := 0
	for _, nal := range nalus {
		size += 4 + len(nal)
	}

	out := make([]byte, 0, size)
	for _, nal := range nalus {
		if len(nal) == 0 || isAUD(codec, nal[0]) || isParameterSet(codec, nal[0]) {
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(nal)))
		out = append(out, nal...)
	}
	return out
}

// accessUnitSplitter cuts an Annex-B elementary stream into access units at
// access unit delimiters. Data is fed in arbitrary chunks.
type accessUnitSplitter struct {
	codec VideoCodec
	buf   []byte
	scan  int
}

// Write appends p and returns every access unit completed by it.
func (s *accessUnitSplitter) Write(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var units [][]byte
	i := s.scan
	for i+3 < len(s.buf) {
		if s.buf[i] != 0 || s.buf[i+1] != 0 || s.buf[i+2] != 1 {
			i++
			continue
		}
		begin := i
		if i > 0 && s.buf[i-1] == 0 {
			begin = i - 1
		}
		if isAUD(s.codec, s.buf[i+3]) && begin > 0 {
			units = append(units, append([]byte(nil), s.buf[:begin]...))
			s.buf = append([]byte(nil), s.buf[begin:]...)
			i -= begin
		}
		i += 3
	}
	s.scan = i
	return units
}

// Flush returns the buffered partial access unit, nil if none.
func (s *accessUnitSplitter) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	au := s.buf
	s.buf = nil
	s.scan = 0
	return au
}
