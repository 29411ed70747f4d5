package tsdemux

import "fmt"

// MPEG-TS stream_type values this demuxer classifies. Everything else is
// surfaced as KindOther and skipped by the extractors.
const (
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypeAAC        = 0x0F
	streamTypeH264       = 0x1B
	streamTypeHEVC       = 0x24
	streamTypeSCTE35     = 0x86
	streamTypeAC3        = 0x81
)

// sectionAssembler accumulates PSI section bytes for one PID across
// packets until a complete section (3-byte header + section_length) is
// available.
type sectionAssembler struct {
	buf []byte
}

// add consumes one packet's payload and returns any complete sections.
// A PUSI packet's pointer_field is honored; the bytes before the pointer
// target complete the previous section.
func (a *sectionAssembler) add(payload []byte, pusi bool) ([][]byte, error) {
	if pusi {
		if len(payload) < 1 {
			return nil, fmt.Errorf("tsdemux: PSI packet too short for pointer_field")
		}
		ptr := int(payload[0])
		if 1+ptr > len(payload) {
			return nil, fmt.Errorf("tsdemux: pointer_field %d overflows payload", ptr)
		}
		if len(a.buf) > 0 {
			a.buf = append(a.buf, payload[1:1+ptr]...)
		}
		rest := payload[1+ptr:]
		out := a.drain()
		a.buf = append(a.buf[:0], rest...)
		return append(out, a.drain()...), nil
	}
	if len(a.buf) == 0 {
		return nil, nil // mid-section packet for a section we never started
	}
	a.buf = append(a.buf, payload...)
	return a.drain(), nil
}

// drain pops every complete section currently buffered.
func (a *sectionAssembler) drain() [][]byte {
	var out [][]byte
	for {
		if len(a.buf) < 3 {
			return out
		}
		if a.buf[0] == 0xFF { // stuffing
			a.buf = a.buf[:0]
			return out
		}
		sectionLen := int(a.buf[1]&0x0F)<<8 | int(a.buf[2])
		total := 3 + sectionLen
		if len(a.buf) < total {
			return out
		}
		section := make([]byte, total)
		copy(section, a.buf[:total])
		out = append(out, section)
		a.buf = a.buf[total:]
	}
}

// parsePAT returns the PMT PID of the first program in the PAT.
func parsePAT(section []byte) (uint16, error) {
	if len(section) < 12 {
		return 0, fmt.Errorf("tsdemux: PAT section too short (%d bytes)", len(section))
	}
	if section[0] != 0x00 {
		return 0, fmt.Errorf("tsdemux: table_id 0x%02X is not a PAT", section[0])
	}
	// Program loop starts after the 8-byte header; 4 bytes per entry,
	// 4 bytes CRC at the end.
	for off := 8; off+4 <= len(section)-4; off += 4 {
		programNumber := uint16(section[off])<<8 | uint16(section[off+1])
		pid := uint16(section[off+2]&0x1F)<<8 | uint16(section[off+3])
		if programNumber != 0 { // 0 is the network PID
			return pid, nil
		}
	}
	return 0, fmt.Errorf("tsdemux: PAT carries no program")
}

// parsePMT extracts the elementary streams of a PMT section.
func parsePMT(section []byte) ([]Stream, error) {
	if len(section) < 16 {
		return nil, fmt.Errorf("tsdemux: PMT section too short (%d bytes)", len(section))
	}
	if section[0] != 0x02 {
		return nil, fmt.Errorf("tsdemux: table_id 0x%02X is not a PMT", section[0])
	}
	programInfoLen := int(section[10]&0x0F)<<8 | int(section[11])
	off := 12 + programInfoLen

	var streams []Stream
	for off+5 <= len(section)-4 {
		st := section[off]
		pid := uint16(section[off+1]&0x1F)<<8 | uint16(section[off+2])
		esInfoLen := int(section[off+3]&0x0F)<<8 | int(section[off+4])
		off += 5 + esInfoLen

		streams = append(streams, Stream{PID: pid, StreamType: st, Kind: kindOf(st)})
	}
	return streams, nil
}

func kindOf(streamType byte) StreamKind {
	switch streamType {
	case streamTypeH264, streamTypeHEVC:
		return KindVideo
	case streamTypeAAC, streamTypeMPEG1Audio, streamTypeMPEG2Audio, streamTypeAC3:
		return KindAudio
	case streamTypeSCTE35:
		return KindSplice
	default:
		return KindOther
	}
}
