// Package scte35 decodes SCTE-35 splice information sections carried in
// an MPEG-TS stream, exposing the splice commands a cut-decision engine
// cares about: where a break starts or ends on the presentation
// timeline. Commands are modeled as a tagged sum (one populated field
// per Kind) so consumers dispatch with a single switch. Only the
// command types the scene-boundary detector consumes are supported:
// splice_null, splice_insert, and time_signal; descriptors are skipped.
package scte35

import "fmt"

const tableID = 0xFC

// Kind identifies which command a Section carries.
type Kind int

const (
	KindNull Kind = iota
	KindInsert
	KindTimeSignal
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "splice_insert"
	case KindTimeSignal:
		return "time_signal"
	default:
		return "splice_null"
	}
}

// Insert is a splice_insert command: an in- or out-of-network splice
// point, optionally at a specific 90 kHz PTS with a break duration.
type Insert struct {
	EventID         uint32
	Cancel          bool
	OutOfNetwork    bool
	Immediate       bool
	PTSTime         *uint64 // 90 kHz, nil when immediate or unspecified
	AutoReturn      bool
	Duration        *uint64 // 90 kHz, nil when no break_duration
	UniqueProgramID uint16
	AvailNum        uint8
	AvailsExpected  uint8
}

// TimeSignal is a time_signal command: a timestamped marker with no
// splice semantics of its own.
type TimeSignal struct {
	PTSTime *uint64 // 90 kHz, nil when not time-specified
}

// Section is a decoded splice_info_section. Exactly one of Insert and
// TimeSignal is non-nil, selected by Kind; KindNull carries neither.
type Section struct {
	PTSAdjustment uint64
	Tier          uint16

	Kind       Kind
	Insert     *Insert
	TimeSignal *TimeSignal
}

// SplicePTS returns the command's presentation time with PTSAdjustment
// applied (modulo the 33-bit PTS wrap), and whether one was signalled.
func (s *Section) SplicePTS() (uint64, bool) {
	var pts *uint64
	switch s.Kind {
	case KindInsert:
		if s.Insert != nil {
			pts = s.Insert.PTSTime
		}
	case KindTimeSignal:
		if s.TimeSignal != nil {
			pts = s.TimeSignal.PTSTime
		}
	}
	if pts == nil {
		return 0, false
	}
	return (*pts + s.PTSAdjustment) & (1<<33 - 1), true
}

// Decode parses a binary splice_info_section, verifying its CRC. Unknown
// command types decode as KindNull rather than failing, since a stream
// may carry commands this engine has no use for.
func Decode(data []byte) (*Section, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("scte35: section too short (%d bytes)", len(data))
	}
	if data[0] != tableID {
		return nil, fmt.Errorf("scte35: table_id 0x%02X is not a splice_info_section", data[0])
	}
	if err := verifyCRC(data); err != nil {
		return nil, err
	}

	r := &reader{data: data}
	r.skip(8)  // table_id
	r.skip(2)  // section_syntax_indicator + private_indicator
	r.skip(2)  // sap_type
	r.skip(12) // section_length
	r.skip(8)  // protocol_version
	r.skip(7)  // encrypted_packet + encryption_algorithm

	s := &Section{}
	s.PTSAdjustment = r.uint(33)
	r.skip(8) // cw_index
	s.Tier = uint16(r.uint(12))

	cmdLen := int(r.uint(12))
	cmdType := r.uint(8)

	switch cmdType {
	case 0x05:
		s.Kind = KindInsert
		s.Insert = decodeInsert(r)
	case 0x06:
		s.Kind = KindTimeSignal
		s.TimeSignal = decodeTimeSignal(r)
	default:
		s.Kind = KindNull
		r.skip(cmdLen * 8)
	}
	if r.truncated {
		return nil, fmt.Errorf("scte35: truncated %s command", s.Kind)
	}
	return s, nil
}

func decodeSpliceTime(r *reader) *uint64 {
	if r.bit() { // time_specified_flag
		r.skip(6)
		pts := r.uint(33)
		return &pts
	}
	r.skip(7)
	return nil
}

func decodeInsert(r *reader) *Insert {
	in := &Insert{}
	in.EventID = uint32(r.uint(32))
	in.Cancel = r.bit()
	r.skip(7)
	if in.Cancel {
		return in
	}

	in.OutOfNetwork = r.bit()
	programSplice := r.bit()
	durationFlag := r.bit()
	in.Immediate = r.bit()
	r.skip(4)

	if programSplice {
		if !in.Immediate {
			in.PTSTime = decodeSpliceTime(r)
		}
	} else {
		// Component mode; this engine keys everything to the program
		// splice, so component times are consumed and dropped.
		count := int(r.uint(8))
		for i := 0; i < count; i++ {
			r.skip(8) // component_tag
			if !in.Immediate {
				decodeSpliceTime(r)
			}
		}
	}

	if durationFlag {
		in.AutoReturn = r.bit()
		r.skip(6)
		d := r.uint(33)
		in.Duration = &d
	}

	in.UniqueProgramID = uint16(r.uint(16))
	in.AvailNum = uint8(r.uint(8))
	in.AvailsExpected = uint8(r.uint(8))
	return in
}

func decodeTimeSignal(r *reader) *TimeSignal {
	return &TimeSignal{PTSTime: decodeSpliceTime(r)}
}

// Encode serializes the Section, primarily so tests and stream
// generators can build valid cue fixtures. Inserts always encode in
// program-splice mode.
func (s *Section) Encode() ([]byte, error) {
	body := s.encodeCommand()
	// 11 fixed bytes after section_length, plus command, plus
	// descriptor_loop_length(2) and CRC(4).
	sectionLen := 11 + len(body) + 2 + 4
	total := 3 + sectionLen

	w := newWriter(total)
	w.uint(8, tableID)
	w.uint(2, 0) // section_syntax_indicator + private_indicator
	w.uint(2, 3) // sap_type: not specified
	w.uint(12, uint64(sectionLen))
	w.uint(8, 0) // protocol_version
	w.uint(7, 0) // encrypted_packet + encryption_algorithm
	w.uint(33, s.PTSAdjustment)
	w.uint(8, 0) // cw_index
	w.uint(12, uint64(s.Tier))
	w.uint(12, uint64(len(body)))
	w.uint(8, uint64(s.commandType()))
	for _, b := range body {
		w.uint(8, uint64(b))
	}
	w.uint(16, 0) // descriptor_loop_length

	crc := crcMPEG2(w.data[:total-4])
	w.uint(32, uint64(crc))
	return w.data, nil
}

func (s *Section) commandType() byte {
	switch s.Kind {
	case KindInsert:
		return 0x05
	case KindTimeSignal:
		return 0x06
	default:
		return 0x00
	}
}

func encodeSpliceTime(w *writer, pts *uint64) {
	if pts != nil {
		w.bit(true)
		w.uint(6, 0x3F)
		w.uint(33, *pts)
	} else {
		w.bit(false)
		w.uint(7, 0x7F)
	}
}

func (s *Section) encodeCommand() []byte {
	switch s.Kind {
	case KindInsert:
		in := s.Insert
		n := 5 // event_id + cancel + reserved
		if !in.Cancel {
			n++ // flags
			if !in.Immediate {
				if in.PTSTime != nil {
					n += 5
				} else {
					n++
				}
			}
			if in.Duration != nil {
				n += 5
			}
			n += 4 // unique_program_id + avail_num + avails_expected
		}
		w := newWriter(n)
		w.uint(32, uint64(in.EventID))
		w.bit(in.Cancel)
		w.uint(7, 0x7F)
		if !in.Cancel {
			w.bit(in.OutOfNetwork)
			w.bit(true) // program_splice_flag
			w.bit(in.Duration != nil)
			w.bit(in.Immediate)
			w.uint(4, 0x0F)
			if !in.Immediate {
				encodeSpliceTime(w, in.PTSTime)
			}
			if in.Duration != nil {
				w.bit(in.AutoReturn)
				w.uint(6, 0x3F)
				w.uint(33, *in.Duration)
			}
			w.uint(16, uint64(in.UniqueProgramID))
			w.uint(8, uint64(in.AvailNum))
			w.uint(8, uint64(in.AvailsExpected))
		}
		return w.data

	case KindTimeSignal:
		n := 1
		if s.TimeSignal.PTSTime != nil {
			n = 5
		}
		w := newWriter(n)
		encodeSpliceTime(w, s.TimeSignal.PTSTime)
		return w.data

	default:
		return nil
	}
}
