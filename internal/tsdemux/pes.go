package tsdemux

import "fmt"

// NoPTS marks a PES packet whose header carried no presentation time.
const NoPTS = int64(-1)

// pesAssembler accumulates one elementary stream's PES packet across
// transport packets. A PUSI packet closes the previous PES and starts
// the next, so a complete unit is only known once its successor begins
// (or the stream ends).
type pesAssembler struct {
	buf []byte
}

// add consumes a packet payload and returns the previous complete PES
// packet when this packet starts a new one.
func (a *pesAssembler) add(payload []byte, pusi bool) (pts int64, es []byte, ok bool, err error) {
	if !pusi {
		if len(a.buf) > 0 {
			a.buf = append(a.buf, payload...)
		}
		return 0, nil, false, nil
	}

	pts, es, ok, err = a.flush()
	a.buf = append([]byte(nil), payload...)
	return pts, es, ok, err
}

// flush parses and returns whatever PES packet is buffered.
func (a *pesAssembler) flush() (pts int64, es []byte, ok bool, err error) {
	if len(a.buf) == 0 {
		return 0, nil, false, nil
	}
	buf := a.buf
	a.buf = nil
	pts, es, err = parsePES(buf)
	if err != nil {
		return 0, nil, false, err
	}
	return pts, es, true, nil
}

// parsePES strips the PES header, returning the PTS (or NoPTS) and the
// elementary-stream payload.
func parsePES(data []byte) (int64, []byte, error) {
	if len(data) < 9 {
		return 0, nil, fmt.Errorf("tsdemux: PES packet too short (%d bytes)", len(data))
	}
	if data[0] != 0x00 || data[1] != 0x00 || data[2] != 0x01 {
		return 0, nil, fmt.Errorf("tsdemux: bad PES start code %02X%02X%02X", data[0], data[1], data[2])
	}
	if data[6]&0xC0 != 0x80 {
		return 0, nil, fmt.Errorf("tsdemux: PES marker bits missing")
	}

	ptsDTSFlags := data[7] >> 6
	headerLen := int(data[8])
	esStart := 9 + headerLen
	if esStart > len(data) {
		return 0, nil, fmt.Errorf("tsdemux: PES header length %d overflows packet", headerLen)
	}

	pts := NoPTS
	if ptsDTSFlags&0x2 != 0 {
		if headerLen < 5 {
			return 0, nil, fmt.Errorf("tsdemux: PTS flagged but header too short")
		}
		pts = parseTimestamp(data[9:14])
	}
	return pts, data[esStart:], nil
}

// parseTimestamp decodes the 33-bit 90 kHz clock spread over 5 bytes
// with marker bits.
func parseTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
