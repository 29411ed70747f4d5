package tsdemux

import "fmt"

const packetSize = 188

// packet is one parsed 188-byte transport packet: the header fields the
// demuxer routes on, and the payload slice (aliasing the read buffer's
// copy, owned by the demuxer until consumed).
type packet struct {
	pid     uint16
	pusi    bool
	cc      byte
	payload []byte
}

// parsePacket validates the sync byte and skips the adaptation field.
// Packets with no payload come back with payload == nil.
func parsePacket(buf []byte) (packet, error) {
	if len(buf) != packetSize {
		return packet{}, fmt.Errorf("tsdemux: packet is %d bytes, want %d", len(buf), packetSize)
	}
	if buf[0] != 0x47 {
		return packet{}, fmt.Errorf("tsdemux: lost sync (0x%02X)", buf[0])
	}
	if buf[1]&0x80 != 0 {
		return packet{}, fmt.Errorf("tsdemux: transport error indicator set")
	}

	p := packet{
		pid:  uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		pusi: buf[1]&0x40 != 0,
		cc:   buf[3] & 0x0F,
	}

	afc := buf[3] >> 4 & 0x3
	offset := 4
	if afc&0x2 != 0 { // adaptation field present
		afLen := int(buf[4])
		offset += 1 + afLen
		if offset > packetSize {
			return packet{}, fmt.Errorf("tsdemux: adaptation field length %d overflows packet", afLen)
		}
	}
	if afc&0x1 != 0 && offset < packetSize {
		p.payload = buf[offset:]
	}
	return p, nil
}
