package tsdemux

// H.264 NAL unit types the extractors route on.
const (
	NALTypeIDR = 5
	NALTypeSEI = 6
	NALTypeSPS = 7
	NALTypePPS = 8
	NALTypeAUD = 9
)

// NALUnit is one H.264 NAL unit split out of an Annex-B byte stream.
// Data includes the NAL header byte.
type NALUnit struct {
	Type byte
	Data []byte
}

// SplitAnnexB splits an Annex-B elementary stream (3- or 4-byte start
// codes) into NAL units. Malformed trailers without a start code yield
// no units rather than an error; a detector sees an empty frame.
func SplitAnnexB(data []byte) []NALUnit {
	var units []NALUnit
	start := -1

	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				units = appendNAL(units, trimTrailingZero(data[start:i]))
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		units = appendNAL(units, data[start:])
	}
	return units
}

// trimTrailingZero drops the leading zero of a 4-byte start code that
// bled into the previous unit's tail.
func trimTrailingZero(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == 0 {
		return b[:n-1]
	}
	return b
}

func appendNAL(units []NALUnit, data []byte) []NALUnit {
	if len(data) == 0 {
		return units
	}
	return append(units, NALUnit{Type: data[0] & 0x1F, Data: data})
}

// CaptionSEIs returns every SEI NAL unit (header byte included) in an
// Annex-B access unit, the blobs a caption decoder consumes.
func CaptionSEIs(accessUnit []byte) [][]byte {
	var out [][]byte
	for _, n := range SplitAnnexB(accessUnit) {
		if n.Type == NALTypeSEI {
			out = append(out, n.Data)
		}
	}
	return out
}

// IsKeyframe reports whether the access unit contains an IDR slice.
func IsKeyframe(accessUnit []byte) bool {
	for _, n := range SplitAnnexB(accessUnit) {
		if n.Type == NALTypeIDR {
			return true
		}
	}
	return false
}
