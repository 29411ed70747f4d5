package frame

// Pixel format identifiers carried in VideoMeta.PixelFormat. Extractors
// that do not decode (the TS-based reference extractors) emit compressed
// access units tagged AnnexB; decoding extractors emit planar formats.
const (
	PixelFormatNone = iota
	PixelFormatAnnexB
	PixelFormatI420
	PixelFormatNV12
	PixelFormatRGB24
)

// Sample format identifiers carried in AudioMeta.SampleFormat.
const (
	SampleFormatNone = iota
	SampleFormatS16
	SampleFormatF32
	SampleFormatAAC
)
