// Package audiolevel is an audio detector that keeps frames whose RMS
// level exceeds a decibel threshold. With the inverse attribute set it
// becomes a silence detector. It consumes float32 PCM frames, so it
// pairs with a decoding extractor.
package audiolevel

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/vantapoint/ovi/internal/detect"
	"github.com/vantapoint/ovi/internal/frame"
	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/plugin"
)

var _ plugin.Process = (*Detector)(nil)

const referencePressure = 0.00002

// Detector implements plugin.Process for audio frames.
type Detector struct {
	threshold float64
	inverse   bool
}

// New returns a Detector with the default 60 dB threshold.
func New() *Detector {
	return &Detector{threshold: 60}
}

func (d *Detector) Name() string { return "AudioLevel" }

// MetaForm reports the shape of the items Process returns.
func (d *Detector) MetaForm() metaform.MetaForm { return metaform.Double }

// AcceptedFormats lists the sample formats Process understands.
func (d *Detector) AcceptedFormats() []int { return []int{frame.SampleFormatF32} }

// SetAttrs applies the frozen attribute map: "threshold" (dB) and
// "inverse" ("1" flips the verdict, turning this into silence detect).
func (d *Detector) SetAttrs(attrs map[string]string) {
	if v, ok := attrs["threshold"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.threshold = f
		}
	}
	if v, ok := attrs["inverse"]; ok {
		d.inverse = v == "1"
	}
}

// Process computes the frame's RMS level in dB and compares it to the
// threshold. The measured level is always reported as a Scalar item so
// downstream effects can carry it regardless of the verdict.
func (d *Detector) Process(f *frame.Pack) (detect.Outcome, error) {
	if f.Type != frame.Audio || f.Audio == nil {
		return detect.Outcome{}, fmt.Errorf("audiolevel: not an audio frame")
	}
	if f.Audio.SampleFormat != frame.SampleFormatF32 {
		return detect.Outcome{}, fmt.Errorf("audiolevel: sample format %d is not f32", f.Audio.SampleFormat)
	}
	if len(f.Payload)%4 != 0 {
		return detect.Outcome{}, fmt.Errorf("audiolevel: payload length %d is not a whole number of f32 samples", len(f.Payload))
	}

	db := toDecibel(rms(f.Payload))
	detected := db > d.threshold
	if d.inverse {
		detected = !detected
	}
	return detect.Outcome{
		Detect: detected,
		Items:  []detect.Item{detect.NewScalar(db)},
	}, nil
}

func rms(payload []byte) float64 {
	n := len(payload) / 4
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(payload); i += 4 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(payload[i:]))
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(n))
}

func toDecibel(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v/referencePressure)
}
