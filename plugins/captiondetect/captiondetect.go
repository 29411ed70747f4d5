// Package captiondetect is a video detector that keeps frames whose
// embedded CEA-608 captions match a configured substring. It decodes the
// caption SEI blobs the extractor attaches as frame side data; the pixel
// payload itself is never inspected.
package captiondetect

import (
	"fmt"
	"strings"

	"github.com/zsiec/ccx"

	"github.com/vantapoint/ovi/internal/detect"
	"github.com/vantapoint/ovi/internal/frame"
	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/plugin"
)

var _ plugin.Process = (*Detector)(nil)

// Detector implements plugin.Process for video frames carrying caption
// side data. CEA-608 decoding is stateful across frames, so one Detector
// instance must see the stream's frames in order.
type Detector struct {
	match string

	decoders  map[int]*ccx.CEA608Decoder
	decodeSEI func(sei []byte) []string
}

// New returns a Detector matching any caption text. Set the "match"
// attribute to narrow it to a substring.
func New() *Detector {
	d := &Detector{
		decoders: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
	d.decodeSEI = d.decode608
	return d
}

func (d *Detector) Name() string { return "CaptionDetect" }

// MetaForm reports the shape of the items Process returns: tagged rects
// whose label carries the matched caption text.
func (d *Detector) MetaForm() metaform.MetaForm { return metaform.RectTag }

// AcceptedFormats lists the pixel formats Process accepts. Captions ride
// in SEI side data, so only the compressed Annex-B form carries them.
func (d *Detector) AcceptedFormats() []int { return []int{frame.PixelFormatAnnexB} }

// SetAttrs applies the frozen attribute map: "match" is the
// case-insensitive substring a caption must contain.
func (d *Detector) SetAttrs(attrs map[string]string) {
	if v, ok := attrs["match"]; ok {
		d.match = strings.ToLower(v)
	}
}

// Process decodes every caption SEI attached to the frame and reports a
// detection per caption line matching the configured substring.
func (d *Detector) Process(f *frame.Pack) (detect.Outcome, error) {
	if f.Type != frame.Video {
		return detect.Outcome{}, fmt.Errorf("captiondetect: not a video frame")
	}

	var items []detect.Item
	if f.Side != nil {
		for _, sei := range f.Side.CaptionSEI {
			for _, text := range d.decodeSEI(sei) {
				if d.match != "" && !strings.Contains(strings.ToLower(text), d.match) {
					continue
				}
				items = append(items, detect.NewRectTag(0, 0, 0, 0, text))
			}
		}
	}
	return detect.Outcome{Detect: len(items) > 0, Items: items}, nil
}

// decode608 feeds one SEI blob's CC byte pairs through the per-channel
// CEA-608 decoders and collects the completed caption lines.
func (d *Detector) decode608(sei []byte) []string {
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return nil
	}
	var lines []string
	for _, pair := range cd.CC608Pairs {
		dec := d.decoders[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(pair.Data[0], pair.Data[1]); text != "" {
			lines = append(lines, text)
		}
	}
	return lines
}
