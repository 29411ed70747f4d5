// Package sceneboundary is a video detector that fires once per SCTE-35
// splice cue, on the first frame at or after the cue's splice time. It
// reads the splice sections the extractor
// attaches as frame side data. Composed uncut (`~`) it annotates ad
// boundaries without cutting; composed with `&` it can pin cuts to
// splice points ("never cut across an ad boundary").
package sceneboundary

import (
	"fmt"

	"github.com/vantapoint/ovi/internal/detect"
	"github.com/vantapoint/ovi/internal/frame"
	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/internal/scte35"
	"github.com/vantapoint/ovi/plugin"
)

var _ plugin.Process = (*Detector)(nil)

// Detector implements plugin.Process for video frames carrying splice
// side data. It is stateful: a splice cue with a future PTS arms the
// detector, which then fires on the first frame reaching that time.
type Detector struct {
	armed   []pendingSplice
	holdout bool
}

type pendingSplice struct {
	ptsSeconds float64
	out        bool
}

// New returns a Detector with no pending splices.
func New() *Detector {
	return &Detector{}
}

func (d *Detector) Name() string { return "SceneBoundary" }

// MetaForm reports the shape of the items Process returns: the splice
// time in seconds as a Scalar.
func (d *Detector) MetaForm() metaform.MetaForm { return metaform.Double }

// AcceptedFormats lists the pixel formats Process accepts. Splice cues
// ride in side data, so only the compressed form carries them.
func (d *Detector) AcceptedFormats() []int { return []int{frame.PixelFormatAnnexB} }

// Process decodes any splice sections attached to the frame, arms
// pending splice points, and reports whether this frame sits at one.
func (d *Detector) Process(f *frame.Pack) (detect.Outcome, error) {
	if f.Type != frame.Video {
		return detect.Outcome{}, fmt.Errorf("sceneboundary: not a video frame")
	}

	if f.Side != nil {
		for _, raw := range f.Side.SpliceSections {
			s, err := scte35.Decode(raw)
			if err != nil {
				// A malformed cue is a stream defect, not a session-fatal
				// condition; skip it.
				continue
			}
			d.arm(s, f.PTS)
		}
	}

	var items []detect.Item
	rest := d.armed[:0]
	for _, p := range d.armed {
		if f.PTS >= p.ptsSeconds {
			items = append(items, detect.NewScalar(p.ptsSeconds))
			d.holdout = p.out
		} else {
			rest = append(rest, p)
		}
	}
	d.armed = rest

	return detect.Outcome{Detect: len(items) > 0, Items: items}, nil
}

// InBreak reports whether the most recent splice reached was an
// out-of-network point (inside an ad break).
func (d *Detector) InBreak() bool { return d.holdout }

func (d *Detector) arm(s *scte35.Section, framePTS float64) {
	switch s.Kind {
	case scte35.KindInsert:
		if s.Insert.Cancel {
			return
		}
		if s.Insert.Immediate {
			d.armed = append(d.armed, pendingSplice{ptsSeconds: framePTS, out: s.Insert.OutOfNetwork})
			return
		}
		if pts, ok := s.SplicePTS(); ok {
			d.armed = append(d.armed, pendingSplice{ptsSeconds: float64(pts) / 90000.0, out: s.Insert.OutOfNetwork})
		}
	case scte35.KindTimeSignal:
		if pts, ok := s.SplicePTS(); ok {
			d.armed = append(d.armed, pendingSplice{ptsSeconds: float64(pts) / 90000.0})
		}
	}
}
