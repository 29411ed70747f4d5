// Package plugin defines the interfaces a detector, effect, or render
// backend implements to be driven by the data flow worker and render
// task. Concrete detectors, effects, and render backends live outside
// the engine core; the interfaces they satisfy live here so both the
// core and third-party plugin packages can depend on them without an
// import cycle.
package plugin

import (
	"github.com/vantapoint/ovi/internal/detect"
	"github.com/vantapoint/ovi/internal/frame"
	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/internal/timeline"
)

// Process is implemented by VideoDetect and AudioDetect plugins: given a
// single format-converted frame, decide inclusion and report detections.
type Process interface {
	Process(f *frame.Pack) (detect.Outcome, error)
}

// Effect is implemented by VideoEffect and AudioEffect plugins. EffectInfo
// must contain a "name" key identifying which render-backend effect kind
// this plugin declares; effect plugins are never invoked to process
// frames, only consulted for their static info map.
type Effect interface {
	EffectInfo() map[string]string
}

// Render is implemented by the render backend plugin. ValidateEffectAttrs
// is called eagerly at Session.Start for every registered effect plugin's
// attribute map; EffectMetaForm reports the MetaForm a named effect kind
// accepts, used by link validation; Render consumes the finished
// timeline.
type Render interface {
	ValidateEffectAttrs(attrs map[string]string) error
	EffectMetaForm(effectName string) metaform.MetaForm
	Render(tl *timeline.Timeline) error
}
