// Package marker is a declarative video effect that draws a box over
// each detection rect of the detector it is attached to. The engine
// never invokes it during analysis; it only contributes its info map to
// link validation and per-frame metadata to the rendered timeline.
package marker

import "github.com/vantapoint/ovi/plugin"

var _ plugin.Effect = (*Effect)(nil)

// Effect implements plugin.Effect.
type Effect struct {
	attrs map[string]string
}

// New returns an Effect with default styling.
func New() *Effect {
	return &Effect{attrs: map[string]string{
		"name":      "marker",
		"color":     "red",
		"thickness": "2",
	}}
}

func (e *Effect) Name() string { return "marker" }

// EffectInfo returns the declarative attribute map the render backend
// validates at session start. "name" selects the backend effect kind.
func (e *Effect) EffectInfo() map[string]string {
	out := make(map[string]string, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}

// SetAttrs merges the frozen attribute map over the defaults.
func (e *Effect) SetAttrs(attrs map[string]string) {
	for k, v := range attrs {
		e.attrs[k] = v
	}
}
