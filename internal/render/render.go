// Package render implements RenderTask: it turns an Accumulator's raw
// per-frame log into collapsed time ranges, builds the editorial
// timeline from them, and hands the timeline to the render backend.
package render

import (
	"fmt"

	"github.com/vantapoint/ovi/internal/accumulate"
	"github.com/vantapoint/ovi/internal/detect"
	"github.com/vantapoint/ovi/internal/ranges"
	"github.com/vantapoint/ovi/internal/registry"
	"github.com/vantapoint/ovi/internal/timeline"
)

// Renderer is the subset of plugin.Render the render task needs; kept
// narrow here so this package does not depend on the plugin package.
type Renderer interface {
	Render(tl *timeline.Timeline) error
}

// Task holds everything RenderTask needs to run once: source media
// description, the registry (for resolving effect uids' plugin names),
// the accumulated per-frame log, and where to write the result.
type Task struct {
	MediaPath   string
	Framerate   float64
	TotalFrames int
	PrimaryType timeline.MediaType

	Registry *registry.Registry
	Raw      []accumulate.RawData

	RenderUID  string
	OutputPath string
}

// Run computes ranges, builds the timeline, sets the render backend's
// output path attribute, and invokes render. It stops at the first
// error, which the caller delivers through the completion callback.
func (t *Task) Run(renderer Renderer) error {
	analyzer := ranges.New(t.Framerate)
	collapsed := analyzer.Analyze(t.Raw)

	tl := timeline.New()
	media := tl.AddMediaRef(t.MediaPath, t.Framerate, t.TotalFrames)
	const trackName = "Track-001"
	if _, err := tl.AddTrack(trackName, t.PrimaryType); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	for _, r := range collapsed {
		effectUIDs := make([]string, 0, len(r.ByPlugin))
		for uid := range r.ByPlugin {
			effectUIDs = append(effectUIDs, uid)
		}

		clipRange := timeline.Range{Start: int(r.Range.StartFrameNumber), Duration: int(r.Range.DurationFrames)}
		_, effectIDs, err := tl.AppendClip(trackName, media, clipRange, effectUIDs)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}

		for i, uid := range effectUIDs {
			for _, pf := range r.ByPlugin[uid] {
				items := make([]map[string]any, 0, len(pf.Items))
				for _, it := range pf.Items {
					items = append(items, itemToMap(it))
				}
				if err := tl.EffectAddFrame(effectIDs[i], int(pf.FrameNumber), items); err != nil {
					return fmt.Errorf("render: %w", err)
				}
			}
		}
	}

	if t.RenderUID != "" {
		if err := t.Registry.SetAttrs(t.RenderUID, map[string]string{"path": t.OutputPath}); err != nil {
			return fmt.Errorf("render: %w", err)
		}
		// The session froze attrs into every Behavior at start, before
		// the output path existed; push the render backend's again so
		// the path actually reaches it.
		if err := t.Registry.ApplyAttrs(t.RenderUID); err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}

	if err := renderer.Render(tl); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}

// itemToMap converts a detection item into the generic dict shape the
// timeline's effect metadata carries, using a single Visit dispatch
// rather than a visitor-per-consumer hierarchy.
func itemToMap(item detect.Item) map[string]any {
	m := make(map[string]any)
	detect.Visit(item, detect.Visitor{
		Rect: func(r detect.Rect) {
			m["x"], m["y"], m["w"], m["h"] = r.X, r.Y, r.W, r.H
		},
		RectTag: func(r detect.RectTag) {
			m["x"], m["y"], m["w"], m["h"], m["label"] = r.X, r.Y, r.W, r.H, r.Label
		},
		Scalar: func(v float64) {
			m["value"] = v
		},
		Bool: func(v bool) {
			m["value"] = v
		},
	})
	return m
}
