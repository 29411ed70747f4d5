// Package ranges collapses an Accumulator's per-frame decision log into
// contiguous time ranges, tolerating brief false-negative gaps inside an
// otherwise-true run.
package ranges

import (
	"math"
	"sort"

	"github.com/vantapoint/ovi/internal/accumulate"
	"github.com/vantapoint/ovi/internal/detect"
)

// TimeRange is a contiguous, frame-indexed span.
type TimeRange struct {
	StartFrameNumber float64
	DurationFrames   float64
}

// PluginFrame is one frame's detection items under a single plugin uid,
// as recorded into a TimeRangeWithMetadata.
type PluginFrame struct {
	FrameNumber float64
	Items       []detect.Item
}

// TimeRangeWithMetadata is an emitted range plus, for every plugin uid
// that reported detections somewhere in the range, the ordered list of
// frames it fired on.
type TimeRangeWithMetadata struct {
	Range    TimeRange
	ByPlugin map[string][]PluginFrame
}

// Analyzer collapses RawData into TimeRangeWithMetadata entries using a
// correction window sized to the source framerate.
type Analyzer struct {
	window int
}

// New returns an Analyzer whose correction window is ceil(framerate)
// frames: enough to bridge up to ~1 second of false-negative gap inside
// an otherwise-true run.
func New(framerate float64) *Analyzer {
	w := int(math.Ceil(framerate))
	if w < 1 {
		w = 1
	}
	return &Analyzer{window: w}
}

// Analyze walks raw in order and emits the collapsed ranges.
func (a *Analyzer) Analyze(raw []accumulate.RawData) []TimeRangeWithMetadata {
	var out []TimeRangeWithMetadata

	inRun := false
	var start, duration float64
	var collected []accumulate.RawData

	emit := func() {
		out = append(out, TimeRangeWithMetadata{
			Range:    TimeRange{StartFrameNumber: start, DurationFrames: duration},
			ByPlugin: sortCollected(collected),
		})
		collected = nil
	}

	i := 0
	for i < len(raw) {
		r := raw[i]
		switch {
		case !inRun && r.Include:
			inRun = true
			start = r.FrameNumber
			duration = 1
			if len(r.Detections) > 0 {
				collected = append(collected, r)
			}
		case inRun && r.Include:
			duration++
			if len(r.Detections) > 0 {
				collected = append(collected, r)
			}
		case inRun && !r.Include:
			bridged := false
			limit := a.window - 1
			for j := 0; j < limit && i+1+j < len(raw); j++ {
				if raw[i+1+j].Include {
					duration += float64(j + 1)
					i += j
					bridged = true
					break
				}
			}
			if !bridged {
				emit()
				inRun = false
			}
		}
		i++
	}
	if inRun {
		emit()
	}

	return out
}

// sortCollected groups collected RawData by plugin uid, preserving
// frame order within each uid's list.
func sortCollected(collected []accumulate.RawData) map[string][]PluginFrame {
	byPlugin := make(map[string][]PluginFrame)
	for _, r := range collected {
		uids := make([]string, 0, len(r.Detections))
		for uid := range r.Detections {
			uids = append(uids, uid)
		}
		sort.Strings(uids)
		for _, uid := range uids {
			byPlugin[uid] = append(byPlugin[uid], PluginFrame{
				FrameNumber: r.FrameNumber,
				Items:       r.Detections[uid],
			})
		}
	}
	return byPlugin
}
