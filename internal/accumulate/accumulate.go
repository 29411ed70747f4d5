// Package accumulate implements the append-only per-frame decision log a
// DataFlow worker writes to during analysis, and a RenderTask later reads
// once the worker completes.
package accumulate

import (
	"fmt"

	"github.com/vantapoint/ovi/internal/detect"
)

// RawData is one frame's recorded verdict: whether it should be kept,
// and the detection items every plugin consulted this frame reported,
// keyed by plugin uid.
type RawData struct {
	FrameNumber float64
	Include     bool
	Detections  map[string][]detect.Item
}

// Accumulator is an append-only list of RawData, written only by the
// DataFlow worker and read only after the worker has completed (the
// completion callback establishes that happens-before edge).
type Accumulator struct {
	raw []RawData
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Append records one frame's final verdict and detections.
func (a *Accumulator) Append(frameNumber float64, include bool, detections map[string][]detect.Item) {
	a.raw = append(a.raw, RawData{FrameNumber: frameNumber, Include: include, Detections: detections})
}

// Update overwrites the Include field of every entry from a multi-frame
// detector's retroactive verdicts. len(items) must equal len(a.raw).
func (a *Accumulator) Update(items []detect.Item) error {
	if len(items) != len(a.raw) {
		return fmt.Errorf("accumulate: update length %d does not match accumulated length %d", len(items), len(a.raw))
	}
	for i, it := range items {
		a.raw[i].Include = it.Bool
	}
	return nil
}

// Raw returns the accumulated entries in append order. The returned
// slice is owned by the caller; a is not retained.
func (a *Accumulator) Raw() []RawData {
	out := make([]RawData, len(a.raw))
	copy(out, a.raw)
	return out
}

// Len reports how many frames have been accumulated.
func (a *Accumulator) Len() int {
	return len(a.raw)
}
