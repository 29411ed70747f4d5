// Package cache implements the per-frame outcome memoization layer: once
// a plugin has produced an Outcome during the current frame's evaluation,
// later references to the same uid (e.g. an "&"-joined pipeline that
// shares a detector) reuse it instead of re-invoking the plugin.
package cache

import "github.com/vantapoint/ovi/internal/detect"

// Cache memoizes the last Outcome each plugin uid produced during the
// current frame's evaluation. It is worker-thread-local: a single
// DataFlow worker owns one Cache and clears it between frames, so no
// synchronization is needed.
type Cache struct {
	storage   map[string]detect.Outcome
	detected  map[string][]detect.Item
	resultUID string
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		storage:  make(map[string]detect.Outcome),
		detected: make(map[string][]detect.Item),
	}
}

// Hit reports whether uid already has a memoized Outcome this frame.
func (c *Cache) Hit(uid string) bool {
	_, ok := c.storage[uid]
	return ok
}

// Write inserts or replaces uid's Outcome and makes it the current result.
func (c *Cache) Write(uid string, outcome detect.Outcome) {
	c.storage[uid] = outcome
	c.SetResultUID(uid)
}

// SetResultUID makes Result return storage[uid] without writing a new
// Outcome. Used when a logic-analyzer step reuses an already-cached
// verdict.
func (c *Cache) SetResultUID(uid string) {
	c.resultUID = uid
}

// Result returns the Outcome for resultUID, or the default pass-through
// Outcome if the cache or resultUID is empty.
func (c *Cache) Result() detect.Outcome {
	if c.Empty() {
		return detect.Default
	}
	return c.storage[c.resultUID]
}

// Empty reports whether the cache has nothing memoized, or no result has
// been designated yet.
func (c *Cache) Empty() bool {
	return len(c.storage) == 0 || c.resultUID == ""
}

// SetDetected copies the current Result's items into a side-table keyed
// by uid, used to carry an effect plugin's declared detections (recorded
// against the effect's own uid, not the detector's) forward to the
// accumulator.
func (c *Cache) SetDetected(uid string) {
	c.detected[uid] = c.Result().Items
}

// AllDetections returns the side-table built by SetDetected calls this
// frame, keyed by plugin uid.
func (c *Cache) AllDetections() map[string][]detect.Item {
	return c.detected
}

// FindMultiFrameResult reports whether any memoized Outcome this frame is
// a multi-frame (Bool-typed items) result.
func (c *Cache) FindMultiFrameResult() bool {
	for _, o := range c.storage {
		if detect.IsMultiFrame(o) {
			return true
		}
	}
	return false
}

// MultiFrameResult returns the items of the first multi-frame Outcome
// found. Callers must check FindMultiFrameResult first.
func (c *Cache) MultiFrameResult() []detect.Item {
	for _, o := range c.storage {
		if detect.IsMultiFrame(o) {
			return o.Items
		}
	}
	return nil
}

// Clear resets the cache for the next frame. Fresh maps are allocated
// rather than cleared in place: the previous frame's detected table has
// been handed to the accumulator, which now owns it.
func (c *Cache) Clear() {
	c.storage = make(map[string]detect.Outcome)
	c.detected = make(map[string][]detect.Item)
	c.resultUID = ""
}
