package cache

import (
	"reflect"
	"testing"

	"github.com/vantapoint/ovi/internal/detect"
)

func TestEmptyCacheReturnsDefault(t *testing.T) {
	t.Parallel()
	c := New()
	got := c.Result()
	if !got.Detect || len(got.Items) != 0 {
		t.Errorf("Result() = %+v, want the pass-through default", got)
	}
	if c.Hit("face.1") {
		t.Error("Hit on an empty cache")
	}
}

func TestWriteSetsResult(t *testing.T) {
	t.Parallel()
	c := New()
	out := detect.Outcome{Detect: false, Items: []detect.Item{detect.NewRect(1, 2, 3, 4)}}
	c.Write("face.1", out)

	if !c.Hit("face.1") {
		t.Error("Hit = false after Write")
	}
	if got := c.Result(); !reflect.DeepEqual(got, out) {
		t.Errorf("Result() = %+v, want %+v", got, out)
	}
}

func TestSetResultUIDSwitchesResult(t *testing.T) {
	t.Parallel()
	c := New()
	a := detect.Outcome{Detect: true, Items: []detect.Item{detect.NewScalar(1)}}
	b := detect.Outcome{Detect: false}
	c.Write("a.1", a)
	c.Write("b.2", b)

	if got := c.Result(); got.Detect {
		t.Errorf("Result() after second Write = %+v, want b's outcome", got)
	}
	c.SetResultUID("a.1")
	if got := c.Result(); !got.Detect || len(got.Items) != 1 {
		t.Errorf("Result() after SetResultUID = %+v, want a's outcome", got)
	}
}

func TestDetectedSideTable(t *testing.T) {
	t.Parallel()
	c := New()
	items := []detect.Item{detect.NewRect(5, 6, 7, 8)}
	c.Write("face.1", detect.Outcome{Detect: true, Items: items})
	c.SetDetected("blur.2")

	all := c.AllDetections()
	if len(all) != 1 {
		t.Fatalf("AllDetections has %d entries, want 1", len(all))
	}
	if !reflect.DeepEqual(all["blur.2"], items) {
		t.Errorf("detected[blur.2] = %+v, want the current result's items", all["blur.2"])
	}
}

func TestMultiFrameResult(t *testing.T) {
	t.Parallel()
	c := New()
	c.Write("a.1", detect.Outcome{Detect: true, Items: []detect.Item{detect.NewScalar(3)}})
	if c.FindMultiFrameResult() {
		t.Error("scalar outcome reported as multi-frame")
	}

	bools := []detect.Item{detect.NewBool(false), detect.NewBool(true)}
	c.Write("m.2", detect.Outcome{Detect: true, Items: bools})
	if !c.FindMultiFrameResult() {
		t.Error("bool-typed outcome not reported as multi-frame")
	}
	if got := c.MultiFrameResult(); !reflect.DeepEqual(got, bools) {
		t.Errorf("MultiFrameResult = %+v", got)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	c := New()
	c.Write("a.1", detect.Outcome{Detect: false})
	c.SetDetected("e.2")
	c.Clear()

	if c.Hit("a.1") {
		t.Error("Hit after Clear")
	}
	if len(c.AllDetections()) != 0 {
		t.Error("detections survived Clear")
	}
	if got := c.Result(); !got.Detect {
		t.Errorf("Result() after Clear = %+v, want default", got)
	}
}
