// Package flow implements the DataFlow worker: a single cooperative loop
// that fetches synchronized video/audio frames, drives the logic
// analyzer and plugin registry to decide each frame's inclusion, and
// appends the verdict to an accumulator.
package flow

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/vantapoint/ovi/internal/accumulate"
	"github.com/vantapoint/ovi/internal/cache"
	"github.com/vantapoint/ovi/internal/detect"
	"github.com/vantapoint/ovi/internal/frame"
	"github.com/vantapoint/ovi/internal/logic"
	"github.com/vantapoint/ovi/internal/registry"
)

// Synchronizer is the subset of *avsync.Synchronizer the worker drives.
type Synchronizer interface {
	NextVideo() (*frame.Pack, error)
	NextAudio() ([]*frame.Pack, error)
}

// Process is implemented by detector plugins; matches plugin.Process
// structurally without importing the plugin package.
type Process interface {
	Process(f *frame.Pack) (detect.Outcome, error)
}

// Worker runs the per-frame analysis loop on its own goroutine. Run
// drives it to completion or until Stop is called; the caller is
// responsible for invoking the completion callback exactly once with
// Run's returned error.
type Worker struct {
	log *slog.Logger

	sync       Synchronizer
	analyzer   *logic.Analyzer
	reg        *registry.Registry
	acc        *accumulate.Accumulator
	cache      *cache.Cache
	skipFrames int

	totalFrames int
	onProgress  func(frameNum, total int)
	audioSeq    int64

	run atomic.Bool
}

// New builds a Worker. totalFrames is used only for progress reporting.
func New(log *slog.Logger, sync Synchronizer, analyzer *logic.Analyzer, reg *registry.Registry, acc *accumulate.Accumulator, skipFrames, totalFrames int, onProgress func(frameNum, total int)) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		log:         log.With("component", "flow"),
		sync:        sync,
		analyzer:    analyzer,
		reg:         reg,
		acc:         acc,
		cache:       cache.New(),
		skipFrames:  skipFrames,
		totalFrames: totalFrames,
		onProgress:  onProgress,
	}
	// Armed at construction, not at Run, so a Stop that lands before the
	// worker goroutine is scheduled is not lost.
	w.run.Store(true)
	return w
}

// Stop requests the worker's loop to exit after its current iteration.
func (w *Worker) Stop() {
	w.run.Store(false)
}

// Run executes the worker loop to completion (EOF) or until Stop is
// called, and returns the first error encountered, or nil.
func (w *Worker) Run() error {
	for w.run.Load() {
		v, videoSkipCount, a, err := w.fetch()
		if err != nil {
			return fmt.Errorf("flow: fetch: %w", err)
		}
		if v == nil && len(a) == 0 {
			return nil
		}
		if !w.run.Load() {
			return nil
		}

		vd, err := w.evaluateFrame(v, a)
		if err != nil {
			return fmt.Errorf("flow: evaluate: %w", err)
		}
		if !w.run.Load() {
			return nil
		}

		switch {
		case vd.multiFrame:
			if err := w.acc.Update(vd.multiFrameItems); err != nil {
				return fmt.Errorf("flow: multi-frame update: %w", err)
			}
		case v != nil:
			w.appendResult(v, videoSkipCount, vd.include, vd.detections)
		default:
			w.appendAudioOnlyResult(a, vd.include, vd.detections)
		}

		if w.onProgress != nil {
			if v != nil {
				w.onProgress(int(v.Ordinal), w.totalFrames)
			} else {
				w.onProgress(int(w.audioSeq), w.totalFrames)
			}
		}

		if !w.run.Load() {
			return nil
		}
	}
	return nil
}

// fetch applies the skipFrames policy: repeat the underlying fetch up to
// skipFrames+1 times, keeping only the last video frame and the last
// batch of audio frames. videoSkipCount reports how many video fetch
// attempts (including the kept one) actually yielded a frame, so the
// caller can append one raw entry per skipped predecessor.
func (w *Worker) fetch() (v *frame.Pack, videoSkipCount int, a []*frame.Pack, err error) {
	for i := 0; i <= w.skipFrames; i++ {
		vv, verr := w.sync.NextVideo()
		if verr != nil {
			return nil, 0, nil, verr
		}
		aa, aerr := w.sync.NextAudio()
		if aerr != nil {
			return nil, 0, nil, aerr
		}
		if vv == nil && len(aa) == 0 {
			break
		}
		if vv != nil {
			v = vv
			videoSkipCount++
		}
		if len(aa) > 0 {
			a = aa
		}
	}
	return v, videoSkipCount, a, nil
}

// verdict is the outcome of one frame's expression evaluation: either a
// plain inclusion verdict plus the detections to record against it, or a
// multi-frame detector's retroactive correction to every prior entry.
type verdict struct {
	include         bool
	detections      map[string][]detect.Item
	multiFrame      bool
	multiFrameItems []detect.Item
}

// evaluateFrame runs the compiled expression to completion for one
// frame, using v/a as the inputs to each dispatched detector.
func (w *Worker) evaluateFrame(v *frame.Pack, a []*frame.Pack) (verdict, error) {
	w.analyzer.Reset()
	w.cache.Clear()

	prevVerdict := detect.Default.Detect
	for {
		if !w.run.Load() {
			return verdict{}, nil
		}

		uid, eop := w.analyzer.NextPlugin(prevVerdict)
		if eop {
			if w.cache.FindMultiFrameResult() {
				return verdict{multiFrame: true, multiFrameItems: w.cache.MultiFrameResult()}, nil
			}
			return verdict{include: w.analyzer.Include(), detections: w.cache.AllDetections()}, nil
		}

		if w.cache.Hit(uid) {
			w.cache.SetResultUID(uid)
			prevVerdict = w.cache.Result().Detect
			continue
		}

		h, err := w.reg.Find(uid)
		if err != nil {
			return verdict{}, err
		}

		if h.Type.IsEffect() {
			w.cache.SetDetected(uid)
			prevVerdict = w.cache.Result().Detect
			continue
		}

		res, err := w.processPlugin(h, v, a)
		if err != nil {
			return verdict{}, fmt.Errorf("plugin %q: %w", uid, err)
		}
		w.cache.Write(uid, res)
		prevVerdict = res.Detect
	}
}

// processPlugin dispatches on the plugin's type: a VideoDetect converts
// and consults the video frame; an AudioDetect iterates the audio frames
// and short-circuits on the first positive detection.
func (w *Worker) processPlugin(h *registry.Handle, v *frame.Pack, a []*frame.Pack) (detect.Outcome, error) {
	proc, ok := h.Behavior.(Process)
	if !ok {
		return detect.Outcome{}, fmt.Errorf("plugin %q does not implement Process", h.UID)
	}

	switch h.Type {
	case registry.TypeVideoDetect:
		if v == nil {
			return detect.Default, nil
		}
		converted, err := v.Convert(h.Formats)
		if err != nil {
			return detect.Outcome{}, err
		}
		return proc.Process(converted)

	case registry.TypeAudioDetect:
		// An empty audio window (audio sparser than video, or the next
		// frame held for a later window) falls through to the default
		// pass-through outcome rather than excluding the video frame.
		last := detect.Default
		for _, af := range a {
			converted, err := af.Convert(h.Formats)
			if err != nil {
				return detect.Outcome{}, err
			}
			out, err := proc.Process(converted)
			if err != nil {
				return detect.Outcome{}, err
			}
			last = out
			if out.Detect {
				return out, nil
			}
		}
		return last, nil

	default:
		return detect.Outcome{}, fmt.Errorf("plugin %q has non-detector type %s", h.UID, h.Type)
	}
}

// appendResult records one raw entry for each skipped predecessor and one
// for the current video frame, all sharing this frame's verdict and
// detections. Entries go in ascending frame order so the accumulator's
// frameNumber column stays strictly increasing.
func (w *Worker) appendResult(v *frame.Pack, videoSkipCount int, include bool, detections map[string][]detect.Item) {
	if videoSkipCount < 1 {
		videoSkipCount = 1
	}
	base := v.Ordinal
	for i := videoSkipCount - 1; i >= 0; i-- {
		w.acc.Append(float64(base-int64(i)), include, detections)
	}
}

// appendAudioOnlyResult records one raw entry per audio frame, keyed to
// each frame's own ordinal, for media with no video stream.
func (w *Worker) appendAudioOnlyResult(a []*frame.Pack, include bool, detections map[string][]detect.Item) {
	for _, af := range a {
		w.acc.Append(float64(af.Ordinal), include, detections)
		w.audioSeq = af.Ordinal
	}
}
