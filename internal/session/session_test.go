package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vantapoint/ovi/internal/detect"
	"github.com/vantapoint/ovi/internal/frame"
	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/internal/ovierr"
	"github.com/vantapoint/ovi/internal/registry"
	"github.com/vantapoint/ovi/internal/timeline"
)

// fakeExtractor serves n synthetic frames of the configured streams.
type fakeExtractor struct {
	info  MediaInfo
	vNext int64
	aNext int64
	delay time.Duration
}

func (f *fakeExtractor) MediaInfo() MediaInfo { return f.info }
func (f *fakeExtractor) HasVideo() bool       { return f.info.HasVideo }
func (f *fakeExtractor) HasAudio() bool       { return f.info.HasAudio }

func (f *fakeExtractor) NextVideo() (*frame.Pack, error) {
	if !f.info.HasVideo || f.vNext >= int64(f.info.VideoTotalFrames) {
		return nil, nil
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.vNext++
	return frame.NewVideo(nil, f.vNext, float64(f.vNext-1)/f.info.VideoFramerate,
		f.info.VideoFramerate, int64(f.info.VideoTotalFrames),
		frame.VideoMeta{PixelFormat: frame.PixelFormatAnnexB}, nil), nil
}

func (f *fakeExtractor) NextAudio() (*frame.Pack, error) {
	if !f.info.HasAudio || f.aNext >= int64(f.info.AudioTotalFrames) {
		return nil, nil
	}
	f.aNext++
	return frame.NewAudio(nil, f.aNext, float64(f.aNext-1)/f.info.AudioFramerate,
		f.info.AudioFramerate, int64(f.info.AudioTotalFrames),
		frame.AudioMeta{SampleFormat: frame.SampleFormatAAC}, nil), nil
}

// passDetector always returns the configured verdict.
type passDetector struct {
	name    string
	verdict bool
	meta    metaform.MetaForm
}

func (p *passDetector) Name() string { return p.name }
func (p *passDetector) Process(*frame.Pack) (detect.Outcome, error) {
	return detect.Outcome{Detect: p.verdict}, nil
}

// fakeRender is a render backend capturing the timeline and attrs it
// receives.
type fakeRender struct {
	mu    sync.Mutex
	tl    *timeline.Timeline
	attrs map[string]string
	err   error
	forms map[string]registry.MetaForm
}

func (r *fakeRender) Name() string { return "FakeRender" }
func (r *fakeRender) ValidateEffectAttrs(map[string]string) error { return nil }

func (r *fakeRender) SetAttrs(attrs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attrs = make(map[string]string, len(attrs))
	for k, v := range attrs {
		r.attrs[k] = v
	}
}

func (r *fakeRender) attr(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attrs[key]
}
func (r *fakeRender) EffectMetaForm(name string) registry.MetaForm {
	if r.forms == nil {
		return registry.MetaAny
	}
	return r.forms[name]
}
func (r *fakeRender) Render(tl *timeline.Timeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tl = tl
	return r.err
}

func (r *fakeRender) timeline() *timeline.Timeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tl
}

// recorder captures callback activity and signals when the session
// returns to Idle after having left it.
type recorder struct {
	mu     sync.Mutex
	states []State
	errs   []error
	frames []int
	done   chan struct{}
	once   sync.Once
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{})} }

func (r *recorder) attach(t *testing.T, s *Session) {
	t.Helper()
	if err := s.OnStateChanged(func(st State) {
		r.mu.Lock()
		r.states = append(r.states, st)
		left := len(r.states) > 0 && r.states[0] != Idle
		r.mu.Unlock()
		if st == Idle && left {
			r.once.Do(func() { close(r.done) })
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.OnError(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.OnProgress(func(frameNum, total int) {
		r.mu.Lock()
		r.frames = append(r.frames, frameNum)
		r.mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not return to Idle")
	}
}

func (r *recorder) snapshot() ([]State, []error, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...), append([]error(nil), r.errs...), append([]int(nil), r.frames...)
}

func configured(t *testing.T, ext *fakeExtractor, render *fakeRender, detector *passDetector) (*Session, *recorder, string) {
	t.Helper()
	reg := registry.New(nil)
	s := New(nil, reg, func(string) (Extractor, error) { return ext, nil })

	rec := newRecorder()
	rec.attach(t, s)

	renderUID, err := s.AddPlugin("Render", registry.TypeRender, nil, registry.MetaNone, render)
	if err != nil {
		t.Fatal(err)
	}
	typ := registry.TypeVideoDetect
	if !ext.info.HasVideo {
		typ = registry.TypeAudioDetect
	}
	detUID, err := s.AddPlugin(detector.name, typ,
		[]int{frame.PixelFormatAnnexB, frame.SampleFormatAAC}, detector.meta, detector)
	if err != nil {
		t.Fatal(err)
	}

	for _, step := range []error{
		s.SetMediaPath("/media/in.ts"),
		s.SetOutputPath("/tmp/out"),
		s.SetRender(renderUID),
		s.RegisterExpression([]string{detUID}),
	} {
		if step != nil {
			t.Fatal(step)
		}
	}
	return s, rec, detUID
}

func TestAudioOnlyEndToEnd(t *testing.T) {
	t.Parallel()
	ext := &fakeExtractor{info: MediaInfo{
		HasAudio: true, AudioFramerate: 43, AudioTotalFrames: 100,
	}}
	render := &fakeRender{}
	s, rec, _ := configured(t, ext, render, &passDetector{name: "Level", verdict: true, meta: metaform.Double})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.wait(t)

	states, errs, _ := rec.snapshot()
	want := []State{Analysis, Render, Idle}
	if len(states) != 3 || states[0] != want[0] || states[1] != want[1] || states[2] != want[2] {
		t.Errorf("states = %v, want %v", states, want)
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}

	tl := render.timeline()
	if tl == nil {
		t.Fatal("render backend never invoked")
	}
	tracks := tl.Tracks()
	if len(tracks) != 1 || tracks[0].Type != timeline.MediaAudio {
		t.Fatalf("tracks = %+v", tracks)
	}
	if len(tracks[0].Clips) != 1 {
		t.Fatalf("got %d clips, want 1", len(tracks[0].Clips))
	}
	clip, _ := tl.Clip(tracks[0].Clips[0])
	if clip.Range.Start != 1 || clip.Range.Duration != 100 {
		t.Errorf("clip range = %+v, want the full 100 frames", clip.Range)
	}
	if got := render.attr("path"); got != "/tmp/out" {
		t.Errorf("render backend path = %q, want the configured output path", got)
	}
}

func TestConfigurationRejectedOutsideIdle(t *testing.T) {
	t.Parallel()
	ext := &fakeExtractor{
		info:  MediaInfo{HasVideo: true, VideoFramerate: 30, VideoTotalFrames: 500},
		delay: time.Millisecond,
	}
	render := &fakeRender{}
	s, rec, _ := configured(t, ext, render, &passDetector{name: "D", verdict: true, meta: metaform.Rect})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != Analysis {
		t.Fatalf("state after Start = %v", got)
	}

	if err := s.SetMediaPath("/other"); err == nil {
		t.Error("SetMediaPath accepted during Analysis")
	}
	if _, err := s.AddPlugin("X", registry.TypeVideoDetect, nil, registry.MetaRect, &passDetector{name: "X"}); err == nil {
		t.Error("AddPlugin accepted during Analysis")
	}
	if err := s.Start(); err == nil {
		t.Error("Start accepted during Analysis")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec.wait(t)

	// Clean cancel: no render stage, no error callback.
	states, errs, _ := rec.snapshot()
	for _, st := range states {
		if st == Render {
			t.Error("render stage ran after Stop")
		}
	}
	if len(errs) != 0 {
		t.Errorf("errors after clean stop = %v", errs)
	}
	if err := s.Stop(); err == nil {
		t.Error("Stop accepted in Idle")
	}
}

func TestStartValidatesConfiguration(t *testing.T) {
	t.Parallel()
	reg := registry.New(nil)
	s := New(nil, reg, func(string) (Extractor, error) {
		return &fakeExtractor{info: MediaInfo{HasVideo: true, VideoFramerate: 30, VideoTotalFrames: 1}}, nil
	})
	if err := s.Start(); err == nil {
		t.Fatal("Start accepted with nothing configured")
	} else if ovierr.CodeOf(err) != ovierr.InvalidParameter {
		t.Errorf("code = %v, want InvalidParameter", ovierr.CodeOf(err))
	}
}

func TestLinkMismatchFailsStart(t *testing.T) {
	t.Parallel()
	ext := &fakeExtractor{info: MediaInfo{HasVideo: true, VideoFramerate: 30, VideoTotalFrames: 10}}
	render := &fakeRender{forms: map[string]registry.MetaForm{"blur": registry.MetaRect}}

	reg := registry.New(nil)
	s := New(nil, reg, func(string) (Extractor, error) { return ext, nil })
	rec := newRecorder()
	rec.attach(t, s)

	renderUID, err := s.AddPlugin("Render", registry.TypeRender, nil, registry.MetaNone, render)
	if err != nil {
		t.Fatal(err)
	}
	// Detector produces Double, render wants Rect for "blur".
	detUID, err := s.AddPlugin("D", registry.TypeVideoDetect, nil, registry.MetaDouble,
		&passDetector{name: "D", verdict: true, meta: metaform.Double})
	if err != nil {
		t.Fatal(err)
	}
	effect := &effectBehavior{name: "blur"}
	effectUID, err := s.AddPlugin("Blur", registry.TypeVideoEffect, nil, registry.MetaAny, effect)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetPluginAttrs(effectUID, effect.EffectInfo()); err != nil {
		t.Fatal(err)
	}

	for _, step := range []error{
		s.SetMediaPath("/media/in.ts"),
		s.SetOutputPath("/tmp/out"),
		s.SetRender(renderUID),
		s.RegisterExpression([]string{detUID, ":", effectUID}),
	} {
		if step != nil {
			t.Fatal(step)
		}
	}

	err = s.Start()
	if err == nil {
		t.Fatal("Start accepted a mismatched link")
	}
	if ovierr.CodeOf(err) != ovierr.NotSupportedEffect {
		t.Errorf("code = %v, want NotSupportedEffect", ovierr.CodeOf(err))
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want Idle", s.State())
	}
	if states, _, _ := rec.snapshot(); len(states) != 0 {
		t.Errorf("stateChanged fired on a failed Start: %v", states)
	}
}

type effectBehavior struct{ name string }

func (e *effectBehavior) Name() string                  { return e.name }
func (e *effectBehavior) EffectInfo() map[string]string { return map[string]string{"name": e.name} }

func TestExtractorFailurePropagates(t *testing.T) {
	t.Parallel()
	reg := registry.New(nil)
	s := New(nil, reg, func(string) (Extractor, error) {
		return nil, ovierr.New(ovierr.NoSuchFile, "no such media")
	})

	renderUID, err := s.AddPlugin("Render", registry.TypeRender, nil, registry.MetaNone, &fakeRender{})
	if err != nil {
		t.Fatal(err)
	}
	detUID, err := s.AddPlugin("D", registry.TypeVideoDetect, nil, registry.MetaRect,
		&passDetector{name: "D", verdict: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []error{
		s.SetMediaPath("/missing.ts"),
		s.SetOutputPath("/tmp/out"),
		s.SetRender(renderUID),
		s.RegisterExpression([]string{detUID}),
	} {
		if step != nil {
			t.Fatal(step)
		}
	}

	err = s.Start()
	if ovierr.CodeOf(err) != ovierr.NoSuchFile {
		t.Errorf("Start = %v, want NoSuchFile", err)
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want Idle", s.State())
	}
}

func TestRenderErrorReachesErrorCallback(t *testing.T) {
	t.Parallel()
	ext := &fakeExtractor{info: MediaInfo{HasVideo: true, VideoFramerate: 30, VideoTotalFrames: 5}}
	boom := errors.New("backend failed")
	render := &fakeRender{err: boom}
	s, rec, _ := configured(t, ext, render, &passDetector{name: "D", verdict: true, meta: metaform.Rect})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.wait(t)

	_, errs, _ := rec.snapshot()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("errors = %v, want exactly the backend error", errs)
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want Idle", s.State())
	}
}

func TestProgressOrdered(t *testing.T) {
	t.Parallel()
	ext := &fakeExtractor{info: MediaInfo{HasVideo: true, VideoFramerate: 30, VideoTotalFrames: 8}}
	render := &fakeRender{}
	s, rec, _ := configured(t, ext, render, &passDetector{name: "D", verdict: true, meta: metaform.Rect})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.wait(t)

	states, _, frames := rec.snapshot()
	if states[0] != Analysis {
		t.Errorf("first stateChanged = %v, want Analysis", states[0])
	}
	for i := 1; i < len(frames); i++ {
		if frames[i] <= frames[i-1] {
			t.Fatalf("progress not ordered: %v", frames)
		}
	}
	if len(frames) != 8 {
		t.Errorf("got %d progress callbacks, want 8", len(frames))
	}
}
