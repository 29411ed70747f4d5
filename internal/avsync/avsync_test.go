package avsync

import (
	"testing"

	"github.com/vantapoint/ovi/internal/frame"
)

// fakeExtractor serves pre-built frame queues.
type fakeExtractor struct {
	video []*frame.Pack
	audio []*frame.Pack
}

func (f *fakeExtractor) HasVideo() bool { return f.video != nil }
func (f *fakeExtractor) HasAudio() bool { return f.audio != nil }

func (f *fakeExtractor) NextVideo() (*frame.Pack, error) {
	if len(f.video) == 0 {
		return nil, nil
	}
	p := f.video[0]
	f.video = f.video[1:]
	return p, nil
}

func (f *fakeExtractor) NextAudio() (*frame.Pack, error) {
	if len(f.audio) == 0 {
		return nil, nil
	}
	p := f.audio[0]
	f.audio = f.audio[1:]
	return p, nil
}

func vf(ordinal int64, pts float64) *frame.Pack {
	return frame.NewVideo(nil, ordinal, pts, 30, 100, frame.VideoMeta{}, nil)
}

func af(ordinal int64, pts float64) *frame.Pack {
	return frame.NewAudio(nil, ordinal, pts, 43, 100, frame.AudioMeta{}, nil)
}

func TestPairsAudioWithVideoWindow(t *testing.T) {
	t.Parallel()
	// Video at 0.0s, 0.5s; audio every 0.2s.
	ext := &fakeExtractor{
		video: []*frame.Pack{vf(1, 0.0), vf(2, 0.5)},
		audio: []*frame.Pack{af(1, 0.0), af(2, 0.2), af(3, 0.4), af(4, 0.6)},
	}
	s := New(ext)

	v, err := s.NextVideo()
	if err != nil || v == nil || v.Ordinal != 1 {
		t.Fatalf("NextVideo = %v, %v", v, err)
	}
	a, err := s.NextAudio()
	if err != nil {
		t.Fatalf("NextAudio: %v", err)
	}
	if len(a) != 1 || a[0].Ordinal != 1 {
		t.Fatalf("first window = %d frames, want the one frame at pts<=0", len(a))
	}

	v, err = s.NextVideo()
	if err != nil || v.Ordinal != 2 {
		t.Fatalf("NextVideo = %v, %v", v, err)
	}
	a, err = s.NextAudio()
	if err != nil {
		t.Fatalf("NextAudio: %v", err)
	}
	if len(a) != 2 || a[0].Ordinal != 2 || a[1].Ordinal != 3 {
		t.Fatalf("second window = %+v, want audio frames 2 and 3", ordinals(a))
	}
}

func TestAudioTailDiscardedAfterVideoEOF(t *testing.T) {
	t.Parallel()
	ext := &fakeExtractor{
		video: []*frame.Pack{vf(1, 0.0)},
		audio: []*frame.Pack{af(1, 0.0), af(2, 5.0)},
	}
	s := New(ext)

	if _, err := s.NextVideo(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.NextAudio(); err != nil {
		t.Fatal(err)
	}

	v, err := s.NextVideo()
	if err != nil || v != nil {
		t.Fatalf("NextVideo at EOF = %v, %v", v, err)
	}
	if !s.VideoEOF() {
		t.Error("VideoEOF not reported")
	}
	a, err := s.NextAudio()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 0 {
		t.Errorf("audio tail not discarded: %v", ordinals(a))
	}
}

func TestAudioOnlyVisitsEveryFrameOnce(t *testing.T) {
	t.Parallel()
	ext := &fakeExtractor{
		audio: []*frame.Pack{af(1, 0.0), af(2, 0.1), af(3, 0.2)},
	}
	s := New(ext)

	var seen []int64
	for {
		a, err := s.NextAudio()
		if err != nil {
			t.Fatal(err)
		}
		if len(a) == 0 {
			break
		}
		if len(a) != 1 {
			t.Fatalf("audio-only window = %d frames, want exactly 1", len(a))
		}
		seen = append(seen, a[0].Ordinal)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Errorf("visited %v, want [1 2 3]", seen)
	}
	if !s.AudioEOF() {
		t.Error("AudioEOF not reported")
	}
}

func TestVideoOnly(t *testing.T) {
	t.Parallel()
	ext := &fakeExtractor{video: []*frame.Pack{vf(1, 0.0), vf(2, 0.033)}}
	s := New(ext)

	for i := 0; i < 2; i++ {
		v, err := s.NextVideo()
		if err != nil || v == nil {
			t.Fatalf("NextVideo %d = %v, %v", i, v, err)
		}
		a, err := s.NextAudio()
		if err != nil {
			t.Fatal(err)
		}
		if len(a) != 0 {
			t.Errorf("video-only media produced audio frames: %v", ordinals(a))
		}
	}
}

func ordinals(packs []*frame.Pack) []int64 {
	out := make([]int64, len(packs))
	for i, p := range packs {
		out[i] = p.Ordinal
	}
	return out
}
