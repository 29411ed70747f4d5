// Package avsync pairs video and audio frames pulled from an extractor,
// keying edits to the video stream and discarding the audio tail once
// video has reached EOF.
package avsync

import "github.com/vantapoint/ovi/internal/frame"

// NoPTS is the sentinel presentation timestamp meaning "no video frame
// has been observed yet".
const NoPTS = -1.0

// Extractor is the subset of a media extractor the synchronizer drives.
type Extractor interface {
	HasVideo() bool
	HasAudio() bool
	NextVideo() (*frame.Pack, error)
	NextAudio() (*frame.Pack, error)
}

// Synchronizer wraps an Extractor, tracking EOF state per stream and the
// last video pts so NextAudio can discard audio once video has ended.
type Synchronizer struct {
	ext Extractor

	videoEOF bool
	audioEOF bool
	ptsV     float64
	pending  *frame.Pack // pulled one frame too far on a prior NextAudio call
}

// New returns a Synchronizer over ext.
func New(ext Extractor) *Synchronizer {
	return &Synchronizer{ext: ext, ptsV: NoPTS}
}

// NextVideo returns the next video frame, or nil at EOF. It records the
// frame's pts so subsequent NextAudio calls know where to stop.
func (s *Synchronizer) NextVideo() (*frame.Pack, error) {
	if s.videoEOF {
		return nil, nil
	}
	f, err := s.ext.NextVideo()
	if err != nil {
		return nil, err
	}
	if f == nil {
		s.videoEOF = true
		return nil, nil
	}
	s.ptsV = f.PTS
	return f, nil
}

// NextAudio returns the audio frames that belong with the most recently
// returned video frame: every pulled frame whose pts is <= ptsV. For
// audio-only media (ptsV still NoPTS) it returns exactly one frame.
// Once video has reached EOF, the audio tail is discarded — editing is
// keyed to the video stream — and NextAudio always returns empty.
func (s *Synchronizer) NextAudio() ([]*frame.Pack, error) {
	if s.audioEOF {
		return nil, nil
	}
	if s.ext.HasVideo() && s.videoEOF {
		return nil, nil
	}

	var out []*frame.Pack

	if s.pending != nil {
		if s.ptsV == NoPTS || s.pending.PTS <= s.ptsV {
			out = append(out, s.pending)
			s.pending = nil
		} else {
			return out, nil
		}
	}

	for {
		f, err := s.ext.NextAudio()
		if err != nil {
			return out, err
		}
		if f == nil {
			s.audioEOF = true
			return out, nil
		}

		if s.ptsV == NoPTS {
			out = append(out, f)
			return out, nil
		}
		if f.PTS > s.ptsV {
			// Belongs to the next video frame's window; hold it instead
			// of discarding since the extractor has no "unget".
			s.pending = f
			return out, nil
		}
		out = append(out, f)
	}
}

// VideoEOF reports whether the video stream has been exhausted.
func (s *Synchronizer) VideoEOF() bool { return s.videoEOF }

// AudioEOF reports whether the audio stream has been exhausted.
func (s *Synchronizer) AudioEOF() bool { return s.audioEOF }
