// Package tspack adapts the pull-based transport-stream demuxer to the
// session's Extractor contract: one sequential demux feeding independent
// per-stream NextVideo/NextAudio pulls, with caption SEI blobs and
// SCTE-35 sections attached to video frames as side data. It is the
// shared back half of the tsfile and srtpull extractors.
package tspack

import (
	"fmt"
	"io"

	"github.com/vantapoint/ovi/internal/frame"
	"github.com/vantapoint/ovi/internal/session"
	"github.com/vantapoint/ovi/internal/tsdemux"
)

const ptsClock = 90000.0

// Source turns a transport stream into FramePacks. Video packs carry the
// compressed Annex-B access unit as payload (PixelFormatAnnexB); audio
// packs carry the raw codec frame. Decoding is the concern of a decoding
// extractor, not this one.
type Source struct {
	d    *tsdemux.Demuxer
	info session.MediaInfo

	videoQ  []*frame.Pack
	audioQ  []*frame.Pack
	splices [][]byte
	vOrd    int64
	aOrd    int64
	eof     bool
}

// NewSource wraps r. info is the caller's knowledge of the stream: a
// file extractor pre-scans to fill it, a live extractor estimates.
func NewSource(r io.Reader, info session.MediaInfo) *Source {
	return &Source{d: tsdemux.New(r), info: info}
}

// MediaInfo reports the stream description given at construction.
func (s *Source) MediaInfo() session.MediaInfo { return s.info }

func (s *Source) HasVideo() bool { return s.info.HasVideo }
func (s *Source) HasAudio() bool { return s.info.HasAudio }

// NextVideo returns the next video frame, or nil at end of stream.
func (s *Source) NextVideo() (*frame.Pack, error) {
	if !s.info.HasVideo {
		return nil, nil
	}
	for len(s.videoQ) == 0 {
		if err := s.pump(); err != nil {
			return nil, err
		}
		if s.eof && len(s.videoQ) == 0 {
			return nil, nil
		}
	}
	p := s.videoQ[0]
	s.videoQ = s.videoQ[1:]
	return p, nil
}

// NextAudio returns the next audio frame, or nil at end of stream.
// Media without an audio stream reports end of stream immediately
// instead of demuxing ahead looking for one.
func (s *Source) NextAudio() (*frame.Pack, error) {
	if !s.info.HasAudio {
		return nil, nil
	}
	for len(s.audioQ) == 0 {
		if err := s.pump(); err != nil {
			return nil, err
		}
		if s.eof && len(s.audioQ) == 0 {
			return nil, nil
		}
	}
	p := s.audioQ[0]
	s.audioQ = s.audioQ[1:]
	return p, nil
}

// pump demuxes one unit into the stream queues.
func (s *Source) pump() error {
	u, err := s.d.Next()
	if err == io.EOF {
		s.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("tspack: %w", err)
	}

	switch u.Kind {
	case tsdemux.KindVideo:
		s.vOrd++
		side := &frame.SideData{CaptionSEI: tsdemux.CaptionSEIs(u.Payload)}
		if len(s.splices) > 0 {
			side.SpliceSections = s.splices
			s.splices = nil
		}
		p := frame.NewVideo(u.Payload, s.vOrd, pts(u.PTS), s.info.VideoFramerate,
			int64(s.info.VideoTotalFrames),
			frame.VideoMeta{PixelFormat: frame.PixelFormatAnnexB}, nil)
		p.Side = side
		s.videoQ = append(s.videoQ, p)

	case tsdemux.KindAudio:
		s.aOrd++
		p := frame.NewAudio(u.Payload, s.aOrd, pts(u.PTS), s.info.AudioFramerate,
			int64(s.info.AudioTotalFrames),
			frame.AudioMeta{SampleFormat: frame.SampleFormatAAC}, nil)
		s.audioQ = append(s.audioQ, p)

	case tsdemux.KindSplice:
		// Held until the next video frame so a splice lands on the first
		// frame at or after its cue in stream order.
		s.splices = append(s.splices, u.Payload)
	}
	return nil
}

func pts(v int64) float64 {
	if v == tsdemux.NoPTS {
		return 0
	}
	return float64(v) / ptsClock
}
