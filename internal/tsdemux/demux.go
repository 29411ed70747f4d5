// Package tsdemux is a pull-based MPEG transport stream demuxer sized to
// what the reference extractors need: it classifies the program's
// elementary streams from PAT/PMT, reassembles PES packets into timed
// access units, and surfaces SCTE-35 splice sections raw for the
// scene-boundary detector. No decoding happens here; video units come
// out as Annex-B byte streams and audio units as raw codec frames.
package tsdemux

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// StreamKind classifies an elementary stream for routing.
type StreamKind int

const (
	KindOther StreamKind = iota
	KindVideo
	KindAudio
	KindSplice
)

func (k StreamKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSplice:
		return "splice"
	default:
		return "other"
	}
}

// Stream describes one elementary stream found in the PMT.
type Stream struct {
	PID        uint16
	StreamType byte
	Kind       StreamKind
}

// Unit is one demuxed item: a timed PES access unit for video/audio
// streams, or a raw splice_info_section for a SCTE-35 stream (PTS is
// NoPTS for sections; their time lives inside the section).
type Unit struct {
	PID     uint16
	Kind    StreamKind
	PTS     int64
	Payload []byte
}

// Demuxer pulls transport packets from r and yields Units in stream
// order. It is single-consumer; Next is not safe for concurrent use.
type Demuxer struct {
	br *bufio.Reader

	pmtPID     uint16
	havePMT    bool
	streams    []Stream
	streamByID map[uint16]Stream

	pat      sectionAssembler
	pmt      sectionAssembler
	splices  map[uint16]*sectionAssembler
	pes      map[uint16]*pesAssembler
	ready    []Unit
	flushed  bool
	pktCount int64
}

// New returns a Demuxer over r.
func New(r io.Reader) *Demuxer {
	return &Demuxer{
		br:         bufio.NewReaderSize(r, packetSize*64),
		streamByID: make(map[uint16]Stream),
		splices:    make(map[uint16]*sectionAssembler),
		pes:        make(map[uint16]*pesAssembler),
	}
}

// Streams returns the elementary streams discovered from the PMT, or nil
// if no PMT has been seen yet. Pulling the first Unit guarantees the PMT
// has been seen.
func (d *Demuxer) Streams() []Stream {
	return d.streams
}

// Next returns the next demuxed Unit, or io.EOF once the input and all
// buffered partial units are exhausted.
func (d *Demuxer) Next() (*Unit, error) {
	for {
		if len(d.ready) > 0 {
			u := d.ready[0]
			d.ready = d.ready[1:]
			return &u, nil
		}
		if d.flushed {
			return nil, io.EOF
		}
		if err := d.pump(); err != nil {
			return nil, err
		}
	}
}

// pump reads one transport packet and routes its payload; at input EOF
// it flushes every PES assembler's trailing unit.
func (d *Demuxer) pump() error {
	var buf [packetSize]byte
	_, err := io.ReadFull(d.br, buf[:])
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		d.flush()
		return nil
	}
	if err != nil {
		return fmt.Errorf("tsdemux: read: %w", err)
	}
	d.pktCount++

	p, err := parsePacket(buf[:])
	if err != nil {
		return fmt.Errorf("tsdemux: packet %d: %w", d.pktCount, err)
	}
	if p.payload == nil {
		return nil
	}

	switch {
	case p.pid == 0x1FFF: // null packet
		return nil

	case p.pid == 0:
		sections, err := d.pat.add(p.payload, p.pusi)
		if err != nil {
			return err
		}
		for _, s := range sections {
			pid, err := parsePAT(s)
			if err != nil {
				return err
			}
			d.pmtPID = pid
		}
		return nil

	case d.pmtPID != 0 && p.pid == d.pmtPID:
		sections, err := d.pmt.add(p.payload, p.pusi)
		if err != nil {
			return err
		}
		for _, s := range sections {
			streams, err := parsePMT(s)
			if err != nil {
				return err
			}
			d.setStreams(streams)
		}
		return nil
	}

	st, ok := d.streamByID[p.pid]
	if !ok {
		return nil
	}

	switch st.Kind {
	case KindSplice:
		asm := d.splices[p.pid]
		sections, err := asm.add(p.payload, p.pusi)
		if err != nil {
			return err
		}
		for _, s := range sections {
			d.ready = append(d.ready, Unit{PID: p.pid, Kind: KindSplice, PTS: NoPTS, Payload: s})
		}

	case KindVideo, KindAudio:
		asm := d.pes[p.pid]
		pts, es, ok, err := asm.add(p.payload, p.pusi)
		if err != nil {
			return err
		}
		if ok {
			d.ready = append(d.ready, Unit{PID: p.pid, Kind: st.Kind, PTS: pts, Payload: es})
		}
	}
	return nil
}

// setStreams installs the PMT's stream table once; a repeated PMT with
// the same streams is a no-op, matching how a file's PMT repeats.
func (d *Demuxer) setStreams(streams []Stream) {
	if d.havePMT {
		return
	}
	d.havePMT = true
	d.streams = streams
	for _, s := range streams {
		d.streamByID[s.PID] = s
		switch s.Kind {
		case KindSplice:
			d.splices[s.PID] = &sectionAssembler{}
		case KindVideo, KindAudio:
			d.pes[s.PID] = &pesAssembler{}
		}
	}
}

// flush drains the trailing PES unit of every stream at input EOF, in
// PMT order for determinism.
func (d *Demuxer) flush() {
	d.flushed = true
	for _, s := range d.streams {
		asm, ok := d.pes[s.PID]
		if !ok {
			continue
		}
		pts, es, ok, err := asm.flush()
		if err != nil || !ok {
			continue
		}
		d.ready = append(d.ready, Unit{PID: s.PID, Kind: s.Kind, PTS: pts, Payload: es})
	}
}
