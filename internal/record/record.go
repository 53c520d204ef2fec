// Package record writes the audio a participant receives to Opus Ogg files,
// one file per peer.
package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/util"
)

const (
	defaultSampleRate = 48000
	defaultChannels   = 2
)

// Recorder is safe for concurrent use.
type Recorder struct {
	dir string

	mu      sync.Mutex
	closed  bool
	streams map[string]*stream
}

type stream struct {
	w    *oggwriter.OggWriter
	seq  uint16
	path string
}

// New creates dir if needed and returns a Recorder writing into it.
func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir, streams: make(map[string]*stream)}, nil
}

// Path returns the file a peer's audio is written to.
func (r *Recorder) Path(peer string) string {
	return filepath.Join(r.dir, util.CanvasID(peer)+".ogg")
}

// Write appends an audio packet to the peer's file. Other media types are
// ignored.
func (r *Recorder) Write(peer string, mp *protocol.MediaPacket) error {
	if mp.MediaType != protocol.MediaTypeAudio || len(mp.Data) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("record: recorder closed")
	}

	s, ok := r.streams[peer]
	if !ok {
		rate, channels := uint32(defaultSampleRate), uint16(defaultChannels)
		if mp.Audio != nil && mp.Audio.SampleRate > 0 {
			rate = mp.Audio.SampleRate
		}
		if mp.Audio != nil && mp.Audio.Channels > 0 {
			channels = uint16(mp.Audio.Channels)
		}
		path := r.Path(peer)
		w, err := oggwriter.New(path, rate, channels)
		if err != nil {
			return fmt.Errorf("record %s: %w", peer, err)
		}
		s = &stream{w: w, path: path}
		r.streams[peer] = s
		util.LogInfo("recording %s to %s", peer, path)
	}

	s.seq++
	return s.w.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: s.seq,
			// Opus RTP timestamps run at 48 kHz.
			Timestamp: uint32(mp.TimestampMs * 48),
		},
		Payload: mp.Data,
	})
}

// Close finalizes every file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for peer, s := range r.streams {
		if err := s.w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", peer, err))
		}
	}
	r.streams = nil
	return errors.Join(errs...)
}
