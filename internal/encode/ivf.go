package encode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// IVFSource plays VP8 or VP9 IVF files as a camera. Each file is a device.
type IVFSource struct {
	fileSource
}

// NewIVFSource returns a source over the given files. With loop set a file
// restarts from the beginning when it ends.
func NewIVFSource(loop bool, paths ...string) *IVFSource {
	return &IVFSource{fileSource{paths: paths, loop: loop}}
}

func (s *IVFSource) Open(deviceID string) (Capture, error) {
	path, err := s.resolve(deviceID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c := &ivfCapture{file: f, loop: s.loop}
	if err := c.reset(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

type ivfCapture struct {
	file   *os.File
	loop   bool
	reader *ivfreader.IVFReader
	header *ivfreader.IVFFileHeader
	pace   pacer

	offset time.Duration // start of the current pass
	last   time.Duration // timestamp of the previous frame in this pass
	frame  time.Duration // nominal frame duration
}

func (c *ivfCapture) reset() error {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, header, err := ivfreader.NewWith(c.file)
	if err != nil {
		return err
	}
	if header.TimebaseDenominator == 0 {
		return errors.New("ivf: zero timebase")
	}
	c.reader, c.header = reader, header
	c.frame = c.toDuration(1)
	return nil
}

func (c *ivfCapture) toDuration(ts uint64) time.Duration {
	return time.Duration(ts) * time.Second * time.Duration(c.header.TimebaseNumerator) / time.Duration(c.header.TimebaseDenominator)
}

func (c *ivfCapture) Next(ctx context.Context) (Chunk, error) {
	frame, fh, err := c.reader.ParseNextFrame()
	if errors.Is(err, io.EOF) && c.loop {
		c.offset += c.last + c.frame
		c.last = 0
		if err := c.reset(); err != nil {
			return Chunk{}, err
		}
		frame, fh, err = c.reader.ParseNextFrame()
	}
	if err != nil {
		return Chunk{}, err
	}

	ts := c.toDuration(fh.Timestamp)
	duration := c.frame
	if ts > c.last {
		duration = ts - c.last
	}
	c.last = ts

	at := c.offset + ts
	if err := c.pace.wait(ctx, at); err != nil {
		return Chunk{}, err
	}
	return Chunk{
		Data:      frame,
		Key:       isKeyFrame(c.header.FourCC, frame),
		Timestamp: at,
		Duration:  duration,
		Width:     uint32(c.header.Width),
		Height:    uint32(c.header.Height),
	}, nil
}

func (c *ivfCapture) Close() error { return c.file.Close() }

// isKeyFrame reads the frame type from the first byte of a VP8 or VP9 frame.
func isKeyFrame(fourcc string, frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	switch fourcc {
	case "VP80":
		// Inverse key frame flag in the frame tag.
		return frame[0]&0x01 == 0
	case "VP90":
		// Uncompressed header: frame_marker(2) profile(2) [reserved(1)]
		// show_existing_frame(1) frame_type(1).
		b := frame[0]
		profile := (b>>5)&0x01 | (b>>3)&0x02
		shift := uint(3)
		if profile == 3 {
			shift = 2
		}
		if b>>shift&0x01 == 1 {
			return false
		}
		return b>>(shift-1)&0x01 == 0
	}
	return false
}
