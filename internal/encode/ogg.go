package encode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// Opus granule positions count 48 kHz samples regardless of the input rate.
const opusGranuleRate = 48000

// OggSource plays Opus Ogg files as a microphone. Each file is a device.
type OggSource struct {
	fileSource
}

// NewOggSource returns a source over the given files. With loop set a file
// restarts from the beginning when it ends.
func NewOggSource(loop bool, paths ...string) *OggSource {
	return &OggSource{fileSource{paths: paths, loop: loop}}
}

func (s *OggSource) Open(deviceID string) (Capture, error) {
	path, err := s.resolve(deviceID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c := &oggCapture{file: f, loop: s.loop}
	if err := c.reset(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

type oggCapture struct {
	file   *os.File
	loop   bool
	reader *oggreader.OggReader
	header *oggreader.OggHeader
	pace   pacer

	offset  time.Duration
	granule uint64 // of the previous page in this pass
	last    time.Duration
}

func (c *oggCapture) reset() error {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, header, err := oggreader.NewWith(c.file)
	if err != nil {
		return err
	}
	c.reader, c.header = reader, header
	c.granule = 0
	return nil
}

func (c *oggCapture) Next(ctx context.Context) (Chunk, error) {
	for {
		page, ph, err := c.reader.ParseNextPage()
		if errors.Is(err, io.EOF) && c.loop {
			c.offset += c.last
			c.last = 0
			if err := c.reset(); err != nil {
				return Chunk{}, err
			}
			continue
		}
		if err != nil {
			return Chunk{}, err
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) || ph.GranulePosition < c.granule {
			continue
		}

		start := granuleDuration(c.granule)
		end := granuleDuration(ph.GranulePosition)
		c.granule = ph.GranulePosition
		c.last = end

		at := c.offset + start
		if err := c.pace.wait(ctx, at); err != nil {
			return Chunk{}, err
		}
		return Chunk{
			Data:       page,
			Key:        true,
			Timestamp:  at,
			Duration:   end - start,
			SampleRate: c.header.SampleRate,
			Channels:   uint32(c.header.Channels),
		}, nil
	}
}

func (c *oggCapture) Close() error { return c.file.Close() }

func granuleDuration(g uint64) time.Duration {
	return time.Duration(g) * time.Second / opusGranuleRate
}
