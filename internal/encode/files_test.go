package encode

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a VP8 IVF file with a millisecond timebase.
func writeIVF(t *testing.T, frames [][]byte, timestamps []uint64) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 640)
	binary.LittleEndian.PutUint16(header[14:16], 480)
	binary.LittleEndian.PutUint32(header[16:20], 1000)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))

	b := header
	for i, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(f)))
		binary.LittleEndian.PutUint64(fh[4:12], timestamps[i])
		b = append(b, fh...)
		b = append(b, f...)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestIVFSource(t *testing.T) {
	path := writeIVF(t,
		[][]byte{{0x10, 0xaa}, {0x11, 0xbb}, {0x11, 0xcc}},
		[]uint64{0, 5, 10},
	)
	src := NewIVFSource(false, path)

	devices, err := src.Devices()
	require.NoError(t, err)
	assert.Equal(t, []Device{{ID: path, Label: "clip.ivf"}}, devices)

	capture, err := src.Open("")
	require.NoError(t, err)
	defer capture.Close()

	ctx := context.Background()
	first, err := capture.Next(ctx)
	require.NoError(t, err)
	assert.True(t, first.Key)
	assert.Equal(t, []byte{0x10, 0xaa}, first.Data)
	assert.Equal(t, time.Duration(0), first.Timestamp)
	assert.Equal(t, uint32(640), first.Width)
	assert.Equal(t, uint32(480), first.Height)

	second, err := capture.Next(ctx)
	require.NoError(t, err)
	assert.False(t, second.Key)
	assert.Equal(t, 5*time.Millisecond, second.Timestamp)
	assert.Equal(t, 5*time.Millisecond, second.Duration)

	_, err = capture.Next(ctx)
	require.NoError(t, err)
	_, err = capture.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestIVFSourceLoops(t *testing.T) {
	path := writeIVF(t, [][]byte{{0x10}, {0x11}}, []uint64{0, 2})
	capture, err := NewIVFSource(true, path).Open(path)
	require.NoError(t, err)
	defer capture.Close()

	var stamps []time.Duration
	for range 4 {
		c, err := capture.Next(context.Background())
		require.NoError(t, err)
		stamps = append(stamps, c.Timestamp)
	}
	assert.Equal(t, []time.Duration{0, 2 * time.Millisecond, 3 * time.Millisecond, 5 * time.Millisecond}, stamps)
}

func TestIVFSourceUnknownDevice(t *testing.T) {
	_, err := NewIVFSource(false).Open("")
	assert.Error(t, err)

	path := writeIVF(t, [][]byte{{0x10}}, []uint64{0})
	_, err = NewIVFSource(false, path).Open("elsewhere.ivf")
	assert.Error(t, err)
}

func TestIVFSourceRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ivf")
	require.NoError(t, os.WriteFile(path, []byte("not an ivf file at all, really not"), 0o600))

	_, err := NewIVFSource(false, path).Open("")
	assert.Error(t, err)
}

func TestIVFNextHonoursCancellation(t *testing.T) {
	path := writeIVF(t, [][]byte{{0x10}, {0x11}}, []uint64{0, 60_000})
	capture, err := NewIVFSource(false, path).Open("")
	require.NoError(t, err)
	defer capture.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, err = capture.Next(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = capture.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsKeyFrame(t *testing.T) {
	testCases := []struct {
		name   string
		fourcc string
		frame  []byte
		want   bool
	}{
		{"vp8 key", "VP80", []byte{0x50}, true},
		{"vp8 delta", "VP80", []byte{0x51}, false},
		{"vp9 key profile 0", "VP90", []byte{0x82}, true},
		{"vp9 delta profile 0", "VP90", []byte{0x86}, false},
		{"vp9 show existing", "VP90", []byte{0x88}, false},
		{"vp9 key profile 3", "VP90", []byte{0xb0}, true},
		{"vp9 delta profile 3", "VP90", []byte{0xb2}, false},
		{"empty", "VP80", nil, false},
		{"unknown codec", "AV01", []byte{0x00}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isKeyFrame(tc.fourcc, tc.frame))
		})
	}
}

// writeOgg writes an Opus Ogg file with one page per payload, 20 ms apart.
func writeOgg(t *testing.T, payloads ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.ogg")
	w, err := oggwriter.New(path, 48000, 2)
	require.NoError(t, err)
	for i, p := range payloads {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: p,
		}))
	}
	require.NoError(t, w.Close())
	return path
}

func TestOggSource(t *testing.T) {
	path := writeOgg(t, []byte("one"), []byte("two"), []byte("three"))
	capture, err := NewOggSource(false, path).Open("")
	require.NoError(t, err)
	defer capture.Close()

	var chunks []Chunk
	for {
		c, err := capture.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("one"), chunks[0].Data)
	assert.Equal(t, []byte("three"), chunks[2].Data)
	for _, c := range chunks {
		assert.True(t, c.Key)
		assert.Equal(t, uint32(48000), c.SampleRate)
		assert.Equal(t, uint32(2), c.Channels)
	}
	assert.Equal(t, 20*time.Millisecond, chunks[1].Duration)
	assert.Equal(t, 20*time.Millisecond, chunks[2].Duration)
	assert.Less(t, chunks[0].Timestamp, chunks[1].Timestamp)
}

func TestOggSourceDevices(t *testing.T) {
	path := writeOgg(t, []byte("x"))
	devices, err := NewOggSource(false, path).Devices()
	require.NoError(t, err)
	assert.Equal(t, "voice.ogg", devices[0].Label)

	_, err = NewOggSource(false, filepath.Join(t.TempDir(), "missing.ogg")).Devices()
	assert.Error(t, err)
}
