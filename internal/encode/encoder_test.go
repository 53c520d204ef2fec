package encode

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/callcore/internal/protocol"
)

type fakeSource struct {
	limit   int // chunks per capture, zero means endless
	openErr error

	mu       sync.Mutex
	opened   []string
	captures []*fakeCapture
}

func (s *fakeSource) Devices() ([]Device, error) {
	return []Device{{ID: "front", Label: "Front camera"}, {ID: "back", Label: "Back camera"}}, nil
}

func (s *fakeSource) Open(deviceID string) (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	c := &fakeCapture{limit: s.limit}
	s.opened = append(s.opened, deviceID)
	s.captures = append(s.captures, c)
	return c, nil
}

func (s *fakeSource) openedDevices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

func (s *fakeSource) last() *fakeCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures[len(s.captures)-1]
}

type fakeCapture struct {
	limit  int
	n      int
	closed atomic.Bool
}

func (c *fakeCapture) Next(ctx context.Context) (Chunk, error) {
	if c.limit > 0 && c.n >= c.limit {
		return Chunk{}, io.EOF
	}
	select {
	case <-time.After(2 * time.Millisecond):
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
	c.n++
	return Chunk{
		Data:       []byte{byte(c.n)},
		Key:        c.n == 1,
		Timestamp:  time.Duration(c.n) * 2 * time.Millisecond,
		Duration:   2 * time.Millisecond,
		Width:      320,
		Height:     240,
		SampleRate: 48000,
		Channels:   1,
	}, nil
}

func (c *fakeCapture) Close() error {
	c.closed.Store(true)
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	packets []*protocol.MediaPacket
	err     error
}

func (s *recordingSink) SendMedia(mp *protocol.MediaPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, mp)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func (s *recordingSink) snapshot() []*protocol.MediaPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.MediaPacket(nil), s.packets...)
}

func TestCameraLifecycle(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{}
	cam := NewCamera(src, sink)

	assert.Equal(t, StateStopped, cam.State())
	require.NoError(t, cam.Start())
	assert.Equal(t, StateRunning, cam.State())

	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, time.Millisecond)

	cam.Stop()
	assert.Equal(t, StateStopped, cam.State())
	assert.True(t, src.last().closed.Load())

	sent := sink.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sent, sink.count(), "no packets after Stop returned")

	packets := sink.snapshot()
	first := packets[0]
	assert.Equal(t, protocol.MediaTypeVideo, first.MediaType)
	assert.Equal(t, protocol.FrameTypeKey, first.FrameType)
	assert.Equal(t, 2.0, first.TimestampMs)
	assert.Equal(t, 2.0, first.DurationMs)
	require.NotNil(t, first.Video)
	assert.Equal(t, uint32(320), first.Video.Width)
	assert.Nil(t, first.Audio)
	assert.Equal(t, protocol.FrameTypeDelta, packets[1].FrameType)

	for i, p := range packets {
		assert.EqualValues(t, i+1, p.Video.Sequence)
	}
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	src := &fakeSource{}
	cam := NewCamera(src, &recordingSink{})
	defer cam.Stop()

	require.NoError(t, cam.Start())
	require.NoError(t, cam.Start())
	assert.Len(t, src.openedDevices(), 1)
}

func TestStopIsIdempotent(t *testing.T) {
	cam := NewCamera(&fakeSource{}, &recordingSink{})

	cam.Stop()
	cam.Stop()
	assert.Equal(t, StateStopped, cam.State())

	require.NoError(t, cam.Start())
	cam.Stop()
	cam.Stop()
	assert.Equal(t, StateStopped, cam.State())
}

func TestSelectWhileRunningLeavesStopped(t *testing.T) {
	src := &fakeSource{}
	cam := NewCamera(src, &recordingSink{})

	require.NoError(t, cam.Start())
	assert.True(t, cam.Select("back"))
	assert.Equal(t, StateStopped, cam.State())
	assert.Equal(t, "back", cam.Device())
	assert.True(t, src.last().closed.Load())

	assert.False(t, cam.Select("back"))

	require.NoError(t, cam.Start())
	defer cam.Stop()
	assert.Equal(t, []string{"", "back"}, src.openedDevices())
}

func TestSelectWhileStoppedDoesNotStart(t *testing.T) {
	src := &fakeSource{}
	cam := NewCamera(src, &recordingSink{})

	assert.True(t, cam.Select("front"))
	assert.Equal(t, StateStopped, cam.State())
	assert.Empty(t, src.openedDevices())
}

func TestSetEnabled(t *testing.T) {
	mic := NewMicrophone(&fakeSource{}, &recordingSink{})

	assert.False(t, mic.SetEnabled(true), "encoders start enabled")
	require.NoError(t, mic.Start())

	assert.True(t, mic.SetEnabled(false))
	assert.Equal(t, StateStopped, mic.State())
	assert.ErrorIs(t, mic.Start(), ErrDisabled)
	assert.False(t, mic.SetEnabled(false))

	assert.True(t, mic.SetEnabled(true))
	assert.Equal(t, StateStopped, mic.State(), "enabling does not start")
	require.NoError(t, mic.Start())
	mic.Stop()
}

func TestStartOpenFailure(t *testing.T) {
	boom := errors.New("device busy")
	cam := NewCamera(&fakeSource{openErr: boom}, &recordingSink{})

	err := cam.Start()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateStopped, cam.State())
}

func TestCaptureEndReturnsToStopped(t *testing.T) {
	src := &fakeSource{limit: 3}
	sink := &recordingSink{}
	cam := NewCamera(src, sink)

	require.NoError(t, cam.Start())
	require.Eventually(t, func() bool { return cam.State() == StateStopped }, time.Second, time.Millisecond)
	assert.Equal(t, 3, sink.count())

	cam.Stop()
	assert.True(t, src.last().closed.Load())

	// Sequence numbers continue on restart.
	require.NoError(t, cam.Start())
	require.Eventually(t, func() bool { return sink.count() == 6 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 4, sink.snapshot()[3].Video.Sequence)
}

func TestMicrophonePacketsCarryAudioMetadata(t *testing.T) {
	sink := &recordingSink{err: errors.New("not connected")}
	mic := NewMicrophone(&fakeSource{limit: 2}, sink)

	require.NoError(t, mic.Start())
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	mic.Stop()

	p := sink.snapshot()[0]
	assert.Equal(t, protocol.MediaTypeAudio, p.MediaType)
	require.NotNil(t, p.Audio)
	assert.Equal(t, uint32(48000), p.Audio.SampleRate)
	assert.Equal(t, uint32(1), p.Audio.Channels)
	assert.Nil(t, p.Video)
}

func TestScreenUsesScreenMediaType(t *testing.T) {
	sink := &recordingSink{}
	screen := NewScreen(&fakeSource{limit: 1}, sink)

	require.NoError(t, screen.Start())
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	screen.Stop()
	assert.Equal(t, protocol.MediaTypeScreen, sink.snapshot()[0].MediaType)
}

func TestDevices(t *testing.T) {
	cam := NewCamera(&fakeSource{}, &recordingSink{})
	devices, err := cam.Devices()
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "State(7)", State(7).String())
}
