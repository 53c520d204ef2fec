package encode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/util"
)

// encoder is the state machine shared by Camera and Microphone:
// Stopped → Starting → Running → Stopped.
type encoder struct {
	name      string
	mediaType protocol.MediaType
	source    Source
	sink      Sink

	mu      sync.Mutex
	state   State
	enabled bool
	device  string
	gen     uint64 // bumped by Stop; a capture opened under an older gen is discarded
	cancel  context.CancelFunc
	done    chan struct{}
	seq     uint64 // video sequence, continues across restarts
}

func newEncoder(name string, mt protocol.MediaType, source Source, sink Sink) encoder {
	return encoder{
		name:      name,
		mediaType: mt,
		source:    source,
		sink:      sink,
		enabled:   true,
	}
}

// State returns the current lifecycle state.
func (e *encoder) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Device returns the selected device id. Empty means the default device.
func (e *encoder) Device() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.device
}

// Enabled reports whether Start is allowed.
func (e *encoder) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Devices lists the devices of the underlying source.
func (e *encoder) Devices() ([]Device, error) {
	return e.source.Devices()
}

// Start opens the selected device and begins pushing packets to the sink.
// It is a no-op while Starting or Running.
func (e *encoder) Start() error {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return ErrDisabled
	}
	if e.state != StateStopped {
		e.mu.Unlock()
		return nil
	}
	e.state = StateStarting
	gen, device := e.gen, e.device
	e.mu.Unlock()

	capture, err := e.source.Open(device)

	e.mu.Lock()
	if e.gen != gen {
		// Stopped or switched while the device was opening.
		e.mu.Unlock()
		if capture != nil {
			capture.Close()
		}
		return nil
	}
	if err != nil {
		e.state = StateStopped
		e.mu.Unlock()
		return fmt.Errorf("%s: open device %q: %w", e.name, device, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	e.state = StateRunning
	e.mu.Unlock()

	util.LogInfo("%s started", e.name)
	go e.pump(ctx, gen, capture, done)
	return nil
}

// Stop releases the capture device and returns once no more packets will be
// sent. It is safe to call in any state.
func (e *encoder) Stop() {
	e.mu.Lock()
	e.gen++
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	wasRunning := e.state == StateRunning
	e.state = StateStopped
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if wasRunning {
		util.LogInfo("%s stopped", e.name)
	}
}

// Select switches to another device. A running encoder is stopped and left
// Stopped; the caller decides when to Start again. It reports whether the
// selection changed.
func (e *encoder) Select(deviceID string) bool {
	e.mu.Lock()
	if e.device == deviceID {
		e.mu.Unlock()
		return false
	}
	e.device = deviceID
	active := e.state != StateStopped
	e.mu.Unlock()

	if active {
		e.Stop()
	}
	return true
}

// SetEnabled allows or forbids capture. Disabling stops a running encoder.
// It reports whether the flag changed.
func (e *encoder) SetEnabled(enabled bool) bool {
	e.mu.Lock()
	if e.enabled == enabled {
		e.mu.Unlock()
		return false
	}
	e.enabled = enabled
	e.mu.Unlock()

	if !enabled {
		e.Stop()
	}
	return true
}

// pump forwards chunks from capture to the sink until the capture ends or
// the encoder is stopped.
func (e *encoder) pump(ctx context.Context, gen uint64, capture Capture, done chan struct{}) {
	defer close(done)
	defer capture.Close()

	for {
		chunk, err := capture.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				if errors.Is(err, io.EOF) {
					util.LogInfo("%s: capture ended", e.name)
				} else {
					util.LogWarning("%s: capture failed: %v", e.name, err)
				}
				e.finished(gen)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		if err := e.sink.SendMedia(e.packet(chunk)); err != nil {
			util.LogDebug("%s: chunk not sent: %v", e.name, err)
		}
	}
}

// finished moves a capture that ended on its own back to Stopped. done is
// kept so a later Stop still waits for the device to be released.
func (e *encoder) finished(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.state = StateStopped
}

func (e *encoder) packet(c Chunk) *protocol.MediaPacket {
	mp := &protocol.MediaPacket{
		MediaType:   e.mediaType,
		Data:        c.Data,
		FrameType:   protocol.FrameTypeDelta,
		TimestampMs: float64(c.Timestamp.Microseconds()) / 1000,
		DurationMs:  float64(c.Duration.Microseconds()) / 1000,
	}
	if c.Key {
		mp.FrameType = protocol.FrameTypeKey
	}

	switch e.mediaType {
	case protocol.MediaTypeAudio:
		mp.Audio = &protocol.AudioMetadata{SampleRate: c.SampleRate, Channels: c.Channels}
	default:
		e.seq++
		mp.Video = &protocol.VideoMetadata{Sequence: e.seq, Width: c.Width, Height: c.Height}
	}
	return mp
}

// ---------------------------------------------------------------------------
// Concrete encoders
// ---------------------------------------------------------------------------

// Camera encodes video from a Source into VIDEO packets.
type Camera struct{ encoder }

// NewCamera returns a stopped, enabled camera encoder.
func NewCamera(source Source, sink Sink) *Camera {
	return &Camera{newEncoder("camera", protocol.MediaTypeVideo, source, sink)}
}

// Microphone encodes audio from a Source into AUDIO packets.
type Microphone struct{ encoder }

// NewMicrophone returns a stopped, enabled microphone encoder.
func NewMicrophone(source Source, sink Sink) *Microphone {
	return &Microphone{newEncoder("microphone", protocol.MediaTypeAudio, source, sink)}
}

// Screen encodes a screen capture into SCREEN packets.
type Screen struct{ encoder }

// NewScreen returns a stopped, enabled screen-share encoder.
func NewScreen(source Source, sink Sink) *Screen {
	return &Screen{newEncoder("screen", protocol.MediaTypeScreen, source, sink)}
}
