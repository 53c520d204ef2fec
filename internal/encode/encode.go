// Package encode turns captured media into MEDIA packets. A Camera or
// Microphone pulls encoded chunks from a Capture opened on a Source and hands
// each one to a Sink, usually a connection.Connection. Compression itself is
// the Source's business; chunks are opaque here.
package encode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/callcore/internal/protocol"
)

// ErrDisabled is returned by Start on an encoder that was disabled with
// SetEnabled(false).
var ErrDisabled = errors.New("encode: encoder disabled")

// Chunk is one unit of encoder output.
type Chunk struct {
	Data      []byte
	Key       bool          // independently decodable
	Timestamp time.Duration // since the capture started
	Duration  time.Duration

	// Video only.
	Width, Height uint32

	// Audio only.
	SampleRate, Channels uint32
}

// Device is a capture device a Source can open.
type Device struct {
	ID    string
	Label string
}

// Source enumerates and opens capture devices.
type Source interface {
	Devices() ([]Device, error)

	// Open starts capturing from the device. An empty id selects the
	// default device.
	Open(deviceID string) (Capture, error)
}

// Capture is an open device. Next blocks until the next chunk is due and
// returns io.EOF once the device has no more output.
type Capture interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Sink receives the packets an encoder produces.
type Sink interface {
	SendMedia(mp *protocol.MediaPacket) error
}

// State is the lifecycle state of an encoder.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}
