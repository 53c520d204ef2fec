package transport

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/callcore/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64         // outgoing frame channel capacity
)

// outbound is one encoded frame waiting for the writer goroutine.
type outbound struct {
	data  []byte
	lossy bool
}

// sender is the queue in front of a Task's single writer goroutine. Reliable
// frames wait for room; lossy frames are dropped when the queue is full.
type sender struct {
	inbox chan outbound
	stats *util.Stats
}

func newSender(stats *util.Stats) *sender {
	return &sender{
		inbox: make(chan outbound, sendBufferSize),
		stats: stats,
	}
}

// send enqueues a frame for transmission. It returns silently when ctx is
// already cancelled.
func (s *sender) send(ctx context.Context, f outbound) {
	if ctx.Err() != nil {
		return
	}

	if f.lossy {
		select {
		case s.inbox <- f:
		default:
			s.stats.AddDropped()
			util.LogDebug("send queue full, dropping %d byte lossy frame", len(f.data))
		}
		return
	}

	select {
	case s.inbox <- f:
	case <-ctx.Done():
	}
}

// ---------------------------------------------------------------------------
// DataChannel writer
// ---------------------------------------------------------------------------

// dataChannelWriter drains a sender into the control and media channels with
// backpressure on each.
type dataChannelWriter struct {
	*sender
	control, media           *webrtc.DataChannel
	controlDrain, mediaDrain chan struct{}
	fail                     func(error)
}

// startDataChannelWriter wires the backpressure callbacks and starts the
// writer loop. The loop exits when ctx is cancelled.
func startDataChannelWriter(ctx context.Context, s *sender, control, media *webrtc.DataChannel, open <-chan struct{}, fail func(error)) {
	w := &dataChannelWriter{
		sender:       s,
		control:      control,
		media:        media,
		controlDrain: make(chan struct{}, 1),
		mediaDrain:   make(chan struct{}, 1),
		fail:         fail,
	}

	for dc, drain := range map[*webrtc.DataChannel]chan struct{}{control: w.controlDrain, media: w.mediaDrain} {
		dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
		dc.OnBufferedAmountLow(func() {
			select {
			case drain <- struct{}{}:
			default:
			}
		})
	}

	go w.loop(ctx, open)
}

// loop is the single-writer goroutine. It waits for both DataChannels to
// open, then drains the inbox with backpressure awareness.
func (w *dataChannelWriter) loop(ctx context.Context, open <-chan struct{}) {
	// Phase 1: wait for the channels to be open.
	select {
	case <-open:
	case <-ctx.Done():
		return
	}

	// Phase 2: send frames with backpressure.
	for {
		select {
		case f := <-w.inbox:
			dc, drain := w.control, w.controlDrain
			if f.lossy {
				dc, drain = w.media, w.mediaDrain
			}

			if dc.BufferedAmount() > uint64(highWaterMark) {
				if f.lossy {
					w.stats.AddDropped()
					util.LogDebug("media channel congested, dropping %d byte frame", len(f.data))
					continue
				}
				select {
				case <-drain:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(f.data); err != nil {
				sendErr := &SendError{Kind: KindWebRTC, Lossy: f.lossy, Err: err}
				if dc.ReadyState() != webrtc.DataChannelStateOpen {
					w.fail(sendErr)
					return
				}
				w.stats.AddDropped()
				util.LogWarning("%v", sendErr)
				continue
			}

			w.stats.AddSent(len(f.data))
		case <-ctx.Done():
			return
		}
	}
}
