package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/callcore/internal/signaling"
	"github.com/1ureka/callcore/internal/util"
)

var errDataChannelClosed = errors.New("data channel closed")

// rtcTask wraps a single PeerConnection with its control and media
// DataChannels.
//
// Its lifecycle is governed by the DataChannel and PeerConnection states:
// a closed channel or a failed connection ends the Task.
type rtcTask struct {
	lifecycle

	pc             *webrtc.PeerConnection
	control, media *webrtc.DataChannel
	sender         *sender
	ready          chan struct{} // closed once both channels are open
}

// newRTCTask creates an rtcTask backed by a new PeerConnection and the two
// pre-negotiated DataChannels. Signaling is performed by negotiate.
func newRTCTask(cfg RTCConfig, stats *util.Stats) (*rtcTask, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	control, media, err := newDataChannels(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create DataChannels: %w", err)
	}

	t := &rtcTask{
		pc:      pc,
		control: control,
		media:   media,
		ready:   make(chan struct{}),
	}
	t.init(stats)

	// Open gate: both channels must be open.
	var opened atomic.Int32
	for _, dc := range []*webrtc.DataChannel{control, media} {
		var once sync.Once
		dc.OnOpen(func() {
			once.Do(func() {
				if opened.Add(1) == 2 {
					close(t.ready)
				}
			})
		})
		dc.OnClose(func() {
			util.LogDebug("DataChannel %s closed", dc.Label())
			t.fail(errDataChannelClosed)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			t.deliver(msg.Data)
		})
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			t.fail(fmt.Errorf("peer connection %s", state))
		}
	})

	t.sender = newSender(t.stats)
	startDataChannelWriter(t.ctx, t.sender, control, media, t.ready, t.fail)

	return t, nil
}

// negotiate runs the SDP/ICE exchange over sig until both DataChannels are
// open. The offerer sends the first description.
func (t *rtcTask) negotiate(ctx context.Context, sig *signaling.Conn, offerer bool) error {
	n := &negotiator{pc: t.pc, sig: sig}

	// Forward local candidates. Errors are ignored: candidates are best-effort.
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			_ = sig.SendCandidate(c.ToJSON())
		}
	})
	defer t.pc.OnICECandidate(func(*webrtc.ICECandidate) {})

	errCh := make(chan error, 1)
	go func() {
		errCh <- sig.Watch(n) // exits when sig is closed by the caller
	}()

	if offerer {
		offer, err := t.pc.CreateOffer(nil)
		if err != nil {
			return err
		}
		if err := t.pc.SetLocalDescription(offer); err != nil {
			return err
		}
		if err := sig.SendDescription(offer); err != nil {
			return fmt.Errorf("failed to send offer: %w", err)
		}
	}

	for {
		select {
		case <-t.ready:
			util.LogDebug("WebRTC DataChannels established, closing signaling")
			return nil

		case err := <-errCh:
			// The remote side closes signaling once its channels are open;
			// with both descriptions applied ICE can still finish.
			if !n.remoteSet {
				return fmt.Errorf("signaling failed: %w", err)
			}
			errCh = nil

		case <-t.ctx.Done():
			return t.reason()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// close ends the Task with reason and releases the PeerConnection.
func (t *rtcTask) close(reason error) error {
	t.fail(reason)
	return errors.Join(t.control.Close(), t.media.Close(), t.pc.Close())
}

// ---------------------------------------------------------------------------
// Signaling handler
// ---------------------------------------------------------------------------

// negotiator applies remote descriptions and candidates. Candidates that
// arrive before the remote description are queued. It is only used from the
// signaling read goroutine.
type negotiator struct {
	pc        *webrtc.PeerConnection
	sig       *signaling.Conn
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (n *negotiator) OnDescription(sdp webrtc.SessionDescription) error {
	if err := n.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	if sdp.Type == webrtc.SDPTypeOffer {
		answer, err := n.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := n.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		if err := n.sig.SendDescription(answer); err != nil {
			return fmt.Errorf("failed to send answer: %w", err)
		}
	}

	n.remoteSet = true
	for _, c := range n.pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	n.pending = nil
	return nil
}

func (n *negotiator) OnCandidate(c webrtc.ICECandidateInit) error {
	if !n.remoteSet {
		n.pending = append(n.pending, c)
		return nil
	}
	return n.pc.AddICECandidate(c)
}

// ---------------------------------------------------------------------------
// Establishment
// ---------------------------------------------------------------------------

// dialWebRTC executes the participant-side flow:
//  1. Connect to the lobby URL with transport=webrtc
//  2. Create the PeerConnection and DataChannels
//  3. Perform the SDP/ICE exchange as offerer
//  4. Wait for both DataChannels to open
//  5. Close the signaling WebSocket
func dialWebRTC(ctx context.Context, opts Options) (*Task, error) {
	sigURL, err := withTransportQuery(opts.URL, "webrtc")
	if err != nil {
		return nil, err
	}

	ws, err := signaling.DialWS(ctx, sigURL)
	if err != nil {
		return nil, err
	}
	sig := signaling.NewConn(ws)
	defer sig.Close()

	t, err := newRTCTask(opts.RTC, opts.Stats)
	if err != nil {
		return nil, err
	}

	if err := t.negotiate(ctx, sig, true); err != nil {
		t.close(err)
		return nil, err
	}
	return &Task{kind: KindWebRTC, rtc: t}, nil
}

// AcceptWebRTC executes the relay-side flow on an upgraded signaling
// WebSocket: answer the participant's offer and wait for the DataChannels.
// The WebSocket is closed before AcceptWebRTC returns.
func AcceptWebRTC(ctx context.Context, ws *websocket.Conn, cfg RTCConfig, stats *util.Stats) (*Task, error) {
	sig := signaling.NewConn(ws)
	defer sig.Close()

	t, err := newRTCTask(cfg, stats)
	if err != nil {
		return nil, err
	}

	if err := t.negotiate(ctx, sig, false); err != nil {
		t.close(err)
		return nil, err
	}
	return &Task{kind: KindWebRTC, rtc: t}, nil
}
