package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Handler receives decoded signaling messages.
type Handler interface {
	OnDescription(sdp webrtc.SessionDescription) error
	OnCandidate(candidate webrtc.ICECandidateInit) error
}

// Watch reads messages until the WebSocket fails or h returns an error.
// It is meant to run in its own goroutine and exits when the Conn is closed.
func (c *Conn) Watch(h Handler) error {
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read signaling message: %w", err)
		}

		switch msg.Type {
		case MsgTypeOffer:
			if err := h.OnDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
				return err
			}

		case MsgTypeAnswer:
			if err := h.OnDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
				return err
			}

		case MsgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if err := h.OnCandidate(init); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unexpected signaling message type %q", msg.Type)
		}
	}
}
