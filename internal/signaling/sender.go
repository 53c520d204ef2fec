package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// Conn is a signaling session on one WebSocket. Writes are serialized; reads
// belong to a single goroutine (see Watch).
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps an established WebSocket.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// send writes a signaling message to the WebSocket, guarded by a mutex.
func (c *Conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// SendDescription sends an SDP offer or answer.
func (c *Conn) SendDescription(sdp webrtc.SessionDescription) error {
	switch sdp.Type {
	case webrtc.SDPTypeOffer:
		return c.send(Message{Type: MsgTypeOffer, SDP: sdp.SDP})
	case webrtc.SDPTypeAnswer:
		return c.send(Message{Type: MsgTypeAnswer, SDP: sdp.SDP})
	}
	return fmt.Errorf("unsupported SDP type %s", sdp.Type)
}

// SendCandidate sends a local ICE candidate.
func (c *Conn) SendCandidate(candidate webrtc.ICECandidateInit) error {
	data, err := json.Marshal(candidate)
	if err != nil {
		return err
	}
	return c.send(Message{Type: MsgTypeCandidate, Candidate: string(data)})
}

// Close closes the underlying WebSocket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "signaling done"))
	return c.ws.Close()
}
