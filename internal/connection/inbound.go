package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/callcore/internal/e2ee"
	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/util"
)

// readLoop handles inbound frames one at a time, so per-connection order is
// kept from the transport to the callbacks.
func (c *Connection) readLoop(a *attempt) {
	defer a.wg.Done()
	for {
		select {
		case frame := <-a.task.Inbound():
			c.handleFrame(a, frame)
		case <-a.task.Done():
			return
		case <-a.ctx.Done():
			return
		}
	}
}

// handleFrame decodes one frame and routes it by packet type. Anything wrong
// with a single frame drops that frame only.
func (c *Connection) handleFrame(a *attempt, frame []byte) {
	pkt, err := protocol.Decode(frame)
	if err != nil {
		c.drop("relay", err)
		return
	}
	if pkt.Sender == c.opts.UserID {
		return
	}

	c.touchPeer(a, pkt.Sender)

	switch pkt.Type {
	case protocol.PacketTypeRSAPubKey:
		c.handlePublicKey(a, pkt)
	case protocol.PacketTypeAESKey:
		c.handleMediaKey(a, pkt)
	case protocol.PacketTypeMedia:
		c.handleMedia(a, pkt)
	case protocol.PacketTypeConnection:
		cp, err := protocol.UnmarshalConnectionPacket(pkt.Data)
		if err != nil {
			c.drop(pkt.Sender, err)
			return
		}
		util.LogDebug("%s joined meeting %q", pkt.Sender, cp.MeetingID)
	}
}

// handlePublicKey stores a peer's public key. A new or changed key is
// answered with our own public key followed by our media secret for that
// peer, so late joiners and reconnected peers learn both.
func (c *Connection) handlePublicKey(a *attempt, pkt *protocol.PacketWrapper) {
	if a.kx == nil {
		util.LogDebug("ignoring RSA_PUB_KEY from %s: E2EE is off", pkt.Sender)
		return
	}
	rp, err := protocol.UnmarshalRsaPacket(pkt.Data)
	if err != nil {
		c.drop(pkt.Sender, err)
		return
	}

	changed, reply, err := a.kx.HandlePeerPublicKey(pkt.Sender, rp)
	if err != nil {
		c.drop(pkt.Sender, err)
		return
	}
	if !changed {
		return
	}

	util.LogDebug("received public key of %s", pkt.Sender)
	c.broadcastPublicKey(a)
	c.sendControl(a, protocol.PacketTypeAESKey, reply.Marshal())
}

func (c *Connection) handleMediaKey(a *attempt, pkt *protocol.PacketWrapper) {
	if a.kx == nil {
		util.LogDebug("ignoring AES_KEY from %s: E2EE is off", pkt.Sender)
		return
	}
	ap, err := protocol.UnmarshalAesPacket(pkt.Data)
	if err != nil {
		c.drop(pkt.Sender, err)
		return
	}
	if ap.Recipient != c.opts.UserID {
		return
	}

	first, err := a.kx.HandlePeerKey(pkt.Sender, ap)
	if err != nil {
		c.drop(pkt.Sender, err)
		return
	}
	if first {
		util.LogSuccess("%s: media key established", c.opts.UserID)
	}
	c.emitFor(a, Event{Kind: EventKeyEstablished, Peer: pkt.Sender})
}

func (c *Connection) handleMedia(a *attempt, pkt *protocol.PacketWrapper) {
	payload := pkt.Data
	if a.kx != nil {
		plain, err := a.kx.Open(pkt.Sender, payload)
		if err != nil {
			c.drop(pkt.Sender, err)
			return
		}
		payload = plain
	}

	mp, err := protocol.UnmarshalMediaPacket(payload)
	if err != nil {
		c.drop(pkt.Sender, err)
		return
	}
	if mp.MediaType != pkt.MediaType {
		c.drop(pkt.Sender, fmt.Errorf("media type %s inside a %s envelope", mp.MediaType, pkt.MediaType))
		return
	}
	if mp.MediaType == protocol.MediaTypeHeartbeat {
		return
	}

	first, ready := c.admitFrame(pkt.Sender, mp)
	if first {
		c.emitFor(a, Event{Kind: EventPeerFirstFrame, Peer: pkt.Sender, MediaType: mp.MediaType})
	}
	if len(ready) == 0 {
		return
	}

	canvasID := c.canvasID(pkt.Sender)
	for _, frame := range ready {
		c.emitFor(a, Event{Kind: EventInboundMedia, Peer: pkt.Sender, CanvasID: canvasID, Media: frame})
	}
}

// drop discards one inbound packet.
func (c *Connection) drop(from string, reason error) {
	c.stats.AddDropped()
	if errors.Is(reason, e2ee.ErrKeyNotEstablished) {
		util.LogDebug("dropped packet from %s: %v", from, reason)
		return
	}
	util.LogDrop(from, reason)
}

func (c *Connection) canvasID(peer string) string {
	if c.opts.GetPeerVideoCanvasID != nil {
		return c.opts.GetPeerVideoCanvasID(peer)
	}
	return util.CanvasID(peer)
}

// ---------------------------------------------------------------------------
// Peer registry
// ---------------------------------------------------------------------------

// touchPeer records activity from id, registering it on first sight.
func (c *Connection) touchPeer(a *attempt, id string) {
	c.peersMu.Lock()
	p, ok := c.peers[id]
	if !ok {
		p = &peerInfo{
			firstFrame: make(map[protocol.MediaType]bool),
			reorder:    make(map[protocol.MediaType]*reorderBuffer),
		}
		c.peers[id] = p
	}
	p.lastSeen = time.Now()
	c.peersMu.Unlock()

	if !ok {
		util.LogInfo("peer %s joined", id)
		c.emitFor(a, Event{Kind: EventPeerAdded, Peer: id})
	}
}

// admitFrame marks the first frame per media type and runs video frames
// through the peer's reorder buffer for that stream. It returns the frames
// ready for delivery.
func (c *Connection) admitFrame(id string, mp *protocol.MediaPacket) (first bool, ready []*protocol.MediaPacket) {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()

	p, ok := c.peers[id]
	if !ok {
		return false, []*protocol.MediaPacket{mp}
	}
	if !p.firstFrame[mp.MediaType] {
		p.firstFrame[mp.MediaType] = true
		first = true
	}
	if mp.Video == nil {
		return first, []*protocol.MediaPacket{mp}
	}
	rb := p.reorder[mp.MediaType]
	if rb == nil {
		rb = &reorderBuffer{}
		p.reorder[mp.MediaType] = rb
	}
	return first, rb.Feed(mp)
}
