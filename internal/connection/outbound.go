package connection

import (
	"errors"
	"time"

	"github.com/1ureka/callcore/internal/e2ee"
	"github.com/1ureka/callcore/internal/protocol"
	"github.com/1ureka/callcore/internal/util"
)

// SendPacket sends one envelope. Sender and Sequence are filled in. A MEDIA
// payload is sealed when E2EE is on; before the key is established such a
// packet is dropped and e2ee.ErrKeyNotEstablished returned. Control packets
// always go out in the clear.
//
// Delivery is fire-and-forget: once the frame is queued, transport failures
// surface only through OnConnectionLost.
func (c *Connection) SendPacket(pkt *protocol.PacketWrapper) error {
	a := c.current()
	if a == nil || !a.task.Alive() {
		return ErrNotConnected
	}
	return c.send(a, pkt)
}

// SendMedia frames a media chunk as a MEDIA packet tagged with its media
// type and sends it.
func (c *Connection) SendMedia(mp *protocol.MediaPacket) error {
	mp.Sender = c.opts.UserID
	return c.SendPacket(&protocol.PacketWrapper{
		Type:      protocol.PacketTypeMedia,
		MediaType: mp.MediaType,
		Data:      mp.Marshal(),
	})
}

func (c *Connection) send(a *attempt, pkt *protocol.PacketWrapper) error {
	out := *pkt
	out.Sender = c.opts.UserID
	out.Sequence = a.seq.Next()

	if out.Type == protocol.PacketTypeMedia && a.kx != nil {
		sealed, err := a.kx.Seal(out.Data)
		if err != nil {
			c.stats.AddDropped()
			if errors.Is(err, e2ee.ErrKeyNotEstablished) {
				util.LogDebug("dropped outbound %s packet: %v", out.MediaType, err)
			} else {
				util.LogWarning("dropped outbound %s packet: %v", out.MediaType, err)
			}
			return err
		}
		out.Data = sealed
	}

	data, err := protocol.Encode(&out)
	if err != nil {
		util.LogError("%v", err)
		return err
	}
	a.task.SendBytes(data, out.Type == protocol.PacketTypeMedia)
	return nil
}

// sendControl sends a key exchange or connection packet on an attempt.
func (c *Connection) sendControl(a *attempt, typ protocol.PacketType, payload []byte) {
	if err := c.send(a, &protocol.PacketWrapper{Type: typ, Data: payload}); err != nil {
		util.LogWarning("failed to send %s: %v", typ, err)
	}
}

// broadcastPublicKey announces our public key to the room.
func (c *Connection) broadcastPublicKey(a *attempt) {
	rp, err := a.kx.PublicKeyPacket()
	if err != nil {
		util.LogWarning("cannot announce public key: %v", err)
		return
	}
	c.sendControl(a, protocol.PacketTypeRSAPubKey, rp.Marshal())
	a.kx.MarkSent()
}

// ---------------------------------------------------------------------------
// Background loops
// ---------------------------------------------------------------------------

// heartbeat tells the room we are still here. With E2EE on it waits for the
// key, since an unsealed heartbeat would be dropped anyway.
func (c *Connection) heartbeat(a *attempt) {
	defer a.wg.Done()

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if a.kx != nil && !a.kx.Established() {
				continue
			}
			mp := &protocol.MediaPacket{MediaType: protocol.MediaTypeHeartbeat, Sender: c.opts.UserID}
			_ = c.send(a, &protocol.PacketWrapper{
				Type:      protocol.PacketTypeMedia,
				MediaType: protocol.MediaTypeHeartbeat,
				Data:      mp.Marshal(),
			})
		case <-a.ctx.Done():
			return
		}
	}
}

// prune removes peers that stayed silent for longer than PeerTimeout. Their
// keys stay with the KeyExchange: a peer that comes back with the same
// public key never repeats its AES_KEY.
func (c *Connection) prune(a *attempt) {
	defer a.wg.Done()

	ticker := time.NewTicker(c.opts.PeerTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			for _, id := range c.stalePeers(now) {
				util.LogInfo("peer %s timed out", id)
				c.emitFor(a, Event{Kind: EventPeerRemoved, Peer: id})
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// stalePeers removes and returns the peers last seen before now-PeerTimeout.
func (c *Connection) stalePeers(now time.Time) []string {
	c.peersMu.Lock()
	defer c.peersMu.Unlock()

	var stale []string
	for id, p := range c.peers {
		if now.Sub(p.lastSeen) > c.opts.PeerTimeout {
			delete(c.peers, id)
			stale = append(stale, id)
		}
	}
	return stale
}
