package connection

import (
	"fmt"

	"github.com/1ureka/callcore/internal/protocol"
)

// EventKind identifies what happened on a Connection.
type EventKind int

const (
	EventConnected EventKind = iota
	EventConnectionLost
	EventPeerAdded
	EventPeerRemoved
	EventPeerFirstFrame
	EventInboundMedia
	EventKeyEstablished
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectionLost:
		return "connection lost"
	case EventPeerAdded:
		return "peer added"
	case EventPeerRemoved:
		return "peer removed"
	case EventPeerFirstFrame:
		return "peer first frame"
	case EventInboundMedia:
		return "inbound media"
	case EventKeyEstablished:
		return "key established"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered to the single event-loop goroutine of a Connection,
// which turns it into the matching Options callback.
type Event struct {
	Kind      EventKind
	Peer      string
	MediaType protocol.MediaType    // EventPeerFirstFrame
	Media     *protocol.MediaPacket // EventInboundMedia
	CanvasID  string                // EventInboundMedia
	Err       error                 // EventConnectionLost
}

// run is the event loop. Callbacks execute here one at a time, in the order
// the events were produced.
func (c *Connection) run() {
	defer close(c.loopDone)
	for {
		select {
		case ev := <-c.events:
			select {
			case <-c.closed:
				return
			default:
			}
			c.dispatch(ev)
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) dispatch(ev Event) {
	o := &c.opts
	switch ev.Kind {
	case EventConnected:
		if o.OnConnected != nil {
			o.OnConnected()
		}
	case EventConnectionLost:
		if o.OnConnectionLost != nil {
			o.OnConnectionLost(ev.Err)
		}
	case EventPeerAdded:
		if o.OnPeerAdded != nil {
			o.OnPeerAdded(ev.Peer)
		}
	case EventPeerRemoved:
		if o.OnPeerRemoved != nil {
			o.OnPeerRemoved(ev.Peer)
		}
	case EventPeerFirstFrame:
		if o.OnPeerFirstFrame != nil {
			o.OnPeerFirstFrame(ev.Peer, ev.MediaType)
		}
	case EventInboundMedia:
		if o.OnInboundMedia != nil {
			o.OnInboundMedia(ev.Peer, ev.CanvasID, ev.Media)
		}
	case EventKeyEstablished:
		if o.OnKeyEstablished != nil {
			o.OnKeyEstablished(ev.Peer)
		}
	}
}
