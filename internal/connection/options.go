package connection

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/1ureka/callcore/internal/protocol"
)

// Options is the configuration surface of a Connection. UserID and
// TransportURL are required; every callback is optional.
//
// Callbacks run on the Connection's event loop, one at a time.
// GetPeerVideoCanvasID is the exception: it is a lookup called from the
// inbound path and must not block.
type Options struct {
	UserID       string
	TransportURL string // ws:// or wss:// lobby URL, e.g. wss://relay/lobby/amy/standup
	EnableE2EE   bool   // false skips the key exchange and sends media in the clear

	// OnConnected fires once the transport is up and our public key is
	// out. It does not wait for the key exchange; see OnKeyEstablished.
	OnConnected      func()
	OnConnectionLost func(err error) // at most once per Connect
	OnPeerAdded      func(peer string)
	OnPeerRemoved    func(peer string)
	OnPeerFirstFrame func(peer string, mt protocol.MediaType)
	OnInboundMedia   func(peer, canvasID string, pkt *protocol.MediaPacket)
	OnKeyEstablished func(peer string) // a peer's media became readable

	// GetPeerVideoCanvasID maps a peer to the surface its video is drawn
	// on. Nil derives an id from the peer id.
	GetPeerVideoCanvasID func(peer string) string

	PrimaryTimeout    time.Duration // WebRTC negotiation bound, zero means the transport default
	HeartbeatInterval time.Duration // zero disables heartbeats
	PeerTimeout       time.Duration // peers silent for longer are removed; zero disables pruning
	ICEServers        []string
	IncludeLoopback   bool
	DisableWebRTC     bool
}

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultPeerTimeout       = 20 * time.Second
)

func (o *Options) validate() error {
	if o.UserID == "" {
		return errors.New("connection: empty UserID")
	}
	if o.TransportURL == "" {
		return errors.New("connection: empty TransportURL")
	}
	u, err := url.Parse(o.TransportURL)
	if err != nil {
		return fmt.Errorf("connection: invalid TransportURL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("connection: TransportURL scheme %q, want ws or wss", u.Scheme)
	}
	return nil
}

// meetingID is the last path segment of the lobby URL.
func (o *Options) meetingID() string {
	u, err := url.Parse(o.TransportURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return path.Base(u.Path)
}
