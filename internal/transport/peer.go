package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are the public STUN servers the CLI uses for ICE
// candidate gathering. No TURN: a participant that cannot reach the relay
// peer-to-peer falls back to the WebSocket variant instead.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Pre-negotiated channel ids. Both sides create the channels themselves, so
// neither relies on OnDataChannel.
const (
	controlChannelID uint16 = 0
	mediaChannelID   uint16 = 1
)

// RTCConfig tunes the PeerConnection behind the WebRTC variant.
type RTCConfig struct {
	ICEServers []string // STUN URLs; empty means host candidates only

	// IncludeLoopback gathers loopback candidates, needed when participant
	// and relay share a machine with no other interface.
	IncludeLoopback bool
}

// newPeerConnection creates a PeerConnection configured from cfg.
func newPeerConnection(cfg RTCConfig) (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.IncludeLoopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	config := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	return api.NewPeerConnection(config)
}

// newDataChannels creates the two pre-negotiated DataChannels on pc:
//
//   - control: ordered and reliable, for key exchange and connection packets
//   - media: unordered with no retransmits, so a lost chunk never delays the
//     next one
func newDataChannels(pc *webrtc.PeerConnection) (control, media *webrtc.DataChannel, err error) {
	negotiated := true
	ordered := true
	id := controlChannelID

	control, err = pc.CreateDataChannel("control", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, nil, err
	}

	unordered := false
	maxRetransmits := uint16(0)
	mediaID := mediaChannelID

	media, err = pc.CreateDataChannel("media", &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &mediaID,
	})
	if err != nil {
		control.Close()
		return nil, nil, err
	}
	return control, media, nil
}
