package e2ee

import "fmt"

// State is the handshake state of a KeyExchange.
type State int

const (
	StateUninitialized     State = iota // no key material
	StateLocalKeyGenerated              // keypair and media secret exist
	StateAwaitingPeerKey                // our RSA_PUB_KEY went out
	StateKeyEstablished                 // at least one AES_KEY addressed to us arrived
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateLocalKeyGenerated:
		return "LocalKeyGenerated"
	case StateAwaitingPeerKey:
		return "AwaitingPeerKey"
	case StateKeyEstablished:
		return "KeyEstablished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
