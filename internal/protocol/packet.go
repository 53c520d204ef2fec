// Package protocol defines the PacketWrapper envelope exchanged between call
// participants and the payload messages it carries.
//
// Every message is encoded in the protobuf wire format so that peers running
// newer schema revisions stay readable: unknown fields are kept and re-emitted,
// and unknown packet types surface as a typed DecodeError instead of a panic.
package protocol

import "fmt"

// PacketType is the envelope discriminant. The payload interpretation is fully
// determined by it.
type PacketType int32

const (
	PacketTypeRSAPubKey  PacketType = 0 // RsaPacket, plaintext
	PacketTypeAESKey     PacketType = 1 // AesPacket, plaintext (key material is RSA-wrapped)
	PacketTypeMedia      PacketType = 2 // MediaPacket, ciphertext when E2EE is on
	PacketTypeConnection PacketType = 3 // ConnectionPacket, plaintext
)

// Valid reports whether t belongs to the closed set of packet types.
func (t PacketType) Valid() bool {
	return t >= PacketTypeRSAPubKey && t <= PacketTypeConnection
}

func (t PacketType) String() string {
	switch t {
	case PacketTypeRSAPubKey:
		return "RSA_PUB_KEY"
	case PacketTypeAESKey:
		return "AES_KEY"
	case PacketTypeMedia:
		return "MEDIA"
	case PacketTypeConnection:
		return "CONNECTION"
	}
	return fmt.Sprintf("PacketType(%d)", int32(t))
}

// MediaType tags a MEDIA packet so peers can demultiplex audio and video
// without decrypting or decoding the payload.
type MediaType int32

const (
	MediaTypeVideo     MediaType = 0
	MediaTypeAudio     MediaType = 1
	MediaTypeScreen    MediaType = 2
	MediaTypeHeartbeat MediaType = 3
)

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool {
	return m >= MediaTypeVideo && m <= MediaTypeHeartbeat
}

func (m MediaType) String() string {
	switch m {
	case MediaTypeVideo:
		return "VIDEO"
	case MediaTypeAudio:
		return "AUDIO"
	case MediaTypeScreen:
		return "SCREEN"
	case MediaTypeHeartbeat:
		return "HEARTBEAT"
	}
	return fmt.Sprintf("MediaType(%d)", int32(m))
}

// PacketWrapper is the envelope every frame on the wire decodes to.
// It is built per send call and encoded right before transmission.
type PacketWrapper struct {
	Type      PacketType
	Sender    string    // participant id of the originator
	Sequence  uint64    // per-connection counter, starts at 1
	MediaType MediaType // MEDIA only; must stay zero for other types
	Data      []byte    // payload, see PacketType

	// unknown holds fields written by newer peers, re-emitted verbatim.
	unknown []byte
}

// Field numbers of the PacketWrapper message.
const (
	fieldPacketType = 1
	fieldSender     = 2
	fieldSequence   = 3
	fieldMediaType  = 4
	fieldData       = 5
)
