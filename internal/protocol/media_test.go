package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/callcore/internal/protocol"
)

func TestMediaPacketRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *protocol.MediaPacket
	}{
		{
			name: "video key frame",
			pkt: &protocol.MediaPacket{
				MediaType:   protocol.MediaTypeVideo,
				Sender:      "amy",
				Data:        []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a},
				FrameType:   protocol.FrameTypeKey,
				TimestampMs: 1234.5,
				DurationMs:  33.3,
				Video:       &protocol.VideoMetadata{Sequence: 42, Width: 640, Height: 480},
			},
		},
		{
			name: "audio chunk",
			pkt: &protocol.MediaPacket{
				MediaType:  protocol.MediaTypeAudio,
				Sender:     "bob",
				Data:       []byte("opus"),
				FrameType:  protocol.FrameTypeKey,
				DurationMs: 20,
				Audio:      &protocol.AudioMetadata{SampleRate: 48000, Channels: 2},
			},
		},
		{
			name: "heartbeat",
			pkt: &protocol.MediaPacket{
				MediaType: protocol.MediaTypeHeartbeat,
				Sender:    "zoe",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := protocol.UnmarshalMediaPacket(tc.pkt.Marshal())
			require.NoError(t, err)
			assert.Equal(t, tc.pkt, decoded)
		})
	}
}

func TestControlPayloadRoundTrip(t *testing.T) {
	rsa := &protocol.RsaPacket{Sender: "amy", PublicKeyDER: []byte{0x30, 0x0d}}
	gotRsa, err := protocol.UnmarshalRsaPacket(rsa.Marshal())
	require.NoError(t, err)
	assert.Equal(t, rsa, gotRsa)

	aes := &protocol.AesPacket{Recipient: "bob", WrappedKey: []byte{1, 2, 3}}
	gotAes, err := protocol.UnmarshalAesPacket(aes.Marshal())
	require.NoError(t, err)
	assert.Equal(t, aes, gotAes)

	conn := &protocol.ConnectionPacket{MeetingID: "standup"}
	gotConn, err := protocol.UnmarshalConnectionPacket(conn.Marshal())
	require.NoError(t, err)
	assert.Equal(t, conn, gotConn)
}

func TestUnmarshalMediaPacketRejectsTruncated(t *testing.T) {
	b := (&protocol.MediaPacket{MediaType: protocol.MediaTypeAudio, Sender: "amy", Data: []byte("chunk")}).Marshal()

	_, err := protocol.UnmarshalMediaPacket(b[:len(b)-2])
	assert.True(t, protocol.IsDecodeKind(err, protocol.DecodeTruncated), "got %v", err)
}
