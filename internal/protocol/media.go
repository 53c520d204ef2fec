package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Frame types carried in MediaPacket.FrameType.
const (
	FrameTypeKey   = "key"
	FrameTypeDelta = "delta"
)

// MediaPacket is the payload of a MEDIA envelope. With E2EE enabled the
// whole encoded MediaPacket is sealed before it is placed in the envelope.
type MediaPacket struct {
	MediaType   MediaType
	Sender      string
	Data        []byte  // opaque encoder output
	FrameType   string  // FrameTypeKey or FrameTypeDelta
	TimestampMs float64 // capture time relative to the encoder start
	DurationMs  float64
	Audio       *AudioMetadata
	Video       *VideoMetadata

	unknown []byte
}

// AudioMetadata describes an audio chunk.
type AudioMetadata struct {
	SampleRate uint32
	Channels   uint32
}

// VideoMetadata describes a video chunk.
type VideoMetadata struct {
	Sequence uint64
	Width    uint32
	Height   uint32
}

const (
	fieldMediaMediaType = 1
	fieldMediaSender    = 2
	fieldMediaData      = 3
	fieldMediaFrameType = 4
	fieldMediaTimestamp = 5
	fieldMediaDuration  = 6
	fieldMediaAudio     = 7
	fieldMediaVideo     = 8
)

// Marshal encodes the media packet.
func (m *MediaPacket) Marshal() []byte {
	b := make([]byte, 0, len(m.Data)+len(m.Sender)+48)
	b = appendVarintField(b, fieldMediaMediaType, uint64(m.MediaType))
	b = appendStringField(b, fieldMediaSender, m.Sender)
	b = appendBytesField(b, fieldMediaData, m.Data)
	b = appendStringField(b, fieldMediaFrameType, m.FrameType)
	b = appendDoubleField(b, fieldMediaTimestamp, m.TimestampMs)
	b = appendDoubleField(b, fieldMediaDuration, m.DurationMs)
	if m.Audio != nil {
		var sub []byte
		sub = appendVarintField(sub, 1, uint64(m.Audio.SampleRate))
		sub = appendVarintField(sub, 2, uint64(m.Audio.Channels))
		b = protowire.AppendTag(b, fieldMediaAudio, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if m.Video != nil {
		var sub []byte
		sub = appendVarintField(sub, 1, m.Video.Sequence)
		sub = appendVarintField(sub, 2, uint64(m.Video.Width))
		sub = appendVarintField(sub, 3, uint64(m.Video.Height))
		b = protowire.AppendTag(b, fieldMediaVideo, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return append(b, m.unknown...)
}

// UnmarshalMediaPacket decodes a MediaPacket.
func UnmarshalMediaPacket(data []byte) (*MediaPacket, error) {
	m := &MediaPacket{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldMediaMediaType:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.MediaType, err = mediaTypeOf(num, v)
			return n, err
		case fieldMediaSender:
			v, n, err := consumeBytes(num, typ, b)
			m.Sender = string(v)
			return n, err
		case fieldMediaData:
			v, n, err := consumeBytes(num, typ, b)
			m.Data = append([]byte(nil), v...)
			return n, err
		case fieldMediaFrameType:
			v, n, err := consumeBytes(num, typ, b)
			m.FrameType = string(v)
			return n, err
		case fieldMediaTimestamp:
			v, n, err := consumeDouble(num, typ, b)
			m.TimestampMs = v
			return n, err
		case fieldMediaDuration:
			v, n, err := consumeDouble(num, typ, b)
			m.DurationMs = v
			return n, err
		case fieldMediaAudio:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.Audio, err = unmarshalAudioMetadata(v)
			return n, err
		case fieldMediaVideo:
			v, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			m.Video, err = unmarshalVideoMetadata(v)
			return n, err
		}
		return -1, nil
	}, &m.unknown)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalAudioMetadata(data []byte) (*AudioMetadata, error) {
	a := &AudioMetadata{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			a.SampleRate = uint32(v)
			return n, err
		case 2:
			v, n, err := consumeVarint(num, typ, b)
			a.Channels = uint32(v)
			return n, err
		}
		return -1, nil
	}, nil)
	return a, err
}

func unmarshalVideoMetadata(data []byte) (*VideoMetadata, error) {
	v := &VideoMetadata{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			x, n, err := consumeVarint(num, typ, b)
			v.Sequence = x
			return n, err
		case 2:
			x, n, err := consumeVarint(num, typ, b)
			v.Width = uint32(x)
			return n, err
		case 3:
			x, n, err := consumeVarint(num, typ, b)
			v.Height = uint32(x)
			return n, err
		}
		return -1, nil
	}, nil)
	return v, err
}
