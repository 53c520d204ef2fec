package protocol

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encode serializes a PacketWrapper for transmission. Fields are written in
// field-number order with data last, so any strict prefix of a frame without
// unknown fields fails to decode.
func Encode(p *PacketWrapper) ([]byte, error) {
	if p == nil {
		return nil, &EncodeError{Reason: "nil packet"}
	}
	if !p.Type.Valid() {
		return nil, &EncodeError{Type: p.Type, Reason: "packet type outside the known set"}
	}
	if p.Sender == "" {
		return nil, &EncodeError{Type: p.Type, Reason: "empty sender"}
	}
	if p.Type == PacketTypeMedia && !p.MediaType.Valid() {
		return nil, &EncodeError{Type: p.Type, Reason: "unknown media type " + p.MediaType.String()}
	}
	if p.Type != PacketTypeMedia && p.MediaType != MediaTypeVideo {
		return nil, &EncodeError{Type: p.Type, Reason: "media type set on a control packet"}
	}

	b := make([]byte, 0, len(p.Sender)+len(p.Data)+len(p.unknown)+32)
	b = protowire.AppendTag(b, fieldPacketType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Type))
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendString(b, p.Sender)
	if p.Sequence != 0 {
		b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
		b = protowire.AppendVarint(b, p.Sequence)
	}
	if p.Type == PacketTypeMedia {
		b = protowire.AppendTag(b, fieldMediaType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.MediaType))
	}
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Data)
	b = append(b, p.unknown...)
	return b, nil
}

// Decode parses a frame into a PacketWrapper. It never panics on hostile
// input; every failure is a *DecodeError.
func Decode(data []byte) (*PacketWrapper, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Kind: DecodeTruncated, Err: errors.New("empty frame")}
	}

	p := &PacketWrapper{}
	var rawType uint64
	var hasType, hasSender, hasMT, hasData bool

	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldPacketType:
			v, n, err := consumeVarint(num, typ, b)
			rawType, hasType = v, true
			return n, err
		case fieldSender:
			v, n, err := consumeBytes(num, typ, b)
			p.Sender, hasSender = string(v), true
			return n, err
		case fieldSequence:
			v, n, err := consumeVarint(num, typ, b)
			p.Sequence = v
			return n, err
		case fieldMediaType:
			v, n, err := consumeVarint(num, typ, b)
			if err != nil {
				return 0, err
			}
			p.MediaType, err = mediaTypeOf(num, v)
			hasMT = true
			return n, err
		case fieldData:
			v, n, err := consumeBytes(num, typ, b)
			p.Data, hasData = append([]byte(nil), v...), true
			return n, err
		}
		return -1, nil
	}, &p.unknown)
	if err != nil {
		return nil, err
	}

	if hasType {
		if rawType > math.MaxInt32 || !PacketType(rawType).Valid() {
			return nil, &DecodeError{Kind: DecodeUnknownType, Field: fieldPacketType, Value: int64(rawType)}
		}
		p.Type = PacketType(rawType)
	}
	switch {
	case !hasType:
		return nil, missingField(fieldPacketType)
	case !hasSender:
		return nil, missingField(fieldSender)
	case !hasData:
		return nil, missingField(fieldData)
	}

	if p.Sender == "" {
		return nil, &DecodeError{Kind: DecodeMalformed, Field: fieldSender, Err: errors.New("empty sender")}
	}
	if hasMT && p.Type != PacketTypeMedia {
		return nil, &DecodeError{Kind: DecodeMalformed, Field: fieldMediaType, Err: errors.New("media type on a control packet")}
	}
	if p.Type == PacketTypeMedia && !p.MediaType.Valid() {
		return nil, &DecodeError{Kind: DecodeMalformed, Field: fieldMediaType, Err: errors.New("unknown media type")}
	}
	return p, nil
}

// PeekType returns the packet type of an encoded frame without copying the
// payload. The relay uses it to pick a delivery class per frame.
func PeekType(data []byte) (PacketType, error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, wireError(0, n)
		}
		data = data[n:]
		if num == fieldPacketType {
			v, _, err := consumeVarint(num, typ, data)
			if err != nil {
				return 0, err
			}
			if v > math.MaxInt32 || !PacketType(v).Valid() {
				return 0, &DecodeError{Kind: DecodeUnknownType, Field: fieldPacketType, Value: int64(v)}
			}
			return PacketType(v), nil
		}
		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return 0, wireError(num, m)
		}
		data = data[m:]
	}
	return 0, missingField(fieldPacketType)
}

// ---------------------------------------------------------------------------
// Field helpers shared by every message in the package
// ---------------------------------------------------------------------------

// fieldFunc consumes the value of one field and returns its length. It
// returns -1 for fields it does not know, which walkFields then skips.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walkFields iterates over the fields of a message. Skipped fields are
// appended, tag included, to unknown when it is non-nil.
func walkFields(b []byte, fn fieldFunc, unknown *[]byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(0, n)
		}
		tag := b[:n]
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return wireError(num, m)
			}
			if unknown != nil {
				*unknown = append(*unknown, tag...)
				*unknown = append(*unknown, b[:m]...)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, wrongWireType(num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireError(num, n)
	}
	return v, n, nil
}

// mediaTypeOf narrows a media_type varint. Values outside int32 are
// malformed rather than truncated into a valid type.
func mediaTypeOf(num protowire.Number, v uint64) (MediaType, error) {
	if v > math.MaxInt32 {
		return 0, &DecodeError{Kind: DecodeMalformed, Field: num, Err: fmt.Errorf("media type %d out of range", v)}
	}
	return MediaType(v), nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wrongWireType(num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireError(num, n)
	}
	return v, n, nil
}

func consumeDouble(num protowire.Number, typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, wrongWireType(num, typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, wireError(num, n)
	}
	return math.Float64frombits(v), n, nil
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDoubleField(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}
