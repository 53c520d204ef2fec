package protocol

import (
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// EncodeError reports an in-memory packet that cannot be put on the wire.
// Values built through the normal constructors never produce one.
type EncodeError struct {
	Type   PacketType
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s packet: %s", e.Type, e.Reason)
}

// DecodeErrorKind classifies why a frame could not be decoded.
type DecodeErrorKind int

const (
	DecodeTruncated   DecodeErrorKind = iota + 1 // input ends early or misses a required field
	DecodeUnknownType                            // packet_type outside the known set
	DecodeMalformed                              // invalid tag, wire type or field value
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeTruncated:
		return "truncated"
	case DecodeUnknownType:
		return "unknown type"
	case DecodeMalformed:
		return "malformed"
	}
	return "unknown"
}

// DecodeError is returned for every frame Decode rejects. Remote decode
// errors are never fatal: the caller drops the frame and keeps going.
type DecodeError struct {
	Kind  DecodeErrorKind
	Field protowire.Number // offending field, 0 if not field specific
	Value int64            // raw packet_type for DecodeUnknownType
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Kind == DecodeUnknownType:
		return fmt.Sprintf("decode packet: unknown packet type %d", e.Value)
	case e.Err != nil && e.Field != 0:
		return fmt.Sprintf("decode packet: %s (field %d): %v", e.Kind, e.Field, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("decode packet: %s: %v", e.Kind, e.Err)
	case e.Field != 0:
		return fmt.Sprintf("decode packet: %s (field %d)", e.Kind, e.Field)
	}
	return fmt.Sprintf("decode packet: %s", e.Kind)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeKind reports whether err is a DecodeError of the given kind.
func IsDecodeKind(err error, kind DecodeErrorKind) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == kind
}

// wireError converts a negative protowire length into a DecodeError.
func wireError(field protowire.Number, n int) error {
	err := protowire.ParseError(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &DecodeError{Kind: DecodeTruncated, Field: field, Err: err}
	}
	return &DecodeError{Kind: DecodeMalformed, Field: field, Err: err}
}

func missingField(field protowire.Number) error {
	return &DecodeError{Kind: DecodeTruncated, Field: field, Err: errors.New("required field missing")}
}

func wrongWireType(field protowire.Number, typ protowire.Type) error {
	return &DecodeError{Kind: DecodeMalformed, Field: field, Err: fmt.Errorf("unexpected wire type %d", typ)}
}
