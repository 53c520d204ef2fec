package protocol

import "google.golang.org/protobuf/encoding/protowire"

// RsaPacket is the payload of RSA_PUB_KEY: the sender's public key.
type RsaPacket struct {
	Sender       string
	PublicKeyDER []byte // PKIX, ASN.1 DER
}

// AesPacket is the payload of AES_KEY: the sender's media key secret,
// wrapped under the recipient's public key. Only Recipient may unwrap it.
type AesPacket struct {
	Recipient  string
	WrappedKey []byte
}

// ConnectionPacket is the payload of CONNECTION, announcing which meeting
// the sender joined.
type ConnectionPacket struct {
	MeetingID string
}

// Marshal encodes the RSA packet.
func (r *RsaPacket) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, r.Sender)
	return appendBytesField(b, 2, r.PublicKeyDER)
}

// UnmarshalRsaPacket decodes an RsaPacket.
func UnmarshalRsaPacket(data []byte) (*RsaPacket, error) {
	r := &RsaPacket{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(num, typ, b)
			r.Sender = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			r.PublicKeyDER = append([]byte(nil), v...)
			return n, err
		}
		return -1, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Marshal encodes the AES packet.
func (a *AesPacket) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, a.Recipient)
	return appendBytesField(b, 2, a.WrappedKey)
}

// UnmarshalAesPacket decodes an AesPacket.
func UnmarshalAesPacket(data []byte) (*AesPacket, error) {
	a := &AesPacket{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(num, typ, b)
			a.Recipient = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			a.WrappedKey = append([]byte(nil), v...)
			return n, err
		}
		return -1, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Marshal encodes the connection packet.
func (c *ConnectionPacket) Marshal() []byte {
	return appendStringField(nil, 1, c.MeetingID)
}

// UnmarshalConnectionPacket decodes a ConnectionPacket.
func UnmarshalConnectionPacket(data []byte) (*ConnectionPacket, error) {
	c := &ConnectionPacket{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(num, typ, b)
			c.MeetingID = string(v)
			return n, err
		}
		return -1, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}
