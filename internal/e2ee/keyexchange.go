// Package e2ee implements the per-connection key exchange that protects media
// payloads end to end.
//
// Every participant owns an RSA keypair and a random media secret. Public keys
// travel in RSA_PUB_KEY packets; the media secret travels to each peer in an
// AES_KEY packet, wrapped under that peer's public key. Media is sealed with a
// key derived from the sender's own secret, so each receiver needs exactly one
// AES_KEY per sender to read that sender's stream.
package e2ee

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/1ureka/callcore/internal/protocol"
)

const (
	rsaBits    = 2048
	secretSize = 32 // input keying material of the media key
	saltSize   = 16
	mediaInfo  = "callcore media"

	// sealedVersion is the first byte of every sealed payload and part of
	// the associated data.
	sealedVersion byte = 0x01

	// SealedOverhead is the number of bytes Seal adds to a plaintext.
	SealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

var (
	// ErrKeyNotEstablished is returned by Seal and Open before the first
	// AES_KEY addressed to us arrived.
	ErrKeyNotEstablished = errors.New("e2ee: media key not established")

	// ErrNoPeerKey is returned by Open for a sender whose AES_KEY is unknown.
	ErrNoPeerKey = errors.New("e2ee: no media key for peer")

	// ErrNoLocalKey is returned when the local keypair was never generated.
	ErrNoLocalKey = errors.New("e2ee: local keypair not generated")
)

// CryptoError reports a failure of local key material: keypair or secret
// generation, or key derivation. It is fatal to the connection attempt.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string { return fmt.Sprintf("e2ee: %s: %v", e.Op, e.Err) }

func (e *CryptoError) Unwrap() error { return e.Err }

// peer is what we know about one remote participant.
type peer struct {
	pubDER []byte
	pub    *rsa.PublicKey
	key    []byte // derived media key of the peer's stream, nil until AES_KEY
}

// KeyExchange holds the key material of one connection attempt. All methods
// are safe for concurrent use: the send path (Seal) and the receive path
// (Handle*, Open) run on different goroutines.
type KeyExchange struct {
	self string
	rand io.Reader

	mu     sync.RWMutex
	state  State
	priv   *rsa.PrivateKey
	pubDER []byte
	secret []byte // secret || salt, sent to peers inside AES_KEY
	key    []byte // our derived media key
	peers  map[string]*peer
}

// New returns a KeyExchange in StateUninitialized for the local participant
// self.
func New(self string) *KeyExchange {
	return &KeyExchange{
		self:  self,
		rand:  rand.Reader,
		peers: make(map[string]*peer),
	}
}

// State returns the current handshake state.
func (k *KeyExchange) State() State {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Established reports whether media may be sealed and opened.
func (k *KeyExchange) Established() bool {
	return k.State() == StateKeyEstablished
}

// ---------------------------------------------------------------------------
// Local key material
// ---------------------------------------------------------------------------

// Generate creates the local keypair and media secret and moves the exchange
// to StateLocalKeyGenerated. Calling it again after success is a no-op.
func (k *KeyExchange) Generate() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state != StateUninitialized {
		return nil
	}

	priv, err := rsa.GenerateKey(k.rand, rsaBits)
	if err != nil {
		return &CryptoError{Op: "generate keypair", Err: err}
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return &CryptoError{Op: "marshal public key", Err: err}
	}

	secret := make([]byte, secretSize+saltSize)
	if _, err := io.ReadFull(k.rand, secret); err != nil {
		return &CryptoError{Op: "generate media secret", Err: err}
	}
	key, err := deriveMediaKey(secret)
	if err != nil {
		ZeroBytes(secret)
		return &CryptoError{Op: "derive media key", Err: err}
	}

	k.priv, k.pubDER, k.secret, k.key = priv, der, secret, key
	k.state = StateLocalKeyGenerated
	return nil
}

// PublicKeyPacket returns the RSA_PUB_KEY payload announcing our public key.
func (k *KeyExchange) PublicKeyPacket() (*protocol.RsaPacket, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.priv == nil {
		return nil, ErrNoLocalKey
	}
	return &protocol.RsaPacket{
		Sender:       k.self,
		PublicKeyDER: append([]byte(nil), k.pubDER...),
	}, nil
}

// MarkSent records that our RSA_PUB_KEY went out. The first call moves the
// exchange from StateLocalKeyGenerated to StateAwaitingPeerKey.
func (k *KeyExchange) MarkSent() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.state == StateLocalKeyGenerated {
		k.state = StateAwaitingPeerKey
	}
}

// ---------------------------------------------------------------------------
// Inbound handshake packets
// ---------------------------------------------------------------------------

// HandlePeerPublicKey stores the public key announced by sender. When the key
// is new or differs from the stored one, changed is true and reply holds the
// AES_KEY payload that hands our media secret to that peer. A key that
// replaces an earlier one invalidates the media key we held for the peer.
func (k *KeyExchange) HandlePeerPublicKey(sender string, pkt *protocol.RsaPacket) (changed bool, reply *protocol.AesPacket, err error) {
	if sender == k.self {
		return false, nil, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(pkt.PublicKeyDER)
	if err != nil {
		return false, nil, fmt.Errorf("parse public key of %s: %w", sender, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return false, nil, fmt.Errorf("public key of %s is %T, want RSA", sender, parsed)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.priv == nil {
		return false, nil, ErrNoLocalKey
	}

	p := k.peers[sender]
	if p != nil && string(p.pubDER) == string(pkt.PublicKeyDER) {
		return false, nil, nil
	}
	if p == nil {
		p = &peer{}
		k.peers[sender] = p
	}
	if p.pubDER != nil && p.key != nil {
		ZeroBytes(p.key)
		p.key = nil
	}
	p.pubDER = append([]byte(nil), pkt.PublicKeyDER...)
	p.pub = pub

	wrapped, err := rsa.EncryptOAEP(sha256.New(), k.rand, pub, k.secret, nil)
	if err != nil {
		return true, nil, fmt.Errorf("wrap media secret for %s: %w", sender, err)
	}
	return true, &protocol.AesPacket{Recipient: sender, WrappedKey: wrapped}, nil
}

// HandlePeerKey unwraps the media secret sender addressed to us and derives
// the key of sender's stream. AES_KEY packets for other recipients are
// ignored. first is true when this packet moved the exchange into
// StateKeyEstablished.
func (k *KeyExchange) HandlePeerKey(sender string, pkt *protocol.AesPacket) (first bool, err error) {
	if pkt.Recipient != k.self || sender == k.self {
		return false, nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.priv == nil {
		return false, ErrNoLocalKey
	}

	secret, err := rsa.DecryptOAEP(sha256.New(), nil, k.priv, pkt.WrappedKey, nil)
	if err != nil {
		return false, fmt.Errorf("unwrap media secret from %s: %w", sender, err)
	}
	defer ZeroBytes(secret)
	if len(secret) != secretSize+saltSize {
		return false, fmt.Errorf("media secret from %s is %d bytes, want %d", sender, len(secret), secretSize+saltSize)
	}

	key, err := deriveMediaKey(secret)
	if err != nil {
		return false, &CryptoError{Op: "derive media key", Err: err}
	}

	p := k.peers[sender]
	if p == nil {
		p = &peer{}
		k.peers[sender] = p
	}
	if p.key != nil {
		ZeroBytes(p.key)
	}
	p.key = key

	if k.state != StateKeyEstablished {
		k.state = StateKeyEstablished
		return true, nil
	}
	return false, nil
}

// HasPeerKey reports whether media from id can be opened.
func (k *KeyExchange) HasPeerKey(id string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	p := k.peers[id]
	return p != nil && p.key != nil
}

// ---------------------------------------------------------------------------
// Media sealing
// ---------------------------------------------------------------------------

// Seal encrypts an outbound media payload under our media key:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag]
//
// The version byte and our participant id are authenticated.
func (k *KeyExchange) Seal(plaintext []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.state != StateKeyEstablished {
		return nil, ErrKeyNotEstablished
	}

	aead, err := chacha20poly1305.NewX(k.key)
	if err != nil {
		return nil, &CryptoError{Op: "create cipher", Err: err}
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, len(plaintext)+SealedOverhead)
	out[0] = sealedVersion
	if _, err := io.ReadFull(k.rand, out[1:]); err != nil {
		return nil, &CryptoError{Op: "generate nonce", Err: err}
	}
	nonce := out[1:]
	return aead.Seal(out, nonce, plaintext, associatedData(k.self)), nil
}

// Open decrypts a media payload sealed by sender.
func (k *KeyExchange) Open(sender string, sealed []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.state != StateKeyEstablished {
		return nil, ErrKeyNotEstablished
	}
	p := k.peers[sender]
	if p == nil || p.key == nil {
		return nil, fmt.Errorf("%w %s", ErrNoPeerKey, sender)
	}
	if len(sealed) < SealedOverhead {
		return nil, fmt.Errorf("sealed payload from %s is %d bytes, minimum is %d", sender, len(sealed), SealedOverhead)
	}
	if sealed[0] != sealedVersion {
		return nil, fmt.Errorf("sealed payload version %d from %s is not supported", sealed[0], sender)
	}

	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return nil, &CryptoError{Op: "create cipher", Err: err}
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], associatedData(sender))
	if err != nil {
		return nil, fmt.Errorf("authenticate media from %s: %w", sender, err)
	}
	return plaintext, nil
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Reset wipes all key material and returns the exchange to
// StateUninitialized. A reset exchange is not reused across connection
// attempts; it only guarantees nothing secret outlives the attempt.
func (k *KeyExchange) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for id, p := range k.peers {
		ZeroBytes(p.key)
		delete(k.peers, id)
	}
	ZeroBytes(k.secret)
	ZeroBytes(k.key)
	WipePrivateKey(k.priv)

	k.priv, k.pubDER, k.secret, k.key = nil, nil, nil, nil
	k.state = StateUninitialized
}

func deriveMediaKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret[:secretSize], secret[secretSize:], []byte(mediaInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		ZeroBytes(key)
		return nil, err
	}
	return key, nil
}

func associatedData(sender string) []byte {
	ad := make([]byte, 0, 1+len(sender))
	ad = append(ad, sealedVersion)
	return append(ad, sender...)
}
