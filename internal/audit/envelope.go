package audit

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// EnvelopeAlg identifies the only envelope scheme Sentinel writes.
const EnvelopeAlg = "x25519+chacha20poly1305"

var hkdfInfo = []byte("sentinel-audit-v1")

// Envelope is the encrypted form of an event payload. The AEAD binds
// the ciphertext to "event_id:run_id" so a payload cannot be spliced
// onto another record.
type Envelope struct {
	Alg   string `json:"alg"`
	EPK   string `json:"epk"`
	Nonce string `json:"nonce"`
	CT    string `json:"ct"`
	AAD   string `json:"aad"`
}

// Seal encrypts plaintext to the recipient's X25519 public key with a
// fresh ephemeral key per record.
func Seal(recipientPub, plaintext []byte, aad string) (*Envelope, error) {
	ephPriv := make([]byte, 32)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, fmt.Errorf("audit: ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("audit: ephemeral pubkey: %w", err)
	}

	aead, err := recordAEAD(ephPriv, recipientPub)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("audit: nonce: %w", err)
	}

	ct := aead.Seal(nil, nonce, plaintext, []byte(aad))
	return &Envelope{
		Alg:   EnvelopeAlg,
		EPK:   base64.StdEncoding.EncodeToString(ephPub),
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		CT:    base64.StdEncoding.EncodeToString(ct),
		AAD:   aad,
	}, nil
}

// Open decrypts an envelope with the recipient's private key, checking
// the AEAD tag against expectedAAD. The envelope's own aad field must
// match too — a mismatch means the record was reassembled.
func (e *Envelope) Open(recipientPriv []byte, expectedAAD string) ([]byte, error) {
	if e.Alg != EnvelopeAlg {
		return nil, fmt.Errorf("audit: unknown envelope alg %q", e.Alg)
	}
	if e.AAD != expectedAAD {
		return nil, fmt.Errorf("audit: envelope aad %q does not match record %q", e.AAD, expectedAAD)
	}

	ephPub, err := base64.StdEncoding.DecodeString(e.EPK)
	if err != nil {
		return nil, fmt.Errorf("audit: decode epk: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(e.Nonce)
	if err != nil {
		return nil, fmt.Errorf("audit: decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(e.CT)
	if err != nil {
		return nil, fmt.Errorf("audit: decode ciphertext: %w", err)
	}

	aead, err := recordAEAD(recipientPriv, ephPub)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ct, []byte(expectedAAD))
	if err != nil {
		return nil, fmt.Errorf("audit: decrypt failed (wrong key or tampered ciphertext)")
	}
	return pt, nil
}

// recordAEAD derives the per-record cipher from an X25519 exchange:
// HKDF-SHA256 over the shared secret, bound to the scheme label.
func recordAEAD(priv, pub []byte) (cipher.AEAD, error) {
	shared, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, fmt.Errorf("audit: key exchange: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("audit: derive key: %w", err)
	}
	return chacha20poly1305.New(key)
}
