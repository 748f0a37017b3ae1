// Package keys generates and loads the two keypairs Sentinel works
// with: the Ed25519 signing key for checkpoint signatures and the
// X25519 recipient key for payload envelopes. All keys are persisted
// as base-64 text files, one key per file.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// File names written by the keygen commands.
const (
	SigningKeyFile    = "signing_key.b64"
	SigningPubKeyFile = "signing_pubkey.b64"
	RecipientKeyFile  = "recipient_priv.b64"
	RecipientPubFile  = "recipient_pub.b64"
)

// GenerateSigning writes a new Ed25519 keypair into outDir. The
// private file holds the 32-byte seed; the public file the 32-byte
// public key.
func GenerateSigning(outDir string) error {
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return fmt.Errorf("keys: create directory: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("keys: generate signing key: %w", err)
	}

	if err := writeB64(filepath.Join(outDir, SigningKeyFile), priv.Seed(), 0600); err != nil {
		return err
	}
	return writeB64(filepath.Join(outDir, SigningPubKeyFile), pub, 0644)
}

// GenerateRecipient writes a new X25519 keypair into outDir. The
// private key is 32 random bytes; the public key is derived via the
// curve basepoint.
func GenerateRecipient(outDir string) error {
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return fmt.Errorf("keys: create directory: %w", err)
	}

	priv := make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return fmt.Errorf("keys: generate recipient key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("keys: derive recipient pubkey: %w", err)
	}

	if err := writeB64(filepath.Join(outDir, RecipientKeyFile), priv, 0600); err != nil {
		return err
	}
	return writeB64(filepath.Join(outDir, RecipientPubFile), pub, 0644)
}

// LoadSigningKey reads an Ed25519 private key from a base-64 32-byte
// seed file.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	seed, err := readB64(path, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadSigningPub reads an Ed25519 public key from a base-64 file.
func LoadSigningPub(path string) (ed25519.PublicKey, error) {
	b, err := readB64(path, ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(b), nil
}

// LoadRecipientPub reads an X25519 public key from a base-64 file.
func LoadRecipientPub(path string) ([]byte, error) {
	return readB64(path, 32)
}

// LoadRecipientKey reads an X25519 private key from a base-64 file.
// Only the verifier reads this; Sentinel itself never does.
func LoadRecipientKey(path string) ([]byte, error) {
	return readB64(path, 32)
}

func writeB64(path string, key []byte, mode os.FileMode) error {
	data := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(data), mode); err != nil {
		return fmt.Errorf("keys: write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readB64(path string, wantLen int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read key file: %w", err)
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("keys: decode %s: %w", filepath.Base(path), err)
	}
	if len(b) != wantLen {
		return nil, fmt.Errorf("keys: %s: expected %d bytes, got %d", filepath.Base(path), wantLen, len(b))
	}
	return b, nil
}
