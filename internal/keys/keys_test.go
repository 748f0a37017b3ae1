package keys

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestSigningRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateSigning(dir); err != nil {
		t.Fatalf("generate: %v", err)
	}

	priv, err := LoadSigningKey(filepath.Join(dir, SigningKeyFile))
	if err != nil {
		t.Fatalf("load private: %v", err)
	}
	pub, err := LoadSigningPub(filepath.Join(dir, SigningPubKeyFile))
	if err != nil {
		t.Fatalf("load public: %v", err)
	}

	msg := []byte("chain tail")
	sig := ed25519.Sign(priv, msg)
	if !ed25519.Verify(pub, msg, sig) {
		t.Error("signature from loaded keypair does not verify")
	}
}

func TestRecipientRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateRecipient(dir); err != nil {
		t.Fatalf("generate: %v", err)
	}

	priv, err := LoadRecipientKey(filepath.Join(dir, RecipientKeyFile))
	if err != nil {
		t.Fatalf("load private: %v", err)
	}
	pub, err := LoadRecipientPub(filepath.Join(dir, RecipientPubFile))
	if err != nil {
		t.Fatalf("load public: %v", err)
	}

	derived, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(derived, pub) {
		t.Error("public key file does not match the private key")
	}
}

func TestLoadRejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.b64")
	if err := os.WriteFile(path, []byte("QUJD\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSigningKey(path); err == nil {
		t.Error("3-byte seed accepted")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.b64")
	if err := os.WriteFile(path, []byte("not base64 !!!"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRecipientPub(path); err == nil {
		t.Error("garbage key file accepted")
	}
}

func TestPrivateKeyFileMode(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateSigning(dir); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dir, SigningKeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("private key mode = %o, want 0600", info.Mode().Perm())
	}
}
