package groupcrypto

import (
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestDeriveGroupSecretDeterministicForPassphrase(t *testing.T) {
	t.Parallel()
	a, err := DeriveGroupSecret("rink2025")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := DeriveGroupSecret("rink2025")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if a != b {
		t.Fatalf("same passphrase produced different secrets: %s != %s", a, b)
	}
	if len(a) != SecretLen {
		t.Fatalf("secret length %d, want %d", len(a), SecretLen)
	}
	if DeriveGroupID(a) != DeriveGroupID(b) {
		t.Fatalf("group ids diverged")
	}
}

func TestDeriveGroupSecretRandomWithoutPassphrase(t *testing.T) {
	t.Parallel()
	a, err := DeriveGroupSecret("")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := DeriveGroupSecret("")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if a == b {
		t.Fatalf("random secrets collided")
	}
	if len(a) != SecretLen || len(b) != SecretLen {
		t.Fatalf("unexpected secret lengths %d/%d", len(a), len(b))
	}
}

func TestNormalizeSecret(t *testing.T) {
	t.Parallel()
	valid, _ := DeriveGroupSecret("rink2025")
	if NormalizeSecret(valid) != valid {
		t.Fatalf("valid secret should pass through")
	}
	// Legacy short secrets and passphrases hash to the canonical form.
	n := NormalizeSecret("abc123")
	if len(n) != SecretLen {
		t.Fatalf("normalized length %d", len(n))
	}
	if n == "abc123" {
		t.Fatalf("short input should not pass through")
	}
	if NormalizeSecret("abc123") != n {
		t.Fatalf("normalization not deterministic")
	}
}

func TestDeriveGroupIDShape(t *testing.T) {
	t.Parallel()
	secret, _ := DeriveGroupSecret("rink2025")
	id := DeriveGroupID(secret)
	if len(id) != GroupIDLen {
		t.Fatalf("group id length %d, want %d", len(id), GroupIDLen)
	}
	if id == secret[:GroupIDLen] {
		t.Fatalf("group id must not be a prefix of the secret")
	}
}

func TestGroupRoundTrip(t *testing.T) {
	t.Parallel()
	secret, _ := DeriveGroupSecret("rink2025")
	ct, err := EncryptGroup("public skate moved to 19:30", secret)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plain, err := DecryptGroup(ct, secret)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "public skate moved to 19:30" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestGroupWrongKeyFailsClosed(t *testing.T) {
	t.Parallel()
	secret, _ := DeriveGroupSecret("rink2025")
	other, _ := DeriveGroupSecret("rink2026")
	ct, err := EncryptGroup("members only", secret)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptGroup(ct, other); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("wrong key should return ErrDecrypt, got %v", err)
	}
}

func TestGroupTamperFailsClosed(t *testing.T) {
	t.Parallel()
	secret, _ := DeriveGroupSecret("rink2025")
	ct, err := EncryptGroup("members only", secret)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw := []byte(ct)
	raw[len(raw)/2] ^= 0x01
	if _, err := DecryptGroup(string(raw), secret); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("tampered ciphertext should return ErrDecrypt, got %v", err)
	}
	if _, err := DecryptGroup("not-a-ciphertext", secret); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("garbage ciphertext should return ErrDecrypt, got %v", err)
	}
}

func TestDirectAgreementSymmetry(t *testing.T) {
	t.Parallel()
	aliceSK := nostr.GeneratePrivateKey()
	alicePK, _ := nostr.GetPublicKey(aliceSK)
	bobSK := nostr.GeneratePrivateKey()
	bobPK, _ := nostr.GetPublicKey(bobSK)

	ct, err := EncryptDirect("see you at the rink", aliceSK, bobPK)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	// Recipient decrypts with their key and the sender's public key.
	plain, err := DecryptDirect(ct, bobSK, alicePK)
	if err != nil {
		t.Fatalf("decrypt as recipient: %v", err)
	}
	if plain != "see you at the rink" {
		t.Fatalf("mismatch: %q", plain)
	}
	// Sender can re-open their own outbound ciphertext.
	plain, err = DecryptDirect(ct, aliceSK, bobPK)
	if err != nil {
		t.Fatalf("decrypt as sender: %v", err)
	}
	if plain != "see you at the rink" {
		t.Fatalf("mismatch: %q", plain)
	}
}

func TestDirectWrongPeerFailsClosed(t *testing.T) {
	t.Parallel()
	aliceSK := nostr.GeneratePrivateKey()
	bobSK := nostr.GeneratePrivateKey()
	bobPK, _ := nostr.GetPublicKey(bobSK)
	eveSK := nostr.GeneratePrivateKey()
	evePK, _ := nostr.GetPublicKey(eveSK)

	ct, err := EncryptDirect("private", aliceSK, bobPK)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptDirect(ct, eveSK, evePK); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("third party should get ErrDecrypt, got %v", err)
	}
}
