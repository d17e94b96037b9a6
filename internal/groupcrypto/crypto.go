// Package groupcrypto derives group secrets and ids and seals payloads
// with nip44 authenticated encryption. Group members share a 256-bit
// secret; the encryption key is the nip44 conversation key of the
// keypair deterministically derived from that secret, so every holder
// of the secret converges on the same key. Direct messages use the
// pairwise conversation key, which is symmetric in both directions.
package groupcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// ErrDecrypt is the sentinel for any decryption failure: wrong key,
// tampered or truncated ciphertext, malformed encoding. Callers drop
// the event, they never see partial plaintext.
var ErrDecrypt = errors.New("could not decrypt")

const (
	SecretLen  = 64 // hex chars, 256 bits
	GroupIDLen = 12 // hex chars
)

var hexSecretRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DeriveGroupSecret returns a new group secret. With a passphrase the
// secret is its SHA-256, so independent parties typing the same
// passphrase converge on the same group. Without one it is random.
func DeriveGroupSecret(passphrase string) (string, error) {
	if passphrase != "" {
		return hashHex(passphrase), nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// NormalizeSecret canonicalizes arbitrary input to a 64-hex-char
// secret. Valid secrets pass through; anything else (passphrases,
// legacy short secrets) is hashed.
func NormalizeSecret(input string) string {
	if hexSecretRe.MatchString(input) {
		return input
	}
	return hashHex(input)
}

// DeriveGroupID maps a secret to its public group id. One-way: the id
// routes events on relays without revealing key material.
func DeriveGroupID(secret string) string {
	return hashHex(secret)[:GroupIDLen]
}

// groupKey derives the deterministic keypair for a secret. A 32-byte
// hash is not always a valid secp256k1 scalar, so rehash until it is.
func groupKey(secret string) (sk, pk string, err error) {
	sk = secret
	for {
		pk, err = nostr.GetPublicKey(sk)
		if err == nil {
			return sk, pk, nil
		}
		sk = hashHex(sk)
	}
}

func groupConversationKey(secret string) ([32]byte, error) {
	sk, pk, err := groupKey(secret)
	if err != nil {
		return [32]byte{}, err
	}
	return nip44.GenerateConversationKey(pk, sk)
}

// EncryptGroup seals plaintext for every holder of secret.
func EncryptGroup(plaintext, secret string) (string, error) {
	key, err := groupConversationKey(secret)
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(plaintext, key)
}

// DecryptGroup opens a group ciphertext. Returns ErrDecrypt on any
// failure.
func DecryptGroup(ciphertext, secret string) (string, error) {
	key, err := groupConversationKey(secret)
	if err != nil {
		return "", ErrDecrypt
	}
	plain, err := nip44.Decrypt(ciphertext, key)
	if err != nil {
		return "", ErrDecrypt
	}
	return plain, nil
}

// EncryptDirect seals plaintext for one peer.
func EncryptDirect(plaintext, mySecretKey, theirPublicKey string) (string, error) {
	key, err := nip44.GenerateConversationKey(theirPublicKey, mySecretKey)
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(plaintext, key)
}

// DecryptDirect opens a pairwise ciphertext. The conversation key is
// the same whichever side derives it, so sender and recipient both
// decrypt. Returns ErrDecrypt on any failure.
func DecryptDirect(ciphertext, mySecretKey, theirPublicKey string) (string, error) {
	key, err := nip44.GenerateConversationKey(theirPublicKey, mySecretKey)
	if err != nil {
		return "", ErrDecrypt
	}
	plain, err := nip44.Decrypt(ciphertext, key)
	if err != nil {
		return "", ErrDecrypt
	}
	return plain, nil
}
