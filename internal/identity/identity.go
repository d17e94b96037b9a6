// Package identity manages the per-session keypair and display name.
// The identity is created once, persisted encrypted at rest, and never
// regenerated while the file exists.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

type Identity struct {
	PublicKey   string `json:"public_key"`
	SecretKey   string `json:"-"`
	DisplayName string `json:"display_name"`
}

type Store struct {
	dir        string
	passphrase string
	log        *zap.Logger
}

func NewStore(dir, passphrase string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, passphrase: passphrase, log: log}
}

const identityFile = "identity.enc.json"

// Ensure loads the stored identity, or generates and persists a fresh
// one if none exists. A persistence failure is logged and the in-memory
// identity is still returned; it stays valid for the session.
func (s *Store) Ensure() (*Identity, error) {
	id, err := s.load()
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}

	id = &Identity{
		SecretKey:   nostr.GeneratePrivateKey(),
		DisplayName: RandomDisplayName(),
	}
	id.PublicKey, err = nostr.GetPublicKey(id.SecretKey)
	if err != nil {
		return nil, err
	}
	if err := s.save(id); err != nil {
		s.log.Warn("identity not persisted, continuing in memory", zap.Error(err))
	}
	return id, nil
}

type encryptedFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	MemoryKiB  uint32 `json:"memory_kib"`
	Iterations uint32 `json:"iterations"`
	Parallel   uint8  `json:"parallel"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type plainFile struct {
	SecretKey   string `json:"secret_key"`
	DisplayName string `json:"display_name"`
}

func (s *Store) save(id *Identity) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	payload, _ := json.Marshal(plainFile{SecretKey: id.SecretKey, DisplayName: id.DisplayName})
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	iter := uint32(2)
	mem := uint32(64 * 1024)
	par := uint8(1)
	aead, err := newAEAD(argon2.IDKey([]byte(s.passphrase), salt, iter, mem, par, 32))
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ct := aead.Seal(nil, nonce, payload, nil)
	f := encryptedFile{
		Version:    1,
		KDF:        "argon2id",
		Salt:       base64.RawStdEncoding.EncodeToString(salt),
		MemoryKiB:  mem,
		Iterations: iter,
		Parallel:   par,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ct),
	}
	b, _ := json.MarshalIndent(f, "", "  ")
	return os.WriteFile(filepath.Join(s.dir, identityFile), b, 0o600)
}

func (s *Store) load() (*Identity, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, identityFile))
	if err != nil {
		return nil, err
	}
	var f encryptedFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	salt, err := base64.RawStdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.RawStdEncoding.DecodeString(f.Nonce)
	if err != nil {
		return nil, err
	}
	ct, err := base64.RawStdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(argon2.IDKey([]byte(s.passphrase), salt, f.Iterations, f.MemoryKiB, f.Parallel, 32))
	if err != nil {
		return nil, err
	}
	plainRaw, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errors.New("invalid identity passphrase")
	}
	var plain plainFile
	if err := json.Unmarshal(plainRaw, &plain); err != nil {
		return nil, err
	}
	pk, err := nostr.GetPublicKey(plain.SecretKey)
	if err != nil {
		return nil, err
	}
	return &Identity{PublicKey: pk, SecretKey: plain.SecretKey, DisplayName: plain.DisplayName}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
