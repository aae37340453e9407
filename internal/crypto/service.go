// Package crypto provides the authenticated encryption layer for mirrored
// content. Files are encrypted with AES-256-GCM under a key derived from a
// user-supplied password via scrypt, so content stored on any cloud provider
// is opaque to the provider and tamper-evident on the way back. Derived keys
// are cached per key ID for the life of the process and are never persisted
// in plaintext.
//
// The on-wire blob layout produced by EncryptFile is bit-exact and must never
// change, because previously uploaded data depends on it:
//
//	bytes[0:16]  = IV
//	bytes[16:32] = GCM authentication tag
//	bytes[32:]   = ciphertext
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/mirrorvault/mirrorvault/internal/domain"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// SaltSize is the scrypt salt length in bytes.
	SaltSize = 32
	// IVSize is the GCM nonce length in bytes. 16 rather than the GCM default
	// of 12 because the stored-blob wire format reserves 16 bytes for the IV.
	IVSize = 16
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// scrypt cost parameters. N=16384 is the default interactive cost of the
	// original runtime's scrypt; changing it invalidates every cached key.
	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// EncryptedData is the in-memory result of one encrypt call. IV is freshly
// random on every call, never reused with the same key, even for identical
// plaintext.
type EncryptedData struct {
	IV      []byte
	Content []byte
	Tag     []byte
}

// encryptionKey is a cached derived key. Never logged, never persisted.
type encryptionKey struct {
	key  []byte
	salt []byte
}

// Service derives, caches, and rotates encryption keys and performs the
// AEAD encrypt/decrypt passes. Safe for concurrent use: the key cache is
// guarded by a mutex and key derivation is serialized per key ID, while the
// cipher pass itself runs unlocked.
type Service struct {
	mu   sync.Mutex
	keys map[string]*encryptionKey
	// derive serializes scrypt runs per key ID so concurrent callers for the
	// same ID do not stampede the memory-hard KDF. Distinct IDs derive
	// concurrently.
	derive map[string]*sync.Mutex
}

// NewService creates an encryption service with an empty key cache.
func NewService() *Service {
	return &Service{
		keys:   make(map[string]*encryptionKey),
		derive: make(map[string]*sync.Mutex),
	}
}

// deriveLock returns the per-key-ID derivation mutex, creating it on first use.
func (s *Service) deriveLock(keyID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.derive[keyID]
	if !ok {
		l = &sync.Mutex{}
		s.derive[keyID] = l
	}
	return l
}

// resolveKey returns the AES key for (password, keyID). The salt is taken
// from the cache when the key ID is known, so the same password always
// resolves to the same key; a different password resolves to a different key
// and decryption fails on the authentication tag. First use of a key ID
// creates a cache entry with a fresh random salt.
//
// forDecrypt callers require an existing cache entry: without the original
// salt a freshly derived key could never match, so a missing entry is a key
// lookup failure rather than an occasion to mint a new salt.
func (s *Service) resolveKey(password, keyID string, forDecrypt bool) ([]byte, error) {
	lock := s.deriveLock(keyID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cached, ok := s.keys[keyID]
	s.mu.Unlock()

	if !ok {
		if forDecrypt {
			return nil, fmt.Errorf("unknown key id %q: %w", keyID, domain.ErrDecryption)
		}
		salt := make([]byte, SaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		key, err := deriveKey(password, salt)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.keys[keyID] = &encryptionKey{key: key, salt: salt}
		s.mu.Unlock()
		return key, nil
	}

	// Known key ID: re-derive from the supplied password and the cached salt.
	// Matches the cached key iff the password is right; a wrong password
	// yields a wrong key and the GCM tag check reports the failure uniformly.
	return deriveKey(password, cached.salt)
}

// deriveKey runs scrypt. CPU/memory intensive; callers hold the per-key
// derivation lock, never the cache mutex.
func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Encrypt encrypts data under the key for keyID, generating a fresh 16-byte
// IV. An empty keyID uses the process-local ephemeral key slot.
func (s *Service) Encrypt(data []byte, password, keyID string) (*EncryptedData, error) {
	key, err := s.resolveKey(password, keyID, false)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, data, nil)
	// Seal appends the tag to the ciphertext; split them for the wire format.
	n := len(sealed) - TagSize
	return &EncryptedData{
		IV:      iv,
		Content: sealed[:n],
		Tag:     sealed[n:],
	}, nil
}

// Decrypt reverses Encrypt. Every failure mode (wrong password, corrupted
// ciphertext or tag, malformed IV, unknown key ID) surfaces the same
// domain.ErrDecryption so the error does not reveal which it was. No partial
// plaintext is ever returned.
func (s *Service) Decrypt(enc *EncryptedData, password, keyID string) ([]byte, error) {
	if len(enc.IV) != IVSize {
		return nil, fmt.Errorf("iv length %d: %w", len(enc.IV), domain.ErrDecryption)
	}
	if len(enc.Tag) != TagSize {
		return nil, fmt.Errorf("tag length %d: %w", len(enc.Tag), domain.ErrDecryption)
	}

	key, err := s.resolveKey(password, keyID, true)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(enc.Content)+TagSize)
	sealed = append(sealed, enc.Content...)
	sealed = append(sealed, enc.Tag...)

	plaintext, err := aead.Open(nil, enc.IV, sealed, nil)
	if err != nil {
		return nil, domain.ErrDecryption
	}
	return plaintext, nil
}

// RotateKey replaces the cached key for keyID with one derived from
// newPassword and a fresh salt. The old password must verify against the
// cached key first.
//
// Rotation does NOT re-encrypt previously stored ciphertexts; they remain
// readable only by a service still holding (or able to re-derive) the old
// key. Callers that need old data under the new key must decrypt and
// re-encrypt explicitly.
func (s *Service) RotateKey(oldPassword, newPassword, keyID string) error {
	lock := s.deriveLock(keyID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cached, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("key id %q: %w", keyID, domain.ErrNotFound)
	}

	candidate, err := deriveKey(oldPassword, cached.salt)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(candidate, cached.key) != 1 {
		return fmt.Errorf("old password rejected: %w", domain.ErrDecryption)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := deriveKey(newPassword, salt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.keys[keyID] = &encryptionKey{key: key, salt: salt}
	s.mu.Unlock()
	return nil
}

// ValidateKey reports whether password matches the cached key for keyID.
// Returns false, not an error, for an unknown key ID or a mismatch. The
// comparison is constant time.
func (s *Service) ValidateKey(password, keyID string) bool {
	lock := s.deriveLock(keyID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cached, ok := s.keys[keyID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	candidate, err := deriveKey(password, cached.salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(candidate, cached.key) == 1
}

// EncryptFile encrypts data and serializes the result into the stored-blob
// wire format IV(16) ‖ Tag(16) ‖ Ciphertext.
func (s *Service) EncryptFile(data []byte, password, keyID string) ([]byte, error) {
	enc, err := s.Encrypt(data, password, keyID)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, IVSize+TagSize+len(enc.Content))
	blob = append(blob, enc.IV...)
	blob = append(blob, enc.Tag...)
	blob = append(blob, enc.Content...)
	return blob, nil
}

// DecryptFile parses the stored-blob wire format and decrypts it.
func (s *Service) DecryptFile(blob []byte, password, keyID string) ([]byte, error) {
	if len(blob) < IVSize+TagSize {
		return nil, fmt.Errorf("blob too short (%d bytes): %w", len(blob), domain.ErrDecryption)
	}

	enc := &EncryptedData{
		IV:      blob[:IVSize],
		Tag:     blob[IVSize : IVSize+TagSize],
		Content: blob[IVSize+TagSize:],
	}
	return s.Decrypt(enc, password, keyID)
}

// newAEAD builds an AES-256-GCM cipher with the 16-byte nonce size the wire
// format requires.
func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
