package crypto

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorvault/mirrorvault/internal/domain"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	s := NewService()
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	enc, err := s.Encrypt(plaintext, "correct horse battery staple", "k1")
	require.NoError(t, err)

	require.Len(t, enc.IV, IVSize)
	require.Len(t, enc.Tag, TagSize)
	require.Len(t, enc.Content, len(plaintext))

	got, err := s.Decrypt(enc, "correct horse battery staple", "k1")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	s := NewService()
	plaintext := []byte("identical content")

	first, err := s.Encrypt(plaintext, "pw", "k1")
	require.NoError(t, err)
	second, err := s.Encrypt(plaintext, "pw", "k1")
	require.NoError(t, err)

	assert.False(t, bytes.Equal(first.IV, second.IV), "IV must be freshly random per encrypt call")
	assert.False(t, bytes.Equal(first.Content, second.Content), "same plaintext must not produce same ciphertext")
}

func TestDecrypt_WrongPassword(t *testing.T) {
	s := NewService()
	enc, err := s.Encrypt([]byte("secret"), "right", "k1")
	require.NoError(t, err)

	got, err := s.Decrypt(enc, "wrong", "k1")
	require.ErrorIs(t, err, domain.ErrDecryption)
	assert.Nil(t, got, "no partial plaintext on failure")
}

func TestDecrypt_CorruptedCiphertextAndTag(t *testing.T) {
	s := NewService()
	enc, err := s.Encrypt([]byte("secret content"), "pw", "k1")
	require.NoError(t, err)

	corruptContent := &EncryptedData{
		IV:      enc.IV,
		Content: append([]byte{enc.Content[0] ^ 0xff}, enc.Content[1:]...),
		Tag:     enc.Tag,
	}
	_, err = s.Decrypt(corruptContent, "pw", "k1")
	assert.ErrorIs(t, err, domain.ErrDecryption)

	corruptTag := &EncryptedData{
		IV:      enc.IV,
		Content: enc.Content,
		Tag:     append([]byte{enc.Tag[0] ^ 0xff}, enc.Tag[1:]...),
	}
	_, err = s.Decrypt(corruptTag, "pw", "k1")
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestDecrypt_BadIVLength(t *testing.T) {
	s := NewService()
	enc, err := s.Encrypt([]byte("secret"), "pw", "k1")
	require.NoError(t, err)

	enc.IV = enc.IV[:12]
	_, err = s.Decrypt(enc, "pw", "k1")
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestDecrypt_UnknownKeyID(t *testing.T) {
	s := NewService()
	enc := &EncryptedData{IV: make([]byte, IVSize), Content: []byte("x"), Tag: make([]byte, TagSize)}

	_, err := s.Decrypt(enc, "pw", "never-seen")
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestWireFormat_Layout(t *testing.T) {
	s := NewService()
	plaintext := []byte("wire format contract")

	blob, err := s.EncryptFile(plaintext, "pw", "k1")
	require.NoError(t, err)
	require.Len(t, blob, IVSize+TagSize+len(plaintext))

	// Reassemble by hand from the fixed offsets: bytes[0:16]=IV,
	// bytes[16:32]=Tag, bytes[32:]=Ciphertext.
	enc := &EncryptedData{
		IV:      blob[0:16],
		Tag:     blob[16:32],
		Content: blob[32:],
	}
	got, err := s.Decrypt(enc, "pw", "k1")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	got, err = s.DecryptFile(blob, "pw", "k1")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptFile_TruncatedBlob(t *testing.T) {
	s := NewService()

	_, err := s.DecryptFile(make([]byte, 20), "pw", "k1")
	assert.ErrorIs(t, err, domain.ErrDecryption)
}

func TestValidateKey(t *testing.T) {
	s := NewService()
	_, err := s.Encrypt([]byte("x"), "pw", "k1")
	require.NoError(t, err)

	assert.True(t, s.ValidateKey("pw", "k1"))
	assert.False(t, s.ValidateKey("other", "k1"))
	assert.False(t, s.ValidateKey("pw", "missing"), "unknown key id is false, not an error")
}

func TestRotateKey(t *testing.T) {
	s := NewService()
	enc, err := s.Encrypt([]byte("old data"), "old-pw", "k1")
	require.NoError(t, err)

	require.NoError(t, s.RotateKey("old-pw", "new-pw", "k1"))

	assert.True(t, s.ValidateKey("new-pw", "k1"))
	assert.False(t, s.ValidateKey("old-pw", "k1"))

	// Rotation does not re-encrypt: the pre-rotation ciphertext is no longer
	// readable through this key id.
	_, err = s.Decrypt(enc, "new-pw", "k1")
	assert.ErrorIs(t, err, domain.ErrDecryption)

	// New encryptions round-trip under the new password.
	enc2, err := s.Encrypt([]byte("new data"), "new-pw", "k1")
	require.NoError(t, err)
	got, err := s.Decrypt(enc2, "new-pw", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("new data"), got)
}

func TestRotateKey_Failures(t *testing.T) {
	s := NewService()
	_, err := s.Encrypt([]byte("x"), "pw", "k1")
	require.NoError(t, err)

	err = s.RotateKey("wrong", "new", "k1")
	assert.ErrorIs(t, err, domain.ErrDecryption)

	err = s.RotateKey("pw", "new", "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEncrypt_ConcurrentSameKeyID(t *testing.T) {
	s := NewService()
	plaintext := []byte("concurrent payload")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	blobs := make([][]byte, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			blobs[i], errs[i] = s.EncryptFile(plaintext, "pw", "shared")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		require.NoError(t, errs[i])
		got, err := s.DecryptFile(blobs[i], "pw", "shared")
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestErrorsAreUniform(t *testing.T) {
	// Wrong password and corruption must be indistinguishable through
	// errors.Is so callers cannot leak which one occurred.
	s := NewService()
	enc, err := s.Encrypt([]byte("data"), "pw", "k1")
	require.NoError(t, err)

	_, wrongPw := s.Decrypt(enc, "nope", "k1")
	enc.Tag[0] ^= 0xff
	_, corrupted := s.Decrypt(enc, "pw", "k1")

	assert.True(t, errors.Is(wrongPw, domain.ErrDecryption))
	assert.True(t, errors.Is(corrupted, domain.ErrDecryption))
}
