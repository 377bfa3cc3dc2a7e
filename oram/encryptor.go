package oram

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Encryptor seals and opens whole buckets.
// The bucket index is bound as associated data so a sealed bucket cannot be
// replayed at another position; every Seal must use fresh randomness.
type Encryptor interface {
	// Seal encrypts the plaintext bucket stored at index.
	Seal(index uint64, plaintext []byte) ([]byte, error)

	// Open decrypts the ciphertext read from index.
	Open(index uint64, ciphertext []byte) ([]byte, error)

	// Overhead is the ciphertext length minus the plaintext length.
	Overhead() int
}

// NoOpEncryptor stores buckets in the clear. The backend then sees node
// contents, so it only suits tests and trusted storage.
type NoOpEncryptor struct{}

func (NoOpEncryptor) Seal(_ uint64, plaintext []byte) ([]byte, error) {
	return bytes.Clone(plaintext), nil
}

func (NoOpEncryptor) Open(_ uint64, ciphertext []byte) ([]byte, error) {
	return bytes.Clone(ciphertext), nil
}

func (NoOpEncryptor) Overhead() int { return 0 }

// AESGCMEncryptor seals buckets with AES-256-GCM. Output is
// nonce || ciphertext || tag.
type AESGCMEncryptor struct {
	aead cipher.AEAD
}

const (
	aesKeySize   = 32
	aesNonceSize = 12
)

// NewAESGCMEncryptor returns an encryptor under a 32-byte key.
func NewAESGCMEncryptor(key []byte) (*AESGCMEncryptor, error) {
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("%w: AES-256 key is %d bytes, want %d", ErrInvalidConfig, len(key), aesKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, aesNonceSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESGCMEncryptor{aead: aead}, nil
}

// NewRandomAESGCMEncryptor creates an encryptor under a fresh random key.
func NewRandomAESGCMEncryptor() (*AESGCMEncryptor, error) {
	key := make([]byte, aesKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewAESGCMEncryptor(key)
}

// Seal draws a fresh nonce per call.
func (e *AESGCMEncryptor) Seal(index uint64, plaintext []byte) ([]byte, error) {
	out := make([]byte, aesNonceSize, e.Overhead()+len(plaintext))
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", ErrEncryptionFailed, err)
	}
	return e.aead.Seal(out, out, plaintext, makeAAD(index)), nil
}

// Open fails with ErrDecryptionFailed on truncated or tampered input and on
// a bucket moved from another index.
func (e *AESGCMEncryptor) Open(index uint64, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < e.Overhead() {
		return nil, ErrDecryptionFailed
	}
	nonce, sealed := ciphertext[:aesNonceSize], ciphertext[aesNonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, makeAAD(index))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Overhead is the nonce plus the GCM tag.
func (e *AESGCMEncryptor) Overhead() int {
	return aesNonceSize + e.aead.Overhead()
}

// makeAAD binds the bucket index.
func makeAAD(index uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, index)
}
