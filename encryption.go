package shelf

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// EncryptedArchive wraps an Archive and encrypts every backup with
// AES-256-GCM before it leaves the process. Names are stored in the clear.
type EncryptedArchive struct {
	Archive
	key []byte
}

// NewEncryptedArchive wraps archive with a 32-byte key.
func NewEncryptedArchive(archive Archive, key []byte) (*EncryptedArchive, error) {
	if len(key) != 32 {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"expected_key_length": 32,
			"actual_key_length":   len(key),
			"reason":              "AES-256 requires exactly 32 bytes",
		})
	}
	return &EncryptedArchive{
		Archive: archive,
		key:     append([]byte(nil), key...),
	}, nil
}

func (e *EncryptedArchive) Put(ctx context.Context, name string, data []byte) error {
	encrypted, err := e.encrypt(data)
	if err != nil {
		return err
	}
	return e.Archive.Put(ctx, name, encrypted)
}

func (e *EncryptedArchive) Get(ctx context.Context, name string) ([]byte, error) {
	encrypted, err := e.Archive.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.decrypt(encrypted)
}

func (e *EncryptedArchive) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// encrypt prepends a random nonce to the sealed plaintext.
func (e *EncryptedArchive) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *EncryptedArchive) decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, WithContext(ErrInvalidBackup, map[string]interface{}{
			"reason":     "ciphertext too short",
			"min_length": nonceSize,
			"actual":     len(ciphertext),
		})
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, WithContext(fmt.Errorf("%w: %w", ErrInvalidBackup, err), map[string]interface{}{
			"reason": "decryption failed",
		})
	}
	return plaintext, nil
}
