package store

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"clinsync/internal/common"
)

// Cipher seals and opens record payloads at rest. The nonce is stored in
// its own column next to the ciphertext.
type Cipher interface {
	Seal(plaintext []byte) (ciphertext, nonce []byte, err error)
	Open(ciphertext, nonce []byte) ([]byte, error)
}

// AESCipher is an AES-256-GCM Cipher with a fresh 12-byte nonce per seal.
type AESCipher struct {
	aead cipher.AEAD
}

// NewAESCipher returns a Cipher for the given key (16, 24 or 32 bytes).
func NewAESCipher(key []byte) (*AESCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid payload key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESCipher{aead: aead}, nil
}

func (c *AESCipher) Seal(plaintext []byte) ([]byte, []byte, error) {
	nonce := common.GenerateRandByteArray(c.aead.NonceSize())
	return c.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (c *AESCipher) Open(ciphertext, nonce []byte) ([]byte, error) {
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.ErrDecryptionFailed
	}
	return plaintext, nil
}
