package checkpoint

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/zakops/gatekeep"
)

// encryptedMagic prefixes every encrypted payload so plaintext written
// before encryption was enabled can still be read back.
var encryptedMagic = []byte("ENC1")

// nonceSize is the AES-GCM nonce length in bytes.
const nonceSize = 12

// keySize is the required AES-256 key length in bytes.
const keySize = 32

// Codec encrypts and decrypts checkpoint payloads with AES-256-GCM.
//
// Wire format: "ENC1" || 12-byte nonce || ciphertext+tag.
//
// Three operating modes:
//   - key configured: payloads are encrypted on Encode, decrypted on
//     Decode, plaintext (no magic) passed through on Decode for data
//     written before the key existed.
//   - no key, not production: pass-through both ways.
//   - no key, production: every Encode and Decode fails immediately
//     with ErrEncryptionKeyMissing. Plaintext is never persisted.
type Codec struct {
	aead       cipher.AEAD
	production bool
}

// NewCodec builds a Codec from a base64-encoded 32-byte key.
// An empty key is allowed outside production mode and yields a
// pass-through codec.
func NewCodec(base64Key string, production bool) (*Codec, error) {
	c := &Codec{production: production}
	if base64Key == "" {
		return c, nil
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatekeep.ErrEncryptionKeyInvalid, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d",
			gatekeep.ErrEncryptionKeyInvalid, keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatekeep.ErrEncryptionKeyInvalid, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gatekeep/checkpoint: init gcm: %w", err)
	}
	c.aead = aead
	return c, nil
}

// GenerateKey returns a fresh random base64-encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("gatekeep/checkpoint: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Enabled reports whether payloads will actually be encrypted.
func (c *Codec) Enabled() bool { return c.aead != nil }

// Encode encrypts plaintext for storage. In production mode without a
// key it fails closed.
func (c *Codec) Encode(plaintext []byte) ([]byte, error) {
	if c.aead == nil {
		if c.production {
			return nil, gatekeep.ErrEncryptionKeyMissing
		}
		return plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("gatekeep/checkpoint: generate nonce: %w", err)
	}

	out := make([]byte, 0, len(encryptedMagic)+nonceSize+len(plaintext)+c.aead.Overhead())
	out = append(out, encryptedMagic...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decode decrypts a stored payload. Payloads without the magic prefix
// are returned unchanged (written before encryption was enabled). In
// production mode without a key it fails closed.
func (c *Codec) Decode(stored []byte) ([]byte, error) {
	if c.aead == nil {
		if c.production {
			return nil, gatekeep.ErrEncryptionKeyMissing
		}
		return stored, nil
	}

	if !bytes.HasPrefix(stored, encryptedMagic) {
		return stored, nil
	}

	body := stored[len(encryptedMagic):]
	if len(body) < nonceSize {
		return nil, fmt.Errorf("gatekeep/checkpoint: truncated payload")
	}
	nonce, ciphertext := body[:nonceSize], body[nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("gatekeep/checkpoint: decrypt: %w", err)
	}
	return plaintext, nil
}

// IsEncrypted reports whether stored data carries the encryption magic.
func (c *Codec) IsEncrypted(stored []byte) bool {
	return bytes.HasPrefix(stored, encryptedMagic)
}
