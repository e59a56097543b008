package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeyBytes   = chacha20poly1305.KeySize
	NonceBytes = chacha20poly1305.NonceSizeX

	// ChaCha20 keystream block
	blockBytes = 64
)

var (
	ErrNotInitialised = errors.New("cipher not initialised")
	ErrAuthentication = errors.New("message authentication failed")
)

// Cipher is an authenticated cipher used for frames and sealed storage.
// Init must be called before Process; each Init binds one key and IV.
type Cipher interface {
	Init(encrypt bool, key, iv []byte) error
	// Process encrypts and appends the MAC, or checks the MAC and decrypts.
	Process(in []byte) ([]byte, error)
	MacBytes() int
	BlockBytes() int
}

// XChaCha20Poly1305 implements Cipher with a 24-byte IV.
type XChaCha20Poly1305 struct {
	aead    cipher.AEAD
	iv      []byte
	encrypt bool
}

func NewXChaCha20Poly1305() *XChaCha20Poly1305 { return &XChaCha20Poly1305{} }

func (c *XChaCha20Poly1305) Init(encrypt bool, key, iv []byte) error {
	if len(iv) != NonceBytes {
		return fmt.Errorf("iv must be %d bytes, got %d", NonceBytes, len(iv))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}
	c.aead = aead
	c.iv = append(c.iv[:0], iv...)
	c.encrypt = encrypt
	return nil
}

func (c *XChaCha20Poly1305) Process(in []byte) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrNotInitialised
	}
	if c.encrypt {
		return c.aead.Seal(nil, c.iv, in, nil), nil
	}
	if len(in) < c.MacBytes() {
		return nil, ErrAuthentication
	}
	plain, err := c.aead.Open(nil, c.iv, in, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}

func (c *XChaCha20Poly1305) MacBytes() int { return chacha20poly1305.Overhead }

func (c *XChaCha20Poly1305) BlockBytes() int { return blockBytes }

// Seal encrypts plaintext under key with a random IV and returns
// iv || ciphertext || mac.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func Open(key, sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305.NewX: %w", err)
	}
	ns := aead.NonceSize()
	if len(sealed) < ns+aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plain, err := aead.Open(nil, sealed[:ns], sealed[ns:], aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}
