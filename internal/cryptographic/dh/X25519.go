package dh

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"e2e_pairing/internal/utils/memzero"
)

// ErrInvalidPublicKey is returned when the peer's public key is a low-order
// point, which would make the shared secret all zeroes.
var ErrInvalidPublicKey = errors.New("invalid X25519 public key")

// Generate a new X25519 key pair from r
func NewX25519KeyPair(r io.Reader) (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(r, priv[:]); err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	clamp(&priv)
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		memzero.Zero(priv[:])
		return priv, pub, fmt.Errorf("failed to derive public key: %w", err)
	}
	copy(pub[:], out)
	return priv, pub, nil
}

// Perform X25519 scalar multiplication: priv * pub.
// The caller owns the returned secret and must wipe it.
func X25519SharedSecret(priv, pub []byte) ([]byte, error) {
	secret, err := curve25519.X25519(priv, pub)
	if err != nil {
		// x/crypto rejects the all-zero output of low-order points
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return secret, nil
}

func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
