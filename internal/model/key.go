package model

import (
	"errors"

	"e2e_pairing/internal/utils/memzero"
)

const (
	// SecretKeyLength is the length of every symmetric key and of the raw
	// X25519 private key.
	SecretKeyLength = 32

	// AgreementPublicKeyLength is the length of a raw X25519 public key.
	AgreementPublicKeyLength = 32
)

var ErrInvalidKeyLength = errors.New("invalid key length")

type (
	// SecretKey is a handle to 32 bytes of key material. Copies of the
	// handle, including the ones returned by Copy, share one buffer:
	// erasing any of them erases all of them.
	SecretKey struct {
		b *[SecretKeyLength]byte
	}

	AgreementPublicKey [AgreementPublicKeyLength]byte

	// KeyPair is an ephemeral X25519 key pair. The private half never leaves
	// the process and is erased with Erase.
	KeyPair struct {
		Public  AgreementPublicKey
		Private SecretKey
	}
)

// NewSecretKey copies b into a fresh key buffer. The caller still owns b and
// should wipe it.
func NewSecretKey(b []byte) (SecretKey, error) {
	if len(b) != SecretKeyLength {
		return SecretKey{}, ErrInvalidKeyLength
	}
	var buf [SecretKeyLength]byte
	copy(buf[:], b)
	return SecretKey{b: &buf}, nil
}

// Bytes returns a slice aliasing the key buffer. It is nil for the zero
// SecretKey.
func (k SecretKey) Bytes() []byte {
	if k.b == nil {
		return nil
	}
	return k.b[:]
}

// Copy returns a handle sharing storage with k.
func (k SecretKey) Copy() SecretKey { return SecretKey{b: k.b} }

func (k SecretKey) Valid() bool { return k.b != nil }

// Erase zeroes the key buffer for every handle sharing it.
func (k SecretKey) Erase() {
	if k.b != nil {
		memzero.Zero(k.b[:])
	}
}

// IsErased reports whether the buffer is absent or all zeroes.
func (k SecretKey) IsErased() bool {
	return k.b == nil || memzero.IsZero(k.b[:])
}

func (k SecretKey) Equal(o SecretKey) bool {
	if k.b == nil || o.b == nil {
		return k.b == o.b
	}
	return *k.b == *o.b
}

func (p AgreementPublicKey) Slice() []byte { return p[:] }

// ParseAgreementPublicKey validates the length of a raw public key.
func ParseAgreementPublicKey(b []byte) (AgreementPublicKey, error) {
	var pub AgreementPublicKey
	if len(b) != AgreementPublicKeyLength {
		return pub, ErrInvalidKeyLength
	}
	copy(pub[:], b)
	return pub, nil
}

func (kp *KeyPair) Erase() {
	if kp == nil {
		return
	}
	kp.Private.Erase()
}
