// Package cryptographic bundles the primitives under it into a Component that
// is passed explicitly to everything deriving or using key material. There is
// no package-level crypto state: tests build a Component over a deterministic
// reader and production code over crypto/rand.
package cryptographic

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"e2e_pairing/internal/cryptographic/dh"
	"e2e_pairing/internal/cryptographic/encryption"
	"e2e_pairing/internal/cryptographic/kdf"
	"e2e_pairing/internal/cryptographic/signature"
	"e2e_pairing/internal/model"
	"e2e_pairing/internal/utils/memzero"
)

type Component struct {
	rand io.Reader
}

// NewComponent returns a Component reading randomness from r, or from
// crypto/rand when r is nil.
func NewComponent(r io.Reader) *Component {
	if r == nil {
		r = rand.Reader
	}
	return &Component{rand: r}
}

func (c *Component) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.rand, b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

func (c *Component) GenerateAgreementKeyPair() (*model.KeyPair, error) {
	priv, pub, err := dh.NewX25519KeyPair(c.rand)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(priv[:])
	sk, err := model.NewSecretKey(priv[:])
	if err != nil {
		return nil, err
	}
	return &model.KeyPair{Public: pub, Private: sk}, nil
}

func (c *Component) GenerateIdentityKey() (*signature.IdentityKey, error) {
	return signature.NewEd25519Keypair(c.rand)
}

// DeriveSharedSecret hashes the raw X25519 output together with label and
// inputs. An invalid peer key fails instead of producing a weak secret.
func (c *Component) DeriveSharedSecret(label string, theirPub model.AgreementPublicKey,
	ours *model.KeyPair, inputs ...[]byte) (model.SecretKey, error) {
	if ours == nil || ours.Private.IsErased() {
		return model.SecretKey{}, fmt.Errorf("derive shared secret: private key unavailable")
	}
	raw, err := dh.X25519SharedSecret(ours.Private.Bytes(), theirPub.Slice())
	if err != nil {
		return model.SecretKey{}, err
	}
	defer memzero.Zero(raw)

	hashInputs := make([][]byte, 0, len(inputs)+1)
	hashInputs = append(hashInputs, raw)
	hashInputs = append(hashInputs, inputs...)
	out := kdf.Hash(label, hashInputs...)
	defer memzero.Zero(out)
	return model.NewSecretKey(out)
}

// DeriveKey derives a new key from k, label and inputs.
func (c *Component) DeriveKey(label string, k model.SecretKey, inputs ...[]byte) model.SecretKey {
	out := kdf.Mac(label, k.Bytes(), inputs...)
	defer memzero.Zero(out)
	sk, err := model.NewSecretKey(out)
	if err != nil {
		panic(err) // kdf.Size == SecretKeyLength
	}
	return sk
}

func (c *Component) Mac(label string, k model.SecretKey, inputs ...[]byte) []byte {
	return kdf.Mac(label, k.Bytes(), inputs...)
}

// VerifyMac compares in constant time.
func (c *Component) VerifyMac(mac []byte, label string, k model.SecretKey, inputs ...[]byte) bool {
	expected := kdf.Mac(label, k.Bytes(), inputs...)
	return subtle.ConstantTimeCompare(mac, expected) == 1
}

func (c *Component) Hash(label string, inputs ...[]byte) []byte {
	return kdf.Hash(label, inputs...)
}

func (c *Component) Sign(label string, msg []byte, key *signature.IdentityKey) []byte {
	return signature.ED25519Sign(key.Private, label, msg)
}

func (c *Component) VerifySignature(sig []byte, label string, msg []byte, pub ed25519.PublicKey) bool {
	return signature.ED25519Verify(pub, label, msg, sig)
}

func (c *Component) NewCipher() encryption.Cipher {
	return encryption.NewXChaCha20Poly1305()
}
