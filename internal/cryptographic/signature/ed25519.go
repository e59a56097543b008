package signature

import (
	"crypto/ed25519"
	"encoding/binary"
	"io"
)

// IdentityKey is a long-term Ed25519 signing key. Managing it is the
// caller's business; the handshake only borrows it to sign a nonce.
type IdentityKey struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

func NewEd25519Keypair(r io.Reader) (*IdentityKey, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &IdentityKey{Public: pub, Private: priv}, nil
}

// ED25519Sign signs label || msg, each prefixed with its 32-bit length.
func ED25519Sign(privKey ed25519.PrivateKey, label string, message []byte) []byte {
	return ed25519.Sign(privKey, labelled(label, message))
}

func ED25519Verify(pubKey ed25519.PublicKey, label string, message, sig []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubKey, labelled(label, message), sig)
}

func labelled(label string, message []byte) []byte {
	buf := make([]byte, 0, 8+len(label)+len(message))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(label)))
	buf = append(buf, label...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(message)))
	return append(buf, message...)
}
