package bqp

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/binary"

	"e2e_pairing/internal/cryptographic"
	"e2e_pairing/internal/model"
)

// ConfirmLength is the CONFIRM body: mac || identity public key || signature.
const (
	confirmMacLength = 32
	ConfirmLength    = confirmMacLength + ed25519.PublicKeySize + ed25519.SignatureSize
)

// IsAlice decides roles from the two commitments: the lower one is alice.
// Both sides compute the same answer from the same pair in either order.
func IsAlice(ours, theirs [CommitLength]byte) bool {
	return compareCommitments(ours, theirs) < 0
}

func compareCommitments(a, b [CommitLength]byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// DeriveKeyCommitment is the value put in the payload for an ephemeral key.
func DeriveKeyCommitment(c *cryptographic.Component, pub model.AgreementPublicKey) [CommitLength]byte {
	var commit [CommitLength]byte
	h := c.Hash(CommitLabel, pub.Slice())
	copy(commit[:], h)
	return commit
}

func commitmentMatches(c *cryptographic.Component, pub model.AgreementPublicKey, commit [CommitLength]byte) bool {
	expected := DeriveKeyCommitment(c, pub)
	return subtle.ConstantTimeCompare(expected[:], commit[:]) == 1
}

// DeriveMasterSecret runs ECDH and derives the master key. The public keys
// are hashed in role order, so a side that got its role wrong derives a
// different key.
func DeriveMasterSecret(c *cryptographic.Component, theirPub model.AgreementPublicKey,
	ours *model.KeyPair, alice bool) (model.SecretKey, error) {
	alicePub, bobPub := rolePubs(ours.Public, theirPub, alice)
	shared, err := c.DeriveSharedSecret(SharedSecretLabel, theirPub, ours,
		[]byte{ProtocolVersion}, alicePub[:], bobPub[:])
	if err != nil {
		return model.SecretKey{}, err
	}
	defer shared.Erase()
	return c.DeriveKey(MasterKeyLabel, shared), nil
}

// DeriveConfirmationRecord binds both payloads, both public keys and the
// sender's identity key to the master key.
func DeriveConfirmationRecord(c *cryptographic.Component, master model.SecretKey,
	alicePayload, bobPayload []byte, alicePub, bobPub model.AgreementPublicKey,
	identity ed25519.PublicKey, forAlice bool) []byte {
	k := c.DeriveKey(ConfirmationKeyLabel, master)
	defer k.Erase()
	return c.Mac(ConfirmationMacLabel, k, alicePayload, bobPayload,
		alicePub[:], bobPub[:], identity, []byte{roleByte(forAlice)})
}

// DeriveConfirmationCode returns a six-digit code users can compare aloud.
func DeriveConfirmationCode(c *cryptographic.Component, master model.SecretKey, forAlice bool) uint32 {
	mac := c.Mac(ConfirmationCodeLabel, master, []byte{roleByte(forAlice)})
	return binary.BigEndian.Uint32(mac[:4]) % ConfirmationCodeModulus
}

// DeriveSignatureNonce returns the value each side signs with its identity key.
func DeriveSignatureNonce(c *cryptographic.Component, master model.SecretKey, forAlice bool) []byte {
	label := BobNonceLabel
	if forAlice {
		label = AliceNonceLabel
	}
	return c.Mac(label, master)
}

func rolePubs(ours, theirs model.AgreementPublicKey, alice bool) (model.AgreementPublicKey, model.AgreementPublicKey) {
	if alice {
		return ours, theirs
	}
	return theirs, ours
}

func roleByte(alice bool) byte {
	if alice {
		return 1
	}
	return 0
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
