package model

import (
	"crypto/ed25519"
	"io"
)

type (
	// KeyAgreementConnection is an unauthenticated byte stream produced by a
	// transport. Whoever holds it owns it and must close it.
	KeyAgreementConnection struct {
		Conn        io.ReadWriteCloser
		TransportID TransportID
	}

	// KeyAgreementResult is the outcome of a confirmed handshake.
	KeyAgreementResult struct {
		MasterKey    SecretKey
		Connection   *KeyAgreementConnection
		TransportID  TransportID
		Alice        bool
		PeerIdentity ed25519.PublicKey
		// Six-digit codes the users may compare aloud.
		OurCode, TheirCode uint32
	}
)

func (c *KeyAgreementConnection) Close() error {
	if c == nil || c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
