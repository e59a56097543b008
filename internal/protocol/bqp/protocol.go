package bqp

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"e2e_pairing/internal/cryptographic"
	"e2e_pairing/internal/cryptographic/signature"
	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/payload"
	"e2e_pairing/internal/utils/log"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingKey
	StateKeySent
	StateKeyReceived
	StateAwaitingConfirm
	StateConfirmed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingKey:
		return "awaiting-key"
	case StateKeySent:
		return "key-sent"
	case StateKeyReceived:
		return "key-received"
	case StateAwaitingConfirm:
		return "awaiting-confirm"
	case StateConfirmed:
		return "confirmed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type (
	// Callbacks report progress to the UI. Either may be nil.
	Callbacks struct {
		// ConnectionWaiting fires when alice has sent her key and waits for bob.
		ConnectionWaiting func()
		// InitialRecordReceived fires once the peer's KEY record arrives.
		InitialRecordReceived func()
	}

	Config struct {
		Crypto       *cryptographic.Component
		Callbacks    Callbacks
		Connection   *model.KeyAgreementConnection
		OurPayload   *model.Payload
		TheirPayload *model.Payload
		// OurKeyPair is the ephemeral pair committed to in OurPayload. Perform
		// erases its private half before returning.
		OurKeyPair *model.KeyPair
		Identity   *signature.IdentityKey
		Alice      bool
	}

	Protocol struct {
		cfg       Config
		transport *Transport
		state     State
		// master is held from derivation until Perform returns; it is erased
		// unless the handshake is confirmed.
		master model.SecretKey
	}

	// Outcome is what a confirmed handshake hands back.
	Outcome struct {
		MasterKey    model.SecretKey
		PeerIdentity ed25519.PublicKey
		// Codes are the six-digit confirmation codes for display.
		OurCode, TheirCode uint32
	}
)

func NewProtocol(cfg Config) (*Protocol, error) {
	switch {
	case cfg.Crypto == nil:
		return nil, errors.New("bqp: crypto component required")
	case cfg.Connection == nil || cfg.Connection.Conn == nil:
		return nil, errors.New("bqp: connection required")
	case cfg.OurPayload == nil || cfg.TheirPayload == nil:
		return nil, errors.New("bqp: both payloads required")
	case cfg.OurKeyPair == nil:
		return nil, errors.New("bqp: ephemeral key pair required")
	case cfg.Identity == nil:
		return nil, errors.New("bqp: identity key required")
	}
	return &Protocol{
		cfg:       cfg,
		transport: NewTransport(cfg.Connection.Conn),
		state:     StateIdle,
	}, nil
}

func (p *Protocol) State() State { return p.state }

// Perform runs the handshake to completion. Cancelling ctx closes the
// connection, which unblocks any pending read or write. On any error the
// master key and the ephemeral private key are erased before returning.
func (p *Protocol) Perform(ctx context.Context) (*Outcome, error) {
	defer p.cfg.OurKeyPair.Erase()

	stop := context.AfterFunc(ctx, func() { _ = p.cfg.Connection.Close() })
	defer stop()

	out, err := p.perform()
	if err != nil {
		p.state = StateAborted
		if ctx.Err() != nil {
			return nil, fmt.Errorf("handshake cancelled: %w", ctx.Err())
		}
		return nil, err
	}
	p.state = StateConfirmed
	return out, nil
}

func (p *Protocol) perform() (*Outcome, error) {
	c := p.cfg.Crypto
	alice := p.cfg.Alice

	ourPayload, err := payload.Encode(p.cfg.OurPayload)
	if err != nil {
		return nil, err
	}
	theirPayload, err := payload.Encode(p.cfg.TheirPayload)
	if err != nil {
		return nil, err
	}

	var theirPub model.AgreementPublicKey
	if alice {
		if err := p.sendKey(); err != nil {
			return nil, err
		}
		if f := p.cfg.Callbacks.ConnectionWaiting; f != nil {
			f()
		}
		if theirPub, err = p.receiveKey(); err != nil {
			return nil, err
		}
	} else {
		if theirPub, err = p.receiveKey(); err != nil {
			return nil, err
		}
		if err := p.sendKey(); err != nil {
			return nil, err
		}
	}

	master, err := DeriveMasterSecret(c, theirPub, p.cfg.OurKeyPair, alice)
	if err != nil {
		p.transport.SendAbort()
		return nil, localAbort(ReasonBadKey, err)
	}
	p.master = master
	confirmed := false
	defer func() {
		if !confirmed {
			master.Erase()
		}
	}()
	p.state = StateAwaitingConfirm

	alicePub, bobPub := rolePubs(p.cfg.OurKeyPair.Public, theirPub, alice)
	alicePayload, bobPayload := ourPayload, theirPayload
	if !alice {
		alicePayload, bobPayload = theirPayload, ourPayload
	}

	ours := p.buildConfirm(master, alicePayload, bobPayload, alicePub, bobPub)
	var peer ed25519.PublicKey
	if alice {
		if err := p.transport.SendConfirm(ours); err != nil {
			return nil, err
		}
		if peer, err = p.receiveConfirm(master, alicePayload, bobPayload, alicePub, bobPub); err != nil {
			return nil, err
		}
	} else {
		if peer, err = p.receiveConfirm(master, alicePayload, bobPayload, alicePub, bobPub); err != nil {
			return nil, err
		}
		if err := p.transport.SendConfirm(ours); err != nil {
			return nil, err
		}
	}

	confirmed = true
	log.Debug("handshake confirmed", zap.Bool("alice", alice),
		zap.String("transport", string(p.cfg.Connection.TransportID)))
	return &Outcome{
		MasterKey:    master,
		PeerIdentity: peer,
		OurCode:      DeriveConfirmationCode(c, master, alice),
		TheirCode:    DeriveConfirmationCode(c, master, !alice),
	}, nil
}

func (p *Protocol) sendKey() error {
	if err := p.transport.SendKey(p.cfg.OurKeyPair.Public.Slice()); err != nil {
		return err
	}
	if p.state == StateKeyReceived {
		return nil
	}
	p.state = StateKeySent
	return nil
}

// receiveKey reads the peer's KEY and checks it against the commitment seen
// out of band. Bob aborts here without ever sending his own key.
func (p *Protocol) receiveKey() (model.AgreementPublicKey, error) {
	if p.state == StateIdle {
		p.state = StateAwaitingKey
	}
	raw, err := p.transport.ReceiveKey()
	if err != nil {
		return model.AgreementPublicKey{}, err
	}
	if f := p.cfg.Callbacks.InitialRecordReceived; f != nil {
		f()
	}
	p.state = StateKeyReceived
	pub, err := model.ParseAgreementPublicKey(raw)
	if err != nil {
		p.transport.SendAbort()
		return pub, localAbort(ReasonBadKey, err)
	}
	if !commitmentMatches(p.cfg.Crypto, pub, p.cfg.TheirPayload.Commitment) {
		p.transport.SendAbort()
		return pub, localAbort(ReasonBadCommitment, nil)
	}
	return pub, nil
}

func (p *Protocol) buildConfirm(master model.SecretKey, alicePayload, bobPayload []byte,
	alicePub, bobPub model.AgreementPublicKey) []byte {
	c := p.cfg.Crypto
	alice := p.cfg.Alice
	id := p.cfg.Identity

	mac := DeriveConfirmationRecord(c, master, alicePayload, bobPayload, alicePub, bobPub, id.Public, alice)
	sig := c.Sign(SignatureLabel, DeriveSignatureNonce(c, master, alice), id)

	body := make([]byte, 0, ConfirmLength)
	body = append(body, mac...)
	body = append(body, id.Public...)
	return append(body, sig...)
}

// receiveConfirm checks the peer's confirmation mac and its signature over
// the nonce we expect for the peer's role.
func (p *Protocol) receiveConfirm(master model.SecretKey, alicePayload, bobPayload []byte,
	alicePub, bobPub model.AgreementPublicKey) (ed25519.PublicKey, error) {
	c := p.cfg.Crypto
	peerIsAlice := !p.cfg.Alice

	body, err := p.transport.ReceiveConfirm()
	if err != nil {
		return nil, err
	}
	if len(body) != ConfirmLength {
		p.transport.SendAbort()
		return nil, localAbort(ReasonBadConfirmation, fmt.Errorf("confirm record length %d", len(body)))
	}
	mac := body[:confirmMacLength]
	identity := ed25519.PublicKey(append([]byte(nil), body[confirmMacLength:confirmMacLength+ed25519.PublicKeySize]...))
	sig := body[confirmMacLength+ed25519.PublicKeySize:]

	expected := DeriveConfirmationRecord(c, master, alicePayload, bobPayload, alicePub, bobPub, identity, peerIsAlice)
	if !constantTimeEqual(mac, expected) {
		p.transport.SendAbort()
		return nil, localAbort(ReasonBadConfirmation, errors.New("confirmation mac mismatch"))
	}
	nonce := DeriveSignatureNonce(c, master, peerIsAlice)
	if !c.VerifySignature(sig, SignatureLabel, nonce, identity) {
		p.transport.SendAbort()
		return nil, localAbort(ReasonBadConfirmation, errors.New("bad signature"))
	}
	return identity, nil
}
