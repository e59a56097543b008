// Package pairing is the entry point for pairing two devices: show a payload,
// learn the peer's, race a connection and run the handshake over it.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"e2e_pairing/internal/cryptographic"
	"e2e_pairing/internal/cryptographic/signature"
	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/bqp"
	"e2e_pairing/internal/service/connector"
	"e2e_pairing/internal/utils/log"
)

var (
	// ErrNoConnection means no transport connected before the timeout. Start
	// again with a fresh payload.
	ErrNoConnection = errors.New("no connection to peer")
	ErrNotStarted   = errors.New("pairing not started")
	ErrBusy         = errors.New("pairing already in progress")
	ErrOwnPayload   = errors.New("remote payload has our commitment")
	ErrNoPayload    = errors.New("remote payload required")
)

type (
	Config struct {
		Crypto    *cryptographic.Component
		Connector *connector.Connector
		Identity  *signature.IdentityKey
		Callbacks bqp.Callbacks
		// Timeout bounds the race and the handshake together.
		Timeout time.Duration
	}

	// Task owns one pairing attempt at a time. The ephemeral key pair behind
	// the shown payload is used for exactly one PairWith.
	Task struct {
		cfg Config

		mu      sync.Mutex
		keyPair *model.KeyPair
		payload *model.Payload
		busy    bool
	}
)

func NewTask(cfg Config) (*Task, error) {
	switch {
	case cfg.Crypto == nil:
		return nil, errors.New("pairing: crypto component required")
	case cfg.Connector == nil:
		return nil, errors.New("pairing: connector required")
	case cfg.Identity == nil:
		return nil, errors.New("pairing: identity key required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = bqp.ConnectionTimeout
	}
	return &Task{cfg: cfg}, nil
}

// StartPairing starts listening on every transport and returns the payload to
// show out of band. Calling it again while listening returns the same payload.
func (t *Task) StartPairing(ctx context.Context) (*model.Payload, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	descriptors, err := t.cfg.Connector.Listen(ctx)
	if err != nil {
		return nil, err
	}
	if t.payload != nil {
		return t.payload, nil
	}

	kp, err := t.cfg.Crypto.GenerateAgreementKeyPair()
	if err != nil {
		t.cfg.Connector.StopListening()
		return nil, err
	}
	t.keyPair = kp
	t.payload = &model.Payload{
		Commitment:  bqp.DeriveKeyCommitment(t.cfg.Crypto, kp.Public),
		Descriptors: descriptors,
	}
	log.Info("pairing started", zap.Int("transports", len(descriptors)))
	return t.payload, nil
}

// PairWith races a connection to the peer behind remote and runs the
// handshake. ErrNoConnection is returned when nothing connects in time. The
// shown payload is spent either way.
func (t *Task) PairWith(ctx context.Context, remote *model.Payload) (*model.KeyAgreementResult, error) {
	if remote == nil {
		return nil, ErrNoPayload
	}
	t.mu.Lock()
	if t.busy {
		t.mu.Unlock()
		return nil, ErrBusy
	}
	if t.payload == nil {
		t.mu.Unlock()
		return nil, ErrNotStarted
	}
	ours, kp := t.payload, t.keyPair
	t.busy = true
	t.mu.Unlock()

	defer func() {
		kp.Erase()
		t.mu.Lock()
		if t.keyPair == kp {
			t.keyPair, t.payload = nil, nil
		}
		t.busy = false
		t.mu.Unlock()
	}()

	if remote.Commitment == ours.Commitment {
		return nil, ErrOwnPayload
	}
	alice := bqp.IsAlice(ours.Commitment, remote.Commitment)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	conn, err := t.cfg.Connector.Connect(ctx, remote, alice)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if conn == nil {
		return nil, ErrNoConnection
	}

	p, err := bqp.NewProtocol(bqp.Config{
		Crypto:       t.cfg.Crypto,
		Callbacks:    t.cfg.Callbacks,
		Connection:   conn,
		OurPayload:   ours,
		TheirPayload: remote,
		OurKeyPair:   kp,
		Identity:     t.cfg.Identity,
		Alice:        alice,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	out, err := p.Perform(ctx)
	if err != nil {
		conn.Close()
		log.Info("handshake failed", zap.Bool("alice", alice), zap.Error(err))
		return nil, err
	}
	return &model.KeyAgreementResult{
		MasterKey:    out.MasterKey,
		Connection:   conn,
		TransportID:  conn.TransportID,
		Alice:        alice,
		PeerIdentity: out.PeerIdentity,
		OurCode:      out.OurCode,
		TheirCode:    out.TheirCode,
	}, nil
}

// StopListening closes every listener and discards the shown payload. It is
// safe to call at any time.
func (t *Task) StopListening() {
	t.cfg.Connector.StopListening()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.busy && t.keyPair != nil {
		t.keyPair.Erase()
		t.keyPair, t.payload = nil, nil
	}
}
