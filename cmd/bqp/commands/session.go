package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/bqp"
	"e2e_pairing/internal/protocol/payload"
	"e2e_pairing/internal/protocol/transportkeys"
	"e2e_pairing/internal/service/connector"
	"e2e_pairing/internal/service/pairing"
	"e2e_pairing/internal/transport/lan"
	"e2e_pairing/internal/transport/ws"
)

// session wires one pairing task to the configured transports.
type session struct {
	task       *pairing.Task
	transports []model.TransportID
}

func newSession(callbacks bqp.Callbacks) (*session, error) {
	var (
		transports []connector.Transport
		ids        []model.TransportID
	)
	for _, name := range cfg.Transports {
		switch model.TransportID(name) {
		case lan.ID:
			transports = append(transports, lan.NewTransport(cfg.LanListenAddr))
		case ws.ID:
			transports = append(transports, ws.NewTransport(cfg.WSListenAddr, cfg.WSAdvertiseHost))
		default:
			return nil, fmt.Errorf("unknown transport %q", name)
		}
		ids = append(ids, model.TransportID(name))
	}

	identity, err := crypto.GenerateIdentityKey()
	if err != nil {
		return nil, err
	}
	task, err := pairing.NewTask(pairing.Config{
		Crypto:    crypto,
		Connector: connector.NewConnector(cfg.PairingTimeoutDuration(), transports...),
		Identity:  identity,
		Callbacks: callbacks,
		Timeout:   cfg.PairingTimeoutDuration(),
	})
	if err != nil {
		return nil, err
	}
	return &session{task: task, transports: ids}, nil
}

// start begins listening and returns our payload in its text form.
func (s *session) start(ctx context.Context) (string, error) {
	p, err := s.task.StartPairing(ctx)
	if err != nil {
		return "", err
	}
	b, err := payload.Encode(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// pair connects to the peer behind text, runs the handshake and installs
// the resulting transport keys for contact.
func (s *session) pair(ctx context.Context, text string, contact model.ContactID) (*model.KeyAgreementResult, error) {
	remote, err := decodePayload(text)
	if err != nil {
		return nil, err
	}
	res, err := s.task.PairWith(ctx, remote)
	if err != nil {
		return nil, describe(err)
	}
	res.Connection.Close()

	period := transportkeys.PeriodAt(time.Now(), cfg.RotationPeriodDuration())
	if err := pairing.InstallKeys(ctx, crypto, store, contact, res, period, s.transports); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *session) stop() { s.task.StopListening() }

func decodePayload(text string) (*model.Payload, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("payload is not valid base64: %w", err)
	}
	p, err := payload.Parse(b)
	if err != nil {
		return nil, describe(err)
	}
	return p, nil
}

// describe turns pairing failures into something a user can act on.
func describe(err error) error {
	var uv *payload.UnsupportedVersionError
	if errors.As(err, &uv) {
		if uv.TooOld {
			return fmt.Errorf("%w: ask your contact to update their app", err)
		}
		return fmt.Errorf("%w: update this app to pair with your contact", err)
	}
	if errors.Is(err, pairing.ErrNoConnection) {
		return fmt.Errorf("%w: make sure both devices share a network and try again", err)
	}
	if abort, ok := bqp.AsAbort(err); ok {
		switch {
		case abort.Kind == bqp.RemoteAbort:
			return fmt.Errorf("%w: your contact cancelled pairing", err)
		case abort.Reason == bqp.ReasonBadCommitment || abort.Reason == bqp.ReasonBadConfirmation:
			return fmt.Errorf("%w: the codes did not match, make sure you scanned your contact's code and try again", err)
		default:
			return fmt.Errorf("%w: scan fresh codes on both devices and try again", err)
		}
	}
	return err
}

func formatCode(code uint32) string { return fmt.Sprintf("%06d", code) }
