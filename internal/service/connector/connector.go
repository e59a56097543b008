// Package connector races every transport both peers share until one of them
// yields a raw connection for the handshake.
package connector

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/utils/log"
)

const (
	DefaultTimeout = 60 * time.Second

	minDialBackoff = 250 * time.Millisecond
	maxDialBackoff = 2 * time.Second
)

var ErrNoTransports = errors.New("no transport could listen")

type (
	// Listener accepts incoming pairing connections on one transport.
	// Accept must return once ctx is done or the listener is closed.
	// Close must be safe to call more than once.
	Listener interface {
		Descriptor() model.TransportDescriptor
		Accept(ctx context.Context) (io.ReadWriteCloser, error)
		Close() error
	}

	// Transport is one way of reaching a peer: LAN, WebSocket, Bluetooth.
	Transport interface {
		ID() model.TransportID
		Listen(ctx context.Context) (Listener, error)
		Dial(ctx context.Context, d model.TransportDescriptor) (io.ReadWriteCloser, error)
	}

	Connector struct {
		transports []Transport
		timeout    time.Duration

		// OnListening is called with the local descriptors every time Listen
		// succeeds, including repeated calls.
		OnListening func([]model.TransportDescriptor)

		mu        sync.Mutex
		listeners []Listener
	}
)

func NewConnector(timeout time.Duration, transports ...Transport) *Connector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Connector{
		transports: transports,
		timeout:    timeout,
	}
}

// Listen starts one listener per transport unless they are already running,
// and returns their descriptors. A transport that fails to listen is skipped.
func (c *Connector) Listen(ctx context.Context) ([]model.TransportDescriptor, error) {
	c.mu.Lock()
	if len(c.listeners) == 0 {
		for _, t := range c.transports {
			l, err := t.Listen(ctx)
			if err != nil {
				log.Warn("transport cannot listen", zap.String("transport", string(t.ID())), zap.Error(err))
				continue
			}
			c.listeners = append(c.listeners, l)
		}
	}
	descriptors := make([]model.TransportDescriptor, 0, len(c.listeners))
	for _, l := range c.listeners {
		descriptors = append(descriptors, l.Descriptor())
	}
	c.mu.Unlock()

	if len(descriptors) == 0 {
		return nil, ErrNoTransports
	}
	if c.OnListening != nil {
		c.OnListening(descriptors)
	}
	return descriptors, nil
}

// StopListening closes every listener, unblocking any pending accept.
func (c *Connector) StopListening() {
	c.mu.Lock()
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	for _, l := range listeners {
		if err := l.Close(); err != nil {
			log.Debug("close listener", zap.String("transport", string(l.Descriptor().TransportID)), zap.Error(err))
		}
	}
}

// Connect races for a connection to the peer described by remote. Roles
// are already fixed by the commitments: alice dials every descriptor she
// shares with the peer, bob accepts on his listeners, so both ends settle on
// the same connection. Every attempt that loses is cancelled and closed, as
// are the listeners. Connect returns nil, nil if nothing connects before the
// timeout.
func (c *Connector) Connect(ctx context.Context, remote *model.Payload, alice bool) (*model.KeyAgreementConnection, error) {
	if _, err := c.Listen(ctx); err != nil {
		return nil, err
	}
	defer c.StopListening()

	ctx, cancelTimeout := context.WithTimeout(ctx, c.timeout)
	defer cancelTimeout()
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	attempts := c.attempts(remote, alice)
	if len(attempts) == 0 {
		log.Info("no shared transport to race")
		return nil, nil
	}

	results := make(chan *model.KeyAgreementConnection, len(attempts))
	var g errgroup.Group
	for _, attempt := range attempts {
		attempt := attempt
		g.Go(func() error {
			if conn := attempt(raceCtx); conn != nil {
				results <- conn
			}
			return nil
		})
	}

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	var winner *model.KeyAgreementConnection
	select {
	case winner = <-results:
	case <-raceCtx.Done():
	case <-finished:
		// every attempt gave up, for example after StopListening
		select {
		case winner = <-results:
		default:
		}
	}
	cancel()
	<-finished
	close(results)
	for loser := range results {
		_ = loser.Close()
	}

	if winner != nil {
		log.Info("connection race won", zap.String("transport", string(winner.TransportID)), zap.Bool("alice", alice))
		return winner, nil
	}
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	log.Info("no connection before timeout", zap.Duration("timeout", c.timeout))
	return nil, nil
}

type attempt func(ctx context.Context) *model.KeyAgreementConnection

func (c *Connector) attempts(remote *model.Payload, alice bool) []attempt {
	var out []attempt
	if !alice {
		c.mu.Lock()
		for _, l := range c.listeners {
			out = append(out, acceptOnce(l))
		}
		c.mu.Unlock()
		return out
	}
	for _, t := range c.transports {
		if d, ok := remote.Descriptor(t.ID()); ok {
			out = append(out, dialUntilDone(t, d))
		}
	}
	return out
}

func acceptOnce(l Listener) attempt {
	return func(ctx context.Context) *model.KeyAgreementConnection {
		id := l.Descriptor().TransportID
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug("accept failed", zap.String("transport", string(id)), zap.Error(err))
			}
			return nil
		}
		log.Debug("incoming pairing connection", zap.String("transport", string(id)))
		return &model.KeyAgreementConnection{Conn: conn, TransportID: id}
	}
}

// dialUntilDone keeps dialing d with growing pauses, since the peer may
// not be listening yet.
func dialUntilDone(t Transport, d model.TransportDescriptor) attempt {
	return func(ctx context.Context) *model.KeyAgreementConnection {
		backoff := minDialBackoff
		for {
			conn, err := t.Dial(ctx, d)
			if err == nil {
				if ctx.Err() != nil {
					_ = conn.Close()
					return nil
				}
				log.Debug("outgoing pairing connection", zap.String("transport", string(t.ID())))
				return &model.KeyAgreementConnection{Conn: conn, TransportID: t.ID()}
			}
			log.Debug("dial failed", zap.String("transport", string(t.ID())), zap.Error(err))

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			backoff = min(backoff*2, maxDialBackoff)
		}
	}
}
