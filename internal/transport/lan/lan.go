// Package lan is a pairing transport over TCP on the local network.
//
// The listener binds an ephemeral port and advertises the address and port
// in its descriptor. Nothing on the wire identifies the connection as a
// pairing attempt; the handshake authenticates it.
package lan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/service/connector"
	"e2e_pairing/internal/utils/log"
)

const (
	ID model.TransportID = "lan"

	PropAddress = "address"
	PropPort    = "port"
)

var ErrBadDescriptor = errors.New("lan: bad descriptor")

var _ connector.Transport = (*Transport)(nil)

type (
	Transport struct {
		bindAddr string
		dialer   net.Dialer
	}

	listener struct {
		ln   *net.TCPListener
		desc model.TransportDescriptor
	}
)

// NewTransport listens on bindAddr, for example "0.0.0.0:0". An unspecified
// host is advertised as the first non-loopback IPv4 address of this machine.
func NewTransport(bindAddr string) *Transport {
	if bindAddr == "" {
		bindAddr = "0.0.0.0:0"
	}
	return &Transport{
		bindAddr: bindAddr,
		dialer:   net.Dialer{Timeout: 10 * time.Second},
	}
}

func (t *Transport) ID() model.TransportID { return ID }

func (t *Transport) Listen(ctx context.Context) (connector.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("lan listen %s: %w", t.bindAddr, err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	host := addr.IP
	if host.IsUnspecified() {
		host = localIPv4()
	}
	log.Debug("lan listening", zap.String("addr", addr.String()))
	return &listener{
		ln: ln.(*net.TCPListener),
		desc: model.TransportDescriptor{
			TransportID: ID,
			Properties: map[string]string{
				PropAddress: host.String(),
				PropPort:    strconv.Itoa(addr.Port),
			},
		},
	}, nil
}

func (t *Transport) Dial(ctx context.Context, d model.TransportDescriptor) (io.ReadWriteCloser, error) {
	addr, err := ParseDescriptor(d)
	if err != nil {
		return nil, err
	}
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ParseDescriptor returns the host:port a LAN descriptor points at.
func ParseDescriptor(d model.TransportDescriptor) (string, error) {
	if d.TransportID != ID {
		return "", fmt.Errorf("%w: transport %q", ErrBadDescriptor, d.TransportID)
	}
	ip := net.ParseIP(d.Properties[PropAddress])
	if ip == nil {
		return "", fmt.Errorf("%w: address %q", ErrBadDescriptor, d.Properties[PropAddress])
	}
	port, err := strconv.Atoi(d.Properties[PropPort])
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: port %q", ErrBadDescriptor, d.Properties[PropPort])
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
}

func (l *listener) Descriptor() model.TransportDescriptor { return l.desc }

func (l *listener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	_ = l.ln.SetDeadline(time.Time{})
	// wake Accept when ctx ends without closing the listener
	stop := context.AfterFunc(ctx, func() { _ = l.ln.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (l *listener) Close() error {
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func localIPv4() net.IP {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && !n.IP.IsLoopback() && n.IP.To4() != nil {
				return n.IP
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}
