// Package ws is a pairing transport over WebSocket, for peers that can only
// reach each other through HTTP.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/service/connector"
	"e2e_pairing/internal/utils/log"
)

const (
	ID model.TransportID = "ws"

	PropURL = "url"

	pairPath = "/pair"
)

var (
	ErrBadDescriptor = errors.New("ws: bad descriptor")
	ErrClosed        = errors.New("ws: listener closed")
)

type (
	Transport struct {
		bindAddr      string
		advertiseHost string
		dialer        *websocket.Dialer
	}

	listener struct {
		srv   *http.Server
		desc  model.TransportDescriptor
		conns chan *Conn

		once   sync.Once
		closed chan struct{}
	}
)

var _ connector.Transport = (*Transport)(nil)

// NewTransport serves pairing WebSockets on bindAddr. advertiseHost is the
// host put in the descriptor; when empty the bound host is used.
func NewTransport(bindAddr, advertiseHost string) *Transport {
	if bindAddr == "" {
		bindAddr = "127.0.0.1:0"
	}
	return &Transport{
		bindAddr:      bindAddr,
		advertiseHost: advertiseHost,
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (t *Transport) ID() model.TransportID { return ID }

func (t *Transport) Listen(ctx context.Context) (connector.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("ws listen %s: %w", t.bindAddr, err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	host := t.advertiseHost
	if host == "" {
		host = addr.IP.String()
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(addr.Port)), Path: pairPath}

	l := &listener{
		desc: model.TransportDescriptor{
			TransportID: ID,
			Properties:  map[string]string{PropURL: u.String()},
		},
		conns:  make(chan *Conn),
		closed: make(chan struct{}),
	}
	r := mux.NewRouter()
	r.HandleFunc(pairPath, l.handlePair()).Methods(http.MethodGet)
	l.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ws server stopped", zap.Error(err))
		}
	}()
	log.Debug("ws listening", zap.String("url", u.String()))
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, d model.TransportDescriptor) (io.ReadWriteCloser, error) {
	if d.TransportID != ID {
		return nil, fmt.Errorf("%w: transport %q", ErrBadDescriptor, d.TransportID)
	}
	u, err := url.Parse(d.Properties[PropURL])
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("%w: url %q", ErrBadDescriptor, d.Properties[PropURL])
	}
	ws, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}

func (l *listener) handlePair() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // peers are not browsers
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-l.closed:
			http.Error(w, "not listening", http.StatusServiceUnavailable)
			return
		default:
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("ws upgrade failed", zap.Error(err))
			return
		}
		c := NewConn(ws)
		select {
		case l.conns <- c:
		case <-l.closed:
			c.Close()
		case <-r.Context().Done():
			c.Close()
		}
	}
}

func (l *listener) Descriptor() model.TransportDescriptor { return l.desc }

func (l *listener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err = l.srv.Shutdown(ctx); errors.Is(err, context.DeadlineExceeded) {
			err = l.srv.Close()
		}
	})
	return err
}
