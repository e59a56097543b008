package lan

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e2e_pairing/internal/model"
)

func TestListenAndDial(t *testing.T) {
	tr := NewTransport("127.0.0.1:0")
	ctx := context.Background()

	l, err := tr.Listen(ctx)
	require.NoError(t, err)
	defer l.Close()

	d := l.Descriptor()
	assert.Equal(t, ID, d.TransportID)
	assert.Equal(t, "127.0.0.1", d.Properties[PropAddress])

	accepted := make(chan io.ReadWriteCloser, 1)
	go func() {
		c, err := l.Accept(ctx)
		assert.NoError(t, err)
		accepted <- c
	}()

	out, err := tr.Dial(ctx, d)
	require.NoError(t, err)
	defer out.Close()
	in := <-accepted
	require.NotNil(t, in)
	defer in.Close()

	_, err = out.Write([]byte("hi"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(in, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
}

func TestAcceptHonoursContext(t *testing.T) {
	l, err := NewTransport("127.0.0.1:0").Listen(context.Background())
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the listener is still usable afterwards
	go func() {
		c, err := NewTransport("").Dial(context.Background(), l.Descriptor())
		if err == nil {
			c.Close()
		}
	}()
	c, err := l.Accept(context.Background())
	require.NoError(t, err)
	c.Close()
}

func TestCloseUnblocksAccept(t *testing.T) {
	l, err := NewTransport("127.0.0.1:0").Listen(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())
	assert.Error(t, <-done)
	assert.NoError(t, l.Close())
}

func TestParseDescriptor(t *testing.T) {
	ok := model.TransportDescriptor{TransportID: ID, Properties: map[string]string{PropAddress: "10.0.0.2", PropPort: "4000"}}
	addr, err := ParseDescriptor(ok)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:4000", addr)

	bad := []model.TransportDescriptor{
		{TransportID: "ws", Properties: ok.Properties},
		{TransportID: ID, Properties: map[string]string{PropAddress: "nope", PropPort: "4000"}},
		{TransportID: ID, Properties: map[string]string{PropAddress: "10.0.0.2", PropPort: "0"}},
		{TransportID: ID, Properties: map[string]string{PropAddress: "10.0.0.2", PropPort: "70000"}},
		{TransportID: ID},
	}
	for _, d := range bad {
		_, err := ParseDescriptor(d)
		assert.ErrorIs(t, err, ErrBadDescriptor)
	}
}
