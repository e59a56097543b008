package bqp

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e2e_pairing/internal/cryptographic"
	"e2e_pairing/internal/cryptographic/signature"
	"e2e_pairing/internal/model"
)

type peer struct {
	kp      *model.KeyPair
	id      *signature.IdentityKey
	payload *model.Payload
}

type result struct {
	out   *Outcome
	err   error
	state State
}

func newPeer(t *testing.T, c *cryptographic.Component) *peer {
	t.Helper()
	kp, err := c.GenerateAgreementKeyPair()
	require.NoError(t, err)
	id, err := c.GenerateIdentityKey()
	require.NoError(t, err)
	return &peer{
		kp: kp,
		id: id,
		payload: &model.Payload{
			Commitment: DeriveKeyCommitment(c, kp.Public),
			Descriptors: []model.TransportDescriptor{
				{TransportID: "lan", Properties: map[string]string{"port": "40123"}},
			},
		},
	}
}

func start(t *testing.T, ctx context.Context, c *cryptographic.Component, us, them *peer, conn io.ReadWriteCloser) <-chan result {
	t.Helper()
	p, err := NewProtocol(Config{
		Crypto:       c,
		Connection:   &model.KeyAgreementConnection{Conn: conn, TransportID: "lan"},
		OurPayload:   us.payload,
		TheirPayload: them.payload,
		OurKeyPair:   us.kp,
		Identity:     us.id,
		Alice:        IsAlice(us.payload.Commitment, them.payload.Commitment),
	})
	require.NoError(t, err)

	ch := make(chan result, 1)
	go func() {
		out, err := p.Perform(ctx)
		ch <- result{out: out, err: err, state: p.State()}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("handshake did not finish")
		return result{}
	}
}

// orderPeers returns the pair as (alice, bob).
func orderPeers(a, b *peer) (*peer, *peer) {
	if IsAlice(a.payload.Commitment, b.payload.Commitment) {
		return a, b
	}
	return b, a
}

// relay forwards records between two pipes, letting a test rewrite them.
func relay(t *testing.T, tamper func(fromAlice bool, r Record) Record) (aliceEnd, bobEnd net.Conn) {
	t.Helper()
	aliceEnd, aliceRelay := net.Pipe()
	bobRelay, bobEnd := net.Pipe()
	forward := func(src, dst net.Conn, fromAlice bool) {
		for {
			r, err := ReadRecord(src)
			if err != nil {
				dst.Close()
				return
			}
			if err := WriteRecord(dst, tamper(fromAlice, r)); err != nil {
				src.Close()
				return
			}
		}
	}
	go forward(aliceRelay, bobRelay, true)
	go forward(bobRelay, aliceRelay, false)
	t.Cleanup(func() {
		for _, c := range []net.Conn{aliceEnd, aliceRelay, bobRelay, bobEnd} {
			c.Close()
		}
	})
	return aliceEnd, bobEnd
}

func requireAbort(t *testing.T, err error, kind AbortKind, reason AbortReason) {
	t.Helper()
	ae, ok := AsAbort(err)
	require.True(t, ok, "expected abort, got %v", err)
	assert.Equal(t, kind, ae.Kind)
	assert.Equal(t, reason, ae.Reason)
}

func TestHandshakeAgreesOnMasterKey(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	var waiting, received int
	ctx := context.Background()
	pa, err := NewProtocol(Config{
		Crypto: c,
		Callbacks: Callbacks{
			ConnectionWaiting:     func() { waiting++ },
			InitialRecordReceived: func() { received++ },
		},
		Connection:   &model.KeyAgreementConnection{Conn: connA, TransportID: "lan"},
		OurPayload:   alice.payload,
		TheirPayload: bob.payload,
		OurKeyPair:   alice.kp,
		Identity:     alice.id,
		Alice:        true,
	})
	require.NoError(t, err)
	chA := make(chan result, 1)
	go func() {
		out, err := pa.Perform(ctx)
		chA <- result{out: out, err: err, state: pa.State()}
	}()
	chB := start(t, ctx, c, bob, alice, connB)

	ra, rb := wait(t, chA), wait(t, chB)
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Equal(t, StateConfirmed, ra.state)
	assert.Equal(t, StateConfirmed, rb.state)

	assert.True(t, ra.out.MasterKey.Equal(rb.out.MasterKey))
	assert.False(t, ra.out.MasterKey.IsErased())
	assert.Equal(t, bob.id.Public, ra.out.PeerIdentity)
	assert.Equal(t, alice.id.Public, rb.out.PeerIdentity)
	assert.Equal(t, ra.out.OurCode, rb.out.TheirCode)
	assert.Equal(t, ra.out.TheirCode, rb.out.OurCode)
	assert.Less(t, ra.out.OurCode, uint32(ConfirmationCodeModulus))
	assert.Equal(t, 1, waiting)
	assert.Equal(t, 1, received)

	// the ephemeral private keys are consumed
	assert.True(t, alice.kp.Private.IsErased())
	assert.True(t, bob.kp.Private.IsErased())
}

func TestIsAliceSymmetric(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	for i := 0; i < 100; i++ {
		var c1, c2 [CommitLength]byte
		b, err := c.RandomBytes(2 * CommitLength)
		require.NoError(t, err)
		copy(c1[:], b)
		copy(c2[:], b[CommitLength:])
		if c1 == c2 {
			continue
		}
		assert.NotEqual(t, IsAlice(c1, c2), IsAlice(c2, c1))
	}
	var same [CommitLength]byte
	assert.False(t, IsAlice(same, same))
}

func TestSwappedRolesDeriveDifferentSecret(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	a, err := c.GenerateAgreementKeyPair()
	require.NoError(t, err)
	b, err := c.GenerateAgreementKeyPair()
	require.NoError(t, err)

	ka, err := DeriveMasterSecret(c, b.Public, a, true)
	require.NoError(t, err)
	kb, err := DeriveMasterSecret(c, a.Public, b, false)
	require.NoError(t, err)
	assert.True(t, ka.Equal(kb))

	both, err := DeriveMasterSecret(c, a.Public, b, true)
	require.NoError(t, err)
	assert.False(t, ka.Equal(both))
}

func TestAliceAbortsOnBadCommitment(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
	// alice's copy of bob's payload commits to some other key
	other := newPeer(t, c)
	forged := *bob.payload
	forged.Commitment = other.payload.Commitment
	if !IsAlice(alice.payload.Commitment, forged.Commitment) {
		t.Skip("forged commitment flipped roles")
	}
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	ctx := context.Background()
	chA := start(t, ctx, c, alice, &peer{payload: &forged}, connA)
	chB := start(t, ctx, c, bob, alice, connB)

	ra, rb := wait(t, chA), wait(t, chB)
	requireAbort(t, ra.err, LocalAbort, ReasonBadCommitment)
	requireAbort(t, rb.err, RemoteAbort, ReasonPeerAborted)
	assert.Equal(t, StateAborted, ra.state)
	assert.True(t, alice.kp.Private.IsErased())
	assert.True(t, bob.kp.Private.IsErased())
}

func TestBobAbortsOnBadCommitmentWithoutSendingKey(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
	forged := *alice.payload
	forged.Commitment[CommitLength-1] ^= 1
	if IsAlice(bob.payload.Commitment, forged.Commitment) {
		t.Skip("forged commitment flipped roles")
	}

	var sentByBob []Record
	connA, connB := relay(t, func(fromAlice bool, r Record) Record {
		if !fromAlice {
			sentByBob = append(sentByBob, r)
		}
		return r
	})

	ctx := context.Background()
	chA := start(t, ctx, c, alice, bob, connA)
	chB := start(t, ctx, c, bob, &peer{payload: &forged}, connB)

	ra, rb := wait(t, chA), wait(t, chB)
	requireAbort(t, rb.err, LocalAbort, ReasonBadCommitment)
	requireAbort(t, ra.err, RemoteAbort, ReasonPeerAborted)
	for _, r := range sentByBob {
		assert.NotEqual(t, RecordKey, r.Type)
	}
}

func TestTamperedConfirmIsRejected(t *testing.T) {
	cases := []struct {
		name        string
		fromAlice   bool
		offset      int
		aliceResult func(t *testing.T, err error)
		bobResult   func(t *testing.T, err error)
	}{
		{
			name:      "alice mac",
			fromAlice: true,
			offset:    0,
			aliceResult: func(t *testing.T, err error) {
				requireAbort(t, err, RemoteAbort, ReasonPeerAborted)
			},
			bobResult: func(t *testing.T, err error) {
				requireAbort(t, err, LocalAbort, ReasonBadConfirmation)
			},
		},
		{
			name:      "alice signature",
			fromAlice: true,
			offset:    ConfirmLength - 1,
			aliceResult: func(t *testing.T, err error) {
				requireAbort(t, err, RemoteAbort, ReasonPeerAborted)
			},
			bobResult: func(t *testing.T, err error) {
				requireAbort(t, err, LocalAbort, ReasonBadConfirmation)
			},
		},
		{
			name:      "bob identity",
			fromAlice: false,
			offset:    confirmMacLength,
			aliceResult: func(t *testing.T, err error) {
				requireAbort(t, err, LocalAbort, ReasonBadConfirmation)
			},
			bobResult: func(t *testing.T, err error) {
				// bob has already sent his last record
				assert.NoError(t, err)
			},
		},
		{
			name:      "bob signature",
			fromAlice: false,
			offset:    ConfirmLength - 10,
			aliceResult: func(t *testing.T, err error) {
				requireAbort(t, err, LocalAbort, ReasonBadConfirmation)
			},
			bobResult: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := cryptographic.NewComponent(nil)
			alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
			connA, connB := relay(t, func(fromAlice bool, r Record) Record {
				if r.Type == RecordConfirm && fromAlice == tc.fromAlice {
					body := bytes.Clone(r.Body)
					body[tc.offset] ^= 0x80
					r.Body = body
				}
				return r
			})

			ctx := context.Background()
			chA := start(t, ctx, c, alice, bob, connA)
			chB := start(t, ctx, c, bob, alice, connB)
			ra, rb := wait(t, chA), wait(t, chB)
			tc.aliceResult(t, ra.err)
			tc.bobResult(t, rb.err)
			if ra.err != nil {
				assert.Nil(t, ra.out)
			}
		})
	}
}

func TestUnexpectedRecordAborts(t *testing.T) {
	for _, typ := range []byte{RecordConfirm, 7} {
		c := cryptographic.NewComponent(nil)
		alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
		connB, remote := net.Pipe()

		ch := start(t, context.Background(), c, bob, alice, connB)
		require.NoError(t, WriteRecord(remote, Record{Type: typ, Body: []byte{1, 2, 3}}))
		abort, err := ReadRecord(remote)
		require.NoError(t, err)
		assert.Equal(t, RecordAbort, abort.Type)

		r := wait(t, ch)
		requireAbort(t, r.err, LocalAbort, ReasonProtocolError)
		assert.True(t, bob.kp.Private.IsErased())
		remote.Close()
		connB.Close()
	}
}

func TestIOErrorIsNotAnAbort(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
	connB, remote := net.Pipe()
	defer connB.Close()

	ch := start(t, context.Background(), c, bob, alice, connB)
	remote.Close()

	r := wait(t, ch)
	require.Error(t, r.err)
	_, isAbort := AsAbort(r.err)
	assert.False(t, isAbort)
	assert.True(t, bob.kp.Private.IsErased())
}

func TestCancelClosesConnection(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
	connB, remote := net.Pipe()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := start(t, ctx, c, bob, alice, connB)
	cancel()

	r := wait(t, ch)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.True(t, bob.kp.Private.IsErased())
	_, err := remote.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestRecordFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, Record{Type: RecordKey, Body: []byte{9, 8, 7}}))
	assert.Equal(t, []byte{RecordKey, 0, 3, 9, 8, 7}, buf.Bytes())

	r, err := ReadRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, Record{Type: RecordKey, Body: []byte{9, 8, 7}}, r)

	assert.ErrorIs(t, WriteRecord(&buf, Record{Body: make([]byte, MaxRecordBodyLength+1)}), ErrRecordTooLong)
	_, err = ReadRecord(bytes.NewReader([]byte{RecordKey, 0xff, 0xff}))
	assert.ErrorIs(t, err, ErrRecordTooLong)
}

func newAliceProtocol(t *testing.T, c *cryptographic.Component, alice, bob *peer, conn io.ReadWriteCloser) *Protocol {
	t.Helper()
	p, err := NewProtocol(Config{
		Crypto:       c,
		Connection:   &model.KeyAgreementConnection{Conn: conn, TransportID: "lan"},
		OurPayload:   alice.payload,
		TheirPayload: bob.payload,
		OurKeyPair:   alice.kp,
		Identity:     alice.id,
		Alice:        true,
	})
	require.NoError(t, err)
	return p
}

func TestMasterKeyErasedOnBadConfirmation(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
	connA, connB := relay(t, func(fromAlice bool, r Record) Record {
		if r.Type == RecordConfirm && !fromAlice {
			body := bytes.Clone(r.Body)
			body[0] ^= 0x80
			r.Body = body
		}
		return r
	})

	ctx := context.Background()
	pa := newAliceProtocol(t, c, alice, bob, connA)
	errA := make(chan error, 1)
	go func() {
		_, err := pa.Perform(ctx)
		errA <- err
	}()
	wait(t, start(t, ctx, c, bob, alice, connB))

	select {
	case err := <-errA:
		requireAbort(t, err, LocalAbort, ReasonBadConfirmation)
	case <-time.After(10 * time.Second):
		t.Fatal("handshake did not finish")
	}
	require.True(t, pa.master.Valid())
	assert.True(t, pa.master.IsErased())
	assert.True(t, alice.kp.Private.IsErased())
}

func TestMasterKeyErasedOnConnectionLoss(t *testing.T) {
	c := cryptographic.NewComponent(nil)
	alice, bob := orderPeers(newPeer(t, c), newPeer(t, c))
	connA, remote := net.Pipe()
	defer connA.Close()

	pa := newAliceProtocol(t, c, alice, bob, connA)
	errA := make(chan error, 1)
	go func() {
		_, err := pa.Perform(context.Background())
		errA <- err
	}()

	// play bob up to his KEY, then drop the connection before CONFIRM
	key, err := ReadRecord(remote)
	require.NoError(t, err)
	assert.Equal(t, RecordKey, key.Type)
	require.NoError(t, WriteRecord(remote, Record{Type: RecordKey, Body: bob.kp.Public.Slice()}))
	remote.Close()

	select {
	case err := <-errA:
		require.Error(t, err)
		_, isAbort := AsAbort(err)
		assert.False(t, isAbort)
	case <-time.After(10 * time.Second):
		t.Fatal("handshake did not finish")
	}
	require.True(t, pa.master.Valid())
	assert.True(t, pa.master.IsErased())
}
