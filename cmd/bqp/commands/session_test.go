package commands

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/bqp"
	"e2e_pairing/internal/protocol/payload"
	"e2e_pairing/internal/service/pairing"
)

func TestDecodePayload(t *testing.T) {
	p := &model.Payload{Descriptors: []model.TransportDescriptor{
		{TransportID: "lan", Properties: map[string]string{"address": "10.0.0.2", "port": "4000"}},
	}}
	p.Commitment[3] = 7
	b, err := payload.Encode(p)
	require.NoError(t, err)

	got, err := decodePayload("  " + base64.RawURLEncoding.EncodeToString(b) + "\n")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = decodePayload("not base64!")
	assert.Error(t, err)

	_, err = decodePayload(base64.RawURLEncoding.EncodeToString([]byte{0x01}))
	assert.True(t, payload.IsFormatError(err))
}

func TestDescribeOldPayload(t *testing.T) {
	old, err := cbor.Marshal([]any{uint64(payload.ProtocolVersion - 1), make([]byte, model.CommitLength)})
	require.NoError(t, err)

	_, err = decodePayload(base64.RawURLEncoding.EncodeToString(old))
	var uv *payload.UnsupportedVersionError
	require.ErrorAs(t, err, &uv)
	assert.True(t, uv.TooOld)
	assert.Contains(t, err.Error(), "ask your contact to update")
}

func TestDescribeKeepsCause(t *testing.T) {
	err := describe(pairing.ErrNoConnection)
	assert.ErrorIs(t, err, pairing.ErrNoConnection)

	abort := &bqp.AbortError{Kind: bqp.RemoteAbort, Reason: bqp.ReasonPeerAborted}
	err = describe(abort)
	got, ok := bqp.AsAbort(err)
	require.True(t, ok)
	assert.Same(t, abort, got)
	assert.Contains(t, err.Error(), "contact cancelled")

	plain := errors.New("boom")
	assert.Same(t, plain, describe(plain))
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "000042", formatCode(42))
	assert.Equal(t, "999999", formatCode(999999))
}

func TestDescribeAbortKinds(t *testing.T) {
	mismatch := describe(&bqp.AbortError{Kind: bqp.LocalAbort, Reason: bqp.ReasonBadConfirmation})
	assert.Contains(t, mismatch.Error(), "codes did not match")
	assert.NotContains(t, mismatch.Error(), "contact cancelled")

	commitment := describe(&bqp.AbortError{Kind: bqp.LocalAbort, Reason: bqp.ReasonBadCommitment})
	assert.Contains(t, commitment.Error(), "codes did not match")

	protocol := describe(&bqp.AbortError{Kind: bqp.LocalAbort, Reason: bqp.ReasonProtocolError})
	assert.NotContains(t, protocol.Error(), "codes did not match")
	assert.NotContains(t, protocol.Error(), "contact cancelled")
}
