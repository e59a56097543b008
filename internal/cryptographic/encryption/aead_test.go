package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeyBytes)
	iv := bytes.Repeat([]byte{2}, NonceBytes)

	enc := NewXChaCha20Poly1305()
	require.NoError(t, enc.Init(true, key, iv))
	ct, err := enc.Process([]byte("frame"))
	require.NoError(t, err)
	assert.Len(t, ct, len("frame")+enc.MacBytes())

	dec := NewXChaCha20Poly1305()
	require.NoError(t, dec.Init(false, key, iv))
	pt, err := dec.Process(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), pt)

	ct[0] ^= 1
	_, err = dec.Process(ct)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestCipherRequiresInit(t *testing.T) {
	_, err := NewXChaCha20Poly1305().Process([]byte("x"))
	assert.ErrorIs(t, err, ErrNotInitialised)
	assert.Equal(t, 64, NewXChaCha20Poly1305().BlockBytes())
}

func TestSealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{3}, KeyBytes)
	sealed, err := Seal(key, []byte("keys"), []byte("aad"))
	require.NoError(t, err)

	plain, err := Open(key, sealed, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("keys"), plain)

	_, err = Open(key, sealed, []byte("other"))
	assert.ErrorIs(t, err, ErrAuthentication)
}
