package payload

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e2e_pairing/internal/model"
)

func testPayload() *model.Payload {
	p := &model.Payload{
		Descriptors: []model.TransportDescriptor{
			{TransportID: "lan", Properties: map[string]string{"ip": "192.168.1.7", "port": "40123"}},
			{TransportID: "bt", Properties: map[string]string{"address": "00:11:22:33:44:55", "uuid": "b2f7"}},
			{TransportID: "ws"},
		},
	}
	for i := range p.Commitment {
		p.Commitment[i] = byte(i + 1)
	}
	return p
}

func encodeRaw(t *testing.T, v any) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestRoundTrip(t *testing.T) {
	for _, p := range []*model.Payload{testPayload(), {}} {
		b, err := Encode(p)
		require.NoError(t, err)

		parsed, err := Parse(b)
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, err := Encode(testPayload())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b, err := Encode(testPayload())
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestVersionGate(t *testing.T) {
	commit := make([]byte, model.CommitLength)
	cases := []struct {
		version uint64
		tooOld  bool
	}{
		{0, true},
		{3, true},
		{5, false},
		{88, false},
		{BetaProtocolVersion, true},
		{200, false},
	}
	for _, tc := range cases {
		b := encodeRaw(t, []any{tc.version, commit, []any{}})
		_, err := Parse(b)

		var uv *UnsupportedVersionError
		require.True(t, errors.As(err, &uv), "version %d: %v", tc.version, err)
		assert.Equal(t, tc.version, uv.Version)
		assert.Equal(t, tc.tooOld, uv.TooOld, "version %d", tc.version)
	}
}

func TestVersionCheckedBeforeRemainder(t *testing.T) {
	// the remainder is garbage for version 4 but must not be looked at
	b := encodeRaw(t, []any{uint64(BetaProtocolVersion), "not a commitment"})
	_, err := Parse(b)

	var uv *UnsupportedVersionError
	require.ErrorAs(t, err, &uv)
	assert.True(t, uv.TooOld)
}

func TestVersionCheckedBeforeIllFormedRemainder(t *testing.T) {
	tails := map[string][]byte{
		"reserved additional info": {0x1c},
		"truncated byte string":    {0x50, 0x01},
		"break outside indefinite": {0xff},
	}
	versions := []struct {
		version uint64
		tooOld  bool
	}{
		{ProtocolVersion + 1, false},
		{BetaProtocolVersion, true},
		{ProtocolVersion - 1, true},
	}
	for name, tail := range tails {
		for _, v := range versions {
			head, err := cbor.Marshal(v.version)
			require.NoError(t, err)
			// a list of three whose first element is the version
			b := append([]byte{0x83}, head...)
			b = append(b, tail...)

			_, err = Parse(b)
			var uv *UnsupportedVersionError
			require.ErrorAs(t, err, &uv, "%s after version %d", name, v.version)
			assert.Equal(t, v.version, uv.Version)
			assert.Equal(t, v.tooOld, uv.TooOld)
		}
	}

	// an indefinite-length list is read the same way
	_, err := Parse([]byte{0x9f, 0x18, byte(BetaProtocolVersion), 0x1c})
	var uv *UnsupportedVersionError
	require.ErrorAs(t, err, &uv)
	assert.True(t, uv.TooOld)
}

func TestIllFormedRemainderOfCurrentVersion(t *testing.T) {
	_, err := Parse([]byte{0x83, ProtocolVersion, 0x1c})
	assert.True(t, IsFormatError(err))
}

func TestMalformed(t *testing.T) {
	commit := make([]byte, model.CommitLength)
	cases := map[string][]byte{
		"not cbor":          {0xff, 0x00},
		"not a list":        encodeRaw(t, map[string]int{"v": 4}),
		"empty list":        encodeRaw(t, []any{}),
		"negative version":  encodeRaw(t, []any{-4, commit, []any{}}),
		"short commitment":  encodeRaw(t, []any{4, commit[:15], []any{}}),
		"long commitment":   encodeRaw(t, []any{4, append(commit, 0), []any{}}),
		"missing list":      encodeRaw(t, []any{4, commit}),
		"extra element":     encodeRaw(t, []any{4, commit, []any{}, 1}),
		"bad descriptor":    encodeRaw(t, []any{4, commit, []any{[]any{"lan"}}}),
		"empty transport":   encodeRaw(t, []any{4, commit, []any{[]any{"", map[string]string{}}}}),
		"non-string values": encodeRaw(t, []any{4, commit, []any{[]any{"lan", map[string]int{"port": 1}}}}),
	}
	trailing, err := Encode(testPayload())
	require.NoError(t, err)
	cases["trailing bytes"] = append(trailing, 0x00)

	for name, b := range cases {
		_, err := Parse(b)
		assert.True(t, IsFormatError(err), "%s: got %v", name, err)
	}
}

func TestEncodeRejectsBadTransportID(t *testing.T) {
	p := &model.Payload{Descriptors: []model.TransportDescriptor{{TransportID: ""}}}
	_, err := Encode(p)
	assert.True(t, IsFormatError(err))
}
