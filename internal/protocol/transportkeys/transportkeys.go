// Package transportkeys turns a handshake master key into rotating,
// per-transport key windows and encodes the tags that let a peer recognise an
// incoming connection without learning who sent it.
//
// Each window holds one tag key and two frame keys, one per direction. The
// window before the first period is derived from the master key; every later
// window is derived from the one before it, so old windows cannot be
// recomputed from new ones.
package transportkeys

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"e2e_pairing/internal/cryptographic"
	"e2e_pairing/internal/cryptographic/encryption"
	"e2e_pairing/internal/cryptographic/kdf"
	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/payload"
)

const (
	TagLength = 16

	TagKeyLabel        = "e2e_pairing/transport/TAG_KEY"
	AliceFrameKeyLabel = "e2e_pairing/transport/ALICE_FRAME_KEY"
	BobFrameKeyLabel   = "e2e_pairing/transport/BOB_FRAME_KEY"
	RotateLabel        = "e2e_pairing/transport/ROTATE"
)

var (
	ErrInvalidPeriod = errors.New("rotation period must be at least 1")
	ErrShortTag      = fmt.Errorf("tag buffer shorter than %d bytes", TagLength)
)

// DeriveTransportKeys derives the three windows around period. The master key
// is left intact so the caller can derive keys for more transports from it;
// the caller erases it.
func DeriveTransportKeys(c *cryptographic.Component, transportID model.TransportID,
	master model.SecretKey, period uint64, alice bool) (*model.TransportKeys, error) {
	if period < 1 {
		return nil, ErrInvalidPeriod
	}
	if master.IsErased() {
		return nil, errors.New("derive transport keys: master key erased")
	}
	id := []byte(transportID)
	prev := &model.RotationPeriodKeys{
		Period:        period - 1,
		TagKey:        c.DeriveKey(TagKeyLabel, master, id),
		AliceFrameKey: c.DeriveKey(AliceFrameKeyLabel, master, id),
		BobFrameKey:   c.DeriveKey(BobFrameKeyLabel, master, id),
	}
	curr := rotate(c, prev, period)
	next := rotate(c, curr, period+1)
	return &model.TransportKeys{
		TransportID: transportID,
		Alice:       alice,
		Previous:    prev,
		Current:     curr,
		Next:        next,
	}, nil
}

// PeriodAt returns the rotation period containing t for periods of the
// given length, counted from the Unix epoch.
func PeriodAt(t time.Time, length time.Duration) uint64 {
	if length < time.Second {
		panic("transportkeys: rotation period shorter than a second")
	}
	return uint64(t.Unix()) / uint64(length/time.Second)
}

// RotateTransportKeys advances keys so that Current is newPeriod. A period
// that is not later than the current one leaves keys untouched and returns
// false. Every window that falls out is erased.
func RotateTransportKeys(c *cryptographic.Component, keys *model.TransportKeys, newPeriod uint64) bool {
	if keys == nil || keys.Current == nil || newPeriod <= keys.Current.Period {
		return false
	}
	for keys.Current.Period < newPeriod {
		keys.Previous.Erase()
		keys.Previous = keys.Current
		keys.Current = keys.Next
		keys.Next = rotate(c, keys.Current, keys.Current.Period+1)
	}
	return true
}

func rotate(c *cryptographic.Component, w *model.RotationPeriodKeys, period uint64) *model.RotationPeriodKeys {
	var p [8]byte
	binary.BigEndian.PutUint64(p[:], period)
	return &model.RotationPeriodKeys{
		Period:        period,
		TagKey:        c.DeriveKey(RotateLabel, w.TagKey, p[:]),
		AliceFrameKey: c.DeriveKey(RotateLabel, w.AliceFrameKey, p[:]),
		BobFrameKey:   c.DeriveKey(RotateLabel, w.BobFrameKey, p[:]),
	}
}

// EncodeTag writes the tag for stream number streamNumber sent by alice (or
// by bob) into the first TagLength bytes of tag.
func EncodeTag(tag []byte, tagKey model.SecretKey, alice bool, streamNumber uint64) error {
	if len(tag) < TagLength {
		return ErrShortTag
	}
	var in [11]byte
	binary.BigEndian.PutUint16(in[0:2], payload.ProtocolVersion)
	if alice {
		in[2] = 1
	}
	binary.BigEndian.PutUint64(in[3:], streamNumber)
	out := kdf.PRF(tagKey.Bytes(), in[:])
	copy(tag, out[:TagLength])
	return nil
}

// NewFrameCipher returns a cipher initialised with the frame key for traffic
// sent by alice (or by bob) in window w.
func NewFrameCipher(c *cryptographic.Component, w *model.RotationPeriodKeys,
	sentByAlice, encrypt bool, iv []byte) (encryption.Cipher, error) {
	cipher := c.NewCipher()
	if err := cipher.Init(encrypt, w.FrameKey(sentByAlice).Bytes(), iv); err != nil {
		return nil, err
	}
	return cipher, nil
}
