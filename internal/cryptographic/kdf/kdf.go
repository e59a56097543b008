package kdf

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// Size is the output length of Mac, Hash and PRF.
const Size = blake2b.Size256

// HKDF fills buffer from secret, salt and info using HKDF-SHA256.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// Mac is keyed BLAKE2b-256 over the label and inputs. Each item is preceded
// by its length as a 32-bit big-endian integer so that distinct input lists
// never collide.
func Mac(label string, key []byte, inputs ...[]byte) []byte {
	h, err := blake2b.New256(key)
	if err != nil {
		// only possible for keys longer than 64 bytes
		panic(fmt.Sprintf("kdf: bad mac key: %v", err))
	}
	writePrefixed(h, []byte(label))
	for _, in := range inputs {
		writePrefixed(h, in)
	}
	return h.Sum(nil)
}

// Hash is unkeyed BLAKE2b-256 with the same framing as Mac.
func Hash(label string, inputs ...[]byte) []byte {
	return Mac(label, nil, inputs...)
}

// PRF is keyed BLAKE2b-256 over the raw concatenation of parts.
func PRF(key []byte, parts ...[]byte) []byte {
	h, err := blake2b.New256(key)
	if err != nil {
		panic(fmt.Sprintf("kdf: bad prf key: %v", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func writePrefixed(w io.Writer, b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	w.Write(length[:])
	w.Write(b)
}
