// Package bqp implements the pairing handshake run over a freshly raced,
// unauthenticated connection.
//
// Each side has already shown the other a payload whose commitment is a hash
// of its ephemeral X25519 public key. Over the connection the two sides
// exchange records:
//
//	alice                          bob
//	KEY(pubA)        ─────────►    check H(pubA) == commitA
//	check H(pubB) == commitB ◄─────  KEY(pubB)
//	CONFIRM(macA, idA, sigA) ───►  verify
//	verify           ◄─────────    CONFIRM(macB, idB, sigB)
//
// Alice is the side with the lexicographically lower commitment. The master
// key is derived from the X25519 output, the protocol version and both public
// keys in role order, so two sides that disagree about roles never agree on
// a key.
//
// Any mismatch makes the detecting side send ABORT and fail with an
// AbortError of kind LocalAbort; a side that reads ABORT fails with
// RemoteAbort. There is no resumption.
package bqp
