package bqp

import (
	"time"

	"e2e_pairing/internal/model"
	"e2e_pairing/internal/protocol/payload"
)

const (
	ProtocolVersion = payload.ProtocolVersion
	CommitLength    = model.CommitLength

	// Record types
	RecordKey     byte = 0
	RecordConfirm byte = 1
	RecordAbort   byte = 2

	MaxRecordBodyLength = 1024

	// ConnectionTimeout bounds one whole pairing attempt.
	ConnectionTimeout = 60 * time.Second

	// ConfirmationCodeModulus yields six-digit codes.
	ConfirmationCodeModulus = 1_000_000
)

const (
	CommitLabel           = "e2e_pairing/bqp/COMMIT"
	SharedSecretLabel     = "e2e_pairing/bqp/SHARED_SECRET"
	MasterKeyLabel        = "e2e_pairing/bqp/MASTER_KEY"
	ConfirmationKeyLabel  = "e2e_pairing/bqp/CONFIRMATION_KEY"
	ConfirmationMacLabel  = "e2e_pairing/bqp/CONFIRMATION_MAC"
	ConfirmationCodeLabel = "e2e_pairing/bqp/CONFIRMATION_CODE"
	AliceNonceLabel       = "e2e_pairing/bqp/ALICE_NONCE"
	BobNonceLabel         = "e2e_pairing/bqp/BOB_NONCE"
	SignatureLabel        = "e2e_pairing/bqp/SIGNATURE"
)
