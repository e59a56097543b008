package bqp

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"e2e_pairing/internal/utils/log"
)

const abortWriteTimeout = 2 * time.Second

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Transport sends and receives typed records over one connection.
type Transport struct {
	conn io.ReadWriter
}

func NewTransport(conn io.ReadWriter) *Transport {
	return &Transport{conn: conn}
}

func (t *Transport) SendKey(publicKey []byte) error {
	return WriteRecord(t.conn, Record{Type: RecordKey, Body: publicKey})
}

func (t *Transport) ReceiveKey() ([]byte, error) {
	return t.receive(RecordKey)
}

func (t *Transport) SendConfirm(confirm []byte) error {
	return WriteRecord(t.conn, Record{Type: RecordConfirm, Body: confirm})
}

func (t *Transport) ReceiveConfirm() ([]byte, error) {
	return t.receive(RecordConfirm)
}

// SendAbort tells the peer we are giving up. It is best effort: the peer may
// already be gone, so the write is bounded when the connection allows it.
func (t *Transport) SendAbort() {
	if d, ok := t.conn.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(abortWriteTimeout))
		defer d.SetWriteDeadline(time.Time{})
	}
	if err := WriteRecord(t.conn, Record{Type: RecordAbort}); err != nil {
		log.Debug("send abort failed", zap.Error(err))
	}
}

func (t *Transport) receive(expected byte) ([]byte, error) {
	rec, err := ReadRecord(t.conn)
	if errors.Is(err, ErrRecordTooLong) {
		t.SendAbort()
		return nil, localAbort(ReasonProtocolError, err)
	}
	if err != nil {
		return nil, err
	}
	switch rec.Type {
	case expected:
		return rec.Body, nil
	case RecordAbort:
		return nil, &AbortError{Kind: RemoteAbort, Reason: ReasonPeerAborted}
	default:
		t.SendAbort()
		return nil, localAbort(ReasonProtocolError,
			errors.New("unexpected record type "+recordName(rec.Type)+", want "+recordName(expected)))
	}
}

func recordName(t byte) string {
	switch t {
	case RecordKey:
		return "KEY"
	case RecordConfirm:
		return "CONFIRM"
	case RecordAbort:
		return "ABORT"
	}
	return "UNKNOWN"
}
