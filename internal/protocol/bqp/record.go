package bqp

import (
	"encoding/binary"
	"fmt"
	"io"
)

const recordHeaderLength = 3

// Record is one handshake message: type (1 byte) || uint16 length || body.
type Record struct {
	Type byte
	Body []byte
}

func WriteRecord(w io.Writer, r Record) error {
	if len(r.Body) > MaxRecordBodyLength {
		return ErrRecordTooLong
	}
	buf := make([]byte, recordHeaderLength+len(r.Body))
	buf[0] = r.Type
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(r.Body)))
	copy(buf[recordHeaderLength:], r.Body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// ReadRecord reads one record. The type is not checked here.
func ReadRecord(r io.Reader) (Record, error) {
	var hdr [recordHeaderLength]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Record{}, fmt.Errorf("read record header: %w", err)
	}
	length := int(binary.BigEndian.Uint16(hdr[1:3]))
	if length > MaxRecordBodyLength {
		return Record{}, ErrRecordTooLong
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, fmt.Errorf("read record body: %w", err)
	}
	return Record{Type: hdr[0], Body: body}, nil
}
