// Package payload encodes and parses the out-of-band invitation exchanged by
// QR code: a CBOR array of the protocol version, the 16-byte key commitment
// and one [transport id, properties] pair per local transport.
//
// The version is decoded and checked before anything else, so a payload from
// an incompatible release fails with UnsupportedVersionError however the rest
// of it is laid out.
package payload

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"e2e_pairing/internal/model"
)

const (
	// ProtocolVersion is the only payload and record version we speak.
	ProtocolVersion = 4

	// BetaProtocolVersion was used by pre-release builds and is always
	// rejected as too old.
	BetaProtocolVersion = 89

	MaxTransportIDLength = 100

	cborMajorArray = 4
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1024,
		MaxMapPairs:      1024,
		MaxNestedLevels:  8,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

type (
	FormatError struct {
		Reason string
		Err    error
	}

	// UnsupportedVersionError reports a payload from another protocol
	// version. TooOld is set when the sender is behind us, so the UI can
	// ask the contact to update rather than the user.
	UnsupportedVersionError struct {
		Version uint64
		TooOld  bool
	}
)

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid payload: %s: %v", e.Reason, e.Err)
	}
	return "invalid payload: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *UnsupportedVersionError) Error() string {
	if e.TooOld {
		return fmt.Sprintf("payload version %d is older than supported version %d", e.Version, ProtocolVersion)
	}
	return fmt.Sprintf("payload version %d is newer than supported version %d", e.Version, ProtocolVersion)
}

func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Encode serialises p. Property maps are written with sorted keys.
func Encode(p *model.Payload) ([]byte, error) {
	descriptors := make([]any, 0, len(p.Descriptors))
	for _, d := range p.Descriptors {
		if err := checkTransportID(string(d.TransportID)); err != nil {
			return nil, err
		}
		props := d.Properties
		if props == nil {
			props = map[string]string{}
		}
		descriptors = append(descriptors, []any{string(d.TransportID), props})
	}
	out, err := encMode.Marshal([]any{uint64(ProtocolVersion), p.Commitment[:], descriptors})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}

// Parse is the inverse of Encode.
func Parse(b []byte) (*model.Payload, error) {
	version, err := peekVersion(b)
	if err != nil {
		return nil, err
	}
	if version != ProtocolVersion {
		return nil, &UnsupportedVersionError{
			Version: version,
			TooOld:  version < ProtocolVersion || version == BetaProtocolVersion,
		}
	}

	var elems []cbor.RawMessage
	if err := decMode.Unmarshal(b, &elems); err != nil {
		return nil, &FormatError{Reason: "framing", Err: err}
	}
	if len(elems) != 3 {
		return nil, &FormatError{Reason: fmt.Sprintf("expected 3 elements, got %d", len(elems))}
	}

	var commitment []byte
	if err := decMode.Unmarshal(elems[1], &commitment); err != nil {
		return nil, &FormatError{Reason: "commitment", Err: err}
	}
	if len(commitment) != model.CommitLength {
		return nil, &FormatError{Reason: fmt.Sprintf("commitment length %d", len(commitment))}
	}
	p := &model.Payload{}
	copy(p.Commitment[:], commitment)

	var raw []cbor.RawMessage
	if err := decMode.Unmarshal(elems[2], &raw); err != nil {
		return nil, &FormatError{Reason: "descriptor list", Err: err}
	}
	for i, r := range raw {
		d, err := parseDescriptor(r)
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("descriptor %d", i), Err: err}
		}
		p.Descriptors = append(p.Descriptors, d)
	}
	return p, nil
}

// peekVersion reads the outer array header and the first element only. The
// bytes after the version are not looked at.
func peekVersion(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, &FormatError{Reason: "empty input"}
	}
	if b[0]>>5 != cborMajorArray {
		return 0, &FormatError{Reason: "not a list"}
	}
	header := 1
	switch info := b[0] & 0x1f; {
	case info == 0:
		return 0, &FormatError{Reason: "empty list"}
	case info < 24, info == 31:
	case info <= 27:
		header += 1 << (info - 24)
	default:
		return 0, &FormatError{Reason: fmt.Sprintf("list header %#x", b[0])}
	}
	if len(b) <= header {
		return 0, &FormatError{Reason: "truncated list"}
	}
	var version uint64
	if _, err := decMode.UnmarshalFirst(b[header:], &version); err != nil {
		return 0, &FormatError{Reason: "version", Err: err}
	}
	return version, nil
}

func parseDescriptor(r cbor.RawMessage) (model.TransportDescriptor, error) {
	var fields []cbor.RawMessage
	if err := decMode.Unmarshal(r, &fields); err != nil {
		return model.TransportDescriptor{}, err
	}
	if len(fields) != 2 {
		return model.TransportDescriptor{}, fmt.Errorf("expected 2 fields, got %d", len(fields))
	}
	var id string
	if err := decMode.Unmarshal(fields[0], &id); err != nil {
		return model.TransportDescriptor{}, err
	}
	if err := checkTransportID(id); err != nil {
		return model.TransportDescriptor{}, err
	}
	var props map[string]string
	if err := decMode.Unmarshal(fields[1], &props); err != nil {
		return model.TransportDescriptor{}, err
	}
	if len(props) == 0 {
		props = nil
	}
	return model.TransportDescriptor{TransportID: model.TransportID(id), Properties: props}, nil
}

func checkTransportID(id string) error {
	if id == "" || len(id) > MaxTransportIDLength {
		return &FormatError{Reason: fmt.Sprintf("transport id length %d", len(id))}
	}
	return nil
}
