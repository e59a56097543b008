package model

// CommitLength is the length of the key commitment carried in a payload.
const CommitLength = 16

type (
	TransportID string

	// TransportDescriptor tells the peer how to reach us over one transport.
	TransportDescriptor struct {
		TransportID TransportID
		Properties  map[string]string
	}

	// Payload is the out-of-band invitation shown as a QR code.
	Payload struct {
		Commitment  [CommitLength]byte
		Descriptors []TransportDescriptor
	}
)

// Descriptor returns the descriptor for id, if the payload advertises one.
func (p *Payload) Descriptor(id TransportID) (TransportDescriptor, bool) {
	for _, d := range p.Descriptors {
		if d.TransportID == id {
			return d, true
		}
	}
	return TransportDescriptor{}, false
}
