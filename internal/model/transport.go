package model

type (
	ContactID string

	// RotationPeriodKeys holds the keys valid during one rotation period:
	// the tag key and one frame key per direction.
	RotationPeriodKeys struct {
		Period        uint64
		TagKey        SecretKey
		AliceFrameKey SecretKey
		BobFrameKey   SecretKey
	}

	// TransportKeys is the rotation state for one (contact, transport) pair.
	TransportKeys struct {
		TransportID TransportID
		Alice       bool
		Previous    *RotationPeriodKeys
		Current     *RotationPeriodKeys
		Next        *RotationPeriodKeys
	}
)

// FrameKey returns the frame key for traffic sent by alice (or by bob).
func (r *RotationPeriodKeys) FrameKey(sentByAlice bool) SecretKey {
	if sentByAlice {
		return r.AliceFrameKey
	}
	return r.BobFrameKey
}

func (r *RotationPeriodKeys) Erase() {
	if r == nil {
		return
	}
	r.TagKey.Erase()
	r.AliceFrameKey.Erase()
	r.BobFrameKey.Erase()
}

// Windows returns previous, current and next in that order.
func (k *TransportKeys) Windows() [3]*RotationPeriodKeys {
	return [3]*RotationPeriodKeys{k.Previous, k.Current, k.Next}
}

func (k *TransportKeys) Period() uint64 { return k.Current.Period }

func (k *TransportKeys) Erase() {
	if k == nil {
		return
	}
	for _, w := range k.Windows() {
		w.Erase()
	}
}
