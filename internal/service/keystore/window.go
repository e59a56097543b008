package keystore

// ReorderingWindow is the number of stream numbers, starting at the lowest
// unseen one, whose tags are expected at any time.
const ReorderingWindow = 8

// reorderingWindow tracks which of the streams [base, base+ReorderingWindow)
// have been seen. Bit i of seen stands for stream base+i.
type reorderingWindow struct {
	Base uint64 `cbor:"1,keyasint"`
	Seen uint8  `cbor:"2,keyasint"`
}

func (w *reorderingWindow) unseen() []uint64 {
	out := make([]uint64, 0, ReorderingWindow)
	for i := uint64(0); i < ReorderingWindow; i++ {
		if w.Seen&(1<<i) == 0 {
			out = append(out, w.Base+i)
		}
	}
	return out
}

// markSeen records stream n and slides the window past every leading seen
// stream. It reports false if n is outside the window or already seen.
func (w *reorderingWindow) markSeen(n uint64) bool {
	if n < w.Base || n >= w.Base+ReorderingWindow {
		return false
	}
	bit := uint8(1) << (n - w.Base)
	if w.Seen&bit != 0 {
		return false
	}
	w.Seen |= bit
	for w.Seen&1 == 1 {
		w.Seen >>= 1
		w.Base++
	}
	return true
}
