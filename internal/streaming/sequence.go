package streaming

// sequenceTracker counts data items missing between consecutive sequence
// numbers. The device numbers datagrams from 0 after a start and wraps from
// 65535 to 1, so 0 is only ever seen once per capture.
type sequenceTracker struct {
	seen bool
	last uint16
}

func nextSequence(s uint16) uint16 {
	if s == 0xFFFF {
		return 1
	}
	return s + 1
}

// observe records seq and returns how many datagrams were skipped before it.
// A restart at 0, a duplicate or a late datagram counts as no loss.
func (t *sequenceTracker) observe(seq uint16) uint16 {
	if !t.seen || seq == 0 {
		t.seen = true
		t.last = seq
		return 0
	}
	expected := nextSequence(t.last)
	if seq == expected {
		t.last = seq
		return 0
	}
	gap := seq - expected
	if seq < expected {
		// Crossed the wrap, which skips 0.
		gap--
	}
	if gap >= 0x8000 {
		// Older than the last one seen: reordered or duplicated.
		return 0
	}
	t.last = seq
	return gap
}
