package det

// debugEntry is one retained raw frame plus the (pts, r) pair computed for it.
type debugEntry struct {
	luma      []byte // copy of the frame's luma plane at ingest time
	width     int
	height    int
	pts       float64
	r         float64
	isTrigger bool
}

// debugRing is the fixed-capacity (debugBufferCapacity) FIFO buffer of
// retained raw pixel buffers used by ExportDebugFrames.
//
// Eviction is FIFO: once full, the oldest entry is overwritten. Entries are
// released (dropped, GC-eligible) on Reset.
type debugRing struct {
	entries []debugEntry
	cap     int
	len     int
	next    int
}

func newDebugRing(capacity int) *debugRing {
	return &debugRing{
		entries: make([]debugEntry, capacity),
		cap:     capacity,
	}
}

// push copies frame.Luma — the detector never retains the caller's backing
// array — and appends it.
func (d *debugRing) push(frame Frame, r float64, isTrigger bool) {
	lumaCopy := make([]byte, len(frame.Luma))
	copy(lumaCopy, frame.Luma)

	d.entries[d.next] = debugEntry{
		luma:      lumaCopy,
		width:     frame.Width,
		height:    frame.Height,
		pts:       frame.Pts,
		r:         r,
		isTrigger: isTrigger,
	}
	d.next = (d.next + 1) % d.cap
	if d.len < d.cap {
		d.len++
	}
}

func (d *debugRing) reset() {
	for i := range d.entries {
		d.entries[i] = debugEntry{}
	}
	d.len = 0
	d.next = 0
}

// ordered returns retained entries oldest-first.
func (d *debugRing) ordered() []debugEntry {
	out := make([]debugEntry, d.len)
	start := (d.next - d.len + d.cap) % d.cap
	for i := 0; i < d.len; i++ {
		out[i] = d.entries[(start+i)%d.cap]
	}
	return out
}
