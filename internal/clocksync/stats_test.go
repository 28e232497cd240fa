package clocksync

import (
	"testing"

	"github.com/jonboulle/clockwork"
)

// TestRecomputeUsesCeilingForBestSampleCount checks that the "best" sample
// count is max(minSamplesForReady, ceil(0.30*n)), not a truncated count. At
// n=35, 0.30*35=10.5: ceil keeps 11 samples (median = the 6th-lowest-RTT
// sample's offset), while truncating to 10 would pick the 5th-lowest-RTT
// sample's offset (4e6) instead.
func TestRecomputeUsesCeilingForBestSampleCount(t *testing.T) {
	s := New(clockwork.NewFakeClock())

	const n = 35
	for i := 0; i < n; i++ {
		rtt := int64(i+1) * 1000
		offset := int64(i) * 1_000_000
		t1 := int64(0)
		t4 := rtt
		t2 := offset + rtt/2
		t3 := t2
		s.AddSample(t1, t2, t3, t4)
	}

	status := s.Status()
	if !status.IsReady {
		t.Fatalf("expected ready, status=%+v", status)
	}

	const wantOffset = 5_000_000 // median of the 11 lowest-RTT samples (offsets 0..10e6)
	if diff := status.OffsetNanos - wantOffset; diff < -100_000 || diff > 100_000 {
		t.Fatalf("offsetNanos = %d, want ~%d (got keep=10 truncation instead of ceil(10.5)=11?)", status.OffsetNanos, wantOffset)
	}
}
