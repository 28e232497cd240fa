package clocksync

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// recompute derives offsetNanos and uncertaintyMs from the best (lowest-RTT)
// fraction of the current sample window, via median offset and median
// absolute deviation. Caller must hold s.mu.
func (s *Synchronizer) recompute() {
	n := len(s.samples)
	if n < minSamplesForReady {
		s.offsetNanos = 0
		s.uncertaintyMs = notReadyUncertaintyMs
		s.isReady = false
		return
	}

	ordered := append([]Sample(nil), s.samples...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].RTT() < ordered[j].RTT()
	})

	keep := int(math.Ceil(0.30 * float64(n)))
	if keep < minSamplesForReady {
		keep = minSamplesForReady
	}
	if keep > n {
		keep = n
	}
	best := ordered[:keep]

	offsets := make([]float64, keep)
	rtts := make([]float64, keep)
	for i, sm := range best {
		offsets[i] = float64(sm.Offset())
		rtts[i] = float64(sm.RTT())
	}

	sortedOffsets := append([]float64(nil), offsets...)
	sort.Float64s(sortedOffsets)
	medianOffset := stat.Quantile(0.5, stat.Empirical, sortedOffsets, nil)

	sortedRTTs := append([]float64(nil), rtts...)
	sort.Float64s(sortedRTTs)
	medianRTT := stat.Quantile(0.5, stat.Empirical, sortedRTTs, nil)

	absDevs := make([]float64, keep)
	for i, o := range offsets {
		d := o - medianOffset
		if d < 0 {
			d = -d
		}
		absDevs[i] = d
	}
	sort.Float64s(absDevs)
	mad := stat.Quantile(0.5, stat.Empirical, absDevs, nil)

	s.offsetNanos = int64(medianOffset)
	s.uncertaintyMs = (mad + medianRTT/2) / 1e6
	s.isReady = true
}
