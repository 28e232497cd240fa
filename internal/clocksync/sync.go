package clocksync

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

const (
	sampleWindowCapacity = 100
	minSamplesForReady   = 10
)

// Quality grades the current uncertainty bound.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityOK        Quality = "ok"
	QualityPoor      Quality = "poor"
)

const notReadyUncertaintyMs = 999.0

// Sample is one NTP-style four-tuple exchange: t1 ping sent, t2 ping
// received, t3 pong sent, t4 pong received, all in the initiator's clock
// domain except t2/t3 which are the responder's.
type Sample struct {
	T1, T2, T3, T4 int64 // monotonic nanoseconds
}

// RTT returns the sample's round-trip time in nanoseconds. RTT is unsigned:
// a negative difference (responder hold time longer than the measured round
// trip) is clamped to 0.
func (s Sample) RTT() int64 {
	rtt := (s.T4 - s.T1) - (s.T3 - s.T2)
	if rtt < 0 {
		return 0
	}
	return rtt
}

// Offset returns the sample's clock offset estimate in nanoseconds.
func (s Sample) Offset() int64 {
	return ((s.T2 - s.T1) + (s.T3 - s.T4)) / 2
}

// Status is the snapshot returned by Status().
type Status struct {
	OffsetNanos   int64
	UncertaintyMs float64
	SampleCount   int
	Quality       Quality
	IsReady       bool
}

// Synchronizer estimates the offset and uncertainty between this clock and a
// remote peer's clock from a rolling window of NTP-style sync samples.
type Synchronizer struct {
	clock clockwork.Clock

	mu      sync.Mutex
	samples []Sample // FIFO window, oldest at index 0

	offsetNanos   int64
	uncertaintyMs float64
	isReady       bool
}

// New creates a Synchronizer backed by clock. Pass clockwork.NewRealClock()
// in production and clockwork.NewFakeClock() in tests, so NowNanos is
// deterministic and advanceable without real sleeps.
func New(clock clockwork.Clock) *Synchronizer {
	return &Synchronizer{
		clock:         clock,
		uncertaintyMs: notReadyUncertaintyMs,
	}
}

// NowNanos returns clock.Now() as Unix nanoseconds. On the real clock this
// is a wall-clock reading: UnixNano drops time.Time's monotonic component,
// so a wall-clock step during a session shifts the values it returns.
func (s *Synchronizer) NowNanos() int64 {
	return s.clock.Now().UnixNano()
}

// HandlePing is the responder side of a sync exchange: t2 is captured
// immediately on entry, t3 immediately before return.
func (s *Synchronizer) HandlePing(t1 int64) (t2, t3 int64) {
	t2 = s.NowNanos()
	t3 = s.NowNanos()
	return t2, t3
}

// AddSample is the initiator side, called after the pong arrives at t4.
// Malformed samples (t4 < t1 or t3 < t2) are rejected silently; counters do
// not advance.
func (s *Synchronizer) AddSample(t1, t2, t3, t4 int64) {
	if t4 < t1 || t3 < t2 {
		return
	}

	sample := Sample{T1: t1, T2: t2, T3: t3, T4: t4}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	if len(s.samples) > sampleWindowCapacity {
		s.samples = s.samples[len(s.samples)-sampleWindowCapacity:]
	}

	s.recompute()
}

// Reset clears the sample window and readiness state.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
	s.offsetNanos = 0
	s.uncertaintyMs = notReadyUncertaintyMs
	s.isReady = false
}

// Status returns the current offset, uncertainty, sample count, quality, and
// readiness. While not ready, offsetNanos is 0 and uncertaintyMs is
// notReadyUncertaintyMs.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		OffsetNanos:   s.offsetNanos,
		UncertaintyMs: s.uncertaintyMs,
		SampleCount:   len(s.samples),
		Quality:       qualityFor(s.uncertaintyMs, s.isReady),
		IsReady:       s.isReady,
	}
}

// ConvertRemoteToLocal converts a timestamp from the remote clock's domain to
// this clock's domain, given the previously-reported offsetNanos. Offset
// sign convention: remoteNanos ~= localNanos + offset.
func (s *Synchronizer) ConvertRemoteToLocal(remoteNanos, offsetNanos int64) int64 {
	return remoteNanos - offsetNanos
}

func qualityFor(uncertaintyMs float64, isReady bool) Quality {
	if !isReady {
		return QualityPoor
	}
	switch {
	case uncertaintyMs <= 3:
		return QualityExcellent
	case uncertaintyMs <= 5:
		return QualityGood
	case uncertaintyMs <= 10:
		return QualityOK
	default:
		return QualityPoor
	}
}
