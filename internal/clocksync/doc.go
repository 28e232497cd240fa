// Package clocksync implements an NTP-style clock synchronizer.
//
// Synchronizer collects timed four-tuple samples exchanged between two
// devices, filters them by round-trip time, and computes a median offset
// between the two monotonic clocks plus an uncertainty bound.
//
// # Basic usage
//
//	s := clocksync.New(clockwork.NewRealClock())
//	t2, t3 := s.HandlePing(t1) // responder side
//	s.AddSample(t1, t2, t3, t4) // initiator side, after pong arrives at t4
//	status := s.Status()
//	if status.IsReady {
//	    local := s.ConvertRemoteToLocal(remoteNanos, status.OffsetNanos)
//	}
//
// # Thread safety
//
// Synchronizer is safe for concurrent use. Sample insertion and offset
// recomputation normally happen on a single control goroutine, but the
// internal lock makes concurrent Status() calls from other goroutines (e.g. a
// health endpoint) safe regardless.
package clocksync
