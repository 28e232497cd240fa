package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/racegate/core/internal/wire"
)

func syncBurstIntervalDuration() time.Duration {
	return syncBurstInterval * time.Millisecond
}

// StartSync (re)starts the sync burst, resetting the synchronizer first.
// Callable by the user to retry if the burst timed out without reaching
// readiness.
func (s *Session) StartSync(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateSyncing && s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: start sync in state %v: %w", state, ErrWrongState)
	}
	s.state = StateSyncing
	s.mu.Unlock()

	if s.syncCancel != nil {
		s.syncCancel()
		s.wg.Wait()
	}
	s.sync.Reset()
	s.notifyState(StateSyncing)
	s.startSyncBurst(ctx)
	return nil
}

// startSyncBurst launches the background goroutine that sends up to
// syncBurstMaxPings syncPing messages at syncBurstInterval ms intervals, as a
// single task with cooperative sleep and a cancellation token.
func (s *Session) startSyncBurst(ctx context.Context) {
	burstCtx, cancel := context.WithCancel(ctx)
	s.syncCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i := 0; i < syncBurstMaxPings; i++ {
			if !sleepOrCancelOnFirst(burstCtx, i) {
				return
			}
			if err := s.sendSyncPing(burstCtx); err != nil {
				slog.Debug("session: sync ping send failed", "error", err)
			}
			if s.State() != StateSyncing {
				return
			}
		}
	}()
}

// sleepOrCancelOnFirst skips the sleep before the very first ping, so the
// burst starts immediately on entering syncing, and sleeps
// syncBurstInterval ms before every subsequent ping.
func sleepOrCancelOnFirst(ctx context.Context, i int) bool {
	if i == 0 {
		return ctx.Err() == nil
	}
	return sleepOrCancel(ctx, syncBurstIntervalDuration())
}

func (s *Session) sendSyncPing(ctx context.Context) error {
	t1 := s.sync.NowNanos()
	payload, err := json.Marshal(wire.SyncPingPayload{T1: wire.EncodeNanos(t1)})
	if err != nil {
		return err
	}
	return s.send(ctx, wire.TypeSyncPing, payload)
}

func (s *Session) handleSyncPing(ctx context.Context, env wire.Envelope) {
	var payload wire.SyncPingPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		slog.Warn("session: bad syncPing payload", "error", err)
		return
	}
	t1, err := wire.DecodeNanos(payload.T1)
	if err != nil {
		slog.Warn("session: bad syncPing t1", "error", err)
		return
	}

	t2, t3 := s.sync.HandlePing(t1)
	pong, err := json.Marshal(wire.SyncPongPayload{
		T1: wire.EncodeNanos(t1),
		T2: wire.EncodeNanos(t2),
		T3: wire.EncodeNanos(t3),
	})
	if err != nil {
		slog.Warn("session: marshal syncPong", "error", err)
		return
	}
	if err := s.send(ctx, wire.TypeSyncPong, pong); err != nil {
		slog.Debug("session: syncPong send failed", "error", err)
	}
}

func (s *Session) handleSyncPong(env wire.Envelope) {
	var payload wire.SyncPongPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		slog.Warn("session: bad syncPong payload", "error", err)
		return
	}
	t1, err1 := wire.DecodeNanos(payload.T1)
	t2, err2 := wire.DecodeNanos(payload.T2)
	t3, err3 := wire.DecodeNanos(payload.T3)
	if err1 != nil || err2 != nil || err3 != nil {
		slog.Warn("session: malformed syncPong timestamps")
		return
	}
	t4 := s.sync.NowNanos()

	s.sync.AddSample(t1, t2, t3, t4)
	status := s.sync.Status()

	if !status.IsReady {
		return
	}

	s.mu.Lock()
	if s.state != StateSyncing {
		s.mu.Unlock()
		if s.cb.OnSyncStatus != nil {
			s.cb.OnSyncStatus(status)
		}
		return
	}
	s.offsetNanos = status.OffsetNanos
	s.state = StateReady
	s.mu.Unlock()

	if s.syncCancel != nil {
		s.syncCancel()
	}
	if s.cb.OnSyncStatus != nil {
		s.cb.OnSyncStatus(status)
	}
	s.notifyState(StateReady)
}
