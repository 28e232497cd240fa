package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/racegate/core/internal/det"
	"github.com/racegate/core/internal/wire"
)

// handleCrossing routes a locally observed crossing event through the
// start->finish pipeline according to this device's role and state.
func (s *Session) handleCrossing(ctx context.Context, c det.Crossing) {
	local := tCrossLocal(c)

	s.mu.Lock()
	role, state := s.role, s.state
	s.mu.Unlock()

	switch {
	case role == wire.RoleStart && state == StateArmed:
		s.handleStartCrossing(ctx, local)
	case role == wire.RoleFinish && state == StateRunning:
		s.handleFinishCrossing(ctx, local)
	default:
		slog.Debug("session: crossing ignored outside active state", "role", role, "state", state)
	}
}

func (s *Session) handleStartCrossing(ctx context.Context, tStartLocal int64) {
	s.mu.Lock()
	s.tStartLocal = tStartLocal
	s.haveTStart = true
	s.state = StateRunning
	s.mu.Unlock()
	s.notifyState(StateRunning)

	payload, err := json.Marshal(wire.StartEventPayload{TStart: wire.EncodeNanos(tStartLocal)})
	if err != nil {
		slog.Error("session: marshal startEvent", "error", err)
		return
	}
	if err := s.send(ctx, wire.TypeStartEvent, payload); err != nil {
		slog.Warn("session: send startEvent failed", "error", err)
	}
}

func (s *Session) handleFinishCrossing(ctx context.Context, tFinishLocal int64) {
	s.mu.Lock()
	if !s.haveTStart {
		s.mu.Unlock()
		slog.Warn("session: finish crossing without tStartLocal")
		return
	}
	tStartLocal := s.tStartLocal
	splitNanos := tFinishLocal - tStartLocal
	if splitNanos < 0 {
		splitNanos = 0
	}
	uncertaintyMs := s.sync.Status().UncertaintyMs
	s.splitNanos = splitNanos
	s.uncertaintyMs = uncertaintyMs
	if splitNanos == 0 {
		s.resultErr = ErrImplausibleSplit
	} else {
		s.resultErr = nil
	}
	s.state = StateFinished
	s.mu.Unlock()
	s.notifyState(StateFinished)

	payload, err := json.Marshal(wire.FinishResultPayload{
		SplitNanos:    wire.EncodeNanos(splitNanos),
		UncertaintyMs: uncertaintyMs,
	})
	if err != nil {
		slog.Error("session: marshal finishResult", "error", err)
		return
	}
	if err := s.send(ctx, wire.TypeFinishResult, payload); err != nil {
		slog.Warn("session: send finishResult failed", "error", err)
	}
}

// handleStartEvent is the finish device's receipt of startEvent: it stores
// tStartLocal = tStartRemote - offset and transitions to running. A
// startEvent arriving after local finishResult is ignored.
func (s *Session) handleStartEvent(env wire.Envelope) {
	var payload wire.StartEventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		slog.Warn("session: bad startEvent payload", "error", err)
		return
	}
	tStartRemote, err := wire.DecodeNanos(payload.TStart)
	if err != nil {
		slog.Warn("session: bad startEvent tStart", "error", err)
		return
	}

	s.mu.Lock()
	if s.state == StateFinished || s.role != wire.RoleFinish {
		s.mu.Unlock()
		return // ignore startEvent arriving after local finishResult
	}
	s.tStartLocal = s.sync.ConvertRemoteToLocal(tStartRemote, s.offsetNanos)
	s.haveTStart = true
	transitioned := s.state == StateArmed
	if transitioned {
		s.state = StateRunning
	}
	s.mu.Unlock()

	if transitioned {
		s.notifyState(StateRunning)
	}
}

// handleFinishResult stores the broadcast split so both devices display the
// same outcome.
func (s *Session) handleFinishResult(env wire.Envelope) {
	var payload wire.FinishResultPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		slog.Warn("session: bad finishResult payload", "error", err)
		return
	}
	splitNanos, err := wire.DecodeNanos(payload.SplitNanos)
	if err != nil {
		slog.Warn("session: bad finishResult splitNanos", "error", err)
		return
	}

	s.mu.Lock()
	s.splitNanos = splitNanos
	s.uncertaintyMs = payload.UncertaintyMs
	if splitNanos == 0 {
		s.resultErr = ErrImplausibleSplit
	} else {
		s.resultErr = nil
	}
	transitioned := s.state != StateFinished
	s.state = StateFinished
	s.mu.Unlock()

	if transitioned {
		s.notifyState(StateFinished)
	}
}
