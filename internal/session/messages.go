package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/racegate/core/internal/wire"
)

func (s *Session) handleRaw(raw []byte) {
	env, err := wire.Unmarshal(raw)
	if err != nil {
		slog.Warn("session: dropping malformed message", "error", err)
		return
	}
	if env.SenderID == s.senderID {
		return // our own echo, if the bus loops it back
	}
	if !s.accept(env) {
		return
	}

	ctx := context.Background()
	switch env.Type {
	case wire.TypeSyncPing:
		s.handleSyncPing(ctx, env)
	case wire.TypeSyncPong:
		s.handleSyncPong(env)
	case wire.TypeRoleConfirm:
		s.handleRoleConfirm(ctx, env)
	case wire.TypeStartEvent:
		s.handleStartEvent(env)
	case wire.TypeFinishResult:
		s.handleFinishResult(env)
	case wire.TypeHeartbeat, wire.TypeReady:
		// observational only; no state transition specified for these.
	default:
		slog.Warn("session: unknown message type", "type", env.Type)
	}
}

// accept applies the per-sender session-id/seq dedup rule — see peerState
// doc.
func (s *Session) accept(env wire.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[env.SenderID]
	if !ok {
		s.peers[env.SenderID] = &peerState{sessionID: env.SessionID, lastSeq: env.Seq}
		return true
	}
	if env.SessionID != p.sessionID {
		return false
	}
	if env.Seq <= p.lastSeq {
		return false
	}
	p.lastSeq = env.Seq
	return true
}

func (s *Session) handleRoleConfirm(ctx context.Context, env wire.Envelope) {
	var payload wire.RoleConfirmPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		slog.Warn("session: bad roleConfirm payload", "error", err)
		return
	}

	s.mu.Lock()
	alreadyConnected := s.partnerConnected
	s.partnerConnected = true
	role := s.role
	shouldAdvance := s.state == StatePairing
	if shouldAdvance {
		s.state = StateSyncing
	}
	s.mu.Unlock()

	if !alreadyConnected {
		// Answer the partner's first roleConfirm with our own: a device that
		// joined after our announcement was broadcast never received it.
		if err := s.sendRoleConfirm(ctx, wire.TypeRoleConfirm, role); err != nil {
			slog.Debug("session: reply roleConfirm failed", "error", err)
		}
		if s.cb.OnPartnerConnected != nil {
			s.cb.OnPartnerConnected()
		}
	}
	if shouldAdvance {
		s.notifyState(StateSyncing)
		s.startSyncBurst(ctx)
	}
}
