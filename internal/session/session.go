package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/racegate/core/internal/clocksync"
	"github.com/racegate/core/internal/det"
	"github.com/racegate/core/internal/raceid"
	"github.com/racegate/core/internal/transport"
	"github.com/racegate/core/internal/wire"
)

// ConfigAction is a command sent over the SESS->DET channel.
type ConfigAction int

const (
	ConfigArm ConfigAction = iota
	ConfigReset
)

// ConfigCommand is one entry on the session's outbound command channel to
// the camera thread.
type ConfigCommand struct {
	Action ConfigAction
}

// peerState is the per-senderId dedup/session-matching state: each peer's
// sessionId and last-seen sequence number are tracked independently, since a
// joining device has no way to learn the room creator's generated sessionId
// before first contact.
type peerState struct {
	sessionID string
	lastSeq   uint64
}

// Callbacks are optional observer hooks for session-visible side effects.
type Callbacks struct {
	OnConnectionState  func(transport.ConnectionState)
	OnSyncStatus       func(clocksync.Status)
	OnSessionState     func(State)
	OnPartnerConnected func()
}

// Session is the race session coordinator: an RWMutex-protected state block,
// a WaitGroup-tracked background goroutine for the sync burst, and a single
// consumer goroutine draining inbound messages.
type Session struct {
	transport transport.Transport
	sync      *clocksync.Synchronizer
	senderID  string
	cb        Callbacks

	mu            sync.RWMutex
	state         State
	role          wire.Role
	sessionID     string
	channel       string
	ownSeq        uint64
	peers         map[string]*peerState
	partnerConnected bool

	offsetNanos   int64
	tStartLocal   int64
	haveTStart    bool
	splitNanos    int64
	uncertaintyMs float64
	resultErr     error

	inbox     chan []byte
	crossings chan det.Crossing
	configOut chan ConfigCommand

	wg         sync.WaitGroup
	syncCancel context.CancelFunc

	unsubMessage func()
	unsubState   func()
}

// New creates a Session bound to the given transport and clock synchronizer.
// senderID should be generated once at process start (raceid.NewSenderID).
func New(t transport.Transport, sync *clocksync.Synchronizer, senderID string, cb Callbacks) *Session {
	return &Session{
		transport: t,
		sync:      sync,
		senderID:  senderID,
		cb:        cb,
		state:     StateIdle,
		peers:     make(map[string]*peerState),
		inbox:     make(chan []byte, inboxCapacity),
		crossings: make(chan det.Crossing, 1),
		configOut: make(chan ConfigCommand, 1),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ConfigOut returns the command channel for the camera thread to select on.
func (s *Session) ConfigOut() <-chan ConfigCommand {
	return s.configOut
}

// PushCrossing delivers a crossing event from the camera thread. It never
// blocks: a pending, not-yet-consumed crossing is overwritten.
func (s *Session) PushCrossing(c det.Crossing) {
	select {
	case s.crossings <- c:
		return
	default:
	}
	select {
	case <-s.crossings:
	default:
	}
	select {
	case s.crossings <- c:
	default:
	}
}

// CreateRoom generates a fresh room code and session id, connects to the
// broadcast channel, and announces role.
func (s *Session) CreateRoom(ctx context.Context, role wire.Role) (string, error) {
	code, err := raceid.NewRoomCode()
	if err != nil {
		return "", fmt.Errorf("session: create room: %w", err)
	}

	s.mu.Lock()
	s.sessionID = raceid.NewSessionID()
	s.mu.Unlock()

	if err := s.connect(ctx, "race-"+code, role); err != nil {
		return "", err
	}
	return code, nil
}

// JoinRoom uppercases code, connects, and announces role. The joined
// session's sessionId is established per-sender on first contact (see
// peerState) rather than shared up front.
func (s *Session) JoinRoom(ctx context.Context, code string, role wire.Role) error {
	s.mu.Lock()
	s.sessionID = raceid.NewSessionID()
	s.mu.Unlock()

	return s.connect(ctx, "race-"+strings.ToUpper(code), role)
}

func (s *Session) connect(ctx context.Context, channel string, role wire.Role) error {
	s.mu.Lock()
	s.role = role
	s.channel = channel
	s.state = StatePairing
	s.mu.Unlock()
	s.notifyState(StatePairing)

	s.unsubMessage = s.transport.OnMessage(s.onRawMessage)
	s.unsubState = s.transport.OnState(s.onTransportState)

	if err := s.transport.Connect(ctx, channel); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}

	return s.sendRoleConfirm(ctx, wire.TypeRoleConfirm, role)
}

func (s *Session) sendRoleConfirm(ctx context.Context, msgType wire.MessageType, role wire.Role) error {
	payload, err := json.Marshal(wire.RoleConfirmPayload{Role: role})
	if err != nil {
		return fmt.Errorf("session: marshal role confirm: %w", err)
	}
	return s.send(ctx, msgType, payload)
}

// Arm transitions ready->armed and signals the camera thread to arm the
// detector. Called from any state short of ready, it reports the specific
// precondition that is unmet (ErrPartnerMissing / ErrSyncNotReady) rather
// than the generic ErrWrongState, since ready is only reachable once both
// hold.
func (s *Session) Arm() error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.state = StateArmed
		s.mu.Unlock()
		s.notifyState(StateArmed)
		s.pushConfig(ConfigCommand{Action: ConfigArm})
		return nil
	case StateIdle, StatePairing:
		s.mu.Unlock()
		return fmt.Errorf("session: arm: %w", ErrPartnerMissing)
	case StateSyncing:
		s.mu.Unlock()
		return fmt.Errorf("session: arm: %w", ErrSyncNotReady)
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: arm in state %v: %w", state, ErrWrongState)
	}
}

// Reset returns the session to ready, clearing any in-progress race result.
func (s *Session) Reset() error {
	s.mu.Lock()
	s.splitNanos = 0
	s.uncertaintyMs = 0
	s.resultErr = nil
	s.haveTStart = false
	s.state = StateReady
	s.mu.Unlock()
	s.notifyState(StateReady)

	s.pushConfig(ConfigCommand{Action: ConfigReset})
	return nil
}

// Disconnect idempotently leaves the channel, cancels the sync burst, and
// returns to idle.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	wasRunning := s.state == StateRunning
	s.state = StateIdle
	s.partnerConnected = false
	s.peers = make(map[string]*peerState)
	s.mu.Unlock()

	if s.syncCancel != nil {
		s.syncCancel()
	}
	s.wg.Wait()

	if s.unsubMessage != nil {
		s.unsubMessage()
	}
	if s.unsubState != nil {
		s.unsubState()
	}

	if err := s.transport.Disconnect(); err != nil {
		slog.Warn("session: disconnect transport error", "error", err)
	}

	s.pushConfig(ConfigCommand{Action: ConfigReset})
	s.notifyState(StateIdle)

	if wasRunning {
		return ErrAborted
	}
	return nil
}

// Result returns the computed split. It returns ErrImplausibleSplit when the
// split is zero, and ErrWrongState while the session has not finished.
func (s *Session) Result() (splitNanos int64, uncertaintyMs float64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.resultErr != nil {
		return 0, 0, s.resultErr
	}
	if s.state != StateFinished {
		return 0, 0, fmt.Errorf("session: result before finish: %w", ErrWrongState)
	}
	return s.splitNanos, s.uncertaintyMs, nil
}

// Run is the single-threaded control loop: it drains inbound transport
// messages and crossing events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-s.inbox:
			s.handleRaw(raw)
		case c := <-s.crossings:
			s.handleCrossing(ctx, c)
		}
	}
}

func (s *Session) pushConfig(cmd ConfigCommand) {
	select {
	case s.configOut <- cmd:
		return
	default:
	}
	select {
	case <-s.configOut:
	default:
	}
	select {
	case s.configOut <- cmd:
	default:
	}
}

func (s *Session) onRawMessage(raw []byte) {
	select {
	case s.inbox <- raw:
	default:
		slog.Warn("session: inbox full, dropping message")
	}
}

func (s *Session) onTransportState(state transport.ConnectionState) {
	if s.cb.OnConnectionState != nil {
		s.cb.OnConnectionState(state)
	}
}

func (s *Session) notifyState(st State) {
	if s.cb.OnSessionState != nil {
		s.cb.OnSessionState(st)
	}
}

// tCrossLocal converts a crossing's frame-relative PTS into a local uptime
// timestamp.
func tCrossLocal(c det.Crossing) int64 {
	return c.UptimeNanos + int64(math.Round((c.TriggerPts-c.PtsSeconds)*1e9))
}

func (s *Session) send(ctx context.Context, msgType wire.MessageType, payload json.RawMessage) error {
	s.mu.Lock()
	s.ownSeq++
	env := wire.Envelope{
		Type:      msgType,
		SessionID: s.sessionID,
		SenderID:  s.senderID,
		Seq:       s.ownSeq,
		Payload:   payload,
	}
	s.mu.Unlock()

	raw, err := wire.Marshal(env)
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", msgType, err)
	}

	if err := s.transport.Send(ctx, raw); err != nil {
		return fmt.Errorf("session: send %s: %w", msgType, ErrTransportUnavailable)
	}
	return nil
}

// sleepOrCancel sleeps for d unless ctx is cancelled first, returning false
// if cancelled.
func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
