// Package app wires the detector, clock synchronizer, and session into the
// single process a host application (cmd/racegate, or a UI embedding this
// module) runs per device: one orchestrator type owning every long-lived
// component, an RWMutex-protected lifecycle flag, and a started timestamp
// for uptime reporting.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/racegate/core/internal/clocksync"
	"github.com/racegate/core/internal/config"
	"github.com/racegate/core/internal/det"
	"github.com/racegate/core/internal/raceid"
	"github.com/racegate/core/internal/session"
	"github.com/racegate/core/internal/transport"
	"github.com/racegate/core/internal/wire"
)

// App is the camera-thread-owned orchestrator: it holds the Detector (never
// touched outside the thread calling IngestFrame) and the Session (which owns
// its own control-loop goroutine, run via Run), keeping the camera thread and
// the session's control thread cleanly separated at the process level.
type App struct {
	cfg       *config.Config
	detector  *det.Detector
	sync      *clocksync.Synchronizer
	transport transport.Transport
	session   *session.Session
	senderID  string

	mu      sync.RWMutex
	started time.Time
	running bool
}

// New constructs an App from a loaded config. The MQTT transport is created
// but not connected; connection happens on CreateRoom/JoinRoom.
func New(cfg *config.Config, cb session.Callbacks) *App {
	clock := clockwork.NewRealClock()
	sync := clocksync.New(clock)
	tr := transport.NewMQTTTransport(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	senderID := raceid.NewSenderID()

	detector := det.New()
	detector.Configure(cfg.DefaultLineX)

	return &App{
		cfg:       cfg,
		detector:  detector,
		sync:      sync,
		transport: tr,
		session:   session.New(tr, sync, senderID, cb),
		senderID:  senderID,
	}
}

// Run starts the session's control-loop goroutine and blocks until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.started = time.Now()
	a.mu.Unlock()

	slog.Info("racegate app starting", "sender_id", a.senderID)

	errCh := make(chan error, 1)
	go func() { errCh <- a.session.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("app: session run: %w", err)
		}
	}

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return nil
}

// CreateRoom/JoinRoom/Arm/Reset/Disconnect/Result delegate to the session,
// the single root of pairing and race-lifecycle state.

func (a *App) CreateRoom(ctx context.Context, role wire.Role) (string, error) {
	return a.session.CreateRoom(ctx, role)
}

func (a *App) JoinRoom(ctx context.Context, code string, role wire.Role) error {
	return a.session.JoinRoom(ctx, code, role)
}

func (a *App) Arm() error { return a.session.Arm() }

func (a *App) Reset() error {
	a.detector.Reset()
	return a.session.Reset()
}

func (a *App) Disconnect() error { return a.session.Disconnect() }

func (a *App) Result() (splitNanos int64, uncertaintyMs float64, err error) {
	return a.session.Result()
}

// StartCalibration/Calibrate are camera-thread-only, exactly like Detector's
// own methods; App adds no synchronization beyond Detector's own contract.

func (a *App) StartCalibration(frame det.Frame) error { return a.detector.StartCalibration(frame) }

func (a *App) Calibrate(frame det.Frame) (bool, error) { return a.detector.Calibrate(frame) }

// IngestFrame is the camera thread's per-frame entry point. It applies any
// pending arm/reset command, runs the frame through Detector, and forwards a
// crossing to the session if one occurred.
func (a *App) IngestFrame(frame det.Frame) (det.Result, error) {
	select {
	case cmd := <-a.session.ConfigOut():
		a.applyConfig(cmd, frame)
	default:
	}

	res, err := a.detector.Process(frame)
	if err != nil {
		return res, err
	}
	if res.Crossed {
		a.session.PushCrossing(det.Crossing{
			TriggerPts:  res.TriggerPts,
			PtsSeconds:  res.PtsSeconds,
			UptimeNanos: res.UptimeNanos,
		})
	}
	return res, nil
}

func (a *App) applyConfig(cmd session.ConfigCommand, frame det.Frame) {
	switch cmd.Action {
	case session.ConfigArm:
		if err := a.detector.Arm(frame); err != nil {
			slog.Warn("app: arm detector failed", "error", err)
		}
	case session.ConfigReset:
		a.detector.Reset()
	}
}

// ExportDebugFrames delegates to the Detector (camera thread only).
func (a *App) ExportDebugFrames(dir string) (det.DebugExport, error) {
	return a.detector.ExportDebugFrames(dir)
}

// Configure updates the gate line fraction (callable in any state).
func (a *App) Configure(lineX float64) { a.detector.Configure(lineX) }
