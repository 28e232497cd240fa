package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// StatusResponse is the JSON body of the /status introspection endpoint:
// session state, detector state, and clock sync status, for operator
// visibility. It carries no invariant.
type StatusResponse struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	SessionState  string         `json:"session_state"`
	DetectorState string         `json:"detector_state"`
	Sync          syncStatusView `json:"sync"`
}

type syncStatusView struct {
	IsReady       bool    `json:"is_ready"`
	OffsetNanos   int64   `json:"offset_nanos"`
	UncertaintyMs float64 `json:"uncertainty_ms"`
	Quality       string  `json:"quality"`
}

// StatusHandler serves /status: a JSON snapshot of the three subsystems.
func (a *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	a.mu.RLock()
	uptime := int64(0)
	if a.running {
		uptime = int64(time.Since(a.started).Seconds())
	}
	a.mu.RUnlock()

	status := a.sync.Status()
	resp := StatusResponse{
		UptimeSeconds: uptime,
		SessionState:  a.session.State().String(),
		DetectorState: a.detector.State().String(),
		Sync: syncStatusView{
			IsReady:       status.IsReady,
			OffsetNanos:   status.OffsetNanos,
			UncertaintyMs: status.UncertaintyMs,
			Quality:       string(status.Quality),
		},
	}

	json.NewEncoder(w).Encode(resp)
}

// LivenessHandler handles /health: a bare process-alive check.
func (a *App) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// StartHealthServer starts the HTTP introspection server in a background
// goroutine and returns immediately.
func (a *App) StartHealthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.LivenessHandler)
	mux.HandleFunc("/status", a.StatusHandler)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	return server
}
