// Package diagnostics exposes a runtime's telemetry counters and live
// session snapshot over HTTP, standing in for the out-of-scope desktop UI
// surface the host would otherwise render these through.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/xnote-app/plugin-runtime/pkg/plugin"
)

// Server exposes a runtime's telemetry and session state as JSON.
type Server struct {
	addr    string
	runtime *plugin.Runtime
}

// NewServer builds a diagnostics Server bound to runtime.
func NewServer(addr string, runtime *plugin.Runtime) *Server {
	return &Server{addr: addr, runtime: runtime}
}

// Start runs the HTTP server until ctx is cancelled or ListenAndServe
// fails for a reason other than a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", s.handleTelemetry)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/plugins", s.handlePlugins)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.runtime.TelemetrySnapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.runtime.ActiveSessionsSnapshot())
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	type pluginStatus struct {
		ID      string                `json:"id"`
		State   plugin.PluginState    `json:"state"`
		Metrics plugin.RuntimeMetrics `json:"metrics"`
	}

	ids := s.runtime.List()
	statuses := make([]pluginStatus, 0, len(ids))
	for _, id := range ids {
		state, ok := s.runtime.LifecycleState(id)
		if !ok {
			continue
		}
		metrics, _ := s.runtime.RuntimeMetrics(id)
		statuses = append(statuses, pluginStatus{ID: id, State: state, Metrics: metrics})
	}
	writeJSON(w, statuses)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
