package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"flightlog/internal/catalog"
	"flightlog/internal/session"
)

// Manager is the part of the session manager exposed over HTTP.
type Manager interface {
	Snapshot() session.Snapshot
	Reset() error
}

// Toggler requests a session start/stop. Requests go through the same
// debounced path as the hardware button.
type Toggler interface {
	Fire() bool
}

// SessionLister is optional; nil disables /api/sessions.
type SessionLister interface {
	Sessions(ctx context.Context) ([]catalog.Session, error)
}

var now = time.Now

type Server struct {
	mgr      Manager
	toggle   Toggler
	sessions SessionLister
	logs     *LogBuffer
	bootedAt time.Time
}

func NewServer(mgr Manager, toggle Toggler, sessions SessionLister, logs *LogBuffer) *Server {
	return &Server{mgr: mgr, toggle: toggle, sessions: sessions, logs: logs, bootedAt: now()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, statusFrom(s.mgr.Snapshot(), now(), s.bootedAt))
	})

	mux.HandleFunc("/api/session/toggle", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if s.toggle == nil {
			http.Error(w, "toggle unavailable", http.StatusNotFound)
			return
		}
		if !s.toggle.Fire() {
			http.Error(w, "toggle ignored (debounce)", http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "state": s.mgr.Snapshot().State.String()})
	})

	mux.HandleFunc("/api/session/reset", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if err := s.mgr.Reset(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if s.sessions == nil {
			http.Error(w, "catalog disabled", http.StatusNotFound)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		list, err := s.sessions.Sessions(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]sessionJSON, 0, len(list))
		for _, cs := range list {
			out = append(out, sessionFrom(cs))
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
	})

	if s.logs != nil {
		mux.Handle("/api/logs", s.logs.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		st := statusFrom(s.mgr.Snapshot(), now(), s.bootedAt)
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><meta http-equiv=\"refresh\" content=\"2\"><title>flightlogger</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>flightlogger</h1>")
		_, _ = fmt.Fprintf(w, "<pre>state=%s\nfile=%s\nbytes_written=%d\nlast_error=%s</pre>",
			html.EscapeString(st.State), html.EscapeString(st.Path), st.BytesWritten, html.EscapeString(st.LastError))
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a>.</p></body></html>")
	})

	return mux
}

type sessionJSON struct {
	ID            string  `json:"id"`
	Path          string  `json:"path"`
	State         string  `json:"state"`
	StartedUTC    string  `json:"started_utc"`
	DurationSec   float64 `json:"duration_sec,omitempty"`
	ReferencePa   float64 `json:"reference_pa"`
	BytesWritten  int64   `json:"bytes_written"`
	MotionRecords uint64  `json:"motion_records"`
	BaroRecords   uint64  `json:"baro_records"`
	Error         string  `json:"error,omitempty"`
}

func sessionFrom(cs catalog.Session) sessionJSON {
	return sessionJSON{
		ID:            cs.ID.String(),
		Path:          cs.Path,
		State:         cs.State,
		StartedUTC:    cs.StartedAt.UTC().Format(time.RFC3339),
		DurationSec:   cs.Duration().Seconds(),
		ReferencePa:   cs.ReferencePa,
		BytesWritten:  cs.BytesWritten,
		MotionRecords: cs.MotionRecords,
		BaroRecords:   cs.BaroRecords,
		Error:         cs.Error,
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	if strings.TrimSpace(listenAddr) == "" {
		return errors.New("web: listen address is empty")
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
