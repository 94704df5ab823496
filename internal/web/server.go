// Package web provides the HTTP status and configuration server.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cwi-dis/vrt-sync/internal/regulator"
	"github.com/cwi-dis/vrt-sync/internal/status"
)

// Configurer reads and applies regulator settings. Apply is expected to
// reconfigure the regulator and persist the accepted settings.
type Configurer interface {
	Settings() regulator.Settings
	Apply(s regulator.Settings) error
}

// Server serves the status page and the configuration form over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	configurer Configurer
}

// New creates a Server that reads state from the given tracker and applies
// form submissions through configurer.
func New(addr string, tracker *status.Tracker, configurer Configurer) *Server {
	s := &Server{tracker: tracker, configurer: configurer}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/index.txt", s.handleText)
	mux.HandleFunc("/rssynctool", s.handleConfig)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderIndex(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, status.FormatText(snap))
}

// handleConfig shows the configuration form and applies submitted values.
// All submitted fields are validated before anything changes; one bad field
// rejects the whole request.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	current := s.configurer.Settings()
	next, changed, err := parseSettings(r.Form, current)
	code := http.StatusOK
	if err == nil && changed {
		err = s.configurer.Apply(next)
		if err == nil {
			current = next
		}
	}
	if err != nil {
		code = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	renderConfig(w, configPage{Settings: current, Error: errString(err), Saved: err == nil && changed})
}

// parseSettings overlays submitted form fields on cur. Absent or empty fields
// keep their current value.
func parseSettings(form map[string][]string, cur regulator.Settings) (regulator.Settings, bool, error) {
	next := cur
	changed := false
	get := func(key string) (string, bool) {
		v := strings.TrimSpace(first(form[key]))
		return v, v != ""
	}

	if v, ok := get("syncsource"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cur, false, fmt.Errorf("%w: %q", regulator.ErrInvalidMode, v)
		}
		next.Mode = regulator.Mode(n)
		changed = true
	}
	if v, ok := get("fps_free"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cur, false, fmt.Errorf("%w: %q", regulator.ErrInvalidFPS, v)
		}
		next.FPSFree = f
		changed = true
	}
	if v, ok := get("divider"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cur, false, fmt.Errorf("%w: %q", regulator.ErrInvalidDivider, v)
		}
		next.Divider = n
		changed = true
	}
	if !changed {
		return cur, false, nil
	}
	if err := next.Validate(); err != nil {
		return cur, false, err
	}
	return next, true, nil
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
