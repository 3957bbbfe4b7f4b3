// Package debug serves an optional HTTP endpoint with worker snapshots,
// aggregate progress, a manual rescan trigger and net/http/pprof.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"regionscan/internal/remote"
	"regionscan/internal/task/progress"
	"regionscan/internal/task/worker"
	logx "regionscan/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

// Config controls the server.
//
// A non-loopback Addr requires a Token unless AllowInsecure is set.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
}

// Fleet is what the endpoints read from.
type Fleet interface {
	Get(t remote.Target) (*worker.Worker, bool)
	Snapshot() []worker.Snapshot
	Progress() progress.Aggregate
}

type Server struct {
	cfg    Config
	fleet  Fleet
	rescan func(ctx context.Context) error
	log    logx.Logger
}

// New returns a server. rescan may be nil, which disables POST /rescan.
func New(cfg Config, fleet Fleet, rescan func(ctx context.Context) error, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, fleet: fleet, rescan: rescan, log: log.With(logx.Comp("debug"))}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.auth)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/progress", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.fleet.Progress())
	})
	r.Get("/workers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.fleet.Snapshot())
	})
	r.Get("/workers/{account}/{region}/{service}", s.workerSnapshot)
	r.Post("/rescan", s.triggerRescan)

	r.HandleFunc("/debug/pprof/*", hpprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return r
}

func (s *Server) workerSnapshot(w http.ResponseWriter, r *http.Request) {
	t := remote.Target{
		Account: chi.URLParam(r, "account"),
		Region:  chi.URLParam(r, "region"),
		Service: chi.URLParam(r, "service"),
	}
	wk, ok := s.fleet.Get(t)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown target " + t.Key()})
		return
	}
	writeJSON(w, http.StatusOK, wk.Snapshot())
}

func (s *Server) triggerRescan(w http.ResponseWriter, r *http.Request) {
	if s.rescan == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "rescan disabled"})
		return
	}
	if err := s.rescan(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, s.fleet.Progress())
}

// auth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Server) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run listens and serves until ctx ends. It is meant for supervisor.GoRestart.
func (s *Server) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("debug: refusing non-loopback addr %s without token", addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
