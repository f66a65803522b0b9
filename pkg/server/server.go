package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// Controller is the set of passes the server triggers.
type Controller interface {
	Plan(ctx context.Context, now time.Time) error
	ConfirmPrices(ctx context.Context, now time.Time) error
	DischargeLeftover(ctx context.Context, now time.Time) error
	RecordLoad(ctx context.Context, now time.Time) error
	Dispatch(ctx context.Context, now time.Time) (int, error)
}

// Server exposes the scheduling passes over HTTP and, optionally, fires them
// from an internal clock. Passes never run concurrently.
type Server struct {
	controller Controller

	listenAddr string
	httpServer *http.Server
	serverName string

	verifier      tokenVerifier
	triggerEmails []string
	bypassAuth    bool

	internalTriggers bool
	dispatchInterval time.Duration
	triggers         []trigger
	now              func() time.Time

	// mu serializes passes
	mu sync.Mutex
}

// Configured initializes the Server for the given controller.
// It uses lflag to register command-line flags for configuration.
func Configured(c Controller) *Server {
	srv := &Server{
		controller: c,
		serverName: "sungrow-scheduler",
		now:        time.Now,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcAudience := lflag.String("oidc-audience", "", "audience to validate trigger id tokens against, empty disables authentication")
	triggerEmails := lflag.String("trigger-emails", "", "comma-delimited list of service account emails allowed to trigger passes")
	internalTriggers := lflag.Bool("internal-triggers", false, "fire the daily passes from an internal clock instead of external requests")
	dispatchInterval := lflag.Duration("dispatch-interval", 30*time.Second, "how often due messages are dispatched, 0 disables the dispatch loop")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *triggerEmails != "" {
			srv.triggerEmails = strings.Split(*triggerEmails, ",")
			for i, email := range srv.triggerEmails {
				srv.triggerEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifier = oidcVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience}))
		} else {
			log.Ctx(context.Background()).Warn("no oidc-audience configured, api requests are not authenticated")
			srv.bypassAuth = true
		}
		srv.internalTriggers = *internalTriggers
		if *dispatchInterval < 0 {
			panic(fmt.Errorf("dispatch-interval must not be negative: %s", *dispatchInterval))
		}
		srv.dispatchInterval = *dispatchInterval
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/schedule", s.passHandler("schedule", s.controller.Plan, "Schedule completed"))
	apiMux.HandleFunc("POST /api/monitorPrices", s.passHandler("monitorPrices", s.controller.ConfirmPrices, "Monitor prices completed"))
	apiMux.HandleFunc("POST /api/dischargeLeftover", s.passHandler("dischargeLeftover", s.controller.DischargeLeftover, "Discharge leftover completed"))
	apiMux.HandleFunc("POST /api/addLoad", s.passHandler("addLoad", s.controller.RecordLoad, "Add load completed"))
	apiMux.HandleFunc("POST /api/dispatch", s.handleDispatch)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// When enabled, the internal triggers and the dispatch loop run alongside it
// and stop with the context.
func (s *Server) Run(ctx context.Context) error {
	if s.internalTriggers {
		c, err := s.newCron(ctx)
		if err != nil {
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "starting internal triggers", slog.Int("count", len(s.triggers)))
		c.Start()
		defer func() {
			<-c.Stop().Done()
		}()
	}

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var wg sync.WaitGroup
	loopCtx, stopLoops := context.WithCancel(ctx)
	defer func() {
		stopLoops()
		wg.Wait()
	}()
	if s.dispatchInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runDispatch(loopCtx)
		}()
	}

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// runPass runs fn under the pass lock with its own invocation id.
func (s *Server) runPass(ctx context.Context, name string, fn func(context.Context, time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = log.Invocation(ctx, name)
	start := s.now()
	log.Ctx(ctx).DebugContext(ctx, "starting pass")
	if err := fn(ctx, start); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "pass failed", slog.Any("error", err))
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "finished pass", slog.Duration("took", s.now().Sub(start)))
	return nil
}

func (s *Server) passHandler(name string, fn func(context.Context, time.Time) error, done string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.runPass(r.Context(), name, fn); err != nil {
			writeJSONError(w, fmt.Sprintf("%s failed", name), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(done)); err != nil {
			panic(http.ErrAbortHandler)
		}
	}
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var handled int
	err := s.runPass(r.Context(), "dispatch", func(ctx context.Context, now time.Time) error {
		var err error
		handled, err = s.controller.Dispatch(ctx, now)
		return err
	})
	if err != nil {
		writeJSONError(w, "dispatch failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(struct {
		Handled int `json:"handled"`
	}{Handled: handled}); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
