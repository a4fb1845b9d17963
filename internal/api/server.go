package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
	"github.com/kjannette/coinflow/internal/store"
)

const maxQueryLimit = 1000

var assetRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,99}$`)

// StoreProvider hands out a scoped store handle per request.
type StoreProvider interface {
	Acquire(ctx context.Context) (store.Store, error)
}

// Trigger starts pipeline runs on demand and reports scheduler state.
type Trigger interface {
	Trigger(reason string) error
	Running() bool
	InFlight() bool
	LastReport() *models.CycleReport
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
	Log        *logger.Entry
}

type Server struct {
	stores     StoreProvider
	trigger    Trigger
	httpServer *http.Server
	apiKey     string
	log        *logger.Entry
}

// NewServer wires the routes. trigger may be nil, in which case POST /v1/runs
// answers 503.
func NewServer(stores StoreProvider, trigger Trigger, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logger.GetLogger().WithComponent("api")
	}
	s := &Server{
		stores:  stores,
		trigger: trigger,
		apiKey:  opts.APIKey,
		log:     log,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.authMiddleware(corsMiddleware(s.routes(), opts.CORSOrigin)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Observation routes
	mux.HandleFunc("GET /v1/observations/latest", s.handleLatest)
	mux.HandleFunc("GET /v1/observations/{asset}", s.handleHistory)
	mux.HandleFunc("GET /v1/stats", s.handleStats)

	// Run routes
	mux.HandleFunc("GET /v1/runs", s.handleRuns)
	mux.HandleFunc("POST /v1/runs", s.handleTriggerRun)
	mux.HandleFunc("GET /v1/stages", s.handleStages)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	s.log.WithFields(logger.Fields{
		"addr": s.httpServer.Addr,
		"auth": s.apiKey != "",
	}).Info("REST API server started")
	if s.apiKey == "" {
		s.log.Warn("API_KEY not set, REST API has no authentication")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// withStore acquires a handle for the duration of fn. A failure to acquire is
// reported as 503.
func (s *Server) withStore(w http.ResponseWriter, r *http.Request, fn func(store.Store)) {
	st, err := s.stores.Acquire(r.Context())
	if err != nil {
		s.log.WithError(err).Error("acquire store")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	defer st.Close()
	fn(st)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func validateAsset(id string) bool {
	return assetRegexp.MatchString(id)
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
