// Package webhook is the HTTP front door: it accepts inbound trigger
// webhooks, hands them to the debounce gateway, and exposes a health
// probe, a status endpoint, and a websocket feed of pipeline events for
// operators.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dayuer/convoflow-go/internal/delay"
	"github.com/dayuer/convoflow-go/internal/dispatch"
	"github.com/dayuer/convoflow-go/internal/job"
	"github.com/dayuer/convoflow-go/internal/logging"
)

// Server is the webhook front door.
type Server struct {
	host      string
	port      int
	authToken string

	gateway    *delay.Gateway
	dispatcher *dispatch.Manager

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rps       rate.Limit
	burst     int

	feed      *Feed
	startTime time.Time

	mux *http.ServeMux
	srv *http.Server
}

// Config configures the Server.
type Config struct {
	Host            string
	Port            int
	AuthToken       string
	RateLimitPerSec float64
	RateLimitBurst  int
	Gateway         *delay.Gateway
	Dispatcher      *dispatch.Manager
}

// NewServer creates a front-door server.
func NewServer(cfg Config) *Server {
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 5
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}

	s := &Server{
		host:       cfg.Host,
		port:       cfg.Port,
		authToken:  cfg.AuthToken,
		gateway:    cfg.Gateway,
		dispatcher: cfg.Dispatcher,
		limiters:   make(map[string]*rate.Limiter),
		rps:        rate.Limit(cfg.RateLimitPerSec),
		burst:      cfg.RateLimitBurst,
		feed:       NewFeed(),
		startTime:  time.Now(),
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/hooks/trigger", s.withAuth(s.withRateLimit(s.handleTrigger)))
	s.mux.HandleFunc("/api/status", s.withAuth(s.handleStatus))
	s.mux.HandleFunc("/ws/events", s.withAuth(s.feed.handleWS))

	return s
}

// Feed returns the ops event feed so pipeline components can publish.
func (s *Server) Feed() *Feed { return s.feed }

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.mux,
	}

	logging.L.Infow("webhook server listening",
		logging.FieldScope, "webhook",
		"addr", s.srv.Addr)

	go func() {
		<-ctx.Done()
		s.feed.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Middleware ---

func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+s.authToken {
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		handler(w, r)
	}
}

func (s *Server) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiterFor(clientIP(r)).Allow() {
			writeJSONError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"uptime":      int(time.Since(s.startTime).Seconds()),
		"subscribers": s.feed.Len(),
	}
	if s.dispatcher != nil {
		status["dispatch"] = s.dispatcher.Stats()
	}
	writeJSON(w, status)
}

// handleTrigger validates and debounces one inbound trigger event.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var trigger job.TriggerJob
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ack, err := s.gateway.Submit(r.Context(), trigger)
	if err != nil {
		var verr *job.ValidationError
		if errors.As(err, &verr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error":         "validation failed",
				"missingFields": verr.MissingFields,
			})
			return
		}
		logging.L.Errorw("trigger submission failed",
			logging.FieldScope, "webhook",
			logging.FieldError, err.Error())
		writeJSONError(w, "could not arm debounce window", http.StatusBadGateway)
		return
	}

	s.feed.Publish("trigger_accepted", map[string]any{
		"contact_id": ack.ContactID,
		"request_id": ack.RequestID,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"contactId":        ack.ContactID,
		"requestId":        ack.RequestID,
		"expiresInSeconds": int(ack.ExpiresIn.Seconds()),
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
